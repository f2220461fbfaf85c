package cli

import (
	"fmt"
	"os"
	"time"

	"wabot/internal/config"
)

// RunStatus displays the current configuration status with styled output.
func RunStatus(cfg *config.Config) {
	cfgPath := config.ConfigPath()

	fmt.Println()
	fmt.Println(TitleStyle.Render(fmt.Sprintf("  %s wabot Status", Logo)))
	fmt.Println()

	fmt.Printf("  %-12s %s  %s\n", "Config", StatusBadge(fileExists(cfgPath)), DimStyle.Render(cfgPath))
	fmt.Printf("  %-12s %s\n", "Model", cfg.Agent.Model)

	personaName := cfg.Persona.Name
	if personaName == "" {
		personaName = "Maya (built-in)"
	}
	fmt.Printf("  %-12s %s\n", "Persona", personaName)
	fmt.Println()

	fmt.Println("  " + BoldStyle.Render("Providers"))
	providers := []struct {
		name  string
		ready bool
	}{
		{"Anthropic", cfg.Providers.Anthropic.APIKey != ""},
		{"OpenAI", cfg.Providers.OpenAI.APIKey != ""},
		{"OpenRouter", cfg.Providers.OpenRouter.APIKey != ""},
		{"Ollama", cfg.Providers.Ollama.APIBase != ""},
	}
	for _, p := range providers {
		fmt.Printf("    %s  %s\n", StatusBadge(p.ready), p.name)
	}
	fmt.Println()

	fmt.Println("  " + BoldStyle.Render("Channels"))
	fmt.Printf("    %s  WhatsApp", StatusBadge(cfg.Channels.WhatsApp.Enabled))
	if cfg.Channels.WhatsApp.Enabled {
		paired := fileExists(cfg.WhatsAppDBPath())
		if paired {
			fmt.Printf("  %s", DimStyle.Render("(device linked)"))
		} else {
			fmt.Printf("  %s", DimStyle.Render("(not linked, run wabot run to pair)"))
		}
	}
	fmt.Println()
	if n := len(cfg.Channels.WhatsApp.AllowFrom); n > 0 {
		fmt.Printf("       %s\n", DimStyle.Render(fmt.Sprintf("allow-list: %d entries", n)))
	}
	fmt.Println()

	fmt.Println("  " + BoldStyle.Render("Batching"))
	b := cfg.Batching
	fmt.Printf("    %-18s %s\n", "debounce", DimStyle.Render(ms(b.TypingTimeoutMS)+" personal / "+ms(b.GroupMinWaitMS)+" group"))
	fmt.Printf("    %-18s %s\n", "ceiling", DimStyle.Render(ms(b.MaxWaitMS)+" personal / "+ms(b.GroupMaxWaitMS)+" group"))
	fmt.Printf("    %-18s %s\n", "group cap", DimStyle.Render(fmt.Sprintf("%d messages", b.MaxBatchSize)))
	fmt.Println()

	fmt.Println("  " + BoldStyle.Render("Services"))
	fmt.Printf("    %s  Heartbeat", StatusBadge(cfg.Services.Heartbeat.Enabled))
	if cfg.Services.Heartbeat.Enabled {
		fmt.Printf("  %s", DimStyle.Render(fmt.Sprintf("(after %dh silence)", cfg.Services.Heartbeat.SilenceHours)))
	}
	fmt.Println()
	fmt.Printf("    %s  Metrics", StatusBadge(cfg.Services.Metrics.Enabled))
	if cfg.Services.Metrics.Enabled {
		fmt.Printf("  %s", DimStyle.Render("("+cfg.Services.Metrics.Addr+")"))
	}
	fmt.Println()
	fmt.Println()
}

func ms(v int) string {
	return (time.Duration(v) * time.Millisecond).String()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
