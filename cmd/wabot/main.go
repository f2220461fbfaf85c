package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"wabot/internal/agent"
	"wabot/internal/batch"
	"wabot/internal/bus"
	"wabot/internal/channel"
	"wabot/internal/cli"
	"wabot/internal/config"
	"wabot/internal/heartbeat"
	"wabot/internal/llm"
	"wabot/internal/logging"
	"wabot/internal/metrics"
	"wabot/internal/persona"
	"wabot/internal/session"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "run":
		cmdRun()
	case "chat":
		cmdChat()
	case "status":
		cmdStatus()
	case "onboard":
		cli.RunOnboard()
	case "version", "--version", "-v":
		fmt.Println(cli.TitleStyle.Render(
			fmt.Sprintf("  %s wabot v%s", cli.Logo, cli.Version),
		))
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	dim := cli.DimStyle.Render
	fmt.Println()
	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("  %s wabot", cli.Logo)) + dim(" — Conversational WhatsApp Bot"))
	fmt.Println()
	fmt.Println("  " + cli.BoldStyle.Render("Usage"))
	fmt.Println()
	fmt.Printf("    wabot %-14s %s\n", "run", dim("Start the bot"))
	fmt.Printf("    wabot %-14s %s\n", "chat", dim("Talk to the persona locally"))
	fmt.Printf("    wabot %-14s %s\n", "chat -m \"…\"", dim("Single message"))
	fmt.Printf("    wabot %-14s %s\n", "status", dim("Show configuration"))
	fmt.Printf("    wabot %-14s %s\n", "onboard", dim("Initialize setup"))
	fmt.Printf("    wabot %-14s %s\n", "version", dim("Show version"))
	fmt.Println()
}

// dispatcher bridges the batch engine to the WhatsApp transport and the
// reply loop. Typing and read receipts are skipped when WhatsApp is off.
type dispatcher struct {
	wa   *channel.WhatsApp
	loop *agent.Loop
}

func (d *dispatcher) ShowTyping(ctx context.Context, chatID string) {
	if d.wa != nil {
		d.wa.ShowTyping(ctx, chatID)
	}
}

func (d *dispatcher) MarkRead(ctx context.Context, chatID, senderID string, messageIDs []string) {
	if d.wa != nil {
		d.wa.MarkRead(ctx, chatID, senderID, messageIDs)
	}
}

func (d *dispatcher) DispatchTurn(ctx context.Context, msg *batch.TurnMessage) error {
	return d.loop.ProcessTurn(ctx, msg)
}

// --- run command ---

func cmdRun() {
	cfg := mustLoadConfig()
	provider := mustMakeProvider(cfg)
	logging.Setup(false, true)

	msgBus := bus.NewMessageBus()
	sessions := session.NewManager()
	loop := agent.NewLoop(agent.LoopConfig{
		Bus:          msgBus,
		Provider:     provider,
		Persona:      mustLoadPersona(cfg),
		Sessions:     sessions,
		Model:        cfg.Agent.Model,
		MaxTokens:    cfg.Agent.MaxTokens,
		Temperature:  cfg.Agent.Temperature,
		MemoryWindow: cfg.Agent.MemoryWindow,
	})

	fmt.Println()
	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("  %s wabot", cli.Logo)))
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wa *channel.WhatsApp
	if cfg.Channels.WhatsApp.Enabled {
		wa = channel.NewWhatsApp(msgBus, cfg.WhatsAppDBPath(), cfg.Channels.WhatsApp.AllowFrom)
		msgBus.Subscribe("whatsapp", func(ctx context.Context, msg *bus.OutboundMessage) error {
			return wa.Send(ctx, msg)
		})
		fmt.Println("  " + cli.OkStyle.Render("✓") + " WhatsApp")
	} else {
		fmt.Println("  " + cli.DimStyle.Render("✗") + " WhatsApp " + cli.DimStyle.Render("(not enabled)"))
	}

	eng := batch.New(cfg.Batching.ToBatch(), &dispatcher{wa: wa, loop: loop})

	go msgBus.DispatchOutbound(ctx)
	go eng.Run(ctx, msgBus)

	if wa != nil {
		if err := wa.Start(ctx); err != nil {
			fmt.Fprintln(os.Stderr, cli.ErrStyle.Render("  Error: "+err.Error()))
			os.Exit(1)
		}
	}

	if cfg.Services.Heartbeat.Enabled {
		hb := heartbeat.NewService(msgBus, sessions, loop.Compose,
			time.Duration(cfg.Services.Heartbeat.IntervalS)*time.Second,
			time.Duration(cfg.Services.Heartbeat.SilenceHours)*time.Hour)
		go hb.Run(ctx)
		fmt.Println("  " + cli.OkStyle.Render("✓") + " Heartbeat")
	}

	if cfg.Services.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Services.Metrics.Addr, Handler: metrics.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		fmt.Println("  " + cli.OkStyle.Render("✓") + " Metrics " + cli.DimStyle.Render("("+cfg.Services.Metrics.Addr+")"))
	}

	fmt.Println()
	fmt.Println(cli.DimStyle.Render("  Press Ctrl+C to stop"))
	<-ctx.Done()
	fmt.Println("\n  Shutting down...")
	if wa != nil {
		wa.Stop()
	}
	eng.Shutdown()
}

// --- chat command ---

func cmdChat() {
	cfg := mustLoadConfig()
	provider := mustMakeProvider(cfg)
	redirectLogs()

	p := mustLoadPersona(cfg)
	loop := agent.NewLoop(agent.LoopConfig{
		Bus:          bus.NewMessageBus(),
		Provider:     provider,
		Persona:      p,
		Model:        cfg.Agent.Model,
		MaxTokens:    cfg.Agent.MaxTokens,
		Temperature:  cfg.Agent.Temperature,
		MemoryWindow: cfg.Agent.MemoryWindow,
	})

	chatCfg := cli.ChatConfig{Model: cfg.Agent.Model, Persona: p.Name}

	// Check for -m flag
	message := ""
	for i := 2; i < len(os.Args); i++ {
		if (os.Args[i] == "-m" || os.Args[i] == "--message") && i+1 < len(os.Args) {
			message = os.Args[i+1]
			break
		}
	}

	ctx := context.Background()

	if message != "" {
		if err := cli.RunSingleMessage(loop, ctx, chatCfg, message); err != nil {
			os.Exit(1)
		}
	} else {
		if err := cli.RunChat(loop, ctx, chatCfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}
}

// --- status command ---

func cmdStatus() {
	cfg, _ := config.Load()
	cli.RunStatus(cfg)
}

// --- helpers ---

func redirectLogs() {
	logPath := filepath.Join(config.DataDir(), "wabot.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", err)
	}
	return cfg
}

func mustLoadPersona(cfg *config.Config) *persona.Persona {
	if cfg.Persona.File == "" {
		p := persona.Default()
		if cfg.Persona.Name != "" {
			p.Name = cfg.Persona.Name
		}
		return p
	}
	p, err := persona.LoadFile(cfg.Persona.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrStyle.Render("  Error: persona file: "+err.Error()))
		os.Exit(1)
	}
	return p
}

func mustMakeProvider(cfg *config.Config) llm.Provider {
	match := cfg.GetProvider()
	if match == nil {
		fmt.Println()
		fmt.Println(cli.ErrStyle.Render("  Error: No API key configured"))
		fmt.Println(cli.DimStyle.Render("  Set one in ~/.wabot/config.json under providers, or export ANTHROPIC_API_KEY"))
		fmt.Println()
		os.Exit(1)
	}

	p, err := llm.New(match.Name, match.Config.APIKey, match.Config.APIBase, cfg.Agent.Model)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrStyle.Render("  Error: "+err.Error()))
		os.Exit(1)
	}
	return p
}
