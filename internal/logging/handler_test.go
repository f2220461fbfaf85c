package logging

import (
	"log/slog"
	"strings"
	"testing"
)

func TestHandlerRendersChatTextAsBlock(t *testing.T) {
	var sb strings.Builder
	logger := slog.New(NewHandler(&sb, &Options{Level: slog.LevelInfo}))

	logger.Info("reply sent", "chat", "111@s.whatsapp.net", "reply", "line one\nline two")

	out := sb.String()
	if !strings.Contains(out, "INF reply sent chat=111@s.whatsapp.net") {
		t.Errorf("missing inline attrs in %q", out)
	}
	if !strings.Contains(out, "| line one") || !strings.Contains(out, "| line two") {
		t.Errorf("reply not rendered as an indented block in %q", out)
	}
	if strings.Contains(out, "reply=") {
		t.Errorf("reply leaked inline in %q", out)
	}
}

func TestHandlerLevelFilter(t *testing.T) {
	var sb strings.Builder
	logger := slog.New(NewHandler(&sb, &Options{Level: slog.LevelInfo}))

	logger.Debug("noise")
	if sb.Len() != 0 {
		t.Errorf("debug record written below the configured level: %q", sb.String())
	}
}

func TestHandlerWithAttrsCarriesContext(t *testing.T) {
	var sb strings.Builder
	logger := slog.New(NewHandler(&sb, &Options{Level: slog.LevelInfo})).With("chat", "room@g.us")

	logger.Info("batch drained", "size", 3)

	out := sb.String()
	if !strings.Contains(out, "chat=room@g.us") || !strings.Contains(out, "size=3") {
		t.Errorf("missing attrs in %q", out)
	}
}
