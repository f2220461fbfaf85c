package heartbeat

import (
	"context"
	"testing"
	"time"

	"wabot/internal/bus"
	"wabot/internal/session"
)

func TestTickNudgesOnlyQuietPersonalChats(t *testing.T) {
	sessions := session.NewManagerAt(t.TempDir())

	quiet := sessions.GetOrCreate("whatsapp:111@s.whatsapp.net")
	quiet.AddMessage("user", "talk later")
	quiet.UpdatedAt = time.Now().Add(-48 * time.Hour)
	sessions.Save(quiet)

	active := sessions.GetOrCreate("whatsapp:222@s.whatsapp.net")
	active.AddMessage("user", "still here")
	sessions.Save(active)

	group := sessions.GetOrCreate("whatsapp:room@g.us")
	group.AddMessage("user", "group stuff")
	group.UpdatedAt = time.Now().Add(-48 * time.Hour)
	sessions.Save(group)

	b := bus.NewMessageBus()
	var composedFor []string
	svc := NewService(b, sessions, func(_ context.Context, key, _ string) (string, error) {
		composedFor = append(composedFor, key)
		return "hey, how did that thing go?", nil
	}, time.Hour, 24*time.Hour)

	svc.tick(context.Background())

	if len(composedFor) != 1 || composedFor[0] != "whatsapp:111@s.whatsapp.net" {
		t.Fatalf("composed for %v, want only the quiet personal chat", composedFor)
	}

	select {
	case out := <-b.Outbound:
		if out.ChatID != "111@s.whatsapp.net" {
			t.Errorf("opener sent to %q", out.ChatID)
		}
		if out.Content != "hey, how did that thing go?" {
			t.Errorf("opener content = %q", out.Content)
		}
	default:
		t.Fatal("no opener published")
	}
}

func TestEligibleSkipsForeignKeys(t *testing.T) {
	svc := NewService(bus.NewMessageBus(), session.NewManagerAt(t.TempDir()), nil, time.Hour, time.Hour)

	old := time.Now().Add(-2 * time.Hour)
	if svc.eligible(session.Info{Key: "cli:direct", UpdatedAt: old}) {
		t.Error("cli session marked eligible")
	}
	if svc.eligible(session.Info{Key: "whatsapp:room@g.us", UpdatedAt: old}) {
		t.Error("group session marked eligible")
	}
	if !svc.eligible(session.Info{Key: "whatsapp:111@s.whatsapp.net", UpdatedAt: old}) {
		t.Error("quiet personal session not eligible")
	}
}
