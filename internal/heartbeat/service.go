// Package heartbeat re-engages chats that went quiet: on each tick it scans
// session recency and has the persona send one opener to chats silent longer
// than the configured window.
package heartbeat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"wabot/internal/bus"
	"wabot/internal/session"
)

// DefaultInterval is the default scan interval.
const DefaultInterval = 30 * time.Minute

const openerInstruction = `The conversation above went quiet a while ago. Send one short, natural message to pick it back up: reference something from the conversation if it fits, or just check in the way a friend would. One message only.`

// Composer generates an in-character message for a session.
type Composer func(ctx context.Context, sessionKey, instruction string) (string, error)

// Service is the periodic re-engagement loop.
type Service struct {
	bus      *bus.MessageBus
	sessions *session.Manager
	compose  Composer
	interval time.Duration
	silence  time.Duration
}

// NewService creates a re-engagement service. silence is how long a chat
// must be quiet before it gets an opener.
func NewService(b *bus.MessageBus, sessions *session.Manager, compose Composer, interval, silence time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if silence <= 0 {
		silence = 24 * time.Hour
	}
	return &Service{
		bus:      b,
		sessions: sessions,
		compose:  compose,
		interval: interval,
		silence:  silence,
	}
}

// Run starts the loop. It blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	slog.Info("re-engagement started", "interval", s.interval, "silence", s.silence)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("re-engagement stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	for _, info := range s.sessions.List() {
		if !s.eligible(info) {
			continue
		}
		s.nudge(ctx, info.Key)
	}
}

// eligible filters to quiet 1:1 WhatsApp chats. Groups are never nudged;
// unsolicited bot messages in a room are noise.
func (s *Service) eligible(info session.Info) bool {
	if !strings.HasPrefix(info.Key, "whatsapp:") {
		return false
	}
	if strings.HasSuffix(info.Key, "@g.us") {
		return false
	}
	if info.UpdatedAt.IsZero() {
		return false
	}
	return time.Since(info.UpdatedAt) > s.silence
}

func (s *Service) nudge(ctx context.Context, key string) {
	chatID := strings.TrimPrefix(key, "whatsapp:")
	slog.Info("re-engaging quiet chat", "chat", chatID)

	opener, err := s.compose(ctx, key, openerInstruction)
	if err != nil {
		slog.Error("composing opener", "chat", chatID, "err", err)
		return
	}

	// Compose records the opener in the session, so the chat's UpdatedAt
	// moves forward and it will not be nudged again until the next silence.
	s.bus.PublishOutbound(&bus.OutboundMessage{
		Channel: "whatsapp",
		ChatID:  chatID,
		Content: opener,
	})
}
