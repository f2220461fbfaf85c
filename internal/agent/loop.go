// Package agent turns finished message batches into persona replies: it
// sanitizes input, builds the prompt from session history, calls the LLM and
// publishes the reply on the bus.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"wabot/internal/batch"
	"wabot/internal/bus"
	"wabot/internal/llm"
	"wabot/internal/persona"
	"wabot/internal/session"
)

// Loop is the turn processor behind the batching engine.
type Loop struct {
	bus          *bus.MessageBus
	provider     llm.Provider
	persona      *persona.Persona
	model        string
	maxTokens    int
	temperature  float64
	memoryWindow int

	context  *ContextBuilder
	sessions *session.Manager
}

// LoopConfig holds configuration for creating a turn processor.
type LoopConfig struct {
	Bus          *bus.MessageBus
	Provider     llm.Provider
	Persona      *persona.Persona
	Sessions     *session.Manager
	Model        string
	MaxTokens    int
	Temperature  float64
	MemoryWindow int
}

// NewLoop creates a turn processor.
func NewLoop(cfg LoopConfig) *Loop {
	p := cfg.Persona
	if p == nil {
		p = persona.Default()
	}
	model := cfg.Model
	if model == "" {
		model = cfg.Provider.DefaultModel()
	}
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = 50
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = session.NewManager()
	}
	return &Loop{
		bus:          cfg.Bus,
		provider:     cfg.Provider,
		persona:      p,
		model:        model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		memoryWindow: cfg.MemoryWindow,
		context:      NewContextBuilder(p),
		sessions:     sessions,
	}
}

// ProcessTurn handles one annotated message from a drained batch. Every
// message is recorded in the session; the reply is generated once, on the
// batch's final message, over the accumulated history.
func (l *Loop) ProcessTurn(ctx context.Context, t *batch.TurnMessage) error {
	cleaned, injection := Sanitize(t.Content)
	if injection {
		// Injections are dropped without a reply and without polluting the
		// history.
		slog.Warn("dropping injection attempt", "chat", t.ChatID, "sender", t.SenderID, "preview", truncate(t.Content, 80))
		return nil
	}
	if strings.TrimSpace(cleaned) == "" {
		return nil
	}

	sess := l.sessions.GetOrCreate(t.SessionKey())
	sender := ""
	if t.Batch.Kind == batch.KindGroup {
		sender = senderLabel(t)
	}
	sess.AddFrom("user", sender, cleaned)

	// Intermediate burst messages only accumulate; the reply comes with the
	// last one. Raw turns without batch metadata reply immediately.
	if t.Batch.Total > 1 && !t.Batch.IsLast {
		l.sessions.Save(sess)
		return nil
	}

	slog.Info("generating reply", "chat", t.ChatID, "history", len(sess.Messages), "preview", truncate(cleaned, 80))

	resp, err := l.provider.Chat(ctx, llm.ChatRequest{
		Messages:    l.context.BuildMessages(t, sess.History(l.memoryWindow)),
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	})
	if err != nil {
		l.sessions.Save(sess)
		return fmt.Errorf("llm call: %w", err)
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		l.sessions.Save(sess)
		return fmt.Errorf("empty reply from provider")
	}

	if checked, broke := l.persona.CheckReply(reply); broke {
		slog.Warn("reply broke character, substituting fallback", "chat", t.ChatID, "reply", truncate(reply, 120))
		reply = checked
	}

	sess.AddMessage("assistant", reply)
	if err := l.sessions.Save(sess); err != nil {
		slog.Error("saving session", "key", sess.Key, "err", err)
	}

	slog.Info("reply", "chat", t.ChatID, "reply", truncate(reply, 120))
	l.bus.PublishOutbound(&bus.OutboundMessage{
		Channel:  t.Channel,
		ChatID:   t.ChatID,
		Content:  reply,
		Metadata: t.Metadata,
	})
	return nil
}

// ProcessDirect generates a reply for a plain message, for CLI usage.
func (l *Loop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	msg := &bus.InboundMessage{
		Channel:  "cli",
		ChatID:   "direct",
		SenderID: "user",
		Content:  content,
	}
	if i := strings.Index(sessionKey, ":"); i >= 0 {
		msg.Channel = sessionKey[:i]
		msg.ChatID = sessionKey[i+1:]
	}

	t := &batch.TurnMessage{InboundMessage: msg}

	cleaned, injection := Sanitize(content)
	if injection {
		reply, _ := l.persona.CheckReply("as an ai")
		return reply, nil
	}

	sess := l.sessions.GetOrCreate(msg.SessionKey())
	sess.AddMessage("user", cleaned)

	resp, err := l.provider.Chat(ctx, llm.ChatRequest{
		Messages:    l.context.BuildMessages(t, sess.History(l.memoryWindow)),
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	})
	if err != nil {
		return "", err
	}

	reply, _ := l.persona.CheckReply(strings.TrimSpace(resp.Content))
	sess.AddMessage("assistant", reply)
	l.sessions.Save(sess)
	return reply, nil
}

// Sessions exposes the session manager for services sharing the store.
func (l *Loop) Sessions() *session.Manager {
	return l.sessions
}

// Persona returns the active persona.
func (l *Loop) Persona() *persona.Persona {
	return l.persona
}

// Compose generates a free-form message in character, outside any incoming
// turn. Used by the re-engagement service.
func (l *Loop) Compose(ctx context.Context, sessionKey, instruction string) (string, error) {
	sess := l.sessions.GetOrCreate(sessionKey)

	messages := []llm.Message{{Role: "system", Content: l.context.BuildSystemPrompt(nil)}}
	messages = append(messages, sess.History(l.memoryWindow)...)
	messages = append(messages, llm.Message{Role: "system", Content: instruction})

	resp, err := l.provider.Chat(ctx, llm.ChatRequest{
		Messages:    messages,
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	})
	if err != nil {
		return "", err
	}

	reply, _ := l.persona.CheckReply(strings.TrimSpace(resp.Content))
	if reply == "" {
		return "", fmt.Errorf("empty reply from provider")
	}

	sess.AddMessage("assistant", reply)
	l.sessions.Save(sess)
	return reply, nil
}

func senderLabel(t *batch.TurnMessage) string {
	if t.PushName != "" {
		return t.PushName
	}
	if i := strings.Index(t.SenderID, "@"); i > 0 {
		return t.SenderID[:i]
	}
	return t.SenderID
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
