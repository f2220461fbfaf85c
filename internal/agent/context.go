package agent

import (
	"fmt"
	"strings"
	"time"

	"wabot/internal/batch"
	"wabot/internal/llm"
	"wabot/internal/persona"
)

// ContextBuilder assembles the system prompt and message list for a reply.
type ContextBuilder struct {
	persona *persona.Persona
}

// NewContextBuilder creates a context builder speaking as p.
func NewContextBuilder(p *persona.Persona) *ContextBuilder {
	return &ContextBuilder{persona: p}
}

// BuildSystemPrompt constructs the full system prompt for one turn. The
// batch section tells the model the user sent a burst, so it answers once
// and naturally instead of replying point by point.
func (c *ContextBuilder) BuildSystemPrompt(t *batch.TurnMessage) string {
	var sb strings.Builder
	sb.WriteString(c.persona.SystemPrompt())

	sb.WriteString("\n\n## Current Session\n")
	sb.WriteString(fmt.Sprintf("Time: %s\n", time.Now().Format("2006-01-02 15:04 (Monday)")))
	if t != nil {
		sb.WriteString(fmt.Sprintf("Channel: %s\nChat: %s\n", t.Channel, t.ChatID))
		if t.Batch.Kind == batch.KindGroup {
			sb.WriteString("This is a group chat. Only reply when you have something to add; address people by name when it helps.\n")
		}
	}

	if t != nil && t.Batch.Total > 1 {
		sb.WriteString(fmt.Sprintf("\n## Incoming Burst\nThe user sent %d messages in quick succession. You have all of them in the history. Respond with ONE natural reply covering the whole burst; do not answer each message separately.\n", t.Batch.Total))
	}

	sb.WriteString("\nKeep replies short, like a real text message. One to three sentences unless the conversation truly needs more.")
	return sb.String()
}

// BuildMessages constructs the complete message list for an LLM call.
func (c *ContextBuilder) BuildMessages(t *batch.TurnMessage, history []llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: c.BuildSystemPrompt(t)})
	messages = append(messages, history...)
	return messages
}
