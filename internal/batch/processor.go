package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"wabot/internal/bus"
	"wabot/internal/metrics"
)

// Dispatcher is what the engine needs from the outside world: transport side
// effects and the downstream turn processor. ShowTyping and MarkRead are
// best-effort; implementations log failures and move on.
type Dispatcher interface {
	ShowTyping(ctx context.Context, chatID string)
	MarkRead(ctx context.Context, chatID, senderID string, messageIDs []string)
	DispatchTurn(ctx context.Context, msg *TurnMessage) error
}

// Processor drains a finished batch: it annotates each message with batch
// metadata and dispatches them to the turn processor one at a time, in
// arrival order, with a short pacing delay so replies do not burst out.
type Processor struct {
	disp   Dispatcher
	pacing time.Duration
}

// NewProcessor creates a processor dispatching through disp.
func NewProcessor(disp Dispatcher, pacing time.Duration) *Processor {
	return &Processor{disp: disp, pacing: pacing}
}

// Process dispatches a drained batch. A failing turn is logged and the batch
// continues with the next message; only a failure while assembling the batch
// itself degrades to raw individual dispatch without metadata.
func (p *Processor) Process(ctx context.Context, kind Kind, chatID string, msgs []*bus.InboundMessage) {
	if len(msgs) == 0 {
		return
	}

	turns, err := p.assemble(ctx, kind, msgs)
	if err != nil {
		slog.Error("batch assembly failed, dispatching messages individually", "chat", chatID, "err", err)
		p.fallback(ctx, msgs)
		return
	}

	metrics.BatchesDrained.WithLabelValues(string(kind)).Inc()
	metrics.BatchSize.WithLabelValues(string(kind)).Observe(float64(len(msgs)))
	if !msgs[0].Timestamp.IsZero() {
		metrics.BatchWaitSeconds.WithLabelValues(string(kind)).Observe(time.Since(msgs[0].Timestamp).Seconds())
	}
	slog.Info("draining batch", "chat", chatID, "kind", string(kind), "size", len(msgs), "batch", turns[0].Batch.BatchID)

	for i, t := range turns {
		if err := p.disp.DispatchTurn(ctx, t); err != nil {
			metrics.DispatchFailures.Inc()
			slog.Error("turn dispatch failed, continuing batch", "chat", chatID, "position", t.Batch.Position, "err", err)
		}
		if i < len(turns)-1 {
			time.Sleep(p.pacing)
		}
	}
}

// assemble builds the annotated turn sequence and marks each message read.
// Read receipts are best-effort and never fail the batch.
func (p *Processor) assemble(ctx context.Context, kind Kind, msgs []*bus.InboundMessage) (turns []*TurnMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("assemble batch: %v", r)
		}
	}()

	batchID := uuid.NewString()
	for i, m := range msgs {
		p.disp.MarkRead(ctx, m.ChatID, m.SenderID, []string{m.MessageID})
		turns = append(turns, &TurnMessage{
			InboundMessage: m,
			Batch: Metadata{
				BatchID:  batchID,
				Kind:     kind,
				Position: i + 1,
				Total:    len(msgs),
				IsFirst:  i == 0,
				IsLast:   i == len(msgs)-1,
				Siblings: siblingSummaries(msgs, i),
			},
		})
	}
	return turns, nil
}

// fallback dispatches every raw message without batch metadata. Last resort
// when assembly itself failed; a missed annotation beats a dropped message.
func (p *Processor) fallback(ctx context.Context, msgs []*bus.InboundMessage) {
	for i, m := range msgs {
		if err := p.disp.DispatchTurn(ctx, &TurnMessage{InboundMessage: m}); err != nil {
			metrics.DispatchFailures.Inc()
			slog.Error("fallback dispatch failed", "chat", m.ChatID, "err", err)
		}
		if i < len(msgs)-1 {
			time.Sleep(p.pacing)
		}
	}
}

func siblingSummaries(msgs []*bus.InboundMessage, self int) []string {
	var out []string
	for i, m := range msgs {
		if i == self {
			continue
		}
		out = append(out, summarize(m.Content, 80))
	}
	return out
}

func summarize(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "…"
}
