package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wabot/internal/bus"
)

// groupCoordinator runs the multi-participant policy: longer windows, a hard
// size cap, and one typing timer per participant so that a single fast sender
// cannot hold the batch while the rest of the room stays quiet.
type groupCoordinator struct {
	chatID string
	eng    *Engine

	mu        sync.Mutex
	timers    *timerSet
	msgs      []*bus.InboundMessage
	senders   map[string]*senderState
	startedAt time.Time
	phase     phase
	retired   bool
}

// senderState is per-participant bookkeeping inside one group batch.
type senderState struct {
	typing       bool
	lastTypingAt time.Time
	messageCount int
}

func newGroupCoordinator(eng *Engine, chatID string) *groupCoordinator {
	return &groupCoordinator{
		chatID:  chatID,
		eng:     eng,
		timers:  newTimerSet(),
		senders: make(map[string]*senderState),
	}
}

func (c *groupCoordinator) sender(id string) *senderState {
	s, ok := c.senders[id]
	if !ok {
		s = &senderState{}
		c.senders[id] = s
	}
	return s
}

// onMessage appends msg to the batch. It reports false when the coordinator
// already retired; the message then belongs to the engine again.
func (c *groupCoordinator) onMessage(msg *bus.InboundMessage) bool {
	cfg := c.eng.cfg

	c.mu.Lock()
	if c.retired {
		c.mu.Unlock()
		return false
	}
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
	s := c.sender(msg.SenderID)
	s.typing = false
	s.messageCount++
	c.timers.Cancel(roleTyping(msg.SenderID))
	c.msgs = append(c.msgs, msg)

	if c.phase != phaseCollecting {
		c.mu.Unlock()
		return true
	}

	if cfg.MaxBatchSize > 0 && len(c.msgs) >= cfg.MaxBatchSize {
		// Cap reached: commit now, before any further event can slip in.
		slog.Debug("group batch hit size cap", "chat", c.chatID, "size", len(c.msgs))
		c.drainLocked()
		return true
	}

	wait := cfg.GroupMinWait
	if c.eng.tracker.AnyoneTyping(c.chatID) {
		wait = cfg.GroupMaxWait
	}
	c.timers.Rearm(roleMessage, wait, c.tryDrain)
	c.mu.Unlock()
	return true
}

func (c *groupCoordinator) onPresence(senderID string, status bus.PresenceStatus) {
	cfg := c.eng.cfg

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseCollecting || len(c.msgs) == 0 {
		return
	}

	switch status {
	case bus.PresenceComposing, bus.PresenceRecording:
		s := c.sender(senderID)
		s.typing = true
		s.lastTypingAt = time.Now()
		c.timers.Cancel(roleTyping(senderID))
		// Someone is composing, so stretch the quiet period out to the
		// group ceiling.
		c.timers.Rearm(roleMessage, cfg.GroupMaxWait, c.tryDrain)
	case bus.PresenceAvailable:
		c.sender(senderID).typing = false
		id := senderID
		c.timers.Rearm(roleTyping(senderID), cfg.GroupTypingTimeout, func() { c.senderQuiet(id) })
	}
}

// senderQuiet fires when a participant stopped typing and stayed quiet for
// the per-sender timeout. If nobody else is composing either, the room has
// settled and the batch drains.
func (c *groupCoordinator) senderQuiet(senderID string) {
	c.mu.Lock()
	if c.phase != phaseCollecting || len(c.msgs) == 0 {
		c.mu.Unlock()
		return
	}
	if c.eng.tracker.AnyoneTyping(c.chatID) {
		c.mu.Unlock()
		return
	}
	slog.Debug("group settled after sender went quiet", "chat", c.chatID, "sender", senderID)
	c.drainLocked()
}

func (c *groupCoordinator) tryDrain() {
	c.mu.Lock()
	if c.phase != phaseCollecting || len(c.msgs) == 0 {
		c.mu.Unlock()
		return
	}
	c.drainLocked()
}

// drainLocked commits the batch. Caller holds c.mu; the commit happens under
// the lock, then dispatch runs on its own goroutine. The cap path arrives
// here on the engine's event loop, which must not stall behind pacing and
// model calls while every other chat waits.
func (c *groupCoordinator) drainLocked() {
	c.phase = phaseDispatching
	c.timers.CancelAll()
	snapshot := make([]*bus.InboundMessage, len(c.msgs))
	copy(snapshot, c.msgs)
	c.mu.Unlock()

	go func() {
		defer c.eng.finishGroup(c, len(snapshot))
		c.eng.proc.Process(context.Background(), KindGroup, c.chatID, snapshot)
	}()
}

// leftoverAndShutdown retires the coordinator, stops its timers, and returns
// any messages that arrived after the drain snapshot. From here on onMessage
// rejects appends; nothing drains this instance again.
func (c *groupCoordinator) leftoverAndShutdown(taken int) []*bus.InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retired = true
	c.timers.Shutdown()
	if taken >= len(c.msgs) {
		return nil
	}
	leftover := make([]*bus.InboundMessage, len(c.msgs)-taken)
	copy(leftover, c.msgs[taken:])
	slog.Debug("messages arrived during dispatch, reseeding", "chat", c.chatID, "count", len(leftover))
	return leftover
}
