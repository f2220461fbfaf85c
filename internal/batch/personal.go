package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wabot/internal/bus"
)

// personalCoordinator runs the 1:1 chat policy: a single peer whose typing
// state debounces the batch. One instance exists per chat while a batch is
// open; it is discarded after its drain completes.
//
// Timer policy per message:
//   - peer typing:      fallback timer (fires only if "stopped typing" never arrives)
//   - peer not typing:  message timeout of max(TypingTimeout, MinWait)
//   - always:           ceiling re-armed with the time remaining until MaxWait,
//     so the batch terminates even if typing events keep resetting the debounce
//   - always:           delayed typing-indicator side effect
type personalCoordinator struct {
	chatID string
	eng    *Engine

	mu        sync.Mutex
	timers    *timerSet
	msgs      []*bus.InboundMessage
	startedAt time.Time
	phase     phase
	retired   bool
}

func newPersonalCoordinator(eng *Engine, chatID string) *personalCoordinator {
	return &personalCoordinator{
		chatID: chatID,
		eng:    eng,
		timers: newTimerSet(),
	}
}

// onMessage appends msg to the batch. It reports false when the coordinator
// already retired; the message then belongs to the engine again.
func (c *personalCoordinator) onMessage(msg *bus.InboundMessage) bool {
	cfg := c.eng.cfg

	c.mu.Lock()
	if c.retired {
		c.mu.Unlock()
		return false
	}
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
	c.msgs = append(c.msgs, msg)
	c.timers.Cancel(roleMessage)
	c.timers.Cancel(roleFallback)
	c.timers.Cancel(roleCeiling)

	if c.phase != phaseCollecting {
		// Drain already committed: the message rides along in the grace
		// window, or seeds the next batch if the snapshot is taken. Either
		// way the debounce clock does not restart.
		c.mu.Unlock()
		return true
	}

	if c.eng.tracker.AnyoneTyping(c.chatID) {
		c.timers.Rearm(roleFallback, cfg.TypingFallback, c.tryDrain)
	} else {
		c.timers.Rearm(roleMessage, maxDur(cfg.TypingTimeout, cfg.MinWait), c.tryDrain)
	}

	remaining := cfg.MaxWait - time.Since(c.startedAt)
	if remaining < 0 {
		remaining = 0
	}
	c.timers.Rearm(roleCeiling, remaining, c.tryDrain)
	c.timers.Rearm(roleIndicator, cfg.InitialDelay, c.showTyping)
	c.mu.Unlock()
	return true
}

func (c *personalCoordinator) onPresence(status bus.PresenceStatus) {
	cfg := c.eng.cfg

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseCollecting || len(c.msgs) == 0 {
		return
	}

	switch status {
	case bus.PresenceComposing, bus.PresenceRecording:
		// The peer is still composing; hold the debounce. The fallback and
		// the ceiling keep the batch from waiting forever.
		c.timers.Cancel(roleMessage)
		c.timers.Rearm(roleFallback, cfg.TypingFallback, c.tryDrain)
	case bus.PresenceAvailable:
		c.timers.Cancel(roleFallback)
		if !c.timers.Pending(roleMessage) {
			c.timers.Rearm(roleMessage, cfg.TypingTimeout, c.tryDrain)
		}
	}
}

// showTyping is the delayed presence side effect: only fires while the batch
// is still collecting.
func (c *personalCoordinator) showTyping() {
	c.mu.Lock()
	collecting := c.phase == phaseCollecting
	c.mu.Unlock()
	if collecting {
		c.eng.disp.ShowTyping(context.Background(), c.chatID)
	}
}

// tryDrain finalizes the batch. No-op unless the coordinator is still
// collecting and holds messages; committing is one-way, so overlapping timer
// firings collapse into a single drain.
func (c *personalCoordinator) tryDrain() {
	cfg := c.eng.cfg

	c.mu.Lock()
	if c.phase != phaseCollecting || len(c.msgs) == 0 {
		c.mu.Unlock()
		return
	}
	c.phase = phaseDraining
	c.timers.CancelAll()
	started := c.startedAt
	c.mu.Unlock()

	// Every batch waits at least MinWait from its first message. This
	// absorbs double-tap bursts that land right at the debounce edge.
	if rest := cfg.MinWait - time.Since(started); rest > 0 {
		time.Sleep(rest)
	}
	// Short fixed window for messages that are in flight while we commit.
	time.Sleep(cfg.GraceWindow)

	c.mu.Lock()
	c.phase = phaseDispatching
	snapshot := make([]*bus.InboundMessage, len(c.msgs))
	copy(snapshot, c.msgs)
	c.mu.Unlock()

	// State is reclaimed whatever the processor does; a stuck batch must
	// never block the chat.
	defer c.eng.finishPersonal(c, len(snapshot))
	c.eng.proc.Process(context.Background(), KindPersonal, c.chatID, snapshot)
}

// leftoverAndShutdown retires the coordinator, stops its timers, and returns
// any messages that arrived after the drain snapshot. From here on onMessage
// rejects appends; nothing drains this instance again.
func (c *personalCoordinator) leftoverAndShutdown(taken int) []*bus.InboundMessage {
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
