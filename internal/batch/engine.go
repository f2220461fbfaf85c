package batch

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"wabot/internal/bus"
	"wabot/internal/metrics"
)

// Engine routes inbound messages and presence events to per-chat
// coordinators. A coordinator exists only while its chat has an open batch;
// once the batch dispatches, the coordinator is discarded and the chat is
// idle again. Personal and group chats get different coordinators with
// different timing policies.
type Engine struct {
	cfg     Config
	disp    Dispatcher
	tracker *Tracker
	proc    *Processor

	mu       sync.Mutex
	personal map[string]*personalCoordinator
	groups   map[string]*groupCoordinator
	closed   bool
}

// New creates an engine dispatching drained batches through disp.
func New(cfg Config, disp Dispatcher) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		disp:     disp,
		tracker:  NewTracker(2 * cfg.TypingTimeout),
		proc:     NewProcessor(disp, cfg.ProcessingDelay),
		personal: make(map[string]*personalCoordinator),
		groups:   make(map[string]*groupCoordinator),
	}
}

// Run consumes the bus until ctx is canceled, then shuts the engine down.
func (e *Engine) Run(ctx context.Context, b *bus.MessageBus) {
	for {
		select {
		case <-ctx.Done():
			e.Shutdown()
			return
		case msg := <-b.Inbound:
			e.OnMessage(msg)
		case ev := <-b.Presence:
			if ev != nil {
				e.OnPresence(*ev)
			}
		}
	}
}

// OnMessage feeds one inbound message into its chat's batch, opening a new
// batch if the chat is idle. A coordinator that retired between lookup and
// delivery rejects the message; the engine then evicts it and reseeds, so
// the message lands in a fresh batch instead of vanishing.
func (e *Engine) OnMessage(msg *bus.InboundMessage) {
	if msg == nil || msg.FromMe {
		return
	}

	if isGroupChat(msg) {
		// In a room, a sent message only clears its author's composing
		// state; everyone else may still be typing.
		e.tracker.MarkNotTyping(msg.ChatID, msg.SenderID)
		for {
			c := e.groupFor(msg.ChatID, true)
			if c == nil {
				return
			}
			if c.onMessage(msg) {
				return
			}
			e.dropGroup(c)
		}
	}

	// Personal chats keep the peer's typing state across the message: the
	// peer who fires off one line and keeps composing the next should hold
	// the batch, and the first message must see the pre-batch state.
	for {
		c := e.personalFor(msg.ChatID, true)
		if c == nil {
			return
		}
		if c.onMessage(msg) {
			return
		}
		e.dropPersonal(c)
	}
}

// OnPresence feeds one presence event. The tracker always records it;
// coordinators only see it if their chat has an open batch.
func (e *Engine) OnPresence(ev bus.PresenceEvent) {
	e.tracker.Update(ev.ChatID, ev.SenderID, ev.Status)

	if strings.HasSuffix(ev.ChatID, "@g.us") {
		if c := e.groupFor(ev.ChatID, false); c != nil {
			c.onPresence(ev.SenderID, ev.Status)
		}
		return
	}
	if c := e.personalFor(ev.ChatID, false); c != nil {
		c.onPresence(ev.Status)
	}
}

// ActiveChats returns the number of chats with an open batch.
func (e *Engine) ActiveChats() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.personal) + len(e.groups)
}

// Shutdown cancels every pending timer and drops all open batches. Messages
// collected but not yet dispatched are lost; restart recovery belongs to the
// transport layer's offline replay.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, c := range e.personal {
		c.timers.Shutdown()
		delete(e.personal, id)
	}
	for id, c := range e.groups {
		c.timers.Shutdown()
		delete(e.groups, id)
	}
	metrics.ActiveBatches.Set(0)
	slog.Info("batch engine stopped")
}

func (e *Engine) personalFor(chatID string, create bool) *personalCoordinator {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	c, ok := e.personal[chatID]
	if !ok && create {
		c = newPersonalCoordinator(e, chatID)
		e.personal[chatID] = c
		metrics.ActiveBatches.Inc()
		slog.Debug("opened batch", "chat", chatID, "kind", string(KindPersonal))
	}
	return c
}

func (e *Engine) groupFor(chatID string, create bool) *groupCoordinator {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	c, ok := e.groups[chatID]
	if !ok && create {
		c = newGroupCoordinator(e, chatID)
		e.groups[chatID] = c
		metrics.ActiveBatches.Inc()
		slog.Debug("opened batch", "chat", chatID, "kind", string(KindGroup))
	}
	return c
}

// dropPersonal evicts a retired coordinator still occupying the registry so
// the next lookup opens a fresh batch.
func (e *Engine) dropPersonal(c *personalCoordinator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.personal[c.chatID] == c {
		delete(e.personal, c.chatID)
		metrics.ActiveBatches.Dec()
	}
}

func (e *Engine) dropGroup(c *groupCoordinator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.groups[c.chatID] == c {
		delete(e.groups, c.chatID)
		metrics.ActiveBatches.Dec()
	}
}

// finishPersonal retires a personal coordinator after its batch dispatched.
// Messages that arrived after the drain snapshot reseed a fresh batch.
func (e *Engine) finishPersonal(c *personalCoordinator, taken int) {
	leftover := c.leftoverAndShutdown(taken)

	e.mu.Lock()
	if e.personal[c.chatID] == c {
		delete(e.personal, c.chatID)
		metrics.ActiveBatches.Dec()
	}
	closed := e.closed
	e.mu.Unlock()

	e.tracker.ClearChat(c.chatID)
	if !closed {
		for _, m := range leftover {
			e.OnMessage(m)
		}
	}
}

// finishGroup retires a group coordinator. Group presence state survives the
// batch so the next one starts with an accurate view of who is typing.
func (e *Engine) finishGroup(c *groupCoordinator, taken int) {
	leftover := c.leftoverAndShutdown(taken)

	e.mu.Lock()
	if e.groups[c.chatID] == c {
		delete(e.groups, c.chatID)
		metrics.ActiveBatches.Dec()
	}
	closed := e.closed
	e.mu.Unlock()

	if !closed {
		for _, m := range leftover {
			e.OnMessage(m)
		}
	}
}

func isGroupChat(msg *bus.InboundMessage) bool {
	return msg.IsGroup || strings.HasSuffix(msg.ChatID, "@g.us")
}
