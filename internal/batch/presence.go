package batch

import (
	"log/slog"
	"sync"
	"time"

	"wabot/internal/bus"
)

// TypingState is the last known composing state of one participant in one
// chat. It lives in memory only.
type TypingState struct {
	Typing       bool
	LastTypingAt time.Time
}

// Tracker holds typing state per (chat, participant). It is fed by inbound
// presence events and by the "sender just sent a message" transition; it
// never starts timers and never touches a batch. Events for chats with no
// open batch are recorded too, so the first message of a burst can consult
// an accurate initial state.
type Tracker struct {
	mu         sync.Mutex
	chats      map[string]map[string]TypingState
	staleAfter time.Duration
}

// NewTracker creates a tracker. Typing state older than staleAfter is
// treated as stopped, since "stopped typing" events are not guaranteed to
// arrive.
func NewTracker(staleAfter time.Duration) *Tracker {
	return &Tracker{
		chats:      make(map[string]map[string]TypingState),
		staleAfter: staleAfter,
	}
}

// Update applies a presence event. Composing and recording set the typing
// flag; available clears it; every other status is noted and ignored.
func (t *Tracker) Update(chatID, senderID string, status bus.PresenceStatus) {
	switch status {
	case bus.PresenceComposing, bus.PresenceRecording:
		t.set(chatID, senderID, TypingState{Typing: true, LastTypingAt: time.Now()})
	case bus.PresenceAvailable:
		t.set(chatID, senderID, TypingState{Typing: false})
	default:
		slog.Debug("presence status ignored", "chat", chatID, "sender", senderID, "status", string(status))
	}
}

// MarkNotTyping records that a participant sent a message and therefore is
// no longer composing.
func (t *Tracker) MarkNotTyping(chatID, senderID string) {
	t.set(chatID, senderID, TypingState{Typing: false})
}

// AnyoneTyping reports whether any tracked participant of the chat is
// typing, with stale entries treated as stopped.
func (t *Tracker) AnyoneTyping(chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, st := range t.chats[chatID] {
		if t.fresh(st) {
			return true
		}
	}
	return false
}

// SenderTyping reports whether one participant of the chat is typing.
func (t *Tracker) SenderTyping(chatID, senderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fresh(t.chats[chatID][senderID])
}

// ClearChat drops all state for a chat. Called when a personal batch closes;
// group chats keep their presence state across batches.
func (t *Tracker) ClearChat(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.chats, chatID)
}

func (t *Tracker) set(chatID, senderID string, st TypingState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.chats[chatID]
	if !ok {
		m = make(map[string]TypingState)
		t.chats[chatID] = m
	}
	m[senderID] = st
}

func (t *Tracker) fresh(st TypingState) bool {
	if !st.Typing {
		return false
	}
	if t.staleAfter > 0 && time.Since(st.LastTypingAt) > t.staleAfter {
		return false
	}
	return true
}
