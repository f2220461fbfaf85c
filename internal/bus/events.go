package bus

import "time"

// InboundMessage is a chat message received from a transport channel.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	MessageID string
	PushName  string
	Content   string
	Timestamp time.Time
	IsGroup   bool
	FromMe    bool
	Metadata  map[string]any
}

// SessionKey returns the unique key for session identification.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// PresenceStatus is a typing/availability signal for one chat participant.
type PresenceStatus string

const (
	PresenceComposing   PresenceStatus = "composing"
	PresenceRecording   PresenceStatus = "recording"
	PresenceAvailable   PresenceStatus = "available"
	PresenceUnavailable PresenceStatus = "unavailable"
	PresencePaused      PresenceStatus = "paused"
)

// PresenceEvent is an asynchronous, best-effort notification that a chat
// participant started or stopped composing. Delivery is not guaranteed and
// events may arrive out of order relative to messages.
type PresenceEvent struct {
	Channel  string
	ChatID   string
	SenderID string
	Status   PresenceStatus
	At       time.Time
}

// OutboundMessage is a reply to send to a transport channel.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Media    []string
	Metadata map[string]any
}
