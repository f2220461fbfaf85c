package channel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"wabot/internal/bus"
	"wabot/internal/logging"
)

// WhatsApp is the whatsmeow-backed channel. Inbound messages and chat
// presence go onto the bus; outbound replies, typing indicators and read
// receipts come back through it.
type WhatsApp struct {
	bus       *bus.MessageBus
	dbPath    string
	allowFrom []string

	container *sqlstore.Container
	client    *whatsmeow.Client
}

// NewWhatsApp creates the WhatsApp channel. dbPath is the sqlite file
// holding the paired device state.
func NewWhatsApp(b *bus.MessageBus, dbPath string, allowFrom []string) *WhatsApp {
	return &WhatsApp{
		bus:       b,
		dbPath:    dbPath,
		allowFrom: allowFrom,
	}
}

func (w *WhatsApp) Name() string {
	return "whatsapp"
}

// Start connects to WhatsApp, pairing via a terminal QR code if this device
// has never been linked.
func (w *WhatsApp) Start(ctx context.Context) error {
	container, err := sqlstore.New(ctx, "sqlite3", "file:"+w.dbPath+"?_foreign_keys=on", logging.NewWALogger("wadb"))
	if err != nil {
		return fmt.Errorf("open device store: %w", err)
	}
	w.container = container

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}

	w.client = whatsmeow.NewClient(device, logging.NewWALogger("whatsapp"))
	w.client.AddEventHandler(w.handleEvent)

	if w.client.Store.ID == nil {
		qrChan, _ := w.client.GetQRChannel(ctx)
		if err := w.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				fmt.Println("Scan this QR code with WhatsApp on your phone:")
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			case "success":
				slog.Info("whatsapp paired")
			default:
				slog.Debug("qr channel event", "event", evt.Event)
			}
		}
	} else {
		if err := w.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}

	slog.Info("whatsapp channel started", "db", w.dbPath, "allowFrom", len(w.allowFrom))
	return nil
}

func (w *WhatsApp) Stop() error {
	if w.client != nil {
		w.client.Disconnect()
	}
	return nil
}

// Send delivers an outbound message, briefly showing "typing..." first so
// the reply does not appear out of thin air.
func (w *WhatsApp) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	jid, err := types.ParseJID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("parse chat jid %q: %w", msg.ChatID, err)
	}

	w.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)

	_, err = w.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(msg.Content),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	w.client.SendChatPresence(ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
	return nil
}

// ShowTyping displays the typing indicator in a chat. Best-effort.
func (w *WhatsApp) ShowTyping(ctx context.Context, chatID string) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		slog.Debug("show typing: bad jid", "chat", chatID, "err", err)
		return
	}
	if err := w.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText); err != nil {
		slog.Debug("show typing failed", "chat", chatID, "err", err)
	}
}

// MarkRead sends read receipts for the given messages. Best-effort.
func (w *WhatsApp) MarkRead(ctx context.Context, chatID, senderID string, messageIDs []string) {
	chat, err := types.ParseJID(chatID)
	if err != nil {
		return
	}
	sender, err := types.ParseJID(senderID)
	if err != nil {
		return
	}
	ids := make([]types.MessageID, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = types.MessageID(id)
	}
	if err := w.client.MarkRead(ctx, ids, time.Now(), chat, sender); err != nil {
		slog.Debug("mark read failed", "chat", chatID, "err", err)
	}
}

func (w *WhatsApp) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		w.handleMessage(v)
	case *events.ChatPresence:
		w.handleChatPresence(v)
	case *events.Connected:
		slog.Info("whatsapp connected")
	case *events.Disconnected:
		slog.Warn("whatsapp disconnected")
	case *events.LoggedOut:
		slog.Error("whatsapp logged out, re-pairing required")
	}
}

func (w *WhatsApp) handleMessage(v *events.Message) {
	// Text lives in Conversation for plain messages and in
	// ExtendedTextMessage for replies and link previews.
	var text string
	if v.Message.GetConversation() != "" {
		text = v.Message.GetConversation()
	} else if v.Message.GetExtendedTextMessage() != nil {
		text = v.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return
	}
	if v.Info.Chat.User == "status" {
		return
	}
	if !IsAllowed(v.Info.Chat.String(), w.allowFrom) && !IsAllowed(v.Info.Sender.String(), w.allowFrom) {
		slog.Debug("sender not in allow list", "chat", v.Info.Chat.String(), "sender", v.Info.Sender.String())
		return
	}

	w.bus.PublishInbound(&bus.InboundMessage{
		Channel:   w.Name(),
		ChatID:    v.Info.Chat.String(),
		SenderID:  v.Info.Sender.String(),
		MessageID: string(v.Info.ID),
		PushName:  v.Info.PushName,
		Content:   text,
		Timestamp: v.Info.Timestamp,
		IsGroup:   v.Info.IsGroup,
		FromMe:    v.Info.IsFromMe,
	})
}

// handleChatPresence translates WhatsApp chat presence into bus events.
// "paused" means the participant stopped composing, which the engine models
// as available.
func (w *WhatsApp) handleChatPresence(v *events.ChatPresence) {
	var status bus.PresenceStatus
	switch v.State {
	case types.ChatPresenceComposing:
		status = bus.PresenceComposing
		if v.Media == types.ChatPresenceMediaAudio {
			status = bus.PresenceRecording
		}
	case types.ChatPresencePaused:
		status = bus.PresenceAvailable
	default:
		return
	}

	w.bus.PublishPresence(&bus.PresenceEvent{
		Channel:  w.Name(),
		ChatID:   v.Chat.String(),
		SenderID: v.Sender.String(),
		Status:   status,
		At:       time.Now(),
	})
}
