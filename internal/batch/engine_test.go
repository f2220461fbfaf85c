package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wabot/internal/bus"
)

// fakeDispatcher records every engine side effect. failTurns makes
// DispatchTurn fail that many times before succeeding.
type fakeDispatcher struct {
	mu        sync.Mutex
	turns     []*TurnMessage
	typing    []string
	read      []string
	failTurns int
}

func (f *fakeDispatcher) ShowTyping(_ context.Context, chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, chatID)
}

func (f *fakeDispatcher) MarkRead(_ context.Context, _, _ string, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, ids...)
}

func (f *fakeDispatcher) DispatchTurn(_ context.Context, msg *TurnMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTurns > 0 {
		f.failTurns--
		return errors.New("downstream unavailable")
	}
	f.turns = append(f.turns, msg)
	return nil
}

func (f *fakeDispatcher) turnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns)
}

func (f *fakeDispatcher) turnContents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.turns {
		out = append(out, t.Content)
	}
	return out
}

func (f *fakeDispatcher) typingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.typing)
}

// fastConfig compresses the timing policy so tests complete in tens of
// milliseconds. Ratios between the knobs mirror the defaults.
func fastConfig() Config {
	return Config{
		TypingTimeout:  40 * time.Millisecond,
		MaxWait:        400 * time.Millisecond,
		MinWait:        20 * time.Millisecond,
		InitialDelay:   15 * time.Millisecond,
		TypingFallback: 120 * time.Millisecond,
		GraceWindow:    10 * time.Millisecond,

		GroupMinWait:       60 * time.Millisecond,
		GroupMaxWait:       300 * time.Millisecond,
		GroupTypingTimeout: 40 * time.Millisecond,
		MaxBatchSize:       3,

		ProcessingDelay: time.Millisecond,
	}
}

func personalMsg(chat, sender, content string) *bus.InboundMessage {
	return &bus.InboundMessage{
		Channel:   "whatsapp",
		ChatID:    chat,
		SenderID:  sender,
		MessageID: content,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func groupMsg(chat, sender, content string) *bus.InboundMessage {
	m := personalMsg(chat, sender, content)
	m.IsGroup = true
	return m
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestPersonalBurstBecomesOneBatch(t *testing.T) {
	disp := &fakeDispatcher{}
	eng := New(fastConfig(), disp)
	defer eng.Shutdown()

	chat := "111@s.whatsapp.net"
	eng.OnMessage(personalMsg(chat, "111", "hey"))
	eng.OnMessage(personalMsg(chat, "111", "are you there"))
	eng.OnMessage(personalMsg(chat, "111", "i have a question"))

	waitFor(t, time.Second, func() bool { return disp.turnCount() == 3 }, "batch dispatch")

	want := []string{"hey", "are you there", "i have a question"}
	got := disp.turnContents()
	for i, w := range want {
		if got[i] != w {
			t.Errorf("turn %d = %q, want %q", i, got[i], w)
		}
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	id := disp.turns[0].Batch.BatchID
	if id == "" {
		t.Fatal("empty batch id")
	}
	for i, tm := range disp.turns {
		b := tm.Batch
		if b.BatchID != id {
			t.Errorf("turn %d has batch id %q, want %q", i, b.BatchID, id)
		}
		if b.Kind != KindPersonal {
			t.Errorf("turn %d kind = %q, want personal", i, b.Kind)
		}
		if b.Position != i+1 || b.Total != 3 {
			t.Errorf("turn %d position %d/%d, want %d/3", i, b.Position, b.Total, i+1)
		}
		if b.IsFirst != (i == 0) || b.IsLast != (i == 2) {
			t.Errorf("turn %d first/last = %v/%v", i, b.IsFirst, b.IsLast)
		}
		if len(b.Siblings) != 2 {
			t.Errorf("turn %d has %d siblings, want 2", i, len(b.Siblings))
		}
	}
}

func TestPersonalChatIdleAfterDrain(t *testing.T) {
	disp := &fakeDispatcher{}
	eng := New(fastConfig(), disp)
	defer eng.Shutdown()

	chat := "222@s.whatsapp.net"
	eng.OnMessage(personalMsg(chat, "222", "ping"))
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 1 }, "first drain")
	waitFor(t, time.Second, func() bool { return eng.ActiveChats() == 0 }, "coordinator teardown")

	// A second burst opens a fresh batch rather than reviving the old one.
	eng.OnMessage(personalMsg(chat, "222", "ping again"))
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 2 }, "second drain")

	disp.mu.Lock()
	defer disp.mu.Unlock()
	if disp.turns[0].Batch.BatchID == disp.turns[1].Batch.BatchID {
		t.Error("second burst reused the previous batch id")
	}
	if disp.turns[1].Batch.Total != 1 {
		t.Errorf("second batch total = %d, want 1", disp.turns[1].Batch.Total)
	}
}

func TestPersonalRespectsMinWait(t *testing.T) {
	cfg := fastConfig()
	cfg.TypingTimeout = 5 * time.Millisecond
	cfg.MinWait = 80 * time.Millisecond
	disp := &fakeDispatcher{}
	eng := New(cfg, disp)
	defer eng.Shutdown()

	start := time.Now()
	eng.OnMessage(personalMsg("333@s.whatsapp.net", "333", "quick"))
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 1 }, "drain")

	if elapsed := time.Since(start); elapsed < cfg.MinWait {
		t.Errorf("dispatched after %v, before the %v floor", elapsed, cfg.MinWait)
	}
}

func TestPersonalTypingDefersDrain(t *testing.T) {
	cfg := fastConfig()
	disp := &fakeDispatcher{}
	eng := New(cfg, disp)
	defer eng.Shutdown()

	chat := "444@s.whatsapp.net"
	eng.OnPresence(bus.PresenceEvent{ChatID: chat, SenderID: "444", Status: bus.PresenceComposing})
	eng.OnMessage(personalMsg(chat, "444", "first part"))
	eng.OnPresence(bus.PresenceEvent{ChatID: chat, SenderID: "444", Status: bus.PresenceComposing})

	// Past the plain debounce but the peer is still composing.
	time.Sleep(cfg.TypingTimeout + 20*time.Millisecond)
	if disp.turnCount() != 0 {
		t.Fatal("batch drained while the peer was typing")
	}

	eng.OnMessage(personalMsg(chat, "444", "second part"))
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 2 }, "drain after burst settled")

	disp.mu.Lock()
	defer disp.mu.Unlock()
	if disp.turns[0].Batch.Total != 2 {
		t.Errorf("batch total = %d, want 2", disp.turns[0].Batch.Total)
	}
}

func TestPersonalTypingBeforeFirstMessageHoldsBatch(t *testing.T) {
	cfg := fastConfig()
	disp := &fakeDispatcher{}
	eng := New(cfg, disp)
	defer eng.Shutdown()

	// The peer was already composing when the first message landed, so the
	// plain debounce must not govern; the batch waits for the stop event.
	chat := "aaa@s.whatsapp.net"
	eng.OnPresence(bus.PresenceEvent{ChatID: chat, SenderID: "aaa", Status: bus.PresenceComposing})
	eng.OnMessage(personalMsg(chat, "aaa", "first of more"))

	time.Sleep(cfg.TypingTimeout + 20*time.Millisecond)
	if disp.turnCount() != 0 {
		t.Fatal("batch drained despite composing before the first message")
	}

	stopped := time.Now()
	eng.OnPresence(bus.PresenceEvent{ChatID: chat, SenderID: "aaa", Status: bus.PresenceAvailable})
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 1 }, "drain after typing stopped")

	if elapsed := time.Since(stopped); elapsed < cfg.TypingTimeout {
		t.Errorf("dispatched %v after the stop event, want at least %v", elapsed, cfg.TypingTimeout)
	}
}

func TestPersonalMessageDuringTeardownNotDropped(t *testing.T) {
	disp := &fakeDispatcher{}
	eng := New(fastConfig(), disp)
	defer eng.Shutdown()

	chat := "bbb@s.whatsapp.net"
	c := eng.personalFor(chat, true)
	if !c.onMessage(personalMsg(chat, "bbb", "first")) {
		t.Fatal("fresh coordinator rejected a message")
	}
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 1 }, "first drain")
	waitFor(t, time.Second, func() bool { return eng.ActiveChats() == 0 }, "teardown")

	// A stale coordinator pointer, as held by a caller that looked it up
	// right before the drain finished, must hand the message back rather
	// than swallow it.
	if c.onMessage(personalMsg(chat, "bbb", "second")) {
		t.Fatal("retired coordinator accepted a message")
	}
	eng.OnMessage(personalMsg(chat, "bbb", "second"))
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 2 }, "reseeded drain")

	if got := disp.turnContents(); got[1] != "second" {
		t.Errorf("reseeded batch dispatched %q, want %q", got[1], "second")
	}
}

func TestGroupMessageDuringTeardownNotDropped(t *testing.T) {
	disp := &fakeDispatcher{}
	eng := New(fastConfig(), disp)
	defer eng.Shutdown()

	chat := "late@g.us"
	c := eng.groupFor(chat, true)
	if !c.onMessage(groupMsg(chat, "alice", "first")) {
		t.Fatal("fresh coordinator rejected a message")
	}
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 1 }, "first drain")
	waitFor(t, time.Second, func() bool { return eng.ActiveChats() == 0 }, "teardown")

	if c.onMessage(groupMsg(chat, "alice", "second")) {
		t.Fatal("retired coordinator accepted a message")
	}
	eng.OnMessage(groupMsg(chat, "alice", "second"))
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 2 }, "reseeded drain")
}

func TestPersonalStoppedTypingWithoutFollowup(t *testing.T) {
	cfg := fastConfig()
	disp := &fakeDispatcher{}
	eng := New(cfg, disp)
	defer eng.Shutdown()

	chat := "555@s.whatsapp.net"
	eng.OnMessage(personalMsg(chat, "555", "hmm"))
	eng.OnPresence(bus.PresenceEvent{ChatID: chat, SenderID: "555", Status: bus.PresenceComposing})
	eng.OnPresence(bus.PresenceEvent{ChatID: chat, SenderID: "555", Status: bus.PresenceAvailable})

	// Stopped typing and never sent the second message: the debounce
	// restarts from the stop and drains what we have.
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 1 }, "drain after typing stopped")
}

func TestPersonalCeilingUnderPerpetualTyping(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxWait = 150 * time.Millisecond
	cfg.TypingFallback = time.Second
	disp := &fakeDispatcher{}
	eng := New(cfg, disp)
	defer eng.Shutdown()

	chat := "666@s.whatsapp.net"
	eng.OnMessage(personalMsg(chat, "666", "novel incoming"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			eng.OnPresence(bus.PresenceEvent{ChatID: chat, SenderID: "666", Status: bus.PresenceComposing})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	start := time.Now()
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 1 }, "ceiling drain")
	if elapsed := time.Since(start); elapsed > cfg.MaxWait+200*time.Millisecond {
		t.Errorf("ceiling drain took %v, ceiling is %v", elapsed, cfg.MaxWait)
	}
	<-done
}

func TestPersonalShowsTypingIndicatorOnce(t *testing.T) {
	cfg := fastConfig()
	cfg.TypingTimeout = 100 * time.Millisecond
	disp := &fakeDispatcher{}
	eng := New(cfg, disp)
	defer eng.Shutdown()

	chat := "777@s.whatsapp.net"
	eng.OnMessage(personalMsg(chat, "777", "hello"))
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 1 }, "drain")

	if n := disp.typingCount(); n != 1 {
		t.Errorf("typing indicator shown %d times, want 1", n)
	}
}

func TestPersonalRecoversAfterDispatchFailure(t *testing.T) {
	disp := &fakeDispatcher{failTurns: 1}
	eng := New(fastConfig(), disp)
	defer eng.Shutdown()

	chat := "888@s.whatsapp.net"
	eng.OnMessage(personalMsg(chat, "888", "doomed"))
	waitFor(t, time.Second, func() bool { return eng.ActiveChats() == 0 }, "teardown after failed dispatch")

	eng.OnMessage(personalMsg(chat, "888", "retry"))
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 1 }, "dispatch after recovery")

	disp.mu.Lock()
	defer disp.mu.Unlock()
	if disp.turns[0].Content != "retry" {
		t.Errorf("dispatched %q, want the post-failure message", disp.turns[0].Content)
	}
}

func TestGroupDrainsAfterQuietPeriod(t *testing.T) {
	disp := &fakeDispatcher{}
	eng := New(fastConfig(), disp)
	defer eng.Shutdown()

	chat := "room@g.us"
	eng.OnMessage(groupMsg(chat, "alice", "anyone around?"))
	eng.OnMessage(groupMsg(chat, "bob", "yeah"))

	waitFor(t, time.Second, func() bool { return disp.turnCount() == 2 }, "group drain")

	disp.mu.Lock()
	defer disp.mu.Unlock()
	for i, tm := range disp.turns {
		if tm.Batch.Kind != KindGroup {
			t.Errorf("turn %d kind = %q, want group", i, tm.Batch.Kind)
		}
	}
}

func TestGroupSizeCapDrainsImmediately(t *testing.T) {
	cfg := fastConfig()
	cfg.GroupMinWait = 10 * time.Second // only the cap can end this batch
	cfg.GroupMaxWait = 10 * time.Second
	disp := &fakeDispatcher{}
	eng := New(cfg, disp)
	defer eng.Shutdown()

	chat := "busy@g.us"
	for i := 0; i < cfg.MaxBatchSize; i++ {
		eng.OnMessage(groupMsg(chat, "alice", fmt.Sprintf("msg-%d", i)))
	}

	waitFor(t, time.Second, func() bool { return disp.turnCount() == cfg.MaxBatchSize }, "cap drain")

	disp.mu.Lock()
	defer disp.mu.Unlock()
	if disp.turns[0].Batch.Total != cfg.MaxBatchSize {
		t.Errorf("batch total = %d, want %d", disp.turns[0].Batch.Total, cfg.MaxBatchSize)
	}
}

func TestGroupWaitsWhileSomeoneTypes(t *testing.T) {
	cfg := fastConfig()
	disp := &fakeDispatcher{}
	eng := New(cfg, disp)
	defer eng.Shutdown()

	chat := "talky@g.us"
	eng.OnMessage(groupMsg(chat, "alice", "question for bob"))
	eng.OnPresence(bus.PresenceEvent{ChatID: chat, SenderID: "bob", Status: bus.PresenceComposing})

	time.Sleep(cfg.GroupMinWait + 30*time.Millisecond)
	if disp.turnCount() != 0 {
		t.Fatal("group drained while a participant was typing")
	}

	eng.OnMessage(groupMsg(chat, "bob", "the answer"))
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 2 }, "drain with both messages")
}

func TestGroupDrainsWhenLastTyperGoesQuiet(t *testing.T) {
	cfg := fastConfig()
	cfg.GroupMinWait = 5 * time.Second // quiet-period timer must not be the one to fire
	disp := &fakeDispatcher{}
	eng := New(cfg, disp)
	defer eng.Shutdown()

	chat := "settle@g.us"
	eng.OnPresence(bus.PresenceEvent{ChatID: chat, SenderID: "bob", Status: bus.PresenceComposing})
	eng.OnMessage(groupMsg(chat, "alice", "bob?"))
	eng.OnPresence(bus.PresenceEvent{ChatID: chat, SenderID: "bob", Status: bus.PresenceAvailable})

	waitFor(t, time.Second, func() bool { return disp.turnCount() == 1 }, "drain after bob went quiet")
}

func TestEngineShutdownStopsTimers(t *testing.T) {
	disp := &fakeDispatcher{}
	eng := New(fastConfig(), disp)

	eng.OnMessage(personalMsg("999@s.whatsapp.net", "999", "never dispatched"))
	eng.Shutdown()

	time.Sleep(200 * time.Millisecond)
	if disp.turnCount() != 0 {
		t.Error("batch dispatched after Shutdown")
	}
	if eng.ActiveChats() != 0 {
		t.Error("coordinators survived Shutdown")
	}

	// New messages after shutdown are dropped, not queued.
	eng.OnMessage(personalMsg("999@s.whatsapp.net", "999", "late"))
	if eng.ActiveChats() != 0 {
		t.Error("shutdown engine opened a batch")
	}
}

func TestEngineRunConsumesBus(t *testing.T) {
	disp := &fakeDispatcher{}
	eng := New(fastConfig(), disp)

	b := bus.NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx, b)

	b.PublishInbound(personalMsg("bus@s.whatsapp.net", "bus", "via the bus"))
	waitFor(t, time.Second, func() bool { return disp.turnCount() == 1 }, "dispatch from bus")
}

func TestOwnMessagesAreIgnored(t *testing.T) {
	disp := &fakeDispatcher{}
	eng := New(fastConfig(), disp)
	defer eng.Shutdown()

	m := personalMsg("me@s.whatsapp.net", "me", "talking to myself")
	m.FromMe = true
	eng.OnMessage(m)

	if eng.ActiveChats() != 0 {
		t.Error("own message opened a batch")
	}
}
