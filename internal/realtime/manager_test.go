package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"domofon/internal/models"
)

type mockTransport struct {
	mu           sync.Mutex
	subscribes   []string
	unsubscribes []string
	tracks       []models.PresenceRecord
	subscribeErr error
	closed       bool
}

func (t *mockTransport) Subscribe(channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribes = append(t.subscribes, channel)
	return t.subscribeErr
}

func (t *mockTransport) Unsubscribe(channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsubscribes = append(t.unsubscribes, channel)
	return nil
}

func (t *mockTransport) Track(channel string, record models.PresenceRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = append(t.tracks, record)
	return nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *mockTransport) subscribeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribes)
}

type mockNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func (n *mockNotifier) Notify(notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

func (n *mockNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.notifications...)
}

func statusFrame(channel string, status models.SubscribeStatus) models.ServerFrame {
	return models.ServerFrame{
		Type:    models.ServerFrameTypeStatus,
		Channel: channel,
		Status:  status,
	}
}

func expectStatus(t *testing.T, transitions <-chan Status, want Status) {
	t.Helper()
	select {
	case got := <-transitions:
		if got != want {
			t.Fatalf("expected transition to %s, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transition to %s", want)
	}
}

func TestBackoffBound(t *testing.T) {
	m := NewManager(&mockTransport{}, Config{})

	// Nth retry is scheduled with attempts = N-1.
	wants := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for attempts, want := range wants {
		if got := m.backoff(attempts); got != want {
			t.Errorf("backoff(%d) = %v, want %v", attempts, got, want)
		}
	}

	// Shift overflow falls back to the cap.
	if got := m.backoff(80); got != 30*time.Second {
		t.Errorf("backoff(80) = %v, want cap", got)
	}
}

func TestConnect_StateAndSubscribe(t *testing.T) {
	transitions := make(chan Status, 32)
	mt := &mockTransport{}
	m := NewManager(mt, Config{
		OnStateChange: func(_ string, s Status) { transitions <- s },
	})

	if err := m.Connect("conv-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	expectStatus(t, transitions, StatusConnecting)
	if got := m.Channel("conv-1").Status(); got != StatusConnecting {
		t.Errorf("status = %s, want connecting", got)
	}

	m.HandleFrame(statusFrame("conv-1", models.SubscribeStatusSubscribed))
	expectStatus(t, transitions, StatusConnected)

	if mt.subscribeCount() != 1 {
		t.Errorf("expected 1 subscribe call, got %d", mt.subscribeCount())
	}

	// Connect while connected is a no-op.
	if err := m.Connect("conv-1"); err != nil {
		t.Fatalf("repeat Connect failed: %v", err)
	}
	if mt.subscribeCount() != 1 {
		t.Errorf("repeat Connect issued another subscribe")
	}
}

// Three consecutive channel errors, each followed by an automatic
// resubscribe with growing attempts, then a successful subscribe that
// resets the counter.
func TestErrorRetryRecoverScenario(t *testing.T) {
	transitions := make(chan Status, 64)
	mt := &mockTransport{}
	notifier := &mockNotifier{}
	m := NewManager(mt, Config{
		AutoReconnect: true,
		BackoffBase:   time.Millisecond,
		BackoffCap:    4 * time.Millisecond,
		OnStateChange: func(_ string, s Status) { transitions <- s },
		Notifier:      notifier,
	})

	ch := m.Channel("conv-42")

	if err := m.Connect("conv-42"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	expectStatus(t, transitions, StatusConnecting)

	for i := 1; i <= 3; i++ {
		m.HandleFrame(statusFrame("conv-42", models.SubscribeStatusChannelError))
		expectStatus(t, transitions, StatusError)
		expectStatus(t, transitions, StatusConnecting) // scheduled retry fired
		if got := ch.Attempts(); got != i {
			t.Errorf("after retry %d: attempts = %d", i, got)
		}
	}

	m.HandleFrame(statusFrame("conv-42", models.SubscribeStatusSubscribed))
	expectStatus(t, transitions, StatusConnected)

	if got := ch.Attempts(); got != 0 {
		t.Errorf("attempts not reset on subscribe: %d", got)
	}
	if mt.subscribeCount() != 4 {
		t.Errorf("expected 4 subscribe calls, got %d", mt.subscribeCount())
	}

	// Exactly one recovery notification.
	var recoveries int
	for _, n := range notifier.all() {
		if n.Severity == SeverityInfo {
			recoveries++
		}
	}
	if recoveries != 1 {
		t.Errorf("expected 1 recovery notification, got %d", recoveries)
	}
}

func TestExhaustedRetries(t *testing.T) {
	mt := &mockTransport{}
	notifier := &mockNotifier{}
	m := NewManager(mt, Config{
		AutoReconnect: true,
		BackoffBase:   time.Hour, // a scheduled retry would be visible
		Notifier:      notifier,
	})

	ch := m.Channel("conv-1")
	ch.mu.Lock()
	ch.attempts = DefaultMaxReconnectAttempts
	ch.status = StatusConnected
	ch.mu.Unlock()

	m.HandleFrame(statusFrame("conv-1", models.SubscribeStatusChannelError))

	ch.mu.Lock()
	retry := ch.retry
	ch.mu.Unlock()
	if retry != nil {
		t.Error("retry scheduled despite exhausted attempts")
	}

	notifications := notifier.all()
	if len(notifications) != 1 || notifications[0].Severity != SeverityError {
		t.Errorf("expected persistent failure notification, got %v", notifications)
	}
}

func TestReconnect_ResetsAttempts(t *testing.T) {
	transitions := make(chan Status, 32)
	mt := &mockTransport{}
	m := NewManager(mt, Config{
		AutoReconnect: true,
		OnStateChange: func(_ string, s Status) { transitions <- s },
	})

	ch := m.Channel("conv-1")
	ch.mu.Lock()
	ch.attempts = DefaultMaxReconnectAttempts
	ch.status = StatusError
	ch.mu.Unlock()

	if err := m.Reconnect("conv-1"); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}

	expectStatus(t, transitions, StatusDisconnected)
	expectStatus(t, transitions, StatusConnecting)
	select {
	case s := <-transitions:
		t.Fatalf("unexpected extra transition %s", s)
	default:
	}

	if got := ch.Attempts(); got != 0 {
		t.Errorf("attempts = %d after Reconnect, want 0", got)
	}
}

func TestServerClose_NoRetry(t *testing.T) {
	transitions := make(chan Status, 32)
	mt := &mockTransport{}
	m := NewManager(mt, Config{
		AutoReconnect: true,
		OnStateChange: func(_ string, s Status) { transitions <- s },
	})

	if err := m.Connect("conv-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	expectStatus(t, transitions, StatusConnecting)
	m.HandleFrame(statusFrame("conv-1", models.SubscribeStatusSubscribed))
	expectStatus(t, transitions, StatusConnected)

	m.HandleFrame(statusFrame("conv-1", models.SubscribeStatusClosed))
	expectStatus(t, transitions, StatusDisconnected)

	ch := m.Channel("conv-1")
	ch.mu.Lock()
	retry := ch.retry
	ch.mu.Unlock()
	if retry != nil {
		t.Error("retry scheduled after server-initiated close")
	}
}

func TestDisconnect_CancelsPendingRetry(t *testing.T) {
	mt := &mockTransport{}
	m := NewManager(mt, Config{
		AutoReconnect: true,
		BackoffBase:   time.Hour,
	})

	if err := m.Connect("conv-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	m.HandleFrame(statusFrame("conv-1", models.SubscribeStatusChannelError))

	ch := m.Channel("conv-1")
	ch.mu.Lock()
	hadRetry := ch.retry != nil
	ch.mu.Unlock()
	if !hadRetry {
		t.Fatal("expected a pending retry")
	}

	if err := m.Disconnect("conv-1"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	ch.mu.Lock()
	retry := ch.retry
	status := ch.status
	ch.mu.Unlock()
	if retry != nil {
		t.Error("pending retry not cancelled by Disconnect")
	}
	if status != StatusDisconnected {
		t.Errorf("status = %s after Disconnect", status)
	}
}

func TestHandlersSurviveResubscribe(t *testing.T) {
	transitions := make(chan Status, 64)
	mt := &mockTransport{}
	m := NewManager(mt, Config{
		AutoReconnect: true,
		BackoffBase:   time.Millisecond,
		OnStateChange: func(_ string, s Status) { transitions <- s },
	})

	ch := m.Channel("conv-1")
	events := make(chan models.ChangeEvent, 8)
	ch.OnChange("messages", "", func(ev models.ChangeEvent) { events <- ev })

	if err := m.Connect("conv-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	expectStatus(t, transitions, StatusConnecting)
	m.HandleFrame(statusFrame("conv-1", models.SubscribeStatusSubscribed))
	expectStatus(t, transitions, StatusConnected)

	// Drop and recover the subscription.
	m.HandleFrame(statusFrame("conv-1", models.SubscribeStatusChannelError))
	expectStatus(t, transitions, StatusError)
	expectStatus(t, transitions, StatusConnecting)
	m.HandleFrame(statusFrame("conv-1", models.SubscribeStatusSubscribed))
	expectStatus(t, transitions, StatusConnected)

	m.HandleFrame(models.ServerFrame{
		Type:    models.ServerFrameTypeChange,
		Channel: "conv-1",
		Change:  &models.ChangeEvent{Table: "messages", Type: models.ChangeInsert},
	})

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("change handler lost across resubscribe")
	}
}

func TestChangeDispatch_FilterScoping(t *testing.T) {
	m := NewManager(&mockTransport{}, Config{})
	ch := m.Channel("conv-1")

	var mine, all int
	var mu sync.Mutex
	ch.OnChange("message_deliveries", "message_id=eq.m1", func(models.ChangeEvent) {
		mu.Lock()
		mine++
		mu.Unlock()
	})
	unregister := ch.OnChange("message_deliveries", "", func(models.ChangeEvent) {
		mu.Lock()
		all++
		mu.Unlock()
	})

	ch.dispatchChange(models.ChangeEvent{Table: "message_deliveries", Filter: "message_id=eq.m1"})
	ch.dispatchChange(models.ChangeEvent{Table: "message_deliveries", Filter: "message_id=eq.m2"})
	ch.dispatchChange(models.ChangeEvent{Table: "messages", Filter: "message_id=eq.m1"})

	mu.Lock()
	defer mu.Unlock()
	if mine != 1 {
		t.Errorf("filtered handler fired %d times, want 1", mine)
	}
	if all != 2 {
		t.Errorf("table handler fired %d times, want 2", all)
	}

	unregister()
	mu.Unlock()
	ch.dispatchChange(models.ChangeEvent{Table: "message_deliveries"})
	mu.Lock()
	if all != 2 {
		t.Error("unregistered handler still fired")
	}
}

func TestTrack_RequiresSubscription(t *testing.T) {
	mt := &mockTransport{}
	m := NewManager(mt, Config{})
	ch := m.Channel("presence-room")

	err := ch.Track(models.PresenceRecord{UserID: "u1", Status: models.PresenceActive})
	if !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("expected ErrNotSubscribed, got %v", err)
	}

	if err := m.Connect("presence-room"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	m.HandleFrame(statusFrame("presence-room", models.SubscribeStatusSubscribed))

	if err := ch.Track(models.PresenceRecord{UserID: "u1", Status: models.PresenceActive}); err != nil {
		t.Errorf("Track while subscribed failed: %v", err)
	}
	if len(mt.tracks) != 1 {
		t.Errorf("expected 1 track call, got %d", len(mt.tracks))
	}
}

func TestSubscribeTransportError(t *testing.T) {
	mt := &mockTransport{subscribeErr: errors.New("socket gone")}
	m := NewManager(mt, Config{})

	if err := m.Connect("conv-1"); err == nil {
		t.Fatal("expected error from Connect")
	}
	if got := m.Channel("conv-1").Status(); got != StatusError {
		t.Errorf("status = %s after transport failure, want error", got)
	}
}
