package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-backend/internal/config"
)

var errConnClosed = errors.New("connection closed")

// mockConn implements the wsConn interface for tests. Inbound frames are fed
// through a channel; text writes are recorded for inspection.
type mockConn struct {
	mu        sync.Mutex
	inbound   chan []byte
	writes    [][]byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-m.inbound:
		return websocket.TextMessage, data, nil
	case <-m.closeCh:
		return 0, nil, errConnClosed
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-m.closeCh:
		return errConnClosed
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, data)
	return nil
}

func (m *mockConn) SetReadLimit(int64)                {}
func (m *mockConn) SetReadDeadline(time.Time) error   { return nil }
func (m *mockConn) SetWriteDeadline(time.Time) error  { return nil }
func (m *mockConn) SetPongHandler(func(string) error) {}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closeCh) })
	return nil
}

func (m *mockConn) send(data []byte) {
	m.inbound <- data
}

func (m *mockConn) written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// fakePresence is an in-memory stand-in for the shared presence store.
type fakePresence struct {
	mu       sync.Mutex
	counts   map[uuid.UUID]int
	lastSeen map[uuid.UUID]time.Time
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		counts:   make(map[uuid.UUID]int),
		lastSeen: make(map[uuid.UUID]time.Time),
	}
}

func (p *fakePresence) MarkOnline(ctx context.Context, userID uuid.UUID, procID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	return nil
}

func (p *fakePresence) MarkOffline(ctx context.Context, userID uuid.UUID, procID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts[userID] > 0 {
		p.counts[userID]--
	}
	if p.counts[userID] == 0 {
		p.lastSeen[userID] = time.Now()
	}
	return nil
}

func (p *fakePresence) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0, nil
}

func (p *fakePresence) LastSeen(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen[userID], nil
}

func (p *fakePresence) count(userID uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID]
}

// fakeMembership allows a fixed set of (group, user) pairs.
type fakeMembership struct {
	mu      sync.Mutex
	allowed map[uuid.UUID]map[uuid.UUID]bool
	err     error
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{allowed: make(map[uuid.UUID]map[uuid.UUID]bool)}
}

func (f *fakeMembership) allow(groupID, userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allowed[groupID] == nil {
		f.allowed[groupID] = make(map[uuid.UUID]bool)
	}
	f.allowed[groupID][userID] = true
}

func (f *fakeMembership) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.allowed[groupID][userID], nil
}

// fakeBus records published events. With loopback enabled the subscriber
// receives every publish, mimicking a real broker echoing to the origin.
type fakeBus struct {
	mu          sync.Mutex
	events      []*DeliveryEvent
	handler     func(*DeliveryEvent)
	loopback    bool
	failPublish bool
}

func (b *fakeBus) Publish(ctx context.Context, ev *DeliveryEvent) error {
	b.mu.Lock()
	if b.failPublish {
		b.mu.Unlock()
		return ErrBrokerUnavailable
	}
	b.events = append(b.events, ev)
	handler := b.handler
	loopback := b.loopback
	b.mu.Unlock()

	if loopback && handler != nil {
		handler(ev)
	}
	return nil
}

func (b *fakeBus) Subscribe(handler func(*DeliveryEvent)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) published() []*DeliveryEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*DeliveryEvent, len(b.events))
	copy(out, b.events)
	return out
}

// fakeAuth resolves tokens from a fixed map.
type fakeAuth struct {
	tokens map[string]uuid.UUID
}

func (f *fakeAuth) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	if id, ok := f.tokens[token]; ok {
		return id, nil
	}
	return uuid.Nil, ErrAuthenticationFailed
}

// fakeInterest returns a fixed interest set for everyone.
type fakeInterest struct {
	users []uuid.UUID
}

func (f *fakeInterest) InterestedIn(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return f.users, nil
}

type testEnv struct {
	gw         *Gateway
	registry   *Registry
	rooms      *RoomTracker
	presence   *fakePresence
	membership *fakeMembership
	bus        *fakeBus
	auth       *fakeAuth
	interest   *fakeInterest
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.RealtimeConfig{
		ProcessID:        "proc-test",
		HeartbeatTimeout: 200 * time.Millisecond,
		SweepInterval:    50 * time.Millisecond,
		SendQueueSize:    16,
		DedupCacheSize:   128,
	}
	registry := NewRegistry()
	membership := newFakeMembership()
	rooms := NewRoomTracker(membership)
	presence := newFakePresence()
	bus := &fakeBus{}
	authsvc := &fakeAuth{tokens: make(map[string]uuid.UUID)}
	interest := &fakeInterest{}
	dispatcher := NewDispatcher(registry, rooms, bus, cfg.ProcessID, cfg.DedupCacheSize)
	if err := dispatcher.Run(); err != nil {
		t.Fatalf("dispatcher.Run: %v", err)
	}

	gw := NewGateway(cfg, registry, rooms, presence, dispatcher, authsvc, interest)
	return &testEnv{
		gw:         gw,
		registry:   registry,
		rooms:      rooms,
		presence:   presence,
		membership: membership,
		bus:        bus,
		auth:       authsvc,
		interest:   interest,
		dispatcher: dispatcher,
	}
}

// startSession runs a full session over a mock connection and waits until it
// reaches Active.
func (env *testEnv) startSession(t *testing.T, userID uuid.UUID) (*Session, *mockConn) {
	t.Helper()

	token := "token-" + uuid.New().String()
	env.auth.tokens[token] = userID

	conn := newMockConn()
	s := newSession(env.gw, conn)
	go s.run(token)

	waitFor(t, time.Second, func() bool { return s.State() == StateActive })
	return s, conn
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
