package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/hirpha/mini-chat-backend/internal/auth"
	"github.com/hirpha/mini-chat-backend/internal/config"
	"github.com/hirpha/mini-chat-backend/internal/metrics"
	"github.com/hirpha/mini-chat-backend/internal/models"
	"github.com/hirpha/mini-chat-backend/internal/repository"
	"github.com/hirpha/mini-chat-backend/internal/service"
	"github.com/hirpha/mini-chat-backend/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var errConnClosed = errors.New("connection closed")

// fakeConn is an in-memory Transport. Frames pushed to in are read by the
// session; text frames written by the session are recorded.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once
	block  chan struct{}

	mu     sync.Mutex
	frames [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-c.closed:
			return errConnClosed
		}
	}
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	c.mu.Lock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetReadLimit(int64)               {}
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(t *testing.T, data string) {
	t.Helper()
	select {
	case c.in <- []byte(data):
	case <-time.After(time.Second):
		t.Fatalf("push timed out: %s", data)
	}
}

type wireFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Code    string          `json:"code"`
	Details string          `json:"details"`
	Ref     string          `json:"ref"`
}

func (c *fakeConn) received(eventType string) []wireFrame {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []wireFrame
	for _, raw := range c.frames {
		var f wireFrame
		if err := json.Unmarshal(raw, &f); err == nil && f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

type stubVerifier struct {
	mu    sync.Mutex
	users map[string]string
}

func (v *stubVerifier) Authenticate(ctx context.Context, credential string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.users[credential]; ok {
		return id, nil
	}
	return "", auth.ErrInvalidCredential
}

type fixture struct {
	hub      *Hub
	db       *gorm.DB
	users    *repository.UserRepository
	messages *service.MessageService
	metrics  *metrics.Metrics
	verifier *stubVerifier
}

func testWSConfig() config.WSConfig {
	return config.WSConfig{
		AuthTimeout:      time.Second,
		OperationTimeout: 2 * time.Second,
		WriteTimeout:     time.Second,
		PingInterval:     time.Hour,
		PongTimeout:      time.Minute,
		SendBuffer:       64,
		MaxFrameBytes:    65536,
	}
}

func newFixture(t *testing.T, mutate func(*config.WSConfig)) *fixture {
	t.Helper()

	db := testutil.OpenSQLite(t)
	require.NoError(t, repository.Migrate(db))

	users := repository.NewUserRepository(db)
	messages := service.NewMessageService(repository.NewMessageRepository(db), users, nil, 10)

	cfg := testWSConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		db:       db,
		users:    users,
		messages: messages,
		metrics:  metrics.New(prometheus.NewRegistry()),
		verifier: &stubVerifier{users: map[string]string{}},
	}
	f.hub = NewHub(cfg, f.verifier, messages, users, nil, f.metrics)
	t.Cleanup(f.hub.Shutdown)
	return f
}

// addUser creates a user whose credential is its own id.
func (f *fixture) addUser(t *testing.T, phone, name string) string {
	t.Helper()
	u := &models.User{PhoneNumber: phone, Name: name}
	require.NoError(t, f.users.Create(context.Background(), u))

	f.verifier.mu.Lock()
	f.verifier.users[u.ID] = u.ID
	f.verifier.mu.Unlock()
	return u.ID
}

type client struct {
	conn   *fakeConn
	served chan struct{}
}

func (f *fixture) connect(t *testing.T, credential string) *client {
	return f.connectConn(t, newFakeConn(), credential)
}

func (f *fixture) connectConn(t *testing.T, conn *fakeConn, credential string) *client {
	t.Helper()
	c := &client{conn: conn, served: make(chan struct{})}
	go func() {
		defer close(c.served)
		f.hub.Serve(conn, credential)
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

// connectReady connects and waits for the session's own online event.
func (f *fixture) connectReady(t *testing.T, userID string) *client {
	t.Helper()
	c := f.connect(t, userID)
	require.Eventually(t, func() bool {
		for _, e := range c.conn.received("userOnline") {
			if userIDOf(t, e) == userID {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return c
}

func (c *client) close(t *testing.T) {
	t.Helper()
	_ = c.conn.Close()
	select {
	case <-c.served:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not shut down")
	}
}

// barrier waits until everything queued for the client before this call
// has been written.
func (c *client) barrier(t *testing.T) {
	t.Helper()
	before := len(c.conn.received("pong"))
	c.conn.push(t, `{"type":"ping"}`)
	require.Eventually(t, func() bool {
		return len(c.conn.received("pong")) > before
	}, 2*time.Second, 5*time.Millisecond)
}

func (c *client) waitFor(t *testing.T, eventType string, n int) []wireFrame {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.conn.received(eventType)) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s", n, eventType)
	return c.conn.received(eventType)
}

func userIDOf(t *testing.T, f wireFrame) string {
	t.Helper()
	var p struct {
		UserID string `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	return p.UserID
}

func messageOf(t *testing.T, f wireFrame) models.MessageResponse {
	t.Helper()
	var p struct {
		Message models.MessageResponse `json:"message"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	return p.Message
}

func sendFrame(receiverID, content, ref string) string {
	payload, _ := json.Marshal(map[string]string{"receiverId": receiverID, "content": content})
	return fmt.Sprintf(`{"type":"send","payload":%s,"ref":%q}`, payload, ref)
}

func markReadFrame(messageID, ref string) string {
	return fmt.Sprintf(`{"type":"mark-read","payload":{"messageId":%q},"ref":%q}`, messageID, ref)
}

func (f *fixture) messageCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&n).Error)
	return n
}

func TestServeRejectsInvalidCredential(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	observer := f.connectReady(t, alice)

	conn := newFakeConn()
	f.hub.Serve(conn, "not-a-token")

	require.True(t, conn.isClosed())
	require.Empty(t, conn.received("userOnline"))
	require.Equal(t, 1, f.hub.Count())
	require.Equal(t, float64(1), promtest.ToFloat64(f.metrics.AuthFailures))

	observer.barrier(t)
	require.Len(t, observer.conn.received("userOnline"), 1)
}

func TestServeRejectsMissingCredential(t *testing.T) {
	f := newFixture(t, nil)

	conn := newFakeConn()
	f.hub.Serve(conn, "")

	require.True(t, conn.isClosed())
	require.Empty(t, f.hub.ListOnline())
}

func TestOnlineBroadcastReachesExistingSessions(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	bob := f.addUser(t, "15550000002", "bob")

	a := f.connectReady(t, alice)
	f.connectReady(t, bob)

	events := a.waitFor(t, "userOnline", 2)
	require.Equal(t, bob, userIDOf(t, events[1]))
	require.ElementsMatch(t, []string{alice, bob}, f.hub.ListOnline())

	f.hub.Wait()
	u, err := f.users.FindByID(context.Background(), bob)
	require.NoError(t, err)
	require.True(t, u.IsOnline)
	require.NotNil(t, u.LastActiveAt)
}

func TestSiblingSessionsEmitSingleOffline(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	bob := f.addUser(t, "15550000002", "bob")

	observer := f.connectReady(t, bob)
	sessions := []*client{
		f.connectReady(t, alice),
		f.connectReady(t, alice),
		f.connectReady(t, alice),
	}

	sessions[0].close(t)
	sessions[1].close(t)
	require.True(t, f.hub.IsOnline(alice))
	observer.barrier(t)
	require.Empty(t, observer.conn.received("userOffline"))

	sessions[2].close(t)
	require.False(t, f.hub.IsOnline(alice))
	observer.barrier(t)

	offline := observer.conn.received("userOffline")
	require.Len(t, offline, 1)
	require.Equal(t, alice, userIDOf(t, offline[0]))

	f.hub.Wait()
	u, err := f.users.FindByID(context.Background(), alice)
	require.NoError(t, err)
	require.False(t, u.IsOnline)
	require.NotNil(t, u.LastActiveAt)
}

func TestConcurrentSiblingCloseEmitsSingleOffline(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	bob := f.addUser(t, "15550000002", "bob")

	observer := f.connectReady(t, bob)
	var sessions []*client
	for i := 0; i < 8; i++ {
		sessions = append(sessions, f.connectReady(t, alice))
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *client) {
			defer wg.Done()
			_ = s.conn.Close()
			<-s.served
		}(s)
	}
	wg.Wait()

	observer.barrier(t)
	require.Len(t, observer.conn.received("userOffline"), 1)
	require.False(t, f.hub.IsOnline(alice))
}

func TestSendFansOutExactlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	bob := f.addUser(t, "15550000002", "bob")
	carol := f.addUser(t, "15550000003", "carol")

	a1, a2 := f.connectReady(t, alice), f.connectReady(t, alice)
	b1, b2 := f.connectReady(t, bob), f.connectReady(t, bob)
	c1 := f.connectReady(t, carol)

	a1.conn.push(t, sendFrame(bob, " hello ", "r1"))

	for _, c := range []*client{a1, a2, b1, b2} {
		events := c.waitFor(t, "newMessage", 1)
		msg := messageOf(t, events[0])
		require.Equal(t, "hello", msg.Content)
		require.Equal(t, alice, msg.SenderID)
		require.Equal(t, bob, msg.ReceiverID)
	}
	for _, c := range []*client{a1, a2, b1, b2, c1} {
		c.barrier(t)
	}
	for _, c := range []*client{a1, a2, b1, b2} {
		require.Len(t, c.conn.received("newMessage"), 1)
	}
	require.Empty(t, c1.conn.received("newMessage"))
	require.Empty(t, a1.conn.received("error"))
	require.Equal(t, int64(1), f.messageCount(t))
}

func TestInvalidSendIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	bob := f.addUser(t, "15550000002", "bob")

	a := f.connectReady(t, alice)
	b := f.connectReady(t, bob)

	tests := []struct {
		name  string
		frame string
		code  string
	}{
		{"Empty content", sendFrame(bob, "   ", "r"), CodeValidationFailed},
		{"Too long", sendFrame(bob, strings.Repeat("x", 11), "r"), CodeValidationFailed},
		{"Self", sendFrame(alice, "hi", "r"), CodeValidationFailed},
		{"Missing receiver", `{"type":"send","payload":{"content":"hi"},"ref":"r"}`, CodeValidationFailed},
		{"Malformed receiver", sendFrame("bob", "hi", "r"), CodeValidationFailed},
		{"Unknown receiver", sendFrame(uuid.NewString(), "hi", "r"), CodeNotFound},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.conn.push(t, tt.frame)
			errs := a.waitFor(t, "error", i+1)
			require.Equal(t, tt.code, errs[i].Code)
			require.Equal(t, "r", errs[i].Ref)
		})
	}

	a.barrier(t)
	b.barrier(t)
	require.Empty(t, a.conn.received("newMessage"))
	require.Empty(t, b.conn.received("newMessage"))
	require.Zero(t, f.messageCount(t))
	require.True(t, f.hub.IsOnline(alice))
}

func TestMarkReadOverRealtime(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	bob := f.addUser(t, "15550000002", "bob")

	a := f.connectReady(t, alice)
	b1, b2 := f.connectReady(t, bob), f.connectReady(t, bob)

	msg, err := f.hub.SendMessage(context.Background(), alice, bob, "hi")
	require.NoError(t, err)
	b1.waitFor(t, "newMessage", 1)

	b1.conn.push(t, markReadFrame(msg.ID, "m1"))
	echo := b1.waitFor(t, "messageRead", 1)
	read := messageOf(t, echo[0])
	require.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	notified := a.waitFor(t, "messageRead", 1)
	require.Equal(t, msg.ID, messageOf(t, notified[0]).ID)

	// Second call is idempotent: echoed again, no new notification.
	b1.conn.push(t, markReadFrame(msg.ID, "m2"))
	again := b1.waitFor(t, "messageRead", 2)
	require.Equal(t, read.ReadAt.UTC(), messageOf(t, again[1]).ReadAt.UTC())

	a.barrier(t)
	b2.barrier(t)
	require.Len(t, a.conn.received("messageRead"), 1)
	require.Empty(t, b2.conn.received("messageRead"))
	require.Empty(t, b1.conn.received("error"))
}

func TestMarkReadRejections(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	bob := f.addUser(t, "15550000002", "bob")

	a := f.connectReady(t, alice)
	b := f.connectReady(t, bob)

	msg, err := f.hub.SendMessage(context.Background(), alice, bob, "hi")
	require.NoError(t, err)

	a.conn.push(t, markReadFrame(msg.ID, "x1"))
	errs := a.waitFor(t, "error", 1)
	require.Equal(t, CodeForbidden, errs[0].Code)
	require.Equal(t, "x1", errs[0].Ref)

	a.conn.push(t, markReadFrame(uuid.NewString(), "x2"))
	errs = a.waitFor(t, "error", 2)
	require.Equal(t, CodeNotFound, errs[1].Code)

	b.conn.push(t, markReadFrame("abc", "x3"))
	errs = b.waitFor(t, "error", 1)
	require.Equal(t, CodeValidationFailed, errs[0].Code)
	require.Equal(t, "x3", errs[0].Ref)

	b.barrier(t)
	require.Empty(t, b.conn.received("messageRead"))

	stored, err := repository.NewMessageRepository(f.db).FindByID(context.Background(), msg.ID)
	require.NoError(t, err)
	require.False(t, stored.IsRead)
}

func TestOfflineRecipientReadsHistory(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	bob := f.addUser(t, "15550000002", "bob")

	a := f.connectReady(t, alice)
	a.conn.push(t, sendFrame(bob, "hi", "s1"))
	sent := a.waitFor(t, "newMessage", 1)
	id := messageOf(t, sent[0]).ID

	b := f.connectReady(t, bob)
	history, err := f.messages.GetConversation(context.Background(), bob, alice, 0, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, id, history[0].ID)
	require.False(t, history[0].IsRead)
	require.Empty(t, b.conn.received("newMessage"))

	b.conn.push(t, markReadFrame(id, "m"))
	b.waitFor(t, "messageRead", 1)
	notified := a.waitFor(t, "messageRead", 1)
	require.True(t, messageOf(t, notified[0]).IsRead)
}

func TestHTTPMarkReadEchoesToRequesterSessions(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	bob := f.addUser(t, "15550000002", "bob")

	a := f.connectReady(t, alice)
	b1, b2 := f.connectReady(t, bob), f.connectReady(t, bob)

	msg, err := f.hub.SendMessage(context.Background(), alice, bob, "hi")
	require.NoError(t, err)

	read, err := f.hub.MarkRead(context.Background(), bob, msg.ID)
	require.NoError(t, err)
	require.True(t, read.IsRead)

	b1.waitFor(t, "messageRead", 1)
	b2.waitFor(t, "messageRead", 1)
	a.waitFor(t, "messageRead", 1)
}

func TestSlowConsumerIsClosed(t *testing.T) {
	f := newFixture(t, func(cfg *config.WSConfig) { cfg.SendBuffer = 4 })
	alice := f.addUser(t, "15550000001", "alice")
	bob := f.addUser(t, "15550000002", "bob")

	stuck := newFakeConn()
	stuck.block = make(chan struct{})
	b := f.connectConn(t, stuck, bob)
	require.Eventually(t, func() bool { return f.hub.IsOnline(bob) }, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 10; i++ {
		_, err := f.hub.SendMessage(context.Background(), alice, bob, "flood")
		require.NoError(t, err)
	}

	select {
	case <-b.served:
	case <-time.After(2 * time.Second):
		t.Fatal("slow consumer was not closed")
	}
	require.True(t, stuck.isClosed())
	require.False(t, f.hub.IsOnline(bob))
	require.GreaterOrEqual(t, promtest.ToFloat64(f.metrics.DroppedDeliveries), float64(1))
	require.Equal(t, int64(10), f.messageCount(t))
}

func TestPingGetsPong(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	a := f.connectReady(t, alice)

	a.conn.push(t, `{"type":"ping","payload":{}}`)
	a.waitFor(t, "pong", 1)
}

func TestMalformedFramesAreRejected(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	a := f.connectReady(t, alice)

	a.conn.push(t, `not json`)
	a.conn.push(t, `{"type":"dance","payload":{},"ref":"d1"}`)
	a.conn.push(t, `{"payload":{}}`)
	a.conn.push(t, `{"type":"send","payload":"oops","ref":"s1"}`)

	errs := a.waitFor(t, "error", 4)
	for _, e := range errs {
		require.Equal(t, CodeInvalidMessage, e.Code)
	}
	require.Equal(t, "d1", errs[1].Ref)
	require.Equal(t, "s1", errs[3].Ref)

	a.barrier(t)
	require.True(t, f.hub.IsOnline(alice))
	require.Equal(t, float64(4), promtest.ToFloat64(f.metrics.EventsTotal.WithLabelValues("invalid", metrics.OutcomeRejected)))
}

type blockingMessages struct{}

func (blockingMessages) Send(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: append: %w", service.ErrStore, ctx.Err())
}

func (blockingMessages) MarkRead(ctx context.Context, userID, messageID string) (*models.Message, bool, error) {
	<-ctx.Done()
	return nil, false, fmt.Errorf("%w: set read: %w", service.ErrStore, ctx.Err())
}

func TestStoreTimeoutRejectsOnlyThatEvent(t *testing.T) {
	cfg := testWSConfig()
	cfg.OperationTimeout = 50 * time.Millisecond
	verifier := &stubVerifier{users: map[string]string{"alice": "alice"}}
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(cfg, verifier, blockingMessages{}, nil, nil, m)
	t.Cleanup(hub.Shutdown)

	conn := newFakeConn()
	served := make(chan struct{})
	go func() {
		defer close(served)
		hub.Serve(conn, "alice")
	}()
	t.Cleanup(func() { _ = conn.Close() })
	a := &client{conn: conn, served: served}

	a.conn.push(t, sendFrame(uuid.NewString(), "hi", "t1"))
	errs := a.waitFor(t, "error", 1)
	require.Equal(t, CodeStoreFailure, errs[0].Code)
	require.Equal(t, "t1", errs[0].Ref)
	require.Empty(t, a.conn.received("newMessage"))

	a.barrier(t)
	require.True(t, hub.IsOnline("alice"))
	require.Equal(t, float64(1), promtest.ToFloat64(m.EventsTotal.WithLabelValues("send", metrics.OutcomeFailed)))
}

func TestShutdownClosesSessions(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.addUser(t, "15550000001", "alice")
	a := f.connectReady(t, alice)

	f.hub.Shutdown()

	select {
	case <-a.served:
	case <-time.After(2 * time.Second):
		t.Fatal("session survived shutdown")
	}
	require.False(t, f.hub.IsOnline(alice))

	late := newFakeConn()
	f.hub.Serve(late, alice)
	require.True(t, late.isClosed())
	require.False(t, f.hub.IsOnline(alice))
}
