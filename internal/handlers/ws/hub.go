package ws

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/hirpha/mini-chat-backend/internal/auth"
	"github.com/hirpha/mini-chat-backend/internal/cache"
	"github.com/hirpha/mini-chat-backend/internal/config"
	"github.com/hirpha/mini-chat-backend/internal/metrics"
	"github.com/hirpha/mini-chat-backend/internal/models"
	"github.com/hirpha/mini-chat-backend/internal/service"
	"github.com/samber/lo"
)

// MessageService is the persistence side of realtime messaging.
type MessageService interface {
	Send(ctx context.Context, senderID, receiverID, content string) (*models.Message, error)
	MarkRead(ctx context.Context, userID, messageID string) (*models.Message, bool, error)
}

// PresenceStore receives the durable presence mirror.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
	UpdateLastActive(ctx context.Context, userID string, at time.Time) error
}

const presenceStripes = 64

// Hub manages all active WebSocket sessions
type Hub struct {
	cfg       config.WSConfig
	verifier  auth.Verifier
	messages  MessageService
	users     PresenceStore
	userCache *cache.UserCache
	metrics   *metrics.Metrics

	registry *Registry

	// transitions serializes registry changes with their presence broadcast.
	transitions sync.Mutex
	shutdown    bool

	mirrorMu     sync.Mutex
	mirrorIdle   *sync.Cond
	mirrorCount  int
	presenceLock [presenceStripes]sync.Mutex
}

// NewHub creates a new Hub instance
func NewHub(
	cfg config.WSConfig,
	verifier auth.Verifier,
	messages MessageService,
	users PresenceStore,
	userCache *cache.UserCache,
	m *metrics.Metrics,
) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	h := &Hub{
		cfg:       cfg,
		verifier:  verifier,
		messages:  messages,
		users:     users,
		userCache: userCache,
		metrics:   m,
		registry:  NewRegistry(),
	}
	h.mirrorIdle = sync.NewCond(&h.mirrorMu)
	return h
}

// Serve authenticates the transport and runs the session until it closes.
// It returns only after every goroutine touching the transport has exited.
func (h *Hub) Serve(conn Transport, credential string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.AuthTimeout)
	userID, err := h.verifier.Authenticate(ctx, credential)
	cancel()
	if err != nil {
		h.metrics.AuthFailed()
		if !errors.Is(err, auth.ErrInvalidCredential) {
			log.Printf("ws auth failed err=%v", err)
		}
		_ = conn.Close()
		return
	}

	s := newSession(h, conn, userID)
	if !h.register(s) {
		_ = conn.Close()
		return
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.writePump()
	}()

	s.readLoop()
	<-pumpDone
}

func (h *Hub) register(s *Session) bool {
	h.transitions.Lock()
	if h.shutdown {
		h.transitions.Unlock()
		return false
	}
	h.registry.Add(s.userID, s)
	s.registered = true
	dropped := h.broadcastLocked(UserOnlineEvent{UserID: s.userID})
	online := h.registry.Count()
	h.transitions.Unlock()

	h.metrics.SessionOpened()
	h.metrics.SetOnlineUsers(online)
	log.Printf("ws connected session=%s user_id=%s online=%d", s.id, s.userID, online)

	h.closeDropped(dropped)
	h.mirrorPresence(s.userID)
	return true
}

func (h *Hub) unregister(s *Session) {
	h.transitions.Lock()
	if !s.registered {
		h.transitions.Unlock()
		return
	}
	s.registered = false
	wasLast := h.registry.Remove(s.userID, s)
	var dropped []*Session
	if wasLast {
		dropped = h.broadcastLocked(UserOfflineEvent{UserID: s.userID})
	}
	online := h.registry.Count()
	h.transitions.Unlock()

	h.metrics.SessionClosed()
	h.metrics.SetOnlineUsers(online)
	log.Printf("ws disconnected session=%s user_id=%s last=%v online=%d", s.id, s.userID, wasLast, online)

	h.closeDropped(dropped)
	if wasLast {
		h.mirrorPresence(s.userID)
	}
}

// broadcastLocked enqueues e on every registered session and returns the
// sessions whose buffers were full. Callers hold transitions and must close
// the returned sessions only after releasing it.
func (h *Hub) broadcastLocked(e Event) []*Session {
	frame, err := Serialize(e)
	if err != nil {
		log.Printf("ws serialize failed type=%s err=%v", e.GetType(), err)
		return nil
	}
	var dropped []*Session
	for _, s := range h.registry.All() {
		if !s.enqueue(frame) {
			dropped = append(dropped, s)
		}
	}
	return dropped
}

func (h *Hub) closeDropped(sessions []*Session) {
	for _, s := range sessions {
		h.dropSlow(s)
	}
}

// dropSlow closes a session whose outbound buffer is full.
func (h *Hub) dropSlow(s *Session) {
	h.metrics.DeliveryDropped()
	log.Printf("ws slow consumer closed session=%s user_id=%s", s.id, s.userID)
	s.Close()
}

// deliver sends e once to every live session of the given users.
func (h *Hub) deliver(e Event, userIDs ...string) {
	frame, err := Serialize(e)
	if err != nil {
		log.Printf("ws serialize failed type=%s err=%v", e.GetType(), err)
		return
	}

	var targets []*Session
	for _, id := range lo.Uniq(userIDs) {
		targets = append(targets, h.registry.Handles(id)...)
	}
	for _, s := range targets {
		if !s.enqueue(frame) {
			h.dropSlow(s)
		}
	}
}

// mirrorPresence copies the registry's current view of a user to the user
// store and the Redis cache. Writes for one user never interleave.
func (h *Hub) mirrorPresence(userID string) {
	h.mirrorMu.Lock()
	h.mirrorCount++
	h.mirrorMu.Unlock()

	go func() {
		defer func() {
			h.mirrorMu.Lock()
			h.mirrorCount--
			if h.mirrorCount == 0 {
				h.mirrorIdle.Broadcast()
			}
			h.mirrorMu.Unlock()
		}()

		lock := h.stripe(userID)
		lock.Lock()
		defer lock.Unlock()

		ctx, cancel := h.operationContext()
		defer cancel()

		online := h.registry.IsOnline(userID)
		if h.users != nil {
			if err := h.users.UpdateLastActive(ctx, userID, time.Now()); err != nil {
				log.Printf("presence mirror failed user_id=%s err=%v", userID, err)
			}
			if err := h.users.SetOnline(ctx, userID, online); err != nil {
				log.Printf("presence mirror failed user_id=%s err=%v", userID, err)
			}
		}

		var err error
		if online {
			err = h.userCache.SetUserOnline(ctx, userID)
		} else {
			err = h.userCache.SetUserOffline(ctx, userID)
		}
		if err != nil {
			log.Printf("presence cache failed user_id=%s err=%v", userID, err)
		}
	}()
}

// touch extends the cached presence TTL after a pong.
func (h *Hub) touch(userID string) {
	if h.userCache == nil {
		return
	}
	ctx, cancel := h.operationContext()
	defer cancel()
	if err := h.userCache.RefreshUserOnline(ctx, userID); err != nil && h.cfg.Debug {
		log.Printf("presence refresh failed user_id=%s err=%v", userID, err)
	}
}

func (h *Hub) stripe(userID string) *sync.Mutex {
	f := fnv.New32a()
	_, _ = f.Write([]byte(userID))
	return &h.presenceLock[f.Sum32()%presenceStripes]
}

func (h *Hub) operationContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.cfg.OperationTimeout)
}

// SendMessage persists a message and fans it out to both parties' sessions.
// Nothing is emitted when persistence fails.
func (h *Hub) SendMessage(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	msg, err := h.messages.Send(ctx, senderID, receiverID, content)
	if err != nil {
		return nil, err
	}
	h.deliver(NewMessageEvent{Message: msg.ToResponse()}, msg.SenderID, msg.ReceiverID)
	return msg, nil
}

// MarkRead marks a message read on behalf of an HTTP caller and echoes the
// result to the caller's live sessions.
func (h *Hub) MarkRead(ctx context.Context, userID, messageID string) (*models.Message, error) {
	return h.markRead(ctx, userID, messageID, nil)
}

func (h *Hub) markRead(ctx context.Context, userID, messageID string, origin *Session) (*models.Message, error) {
	msg, transitioned, err := h.messages.MarkRead(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	event := MessageReadEvent{Message: msg.ToResponse()}
	if origin != nil {
		origin.Send(event)
	} else {
		h.deliver(event, userID)
	}
	if transitioned && msg.SenderID != userID {
		h.deliver(event, msg.SenderID)
	}
	return msg, nil
}

func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

func (h *Hub) ListOnline() []string {
	return h.registry.ListOnline()
}

// Count returns the number of online users
func (h *Hub) Count() int {
	return h.registry.Count()
}

// Shutdown closes every session and waits for pending presence writes.
func (h *Hub) Shutdown() {
	h.transitions.Lock()
	h.shutdown = true
	h.transitions.Unlock()

	for _, s := range h.registry.All() {
		s.Close()
	}
	h.Wait()
}

// Wait blocks until queued presence writes finish.
func (h *Hub) Wait() {
	h.mirrorMu.Lock()
	for h.mirrorCount > 0 {
		h.mirrorIdle.Wait()
	}
	h.mirrorMu.Unlock()
}

// classify maps a service error to a wire code and message.
func classify(err error) (code, message string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return CodeValidationFailed, "Invalid request"
	case errors.Is(err, service.ErrNotFound):
		return CodeNotFound, "Not found"
	case errors.Is(err, service.ErrForbidden):
		return CodeForbidden, "Forbidden"
	default:
		return CodeStoreFailure, "Internal error"
	}
}
