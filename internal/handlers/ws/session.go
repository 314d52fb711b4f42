package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/hirpha/mini-chat-backend/internal/metrics"
	"github.com/hirpha/mini-chat-backend/internal/validation"
)

// Transport is the part of a websocket connection a session drives.
// *websocket.Conn from gofiber satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session is one authenticated connection. Its read loop handles one event
// at a time; a single write pump owns all writes to the transport.
type Session struct {
	id     string
	userID string
	hub    *Hub
	conn   Transport

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// guarded by hub.transitions
	registered bool
}

func newSession(hub *Hub, conn Transport, userID string) *Session {
	return &Session{
		id:     uuid.NewString(),
		userID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) UserID() string {
	return s.userID
}

// Send serializes and enqueues an event for this session only.
func (s *Session) Send(e Event) {
	frame, err := Serialize(e)
	if err != nil {
		log.Printf("ws serialize failed type=%s err=%v", e.GetType(), err)
		return
	}
	if !s.enqueue(frame) {
		s.hub.dropSlow(s)
	}
}

// enqueue never blocks. It reports false only when the buffer is full.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) sendError(code, message, details, ref string) {
	if !s.enqueue(errorFrame(code, message, details, ref)) {
		s.hub.dropSlow(s)
	}
}

// Close tears the session down once; later calls are no-ops.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.conn.Close(); err != nil && s.hub.cfg.Debug {
			log.Printf("ws close session=%s err=%v", s.id, err)
		}
		s.hub.unregister(s)
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			if !s.write(websocket.TextMessage, frame) {
				return
			}
		case <-ticker.C:
			if !s.write(websocket.PingMessage, nil) {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) write(messageType int, data []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.hub.cfg.WriteTimeout)); err != nil {
		return false
	}
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		if s.hub.cfg.Debug && !s.closed() {
			log.Printf("ws write failed session=%s user_id=%s err=%v", s.id, s.userID, err)
		}
		return false
	}
	return true
}

func (s *Session) readLoop() {
	defer s.Close()

	if s.hub.cfg.MaxFrameBytes > 0 {
		s.conn.SetReadLimit(s.hub.cfg.MaxFrameBytes)
	}
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		s.hub.touch(s.userID)
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.hub.cfg.Debug && !s.closed() {
				log.Printf("ws read ended session=%s user_id=%s err=%v", s.id, s.userID, err)
			}
			return
		}
		s.extendReadDeadline()

		if s.hub.cfg.Debug {
			log.Printf("ws_recv session=%s user_id=%s size=%d", s.id, s.userID, len(data))
		}
		s.handle(data)
	}
}

func (s *Session) extendReadDeadline() {
	if s.hub.cfg.PongTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.hub.cfg.PongTimeout))
	}
}

func (s *Session) handle(data []byte) {
	start := time.Now()

	wrapper, msg, err := Deserialize(data)
	if err != nil {
		ref := ""
		if wrapper != nil {
			ref = wrapper.Ref
		}
		s.hub.metrics.ObserveEvent("invalid", metrics.OutcomeRejected, time.Since(start))
		s.sendError(CodeInvalidMessage, "Invalid message format", err.Error(), ref)
		return
	}

	if err := validation.Struct(msg); err != nil {
		s.hub.metrics.ObserveEvent(msg.GetType(), metrics.OutcomeRejected, time.Since(start))
		s.sendError(CodeValidationFailed, "Invalid payload", err.Error(), wrapper.Ref)
		return
	}

	err = msg.Process(&MessageContext{
		UserID:  s.userID,
		Session: s,
		Hub:     s.hub,
		Ref:     wrapper.Ref,
	})
	if err == nil {
		s.hub.metrics.ObserveEvent(msg.GetType(), metrics.OutcomeOK, time.Since(start))
		return
	}

	code, message := classify(err)
	outcome := metrics.OutcomeRejected
	details := err.Error()
	if code == CodeStoreFailure {
		outcome = metrics.OutcomeFailed
		details = ""
		log.Printf("ws event failed type=%s user_id=%s err=%v", msg.GetType(), s.userID, err)
	}
	s.hub.metrics.ObserveEvent(msg.GetType(), outcome, time.Since(start))
	s.sendError(code, message, details, wrapper.Ref)
}
