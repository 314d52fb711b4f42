package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hirpha/mini-chat-backend/internal/models"
	"github.com/hirpha/mini-chat-backend/internal/repository"
	"github.com/hirpha/mini-chat-backend/internal/storage"
	"gorm.io/gorm"
)

// MockUserRepository is an in-memory UserRepositoryInterface.
type MockUserRepository struct {
	mu    sync.Mutex
	users map[string]*models.User
	err   error
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[string]*models.User)}
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	for _, u := range m.users {
		if u.PhoneNumber == user.PhoneNumber {
			return errors.New("duplicate phone number")
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *MockUserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if user, ok := m.users[id]; ok {
		cp := *user
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockUserRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, m.err
}

func (m *MockUserRepository) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.users {
		if u.PhoneNumber == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockUserRepository) FindByPhones(ctx context.Context, phones []string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(phones))
	for _, p := range phones {
		want[p] = true
	}
	var out []models.User
	for _, u := range m.users {
		if want[u.PhoneNumber] {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PhoneNumber < out[j].PhoneNumber })
	return out, m.err
}

func (m *MockUserRepository) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.users[id]
	return ok, nil
}

func (m *MockUserRepository) Update(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MockUserRepository) SetOnline(ctx context.Context, userID string, isOnline bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.IsOnline = isOnline
	}
	return m.err
}

func (m *MockUserRepository) UpdateLastActive(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastActiveAt = &at
	}
	return m.err
}

func (m *MockUserRepository) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		if strings.Contains(strings.ToLower(u.Name), query) || strings.Contains(u.PhoneNumber, query) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, m.err
}

// MockMessageRepository is an in-memory MessageRepositoryInterface.
type MockMessageRepository struct {
	mu       sync.Mutex
	messages []*models.Message
	clock    time.Time
	err      error
	appends  int
}

func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *MockMessageRepository) Append(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.clock = m.clock.Add(time.Second)
	m.appends++
	msg := &models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  m.clock,
	}
	m.messages = append(m.messages, msg)
	cp := *msg
	return &cp, nil
}

func (m *MockMessageRepository) find(id string) *models.Message {
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

func (m *MockMessageRepository) FindByID(ctx context.Context, id string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if msg := m.find(id); msg != nil {
		cp := *msg
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func between(msg *models.Message, a, b string) bool {
	return (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a)
}

func (m *MockMessageRepository) Range(ctx context.Context, userID, otherUserID string, limit int, before *time.Time) ([]models.Message, error) {
	if before == nil {
		return m.Page(ctx, userID, otherUserID, limit, nil)
	}
	return m.Page(ctx, userID, otherUserID, limit, &repository.Cursor{CreatedAt: *before})
}

// Page walks newest first; messages are appended in (created_at, id) order.
func (m *MockMessageRepository) Page(ctx context.Context, userID, otherUserID string, limit int, before *repository.Cursor) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if limit <= 0 {
		limit = 50
	}
	var out []models.Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := m.messages[i]
		if !between(msg, userID, otherUserID) {
			continue
		}
		if before != nil && !olderThan(msg, before) {
			continue
		}
		out = append(out, *msg)
	}
	return out, nil
}

func olderThan(msg *models.Message, c *repository.Cursor) bool {
	if msg.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return c.ID != "" && msg.CreatedAt.Equal(c.CreatedAt) && msg.ID < c.ID
}

func (m *MockMessageRepository) SetRead(ctx context.Context, id string, at time.Time) (*models.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	msg := m.find(id)
	if msg == nil {
		return nil, false, gorm.ErrRecordNotFound
	}
	transitioned := false
	if !msg.IsRead {
		msg.IsRead = true
		msg.ReadAt = &at
		transitioned = true
	}
	cp := *msg
	return &cp, transitioned, nil
}

func (m *MockMessageRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages {
		if msg.ReceiverID == userID && !msg.IsRead {
			n++
		}
	}
	return n, m.err
}

func (m *MockMessageRepository) CountUnreadFrom(ctx context.Context, userID, peerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages {
		if msg.ReceiverID == userID && msg.SenderID == peerID && !msg.IsRead {
			n++
		}
	}
	return n, m.err
}

func (m *MockMessageRepository) MarkConversationRead(ctx context.Context, userID, peerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, msg := range m.messages {
		if msg.ReceiverID == userID && msg.SenderID == peerID && !msg.IsRead {
			msg.IsRead = true
			msg.ReadAt = &now
			n++
		}
	}
	return n, m.err
}

func (m *MockMessageRepository) LastBetween(ctx context.Context, userID, peerID string) (*models.Message, error) {
	msgs, err := m.Range(ctx, userID, peerID, 1, nil)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

func (m *MockMessageRepository) ListSenderIDs(ctx context.Context, receiverID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, msg := range m.messages {
		if msg.ReceiverID == receiverID && !seen[msg.SenderID] {
			seen[msg.SenderID] = true
			out = append(out, msg.SenderID)
		}
	}
	return out, m.err
}

// MockOTPRepository is an in-memory OTPRepositoryInterface.
type MockOTPRepository struct {
	mu   sync.Mutex
	otps []*models.OTP
}

func NewMockOTPRepository() *MockOTPRepository {
	return &MockOTPRepository{}
}

func (m *MockOTPRepository) Create(ctx context.Context, otp *models.OTP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if otp.ID == "" {
		otp.ID = uuid.NewString()
	}
	m.otps = append(m.otps, otp)
	return nil
}

func (m *MockOTPRepository) InvalidateOutstanding(ctx context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.otps {
		if o.PhoneNumber == phone {
			o.IsUsed = true
		}
	}
	return nil
}

func (m *MockOTPRepository) FindLatestActive(ctx context.Context, phone string, now time.Time) (*models.OTP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.otps) - 1; i >= 0; i-- {
		o := m.otps[i]
		if o.PhoneNumber == phone && !o.IsUsed && !o.IsExpired(now) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockOTPRepository) IncrementAttempts(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.otps {
		if o.ID == id {
			o.Attempts++
		}
	}
	return nil
}

func (m *MockOTPRepository) Consume(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.otps {
		if o.ID == id && !o.IsUsed {
			o.IsUsed = true
			return true, nil
		}
	}
	return false, nil
}

// MockRefreshTokenRepository is an in-memory RefreshTokenRepositoryInterface.
type MockRefreshTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func NewMockRefreshTokenRepository() *MockRefreshTokenRepository {
	return &MockRefreshTokenRepository{tokens: make(map[string]*models.RefreshToken)}
}

func (m *MockRefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.TokenHash] = token
	return nil
}

func (m *MockRefreshTokenRepository) FindValidByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[hash]
	if !ok || token.IsRevoked() || time.Now().After(token.ExpiresAt) {
		return nil, gorm.ErrRecordNotFound
	}
	return token, nil
}

func (m *MockRefreshTokenRepository) RevokeByHash(ctx context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[hash]
	if !ok || token.IsRevoked() {
		return false, nil
	}
	now := time.Now()
	token.RevokedAt = &now
	return true, nil
}

// captureSender records the last code instead of delivering it.
type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *captureSender) SendOTP(ctx context.Context, phone, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil {
		c.codes = map[string]string{}
	}
	c.codes[phone] = code
	return nil
}

func (c *captureSender) last(phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[phone]
}

type staticPresence map[string]bool

func (p staticPresence) IsOnline(userID string) bool { return p[userID] }

// memoryStore is an in-memory storage.ObjectStore.
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (s *memoryStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.ObjectStat, error) {
	if s.putErr != nil {
		return storage.ObjectStat{}, s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectStat{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return storage.ObjectStat{ETag: "etag-" + key, Size: int64(len(data)), ContentType: contentType}, nil
}

func (s *memoryStore) GetObject(ctx context.Context, key string) (io.ReadCloser, storage.ObjectStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ObjectStat{}, errors.New("missing object")
	}
	return io.NopCloser(bytes.NewReader(data)), storage.ObjectStat{Size: int64(len(data)), ContentType: "image/jpeg"}, nil
}

func (s *memoryStore) DeleteObject(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// memoryHistoryCache is an in-memory HistoryCache. beforeSet, when set, runs
// once just before a conversation page is stored.
type memoryHistoryCache struct {
	mu        sync.Mutex
	gens      map[string]int64
	pages     map[string][]models.Message
	unread    map[string]int64
	beforeSet func()
}

func newMemoryHistoryCache() *memoryHistoryCache {
	return &memoryHistoryCache{
		gens:   map[string]int64{},
		pages:  map[string][]models.Message{},
		unread: map[string]int64{},
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "conv:" + a + ":" + b
}

func stamped(key string, gen int64) string {
	return key + "#" + strconv.FormatInt(gen, 10)
}

func (c *memoryHistoryCache) ConversationGeneration(ctx context.Context, userID1, userID2 string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[pairKey(userID1, userID2)], nil
}

func (c *memoryHistoryCache) GetConversation(ctx context.Context, userID1, userID2 string, gen int64) ([]models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, ok := c.pages[stamped(pairKey(userID1, userID2), gen)]
	return page, ok
}

func (c *memoryHistoryCache) SetConversation(ctx context.Context, userID1, userID2 string, gen int64, messages []models.Message) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[stamped(pairKey(userID1, userID2), gen)] = messages
	return nil
}

func (c *memoryHistoryCache) InvalidateConversation(ctx context.Context, userID1, userID2 string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[pairKey(userID1, userID2)]++
	return nil
}

func (c *memoryHistoryCache) UnreadGeneration(ctx context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens["unread:"+userID], nil
}

func (c *memoryHistoryCache) GetUnreadCount(ctx context.Context, userID string, gen int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.unread[stamped("unread:"+userID, gen)]
	return n, ok
}

func (c *memoryHistoryCache) SetUnreadCount(ctx context.Context, userID string, gen int64, count int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unread[stamped("unread:"+userID, gen)] = count
	return nil
}

func (c *memoryHistoryCache) InvalidateUnreadCount(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens["unread:"+userID]++
	return nil
}
