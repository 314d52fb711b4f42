package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is a single 1:1 chat message. Rows are never deleted; the only
// mutation after insert is the false->true read transition.
type Message struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	Content string `gorm:"type:text;not null" json:"content"`

	SenderID   string `gorm:"type:uuid;not null;index:idx_messages_pair,priority:1" json:"sender_id"`
	Sender     User   `gorm:"foreignKey:SenderID" json:"sender"`
	ReceiverID string `gorm:"type:uuid;not null;index:idx_messages_pair,priority:2;index" json:"receiver_id"`
	Receiver   User   `gorm:"foreignKey:ReceiverID" json:"receiver"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

type MessageResponse struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Sender     UserInfo   `json:"sender"`
	Receiver   UserInfo   `json:"receiver"`
	CreatedAt  time.Time  `json:"createdAt"`
	IsRead     bool       `json:"isRead"`
	ReadAt     *time.Time `json:"readAt"`
}

func (m *Message) ToResponse() MessageResponse {
	sender := m.Sender.ToInfo()
	if sender.ID == "" {
		sender.ID = m.SenderID
	}
	receiver := m.Receiver.ToInfo()
	if receiver.ID == "" {
		receiver.ID = m.ReceiverID
	}
	return MessageResponse{
		ID:         m.ID,
		Content:    m.Content,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Sender:     sender,
		Receiver:   receiver,
		CreatedAt:  m.CreatedAt,
		IsRead:     m.IsRead,
		ReadAt:     m.ReadAt,
	}
}
