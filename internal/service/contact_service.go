package service

import (
	"context"
	"sort"

	"github.com/hirpha/mini-chat-backend/internal/models"
	"github.com/hirpha/mini-chat-backend/internal/repository"
	"github.com/hirpha/mini-chat-backend/internal/validation"
	"github.com/samber/lo"
)

const maxSyncPhones = 1000

type ContactService struct {
	userRepo    repository.UserRepositoryInterface
	messageRepo repository.MessageRepositoryInterface
	presence    PresenceReader
}

func NewContactService(userRepo repository.UserRepositoryInterface, messageRepo repository.MessageRepositoryInterface) *ContactService {
	return &ContactService{userRepo: userRepo, messageRepo: messageRepo}
}

func (s *ContactService) SetPresence(p PresenceReader) {
	s.presence = p
}

type SyncContactsInput struct {
	PhoneNumbers []string `json:"phoneNumbers" validate:"max=1000"`
}

type Contact struct {
	User         models.UserResponse     `json:"user"`
	LastMessage  *models.MessageResponse `json:"lastMessage"`
	UnreadCount  int64                   `json:"unreadCount"`
	IsInContacts bool                    `json:"isInContacts"`
}

// Sync returns registered users among phoneNumbers plus everyone who has
// messaged the caller, most recent conversation first.
func (s *ContactService) Sync(ctx context.Context, userID string, phoneNumbers []string) ([]Contact, error) {
	if len(phoneNumbers) > maxSyncPhones {
		return nil, validationError("at most %d phone numbers per sync", maxSyncPhones)
	}
	phones := validation.NormalizePhones(phoneNumbers)

	matched, err := s.userRepo.FindByPhones(ctx, phones)
	if err != nil {
		return nil, storeError("match contacts", err)
	}
	matched = lo.Filter(matched, func(u models.User, _ int) bool { return u.ID != userID })
	inContacts := lo.SliceToMap(matched, func(u models.User) (string, bool) { return u.ID, true })

	senderIDs, err := s.messageRepo.ListSenderIDs(ctx, userID)
	if err != nil {
		return nil, storeError("list senders", err)
	}
	extraIDs := lo.Filter(senderIDs, func(id string, _ int) bool { return id != userID && !inContacts[id] })
	extra, err := s.userRepo.FindByIDs(ctx, extraIDs)
	if err != nil {
		return nil, storeError("load senders", err)
	}

	contacts := make([]Contact, 0, len(matched)+len(extra))
	for _, u := range append(matched, extra...) {
		c, err := s.buildContact(ctx, userID, u, inContacts[u.ID])
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}

	sort.SliceStable(contacts, func(i, j int) bool {
		li, lj := contacts[i].LastMessage, contacts[j].LastMessage
		switch {
		case li != nil && lj != nil:
			return li.CreatedAt.After(lj.CreatedAt)
		case li != nil:
			return true
		case lj != nil:
			return false
		}
		return contacts[i].User.Name < contacts[j].User.Name
	})
	return contacts, nil
}

func (s *ContactService) buildContact(ctx context.Context, userID string, u models.User, inContacts bool) (Contact, error) {
	if s.presence != nil {
		u.IsOnline = s.presence.IsOnline(u.ID)
	}
	c := Contact{User: u.ToResponse(), IsInContacts: inContacts}

	last, err := s.messageRepo.LastBetween(ctx, userID, u.ID)
	if err != nil {
		return Contact{}, storeError("last message", err)
	}
	if last != nil {
		resp := last.ToResponse()
		c.LastMessage = &resp
	}

	c.UnreadCount, err = s.messageRepo.CountUnreadFrom(ctx, userID, u.ID)
	if err != nil {
		return Contact{}, storeError("count unread", err)
	}
	return c, nil
}
