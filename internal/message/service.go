// Package message persists inbound and outbound messages and enforces the
// direction-scoped status state machine.
package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/store"
)

// ErrEmptyContent is returned for blank message content.
var ErrEmptyContent = errors.New("message content is empty")

// ErrInvalidTransition is returned for a status change outside the transition table.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrMessageNotFound is returned when the message id does not exist.
var ErrMessageNotFound = errors.New("message not found")

// ErrConversationNotFound is returned when persisting into a missing conversation.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrInactiveConversation is returned when queueing an outbound reply into a
// closed conversation.
var ErrInactiveConversation = errors.New("conversation is not active")

// transitions is the full table of allowed status changes per direction.
// Anything absent is invalid; sent and failed are terminal.
var transitions = map[store.Direction]map[store.Status][]store.Status{
	store.DirectionInbound: {
		store.StatusReceived: {store.StatusRead},
	},
	store.DirectionOutbound: {
		store.StatusQueued: {store.StatusSent, store.StatusFailed},
	},
}

// CanTransition reports whether a message of the given direction may move
// from one status to another.
func CanTransition(direction store.Direction, from, to store.Status) bool {
	for _, allowed := range transitions[direction][from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Service writes messages and applies status transitions.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates a message service.
func NewService(log *slog.Logger, st store.Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  st,
		logger: log.With(slog.String("service", "message")),
	}
}

// PersistInbound stores a customer message with status received. The owning
// conversation row is re-locked inside the transaction, so a reference to a
// concurrently-deleted conversation fails cleanly instead of inserting an
// orphan.
func (s *Service) PersistInbound(ctx context.Context, conversationID, content string) (store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return store.Message{}, ErrEmptyContent
	}

	var msg store.Message
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetConversationForUpdate(ctx, conversationID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrConversationNotFound
			}
			return err
		}
		msg = store.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Direction:      store.DirectionInbound,
			Status:         store.StatusReceived,
			Content:        content,
			CreatedAt:      time.Now().UTC(),
		}
		return s.store.InsertMessage(ctx, msg)
	})
	if err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

// PersistOutbound queues a reply for dispatch. The conversation must still
// be active; replying into a closed thread is a caller bug.
func (s *Service) PersistOutbound(ctx context.Context, conversationID, content string) (store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return store.Message{}, ErrEmptyContent
	}

	var msg store.Message
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		conv, err := s.store.GetConversationForUpdate(ctx, conversationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrConversationNotFound
			}
			return err
		}
		if !conv.IsActive {
			return ErrInactiveConversation
		}
		msg = store.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Direction:      store.DirectionOutbound,
			Status:         store.StatusQueued,
			Content:        content,
			CreatedAt:      time.Now().UTC(),
		}
		return s.store.InsertMessage(ctx, msg)
	})
	if err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

// UpdateStatus locks the message row, validates the transition against the
// table for its direction, and applies it.
func (s *Service) UpdateStatus(ctx context.Context, id string, target store.Status) (store.Message, error) {
	var msg store.Message
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.store.GetMessageForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		if !CanTransition(current.Direction, current.Status, target) {
			return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, current.Direction, current.Status, target)
		}
		if err := s.store.UpdateMessageStatus(ctx, id, target); err != nil {
			return err
		}
		current.Status = target
		msg = current
		return nil
	})
	if err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

// Get returns a message by id.
func (s *Service) Get(ctx context.Context, id string) (store.Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// List returns all messages of a conversation, oldest first.
func (s *Service) List(ctx context.Context, conversationID string) ([]store.Message, error) {
	return s.store.ListMessages(ctx, conversationID)
}

// ListQueued returns every outbound message still waiting for dispatch.
func (s *Service) ListQueued(ctx context.Context) ([]store.Message, error) {
	return s.store.ListQueuedOutbound(ctx)
}
