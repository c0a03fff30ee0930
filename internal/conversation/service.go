package conversation

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

// Service opens, reuses, and closes conversations. All mutation for one
// (identifier, channel) key runs inside that key's critical section and a
// single store transaction.
type Service struct {
	store  store.Store
	locks  *KeyLocks
	logger *slog.Logger
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, st store.Store, locks *KeyLocks) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  st,
		locks:  locks,
		logger: log.With(slog.String("service", "conversation")),
	}
}

// GetOrOpen returns the active conversation for the key, opening a new one
// when none exists. Reuse is idempotent: repeated calls with no intervening
// close return the same conversation.
//
// An optional within func runs inside the same critical section and
// transaction as the open, so callers can persist an inbound message
// atomically with it.
//
// When the insert loses a cross-process race despite the key lock (unique
// violation from a concurrent opener), the whole transaction is retried
// exactly once; a second failure propagates.
func (s *Service) GetOrOpen(ctx context.Context, identifier string, channel store.Channel, within ...func(ctx context.Context, conv store.Conversation) error) (store.Conversation, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return store.Conversation{}, ErrMissingIdentifier
	}

	unlock := s.locks.Acquire(identifier, channel)
	defer unlock()

	conv, err := s.openOnce(ctx, identifier, channel, within)
	if errors.Is(err, store.ErrDuplicateActiveConversation) {
		s.logger.Warn("conversation insert lost a race, retrying",
			slog.String("identifier", identifier),
			slog.String("channel", channel.String()),
		)
		conv, err = s.openOnce(ctx, identifier, channel, within)
	}
	if err != nil {
		return store.Conversation{}, err
	}
	return conv, nil
}

func (s *Service) openOnce(ctx context.Context, identifier string, channel store.Channel, within []func(ctx context.Context, conv store.Conversation) error) (store.Conversation, error) {
	var conv store.Conversation
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.ActiveConversationForUpdate(ctx, identifier, channel)
		switch {
		case err == nil:
			conv = existing
		case errors.Is(err, store.ErrNotFound):
			now := time.Now().UTC()
			// Self-heal: the unique index means there should be nothing to
			// deactivate here, but clear out stale actives if it was ever
			// violated.
			if _, err := s.store.DeactivateConversations(ctx, identifier, channel, now); err != nil {
				return err
			}
			conv = store.Conversation{
				ID:             uuid.NewString(),
				UserIdentifier: identifier,
				Channel:        channel,
				IsActive:       true,
				StartedAt:      now,
			}
			if err := s.store.InsertConversation(ctx, conv); err != nil {
				return err
			}
		default:
			return fmt.Errorf("find active conversation: %w", err)
		}

		for _, fn := range within {
			if err := fn(ctx, conv); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return store.Conversation{}, err
	}
	return conv, nil
}

// CloseActive closes every active conversation for the key (normally 0 or
// 1) and returns the rows it closed. The next inbound message for the key
// opens a fresh conversation.
func (s *Service) CloseActive(ctx context.Context, identifier string, channel store.Channel) ([]store.Conversation, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrMissingIdentifier
	}

	unlock := s.locks.Acquire(identifier, channel)
	defer unlock()

	var closed []store.Conversation
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		closed, err = s.store.DeactivateConversations(ctx, identifier, channel, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("close active conversations: %w", err)
	}
	return closed, nil
}

// Get returns a conversation by id.
func (s *Service) Get(ctx context.Context, id string) (store.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// Delete removes a conversation and, by cascade, all its messages.
func (s *Service) Delete(ctx context.Context, id string) error {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}

	unlock := s.locks.Acquire(conv.UserIdentifier, conv.Channel)
	defer unlock()

	return s.store.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.DeleteConversation(ctx, id)
	})
}

// CloseIdle closes active conversations with no message newer than the idle
// window and returns how many it closed.
func (s *Service) CloseIdle(ctx context.Context, idleAfter time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-idleAfter)
	idle, err := s.store.ListIdleConversations(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list idle conversations: %w", err)
	}

	closed := 0
	for _, conv := range idle {
		rows, err := s.CloseActive(ctx, conv.UserIdentifier, conv.Channel)
		if err != nil {
			s.logger.Error("close idle conversation failed",
				slog.String("conversation_id", conv.ID),
				slog.Any("error", err),
			)
			continue
		}
		closed += len(rows)
	}
	return closed, nil
}
