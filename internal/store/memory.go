package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

type memoryTxKey struct{}

// MemoryStore is an in-memory Store used by tests and local development.
// A single store-wide mutex stands in for row locks: RunInTx holds it for
// the duration of the transaction, so everything inside one transaction is
// serialized against every other caller, which matches the guarantees the
// Postgres implementation provides through SELECT ... FOR UPDATE.
//
// The outermost RunInTx snapshots both maps and restores them when fn
// returns an error or panics, so a failed transaction leaves nothing
// behind, matching the Postgres rollback.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	messages      map[string]Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]Conversation),
		messages:      make(map[string]Message),
	}
}

// enter acquires the store lock unless ctx is already inside a transaction.
// The returned context marks the section as held; the returned func releases
// the lock when this call acquired it.
func (s *MemoryStore) enter(ctx context.Context) (context.Context, func()) {
	if ctx.Value(memoryTxKey{}) != nil {
		return ctx, func() {}
	}
	s.mu.Lock()
	return context.WithValue(ctx, memoryTxKey{}, struct{}{}), s.mu.Unlock
}

// RunInTx implements Store. The outermost call takes a snapshot and rolls
// back to it on error or panic; nested calls join the enclosing transaction
// and leave rollback to the outermost one.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	txCtx := context.WithValue(ctx, memoryTxKey{}, struct{}{})

	conversations := maps.Clone(s.conversations)
	messages := maps.Clone(s.messages)
	defer func() {
		if r := recover(); r != nil {
			s.conversations, s.messages = conversations, messages
			panic(r)
		}
		if err != nil {
			s.conversations, s.messages = conversations, messages
		}
	}()

	return fn(txCtx)
}

// ActiveConversationForUpdate implements Store.
func (s *MemoryStore) ActiveConversationForUpdate(ctx context.Context, identifier string, channel Channel) (Conversation, error) {
	_, release := s.enter(ctx)
	defer release()
	for _, conv := range s.conversations {
		if conv.IsActive && conv.UserIdentifier == identifier && conv.Channel == channel {
			return conv, nil
		}
	}
	return Conversation{}, ErrNotFound
}

// InsertConversation implements Store.
func (s *MemoryStore) InsertConversation(ctx context.Context, conv Conversation) error {
	_, release := s.enter(ctx)
	defer release()
	if conv.IsActive {
		for _, existing := range s.conversations {
			if existing.IsActive && existing.UserIdentifier == conv.UserIdentifier && existing.Channel == conv.Channel {
				return ErrDuplicateActiveConversation
			}
		}
	}
	s.conversations[conv.ID] = conv
	return nil
}

// DeactivateConversations implements Store.
func (s *MemoryStore) DeactivateConversations(ctx context.Context, identifier string, channel Channel, endedAt time.Time) ([]Conversation, error) {
	_, release := s.enter(ctx)
	defer release()
	var closed []Conversation
	for id, conv := range s.conversations {
		if conv.IsActive && conv.UserIdentifier == identifier && conv.Channel == channel {
			ended := endedAt
			conv.IsActive = false
			conv.EndedAt = &ended
			s.conversations[id] = conv
			closed = append(closed, conv)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].StartedAt.Before(closed[j].StartedAt) })
	return closed, nil
}

// GetConversation implements Store.
func (s *MemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	_, release := s.enter(ctx)
	defer release()
	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return conv, nil
}

// GetConversationForUpdate implements Store.
func (s *MemoryStore) GetConversationForUpdate(ctx context.Context, id string) (Conversation, error) {
	return s.GetConversation(ctx, id)
}

// DeleteConversation implements Store.
func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	_, release := s.enter(ctx)
	defer release()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	for msgID, msg := range s.messages {
		if msg.ConversationID == id {
			delete(s.messages, msgID)
		}
	}
	return nil
}

// ListIdleConversations implements Store.
func (s *MemoryStore) ListIdleConversations(ctx context.Context, cutoff time.Time) ([]Conversation, error) {
	_, release := s.enter(ctx)
	defer release()
	var idle []Conversation
	for _, conv := range s.conversations {
		if !conv.IsActive {
			continue
		}
		last := conv.StartedAt
		for _, msg := range s.messages {
			if msg.ConversationID == conv.ID && msg.CreatedAt.After(last) {
				last = msg.CreatedAt
			}
		}
		if last.Before(cutoff) {
			idle = append(idle, conv)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].StartedAt.Before(idle[j].StartedAt) })
	return idle, nil
}

// InsertMessage implements Store.
func (s *MemoryStore) InsertMessage(ctx context.Context, msg Message) error {
	_, release := s.enter(ctx)
	defer release()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}
	s.messages[msg.ID] = msg
	return nil
}

// GetMessage implements Store.
func (s *MemoryStore) GetMessage(ctx context.Context, id string) (Message, error) {
	_, release := s.enter(ctx)
	defer release()
	msg, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return msg, nil
}

// GetMessageForUpdate implements Store.
func (s *MemoryStore) GetMessageForUpdate(ctx context.Context, id string) (Message, error) {
	return s.GetMessage(ctx, id)
}

// UpdateMessageStatus implements Store.
func (s *MemoryStore) UpdateMessageStatus(ctx context.Context, id string, status Status) error {
	_, release := s.enter(ctx)
	defer release()
	msg, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Status = status
	s.messages[id] = msg
	return nil
}

// ListMessages implements Store.
func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	_, release := s.enter(ctx)
	defer release()
	var msgs []Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			msgs = append(msgs, msg)
		}
	}
	sortMessages(msgs)
	return msgs, nil
}

// ListQueuedOutbound implements Store.
func (s *MemoryStore) ListQueuedOutbound(ctx context.Context) ([]Message, error) {
	_, release := s.enter(ctx)
	defer release()
	var msgs []Message
	for _, msg := range s.messages {
		if msg.Direction == DirectionOutbound && msg.Status == StatusQueued {
			msgs = append(msgs, msg)
		}
	}
	sortMessages(msgs)
	return msgs, nil
}

func sortMessages(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
