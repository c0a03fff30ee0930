// Package store defines the persistence contract for conversations and
// messages, with a Postgres implementation and an in-memory implementation
// used by tests and local development.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateActiveConversation is returned when inserting an active
// conversation would violate the one-active-per-(identifier, channel)
// constraint.
var ErrDuplicateActiveConversation = errors.New("active conversation already exists")

// Channel identifies the transport a conversation occurs on.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelWeb      Channel = "web"
)

// String returns the channel as a plain string.
func (c Channel) String() string {
	return string(c)
}

// ParseChannel validates a raw channel value.
func ParseChannel(raw string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(raw))) {
	case ChannelWhatsApp:
		return ChannelWhatsApp, nil
	case ChannelEmail:
		return ChannelEmail, nil
	case ChannelWeb:
		return ChannelWeb, nil
	default:
		return "", fmt.Errorf("unknown channel %q", raw)
	}
}

// Direction indicates whether a message came from the customer or the business.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// String returns the direction as a plain string.
func (d Direction) String() string {
	return string(d)
}

// ParseDirection validates a raw direction value.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(raw))) {
	case DirectionInbound:
		return DirectionInbound, nil
	case DirectionOutbound:
		return DirectionOutbound, nil
	default:
		return "", fmt.Errorf("unknown direction %q", raw)
	}
}

// Status is the delivery state of a message.
type Status string

const (
	StatusReceived Status = "received"
	StatusRead     Status = "read"
	StatusQueued   Status = "queued"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
)

// String returns the status as a plain string.
func (s Status) String() string {
	return string(s)
}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusReceived:
		return StatusReceived, nil
	case StatusRead:
		return StatusRead, nil
	case StatusQueued:
		return StatusQueued, nil
	case StatusSent:
		return StatusSent, nil
	case StatusFailed:
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// Conversation groups the messages exchanged with one customer identifier
// on one channel. At most one row per (identifier, channel) is active.
type Conversation struct {
	ID             string
	UserIdentifier string
	Channel        Channel
	IsActive       bool
	StartedAt      time.Time
	EndedAt        *time.Time
}

// Message is a single inbound or outbound message owned by a conversation.
type Message struct {
	ID             string
	ConversationID string
	Direction      Direction
	Status         Status
	Content        string
	CreatedAt      time.Time
}

// Store is the persistence contract shared by the lifecycle manager, the
// message state machine, and the dispatch worker.
//
// All row-returning reads named *ForUpdate take a row-level exclusive lock
// when executed inside a transaction. RunInTx reuses a transaction already
// carried by ctx, so composed operations (open conversation + persist
// message) commit atomically.
type Store interface {
	// RunInTx executes fn inside a transaction. If ctx already carries an
	// open transaction the existing one is reused and the outermost caller
	// commits; otherwise a new transaction is opened and committed when fn
	// returns nil, rolled back when it returns an error or panics.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	// ActiveConversationForUpdate returns the active conversation for the
	// key, locked for update. ErrNotFound when none is active.
	ActiveConversationForUpdate(ctx context.Context, identifier string, channel Channel) (Conversation, error)

	// InsertConversation inserts a new conversation row. Returns
	// ErrDuplicateActiveConversation when an active row already exists for
	// the same key.
	InsertConversation(ctx context.Context, conv Conversation) error

	// DeactivateConversations closes every active conversation for the key,
	// setting ended_at, and returns the rows it closed (normally 0 or 1).
	DeactivateConversations(ctx context.Context, identifier string, channel Channel, endedAt time.Time) ([]Conversation, error)

	// GetConversation returns a conversation by id.
	GetConversation(ctx context.Context, id string) (Conversation, error)

	// GetConversationForUpdate returns a conversation by id, locked for update.
	GetConversationForUpdate(ctx context.Context, id string) (Conversation, error)

	// DeleteConversation removes a conversation and, by cascade, its messages.
	DeleteConversation(ctx context.Context, id string) error

	// ListIdleConversations returns active conversations whose newest
	// message (or start time, when empty) is older than cutoff.
	ListIdleConversations(ctx context.Context, cutoff time.Time) ([]Conversation, error)

	// InsertMessage inserts a new message row.
	InsertMessage(ctx context.Context, msg Message) error

	// GetMessage returns a message by id.
	GetMessage(ctx context.Context, id string) (Message, error)

	// GetMessageForUpdate returns a message by id, locked for update.
	GetMessageForUpdate(ctx context.Context, id string) (Message, error)

	// UpdateMessageStatus sets the status of the message.
	UpdateMessageStatus(ctx context.Context, id string, status Status) error

	// ListMessages returns all messages of a conversation, oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	// ListQueuedOutbound returns every outbound message still queued for
	// dispatch, oldest first.
	ListQueuedOutbound(ctx context.Context) ([]Message, error)
}
