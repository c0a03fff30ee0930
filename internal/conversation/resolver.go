// Package conversation implements the conversation lifecycle: resolving a
// webhook sender to a (identifier, channel) key, serializing all mutation
// per key, and opening, reusing, and closing conversations.
package conversation

import (
	"errors"
	"strings"

	"github.com/relaydesk/relaydesk/internal/store"
)

// ErrUnsupportedChannel is returned for a channel_type this service does not ingest.
var ErrUnsupportedChannel = errors.New("unsupported channel type")

// ErrMissingIdentifier is returned when a payload carries no usable sender identifier.
var ErrMissingIdentifier = errors.New("missing sender identifier")

// WebWidgetFallbackEmail identifies anonymous web-widget visitors that have
// not supplied an email address.
const WebWidgetFallbackEmail = "test@chatwoot.widget"

const (
	channelTypeWhatsApp  = "whatsapp"
	channelTypeEmail     = "email"
	channelTypeWebWidget = "webwidget"
)

// Contact is the sender block of an inbound webhook payload.
type Contact struct {
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
}

// Inbox carries the nested channel_type variant some callers deliver.
type Inbox struct {
	ChannelType string `json:"channel_type"`
}

// InboundPayload is the already-deserialized webhook payload this core
// consumes. The HTTP endpoint that produced it has done all parsing.
type InboundPayload struct {
	ChannelType string  `json:"channel_type"`
	Inbox       Inbox   `json:"inbox"`
	Contact     Contact `json:"contact"`
	Content     string  `json:"content" validate:"required"`
}

// channelType returns the top-level channel_type, falling back to the
// inbox-nested form.
func (p InboundPayload) channelType() string {
	if strings.TrimSpace(p.ChannelType) != "" {
		return strings.TrimSpace(p.ChannelType)
	}
	return strings.TrimSpace(p.Inbox.ChannelType)
}

// Sender is the resolved conversation key of an inbound payload.
type Sender struct {
	Identifier string
	Channel    store.Channel
}

// ResolveSender maps a webhook payload to its conversation key. Pure: no
// side effects, total over the constrained input domain.
//
// Web-widget visitors resolve to the email channel, substituting
// WebWidgetFallbackEmail when the contact has no email.
func ResolveSender(payload InboundPayload) (Sender, error) {
	switch strings.ToLower(payload.channelType()) {
	case channelTypeWhatsApp:
		identifier := strings.TrimSpace(payload.Contact.PhoneNumber)
		if identifier == "" {
			return Sender{}, ErrMissingIdentifier
		}
		return Sender{Identifier: identifier, Channel: store.ChannelWhatsApp}, nil
	case channelTypeEmail:
		identifier := strings.TrimSpace(payload.Contact.Email)
		if identifier == "" {
			return Sender{}, ErrMissingIdentifier
		}
		return Sender{Identifier: identifier, Channel: store.ChannelEmail}, nil
	case channelTypeWebWidget:
		identifier := strings.TrimSpace(payload.Contact.Email)
		if identifier == "" {
			identifier = WebWidgetFallbackEmail
		}
		return Sender{Identifier: identifier, Channel: store.ChannelEmail}, nil
	default:
		return Sender{}, ErrUnsupportedChannel
	}
}
