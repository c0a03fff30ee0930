package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/relaydesk/relaydesk/internal/conversation"
	"github.com/relaydesk/relaydesk/internal/message"
	"github.com/relaydesk/relaydesk/internal/store"
)

// WebhookHandler ingests inbound channel webhooks. The payload arrives
// already deserialized by the upstream channel integration; this handler
// resolves the sender key and persists conversation plus message in one
// key-locked transaction.
type WebhookHandler struct {
	logger        *slog.Logger
	conversations *conversation.Service
	messages      *message.Service
	validate      *validator.Validate
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(log *slog.Logger, conversations *conversation.Service, messages *message.Service) *WebhookHandler {
	return &WebhookHandler{
		logger:        log.With(slog.String("handler", "webhook")),
		conversations: conversations,
		messages:      messages,
		validate:      validator.New(),
	}
}

// Register registers the webhook ingress route.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/inbound", h.HandleInbound)
}

// InboundReceipt is the definitive per-message answer a webhook caller gets.
type InboundReceipt struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Direction      string `json:"direction"`
	Status         string `json:"status"`
}

// HandleInbound accepts one inbound customer message.
func (h *WebhookHandler) HandleInbound(c echo.Context) error {
	var payload conversation.InboundPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// Reject blank content before touching the store at all.
	if strings.TrimSpace(payload.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, message.ErrEmptyContent.Error())
	}

	sender, err := conversation.ResolveSender(payload)
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrUnsupportedChannel):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, conversation.ErrMissingIdentifier):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	var msg store.Message
	conv, err := h.conversations.GetOrOpen(c.Request().Context(), sender.Identifier, sender.Channel,
		func(ctx context.Context, conv store.Conversation) error {
			var persistErr error
			msg, persistErr = h.messages.PersistInbound(ctx, conv.ID, payload.Content)
			return persistErr
		})
	if err != nil {
		if errors.Is(err, message.ErrEmptyContent) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.Error("inbound ingest failed",
			slog.String("identifier", sender.Identifier),
			slog.String("channel", sender.Channel.String()),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to persist inbound message")
	}

	return c.JSON(http.StatusOK, InboundReceipt{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Direction:      msg.Direction.String(),
		Status:         msg.Status.String(),
	})
}
