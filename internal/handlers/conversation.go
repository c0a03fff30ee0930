package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/relaydesk/relaydesk/internal/conversation"
	"github.com/relaydesk/relaydesk/internal/message"
	"github.com/relaydesk/relaydesk/internal/store"
)

// ConversationHandler exposes the operator API: queueing replies, reading
// threads, closing and deleting conversations, and driving message status.
type ConversationHandler struct {
	logger        *slog.Logger
	conversations *conversation.Service
	messages      *message.Service
	validate      *validator.Validate
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(log *slog.Logger, conversations *conversation.Service, messages *message.Service) *ConversationHandler {
	return &ConversationHandler{
		logger:        log.With(slog.String("handler", "conversation")),
		conversations: conversations,
		messages:      messages,
		validate:      validator.New(),
	}
}

// Register registers the operator routes.
func (h *ConversationHandler) Register(e *echo.Echo) {
	e.GET("/conversations/:id", h.GetConversation)
	e.GET("/conversations/:id/messages", h.ListMessages)
	e.POST("/conversations/:id/messages", h.QueueReply)
	e.POST("/conversations/:id/close", h.CloseConversation)
	e.DELETE("/conversations/:id", h.DeleteConversation)
	e.GET("/messages/:id", h.GetMessage)
	e.POST("/messages/:id/status", h.UpdateMessageStatus)
}

// ConversationResponse is the wire shape of a conversation.
type ConversationResponse struct {
	ID             string  `json:"id"`
	UserIdentifier string  `json:"user_identifier"`
	Channel        string  `json:"channel"`
	IsActive       bool    `json:"is_active"`
	StartedAt      string  `json:"started_at"`
	EndedAt        *string `json:"ended_at,omitempty"`
}

// MessageResponse is the wire shape of a message.
type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Direction      string `json:"direction"`
	Status         string `json:"status"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

func conversationResponse(conv store.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:             conv.ID,
		UserIdentifier: conv.UserIdentifier,
		Channel:        conv.Channel.String(),
		IsActive:       conv.IsActive,
		StartedAt:      conv.StartedAt.Format(time.RFC3339),
	}
	if conv.EndedAt != nil {
		ended := conv.EndedAt.Format(time.RFC3339)
		resp.EndedAt = &ended
	}
	return resp
}

func messageResponse(msg store.Message) MessageResponse {
	return MessageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Direction:      msg.Direction.String(),
		Status:         msg.Status.String(),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt.Format(time.RFC3339),
	}
}

// GetConversation returns a single conversation.
func (h *ConversationHandler) GetConversation(c echo.Context) error {
	conv, err := h.conversations.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, conversationResponse(conv))
}

// ListMessages returns a conversation's messages, oldest first.
func (h *ConversationHandler) ListMessages(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.conversations.Get(ctx, c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	msgs, err := h.messages.List(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		resp = append(resp, messageResponse(msg))
	}
	return c.JSON(http.StatusOK, resp)
}

// QueueReplyRequest is the body of POST /conversations/:id/messages.
type QueueReplyRequest struct {
	Content string `json:"content" validate:"required"`
}

// QueueReply persists an operator reply with status queued; the dispatch
// worker picks it up on its next cycle.
func (h *ConversationHandler) QueueReply(c echo.Context) error {
	var req QueueReplyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msg, err := h.messages.PersistOutbound(c.Request().Context(), c.Param("id"), req.Content)
	if err != nil {
		switch {
		case errors.Is(err, message.ErrEmptyContent):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, message.ErrConversationNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, message.ErrInactiveConversation):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, messageResponse(msg))
}

// CloseConversation ends the active conversation the id belongs to. Closing
// an already-closed conversation is a no-op.
func (h *ConversationHandler) CloseConversation(c echo.Context) error {
	ctx := c.Request().Context()
	conv, err := h.conversations.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	closed, err := h.conversations.CloseActive(ctx, conv.UserIdentifier, conv.Channel)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"closed": len(closed)})
}

// DeleteConversation removes a conversation and all its messages.
func (h *ConversationHandler) DeleteConversation(c echo.Context) error {
	if err := h.conversations.Delete(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// GetMessage returns a single message.
func (h *ConversationHandler) GetMessage(c echo.Context) error {
	msg, err := h.messages.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, message.ErrMessageNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "message not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, messageResponse(msg))
}

// UpdateStatusRequest is the body of POST /messages/:id/status.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateMessageStatus applies a status transition, typically marking an
// inbound message read once an operator has seen it.
func (h *ConversationHandler) UpdateMessageStatus(c echo.Context) error {
	var req UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	target, err := store.ParseStatus(req.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msg, err := h.messages.UpdateStatus(c.Request().Context(), c.Param("id"), target)
	if err != nil {
		switch {
		case errors.Is(err, message.ErrMessageNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, message.ErrInvalidTransition):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, messageResponse(msg))
}
