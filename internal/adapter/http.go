// Package adapter provides the outbound delivery adapter used by the
// dispatch worker. Real channel integrations live behind per-channel
// delivery endpoints; this adapter forwards the message to the endpoint
// configured for the conversation's channel.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/relaydesk/relaydesk/internal/dispatch"
	"github.com/relaydesk/relaydesk/internal/store"
)

// ConversationGetter resolves the conversation a message belongs to, so the
// adapter can pick the channel's delivery endpoint.
type ConversationGetter interface {
	Get(ctx context.Context, id string) (store.Conversation, error)
}

// HTTPAdapter POSTs outbound messages to per-channel delivery URLs. Any
// transport error or non-2xx response is a dispatch failure.
type HTTPAdapter struct {
	logger        *slog.Logger
	conversations ConversationGetter
	urls          map[store.Channel]string
	client        *http.Client
}

// NewHTTPAdapter creates an HTTPAdapter from the configured delivery URLs,
// keyed by channel name.
func NewHTTPAdapter(log *slog.Logger, conversations ConversationGetter, deliveryURLs map[string]string) *HTTPAdapter {
	if log == nil {
		log = slog.Default()
	}
	urls := make(map[store.Channel]string, len(deliveryURLs))
	for raw, u := range deliveryURLs {
		ch, err := store.ParseChannel(raw)
		if err != nil {
			log.Warn("skip delivery url for unknown channel", slog.String("channel", raw))
			continue
		}
		urls[ch] = strings.TrimSpace(u)
	}
	return &HTTPAdapter{
		logger:        log.With(slog.String("adapter", "http")),
		conversations: conversations,
		urls:          urls,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

type deliveryRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// SendMessage implements dispatch.Adapter.
func (a *HTTPAdapter) SendMessage(ctx context.Context, conversationID, content string) error {
	conv, err := a.conversations.Get(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	endpoint, ok := a.urls[conv.Channel]
	if !ok || endpoint == "" {
		return &dispatch.AdapterError{Message: fmt.Sprintf("no delivery url configured for channel %s", conv.Channel)}
	}

	body, err := json.Marshal(deliveryRequest{ConversationID: conversationID, Content: content})
	if err != nil {
		return fmt.Errorf("marshal delivery request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return &dispatch.AdapterError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &dispatch.AdapterError{
			Message: fmt.Sprintf("delivery endpoint returned %d", resp.StatusCode),
			Payload: map[string]any{"body": string(detail)},
		}
	}
	return nil
}
