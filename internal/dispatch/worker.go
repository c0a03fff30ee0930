// Package dispatch drives queued outbound messages through the channel
// adapter and records the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaydesk/relaydesk/internal/store"
)

// Adapter performs the actual network delivery for one message. Any error
// counts as a dispatch failure.
type Adapter interface {
	SendMessage(ctx context.Context, conversationID, content string) error
}

// AdapterError is a delivery failure reported by a channel adapter. Payload
// is opaque provider detail kept only for logging.
type AdapterError struct {
	Message string
	Payload map[string]any
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter error: %s", e.Message)
}

// Queue is the slice of the message service the worker needs.
type Queue interface {
	ListQueued(ctx context.Context) ([]store.Message, error)
	UpdateStatus(ctx context.Context, id string, target store.Status) (store.Message, error)
}

// Worker polls for queued outbound messages and attempts delivery once per
// poll cycle. A failed attempt marks the message failed and moves on; it is
// never retried internally and never stops the loop. No ordering is
// guaranteed across messages.
type Worker struct {
	logger      *slog.Logger
	queue       Queue
	adapter     Adapter
	interval    time.Duration
	sendTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a dispatch worker.
func NewWorker(log *slog.Logger, queue Queue, adapter Adapter, interval, sendTimeout time.Duration) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Worker{
		logger:      log.With(slog.String("component", "dispatch")),
		queue:       queue,
		adapter:     adapter,
		interval:    interval,
		sendTimeout: sendTimeout,
	}
}

// Start launches the poll loop. It returns immediately; the loop runs until
// ctx is cancelled or Shutdown is called.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(loopCtx, w.done)
	w.logger.Info("dispatch worker started", slog.Duration("interval", w.interval))
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.DispatchPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("dispatch cycle failed", slog.Any("error", err))
			}
		}
	}
}

// Shutdown stops the poll loop and waits for the current cycle to finish.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchPending runs one poll cycle: every queued outbound message gets
// exactly one delivery attempt. Cancellation is honored between messages.
func (w *Worker) DispatchPending(ctx context.Context) error {
	pending, err := w.queue.ListQueued(ctx)
	if err != nil {
		return fmt.Errorf("list queued messages: %w", err)
	}

	for _, msg := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w.dispatchOne(ctx, msg)
	}
	return nil
}

func (w *Worker) dispatchOne(ctx context.Context, msg store.Message) {
	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	target := store.StatusSent
	if err := w.adapter.SendMessage(sendCtx, msg.ConversationID, msg.Content); err != nil {
		target = store.StatusFailed
		w.logger.Warn("dispatch attempt failed",
			slog.String("message_id", msg.ID),
			slog.String("conversation_id", msg.ConversationID),
			slog.Any("error", err),
		)
	}

	if _, err := w.queue.UpdateStatus(ctx, msg.ID, target); err != nil {
		w.logger.Error("update message status failed",
			slog.String("message_id", msg.ID),
			slog.String("target", target.String()),
			slog.Any("error", err),
		)
	}
}
