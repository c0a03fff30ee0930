package janitor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/conversation"
	"github.com/relaydesk/relaydesk/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSweep_ClosesIdleOnly(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	conversations := conversation.NewService(testLogger(), st, conversation.NewKeyLocks())
	ctx := context.Background()

	idle := store.Conversation{
		ID:             "conv-idle",
		UserIdentifier: "old@example.com",
		Channel:        store.ChannelEmail,
		IsActive:       true,
		StartedAt:      time.Now().UTC().Add(-2 * time.Hour),
	}
	if err := st.InsertConversation(ctx, idle); err != nil {
		t.Fatalf("InsertConversation: %v", err)
	}

	busy, err := conversations.GetOrOpen(ctx, "new@example.com", store.ChannelEmail)
	if err != nil {
		t.Fatalf("GetOrOpen: %v", err)
	}

	svc := NewService(testLogger(), conversations, config.JanitorConfig{
		Schedule:     "@every 1m",
		IdleAfterMin: 60,
	})

	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got, err := conversations.Get(ctx, idle.ID)
	if err != nil {
		t.Fatalf("Get idle: %v", err)
	}
	if got.IsActive {
		t.Fatal("idle conversation still active")
	}
	got, err = conversations.Get(ctx, busy.ID)
	if err != nil {
		t.Fatalf("Get busy: %v", err)
	}
	if !got.IsActive {
		t.Fatal("fresh conversation was closed")
	}
}

func TestSweep_RecentMessageKeepsConversationOpen(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	conversations := conversation.NewService(testLogger(), st, conversation.NewKeyLocks())
	ctx := context.Background()

	conv := store.Conversation{
		ID:             "conv-1",
		UserIdentifier: "user@example.com",
		Channel:        store.ChannelEmail,
		IsActive:       true,
		StartedAt:      time.Now().UTC().Add(-2 * time.Hour),
	}
	if err := st.InsertConversation(ctx, conv); err != nil {
		t.Fatalf("InsertConversation: %v", err)
	}
	msg := store.Message{
		ID:             "m-1",
		ConversationID: conv.ID,
		Direction:      store.DirectionInbound,
		Status:         store.StatusReceived,
		Content:        "still here",
		CreatedAt:      time.Now().UTC().Add(-5 * time.Minute),
	}
	if err := st.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	svc := NewService(testLogger(), conversations, config.JanitorConfig{
		Schedule:     "@every 1m",
		IdleAfterMin: 60,
	})
	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got, err := conversations.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsActive {
		t.Fatal("conversation with recent message was closed")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	conversations := conversation.NewService(testLogger(), st, conversation.NewKeyLocks())

	svc := NewService(testLogger(), conversations, config.JanitorConfig{Schedule: "@every 1h"})
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStart_BadSchedule(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	conversations := conversation.NewService(testLogger(), st, conversation.NewKeyLocks())

	svc := NewService(testLogger(), conversations, config.JanitorConfig{Schedule: "not a schedule"})
	if err := svc.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
