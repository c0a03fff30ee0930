package message

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/relaydesk/relaydesk/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func seedConversation(t *testing.T, st *store.MemoryStore, active bool) store.Conversation {
	t.Helper()
	conv := store.Conversation{
		ID:             "conv-1",
		UserIdentifier: "+15551234567",
		Channel:        store.ChannelWhatsApp,
		IsActive:       active,
		StartedAt:      time.Now().UTC(),
	}
	if !active {
		ended := time.Now().UTC()
		conv.EndedAt = &ended
	}
	if err := st.InsertConversation(context.Background(), conv); err != nil {
		t.Fatalf("InsertConversation: %v", err)
	}
	return conv
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		direction store.Direction
		from, to  store.Status
		want      bool
	}{
		{store.DirectionInbound, store.StatusReceived, store.StatusRead, true},
		{store.DirectionInbound, store.StatusReceived, store.StatusSent, false},
		{store.DirectionInbound, store.StatusReceived, store.StatusFailed, false},
		{store.DirectionInbound, store.StatusRead, store.StatusReceived, false},
		{store.DirectionInbound, store.StatusRead, store.StatusRead, false},
		{store.DirectionOutbound, store.StatusQueued, store.StatusSent, true},
		{store.DirectionOutbound, store.StatusQueued, store.StatusFailed, true},
		{store.DirectionOutbound, store.StatusQueued, store.StatusRead, false},
		{store.DirectionOutbound, store.StatusSent, store.StatusQueued, false},
		{store.DirectionOutbound, store.StatusSent, store.StatusFailed, false},
		{store.DirectionOutbound, store.StatusFailed, store.StatusSent, false},
		{store.DirectionOutbound, store.StatusReceived, store.StatusRead, false},
	}

	for _, tc := range cases {
		got := CanTransition(tc.direction, tc.from, tc.to)
		if got != tc.want {
			t.Fatalf("%s %s -> %s: got=%v want=%v", tc.direction, tc.from, tc.to, got, tc.want)
		}
	}
}

func TestPersistInbound(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	conv := seedConversation(t, st, true)
	svc := NewService(testLogger(), st)

	msg, err := svc.PersistInbound(context.Background(), conv.ID, "hello there")
	if err != nil {
		t.Fatalf("PersistInbound: %v", err)
	}
	if msg.Direction != store.DirectionInbound {
		t.Fatalf("direction=%s want=%s", msg.Direction, store.DirectionInbound)
	}
	if msg.Status != store.StatusReceived {
		t.Fatalf("status=%s want=%s", msg.Status, store.StatusReceived)
	}
	if msg.ConversationID != conv.ID {
		t.Fatalf("conversation_id=%s want=%s", msg.ConversationID, conv.ID)
	}
}

func TestPersistInbound_EmptyContent(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	conv := seedConversation(t, st, true)
	svc := NewService(testLogger(), st)

	for _, content := range []string{"", "   ", "\n\t"} {
		if _, err := svc.PersistInbound(context.Background(), conv.ID, content); !errors.Is(err, ErrEmptyContent) {
			t.Fatalf("content=%q err=%v want=%v", content, err, ErrEmptyContent)
		}
	}
}

func TestPersistInbound_MissingConversation(t *testing.T) {
	t.Parallel()

	svc := NewService(testLogger(), store.NewMemoryStore())

	if _, err := svc.PersistInbound(context.Background(), "nope", "hi"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err=%v want=%v", err, ErrConversationNotFound)
	}
}

func TestPersistInbound_ClosedConversationStillAccepts(t *testing.T) {
	t.Parallel()

	// Inbound persistence does not require an active conversation; the
	// lifecycle layer already decided which conversation receives it.
	st := store.NewMemoryStore()
	conv := seedConversation(t, st, false)
	svc := NewService(testLogger(), st)

	if _, err := svc.PersistInbound(context.Background(), conv.ID, "late reply"); err != nil {
		t.Fatalf("PersistInbound: %v", err)
	}
}

func TestPersistOutbound(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	conv := seedConversation(t, st, true)
	svc := NewService(testLogger(), st)

	msg, err := svc.PersistOutbound(context.Background(), conv.ID, "how can we help?")
	if err != nil {
		t.Fatalf("PersistOutbound: %v", err)
	}
	if msg.Direction != store.DirectionOutbound {
		t.Fatalf("direction=%s want=%s", msg.Direction, store.DirectionOutbound)
	}
	if msg.Status != store.StatusQueued {
		t.Fatalf("status=%s want=%s", msg.Status, store.StatusQueued)
	}

	queued, err := svc.ListQueued(context.Background())
	if err != nil {
		t.Fatalf("ListQueued: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != msg.ID {
		t.Fatalf("queued=%+v want the persisted message", queued)
	}
}

func TestPersistOutbound_InactiveConversation(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	conv := seedConversation(t, st, false)
	svc := NewService(testLogger(), st)

	if _, err := svc.PersistOutbound(context.Background(), conv.ID, "too late"); !errors.Is(err, ErrInactiveConversation) {
		t.Fatalf("err=%v want=%v", err, ErrInactiveConversation)
	}
}

func TestPersistOutbound_MissingConversation(t *testing.T) {
	t.Parallel()

	svc := NewService(testLogger(), store.NewMemoryStore())

	if _, err := svc.PersistOutbound(context.Background(), "nope", "hi"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err=%v want=%v", err, ErrConversationNotFound)
	}
}

func TestUpdateStatus_InboundRead(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	conv := seedConversation(t, st, true)
	svc := NewService(testLogger(), st)
	ctx := context.Background()

	msg, err := svc.PersistInbound(ctx, conv.ID, "hello")
	if err != nil {
		t.Fatalf("PersistInbound: %v", err)
	}

	updated, err := svc.UpdateStatus(ctx, msg.ID, store.StatusRead)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != store.StatusRead {
		t.Fatalf("status=%s want=%s", updated.Status, store.StatusRead)
	}

	// read is terminal for inbound
	for _, target := range []store.Status{store.StatusRead, store.StatusSent} {
		if _, err := svc.UpdateStatus(ctx, msg.ID, target); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("target=%s err=%v want=%v", target, err, ErrInvalidTransition)
		}
	}
}

func TestUpdateStatus_OutboundTerminal(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	conv := seedConversation(t, st, true)
	svc := NewService(testLogger(), st)
	ctx := context.Background()

	msg, err := svc.PersistOutbound(ctx, conv.ID, "hi")
	if err != nil {
		t.Fatalf("PersistOutbound: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, msg.ID, store.StatusSent); err != nil {
		t.Fatalf("UpdateStatus sent: %v", err)
	}
	for _, target := range []store.Status{store.StatusQueued, store.StatusFailed, store.StatusRead} {
		if _, err := svc.UpdateStatus(ctx, msg.ID, target); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("target=%s err=%v want=%v", target, err, ErrInvalidTransition)
		}
	}
}

func TestUpdateStatus_CrossDirection(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	conv := seedConversation(t, st, true)
	svc := NewService(testLogger(), st)
	ctx := context.Background()

	inbound, err := svc.PersistInbound(ctx, conv.ID, "hello")
	if err != nil {
		t.Fatalf("PersistInbound: %v", err)
	}
	// outbound statuses never apply to inbound messages
	for _, target := range []store.Status{store.StatusSent, store.StatusFailed, store.StatusQueued} {
		if _, err := svc.UpdateStatus(ctx, inbound.ID, target); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("target=%s err=%v want=%v", target, err, ErrInvalidTransition)
		}
	}

	outbound, err := svc.PersistOutbound(ctx, conv.ID, "hi")
	if err != nil {
		t.Fatalf("PersistOutbound: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, outbound.ID, store.StatusRead); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err=%v want=%v", err, ErrInvalidTransition)
	}
}

func TestUpdateStatus_MissingMessage(t *testing.T) {
	t.Parallel()

	svc := NewService(testLogger(), store.NewMemoryStore())

	if _, err := svc.UpdateStatus(context.Background(), "nope", store.StatusRead); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("err=%v want=%v", err, ErrMessageNotFound)
	}
}

func TestList_OrderedOldestFirst(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	conv := seedConversation(t, st, true)
	svc := NewService(testLogger(), st)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"m-3", "m-1", "m-2"} {
		msg := store.Message{
			ID:             id,
			ConversationID: conv.ID,
			Direction:      store.DirectionInbound,
			Status:         store.StatusReceived,
			Content:        id,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if err := st.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}

	msgs, err := svc.List(ctx, conv.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"m-3", "m-1", "m-2"}
	if len(msgs) != len(want) {
		t.Fatalf("messages=%d want=%d", len(msgs), len(want))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("msgs[%d]=%s want=%s", i, msgs[i].ID, id)
		}
	}
}
