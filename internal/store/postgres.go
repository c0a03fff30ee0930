package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgTxKey struct{}

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a pgx connection pool. Row locks are
// taken with SELECT ... FOR UPDATE and the single-active-conversation
// invariant is backed by a partial unique index, so concurrent writers that
// slip past the application-level key lock still serialize here.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(log *slog.Logger, pool *pgxpool.Pool) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{
		pool:   pool,
		logger: log.With(slog.String("component", "store")),
	}
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(pgTxKey{}).(pgx.Tx)
	return tx
}

func (s *PostgresStore) querier(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// RunInTx implements Store. A transaction already carried by ctx is reused;
// otherwise a new one is opened and committed when fn returns nil, rolled
// back when fn returns an error or panics.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txCtx := context.WithValue(ctx, pgTxKey{}, tx)
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const conversationColumns = "id, user_identifier, channel, is_active, started_at, ended_at"

func scanConversation(row pgx.Row) (Conversation, error) {
	var conv Conversation
	var channel string
	if err := row.Scan(&conv.ID, &conv.UserIdentifier, &channel, &conv.IsActive, &conv.StartedAt, &conv.EndedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	conv.Channel = Channel(channel)
	return conv, nil
}

// ActiveConversationForUpdate implements Store.
func (s *PostgresStore) ActiveConversationForUpdate(ctx context.Context, identifier string, channel Channel) (Conversation, error) {
	row := s.querier(ctx).QueryRow(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations
		 WHERE user_identifier = $1 AND channel = $2 AND is_active
		 FOR UPDATE`,
		identifier, channel.String())
	return scanConversation(row)
}

// InsertConversation implements Store.
func (s *PostgresStore) InsertConversation(ctx context.Context, conv Conversation) error {
	_, err := s.querier(ctx).Exec(ctx,
		`INSERT INTO conversations (id, user_identifier, channel, is_active, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		conv.ID, conv.UserIdentifier, conv.Channel.String(), conv.IsActive, conv.StartedAt, conv.EndedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateActiveConversation
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// DeactivateConversations implements Store.
func (s *PostgresStore) DeactivateConversations(ctx context.Context, identifier string, channel Channel, endedAt time.Time) ([]Conversation, error) {
	rows, err := s.querier(ctx).Query(ctx,
		`UPDATE conversations
		 SET is_active = FALSE, ended_at = $3
		 WHERE user_identifier = $1 AND channel = $2 AND is_active
		 RETURNING `+conversationColumns,
		identifier, channel.String(), endedAt)
	if err != nil {
		return nil, fmt.Errorf("deactivate conversations: %w", err)
	}
	defer rows.Close()
	var closed []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		closed = append(closed, conv)
	}
	return closed, rows.Err()
}

// GetConversation implements Store.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.querier(ctx).QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// GetConversationForUpdate implements Store.
func (s *PostgresStore) GetConversationForUpdate(ctx context.Context, id string) (Conversation, error) {
	row := s.querier(ctx).QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, id)
	return scanConversation(row)
}

// DeleteConversation implements Store. Messages go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.querier(ctx).Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIdleConversations implements Store.
func (s *PostgresStore) ListIdleConversations(ctx context.Context, cutoff time.Time) ([]Conversation, error) {
	rows, err := s.querier(ctx).Query(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations c
		 WHERE c.is_active
		   AND COALESCE(
		         (SELECT MAX(m.created_at) FROM messages m WHERE m.conversation_id = c.id),
		         c.started_at) < $1
		 ORDER BY c.started_at`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("list idle conversations: %w", err)
	}
	defer rows.Close()
	var idle []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		idle = append(idle, conv)
	}
	return idle, rows.Err()
}

const messageColumns = "id, conversation_id, direction, status, content, created_at"

func scanMessage(row pgx.Row) (Message, error) {
	var msg Message
	var direction, status string
	if err := row.Scan(&msg.ID, &msg.ConversationID, &direction, &status, &msg.Content, &msg.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	msg.Direction = Direction(direction)
	msg.Status = Status(status)
	return msg, nil
}

// InsertMessage implements Store.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg Message) error {
	_, err := s.querier(ctx).Exec(ctx,
		`INSERT INTO messages (id, conversation_id, direction, status, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, msg.Direction.String(), msg.Status.String(), msg.Content, msg.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage implements Store.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (Message, error) {
	row := s.querier(ctx).QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

// GetMessageForUpdate implements Store.
func (s *PostgresStore) GetMessageForUpdate(ctx context.Context, id string) (Message, error) {
	row := s.querier(ctx).QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 FOR UPDATE`, id)
	return scanMessage(row)
}

// UpdateMessageStatus implements Store.
func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, id string, status Status) error {
	tag, err := s.querier(ctx).Exec(ctx,
		`UPDATE messages SET status = $2 WHERE id = $1`, id, status.String())
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages implements Store.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.querier(ctx).Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at, id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListQueuedOutbound implements Store.
func (s *PostgresStore) ListQueuedOutbound(ctx context.Context) ([]Message, error) {
	rows, err := s.querier(ctx).Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE status = $1 AND direction = $2
		 ORDER BY created_at, id`,
		StatusQueued.String(), DirectionOutbound.String())
	if err != nil {
		return nil, fmt.Errorf("list queued outbound: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
