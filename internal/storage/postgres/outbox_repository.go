package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

const (
	outboxPending   = "pending"
	outboxDelivered = "delivered"
	outboxBuried    = "buried"
)

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.Attempts, msg.LastError = 0, ""
	msg.CreatedAt, msg.NextAttemptAt = now, now

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Повтор с тем же id сохраняет исходную запись.
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message %s: %w", msg.ID, err)
	}
	return msg, nil
}

func (r *outboxRepository) Due(ctx context.Context, now time.Time, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, attempts, last_error, next_attempt_at, created_at
		FROM outbox_messages
		WHERE state = $1 AND next_attempt_at <= $2
		ORDER BY seq
		LIMIT $3
	`, outboxPending, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("select due outbox messages: %w", err)
	}
	defer rows.Close()

	var due []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload,
			&m.Attempts, &m.LastError, &m.NextAttemptAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		due = append(due, m)
	}
	return due, rows.Err()
}

func (r *outboxRepository) Acknowledge(ctx context.Context, id string) error {
	return r.settle(ctx, id, outboxDelivered, "", time.Time{})
}

func (r *outboxRepository) Retry(ctx context.Context, id string, next time.Time, reason string) error {
	return r.settle(ctx, id, outboxPending, reason, next)
}

func (r *outboxRepository) Bury(ctx context.Context, id string, reason string) error {
	return r.settle(ctx, id, outboxBuried, reason, time.Time{})
}

// settle фиксирует исход попытки. Нулевой next оставляет расписание как есть.
func (r *outboxRepository) settle(ctx context.Context, id, state, reason string, next time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var nextAt sql.NullTime
	if !next.IsZero() {
		nextAt = sql.NullTime{Time: next.UTC(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET state           = $2,
		    attempts        = attempts + 1,
		    last_error      = $3,
		    next_attempt_at = COALESCE($4, next_attempt_at),
		    updated_at      = $5
		WHERE id = $1 AND state = $6
	`, id, state, reason, nextAt, time.Now().UTC(), outboxPending)
	if err != nil {
		return fmt.Errorf("settle outbox message %s as %s: %w", id, state, err)
	}
	return expectOneRow(res, domain.ErrOutboxMessageNotFound)
}

// Stats учитывает и отложенные повторы: они тоже ещё не доставлены.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE state = $1
	`, outboxPending).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
