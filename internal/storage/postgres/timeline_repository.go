package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

// Append назначает следующий seq заказа в том же INSERT. Гонка двух записей одного
// заказа упирается в первичный ключ (order_id, seq).
func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	event, err := event.Normalize(time.Now().UTC())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, seq, type, from_status, reason, actor, occurred)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6
		FROM timeline_events WHERE order_id = $1
	`, event.OrderID, event.Type, string(event.From), event.Reason, string(event.Actor), event.Occurred)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("append timeline event for order %s: concurrent append: %w", event.OrderID, err)
		}
		return fmt.Errorf("append timeline event for order %s: %w", event.OrderID, err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, seq, type, from_status, reason, actor, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY seq
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	history := []domain.TimelineEvent{}
	for rows.Next() {
		var (
			event       domain.TimelineEvent
			from, actor string
		)
		if err := rows.Scan(&event.OrderID, &event.Seq, &event.Type, &from, &event.Reason, &actor, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.From = domain.OrderStatus(from)
		event.Actor = domain.Actor(actor)
		history = append(history, event)
	}
	return history, rows.Err()
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
