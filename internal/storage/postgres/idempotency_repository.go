package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

// Reserve занимает ключ одним запросом: истёкшая запись перезаписывается на месте,
// живая остаётся нетронутой и возвращается вызывающему.
func (r *idempotencyRepository) Reserve(ctx context.Context, key, requestHash string, now time.Time, ttl time.Duration) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now = now.UTC()
	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		State:       domain.RequestStateInFlight,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(opCtx, `
		INSERT INTO idempotency_keys AS k (key, request_hash, state, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE
		SET request_hash    = EXCLUDED.request_hash,
		    state           = EXCLUDED.state,
		    response_status = 0,
		    response_body   = NULL,
		    order_id        = '',
		    expires_at      = EXCLUDED.expires_at,
		    created_at      = EXCLUDED.created_at,
		    updated_at      = EXCLUDED.updated_at
		WHERE k.expires_at <= EXCLUDED.created_at
	`, key, requestHash, string(record.State), record.ExpiresAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("reserve idempotency key: rows affected: %w", err)
	}
	if affected == 1 {
		return record, nil
	}

	existing, err := r.Get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load reserved idempotency key: %w", err)
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyKeyReused
	}
	return existing, domain.ErrIdempotencyKeyInUse
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		record domain.IdempotencyRecord
		state  string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT key, request_hash, state, response_status, response_body, order_id, expires_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1
	`, key).Scan(
		&record.Key,
		&record.RequestHash,
		&state,
		&record.Response.Status,
		&record.Response.Body,
		&record.Response.OrderID,
		&record.ExpiresAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}

	record.State = domain.RequestState(state)
	if !record.State.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s: %w: %q", key, domain.ErrIdempotencyStateInvalid, state)
	}
	return record, nil
}

func (r *idempotencyRepository) Finish(ctx context.Context, key string, state domain.RequestState, resp domain.StoredResponse) error {
	if !state.Final() {
		return domain.ErrIdempotencyStateInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET state = $2, response_status = $3, response_body = $4, order_id = $5, updated_at = $6
		WHERE key = $1
	`, strings.TrimSpace(key), string(state), resp.Status, resp.Body, resp.OrderID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish idempotency key: %w", err)
	}
	return expectOneRow(res, domain.ErrIdempotencyKeyNotFound)
}

// Release удаляет ключ, только пока запрос не завершён.
func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys WHERE key = $1 AND state = $2
	`, strings.TrimSpace(key), string(domain.RequestStateInFlight))
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return expectOneRow(res, domain.ErrIdempotencyKeyNotFound)
}

// DeleteExpired удаляет записи с expires_at <= before пачкой до limit строк. limit<=0 снимает ограничение.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `DELETE FROM idempotency_keys WHERE expires_at <= $1`
	args := []any{before.UTC()}
	if limit > 0 {
		query = `
			DELETE FROM idempotency_keys
			WHERE key IN (
				SELECT key FROM idempotency_keys
				WHERE expires_at <= $1
				ORDER BY expires_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)`
		args = append(args, limit)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
