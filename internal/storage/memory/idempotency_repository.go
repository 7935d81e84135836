package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

// idempotencyKeys хранит ключи идемпотентности POST /orders.
// Ключи живут отдельно от Store: их запись не участвует в транзакции заказа.
type idempotencyKeys struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyKeys{records: make(map[string]domain.IdempotencyRecord)}
}

func (r *idempotencyKeys) Reserve(_ context.Context, key, requestHash string, now time.Time, ttl time.Duration) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}
	now = now.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[key]; ok && !existing.Expired(now) {
		if existing.RequestHash != requestHash {
			return copyRecord(existing), domain.ErrIdempotencyKeyReused
		}
		return copyRecord(existing), domain.ErrIdempotencyKeyInUse
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		State:       domain.RequestStateInFlight,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.records[key] = record
	return copyRecord(record), nil
}

func (r *idempotencyKeys) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[strings.TrimSpace(key)]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (r *idempotencyKeys) Finish(_ context.Context, key string, state domain.RequestState, resp domain.StoredResponse) error {
	if !state.Final() {
		return domain.ErrIdempotencyStateInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key = strings.TrimSpace(key)
	record, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.State = state
	record.Response = resp
	record.Response.Body = append([]byte(nil), resp.Body...)
	record.UpdatedAt = time.Now().UTC()
	r.records[key] = record
	return nil
}

func (r *idempotencyKeys) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key = strings.TrimSpace(key)
	record, ok := r.records[key]
	if !ok || record.State != domain.RequestStateInFlight {
		return domain.ErrIdempotencyKeyNotFound
	}
	delete(r.records, key)
	return nil
}

// DeleteExpired удаляет записи с ExpiresAt <= before, самые старые первыми.
func (r *idempotencyKeys) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.IdempotencyRecord
	for _, record := range r.records {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sortByExpiry(expired)
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, record := range expired {
		delete(r.records, record.Key)
	}
	return len(expired), nil
}

func sortByExpiry(records []domain.IdempotencyRecord) {
	slices.SortFunc(records, func(a, b domain.IdempotencyRecord) int {
		return a.ExpiresAt.Compare(b.ExpiresAt)
	})
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.Response.Body = append([]byte(nil), src.Response.Body...)
	return dst
}

var _ domain.IdempotencyRepository = (*idempotencyKeys)(nil)
