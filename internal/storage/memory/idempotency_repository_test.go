package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/storage/memory"
)

var idemNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestIdempotencyRepository_ReserveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	reserved, err := repo.Reserve(ctx, " key-1 ", "hash-1", idemNow, 2*time.Hour)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if reserved.State != domain.RequestStateInFlight || reserved.Key != "key-1" {
		t.Fatalf("unexpected reserved record: %+v", reserved)
	}

	got, err := repo.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.ExpiresAt.Equal(idemNow.Add(2 * time.Hour)) {
		t.Fatalf("unexpected expiry: %s", got.ExpiresAt)
	}

	if _, err := repo.Reserve(ctx, "", "hash", idemNow, time.Hour); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := repo.Reserve(ctx, "key", " ", idemNow, time.Hour); !errors.Is(err, domain.ErrIdempotencyRequestHashRequired) {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
}

func TestIdempotencyRepository_LiveKeyConflicts(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	if _, err := repo.Reserve(ctx, "key-2", "hash-a", idemNow, time.Hour); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	existing, err := repo.Reserve(ctx, "key-2", "hash-a", idemNow.Add(time.Minute), time.Hour)
	if !errors.Is(err, domain.ErrIdempotencyKeyInUse) {
		t.Fatalf("expected ErrIdempotencyKeyInUse, got %v", err)
	}
	if existing.State != domain.RequestStateInFlight {
		t.Fatalf("expected existing in-flight record, got %+v", existing)
	}

	if _, err := repo.Reserve(ctx, "key-2", "hash-b", idemNow.Add(time.Minute), time.Hour); !errors.Is(err, domain.ErrIdempotencyKeyReused) {
		t.Fatalf("expected ErrIdempotencyKeyReused, got %v", err)
	}
}

func TestIdempotencyRepository_ExpiredKeyIsReplaced(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	if _, err := repo.Reserve(ctx, "key-3", "hash-a", idemNow, time.Minute); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := repo.Finish(ctx, "key-3", domain.RequestStateAccepted, domain.StoredResponse{Status: 201, Body: []byte(`{}`), OrderID: "order-1"}); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	replaced, err := repo.Reserve(ctx, "key-3", "hash-b", idemNow.Add(time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("expected expired key to be reusable, got %v", err)
	}
	if replaced.State != domain.RequestStateInFlight || replaced.RequestHash != "hash-b" || replaced.Response.OrderID != "" {
		t.Fatalf("unexpected replaced record: %+v", replaced)
	}
}

func TestIdempotencyRepository_FinishAndRelease(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	for _, key := range []string{"accepted", "released"} {
		if _, err := repo.Reserve(ctx, key, "hash", idemNow, time.Hour); err != nil {
			t.Fatalf("Reserve %s failed: %v", key, err)
		}
	}

	if err := repo.Finish(ctx, "accepted", domain.RequestStateInFlight, domain.StoredResponse{}); !errors.Is(err, domain.ErrIdempotencyStateInvalid) {
		t.Fatalf("expected ErrIdempotencyStateInvalid, got %v", err)
	}
	body := []byte(`{"orderId":"order-1"}`)
	if err := repo.Finish(ctx, "accepted", domain.RequestStateAccepted, domain.StoredResponse{Status: 201, Body: body, OrderID: "order-1"}); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	body[0] = 'x'

	record, err := repo.Get(ctx, "accepted")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !record.Replayable() || record.Response.OrderID != "order-1" || record.Response.Body[0] != '{' {
		t.Fatalf("unexpected finished record: %+v", record)
	}

	// Завершённую запись снять нельзя.
	if err := repo.Release(ctx, "accepted"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound for final record, got %v", err)
	}
	if err := repo.Release(ctx, "released"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := repo.Reserve(ctx, "released", "other-hash", idemNow, time.Hour); err != nil {
		t.Fatalf("released key must be free, got %v", err)
	}
	if err := repo.Finish(ctx, "missing", domain.RequestStateRejected, domain.StoredResponse{}); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	for i, key := range []string{"old", "older", "live"} {
		ttl := time.Duration(i+1) * time.Minute
		if key == "live" {
			ttl = time.Hour
		}
		if _, err := repo.Reserve(ctx, key, "hash", idemNow, ttl); err != nil {
			t.Fatalf("Reserve %s failed: %v", key, err)
		}
	}

	removed, err := repo.DeleteExpired(ctx, idemNow.Add(10*time.Minute), 1)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected removed=1, got %d", removed)
	}
	if _, err := repo.Get(ctx, "old"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected earliest expiring key to go first, got %v", err)
	}

	removed, err = repo.DeleteExpired(ctx, idemNow.Add(10*time.Minute), 0)
	if err != nil || removed != 1 {
		t.Fatalf("expected one more expired record, removed=%d err=%v", removed, err)
	}
	if _, err := repo.Get(ctx, "live"); err != nil {
		t.Fatalf("live key must survive cleanup, got %v", err)
	}
}
