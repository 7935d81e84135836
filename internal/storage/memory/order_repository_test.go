package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/storage/memory"
)

func newOrder(id string, created time.Time) domain.Order {
	return domain.Order{
		ID:          id,
		CustomerID:  "customer-1",
		ShopID:      "shop-1",
		Status:      domain.OrderStatusPending,
		AmountMinor: 450,
		Items: []domain.OrderItem{
			{ID: "item-" + id, MenuItemID: "latte", Name: "Latte", Qty: 1, UnitPriceMinor: 450, CreatedAt: created},
		},
		QueuePosition:        1,
		EstimatedWaitMinutes: 5,
		CreatedAt:            created,
		UpdatedAt:            created,
	}
}

func TestOrderRepository_CreateFind(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	order := newOrder("order-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected duplicate create to conflict, got %v", err)
	}

	stored, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored.ID != order.ID || len(stored.Items) != 1 {
		t.Fatalf("unexpected stored order: %+v", stored)
	}

	if _, err := repo.FindByIDAndCustomer(ctx, order.ID, "someone-else"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found for foreign customer, got %v", err)
	}
	if _, err := repo.FindByIDAndShop(ctx, order.ID, "other-shop"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found for foreign shop, got %v", err)
	}
	if _, err := repo.FindByIDAndShop(ctx, order.ID, "shop-1"); err != nil {
		t.Fatalf("expected order scoped to shop, got %v", err)
	}
}

func TestOrderRepository_SaveVersioning(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, _ := repo.FindByID(ctx, order.ID)
	stored.Status = domain.OrderStatusConfirmed
	if err := repo.Save(ctx, stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated, _ := repo.FindByID(ctx, order.ID)
	if updated.Version != 1 || updated.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected updated order: version=%d status=%s", updated.Version, updated.Status)
	}

	// Повторное сохранение устаревшей версии должно упасть.
	if err := repo.Save(ctx, stored); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := repo.Save(ctx, newOrder("missing", time.Now())); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepository_SaveAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	now := time.Now().UTC()
	a := newOrder("a", now)
	b := newOrder("b", now.Add(time.Second))
	for _, o := range []domain.Order{a, b} {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	a.QueuePosition = 7
	stale := b
	stale.Version = 42
	if err := repo.SaveAll(ctx, []domain.Order{a, stale}); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	stored, _ := repo.FindByID(ctx, "a")
	if stored.QueuePosition != 1 {
		t.Fatalf("partial SaveAll leaked: position=%d", stored.QueuePosition)
	}
}

func TestOrderRepository_ActiveOrdering(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	now := time.Now().UTC()

	second := newOrder("b-order", now)
	first := newOrder("a-order", now)
	oldest := newOrder("z-order", now.Add(-time.Minute))
	done := newOrder("done", now.Add(-time.Hour))
	done.Status = domain.OrderStatusCompleted
	done.ClearQueueSlot()
	otherShop := newOrder("other", now)
	otherShop.ShopID = "shop-2"

	for _, o := range []domain.Order{second, first, oldest, done, otherShop} {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	count, err := repo.CountActive(ctx, "shop-1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 active orders, got %d", count)
	}

	active, err := repo.FindActiveOrderedByCreation(ctx, "shop-1")
	if err != nil {
		t.Fatalf("find active failed: %v", err)
	}
	want := []string{"z-order", "a-order", "b-order"}
	if len(active) != len(want) {
		t.Fatalf("expected %d active orders, got %d", len(want), len(active))
	}
	for i, id := range want {
		if active[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, active[i].ID)
		}
	}

	list, err := repo.ListByCustomer(ctx, "customer-1", 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected limit 2, got %d", len(list))
	}
	if list[0].CreatedAt.Before(list[1].CreatedAt) {
		t.Fatal("expected newest first")
	}
}
