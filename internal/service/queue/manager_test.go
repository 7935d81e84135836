package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/storage/memory"
)

func seedOrder(t *testing.T, store *memory.Store, id string, created time.Time, position int, status domain.OrderStatus) {
	t.Helper()
	order := domain.Order{
		ID:                   id,
		CustomerID:           "customer-1",
		ShopID:               "shop-1",
		Status:               status,
		AmountMinor:          450,
		Items:                []domain.OrderItem{{ID: "i-" + id, MenuItemID: "latte", Qty: 1, UnitPriceMinor: 450}},
		QueuePosition:        position,
		EstimatedWaitMinutes: position * DefaultAveragePrepMinutes,
		CreatedAt:            created,
		UpdatedAt:            created,
	}
	require.NoError(t, store.Orders().Create(context.Background(), order))
}

func TestEstimateWait(t *testing.T) {
	t.Parallel()

	m := NewManager(memory.NewStore())
	for p := 1; p <= 60; p++ {
		if got := m.EstimateWait(p); got != 5*p {
			t.Fatalf("EstimateWait(%d) = %d, want %d", p, got, 5*p)
		}
	}
	if got := m.EstimateWait(0); got != 0 {
		t.Fatalf("EstimateWait(0) = %d, want 0", got)
	}

	custom := NewManager(memory.NewStore(), WithAveragePrepMinutes(3))
	if got := custom.EstimateWait(4); got != 12 {
		t.Fatalf("custom EstimateWait(4) = %d, want 12", got)
	}
}

func TestAssignPositionCountsActiveOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now().UTC()
	seedOrder(t, store, "a", now, 1, domain.OrderStatusPending)
	seedOrder(t, store, "b", now.Add(time.Second), 2, domain.OrderStatusProcessing)
	seedOrder(t, store, "c", now.Add(2*time.Second), 0, domain.OrderStatusCompleted)

	m := NewManager(store)
	position, err := m.AssignPosition(ctx, store.Orders(), "shop-1")
	require.NoError(t, err)
	require.Equal(t, 3, position)

	position, err = m.AssignPosition(ctx, store.Orders(), "empty-shop")
	require.NoError(t, err)
	require.Equal(t, 1, position)
}

func TestReorderCompactsQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now().UTC()
	// Позиция 1 ушла из очереди: остались 2, 3, 4.
	seedOrder(t, store, "b", now.Add(time.Second), 2, domain.OrderStatusPending)
	seedOrder(t, store, "c", now.Add(2*time.Second), 3, domain.OrderStatusConfirmed)
	seedOrder(t, store, "d", now.Add(3*time.Second), 4, domain.OrderStatusProcessing)
	seedOrder(t, store, "a", now, 0, domain.OrderStatusCancelled)

	m := NewManager(store)
	changed, err := m.ReorderQueue(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, changed, 3)

	active, err := store.Orders().FindActiveOrderedByCreation(ctx, "shop-1")
	require.NoError(t, err)
	for i, order := range active {
		require.Equal(t, i+1, order.QueuePosition, "order %s", order.ID)
		require.Equal(t, (i+1)*5, order.EstimatedWaitMinutes, "order %s", order.ID)
	}

	for _, order := range changed {
		stored, err := store.Orders().FindByID(ctx, order.ID)
		require.NoError(t, err)
		require.Equal(t, stored.Version, order.Version, "returned orders carry the stored version")
	}
}

func TestReorderReturnsOnlyMovedOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now().UTC()
	seedOrder(t, store, "a", now, 1, domain.OrderStatusPending)
	seedOrder(t, store, "c", now.Add(2*time.Second), 3, domain.OrderStatusPending)

	m := NewManager(store)
	changed, err := m.ReorderQueue(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, changed, 1)
	require.Equal(t, "c", changed[0].ID)
	require.Equal(t, 2, changed[0].QueuePosition)
	require.Equal(t, 10, changed[0].EstimatedWaitMinutes)

	// Повторный пересчёт ничего не меняет.
	changed, err = m.ReorderQueue(ctx, "shop-1")
	require.NoError(t, err)
	require.Empty(t, changed)
}

func TestReorderTieBreaksByID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now().UTC()
	seedOrder(t, store, "order-b", now, 1, domain.OrderStatusPending)
	seedOrder(t, store, "order-a", now, 2, domain.OrderStatusPending)

	m := NewManager(store)
	_, err := m.ReorderQueue(ctx, "shop-1")
	require.NoError(t, err)

	a, err := store.Orders().FindByID(ctx, "order-a")
	require.NoError(t, err)
	require.Equal(t, 1, a.QueuePosition)
}

func TestWithShopLockSerializesSameShop(t *testing.T) {
	t.Parallel()

	m := NewManager(memory.NewStore())
	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithShopLock(context.Background(), "shop-1", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
	require.Equal(t, 0, m.locks.size(), "lock entries must be released")
}

func TestWithShopLockDoesNotBlockOtherShops(t *testing.T) {
	t.Parallel()

	m := NewManager(memory.NewStore())
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = m.WithShopLock(context.Background(), "shop-1", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := m.WithShopLock(ctx, "shop-2", func(context.Context) error { return nil })
	require.NoError(t, err)
	close(release)
}

func TestWithShopLockHonoursContext(t *testing.T) {
	t.Parallel()

	m := NewManager(memory.NewStore())
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = m.WithShopLock(context.Background(), "shop-1", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.WithShopLock(ctx, "shop-1", func(context.Context) error {
		t.Error("must not enter critical section")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
	require.Equal(t, 0, m.locks.size())
}
