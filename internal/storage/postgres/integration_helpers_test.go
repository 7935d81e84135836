package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

// testDSNEnv — DSN базы для интеграционных тестов. Без неё тесты пропускаются.
const testDSNEnv = "CQS_POSTGRES_TEST_DSN"

func openRawStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set, skipping postgres integration test", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	store, err := Open(ctx, dsn, WithPool(Pool{MaxOpenConns: 4}))
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func openStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	store := openRawStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, store.EnsureSchema(ctx))

	_, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			idempotency_keys,
			outbox_messages,
			timeline_events,
			order_items,
			orders,
			menu_items,
			shops,
			customers
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)
	return store
}

// seedCatalog создаёт клиента alice, кофейню downtown на две позиции и латте за 4.50.
func seedCatalog(t *testing.T, store *Store) {
	t.Helper()

	ctx := context.Background()
	err := store.InTx(ctx, func(repos domain.Repositories) error {
		if err := repos.Customers.Save(ctx, domain.Customer{ID: "alice", Name: "Alice", MobileNumber: "+100"}); err != nil {
			return err
		}
		if err := repos.Customers.Save(ctx, domain.Customer{ID: "bob", Name: "Bob"}); err != nil {
			return err
		}
		if err := repos.Shops.Save(ctx, domain.Shop{ID: "downtown", Name: "Downtown", MaxQueueSize: 2}); err != nil {
			return err
		}
		return repos.MenuItems.Save(ctx, domain.MenuItem{
			ID: "latte", ShopID: "downtown", Name: "Latte", PriceMinor: 450, Available: true,
		})
	})
	require.NoError(t, err)
}

func sampleOrder(id, customerID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:           id,
		CustomerID:   customerID,
		ShopID:       "downtown",
		CustomerName: "Alice",
		ShopName:     "Downtown",
		Status:       domain.OrderStatusPending,
		AmountMinor:  900,
		Items: []domain.OrderItem{{
			ID:             id + "-item-1",
			MenuItemID:     "latte",
			Name:           "Latte",
			UnitPriceMinor: 450,
			Qty:            2,
			Notes:          "oat milk",
			CreatedAt:      createdAt,
		}},
		QueuePosition:        1,
		EstimatedWaitMinutes: 5,
		CreatedAt:            createdAt,
		UpdatedAt:            createdAt,
	}
}
