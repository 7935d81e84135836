package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

const selectOrders = `
	SELECT id, customer_id, shop_id, customer_name, shop_name, status, amount_minor,
	       queue_position, estimated_wait_minutes, version, created_at, updated_at
	FROM orders`

// orderRepository — PostgreSQL-реализация OrderStore.
// db задан только вне InTx: тогда Create и SaveAll сами открывают транзакцию.
type orderRepository struct {
	q  querier
	db *sql.DB
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	return r.atomically(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, shop_id, customer_name, shop_name, status, amount_minor,
			                    queue_position, estimated_wait_minutes, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			order.ID, order.CustomerID, order.ShopID, order.CustomerName, order.ShopName,
			string(order.Status), order.AmountMinor, order.QueuePosition, order.EstimatedWaitMinutes,
			order.Version, order.CreatedAt, order.UpdatedAt,
		)
		switch {
		case isUniqueViolation(err):
			return domain.ErrOrderVersionConflict
		case isForeignKeyViolation(err):
			return domain.Errorf(domain.KindValidation, "order %s references unknown customer or shop", order.ID)
		case err != nil:
			return fmt.Errorf("insert order %s: %w", order.ID, err)
		}
		return insertItems(ctx, q, order)
	})
}

func insertItems(ctx context.Context, q querier, order domain.Order) error {
	for _, item := range order.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, menu_item_id, name, unit_price_minor, qty, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, order.ID, item.MenuItemID, item.Name, item.UnitPriceMinor, item.Qty, item.Notes, item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert item %s of order %s: %w", item.ID, order.ID, err)
		}
	}
	return nil
}

func (r *orderRepository) FindByID(ctx context.Context, id string) (domain.Order, error) {
	return r.one(ctx, ` WHERE id = $1`, id)
}

func (r *orderRepository) FindByIDAndCustomer(ctx context.Context, id, customerID string) (domain.Order, error) {
	return r.one(ctx, ` WHERE id = $1 AND customer_id = $2`, id, customerID)
}

func (r *orderRepository) FindByIDAndShop(ctx context.Context, id, shopID string) (domain.Order, error) {
	return r.one(ctx, ` WHERE id = $1 AND shop_id = $2`, id, shopID)
}

func (r *orderRepository) CountActive(ctx context.Context, shopID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE shop_id = $1 AND status = ANY($2)`,
		shopID, activeStatuses(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active orders of %s: %w", shopID, err)
	}
	return n, nil
}

func (r *orderRepository) FindActiveOrderedByCreation(ctx context.Context, shopID string) ([]domain.Order, error) {
	return r.query(ctx, selectOrders+` WHERE shop_id = $1 AND status = ANY($2) ORDER BY created_at, id`,
		shopID, activeStatuses())
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	q := selectOrders + ` WHERE customer_id = $1 ORDER BY created_at DESC, id DESC`
	if limit <= 0 {
		return r.query(ctx, q, customerID)
	}
	return r.query(ctx, q+` LIMIT $2`, customerID, limit)
}

// Save обновляет изменяемые поля заказа при совпадении версии. Позиции не меняются.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	return saveOrder(ctx, r.q, order)
}

// SaveAll сохраняет заказы одной транзакцией: конфликт версии любого откатывает все.
func (r *orderRepository) SaveAll(ctx context.Context, orders []domain.Order) error {
	return r.atomically(ctx, func(q querier) error {
		for _, order := range orders {
			if err := saveOrder(ctx, q, order); err != nil {
				return err
			}
		}
		return nil
	})
}

// LockQueue берёт advisory lock очереди кофейни до конца транзакции.
func (r *orderRepository) LockQueue(ctx context.Context, shopID string) error {
	if _, err := r.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, shopID); err != nil {
		return fmt.Errorf("lock queue of %s: %w", shopID, err)
	}
	return nil
}

func saveOrder(ctx context.Context, q querier, order domain.Order) error {
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $3, amount_minor = $4, queue_position = $5, estimated_wait_minutes = $6,
		    updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $2`,
		order.ID, order.Version,
		string(order.Status), order.AmountMinor, order.QueuePosition, order.EstimatedWaitMinutes, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update order %s: rows affected: %w", order.ID, err)
	} else if n == 1 {
		return nil
	}

	// Ноль строк: заказа нет либо версия устарела.
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
		return fmt.Errorf("probe order %s: %w", order.ID, err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

// atomically выполняет fn в текущей транзакции либо в новой, если репозиторий работает вне InTx.
func (r *orderRepository) atomically(ctx context.Context, fn func(q querier) error) (err error) {
	if r.db == nil {
		return fn(r.q)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *orderRepository) one(ctx context.Context, where string, args ...any) (domain.Order, error) {
	orders, err := r.query(ctx, selectOrders+where, args...)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return orders[0], nil
}

// query читает заказы, затем одним запросом подгружает позиции всех найденных заказов.
func (r *orderRepository) query(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var (
			o      domain.Order
			status string
		)
		if err := rows.Scan(
			&o.ID, &o.CustomerID, &o.ShopID, &o.CustomerName, &o.ShopName,
			&status, &o.AmountMinor, &o.QueuePosition, &o.EstimatedWaitMinutes,
			&o.Version, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = domain.OrderStatus(status)
		orders = append(orders, o)
	}
	// Внутри транзакции одновременно может быть открыт только один курсор.
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := r.itemsOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []domain.OrderItem{}
		}
	}
	return orders, nil
}

func (r *orderRepository) itemsOf(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT order_id, id, menu_item_id, name, unit_price_minor, qty, notes, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, created_at, id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}

	byOrder := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			item    domain.OrderItem
		)
		if err := rows.Scan(&orderID, &item.ID, &item.MenuItemID, &item.Name,
			&item.UnitPriceMinor, &item.Qty, &item.Notes, &item.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		byOrder[orderID] = append(byOrder[orderID], item)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("read order items: %w", err)
	}
	return byOrder, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}

func activeStatuses() []string {
	active := domain.ActiveStatuses()
	out := make([]string, len(active))
	for i, s := range active {
		out[i] = string(s)
	}
	return out
}

var _ domain.OrderStore = (*orderRepository)(nil)
