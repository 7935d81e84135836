package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

// orderRepository — in-memory реализация OrderStore.
type orderRepository struct {
	g guard
	t tables
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	var err error
	r.g.write(func() {
		if _, exists := r.t.order(order.ID); exists {
			err = domain.ErrOrderVersionConflict
			return
		}
		r.t.putOrder(order)
	})
	return err
}

// FindByID возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) FindByID(_ context.Context, id string) (domain.Order, error) {
	var (
		order domain.Order
		ok    bool
	)
	r.g.read(func() { order, ok = r.t.order(id) })
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (r *orderRepository) FindByIDAndCustomer(ctx context.Context, id, customerID string) (domain.Order, error) {
	order, err := r.FindByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if order.CustomerID != customerID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (r *orderRepository) FindByIDAndShop(ctx context.Context, id, shopID string) (domain.Order, error) {
	order, err := r.FindByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if order.ShopID != shopID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (r *orderRepository) CountActive(_ context.Context, shopID string) (int, error) {
	count := 0
	r.g.read(func() {
		r.t.eachOrder(func(o domain.Order) {
			if o.ShopID == shopID && o.Status.IsActive() {
				count++
			}
		})
	})
	return count, nil
}

// FindActiveOrderedByCreation возвращает активные заказы по времени создания, при равенстве по ID.
func (r *orderRepository) FindActiveOrderedByCreation(_ context.Context, shopID string) ([]domain.Order, error) {
	result := make([]domain.Order, 0)
	r.g.read(func() {
		r.t.eachOrder(func(o domain.Order) {
			if o.ShopID == shopID && o.Status.IsActive() {
				result = append(result, o)
			}
		})
	})

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepository) Save(_ context.Context, order domain.Order) error {
	var err error
	r.g.write(func() {
		if err = r.checkVersion(order); err != nil {
			return
		}
		order.Version++
		r.t.putOrder(order)
	})
	return err
}

// SaveAll проверяет версии всех заказов до записи, поэтому сохраняет либо все, либо ни одного.
func (r *orderRepository) SaveAll(_ context.Context, orders []domain.Order) error {
	var err error
	r.g.write(func() {
		for _, order := range orders {
			if err = r.checkVersion(order); err != nil {
				return
			}
		}
		for _, order := range orders {
			order.Version++
			r.t.putOrder(order)
		}
	})
	return err
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepository) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	result := make([]domain.Order, 0)
	r.g.read(func() {
		r.t.eachOrder(func(o domain.Order) {
			if o.CustomerID == customerID {
				result = append(result, o)
			}
		})
	})

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// LockQueue ничего не делает: InTx уже держит эксклюзивную блокировку хранилища.
func (r *orderRepository) LockQueue(context.Context, string) error {
	return nil
}

func (r *orderRepository) checkVersion(order domain.Order) error {
	current, ok := r.t.order(order.ID)
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	return nil
}

var _ domain.OrderStore = (*orderRepository)(nil)
