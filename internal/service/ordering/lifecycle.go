package ordering

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/queue"
)

// QueueStatus — положение заказа в очереди с точки зрения клиента.
type QueueStatus struct {
	OrderID              string
	ShopID               string
	Status               domain.OrderStatus
	Position             int
	TotalInQueue         int
	EstimatedWaitMinutes int
}

// Lifecycle управляет заказами после создания: отмена клиентом, смена статуса кофейней,
// положение в очереди и чтение истории.
type Lifecycle struct {
	deps
	tx     domain.TxManager
	queues *queue.Manager
}

// NewLifecycle создаёт Lifecycle. Для корректной сериализации очереди queues должен быть
// тем же менеджером, что использует Processor.
func NewLifecycle(tx domain.TxManager, queues *queue.Manager, options ...Option) *Lifecycle {
	if queues == nil {
		queues = queue.NewManager(tx)
	}
	return &Lifecycle{
		deps:   newDeps("order-lifecycle", options),
		tx:     tx,
		queues: queues,
	}
}

// CancelOrder отменяет заказ клиента и сдвигает очередь кофейни.
// Завершённый или уже отменённый заказ отменить нельзя: CannotCancelCompletedOrder.
func (l *Lifecycle) CancelOrder(ctx context.Context, orderID, customerID string) (domain.Order, error) {
	ctx, span := l.tracer.Start(ctx, "ordering.CancelOrder", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("customer_id", customerID),
	))
	defer span.End()

	logger := l.logger.WithFields(log.Fields{"order_id": orderID, "customer_id": customerID})
	started := time.Now()
	order, previous, moved, err := l.cancelOrder(ctx, orderID, customerID)
	l.metrics.RecordOperationDuration("cancel_order", time.Since(started))
	if err != nil {
		failSpan(span, err)
		l.logFailure(logger, err, "order cancellation rejected")
		return domain.Order{}, err
	}

	l.metrics.RecordTransition(string(previous), string(order.Status))
	l.recordStatus(ctx, order, previous, domain.ActorCustomer)
	l.notifier.NotifyCancellation(order)
	for _, other := range moved {
		l.notifier.NotifyQueueUpdate(other)
	}

	span.SetAttributes(attribute.Int("repositioned", len(moved)))
	logger.WithFields(log.Fields{
		"shop_id":      order.ShopID,
		"from":         previous,
		"repositioned": len(moved),
	}).Info("order cancelled")
	return order, nil
}

func (l *Lifecycle) cancelOrder(ctx context.Context, orderID, customerID string) (domain.Order, domain.OrderStatus, []domain.Order, error) {
	// Кофейня нужна до захвата блокировки очереди.
	current, err := l.findForCustomer(ctx, orderID, customerID)
	if err != nil {
		return domain.Order{}, "", nil, err
	}

	var (
		order    domain.Order
		previous domain.OrderStatus
		moved    []domain.Order
	)
	err = l.queues.WithShopLock(ctx, current.ShopID, func(ctx context.Context) error {
		return l.tx.InTx(ctx, func(repos domain.Repositories) error {
			if err := repos.Orders.LockQueue(ctx, current.ShopID); err != nil {
				return fmt.Errorf("lock queue: %w", err)
			}
			found, err := repos.Orders.FindByIDAndCustomer(ctx, orderID, customerID)
			if err != nil {
				return describeNotFound(err, domain.ErrOrderNotFound, "order", orderID)
			}
			if found.Status == domain.OrderStatusCompleted || found.Status == domain.OrderStatusCancelled {
				return domain.Errorf(domain.KindCannotCancelCompletedOrder,
					"order %s is already %s and cannot be cancelled", found.ID, found.Status)
			}
			if err := domain.ValidateTransition(found.Status, domain.OrderStatusCancelled); err != nil {
				return err
			}

			previous = found.Status
			found.Status = domain.OrderStatusCancelled
			found.ClearQueueSlot()
			found.UpdatedAt = l.now()
			if err := repos.Orders.Save(ctx, found); err != nil {
				return fmt.Errorf("save cancelled order: %w", err)
			}
			found.Version++
			order = found

			moved, err = l.queues.Reorder(ctx, repos.Orders, found.ShopID)
			return err
		})
	})
	if err != nil {
		return domain.Order{}, "", nil, err
	}
	return order, previous, moved, nil
}

// ApplyShopStatusUpdate применяет смену статуса от кофейни. Когда заказ покидает очередь
// (COMPLETED или CANCELLED), оставшиеся заказы перенумеровываются, а их владельцы получают
// уведомления о новой позиции.
func (l *Lifecycle) ApplyShopStatusUpdate(ctx context.Context, shopID, orderID string, next domain.OrderStatus) (domain.Order, error) {
	ctx, span := l.tracer.Start(ctx, "ordering.ApplyShopStatusUpdate", trace.WithAttributes(
		attribute.String("shop_id", shopID),
		attribute.String("order_id", orderID),
		attribute.String("status", string(next)),
	))
	defer span.End()

	logger := l.logger.WithFields(log.Fields{"shop_id": shopID, "order_id": orderID, "status": next})
	started := time.Now()
	order, previous, moved, err := l.applyShopStatusUpdate(ctx, shopID, orderID, next)
	l.metrics.RecordOperationDuration("update_status", time.Since(started))
	if err != nil {
		failSpan(span, err)
		l.logFailure(logger, err, "status update rejected")
		return domain.Order{}, err
	}

	l.metrics.RecordTransition(string(previous), string(order.Status))
	l.recordStatus(ctx, order, previous, domain.ActorShop)
	l.notifier.NotifyQueueUpdate(order)
	for _, other := range moved {
		l.notifier.NotifyQueueUpdate(other)
	}

	logger.WithFields(log.Fields{"from": previous, "repositioned": len(moved)}).Info("order status updated")
	return order, nil
}

func (l *Lifecycle) applyShopStatusUpdate(ctx context.Context, shopID, orderID string, next domain.OrderStatus) (domain.Order, domain.OrderStatus, []domain.Order, error) {
	if !next.Valid() {
		return domain.Order{}, "", nil, domain.Errorf(domain.KindValidation, "unknown order status %q", next)
	}

	var (
		order    domain.Order
		previous domain.OrderStatus
		moved    []domain.Order
	)
	err := l.queues.WithShopLock(ctx, shopID, func(ctx context.Context) error {
		return l.tx.InTx(ctx, func(repos domain.Repositories) error {
			if _, err := repos.Shops.FindByID(ctx, shopID); err != nil {
				return describeNotFound(err, domain.ErrShopNotFound, "shop", shopID)
			}
			if err := repos.Orders.LockQueue(ctx, shopID); err != nil {
				return fmt.Errorf("lock queue: %w", err)
			}
			found, err := repos.Orders.FindByIDAndShop(ctx, orderID, shopID)
			if err != nil {
				return describeNotFound(err, domain.ErrOrderNotFound, "order", orderID)
			}
			if err := domain.ValidateTransition(found.Status, next); err != nil {
				return err
			}

			previous = found.Status
			found.Status = next
			if next.IsTerminal() {
				found.ClearQueueSlot()
			}
			found.UpdatedAt = l.now()
			if err := repos.Orders.Save(ctx, found); err != nil {
				return fmt.Errorf("save order status: %w", err)
			}
			found.Version++
			order = found

			if !next.IsTerminal() {
				return nil
			}
			moved, err = l.queues.Reorder(ctx, repos.Orders, shopID)
			return err
		})
	})
	if err != nil {
		return domain.Order{}, "", nil, err
	}
	return order, previous, moved, nil
}

// GetQueueStatus возвращает позицию заказа клиента. Для завершённых и отменённых
// заказов позиция и ожидание нулевые.
func (l *Lifecycle) GetQueueStatus(ctx context.Context, orderID, customerID string) (QueueStatus, error) {
	var status QueueStatus
	err := l.tx.InTx(ctx, func(repos domain.Repositories) error {
		order, err := repos.Orders.FindByIDAndCustomer(ctx, orderID, customerID)
		if err != nil {
			return describeNotFound(err, domain.ErrOrderNotFound, "order", orderID)
		}

		status = QueueStatus{OrderID: order.ID, ShopID: order.ShopID, Status: order.Status}
		if order.Status.IsTerminal() {
			return nil
		}

		total, err := repos.Orders.CountActive(ctx, order.ShopID)
		if err != nil {
			return fmt.Errorf("count active orders: %w", err)
		}
		status.Position = order.QueuePosition
		status.EstimatedWaitMinutes = order.EstimatedWaitMinutes
		status.TotalInQueue = total
		return nil
	})
	if err != nil {
		return QueueStatus{}, err
	}
	return status, nil
}

// GetOrder возвращает заказ по идентификатору.
func (l *Lifecycle) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := l.tx.InTx(ctx, func(repos domain.Repositories) error {
		var err error
		order, err = repos.Orders.FindByID(ctx, orderID)
		return describeNotFound(err, domain.ErrOrderNotFound, "order", orderID)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListCustomerOrders возвращает заказы клиента от новых к старым.
func (l *Lifecycle) ListCustomerOrders(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := l.tx.InTx(ctx, func(repos domain.Repositories) error {
		if _, err := repos.Customers.FindByID(ctx, customerID); err != nil {
			return describeNotFound(err, domain.ErrCustomerNotFound, "customer", customerID)
		}
		var err error
		orders, err = repos.Orders.ListByCustomer(ctx, customerID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// Timeline возвращает историю статусов заказа. Без настроенного журнала история пустая.
func (l *Lifecycle) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := l.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	if l.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	events, err := l.timeline.List(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return events, nil
}

func (l *Lifecycle) findForCustomer(ctx context.Context, orderID, customerID string) (domain.Order, error) {
	var order domain.Order
	err := l.tx.InTx(ctx, func(repos domain.Repositories) error {
		var err error
		order, err = repos.Orders.FindByIDAndCustomer(ctx, orderID, customerID)
		return describeNotFound(err, domain.ErrOrderNotFound, "order", orderID)
	})
	return order, err
}
