package ordering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/queue"
)

// ItemRequest — запрошенная позиция заказа.
type ItemRequest struct {
	MenuItemID string
	Quantity   int32
	Notes      string
}

// CreateOrderRequest — входные данные для создания заказа.
type CreateOrderRequest struct {
	CustomerID string
	ShopID     string
	Items      []ItemRequest
}

// Validate проверяет форму запроса до обращения к хранилищу.
// Количество проверяется позже, вместе с позицией меню.
func (r CreateOrderRequest) Validate() error {
	if strings.TrimSpace(r.CustomerID) == "" {
		return domain.Errorf(domain.KindValidation, "customer_id is required")
	}
	if strings.TrimSpace(r.ShopID) == "" {
		return domain.Errorf(domain.KindValidation, "shop_id is required")
	}
	if len(r.Items) == 0 {
		return domain.Errorf(domain.KindValidation, "order must contain at least one item")
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.MenuItemID) == "" {
			return domain.Errorf(domain.KindValidation, "items[%d].menu_item_id is required", i)
		}
	}
	return nil
}

// Processor принимает новые заказы в очередь кофейни.
type Processor struct {
	deps
	tx     domain.TxManager
	queues *queue.Manager
}

// NewProcessor создаёт Processor. Если queues не задан, создаётся менеджер с настройками по умолчанию.
func NewProcessor(tx domain.TxManager, queues *queue.Manager, options ...Option) *Processor {
	if queues == nil {
		queues = queue.NewManager(tx)
	}
	return &Processor{
		deps:   newDeps("order-processor", options),
		tx:     tx,
		queues: queues,
	}
}

// CreateOrder проверяет клиента, кофейню, ёмкость очереди и позиции меню, сохраняет заказ
// в статусе PENDING с назначенным местом в очереди и увеличивает лояльность клиента.
// Проверка ёмкости, назначение позиции и запись выполняются атомарно под блокировкой очереди.
// Подтверждение клиенту отправляется асинхронно после фиксации транзакции.
func (p *Processor) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	ctx, span := p.tracer.Start(ctx, "ordering.CreateOrder", trace.WithAttributes(
		attribute.String("customer_id", req.CustomerID),
		attribute.String("shop_id", req.ShopID),
		attribute.Int("items", len(req.Items)),
	))
	defer span.End()

	logger := p.logger.WithFields(log.Fields{
		"customer_id": req.CustomerID,
		"shop_id":     req.ShopID,
	})

	started := time.Now()
	order, err := p.createOrder(ctx, req)
	p.metrics.RecordOperationDuration("create_order", time.Since(started))
	if err != nil {
		if reason, counted := rejectionReason(err); counted {
			p.metrics.RecordAdmissionRejected(reason)
		}
		failSpan(span, err)
		p.logFailure(logger, err, "order rejected")
		return domain.Order{}, err
	}

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.Int("queue_position", order.QueuePosition),
	)
	p.metrics.RecordOrderCreated()
	p.recordStatus(ctx, order, "", domain.ActorCustomer)
	p.notifier.NotifyConfirmation(order)

	logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"queue_position": order.QueuePosition,
		"wait_minutes":   order.EstimatedWaitMinutes,
		"amount_minor":   order.AmountMinor,
	}).Info("order created")
	return order, nil
}

func (p *Processor) createOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	if err := req.Validate(); err != nil {
		return domain.Order{}, err
	}

	var (
		order  domain.Order
		active int
	)
	err := p.queues.WithShopLock(ctx, req.ShopID, func(ctx context.Context) error {
		return p.tx.InTx(ctx, func(repos domain.Repositories) error {
			customer, err := repos.Customers.FindByID(ctx, req.CustomerID)
			if err != nil {
				return describeNotFound(err, domain.ErrCustomerNotFound, "customer", req.CustomerID)
			}
			shop, err := repos.Shops.FindByID(ctx, req.ShopID)
			if err != nil {
				return describeNotFound(err, domain.ErrShopNotFound, "shop", req.ShopID)
			}

			if err := repos.Orders.LockQueue(ctx, shop.ID); err != nil {
				return fmt.Errorf("lock queue: %w", err)
			}
			count, err := repos.Orders.CountActive(ctx, shop.ID)
			if err != nil {
				return fmt.Errorf("count active orders: %w", err)
			}
			if count >= shop.Capacity() {
				return domain.Errorf(domain.KindQueueFull,
					"queue of shop %s is full: %d of %d slots taken", shop.ID, count, shop.Capacity())
			}

			now := p.now()
			items, err := p.resolveItems(ctx, repos.MenuItems, shop.ID, req.Items, now)
			if err != nil {
				return err
			}

			position, err := p.queues.AssignPosition(ctx, repos.Orders, shop.ID)
			if err != nil {
				return err
			}

			order = domain.Order{
				ID:                   p.newID(),
				CustomerID:           customer.ID,
				ShopID:               shop.ID,
				CustomerName:         customer.Name,
				ShopName:             shop.Name,
				Status:               domain.OrderStatusPending,
				AmountMinor:          domain.ItemsTotalMinor(items),
				Items:                items,
				QueuePosition:        position,
				EstimatedWaitMinutes: p.queues.EstimateWait(position),
				CreatedAt:            now,
				UpdatedAt:            now,
			}
			if errs := order.ValidateInvariants(); len(errs) > 0 {
				return fmt.Errorf("order invariants violated: %v", errs)
			}

			if err := repos.Orders.Create(ctx, order); err != nil {
				return fmt.Errorf("persist order: %w", err)
			}
			if err := repos.Customers.IncrementLoyalty(ctx, customer.ID); err != nil {
				return fmt.Errorf("increment loyalty: %w", err)
			}
			active = count + 1
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	p.queues.SetDepth(order.ShopID, active)
	return order, nil
}

// resolveItems превращает запрос в позиции заказа со снимком цены и названия.
func (p *Processor) resolveItems(
	ctx context.Context,
	menu domain.MenuItemStore,
	shopID string,
	requested []ItemRequest,
	now time.Time,
) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(requested))
	for _, req := range requested {
		menuItem, err := menu.FindByID(ctx, req.MenuItemID)
		if err != nil {
			return nil, describeNotFound(err, domain.ErrMenuItemNotFound, "menu item", req.MenuItemID)
		}
		// Позиция чужой кофейни для этого заказа не существует.
		if menuItem.ShopID != shopID {
			return nil, domain.Errorf(domain.KindMenuItemNotFound,
				"menu item %s not found in shop %s", req.MenuItemID, shopID)
		}
		if !menuItem.Available {
			return nil, domain.Errorf(domain.KindMenuItemUnavailable,
				"menu item %s (%s) is currently unavailable", menuItem.ID, menuItem.Name)
		}
		if req.Quantity <= 0 {
			return nil, domain.Errorf(domain.KindInvalidQuantity,
				"quantity for menu item %s must be greater than zero, got %d", menuItem.ID, req.Quantity)
		}

		items = append(items, domain.OrderItem{
			ID:             uuid.NewString(),
			MenuItemID:     menuItem.ID,
			Name:           menuItem.Name,
			UnitPriceMinor: menuItem.PriceMinor,
			Qty:            req.Quantity,
			Notes:          strings.TrimSpace(req.Notes),
			CreatedAt:      now,
		})
	}
	return items, nil
}
