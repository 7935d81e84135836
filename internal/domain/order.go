package domain

import (
	"errors"
	"time"
)

var (
	errCustomerRequired = errors.New("customer_id is required")
	errShopRequired     = errors.New("shop_id is required")
	errItemsRequired    = errors.New("order must contain at least one item")
	errAmountMismatch   = errors.New("order amount does not match items sum")
	errQueueSlot        = errors.New("queue position must be set only for active orders")
	errItemPrice        = errors.New("item price must be non-negative")
)

// OrderItem представляет одну позицию заказа со снимком цены на момент заказа.
type OrderItem struct {
	ID         string
	MenuItemID string
	// Name и UnitPriceMinor фиксируются при создании и не меняются вместе с меню.
	Name           string
	UnitPriceMinor int64
	Qty            int32
	Notes          string
	CreatedAt      time.Time
}

// LineTotalMinor — стоимость позиции в минимальных денежных единицах.
func (i OrderItem) LineTotalMinor() int64 {
	return int64(i.Qty) * i.UnitPriceMinor
}

// Order агрегирует состояние заказа, его позиции и место в очереди.
type Order struct {
	ID           string
	CustomerID   string
	ShopID       string
	CustomerName string
	ShopName     string
	Status       OrderStatus
	AmountMinor  int64
	Items        []OrderItem
	// QueuePosition равен 0, когда заказ не в очереди.
	QueuePosition        int
	EstimatedWaitMinutes int
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ItemsTotalMinor суммирует стоимость позиций.
func ItemsTotalMinor(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotalMinor()
	}
	return total
}

// ClearQueueSlot обнуляет позицию и ожидание для заказа, покинувшего очередь.
func (o *Order) ClearQueueSlot() {
	o.QueuePosition = 0
	o.EstimatedWaitMinutes = 0
}

// Clone возвращает копию заказа с независимым срезом позиций.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	return dst
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, errCustomerRequired)
	}
	if o.ShopID == "" {
		errs = append(errs, errShopRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, errItemsRequired)
	}

	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, errItemPrice)
		}
	}
	if ItemsTotalMinor(o.Items) != o.AmountMinor {
		errs = append(errs, errAmountMismatch)
	}

	// Слот в очереди есть только у активных заказов.
	if o.Status.IsActive() != (o.QueuePosition > 0) {
		errs = append(errs, errQueueSlot)
	}

	return errs
}
