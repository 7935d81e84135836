package domain

// OrderStatus описывает жизненный цикл заказа в очереди кофейни.
type OrderStatus string

const (
	// OrderStatusPending — заказ принят и поставлен в очередь.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed — кофейня подтвердила заказ.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusProcessing — заказ готовится.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusCompleted — заказ выдан клиенту.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusCancelled},
}

// ActiveStatuses возвращает статусы, занимающие место в очереди.
func ActiveStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing}
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive сообщает, занимает ли заказ с этим статусом слот в очереди.
func (s OrderStatus) IsActive() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionTo проверяет переход по таблице состояний.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition возвращает ErrInvalidStateTransition с текущим и запрошенным статусом.
func ValidateTransition(current, next OrderStatus) error {
	if current.CanTransitionTo(next) {
		return nil
	}
	return Errorf(KindInvalidStateTransition, "invalid state transition from %s to %s", current, next)
}
