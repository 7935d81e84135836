package domain

import (
	"strings"
	"time"
)

// TimelineEventOrderStatusChanged — единственный тип события в истории заказа.
const TimelineEventOrderStatusChanged = "OrderStatusChanged"

// Actor — кто инициировал смену статуса.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorShop     Actor = "shop"
)

// TimelineEvent — запись истории заказа. Reason содержит новый статус.
type TimelineEvent struct {
	OrderID string
	// Seq нумерует события заказа с 1 и назначается хранилищем.
	Seq      int
	Type     string
	From     OrderStatus
	Reason   string
	Actor    Actor
	Occurred time.Time
}

// StatusChanged описывает переход from -> to. Для только что созданного заказа from пуст.
func StatusChanged(orderID string, from, to OrderStatus, actor Actor, at time.Time) TimelineEvent {
	return TimelineEvent{
		OrderID:  orderID,
		Type:     TimelineEventOrderStatusChanged,
		From:     from,
		Reason:   string(to),
		Actor:    actor,
		Occurred: at,
	}
}

// Normalize проверяет событие перед записью и проставляет время, если оно не задано.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	if strings.TrimSpace(e.OrderID) == "" {
		return TimelineEvent{}, Errorf(KindValidation, "timeline event requires order id")
	}
	if e.Type == "" {
		return TimelineEvent{}, Errorf(KindValidation, "timeline event for order %s has no type", e.OrderID)
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	return e, nil
}
