package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

// Kind — тип уведомления клиенту.
type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindCancellation Kind = "cancellation"
	KindQueueUpdate  Kind = "queue_update"
)

// Message — уведомление о заказе, независимое от канала доставки.
type Message struct {
	ID                   string    `json:"id"`
	Kind                 Kind      `json:"kind"`
	OrderID              string    `json:"order_id"`
	CustomerID           string    `json:"customer_id"`
	CustomerName         string    `json:"customer_name,omitempty"`
	ShopID               string    `json:"shop_id"`
	ShopName             string    `json:"shop_name,omitempty"`
	Status               string    `json:"status"`
	QueuePosition        int       `json:"queue_position"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
	AmountMinor          int64     `json:"amount_minor"`
	Text                 string    `json:"text"`
	CreatedAt            time.Time `json:"created_at"`
}

// Sender доставляет уведомление по конкретному каналу.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewMessage строит уведомление по снимку заказа.
func NewMessage(kind Kind, order domain.Order) Message {
	return Message{
		ID:                   uuid.NewString(),
		Kind:                 kind,
		OrderID:              order.ID,
		CustomerID:           order.CustomerID,
		CustomerName:         order.CustomerName,
		ShopID:               order.ShopID,
		ShopName:             order.ShopName,
		Status:               string(order.Status),
		QueuePosition:        order.QueuePosition,
		EstimatedWaitMinutes: order.EstimatedWaitMinutes,
		AmountMinor:          order.AmountMinor,
		Text:                 renderText(kind, order),
		CreatedAt:            time.Now().UTC(),
	}
}

func renderText(kind Kind, order domain.Order) string {
	shop := order.ShopName
	if shop == "" {
		shop = order.ShopID
	}

	switch kind {
	case KindConfirmation:
		return fmt.Sprintf("Order %s at %s is in the queue: position %d, estimated wait %d min, total %s.",
			order.ID, shop, order.QueuePosition, order.EstimatedWaitMinutes, formatMinor(order.AmountMinor))
	case KindCancellation:
		return fmt.Sprintf("Order %s at %s has been cancelled.", order.ID, shop)
	case KindQueueUpdate:
		if order.Status.IsActive() {
			return fmt.Sprintf("Order %s at %s is now %s: position %d, estimated wait %d min.",
				order.ID, shop, order.Status, order.QueuePosition, order.EstimatedWaitMinutes)
		}
		return fmt.Sprintf("Order %s at %s is now %s.", order.ID, shop, order.Status)
	default:
		return fmt.Sprintf("Order %s: %s", order.ID, order.Status)
	}
}

func formatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
