package httpapi

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/ordering"
)

type createOrderRequest struct {
	CustomerID   string             `json:"customerId"`
	CoffeeShopID string             `json:"coffeeShopId"`
	Items        []orderItemRequest `json:"items"`
}

type orderItemRequest struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int32  `json:"quantity"`
	Notes      string `json:"notes,omitempty"`
}

func (r createOrderRequest) toCommand() ordering.CreateOrderRequest {
	items := make([]ordering.ItemRequest, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, ordering.ItemRequest{
			MenuItemID: item.MenuItemID,
			Quantity:   item.Quantity,
			Notes:      item.Notes,
		})
	}
	return ordering.CreateOrderRequest{
		CustomerID: r.CustomerID,
		ShopID:     r.CoffeeShopID,
		Items:      items,
	}
}

type statusUpdateRequest struct {
	OrderID   string `json:"orderId"`
	NewStatus string `json:"newStatus"`
}

type orderResponse struct {
	OrderID           string              `json:"orderId"`
	CustomerID        string              `json:"customerId"`
	CustomerName      string              `json:"customerName"`
	CoffeeShopID      string              `json:"coffeeShopId"`
	CoffeeShopName    string              `json:"coffeeShopName"`
	Status            string              `json:"status"`
	TotalAmount       string              `json:"totalAmount"`
	TotalAmountMinor  int64               `json:"totalAmountMinor"`
	QueuePosition     int                 `json:"queuePosition"`
	EstimatedWaitTime int                 `json:"estimatedWaitTime"`
	Items             []orderItemResponse `json:"items"`
	Version           int64               `json:"version"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
	Timeline          []timelineResponse  `json:"timeline,omitempty"`
}

type orderItemResponse struct {
	MenuItemID string `json:"menuItemId"`
	ItemName   string `json:"itemName"`
	Quantity   int32  `json:"quantity"`
	UnitPrice  string `json:"unitPrice"`
	TotalPrice string `json:"totalPrice"`
	Notes      string `json:"notes,omitempty"`
}

type timelineResponse struct {
	Seq        int       `json:"seq"`
	Type       string    `json:"type"`
	FromStatus string    `json:"fromStatus,omitempty"`
	Reason     string    `json:"reason"`
	Actor      string    `json:"actor,omitempty"`
	Occurred   time.Time `json:"occurred"`
}

type queuePositionResponse struct {
	OrderID           string `json:"orderId"`
	CurrentPosition   int    `json:"currentPosition"`
	TotalInQueue      int    `json:"totalInQueue"`
	EstimatedWaitTime int    `json:"estimatedWaitTime"`
	Status            string `json:"status"`
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			MenuItemID: item.MenuItemID,
			ItemName:   item.Name,
			Quantity:   item.Qty,
			UnitPrice:  formatMinor(item.UnitPriceMinor),
			TotalPrice: formatMinor(item.LineTotalMinor()),
			Notes:      item.Notes,
		})
	}
	return orderResponse{
		OrderID:           order.ID,
		CustomerID:        order.CustomerID,
		CustomerName:      order.CustomerName,
		CoffeeShopID:      order.ShopID,
		CoffeeShopName:    order.ShopName,
		Status:            string(order.Status),
		TotalAmount:       formatMinor(order.AmountMinor),
		TotalAmountMinor:  order.AmountMinor,
		QueuePosition:     order.QueuePosition,
		EstimatedWaitTime: order.EstimatedWaitMinutes,
		Items:             items,
		Version:           order.Version,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

func toOrderResponses(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderResponse(order))
	}
	return out
}

func toTimelineResponse(events []domain.TimelineEvent) []timelineResponse {
	out := make([]timelineResponse, 0, len(events))
	for _, event := range events {
		out = append(out, timelineResponse{
			Seq:        event.Seq,
			Type:       event.Type,
			FromStatus: string(event.From),
			Reason:     event.Reason,
			Actor:      string(event.Actor),
			Occurred:   event.Occurred,
		})
	}
	return out
}

func toQueuePositionResponse(status ordering.QueueStatus) queuePositionResponse {
	return queuePositionResponse{
		OrderID:           status.OrderID,
		CurrentPosition:   status.Position,
		TotalInQueue:      status.TotalInQueue,
		EstimatedWaitTime: status.EstimatedWaitMinutes,
		Status:            string(status.Status),
	}
}

// formatMinor печатает сумму в минимальных единицах как десятичную с двумя знаками.
func formatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
