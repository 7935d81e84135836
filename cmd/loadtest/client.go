package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const idempotencyHeader = "Idempotency-Key"

type createOrderRequest struct {
	CustomerID   string      `json:"customerId"`
	CoffeeShopID string      `json:"coffeeShopId"`
	Items        []orderLine `json:"items"`
}

type orderLine struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int    `json:"quantity"`
}

type orderView struct {
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	QueuePosition int    `json:"queuePosition"`
}

type queueView struct {
	CurrentPosition int    `json:"currentPosition"`
	TotalInQueue    int    `json:"totalInQueue"`
	Status          string `json:"status"`
}

// callError несёт outcome неудачного вызова: HTTP-код, queue_full или transport.
type callError struct {
	outcome string
	err     error
}

func (e *callError) Error() string { return e.err.Error() }
func (e *callError) Unwrap() error { return e.err }

// apiClient отправляет запросы к API и отмечает каждый вызов в meter.
type apiClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
	meter   *meter
}

type request struct {
	name   string
	method string
	path   string
	key    string
	body   any
}

func (c *apiClient) do(ctx context.Context, req request, out any) error {
	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", req.name, err)
		}
		body = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.base+req.path, body)
	if err != nil {
		return fmt.Errorf("build %s: %w", req.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.key != "" {
		httpReq.Header.Set(idempotencyHeader, req.key)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.meter.observe(req.name, time.Since(started), "transport")
		return &callError{outcome: "transport", err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	took := time.Since(started)

	if resp.StatusCode >= http.StatusMultipleChoices {
		outcome := strconv.Itoa(resp.StatusCode)
		var apiErr struct {
			Code string `json:"code"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Code == "QUEUE_FULL" {
			outcome = outcomeQueueFull
		}
		c.meter.observe(req.name, took, outcome)
		return &callError{outcome: outcome, err: fmt.Errorf("%s %s: status %d", req.method, req.path, resp.StatusCode)}
	}
	c.meter.observe(req.name, took, strconv.Itoa(resp.StatusCode))

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &callError{outcome: "decode", err: fmt.Errorf("decode %s: %w", req.name, err)}
	}
	return nil
}

func (c *apiClient) createOrder(ctx context.Context, in createOrderRequest, key string) (orderView, error) {
	var order orderView
	err := c.do(ctx, request{name: "CreateOrder", method: http.MethodPost, path: "/api/v1/orders", key: key, body: in}, &order)
	return order, err
}

func (c *apiClient) setStatus(ctx context.Context, shopID, orderID, status string) error {
	return c.do(ctx, request{
		name:   "UpdateStatus",
		method: http.MethodPut,
		path:   "/api/v1/shops/" + url.PathEscape(shopID) + "/orders/status",
		body:   map[string]string{"orderId": orderID, "newStatus": status},
	}, nil)
}

func (c *apiClient) cancelOrder(ctx context.Context, orderID, customerID string) error {
	return c.do(ctx, request{
		name:   "CancelOrder",
		method: http.MethodDelete,
		path:   "/api/v1/orders/" + url.PathEscape(orderID) + "?customerId=" + url.QueryEscape(customerID),
	}, nil)
}

func (c *apiClient) queuePosition(ctx context.Context, orderID, customerID string) (queueView, error) {
	var view queueView
	err := c.do(ctx, request{
		name:   "QueuePosition",
		method: http.MethodGet,
		path:   "/api/v1/orders/" + url.PathEscape(orderID) + "/queue-position?customerId=" + url.QueryEscape(customerID),
	}, &view)
	return view, err
}
