package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// session — состояние одного сценария: кто заказывает и что получил.
type session struct {
	api      *apiClient
	shopID   string
	customer string
	order    orderView
}

// step — действие после создания заказа. failure попадает в outcome сценария.
type step struct {
	failure string
	run     func(ctx context.Context, s *session) error
}

// plans — шаги каждого режима. Создание заказа выполняется всегда и в план не входит.
var plans = map[loadMode][]step{
	modeCreate: nil,
	modeCreateComplete: {
		{failure: "update_failed", run: advance("CONFIRMED", "PROCESSING", "COMPLETED")},
	},
	modeCreateCancel: {
		{failure: "cancel_failed", run: func(ctx context.Context, s *session) error {
			return s.api.cancelOrder(ctx, s.order.OrderID, s.customer)
		}},
	},
	modeCreateTrack: {
		{failure: "track_failed", run: track},
	},
}

func advance(statuses ...string) func(context.Context, *session) error {
	return func(ctx context.Context, s *session) error {
		for _, status := range statuses {
			if err := s.api.setStatus(ctx, s.shopID, s.order.OrderID, status); err != nil {
				return err
			}
		}
		return nil
	}
}

// track сверяет позицию из очереди с её размером.
func track(ctx context.Context, s *session) error {
	view, err := s.api.queuePosition(ctx, s.order.OrderID, s.customer)
	if err != nil {
		return err
	}
	if view.CurrentPosition < 1 || view.CurrentPosition > view.TotalInQueue {
		return fmt.Errorf("position %d outside queue of %d", view.CurrentPosition, view.TotalInQueue)
	}
	return nil
}

// runLoad раздаёт сценарии пулу воркеров и собирает отчёт.
func runLoad(ctx context.Context, cfg config, httpClient *http.Client) (report, error) {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	m := newMeter()
	api := &apiClient{base: cfg.baseURL, http: httpClient, timeout: cfg.timeout, meter: m}

	jobs := make(chan int, cfg.concurrency*2)
	g, gctx := errgroup.WithContext(ctx)
	for range cfg.concurrency {
		g.Go(func() error {
			for n := range jobs {
				runScenario(gctx, api, cfg, n, runID)
			}
			return nil
		})
	}
	feed(ctx, jobs, cfg)
	if err := g.Wait(); err != nil {
		return report{}, err
	}

	result, err := m.snapshot(startedAt, time.Since(startedAt))
	if err != nil {
		return report{}, err
	}
	// Позиции уникальны, только пока заказы не покидают очередь.
	if cfg.mode == modeCreate {
		result.DuplicatePositions = m.duplicates()
	}
	return result, ctx.Err()
}

// feed выдаёт номера сценариев, пока не исчерпан счётчик, время или контекст.
func feed(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	bounded := cfg.duration <= 0 || cfg.capped

	for n := 0; !bounded || n < cfg.total; n++ {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- n:
		}
	}
}

func runScenario(ctx context.Context, api *apiClient, cfg config, n int, runID string) {
	started := time.Now()
	outcome := outcomeOK
	defer func() { api.meter.observe(scenarioCall, time.Since(started), outcome) }()

	s := &session{api: api, shopID: cfg.shopID, customer: cfg.customers[n%len(cfg.customers)]}
	order, err := api.createOrder(ctx, createOrderRequest{
		CustomerID:   s.customer,
		CoffeeShopID: cfg.shopID,
		Items:        []orderLine{{MenuItemID: cfg.menuItemID, Quantity: cfg.quantity}},
	}, fmt.Sprintf("lt-%s-%d", runID, n))
	if err != nil {
		outcome = outcomeOf(err)
		return
	}
	if order.OrderID == "" {
		outcome = "empty_order_id"
		return
	}
	s.order = order
	api.meter.position(order.QueuePosition)

	for _, st := range plans[cfg.mode] {
		if err := st.run(ctx, s); err != nil {
			outcome = st.failure
			return
		}
	}
}

func outcomeOf(err error) string {
	var ce *callError
	if errors.As(err, &ce) {
		return ce.outcome
	}
	return "error"
}
