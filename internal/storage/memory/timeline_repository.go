package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

// orderHistory держит события каждого заказа в порядке записи.
type orderHistory struct {
	mu     sync.RWMutex
	byID   map[string][]domain.TimelineEvent
	nowUTC func() time.Time
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &orderHistory{
		byID:   make(map[string][]domain.TimelineEvent),
		nowUTC: func() time.Time { return time.Now().UTC() },
	}
}

func (h *orderHistory) Append(_ context.Context, event domain.TimelineEvent) error {
	event, err := event.Normalize(h.nowUTC())
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	history := h.byID[event.OrderID]
	event.Seq = len(history) + 1
	h.byID[event.OrderID] = append(history, event)
	return nil
}

// List отдаёт копию истории; неизвестный заказ даёт пустой срез.
func (h *orderHistory) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return append([]domain.TimelineEvent{}, h.byID[orderID]...), nil
}

var _ domain.TimelineRepository = (*orderHistory)(nil)
