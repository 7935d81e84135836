package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

func TestTimelineEvent_Normalize(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	event, err := domain.StatusChanged("o-1", domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.ActorShop, time.Time{}).Normalize(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !event.Occurred.Equal(now) || event.Reason != "CONFIRMED" || event.From != domain.OrderStatusPending {
		t.Fatalf("unexpected event: %+v", event)
	}

	local := time.Date(2026, 3, 1, 11, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	event, err = domain.StatusChanged("o-1", "", domain.OrderStatusPending, domain.ActorCustomer, local).Normalize(now)
	if err != nil || event.Occurred.Location() != time.UTC || !event.Occurred.Equal(now) {
		t.Fatalf("expected occurred converted to UTC, got %v (err %v)", event.Occurred, err)
	}

	if _, err := (domain.TimelineEvent{Type: domain.TimelineEventOrderStatusChanged}).Normalize(now); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing order id, got %v", err)
	}
	if _, err := (domain.TimelineEvent{OrderID: "o-1"}).Normalize(now); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing type, got %v", err)
	}
}
