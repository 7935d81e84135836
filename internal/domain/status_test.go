package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestOrderStatusTransitions(t *testing.T) {
	all := []OrderStatus{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusProcessing,
		OrderStatusCompleted,
		OrderStatusCancelled,
	}
	allowed := map[OrderStatus]map[OrderStatus]bool{
		OrderStatusPending: {
			OrderStatusConfirmed:  true,
			OrderStatusProcessing: true,
			OrderStatusCompleted:  true,
			OrderStatusCancelled:  true,
		},
		OrderStatusConfirmed: {
			OrderStatusProcessing: true,
			OrderStatusCompleted:  true,
			OrderStatusCancelled:  true,
		},
		OrderStatusProcessing: {OrderStatusCompleted: true, OrderStatusCancelled: true},
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[from][to]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}

			err := ValidateTransition(from, to)
			if want && err != nil {
				t.Errorf("%s -> %s: unexpected error %v", from, to, err)
			}
			if !want {
				if !errors.Is(err, ErrInvalidStateTransition) {
					t.Errorf("%s -> %s: expected invalid transition, got %v", from, to, err)
					continue
				}
				if !strings.Contains(err.Error(), string(from)) || !strings.Contains(err.Error(), string(to)) {
					t.Errorf("error must name both statuses: %v", err)
				}
			}
		}
	}
}

func TestOrderStatusClassification(t *testing.T) {
	tests := []struct {
		status   OrderStatus
		active   bool
		terminal bool
	}{
		{status: OrderStatusPending, active: true},
		{status: OrderStatusConfirmed, active: true},
		{status: OrderStatusProcessing, active: true},
		{status: OrderStatusCompleted, terminal: true},
		{status: OrderStatusCancelled, terminal: true},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			if !tc.status.Valid() {
				t.Fatalf("status %s must be valid", tc.status)
			}
			if tc.status.IsActive() != tc.active {
				t.Fatalf("IsActive=%v, want %v", tc.status.IsActive(), tc.active)
			}
			if tc.status.IsTerminal() != tc.terminal {
				t.Fatalf("IsTerminal=%v, want %v", tc.status.IsTerminal(), tc.terminal)
			}
		})
	}

	if OrderStatus("READY").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestOrderStatus_ShortcutsSkipIntermediateSteps(t *testing.T) {
	shortcuts := [][2]OrderStatus{
		{OrderStatusPending, OrderStatusProcessing},
		{OrderStatusPending, OrderStatusCompleted},
		{OrderStatusConfirmed, OrderStatusCompleted},
	}
	for _, step := range shortcuts {
		if err := ValidateTransition(step[0], step[1]); err != nil {
			t.Errorf("%s -> %s must be allowed: %v", step[0], step[1], err)
		}
	}
}
