package domain

import (
	"testing"
	"time"
)

func TestRequestState(t *testing.T) {
	tests := []struct {
		state RequestState
		valid bool
		final bool
	}{
		{state: RequestStateInFlight, valid: true},
		{state: RequestStateAccepted, valid: true, final: true},
		{state: RequestStateRejected, valid: true, final: true},
		{state: RequestState("done"), valid: false},
	}

	for _, tc := range tests {
		t.Run(string(tc.state), func(t *testing.T) {
			if got := tc.state.Valid(); got != tc.valid {
				t.Fatalf("Valid()=%v, want %v", got, tc.valid)
			}
			if got := tc.state.Final(); got != tc.final {
				t.Fatalf("Final()=%v, want %v", got, tc.final)
			}
		})
	}
}

func TestIdempotencyRecord_ExpiredAndReplayable(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	record := IdempotencyRecord{State: RequestStateInFlight, ExpiresAt: now.Add(time.Minute)}

	if record.Expired(now) {
		t.Fatal("record must be live before ExpiresAt")
	}
	if !record.Expired(now.Add(time.Minute)) {
		t.Fatal("record must expire exactly at ExpiresAt")
	}
	if record.Replayable() {
		t.Fatal("in-flight record has nothing to replay")
	}

	record.State = RequestStateAccepted
	if record.Replayable() {
		t.Fatal("record without stored response is not replayable")
	}
	record.Response = StoredResponse{Status: 201, Body: []byte(`{}`), OrderID: "order-1"}
	if !record.Replayable() {
		t.Fatal("accepted record with response must be replayable")
	}
}
