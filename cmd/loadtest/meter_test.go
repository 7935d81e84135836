package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMeter_Snapshot(t *testing.T) {
	m := newMeter()
	m.observe("CreateOrder", 10*time.Millisecond, "201")
	m.observe("CreateOrder", 30*time.Millisecond, outcomeQueueFull)
	m.observe(scenarioCall, 12*time.Millisecond, outcomeOK)
	m.observe(scenarioCall, 31*time.Millisecond, outcomeQueueFull)
	m.observe(scenarioCall, 5*time.Millisecond, "500")

	r, err := m.snapshot(time.Now(), 2*time.Second)
	require.NoError(t, err)

	require.EqualValues(t, 3, r.Scenarios)
	require.EqualValues(t, 1, r.Succeeded)
	require.EqualValues(t, 1, r.QueueFull)
	require.EqualValues(t, 1, r.Failed, "queue_full is not a failure")
	require.InDelta(t, 1.0/3, r.ErrorRate, 1e-9)
	require.InDelta(t, 1.5, r.RPS, 1e-9)
	require.InDelta(t, 16.0, r.LatencyMs.Mean, 1e-6)
	require.Positive(t, r.LatencyMs.P95)

	require.NotContains(t, r.Calls, scenarioCall)
	create := r.Calls["CreateOrder"]
	require.EqualValues(t, 2, create.Calls)
	require.EqualValues(t, 1, create.Succeeded)
	require.EqualValues(t, 1, create.Outcomes[outcomeQueueFull])
	require.InDelta(t, 0.5, create.ErrorRate, 1e-9)
	require.InDelta(t, 20.0, create.LatencyMs.Mean, 1e-6)
}

func TestMeter_EmptySnapshot(t *testing.T) {
	r, err := newMeter().snapshot(time.Now(), 0)
	require.NoError(t, err)
	require.Zero(t, r.Scenarios)
	require.Zero(t, r.RPS)
	require.Empty(t, r.Calls)
}

func TestMeter_Duplicates(t *testing.T) {
	m := newMeter()
	for _, p := range []int{1, 2, 2, 2, 3} {
		m.position(p)
	}
	require.Equal(t, 2, m.duplicates())
}

func TestShare(t *testing.T) {
	require.Equal(t, 0.25, share(1, 4))
	require.Zero(t, share(1, 0))
	require.True(t, succeeded("204"))
	require.True(t, succeeded(outcomeOK))
	require.False(t, succeeded(outcomeQueueFull))
}
