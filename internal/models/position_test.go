package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagedPositionLong(t *testing.T) {
	p := NewManagedPosition("C2605", Long, 2450, 10, 1.2, 2.0, 1, "entry_accepted")
	assert.Equal(t, 2438.0, p.StopLoss)
	assert.Equal(t, 2470.0, p.TakeProfit)
	assert.Equal(t, StateHolding, p.State)
	assert.Equal(t, 2450.0, p.HighestSinceEntry)
	assert.Equal(t, 2450.0, p.LowestSinceEntry)
}

func TestNewManagedPositionShort(t *testing.T) {
	p := NewManagedPosition("C2605", Short, 2450, 10, 1.2, 2.0, 1, "entry_accepted")
	assert.Equal(t, 2462.0, p.StopLoss)
	assert.Equal(t, 2430.0, p.TakeProfit)
}

func TestPnLLong(t *testing.T) {
	p := NewManagedPosition("C2605", Long, 2450, 10, 1.2, 2.0, 1, "entry_accepted")
	assert.InDelta(t, -12.1, p.PnLPoints(2437.9), 1e-9)
	assert.InDelta(t, -0.49387755, p.PnLPercent(2437.9), 1e-6)
}

func TestPnLShort(t *testing.T) {
	p := NewManagedPosition("C2605", Short, 2450, 10, 1.2, 2.0, 1, "entry_accepted")
	assert.Equal(t, 21.0, p.PnLPoints(2429))
}

func TestTransitionLifecycle(t *testing.T) {
	p := NewManagedPosition("C2605", Long, 2450, 10, 1.2, 2.0, 1, "entry_accepted")
	require.NoError(t, p.TransitionState(StateClosing, "stop_loss_hit"))
	assert.Equal(t, StateClosing, p.State)
	require.NoError(t, p.TransitionState(StateNone, "reconcile_drop"))
	assert.Equal(t, StateNone, p.State)
}

func TestInvalidTransition(t *testing.T) {
	p := NewManagedPosition("C2605", Long, 2450, 10, 1.2, 2.0, 1, "entry_accepted")
	err := p.TransitionState(StateNone, "entry_accepted")
	assert.Error(t, err)
	assert.Equal(t, StateHolding, p.State)
}

func TestCloneIndependence(t *testing.T) {
	p := NewManagedPosition("C2605", Long, 2450, 10, 1.2, 2.0, 1, "entry_accepted")
	c := p.Clone()
	require.NoError(t, c.TransitionState(StateClosing, "stop_loss_hit"))
	assert.Equal(t, StateHolding, p.State)
	assert.Equal(t, StateClosing, c.State)
}
