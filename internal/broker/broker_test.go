package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimGatewayLoginAndQuote(t *testing.T) {
	g := NewSimGateway(100000)
	ctx := context.Background()
	require.NoError(t, g.Login(ctx, "u", "p", Sim, "", "acct"))

	g.SetQuote("DCE.c2605", Quote{LastPrice: 2450})
	q, err := g.GetQuote(ctx, "DCE.c2605")
	require.NoError(t, err)
	assert.Equal(t, 2450.0, q.LastPrice)
}

func TestSimGatewayInsertOrderUpdatesPosition(t *testing.T) {
	g := NewSimGateway(100000)
	ctx := context.Background()
	g.SetQuote("DCE.c2605", Quote{LastPrice: 2450})

	res, err := g.InsertOrder(ctx, "DCE.c2605", Buy, Open, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, Submitted, res.Status)
	assert.Equal(t, 2450.0, res.Price)

	pos, err := g.GetPosition(ctx, "DCE.c2605")
	require.NoError(t, err)
	assert.Equal(t, 2, pos.PosLong)
}

func TestSimGatewayCloseReducesPosition(t *testing.T) {
	g := NewSimGateway(100000)
	ctx := context.Background()
	g.SetPosition("DCE.c2605", Position{PosLong: 3})

	_, err := g.InsertOrder(ctx, "DCE.c2605", Sell, Close, 3, 2460)
	require.NoError(t, err)

	pos, _ := g.GetPosition(ctx, "DCE.c2605")
	assert.Equal(t, 0, pos.PosLong)
}

func TestSimGatewayWaitUpdateRespectsDeadline(t *testing.T) {
	g := NewSimGateway(100000)
	start := time.Now()
	err := g.WaitUpdate(context.Background(), start.Add(10*time.Millisecond))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSimGatewayKlineSerialTrimsToCount(t *testing.T) {
	g := NewSimGateway(100000)
	bars := make([]KlineBar, 10)
	for i := range bars {
		bars[i] = KlineBar{Close: float64(i)}
	}
	g.SetKlineSerial("DCE.c2605", 300, bars)

	got, err := g.GetKlineSerial(context.Background(), "DCE.c2605", 300, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 7.0, got[0].Close)
	assert.Equal(t, 9.0, got[2].Close)
}

func TestCircuitBreakerGatewayPassthrough(t *testing.T) {
	sim := NewSimGateway(100000)
	sim.SetQuote("DCE.c2605", Quote{LastPrice: 2450})
	cb := NewCircuitBreakerGateway(sim, nil)

	q, err := cb.GetQuote(context.Background(), "DCE.c2605")
	require.NoError(t, err)
	assert.Equal(t, 2450.0, q.LastPrice)
}
