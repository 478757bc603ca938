package broker

import (
	"context"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerGateway wraps a Gateway with a gobreaker circuit breaker so
// a failing or unreachable broker connection doesn't get hammered by the
// strategy scheduler every cycle. It trips after a run of consecutive
// failures and half-opens after a cooldown, same shape as wrapping any
// other flaky remote dependency.
type CircuitBreakerGateway struct {
	inner Gateway
	cb    *gobreaker.CircuitBreaker
	log   *log.Logger
}

// NewCircuitBreakerGateway wraps inner with a circuit breaker that trips
// after 5 consecutive failures and tries again after a 30s cooldown.
func NewCircuitBreakerGateway(inner Gateway, logger *log.Logger) *CircuitBreakerGateway {
	if logger == nil {
		logger = log.Default()
	}
	settings := gobreaker.Settings{
		Name:        "broker-gateway",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &CircuitBreakerGateway{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
		log:   logger,
	}
}

func (g *CircuitBreakerGateway) Login(ctx context.Context, user, password string, mode TradeMode, brokerID, account string) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.inner.Login(ctx, user, password, mode, brokerID, account)
	})
	return err
}

func (g *CircuitBreakerGateway) GetQuote(ctx context.Context, brokerSymbol string) (Quote, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.GetQuote(ctx, brokerSymbol)
	})
	if err != nil {
		return Quote{}, err
	}
	return v.(Quote), nil
}

func (g *CircuitBreakerGateway) GetKlineSerial(ctx context.Context, brokerSymbol string, durationSeconds, count int) ([]KlineBar, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.GetKlineSerial(ctx, brokerSymbol, durationSeconds, count)
	})
	if err != nil {
		return nil, err
	}
	return v.([]KlineBar), nil
}

func (g *CircuitBreakerGateway) GetPosition(ctx context.Context, brokerSymbol string) (Position, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.GetPosition(ctx, brokerSymbol)
	})
	if err != nil {
		return Position{}, err
	}
	return v.(Position), nil
}

func (g *CircuitBreakerGateway) GetAccount(ctx context.Context) (Account, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.GetAccount(ctx)
	})
	if err != nil {
		return Account{}, err
	}
	return v.(Account), nil
}

func (g *CircuitBreakerGateway) InsertOrder(ctx context.Context, brokerSymbol string, direction Side, offset Offset, volume int, limitPrice float64) (OrderResult, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.InsertOrder(ctx, brokerSymbol, direction, offset, volume, limitPrice)
	})
	if err != nil {
		return OrderResult{}, err
	}
	return v.(OrderResult), nil
}

func (g *CircuitBreakerGateway) WaitUpdate(ctx context.Context, deadline time.Time) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.inner.WaitUpdate(ctx, deadline)
	})
	return err
}

func (g *CircuitBreakerGateway) Close() error {
	return g.inner.Close()
}

// State returns the current circuit breaker state, exposed for the status
// surface.
func (g *CircuitBreakerGateway) State() gobreaker.State {
	return g.cb.State()
}
