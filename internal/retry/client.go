// Package retry provides retry logic for broker order placement with
// exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/mkovacs-dev/futurecore/internal/broker"
)

// Config contains retry configuration parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig provides sensible defaults for retry operations.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client wraps a broker.Gateway with retry logic for order placement.
type Client struct {
	broker.Gateway
	inner  broker.Gateway
	logger *log.Logger
	config Config
}

// NewClient creates a new retry client wrapping gw with the given optional
// config. The embedded Gateway forwards every method gw already implements;
// InsertOrder is overridden below to add retry.
func NewClient(gw broker.Gateway, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	if logger == nil {
		logger = log.Default()
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	return &Client{
		Gateway: gw,
		inner:   gw,
		logger:  logger,
		config:  cfg,
	}
}

// InsertOrder places an order with retry and exponential backoff,
// overriding the embedded Gateway's InsertOrder. A permanent (non-transient)
// error fails immediately; a transient one retries up to MaxRetries times.
func (c *Client) InsertOrder(ctx context.Context, brokerSymbol string, direction broker.Side, offset broker.Offset, volume int, limitPrice float64) (broker.OrderResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff
	attempts := 0

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return broker.OrderResult{}, fmt.Errorf("operation canceled: %w", ctx.Err())
		}

		select {
		case <-opCtx.Done():
			return broker.OrderResult{}, fmt.Errorf("order operation timed out after %v: %w", c.config.Timeout, opCtx.Err())
		default:
		}

		c.logger.Printf("order attempt %d/%d for %s %s %s x%d", attempt+1, c.config.MaxRetries+1, brokerSymbol, direction, offset, volume)

		attempts++
		res, err := c.inner.InsertOrder(opCtx, brokerSymbol, direction, offset, volume, limitPrice)
		if err == nil {
			c.logger.Printf("order placed successfully on attempt %d: %s", attempt+1, res.ID)
			return res, nil
		}

		lastErr = err
		c.logger.Printf("order attempt %d failed: %v", attempt+1, err)

		if c.isTransientError(err) && attempt < c.config.MaxRetries {
			c.logger.Printf("transient error detected, retrying in %v", backoff)
			select {
			case <-time.After(backoff):
				backoff = c.calculateNextBackoff(backoff)
			case <-opCtx.Done():
				return broker.OrderResult{}, fmt.Errorf("order operation timed out during backoff: %w", opCtx.Err())
			case <-ctx.Done():
				return broker.OrderResult{}, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
			}
		} else {
			break
		}
	}

	return broker.OrderResult{}, fmt.Errorf("failed to place order after %d attempts: %w", attempts, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Printf("failed to generate jitter: %v", err)
		} else {
			jitter := time.Duration(jitterVal.Int64())
			backoff += jitter
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"i/o timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"temporarily unavailable",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
		"no such host",
		"deadline exceeded",
		"tls handshake",
		"broken pipe",
		"eof",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
