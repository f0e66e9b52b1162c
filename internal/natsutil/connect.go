package natsutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/alarm-rules/internal/config"
)

// RetryStrategy decides how long to wait before another connection attempt
type RetryStrategy interface {
	NextRetry(attempt int) time.Duration
}

// ExponentialBackoff multiplies the delay on every attempt up to MaxDelay
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextRetry returns the delay after the given zero-based attempt
func (s *ExponentialBackoff) NextRetry(attempt int) time.Duration {
	delay := float64(s.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= s.Multiplier
	}

	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// DefaultBackoff is used when Connect is given no strategy
var DefaultBackoff = &ExponentialBackoff{
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
	Multiplier:   2,
}

// Options builds the connection options for cfg
func Options(name string, cfg config.NATSConfig, logger *zap.Logger) []nats.Option {
	return []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}
}

// Connect dials the configured servers, retrying up to cfg.ConnectRetries times
func Connect(ctx context.Context, name string, cfg config.NATSConfig, strategy RetryStrategy, logger *zap.Logger) (*nats.Conn, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.New("no NATS urls configured")
	}
	if strategy == nil {
		strategy = DefaultBackoff
	}
	attempts := cfg.ConnectRetries
	if attempts <= 0 {
		attempts = 1
	}

	logger = logger.Named("nats")
	url := strings.Join(cfg.URLs, ",")
	opts := Options(name, cfg, logger)

	var err error
	for i := 0; i < attempts; i++ {
		var nc *nats.Conn
		nc, err = nats.Connect(url, opts...)
		if err == nil {
			logger.Info("Connected to NATS successfully",
				zap.String("url", nc.ConnectedUrl()))
			return nc, nil
		}
		if i == attempts-1 {
			break
		}

		delay := strategy.NextRetry(i)
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, err)
}
