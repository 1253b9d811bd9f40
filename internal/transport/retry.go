// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Reconnect defaults.
const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 2 * time.Minute
)

// ReconnectConfig shapes the backoff used by Connect.
type ReconnectConfig struct {
	// InitialBackoff is the first retry delay. Defaults to
	// DefaultInitialBackoff if zero.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential delay. Defaults to
	// DefaultMaxBackoff if zero.
	MaxBackoff time.Duration

	// MaxRetries limits attempts. Zero means retry until the context
	// is cancelled.
	MaxRetries uint64
}

// Connect runs dial with jittered exponential backoff until it
// succeeds, the context is cancelled, or MaxRetries is exhausted.
// Every error from dial is treated as retryable.
//
// Network-backed transports wrap their session dial in Connect; the
// in-process transports connect instantly and have no use for it.
func Connect(ctx context.Context, cfg ReconnectConfig, logger *slog.Logger, dial func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}

	backoff := retry.NewExponential(initial)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithCappedDuration(maxBackoff, backoff)
	if cfg.MaxRetries > 0 {
		backoff = retry.WithMaxRetries(cfg.MaxRetries, backoff)
	}

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := dial(ctx)
		if err != nil {
			logger.Warn("transport connect failed, retrying",
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}
