// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package command

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default rate limiting values.
const (
	// DefaultBurstCapacity is the maximum number of commands a sender can
	// execute in a burst before rate limiting kicks in.
	DefaultBurstCapacity = 5

	// DefaultSustainedRate is the number of commands per second allowed as
	// sustained rate (token refill rate).
	DefaultSustainedRate = 0.5

	// MinBurstCapacity ensures burst capacity is at least 1.
	MinBurstCapacity = 1

	// MinSustainedRate ensures sustained rate is at least 0.1 tokens/second.
	MinSustainedRate = 0.1

	// DefaultCleanupInterval is the interval at which the background goroutine
	// runs to clean up stale sender buckets.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultSenderMaxAge is the maximum idle age for a sender bucket before
	// it is eligible for cleanup.
	DefaultSenderMaxAge = time.Hour
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// BurstCapacity is the maximum number of commands allowed in a burst.
	// Defaults to DefaultBurstCapacity if zero or negative.
	BurstCapacity int

	// SustainedRate is the number of commands per second allowed as
	// sustained rate. Defaults to DefaultSustainedRate if zero or negative.
	SustainedRate float64

	// CleanupInterval is the interval at which background cleanup runs.
	// Defaults to DefaultCleanupInterval if zero.
	CleanupInterval time.Duration

	// SenderMaxAge is the maximum idle age for a sender bucket before
	// cleanup removes it. Defaults to DefaultSenderMaxAge if zero.
	SenderMaxAge time.Duration
}

// senderBucket tracks rate limiting state for a single sender using the
// token bucket algorithm.
type senderBucket struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter implements per-sender rate limiting using a token bucket
// algorithm. Senders are keyed by JID. It is safe for concurrent use.
//
// The RateLimiter runs a background goroutine to periodically clean up
// stale sender buckets. Call Close() to stop the goroutine.
type RateLimiter struct {
	mu            sync.Mutex
	senders       map[string]*senderBucket
	burstCapacity int
	sustainedRate float64 // tokens per second
	senderMaxAge  time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup

	// Gauge for tracked sender count (nil if no registry provided)
	senderGauge prometheus.Gauge
}

// NewRateLimiter creates a new rate limiter with the given configuration.
// It starts a background goroutine for cleanup. Call Close() to stop it.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return newRateLimiter(cfg, nil)
}

// NewRateLimiterWithRegistry creates a new rate limiter and registers a
// sender count gauge with the provided Prometheus registry.
// It starts a background goroutine for cleanup. Call Close() to stop it.
func NewRateLimiterWithRegistry(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	return newRateLimiter(cfg, reg)
}

func newRateLimiter(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	burstCapacity := cfg.BurstCapacity
	if burstCapacity <= 0 {
		burstCapacity = DefaultBurstCapacity
	}
	if burstCapacity < MinBurstCapacity {
		burstCapacity = MinBurstCapacity
	}

	sustainedRate := cfg.SustainedRate
	if sustainedRate <= 0 {
		sustainedRate = DefaultSustainedRate
	}
	if sustainedRate < MinSustainedRate {
		sustainedRate = MinSustainedRate
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	senderMaxAge := cfg.SenderMaxAge
	if senderMaxAge <= 0 {
		senderMaxAge = DefaultSenderMaxAge
	}

	rl := &RateLimiter{
		senders:       make(map[string]*senderBucket),
		burstCapacity: burstCapacity,
		sustainedRate: sustainedRate,
		senderMaxAge:  senderMaxAge,
		stopChan:      make(chan struct{}),
	}

	if reg != nil {
		rl.senderGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finch_ratelimiter_senders",
			Help: "Current number of tracked rate limiter senders",
		})
		reg.MustRegister(rl.senderGauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cleanupInterval)

	return rl
}

// Allow checks if a command is allowed for the given sender.
// Returns (allowed, cooldownMs) where cooldownMs is the time until the
// next token is available (0 if allowed).
//
// Each call to Allow consumes one token if available. Tokens refill at
// the sustained rate, up to the burst capacity.
func (rl *RateLimiter) Allow(sender string) (allowed bool, cooldownMs int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	bucket, exists := rl.senders[sender]
	if !exists {
		// New sender starts with a full bucket
		bucket = &senderBucket{
			tokens:    float64(rl.burstCapacity),
			lastCheck: now,
		}
		rl.senders[sender] = bucket
	}

	// Refill tokens based on elapsed time
	elapsed := now.Sub(bucket.lastCheck).Seconds()
	bucket.tokens += elapsed * rl.sustainedRate
	if bucket.tokens > float64(rl.burstCapacity) {
		bucket.tokens = float64(rl.burstCapacity)
	}
	bucket.lastCheck = now

	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		return true, 0
	}

	deficit := 1.0 - bucket.tokens
	cooldownSeconds := deficit / rl.sustainedRate
	cooldownMs = int64(cooldownSeconds * 1000)

	return false, cooldownMs
}

// Close stops the background cleanup goroutine and waits for it to exit.
func (rl *RateLimiter) Close() {
	close(rl.stopChan)
	rl.wg.Wait()
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.senderMaxAge)
	for sender, bucket := range rl.senders {
		if bucket.lastCheck.Before(cutoff) {
			delete(rl.senders, sender)
		}
	}

	if rl.senderGauge != nil {
		rl.senderGauge.Set(float64(len(rl.senders)))
	}
}

// TrackedSenders returns the number of senders currently tracked.
func (rl *RateLimiter) TrackedSenders() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.senders)
}
