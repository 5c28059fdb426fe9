package middleware

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimiter implements throttling with a backlog queue. It limits concurrent
// requests and queues excess requests up to a configurable limit, using
// channel-based semaphores to avoid lock contention.
type RateLimiter struct {
	maxConcurrent int64         // Maximum concurrent requests allowed
	maxBacklog    int           // Maximum requests that can be queued
	timeout       time.Duration // Timeout for queued requests
	backlog       chan struct{} // Buffered channel for backlog queue
	slots         chan struct{} // Semaphore for available slots
}

// NewRateLimiter creates a new rate limiter with the specified concurrency
// limit, backlog capacity and backlog timeout.
func NewRateLimiter(maxConcurrent, maxBacklog int, timeout time.Duration) *RateLimiter {
	rl := &RateLimiter{
		maxConcurrent: int64(maxConcurrent),
		maxBacklog:    maxBacklog,
		timeout:       timeout,
		backlog:       make(chan struct{}, maxBacklog),
		slots:         make(chan struct{}, maxConcurrent),
	}

	// Pre-fill the semaphore with available slots
	for i := 0; i < maxConcurrent; i++ {
		rl.slots <- struct{}{}
	}

	return rl
}

// Middleware returns an Echo middleware function that enforces the limits:
// acquire a slot immediately when one is free, otherwise queue in the backlog
// until the timeout, otherwise reject with 429.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Stage 1: try to acquire a slot immediately (fast path)
			select {
			case <-rl.slots:
				defer func() {
					rl.slots <- struct{}{} // Return slot to pool
				}()
				return next(c)
			default:
				// No slots available, try backlog
			}

			// Stage 2: try to queue in backlog
			select {
			case rl.backlog <- struct{}{}:
				defer func() { <-rl.backlog }() // Remove from backlog when done

				ctx, cancel := context.WithTimeout(c.Request().Context(), rl.timeout)
				defer cancel()

				// Wait for an available slot with timeout
				select {
				case <-rl.slots:
					defer func() {
						rl.slots <- struct{}{} // Return slot to pool
					}()
					return next(c)
				case <-ctx.Done():
					return echo.NewHTTPError(429, "Request timeout in backlog")
				}
			default:
				// Stage 3: backlog is full, reject immediately
				return echo.NewHTTPError(429, "Too many requests")
			}
		}
	}
}

// GetStats returns current statistics about the rate limiter
func (rl *RateLimiter) GetStats() map[string]interface{} {
	availableSlots := len(rl.slots)
	currentRequests := rl.maxConcurrent - int64(availableSlots) // Derived from semaphore state
	backlogLength := len(rl.backlog)

	return map[string]interface{}{
		"max_concurrent":   rl.maxConcurrent,
		"max_backlog":      rl.maxBacklog,
		"current_requests": currentRequests,
		"available_slots":  availableSlots,
		"backlog_length":   backlogLength,
		"timeout_duration": rl.timeout.String(),
	}
}
