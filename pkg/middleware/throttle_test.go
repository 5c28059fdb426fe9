package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRateLimiterAllowsWithinLimit verifies sequential requests under the
// concurrency limit all reach the handler.
func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(2, 2, time.Second)

	handled := 0
	handler := rl.Middleware()(func(c echo.Context) error {
		handled++
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 5; i++ {
		c, rec := newEchoContext(e, http.MethodGet, "/api/v1/items")
		require.NoError(t, handler(c))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 5, handled)
}

// TestRateLimiterQueuesInBacklog verifies a request that arrives while every
// slot is busy waits in the backlog and completes once a slot frees up.
func TestRateLimiterQueuesInBacklog(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(1, 1, time.Second)

	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	handler := rl.Middleware()(func(c echo.Context) error {
		entered <- struct{}{}
		<-release
		return c.String(http.StatusOK, "done")
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	recs := make([]*httptest.ResponseRecorder, 2)
	for i := 0; i < 2; i++ {
		c, rec := newEchoContext(e, http.MethodGet, "/api/v1/items")
		recs[i] = rec
		wg.Add(1)
		go func(i int, c echo.Context) {
			defer wg.Done()
			errs[i] = handler(c)
		}(i, c)
		if i == 0 {
			// Let the first request hold the only slot before the
			// second one arrives.
			<-entered
		}
	}

	// The second request is parked in the backlog waiting for the slot.
	waitUntil(t, time.Second, func() bool { return len(rl.backlog) == 1 })
	close(release)
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, recs[i].Code)
	}
}

// TestRateLimiterRejectsWhenBacklogFull verifies the third request bounces
// with 429 once the slot and the backlog are both occupied.
func TestRateLimiterRejectsWhenBacklogFull(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(1, 1, time.Second)

	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	handler := rl.Middleware()(func(c echo.Context) error {
		entered <- struct{}{}
		<-release
		return c.String(http.StatusOK, "done")
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		c, _ := newEchoContext(e, http.MethodGet, "/api/v1/items")
		wg.Add(1)
		go func(c echo.Context) {
			defer wg.Done()
			_ = handler(c)
		}(c)
		if i == 0 {
			<-entered
		}
	}
	waitUntil(t, time.Second, func() bool { return len(rl.backlog) == 1 })

	c, _ := newEchoContext(e, http.MethodGet, "/api/v1/items")
	err := handler(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusTooManyRequests, he.Code)
	assert.Equal(t, "Too many requests", he.Message)

	close(release)
	wg.Wait()
}

// TestRateLimiterBacklogTimeout verifies a queued request gives up with 429
// when no slot frees up within the backlog timeout.
func TestRateLimiterBacklogTimeout(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(1, 1, 50*time.Millisecond)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	handler := rl.Middleware()(func(c echo.Context) error {
		entered <- struct{}{}
		<-release
		return c.String(http.StatusOK, "done")
	})

	var wg sync.WaitGroup
	c1, _ := newEchoContext(e, http.MethodGet, "/api/v1/items")
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = handler(c1)
	}()
	<-entered

	c2, _ := newEchoContext(e, http.MethodGet, "/api/v1/items")
	start := time.Now()
	err := handler(c2)
	elapsed := time.Since(start)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusTooManyRequests, he.Code)
	assert.Equal(t, "Request timeout in backlog", he.Message)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)

	close(release)
	wg.Wait()
}

// TestRateLimiterStats verifies the stats map tracks slot occupancy.
func TestRateLimiterStats(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(3, 7, time.Second)

	stats := rl.GetStats()
	assert.EqualValues(t, 3, stats["max_concurrent"])
	assert.EqualValues(t, 7, stats["max_backlog"])
	assert.EqualValues(t, 3, stats["available_slots"])
	assert.EqualValues(t, 0, stats["current_requests"])
	assert.EqualValues(t, 0, stats["backlog_length"])
	assert.Equal(t, "1s", stats["timeout_duration"])

	// Hold one slot and observe the counters move.
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	handler := rl.Middleware()(func(c echo.Context) error {
		entered <- struct{}{}
		<-release
		return c.String(http.StatusOK, "done")
	})

	var wg sync.WaitGroup
	c, _ := newEchoContext(e, http.MethodGet, "/api/v1/items")
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = handler(c)
	}()
	<-entered

	stats = rl.GetStats()
	assert.EqualValues(t, 2, stats["available_slots"])
	assert.EqualValues(t, 1, stats["current_requests"])

	close(release)
	wg.Wait()
}
