package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/funds/internal/logging"
	"github.com/congo-pay/funds/internal/metrics"
)

type recordingCollector struct {
	metrics.NoOpCollector
	mu      sync.Mutex
	replays map[string]int
	states  []metrics.CircuitState
}

func (r *recordingCollector) RecordIdempotentReplay(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replays == nil {
		r.replays = map[string]int{}
	}
	r.replays[route]++
}

func (r *recordingCollector) RecordCircuitState(_ string, state metrics.CircuitState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

type testEnv struct {
	app       *fiber.App
	mr        *miniredis.Miniredis
	calls     *atomic.Int32
	collector *recordingCollector
}

func setupTestApp(t *testing.T, settings BreakerSettings) testEnv {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	collector := &recordingCollector{}
	cache := NewRedisResponseCache(client, settings, collector, logging.Discard())
	idem := Idempotency(cache, time.Minute, logging.Discard(), collector)

	calls := &atomic.Int32{}
	app := fiber.New()
	app.Post("/resource", idem, func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	})
	app.Post("/other", idem, func(c *fiber.Ctx) error {
		calls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"other": true})
	})
	app.Post("/rejected", idem, func(c *fiber.Ctx) error {
		calls.Add(1)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "no"})
	})
	app.Post("/flaky", idem, func(c *fiber.Ctx) error {
		calls.Add(1)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "busy"})
	})

	return testEnv{app: app, mr: mr, calls: calls, collector: collector}
}

func post(t *testing.T, app *fiber.App, path, key string) (*http.Response, string) {
	t.Helper()
	return postBody(t, app, path, key, "{}")
}

func postBody(t *testing.T, app *fiber.App, path, key, body string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(respBody)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	env := setupTestApp(t, DefaultBreakerSettings())

	first, _ := post(t, env.app, "/resource", "")
	second, _ := post(t, env.app, "/resource", "")

	assert.Equal(t, fiber.StatusCreated, first.StatusCode)
	assert.Equal(t, fiber.StatusCreated, second.StatusCode)
	assert.EqualValues(t, 2, env.calls.Load())
	assert.Empty(t, env.mr.Keys())
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	env := setupTestApp(t, DefaultBreakerSettings())

	first, payload := post(t, env.app, "/resource", "abc123")
	require.Equal(t, fiber.StatusCreated, first.StatusCode)

	second, cached := post(t, env.app, "/resource", "abc123")
	assert.Equal(t, fiber.StatusCreated, second.StatusCode)
	assert.Equal(t, payload, cached)
	assert.Equal(t, "true", second.Header.Get(idempotentReplayHeader))
	assert.EqualValues(t, 1, env.calls.Load())
	assert.Equal(t, 1, env.collector.replays["/resource"])
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	env := setupTestApp(t, DefaultBreakerSettings())

	first, _ := postBody(t, env.app, "/resource", "reused", `{"amount":"3"}`)
	require.Equal(t, fiber.StatusCreated, first.StatusCode)

	changed, _ := postBody(t, env.app, "/resource", "reused", `{"amount":"30"}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, changed.StatusCode)
	assert.Empty(t, changed.Header.Get(idempotentReplayHeader))

	same, _ := postBody(t, env.app, "/resource", "reused", `{"amount":"3"}`)
	assert.Equal(t, fiber.StatusCreated, same.StatusCode)
	assert.Equal(t, "true", same.Header.Get(idempotentReplayHeader))

	assert.EqualValues(t, 1, env.calls.Load())
	assert.Equal(t, 1, env.collector.replays["/resource"])
}

func TestIdempotencyKeyIsScopedToRoute(t *testing.T) {
	env := setupTestApp(t, DefaultBreakerSettings())

	post(t, env.app, "/resource", "shared")
	resp, body := post(t, env.app, "/other", "shared")

	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"other":true}`, body)
	assert.EqualValues(t, 2, env.calls.Load())
}

func TestIdempotencyCachesClientErrors(t *testing.T) {
	env := setupTestApp(t, DefaultBreakerSettings())

	post(t, env.app, "/rejected", "k1")
	resp, _ := post(t, env.app, "/rejected", "k1")

	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.EqualValues(t, 1, env.calls.Load())
}

func TestIdempotencyDoesNotCacheServerErrors(t *testing.T) {
	env := setupTestApp(t, DefaultBreakerSettings())

	post(t, env.app, "/flaky", "k1")
	resp, _ := post(t, env.app, "/flaky", "k1")

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.EqualValues(t, 2, env.calls.Load())
	assert.Empty(t, env.mr.Keys())
}

func TestIdempotencyRejectsRequestInProgress(t *testing.T) {
	env := setupTestApp(t, DefaultBreakerSettings())
	require.NoError(t, env.mr.Set(idempotencyPrefix+"POST:/resource:busy", inProgressMarker))

	resp, _ := post(t, env.app, "/resource", "busy")

	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.EqualValues(t, 0, env.calls.Load())
}

func TestIdempotencyFailsFastWhenRedisIsDown(t *testing.T) {
	env := setupTestApp(t, BreakerSettings{ConsecutiveFailures: 1, OpenTimeout: time.Minute, MaxRequests: 1})
	env.mr.Close()

	first, _ := post(t, env.app, "/resource", "k1")
	second, _ := post(t, env.app, "/resource", "k2")

	assert.Equal(t, fiber.StatusServiceUnavailable, first.StatusCode)
	assert.Equal(t, fiber.StatusServiceUnavailable, second.StatusCode)
	assert.Equal(t, "1", second.Header.Get(fiber.HeaderRetryAfter))
	assert.EqualValues(t, 0, env.calls.Load())
	assert.Contains(t, env.collector.states, metrics.CircuitOpen)
}
