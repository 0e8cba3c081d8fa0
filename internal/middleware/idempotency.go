package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/funds/internal/metrics"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotentReplayHeader  = "Idempotent-Replayed"
	idempotencyPrefix       = "idempotency:v2:"
	inProgressMarker        = "__in_progress__"
	idempotencyStoreTimeout = 2 * time.Second
)

type storedResponse struct {
	// RequestHash fingerprints the request body the response was produced for.
	RequestHash string            `json:"request_hash,omitempty"`
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers"`
}

// Idempotency replays the stored response when an unsafe request repeats an
// Idempotency-Key already seen on the same method and route. Requests without the
// header are passed through. Only responses below 500 are stored so that failed
// attempts stay retryable. Reusing a key with a different body is rejected with 422.
func Idempotency(cache ResponseCache, ttl time.Duration, logger *slog.Logger, collector metrics.Collector) fiber.Handler {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return c.Next()
		}
		if len(key) > 255 {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key must be at most 255 characters")
		}

		route := c.Route().Path
		cacheKey := idempotencyPrefix + c.Method() + ":" + c.Path() + ":" + key
		attrs := []any{slog.String("key", key), slog.String("route", route)}
		requestHash := hashBody(c.Body())

		ctx, cancel := context.WithTimeout(c.UserContext(), idempotencyStoreTimeout)
		defer cancel()

		cached, err := cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			if cached == inProgressMarker {
				return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
			}
			var stored storedResponse
			if err := json.Unmarshal([]byte(cached), &stored); err != nil {
				logger.Warn("failed to decode stored idempotent response", append(attrs, slog.Any("error", err))...)
				return fiber.NewError(fiber.StatusConflict, "duplicate request")
			}
			if stored.RequestHash != "" && stored.RequestHash != requestHash {
				return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request body")
			}
			collector.RecordIdempotentReplay(route)
			return replay(c, stored)
		case errors.Is(err, ErrCacheMiss):
		case errors.Is(err, ErrCacheUnavailable):
			logger.Warn("idempotency store unavailable", attrs...)
			c.Set(fiber.HeaderRetryAfter, "1")
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		default:
			logger.Error("idempotency lookup failed", append(attrs, slog.Any("error", err))...)
			c.Set(fiber.HeaderRetryAfter, "1")
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store failure")
		}

		reserved, err := cache.Reserve(ctx, cacheKey, inProgressMarker, ttl)
		if err != nil {
			logger.Error("idempotency reservation failed", append(attrs, slog.Any("error", err))...)
			c.Set(fiber.HeaderRetryAfter, "1")
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency reservation failure")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		}

		release := func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), idempotencyStoreTimeout)
			defer cancel()
			if err := cache.Release(releaseCtx, cacheKey); err != nil {
				logger.Warn("idempotency release failed", append(attrs, slog.Any("error", err))...)
			}
		}

		if err := c.Next(); err != nil {
			release()
			return err
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			release()
			return nil
		}

		stored := storedResponse{
			RequestHash: requestHash,
			Status:      status,
			Body:        string(c.Response().Body()),
			Headers:     map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			stored.Headers[string(k)] = string(v)
		})

		payload, err := json.Marshal(stored)
		if err != nil {
			logger.Error("failed to encode idempotent response", append(attrs, slog.Any("error", err))...)
			release()
			return nil
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), idempotencyStoreTimeout)
		defer persistCancel()
		if err := cache.Store(persistCtx, cacheKey, string(payload), ttl); err != nil {
			// The operation already happened; the caller still gets its response.
			logger.Error("failed to persist idempotent response", append(attrs, slog.Any("error", err))...)
			release()
		}
		return nil
	}
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func replay(c *fiber.Ctx, stored storedResponse) error {
	for header, value := range stored.Headers {
		if strings.EqualFold(header, fiber.HeaderContentLength) || strings.EqualFold(header, requestIDHeader) {
			continue
		}
		c.Set(header, value)
	}
	c.Set(idempotentReplayHeader, "true")
	return c.Status(stored.Status).SendString(stored.Body)
}
