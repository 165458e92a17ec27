package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PropNest/app/controllers"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/idempotency"
	"github.com/ManuelReschke/PropNest/internal/pkg/usercontext"
)

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: controllers.ErrorHandler})
	app.Use(requestid.New())
	return app
}

func send(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func TestRequireIdentity(t *testing.T) {
	app := newApp()
	app.Get("/me", RequireIdentity, func(c *fiber.Ctx) error {
		id, ok := usercontext.Get(c)
		require.True(t, ok)
		return c.JSON(id)
	})

	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"valid", map[string]string{usercontext.HeaderUserID: "42", usercontext.HeaderAudience: "Tenant"}, http.StatusOK},
		{"missing user", map[string]string{usercontext.HeaderAudience: "owner"}, http.StatusUnauthorized},
		{"zero user", map[string]string{usercontext.HeaderUserID: "0", usercontext.HeaderAudience: "owner"}, http.StatusUnauthorized},
		{"not a number", map[string]string{usercontext.HeaderUserID: "abc", usercontext.HeaderAudience: "owner"}, http.StatusUnauthorized},
		{"missing audience", map[string]string{usercontext.HeaderUserID: "42"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := send(t, app, http.MethodGet, "/me", "", tt.headers)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"user_id":42,"audience":"tenant"}`, body)
			} else {
				assert.Contains(t, body, `"code":"UNAUTHORIZED"`)
			}
		})
	}
}

// idempotentApp counts how often the protected handler really ran.
func idempotentApp(guard *idempotency.Guard, calls *atomic.Int32, fail *atomic.Bool) *fiber.App {
	app := newApp()
	app.Post("/orders", RequireIdentity, Idempotency(guard, nil), func(c *fiber.Ctx) error {
		n := calls.Add(1)
		if fail.Load() {
			return apperror.ErrPlanNotFound
		}
		return controllers.Respond(c, fiber.StatusCreated, fiber.Map{"order": n, "at": time.Now().UnixNano()})
	})
	return app
}

func identityHeaders(key string) map[string]string {
	return map[string]string{
		usercontext.HeaderUserID:   "1",
		usercontext.HeaderAudience: "owner",
		HeaderIdempotencyKey:       key,
	}
}

func TestIdempotencyReplaysStoredData(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	guard := idempotency.NewGuard(idempotency.NewRedisBackend(client))

	var calls atomic.Int32
	var fail atomic.Bool
	app := idempotentApp(guard, &calls, &fail)

	first, firstBody := send(t, app, http.MethodPost, "/orders", `{"qty":1}`, identityHeaders("k1"))
	second, secondBody := send(t, app, http.MethodPost, "/orders", `{"qty":1}`, identityHeaders("k1"))
	require.Equal(t, http.StatusCreated, first.StatusCode)
	require.Equal(t, http.StatusCreated, second.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, first.Header.Get(HeaderIdempotentReplay))
	assert.Equal(t, "true", second.Header.Get(HeaderIdempotentReplay))

	var a, b struct {
		Data json.RawMessage  `json:"data"`
		Meta controllers.Meta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal([]byte(firstBody), &a))
	require.NoError(t, json.Unmarshal([]byte(secondBody), &b))
	assert.Equal(t, string(a.Data), string(b.Data))
	assert.NotEqual(t, a.Meta.RequestID, b.Meta.RequestID)

	resp, body := send(t, app, http.MethodPost, "/orders", `{"qty":2}`, identityHeaders("k1"))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, apperror.CodeIdempotencyKeyReused)

	// without a key every request runs
	send(t, app, http.MethodPost, "/orders", `{"qty":1}`, map[string]string{usercontext.HeaderUserID: "1", usercontext.HeaderAudience: "owner"})
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotencyReleasesFailedRequests(t *testing.T) {
	mr := miniredis.RunT(t)
	guard := idempotency.NewGuard(idempotency.NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()})))

	var calls atomic.Int32
	var fail atomic.Bool
	fail.Store(true)
	app := idempotentApp(guard, &calls, &fail)

	resp, _ := send(t, app, http.MethodPost, "/orders", `{}`, identityHeaders("k2"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	fail.Store(false)
	resp, _ = send(t, app, http.MethodPost, "/orders", `{}`, identityHeaders("k2"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotencyInProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	guard := idempotency.NewGuard(idempotency.NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()})))

	// a reservation held by a request that has not finished yet
	scope := "user:1:POST /orders"
	res, err := guard.CheckOrReserve(context.Background(), "k3", scope, "")
	require.NoError(t, err)
	require.Nil(t, res)

	var calls atomic.Int32
	var fail atomic.Bool
	app := idempotentApp(guard, &calls, &fail)
	resp, body := send(t, app, http.MethodPost, "/orders", `{}`, identityHeaders("k3"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body, apperror.CodeIdempotencyInProgress)
	assert.Zero(t, calls.Load())
}

func TestIdempotencyKeyTooLong(t *testing.T) {
	mr := miniredis.RunT(t)
	guard := idempotency.NewGuard(idempotency.NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
	var calls atomic.Int32
	var fail atomic.Bool
	app := idempotentApp(guard, &calls, &fail)

	resp, _ := send(t, app, http.MethodPost, "/orders", `{}`, identityHeaders(strings.Repeat("k", maxIdempotencyKeyLength+1)))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, calls.Load())
}
