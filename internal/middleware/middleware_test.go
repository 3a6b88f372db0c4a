package middleware

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return rdb, mr
}

func whoAmI(c *fiber.Ctx) error {
	return c.SendString(CurrentUserID(c))
}

func TestRequireAuth_Anonymous(t *testing.T) {
	app := fiber.New()
	app.Get("/me", RequireAuth(), whoAmI)

	resp, err := app.Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestSession_LoadsUserFromRedis(t *testing.T) {
	rdb, mr := setupRedis(t)
	require.NoError(t, mr.Set("session:abc", `{"cookie":{},"user":{"user_id":"u-1","email":"a@b.c"}}`))

	app := fiber.New()
	app.Use(Session(rdb))
	app.Get("/me", RequireAuth(), whoAmI)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Cookie", SessionCookieName+"=s:abc.signature")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	buf := make([]byte, 8)
	n, _ := resp.Body.Read(buf)
	assert.Equal(t, "u-1", string(buf[:n]))
}

func TestSession_UnknownCookieIsAnonymous(t *testing.T) {
	rdb, _ := setupRedis(t)
	app := fiber.New()
	app.Use(Session(rdb))
	app.Get("/me", RequireAuth(), whoAmI)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Cookie", SessionCookieName+"=missing")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHealthMarker_CountsRequestsAndErrors(t *testing.T) {
	rdb, _ := setupRedis(t)
	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(rdb)})
	app.Use(HealthMarker(rdb))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("kaput") })
	app.Get("/health/json", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for _, path := range []string{"/ok", "/boom", "/health/json"} {
		_, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
	}

	ctx := context.Background()
	total, err := rdb.Get(ctx, KeyReqTotal).Int()
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	failed, err := rdb.Get(ctx, KeyReqErrors).Int()
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	entries, err := rdb.LRange(ctx, KeyErrorLog, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "kaput")
}

func TestErrorHandler_LogsPathWithoutQuery(t *testing.T) {
	rdb, _ := setupRedis(t)
	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(rdb)})
	app.Get("/api/v1/shared", func(c *fiber.Ctx) error { return errors.New("kaput") })

	_, err := app.Test(httptest.NewRequest("GET", "/api/v1/shared?token=secret-token", nil))
	require.NoError(t, err)

	entries, err := rdb.LRange(context.Background(), KeyErrorLog, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], `"path":"/api/v1/shared"`)
	assert.NotContains(t, entries[0], "secret-token")
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{AllowedSuffix: ".smartfolio.app", DevPassword: "letmein"}))
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	cases := []struct {
		origin, password string
		want             int
	}{
		{"", "", fiber.StatusOK},
		{"https://www.smartfolio.app", "", fiber.StatusOK},
		{"https://evil.example", "", fiber.StatusForbidden},
		{"https://evil.example", "letmein", fiber.StatusOK},
		{"http://localhost:3000", "", fiber.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/x", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if tc.password != "" {
			req.Header.Set("dev-password", tc.password)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, tc.want, resp.StatusCode, tc.origin)
	}
}

func TestTracing_KeepsIncomingID(t *testing.T) {
	app := fiber.New()
	app.Use(Tracing())
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendString(GetTraceID(c)) })

	id := "3f1b1a8e-6c4c-4d3e-9a55-2b8f0b4f8c11"
	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Trace-Id", id)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, id, resp.Header.Get("X-Trace-Id"))

	resp, err = app.Test(httptest.NewRequest("GET", "/x", nil))
	require.NoError(t, err)
	assert.Len(t, resp.Header.Get("X-Trace-Id"), 36)
}
