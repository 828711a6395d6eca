package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/webgate/webgate/internal/config"
	"github.com/webgate/webgate/internal/health"
	"github.com/webgate/webgate/internal/logging"
	"github.com/webgate/webgate/internal/metrics"
	"github.com/webgate/webgate/internal/server"
)

func newTestGateway(t *testing.T, cfg config.ServerConfig, opts Options) (*Gateway, *server.Pool) {
	t.Helper()
	if cfg.Type == "" {
		cfg.Type = config.ServerTypeHTTP
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}
	opts.Server = cfg
	pool, err := server.NewPool(cfg, server.PoolOptions{Logger: opts.Logger, Mode: config.ModeProduction})
	require.NoError(t, err)
	return New(pool, opts), pool
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestNormalizePath(t *testing.T) {
	testCases := map[string]string{
		"/users/":     "/users",
		"/users":      "/users",
		"/":           "/",
		"/a/b/":       "/a/b",
		"/users/:id/": "/users/:id",
		"":            "",
		"/double//":   "/double/",
	}
	for in, want := range testCases {
		assert.Equal(t, want, NormalizePath(in), in)
	}
}

func TestGetReceivesParamsAndQuery(t *testing.T) {
	gw, pool := newTestGateway(t, config.ServerConfig{}, Options{})

	var (
		gotParams Params
		gotQuery  Query
		gotReq    *fasthttp.Request
	)
	require.NoError(t, gw.Get("/users/:id/", func(reply fiber.Ctx, params Params, query Query, req *fasthttp.Request) error {
		gotParams, gotQuery, gotReq = params, query, req
		return reply.SendString("ok")
	}))

	status, body := do(t, pool.Selected().App(), httptest.NewRequest("GET", "/users/42?verbose=1", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body)
	assert.Equal(t, Params{"id": "42"}, gotParams)
	assert.Equal(t, Query{"verbose": "1"}, gotQuery)
	assert.NotNil(t, gotReq)
}

func TestPostParsesBodies(t *testing.T) {
	multipartBody := &bytes.Buffer{}
	mw := multipart.NewWriter(multipartBody)
	require.NoError(t, mw.WriteField("name", "webgate"))
	require.NoError(t, mw.Close())

	testCases := []struct {
		name        string
		contentType string
		body        io.Reader
		want        any
	}{
		{"json", "application/json", strings.NewReader(`{"name":"webgate","tags":["a"]}`), map[string]any{"name": "webgate", "tags": []any{"a"}}},
		{"json charset", "application/json; charset=utf-8", strings.NewReader(`[1,2]`), []any{float64(1), float64(2)}},
		{"form", "application/x-www-form-urlencoded", strings.NewReader("name=webgate&port=80"), map[string]string{"name": "webgate", "port": "80"}},
		{"multipart", mw.FormDataContentType(), multipartBody, map[string]string{"name": "webgate"}},
		{"raw", "application/octet-stream", strings.NewReader("\x00\x01"), []byte{0, 1}},
		{"empty", "application/json", nil, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gw, pool := newTestGateway(t, config.ServerConfig{}, Options{})
			var got any = "unset"
			require.NoError(t, gw.Post("/items", func(reply fiber.Ctx, _ Params, _ Query, body any, _ *fasthttp.Request) error {
				got = body
				return reply.SendStatus(fiber.StatusCreated)
			}))

			req := httptest.NewRequest("POST", "/items", tc.body)
			req.Header.Set("Content-Type", tc.contentType)
			status, _ := do(t, pool.Selected().App(), req)
			assert.Equal(t, fiber.StatusCreated, status)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPostRejectsMalformedJSON(t *testing.T) {
	gw, pool := newTestGateway(t, config.ServerConfig{}, Options{})
	called := false
	require.NoError(t, gw.Post("/items", func(fiber.Ctx, Params, Query, any, *fasthttp.Request) error {
		called = true
		return nil
	}))

	req := httptest.NewRequest("POST", "/items", strings.NewReader("{broken"))
	req.Header.Set("Content-Type", "application/json")
	status, body := do(t, pool.Selected().App(), req)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, server.ServerErrorBody, body)
	assert.False(t, called)
}

func TestVerbsRegisterOnMatchingMethod(t *testing.T) {
	gw, pool := newTestGateway(t, config.ServerConfig{}, Options{})
	reply := func(c fiber.Ctx, _ Params, _ Query, _ any, _ *fasthttp.Request) error {
		return c.SendString(c.Method())
	}
	require.NoError(t, gw.Put("/r", reply))
	require.NoError(t, gw.Patch("/r", reply))
	require.NoError(t, gw.Delete("/r", reply))
	require.NoError(t, gw.Options("/r", func(c fiber.Ctx, _ Params, _ Query, _ *fasthttp.Request) error {
		return c.SendStatus(fiber.StatusNoContent)
	}))
	require.NoError(t, gw.Head("/h", func(c fiber.Ctx, _ Params, _ Query, _ *fasthttp.Request) error {
		c.Set("X-Head", "1")
		return c.SendStatus(fiber.StatusOK)
	}))
	require.NoError(t, gw.All("/any", reply))

	app := pool.Selected().App()
	for _, method := range []string{"PUT", "PATCH", "DELETE"} {
		status, body := do(t, app, httptest.NewRequest(method, "/r", nil))
		assert.Equal(t, fiber.StatusOK, status, method)
		assert.Equal(t, method, body)
	}
	status, _ := do(t, app, httptest.NewRequest("OPTIONS", "/r", nil))
	assert.Equal(t, fiber.StatusNoContent, status)

	status, _ = do(t, app, httptest.NewRequest("POST", "/r", nil))
	assert.Equal(t, fiber.StatusMethodNotAllowed, status)

	resp, err := app.Test(httptest.NewRequest("HEAD", "/h", nil))
	require.NoError(t, err)
	assert.Equal(t, "1", resp.Header.Get("X-Head"))

	for _, method := range []string{"GET", "POST", "PUT"} {
		_, body := do(t, app, httptest.NewRequest(method, "/any", nil))
		assert.Equal(t, method, body)
	}
}

func TestHandlerErrorBecomesServerError(t *testing.T) {
	gw, pool := newTestGateway(t, config.ServerConfig{}, Options{})
	require.NoError(t, gw.Get("/fail", func(fiber.Ctx, Params, Query, *fasthttp.Request) error {
		return errors.New("boom")
	}))

	status, body := do(t, pool.Selected().App(), httptest.NewRequest("GET", "/fail", nil))
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, server.ServerErrorBody, body)
}

func TestRegistrationRejectsNilHandler(t *testing.T) {
	gw, _ := newTestGateway(t, config.ServerConfig{}, Options{})
	assert.ErrorIs(t, gw.Get("/x", nil), ErrNilHandler)
	assert.ErrorIs(t, gw.Post("/x", nil), ErrNilHandler)
	assert.ErrorIs(t, gw.GetCustom("/x", RouteOptions{}, nil), ErrNilHandler)
}

func TestGetCustomRunsMiddleware(t *testing.T) {
	gw, pool := newTestGateway(t, config.ServerConfig{}, Options{})
	mw := func(c fiber.Ctx) error {
		c.Set("X-Guard", "passed")
		return c.Next()
	}
	require.NoError(t, gw.GetCustom("/custom/", RouteOptions{Name: "custom", Middleware: []fiber.Handler{mw}}, func(c fiber.Ctx) error {
		return c.SendString("custom")
	}))

	app := pool.Selected().App()
	resp, err := app.Test(httptest.NewRequest("GET", "/custom", nil))
	require.NoError(t, err)
	assert.Equal(t, "passed", resp.Header.Get("X-Guard"))
	assert.Equal(t, "/custom", app.GetRoute("custom").Path)
}

func TestMountDeduplicatesByName(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	gw, pool := newTestGateway(t, config.ServerConfig{}, Options{Logger: logger})

	calls := 0
	sub := SubApplication{
		Name:   "metrics",
		Prefix: "/plugins/metrics/",
		Register: func(r fiber.Router) error {
			calls++
			r.Get("/stats", func(c fiber.Ctx) error { return c.SendString("stats") })
			return nil
		},
	}
	require.NoError(t, gw.Mount(sub))
	require.NoError(t, gw.Mount(sub))

	assert.Equal(t, 1, calls)
	assert.True(t, gw.Mounted("metrics"))

	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "[REGISTER] metrics ALREADY REGISTERED" {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)

	status, body := do(t, pool.Selected().App(), httptest.NewRequest("GET", "/plugins/metrics/stats", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "stats", body)
}

func TestMountAnonymousAlwaysForwards(t *testing.T) {
	gw, _ := newTestGateway(t, config.ServerConfig{}, Options{})
	calls := 0
	sub := SubApplication{Register: func(fiber.Router) error { calls++; return nil }}
	require.NoError(t, gw.Mount(sub))
	require.NoError(t, gw.Mount(sub))
	assert.Equal(t, 2, calls)
}

func TestMountFailureDoesNotRecordName(t *testing.T) {
	gw, _ := newTestGateway(t, config.ServerConfig{}, Options{})
	failing := SubApplication{Name: "auth", Register: func(fiber.Router) error { return errors.New("bad config") }}
	require.Error(t, gw.Mount(failing))
	assert.False(t, gw.Mounted("auth"))
	assert.ErrorIs(t, gw.Mount(SubApplication{Name: "x"}), ErrInvalidSubApplication)
}

func TestServerInstanceFollowsType(t *testing.T) {
	gw, pool := newTestGateway(t, config.ServerConfig{HTTPPort: 8080}, Options{})
	assert.Same(t, pool.Selected(), gw.ServerInstance())
	assert.Equal(t, server.KindHTTP, gw.ServerInstance().Kind())
}

func TestInstallHealthShared(t *testing.T) {
	gw, pool := newTestGateway(t, config.ServerConfig{Health: true}, Options{})
	require.NoError(t, gw.InstallHealth(health.NewRegistry(health.Options{Logger: logging.NewDiscard()})))

	status, body := do(t, pool.Selected().App(), httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, fiber.StatusOK, status)
	var report health.Report
	require.NoError(t, json.Unmarshal([]byte(body), &report))
	assert.True(t, report.Alive)
}

func TestInstallHealthDedicated(t *testing.T) {
	gw, pool := newTestGateway(t, config.ServerConfig{Health: true, HealthServerPort: 9090}, Options{})
	reg := health.NewRegistry(health.Options{Logger: logging.NewDiscard()})
	require.NoError(t, reg.Register("db", "ping", func(context.Context) (bool, error) { return true, nil }))
	require.NoError(t, gw.InstallHealth(reg))

	status, _ := do(t, pool.Health().App(), httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, fiber.StatusAccepted, status)

	status, _ = do(t, pool.Selected().App(), httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestInstallHealthDisabled(t *testing.T) {
	gw, pool := newTestGateway(t, config.ServerConfig{}, Options{})
	require.NoError(t, gw.InstallHealth(health.NewRegistry(health.Options{Logger: logging.NewDiscard()})))

	status, _ := do(t, pool.Selected().App(), httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestInstallMetrics(t *testing.T) {
	rec := metrics.NewPrometheus("webgate")
	rec.HealthChecksRegistered(3)
	gw, pool := newTestGateway(t, config.ServerConfig{}, Options{Metrics: true, MetricsPath: "/metrics"})
	require.NoError(t, gw.InstallMetrics(rec.Handler()))

	status, body := do(t, pool.Selected().App(), httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "webgate_health_checks_registered 3")
}

func TestRoutesFrozenOnceServing(t *testing.T) {
	gw, pool := newTestGateway(t, config.ServerConfig{Exclusive: true}, Options{})
	require.NoError(t, gw.Get("/a", func(c fiber.Ctx, _ Params, _ Query, _ *fasthttp.Request) error {
		return c.SendString("a")
	}))
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	url := "http://" + pool.Selected().BoundAddress() + "/a"
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				resp, err := http.Get(url)
				if err != nil {
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}()
	}

	for i := 0; i < 50; i++ {
		err := gw.Get(fmt.Sprintf("/late/%d", i), func(c fiber.Ctx, _ Params, _ Query, _ *fasthttp.Request) error {
			return c.SendString("late")
		})
		assert.ErrorIs(t, err, server.ErrServing)
	}
	err := gw.Mount(SubApplication{Name: "late", Register: func(r fiber.Router) error {
		r.Get("/mounted", func(c fiber.Ctx) error { return c.SendString("mounted") })
		return nil
	}})
	assert.ErrorIs(t, err, server.ErrServing)
	assert.False(t, gw.Mounted("late"))

	close(stop)
	wg.Wait()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a", string(body))
}

func TestRoutesRejectedAfterStop(t *testing.T) {
	gw, pool := newTestGateway(t, config.ServerConfig{}, Options{})
	require.NoError(t, pool.Stop(context.Background()))

	err := gw.Get("/x", func(c fiber.Ctx, _ Params, _ Query, _ *fasthttp.Request) error { return nil })
	assert.ErrorIs(t, err, server.ErrListenerClosed)
}
