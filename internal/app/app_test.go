package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/salpa/profits/internal/observability"
	"github.com/salpa/profits/internal/profits"
	profitshttp "github.com/salpa/profits/internal/profits/http"
	"github.com/salpa/profits/internal/provider/memory"
	"github.com/salpa/profits/jobs"
)

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	t.Setenv("PROFITS_PROVIDER", "memory")
	t.Setenv("PROFITS_FETCH_CONCURRENCY", "3")
	t.Setenv("PROFITS_CACHE_TTL", "90s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ProviderMemory, cfg.Provider)
	require.Equal(t, 3, cfg.FetchConcurrency)
	require.Equal(t, 90*time.Second, cfg.CacheTTL)
	require.Equal(t, 1000, cfg.RawCostLimit)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.False(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	base := Config{Provider: ProviderPostgres, PGDSN: "postgres://x", FetchConcurrency: 1}
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"unknown provider": func(c *Config) { c.Provider = "sqlite" },
		"missing dsn":      func(c *Config) { c.PGDSN = "" },
		"missing rest url": func(c *Config) { c.Provider = ProviderREST; c.RESTBaseURL = "" },
		"zero concurrency": func(c *Config) { c.FetchConcurrency = 0 },
		"negative limit":   func(c *Config) { c.RawCostLimit = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json", AppEnv: "production"}, &buf).Info("hello", "year", 2024)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["msg"])
	require.Equal(t, "profits", line["service"])

	buf.Reset()
	newLogger(&Config{LogFormat: "pretty"}, &buf).Debug("visible in development")
	require.Contains(t, buf.String(), "visible in development")
}

func newTestRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *observability.Metrics) {
	t.Helper()
	provider := memory.New(memory.Snapshot{
		Today: profits.Today{Year: 2024, Month: 6, Day: 15},
		Years: []int{2024, 2023},
	})
	metrics := observability.NewMetrics()
	svc := profits.NewService(provider, nil)
	svc.WithMetrics(profits.NewMetrics(metrics.Registerer()))
	router := NewRouter(RouterParams{
		Config:         &Config{AppEnv: "development", AppRequestTimeout: 5 * time.Second},
		ProfitsHandler: profitshttp.NewHandler(nil, svc),
		JobHandler:     jobs.NewHandler(nil, nil),
		Metrics:        metrics,
		Checks:         checks,
	})
	return router, metrics
}

func TestRouterServesApiAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/profits/period?year=2024", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/profits/report?year=2024", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.Contains(t, body, `profits_http_requests_total{code="200",route="/api/profits/period"} 1`)
	require.Contains(t, body, `profits_builds_total{operation="report",outcome="success",scope="company"} 1`)
}

func TestRouterNotFoundIsProblemJSON(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "application/problem+json"))
}

func TestHealthzReportsFailingDependency(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "degraded", resp.Status)
	require.Equal(t, "ok", resp.Checks["redis"])
	require.Equal(t, "connection refused", resp.Checks["postgres"])
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(TestModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(TestModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestBootstrapMemoryProviderWithCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &Config{
		Provider:         ProviderMemory,
		RedisAddr:        mr.Addr(),
		CacheTTL:         time.Minute,
		FetchConcurrency: 2,
		RawCostLimit:     10,
	}
	rt, err := Bootstrap(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	require.NotNil(t, rt.Cache)
	require.Contains(t, rt.Checks(), "redis")
	require.NotContains(t, rt.Checks(), "postgres")

	period, err := rt.Service.CurrentPeriod(context.Background())
	require.NoError(t, err)
	require.Equal(t, time.Now().Year(), period.Year)
}

func TestBootstrapWithoutRedisRunsUncached(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	rt, err := Bootstrap(context.Background(), &Config{Provider: ProviderMemory, RedisAddr: addr, FetchConcurrency: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	require.Nil(t, rt.Cache)
	require.Empty(t, rt.Checks())
}
