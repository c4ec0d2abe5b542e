package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lk2023060901/vision-backend/internal/conf"
	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/image/classifier"
	"github.com/lk2023060901/vision-backend/internal/image/data"
	"github.com/lk2023060901/vision-backend/internal/image/service"
	"github.com/lk2023060901/vision-backend/internal/image/storage"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/lk2023060901/vision-backend/internal/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, health HealthChecker) http.Handler {
	t.Helper()

	cfg := conf.Default()
	reg := metrics.NewRegistry()
	store, err := storage.NewFSStore(t.TempDir(), logger.Nop())
	require.NoError(t, err)

	uc, err := biz.NewIntakeUseCase(&cfg.Intake.Config, data.NewMemoryImageRepo(), store,
		classifier.NewStaticClassifier("cat"), metrics.NewImages(reg), logger.Nop())
	require.NoError(t, err)

	svc := service.NewImageService(uc, nil, &cfg.Intake, logger.Nop())
	return NewRouter(cfg, logger.Nop(), health, reg, svc)
}

func TestHealth(t *testing.T) {
	ok := newTestRouter(t, healthFunc(func(context.Context) error { return nil }))
	w := httptest.NewRecorder()
	ok.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	down := newTestRouter(t, healthFunc(func(context.Context) error { return errors.New("database: connection refused") }))
	w = httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, healthFunc(func(context.Context) error { return nil }))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAPIRoutes(t *testing.T) {
	router := newTestRouter(t, healthFunc(func(context.Context) error { return nil }))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/image", nil)
	req.Header.Set(logger.RequestIDHeader, "req-42")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(logger.RequestIDHeader))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/me/image", nil)
	req.Header.Set(service.HeaderOwnerID, "7")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get(logger.RequestIDHeader))
}
