package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-health-api/internal/middleware"
	"github.com/noah-isme/campus-health-api/internal/service"
)

type pingStub struct {
	err error
}

func (p pingStub) Ping(ctx context.Context) error { return p.err }

func newOpsRouter(deps pinger) (*gin.Engine, *service.MetricsService) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(middleware.Metrics(metrics, "/metrics"))
	NewMetricsHandler(metrics, deps).Register(r)
	return r, metrics
}

func TestMetricsHandlerReady(t *testing.T) {
	r, _ := newOpsRouter(pingStub{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)

	r, _ = newOpsRouter(pingStub{err: errors.New("connection refused")})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "NOT_READY")
	require.NotContains(t, w.Body.String(), "connection refused")
}

func TestMetricsHandlerSnapshotCountsRequests(t *testing.T) {
	r, _ := newOpsRouter(nil)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "# HELP"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ops/snapshot", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data service.MetricsSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, uint64(3), body.Data.RequestsTotal)
}
