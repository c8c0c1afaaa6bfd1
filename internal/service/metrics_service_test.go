package service

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsServiceExposesLifecycleCounters(t *testing.T) {
	m := NewMetricsService()
	m.RecordTransition("verified", nil)
	m.RecordTransition("issued", errors.New("lost race"))
	m.RecordReconcile("profile", "merged")
	m.RecordStamp("backfill", "assigned", 4)
	m.RecordStamp("backfill", "skipped", 0)
	m.ObserveHTTPRequest(http.MethodGet, "/ready", http.StatusOK, 20*time.Millisecond)

	snap := m.Snapshot()
	require.EqualValues(t, 2, snap.Transitions)
	require.EqualValues(t, 1, snap.FailedTransitions)
	require.EqualValues(t, 1, snap.RequestsTotal)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	text := string(body)
	require.Contains(t, text, `certification_transitions_total{outcome="error",to="issued"} 1`)
	require.Contains(t, text, `record_reconciliations_total{action="merged",kind="profile"} 1`)
	require.Contains(t, text, `appointment_stamps_total{mode="backfill",outcome="assigned"} 4`)
	require.NotContains(t, text, `outcome="skipped"`)
}

func TestMetricsServiceNilIsSafe(t *testing.T) {
	var m *MetricsService
	m.RecordTransition("issued", nil)
	m.RecordCacheOperation(true, time.Millisecond)
	m.ObserveRender(time.Millisecond)
	require.Zero(t, m.Snapshot().Transitions)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
