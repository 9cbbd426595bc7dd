package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSettlementCountsByOutcome(t *testing.T) {
	m := getMetrics()
	before := testutil.ToFloat64(m.settledTotal.WithLabelValues("aborted"))

	RecordSettlement("aborted", 20*time.Millisecond)
	RecordSettlement("aborted", 30*time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(m.settledTotal.WithLabelValues("aborted")))
}

func TestDispatcherDepthGauges(t *testing.T) {
	RecordEnqueue(3, 5)
	m := getMetrics()
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeLanes))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.queuedRequests))

	SetDispatcherDepth(0, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeLanes))
}

func TestMetricsHandlerExposesDispatcherMetrics(t *testing.T) {
	RecordRetry()
	RecordProviderCall("openai", time.Second, false)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "jobats_dispatcher_retry_total"))
	assert.True(t, strings.Contains(body, `jobats_provider_call_total{provider="openai",status="error"}`))
}
