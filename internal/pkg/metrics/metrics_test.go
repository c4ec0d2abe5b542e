package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImages_Counters(t *testing.T) {
	reg := NewRegistry()
	m := NewImages(reg)

	m.Ingested(ResultNew)
	m.Ingested(ResultNew)
	m.Ingested(ResultDuplicate)
	m.IngestFailed("invalid_input")
	m.DedupRace()
	m.Classified(ResultClassified, 120*time.Millisecond)
	m.Classified(ResultCached, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingested.WithLabelValues(ResultNew)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingested.WithLabelValues(ResultDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestFailures.WithLabelValues("invalid_input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dedupRaces))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.classifications.WithLabelValues(ResultCached)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.classifyLatency))
}

func TestImages_NilIsNoop(t *testing.T) {
	var m *Images
	assert.NotPanics(t, func() {
		m.Ingested(ResultNew)
		m.IngestFailed("x")
		m.DedupRace()
		m.Classified(ResultFailed, time.Second)
		m.JobStarted()
		m.JobFinished()
	})
}

func TestHandler_ExposesCollectors(t *testing.T) {
	reg := NewRegistry()
	NewImages(reg).Ingested(ResultNew)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `vision_images_ingested_total{result="new"} 1`)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
