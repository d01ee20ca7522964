package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()
	m.Observe(2, 12.5, 100, 3)
	m.Observe(2, 13, 130, 4)
	m.SetAlive(4)

	assert.Equal(t, 13.0, testutil.ToFloat64(m.execs.WithLabelValues("2")))
	assert.Equal(t, 130.0, testutil.ToFloat64(m.iterations.WithLabelValues("2")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.crashes.WithLabelValues("2")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.alive))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Observe(0, 1, 1, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `netfuzz_worker_iterations{worker="0"} 1`)
}
