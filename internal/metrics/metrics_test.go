package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.FiresTotal.WithLabelValues("scheduled").Inc()

	fams, err := b.Registry.Gather()
	require.NoError(t, err)
	for _, f := range fams {
		if f.GetName() == "signald_fires_total" {
			t.Errorf("second registry saw the first one's samples")
		}
	}
}

func TestHandler_ExposesMetricsAndHealth(t *testing.T) {
	m := NewMetrics()
	h := NewHealthStatus()
	m.CyclesTotal.WithLabelValues("committed").Add(2)
	m.SignalConfidence.Set(85)

	srv := httptest.NewServer(Handler(m, h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `signald_cycles_total{outcome="committed"} 2`)
	assert.Contains(t, buf.String(), "signald_signal_confidence 85")
}

func TestHealth_DegradedStates(t *testing.T) {
	h := NewHealthStatus()
	h.SetInstrument("EURUSD_otc")

	_, code := h.Snapshot()
	assert.Equal(t, http.StatusServiceUnavailable, code, "no ticks yet")

	h.SetLastTickTime(time.Now())
	st, code := h.Snapshot()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", st.Status)
	assert.Equal(t, "EURUSD_otc", st.Instrument)

	h.SetQuotaExhausted(true)
	st, code = h.Snapshot()
	assert.Equal(t, "degraded", st.Status)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	h.SetQuotaExhausted(false)

	h.SetRedisEnabled(true)
	st, _ = h.Snapshot()
	assert.Equal(t, "degraded", st.Status, "enabled redis never checked")

	h.SetInstrument("BTCUSDT")
	st, _ = h.Snapshot()
	assert.False(t, st.StreamConnected, "switching instrument resets the stream state")
}

func TestHealth_ServeHTTP(t *testing.T) {
	h := NewHealthStatus()
	h.SetLastTickTime(time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "healthy", st.Status)
	assert.NotEmpty(t, st.TickAge)
}
