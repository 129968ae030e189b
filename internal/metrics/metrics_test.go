package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFrameCounts(t *testing.T) {
	m := New()
	m.Frame(Inbound, "data")
	m.Frame(Inbound, "data")
	m.Frame(Outbound, "connected")

	if got := testutil.ToFloat64(m.Frames.WithLabelValues(Inbound, "data")); got != 2 {
		t.Fatalf("in/data: got %v", got)
	}
	if got := testutil.ToFloat64(m.Frames.WithLabelValues(Outbound, "connected")); got != 1 {
		t.Fatalf("out/connected: got %v", got)
	}
	if n := testutil.CollectAndCount(m.Frames); n != 2 {
		t.Fatalf("series: got %d", n)
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ActiveSessions.Inc()
	if got := testutil.ToFloat64(b.ActiveSessions); got != 0 {
		t.Fatalf("second registry saw %v sessions", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.HandshakeFailures.WithLabelValues(ReasonAuthTimeout).Inc()
	m.SessionDuration.Observe(42)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`rlink_bridge_handshake_failures_total{reason="auth_timeout"} 1`,
		"rlink_bridge_session_duration_seconds_count 1",
		"rlink_bridge_active_sessions 0",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("missing %q", want)
		}
	}
}
