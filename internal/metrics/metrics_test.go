package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SignIn("ok")
	m.SignIn("ok")
	m.SignIn("nonce_expired")
	m.NonceIssued()
	m.Decision("verifier", false)
	m.Decision("", false)
	m.GrantsExpired(3)
	m.GrantsExpired(0)
	m.ObserveHTTP("GET", "/session", 200, 5*time.Millisecond)

	if got := testutil.ToFloat64(m.signIns.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok sign-ins, got %v", got)
	}
	if got := testutil.ToFloat64(m.noncesIssued); got != 1 {
		t.Fatalf("expected 1 nonce, got %v", got)
	}
	if got := testutil.ToFloat64(m.decisions.WithLabelValues("anonymous", "deny")); got != 1 {
		t.Fatalf("expected anonymous deny, got %v", got)
	}
	if got := testutil.ToFloat64(m.grantsExpired); got != 3 {
		t.Fatalf("expected 3 expired grants, got %v", got)
	}
	if got := testutil.CollectAndCount(m.httpDuration); got != 1 {
		t.Fatalf("expected one histogram series, got %d", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.SignIn("ok")
	m.NonceIssued()
	m.Decision("student", true)
	m.GrantsExpired(1)
	m.ObserveHTTP("GET", "/", 200, time.Millisecond)
}
