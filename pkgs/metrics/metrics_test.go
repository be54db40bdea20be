package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/keskad/satbridge/pkgs/cat"
	"github.com/keskad/satbridge/pkgs/rotator"
)

func TestSetRotatorStatus_OnlyOneGaugeActive(t *testing.T) {
	r := New("localhost:0")
	r.SetRotatorStatus(rotator.StatusOnline)

	if got := testutil.ToFloat64(r.rotatorStatus.WithLabelValues("online")); got != 1 {
		t.Fatalf("expected online gauge set to 1, got %v", got)
	}
	if got := testutil.ToFloat64(r.rotatorStatus.WithLabelValues("offline")); got != 0 {
		t.Fatalf("expected offline gauge to be 0, got %v", got)
	}

	r.SetRotatorStatus(rotator.StatusOffline)
	if got := testutil.ToFloat64(r.rotatorStatus.WithLabelValues("online")); got != 0 {
		t.Fatalf("expected online gauge to drop back to 0, got %v", got)
	}
}

func TestSetPTT_ReflectsIntentAndKeyed(t *testing.T) {
	r := New("localhost:0")
	r.SetPTT(true, false)

	if got := testutil.ToFloat64(r.pttIntent); got != 1 {
		t.Fatalf("expected ptt intent gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(r.pttKeyed); got != 0 {
		t.Fatalf("expected ptt keyed gauge 0, got %v", got)
	}
}

func TestObserveCATResponse_CountsByOpAndOutcome(t *testing.T) {
	r := New("localhost:0")
	r.ObserveCATResponse(cat.OpFreqGet, true)
	r.ObserveCATResponse(cat.OpFreqGet, true)
	r.ObserveCATResponse(cat.OpFreqGet, false)

	if got := testutil.ToFloat64(r.catResponses.WithLabelValues("freq_get", "true")); got != 2 {
		t.Fatalf("expected 2 successful freq_get responses, got %v", got)
	}
	if got := testutil.ToFloat64(r.catResponses.WithLabelValues("freq_get", "false")); got != 1 {
		t.Fatalf("expected 1 failed freq_get response, got %v", got)
	}
}

func TestObserveRendezvousTimeout_Increments(t *testing.T) {
	r := New("localhost:0")
	r.ObserveRendezvousTimeout()
	r.ObserveRendezvousTimeout()

	if got := testutil.ToFloat64(r.catRendezvousTmo); got != 2 {
		t.Fatalf("expected 2 timeouts recorded, got %v", got)
	}
}

func TestObservePollLatency_SetsMillis(t *testing.T) {
	r := New("localhost:0")
	r.ObservePollLatency(250 * time.Millisecond)

	if got := testutil.ToFloat64(r.rotatorPollMillis); got != 250 {
		t.Fatalf("expected 250ms recorded, got %v", got)
	}
}
