// Package metrics exposes the bridge's operational gauges and counters on a
// Prometheus /metrics endpoint, the way facebook-time's sptp exporter and
// ka9q_ubersdr expose theirs alongside their own protocol servers.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/keskad/satbridge/pkgs/cat"
	"github.com/keskad/satbridge/pkgs/rotator"
)

// shutdownTimeout bounds how long Run waits for in-flight scrapes to finish
// once ctx is canceled.
const shutdownTimeout = 2 * time.Second

// Registry owns every metric this process exports and the HTTP server that
// serves them.
type Registry struct {
	registry *prometheus.Registry
	addr     string

	rotatorStatus     *prometheus.GaugeVec
	rotatorPollMillis prometheus.Gauge
	pttIntent         prometheus.Gauge
	pttKeyed          prometheus.Gauge
	catResponses      *prometheus.CounterVec
	catRendezvousTmo  prometheus.Counter
}

// New builds a Registry bound to addr (e.g. "localhost:9100"), with every
// gauge/counter registered and zeroed.
func New(addr string) *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		addr:     addr,
		rotatorStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "satbridge_rotator_status",
			Help: "1 if the rotator is currently in the named status, 0 otherwise.",
		}, []string{"status"}),
		rotatorPollMillis: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "satbridge_rotator_last_poll_latency_ms",
			Help: "Time the last rotator state-machine step took to enqueue its command, in milliseconds; the controller round trip is not included.",
		}),
		pttIntent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "satbridge_ptt_intent",
			Help: "1 if the operator currently intends to transmit, 0 otherwise.",
		}),
		pttKeyed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "satbridge_ptt_keyed",
			Help: "1 if the transceiver is currently keyed over CAT, 0 otherwise.",
		}),
		catResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "satbridge_cat_responses_total",
			Help: "CAT responses received, by operation and outcome.",
		}, []string{"op", "ok"}),
		catRendezvousTmo: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "satbridge_cat_rendezvous_timeouts_total",
			Help: "Times a rigctld f/m request timed out waiting for a matching CAT reply.",
		}),
	}

	r.registry.MustRegister(
		r.rotatorStatus,
		r.rotatorPollMillis,
		r.pttIntent,
		r.pttKeyed,
		r.catResponses,
		r.catRendezvousTmo,
	)
	for _, st := range []rotator.Status{
		rotator.StatusOffline, rotator.StatusPending, rotator.StatusStartingCal,
		rotator.StatusCalFailed, rotator.StatusCalManual, rotator.StatusOnline,
	} {
		r.rotatorStatus.WithLabelValues(st.String()).Set(0)
	}
	return r
}

// SetRotatorStatus flips the single named status gauge to 1 and every other
// status gauge to 0, so a scrape always shows exactly one status active.
func (r *Registry) SetRotatorStatus(current rotator.Status) {
	for _, st := range []rotator.Status{
		rotator.StatusOffline, rotator.StatusPending, rotator.StatusStartingCal,
		rotator.StatusCalFailed, rotator.StatusCalManual, rotator.StatusOnline,
	} {
		v := 0.0
		if st == current {
			v = 1.0
		}
		r.rotatorStatus.WithLabelValues(st.String()).Set(v)
	}
}

// ObservePollLatency records d on the poll-latency gauge. Coordinator passes
// the duration of RotatorService.EvaluateTick, which enqueues the poll
// command and returns without waiting for the controller's reply.
func (r *Registry) ObservePollLatency(d time.Duration) {
	r.rotatorPollMillis.Set(float64(d.Milliseconds()))
}

// SetPTT reflects the current rigctld.State onto the PTT gauges.
func (r *Registry) SetPTT(intent, keyed bool) {
	r.pttIntent.Set(boolToFloat(intent))
	r.pttKeyed.Set(boolToFloat(keyed))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ObserveCATResponse counts one CAT reply by operation and success.
func (r *Registry) ObserveCATResponse(op cat.Op, ok bool) {
	r.catResponses.WithLabelValues(op.String(), fmt.Sprintf("%v", ok)).Inc()
}

// ObserveRendezvousTimeout counts one rigctld f/m request that never found a
// matching CAT reply before its deadline.
func (r *Registry) ObserveRendezvousTimeout() {
	r.catRendezvousTmo.Inc()
}

// Run serves /metrics until ctx is canceled, mirroring the
// bind/serve/shutdown-on-cancellation shape every other worker in this
// process follows.
func (r *Registry) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: r.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logrus.Debugf("metrics: serving on %s", r.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics: shutdown error: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
