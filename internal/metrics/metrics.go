// Package metrics exposes the client's poll and alert activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	polls              *prometheus.CounterVec
	pollDuration       prometheus.Histogram
	alertsFired        prometheus.Counter
	channelTransitions *prometheus.CounterVec
	channelActive      *prometheus.GaugeVec
	visibleCalls       prometheus.Gauge
	unackCalls         prometheus.Gauge
	actions            *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callwatch_polls_total",
			Help: "Polls of the fire-call endpoint by result",
		}, []string{"result"}),
		pollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callwatch_poll_duration_seconds",
			Help:    "Time spent fetching and applying one successful poll, or until a fetch fails",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		alertsFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "callwatch_alerts_fired_total",
			Help: "New-call alert bundles fired",
		}),
		channelTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callwatch_alert_channel_transitions_total",
			Help: "Alert channel state transitions",
		}, []string{"channel", "to"}),
		channelActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callwatch_alert_channel_active",
			Help: "Whether an alert channel is active (1) or normal (0)",
		}, []string{"channel"}),
		visibleCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callwatch_visible_calls",
			Help: "Calls passing the state filter on the board",
		}),
		unackCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callwatch_unacknowledged_calls",
			Help: "Visible calls not yet acknowledged",
		}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callwatch_actions_total",
			Help: "Operator actions sent to the backend by result",
		}, []string{"action", "result"}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// PollObserved records one poll.
func (m *Metrics) PollObserved(d time.Duration, err error) {
	m.polls.WithLabelValues(result(err)).Inc()
	m.pollDuration.Observe(d.Seconds())
}

// ActionObserved records an acknowledge, dismiss or filter push.
func (m *Metrics) ActionObserved(action string, err error) {
	m.actions.WithLabelValues(action, result(err)).Inc()
}

func (m *Metrics) AlertFired(string) {
	m.alertsFired.Inc()
}

func (m *Metrics) ChannelChanged(channel string, active bool) {
	to, v := "normal", 0.0
	if active {
		to, v = "active", 1.0
	}
	m.channelTransitions.WithLabelValues(channel, to).Inc()
	m.channelActive.WithLabelValues(channel).Set(v)
}

func (m *Metrics) CountsChanged(visible, unack int) {
	m.visibleCalls.Set(float64(visible))
	m.unackCalls.Set(float64(unack))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Metrics: serving Prometheus metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
