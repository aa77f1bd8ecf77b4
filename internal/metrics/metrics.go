package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/navigation"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

type Collector struct {
	reg *prometheus.Registry

	Events         *prometheus.CounterVec // kind label: navigation.EventKind
	SessionActive  prometheus.Gauge
	StepIndex      prometheus.Gauge
	RouteDistance  prometheus.Gauge // meters
	RouteDuration  prometheus.Gauge // seconds
	SamplesDropped prometheus.Counter

	RouteRequests        *prometheus.CounterVec // outcome label: ok|unavailable|transport|canceled|error
	RouteRequestDuration prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	AdvanceThreshold prometheus.Gauge // meters
}

func NewCollector(advanceThreshold float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hud_navigation_events_total",
			Help: "Navigation engine events by kind.",
		}, []string{"kind"}),
		SessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hud_session_active",
			Help: "1 while a navigation session is active, 0 otherwise.",
		}),
		StepIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hud_step_index",
			Help: "Index of the active route step.",
		}),
		RouteDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hud_route_distance_meters",
			Help: "Total distance of the active route.",
		}),
		RouteDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hud_route_duration_seconds",
			Help: "Total duration of the active route.",
		}),
		SamplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hud_samples_dropped_total",
			Help: "Position samples rejected by the engine.",
		}),
		RouteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hud_route_requests_total",
			Help: "Route provider requests by outcome.",
		}, []string{"outcome"}),
		RouteRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hud_route_request_duration_seconds",
			Help:    "Duration of route provider requests.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hud_nats_published_total",
			Help: "Total snapshots published to NATS.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hud_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hud_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hud_publish_duration_seconds",
			Help:    "Duration to marshal and publish a snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		AdvanceThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hud_advance_threshold_meters",
			Help: "Distance to maneuver at which a step is considered complete.",
		}),
	}

	reg.MustRegister(
		c.Events, c.SessionActive, c.StepIndex,
		c.RouteDistance, c.RouteDuration, c.SamplesDropped,
		c.RouteRequests, c.RouteRequestDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.AdvanceThreshold,
	)

	c.AdvanceThreshold.Set(advanceThreshold)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Observe records an engine event. It is a navigation.Observer.
func (c *Collector) Observe(ev navigation.Event) {
	c.Events.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case navigation.EventStarted, navigation.EventRecalculated:
		c.SessionActive.Set(1)
		c.StepIndex.Set(0)
		c.RouteDistance.Set(ev.RouteDistance)
		c.RouteDuration.Set(ev.RouteDuration.Seconds())
	case navigation.EventStepAdvanced:
		c.StepIndex.Set(float64(ev.StepIndex))
	case navigation.EventStopped:
		c.SessionActive.Set(0)
		c.StepIndex.Set(0)
		c.RouteDistance.Set(0)
		c.RouteDuration.Set(0)
	case navigation.EventSampleRejected:
		c.SamplesDropped.Inc()
	}
}

func (c *Collector) NATSPublishedInc() { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// InstrumentProvider wraps p so every route request is counted and timed
func (c *Collector) InstrumentProvider(p route.Provider) route.Provider {
	return route.ProviderFunc(func(ctx context.Context, origin, destination geo.Point, profile route.Profile) (*route.Route, error) {
		start := time.Now()
		r, err := p.Route(ctx, origin, destination, profile)
		c.RouteRequestDuration.Observe(time.Since(start).Seconds())
		c.RouteRequests.WithLabelValues(outcome(err)).Inc()
		return r, err
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, route.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, route.ErrTransport):
		return "transport"
	}
	return "error"
}
