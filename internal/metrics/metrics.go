// Package metrics holds the Prometheus collectors for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its registry so each server (and test) gets a fresh set.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	TagsAdded       *prometheus.CounterVec
	TagsRemoved     prometheus.Counter
	GraphBuilds     *prometheus.CounterVec
	Recommendations prometheus.Counter
}

func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		TagsAdded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tag_adds_total",
				Help:      "Tag add requests by visibility and whether a new association was stored",
			},
			[]string{"visibility", "result"},
		),
		TagsRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tag_associations_removed_total",
				Help:      "Total number of tag associations removed",
			},
		),
		GraphBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "explorer_graph_builds_total",
				Help:      "Relationship graph builds by data source",
			},
			[]string{"source"},
		),
		Recommendations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tag_recommendations_total",
				Help:      "Total number of recommendation requests served",
			},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.TagsAdded,
		c.TagsRemoved,
		c.GraphBuilds,
		c.Recommendations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (c *Collector) AssociationAdded(personal, inserted bool) {
	visibility := "public"
	if personal {
		visibility = "personal"
	}
	result := "duplicate"
	if inserted {
		result = "inserted"
	}
	c.TagsAdded.WithLabelValues(visibility, result).Inc()
}

func (c *Collector) AssociationsRemoved(count int) {
	c.TagsRemoved.Add(float64(count))
}

func (c *Collector) GraphBuilt(source string) {
	c.GraphBuilds.WithLabelValues(source).Inc()
}

func (c *Collector) RecommendationServed() {
	c.Recommendations.Inc()
}
