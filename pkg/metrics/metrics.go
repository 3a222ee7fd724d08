// Package metrics exposes Prometheus collectors for catalog reads and
// operation calls. A nil *Collector is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes used as label values.
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeNotListing = "not_listing"
	OutcomeRejected   = "rejected"
	OutcomeHTTPError  = "http_error"
)

// Collector holds the client collectors.
type Collector struct {
	catalogReads *prometheus.CounterVec
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	downloads    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer. Collectors already registered are reused.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		catalogReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opcatalog_catalog_reads_total",
				Help: "Catalog listing reads by outcome",
			},
			[]string{"catalog", "outcome"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opcatalog_operation_calls_total",
				Help: "Operation invocations by outcome",
			},
			[]string{"catalog", "operation", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opcatalog_operation_call_seconds",
				Help:    "Operation invocation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"catalog", "operation"},
		),
		downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opcatalog_downloads_total",
				Help: "Response downloads by outcome",
			},
			[]string{"outcome"},
		),
	}

	var err error
	if c.catalogReads, err = register(reg, c.catalogReads); err != nil {
		return nil, err
	}
	if c.calls, err = register(reg, c.calls); err != nil {
		return nil, err
	}
	if c.callDuration, err = register(reg, c.callDuration); err != nil {
		return nil, err
	}
	if c.downloads, err = register(reg, c.downloads); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return col, err
	}
	return col, nil
}

// ObserveCatalogRead counts one catalog listing read.
func (c *Collector) ObserveCatalogRead(catalog, outcome string) {
	if c == nil {
		return
	}
	c.catalogReads.WithLabelValues(catalog, outcome).Inc()
}

// ObserveCall counts one invocation and records its latency.
func (c *Collector) ObserveCall(catalog, operation, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(catalog, operation, outcome).Inc()
	c.callDuration.WithLabelValues(catalog, operation).Observe(d.Seconds())
}

// ObserveDownload counts one download attempt.
func (c *Collector) ObserveDownload(outcome string) {
	if c == nil {
		return
	}
	c.downloads.WithLabelValues(outcome).Inc()
}
