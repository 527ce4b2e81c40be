// Package metrics exports Prometheus metrics for the tracking and measurement
// loops.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the loop metrics. A nil *Collector discards everything.
type Collector struct {
	gatherer prometheus.Gatherer

	RotatorCommands *prometheus.CounterVec
	RotatorErrors   *prometheus.CounterVec
	TrackerStatus   *prometheus.GaugeVec

	ReceiverCycles        *prometheus.CounterVec
	ReceiverCycleDuration *prometheus.HistogramVec
	ReceiverErrors        *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rotator_commands_total",
		Help: "Commands sent to the rotator controller, labeled by telescope and command.",
	}, []string{"telescope", "command"}), "rotator_commands_total")
	if err != nil {
		return nil, err
	}
	rotatorErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rotator_errors_total",
		Help: "Failed tracking cycles, labeled by telescope.",
	}, []string{"telescope"}), "rotator_errors_total")
	if err != nil {
		return nil, err
	}
	status, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracker_status",
		Help: "Derived tracking status: 0 idle, 1 slewing, 2 tracking.",
	}, []string{"telescope"}), "tracker_status")
	if err != nil {
		return nil, err
	}
	cycles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receiver_cycles_total",
		Help: "Completed switched integration cycles, labeled by telescope.",
	}, []string{"telescope"}), "receiver_cycles_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "receiver_cycle_duration_seconds",
		Help:    "Wall-clock duration of a switched integration cycle.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"telescope"}), "receiver_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}
	receiverErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receiver_errors_total",
		Help: "Receiver device failures, labeled by telescope.",
	}, []string{"telescope"}), "receiver_errors_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:              gatherer,
		RotatorCommands:       commands,
		RotatorErrors:         rotatorErrors,
		TrackerStatus:         status,
		ReceiverCycles:        cycles,
		ReceiverCycleDuration: durations,
		ReceiverErrors:        receiverErrors,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) RotatorCommand(telescope, command string) {
	if c == nil {
		return
	}
	c.RotatorCommands.WithLabelValues(telescope, command).Inc()
}

func (c *Collector) RotatorError(telescope string) {
	if c == nil {
		return
	}
	c.RotatorErrors.WithLabelValues(telescope).Inc()
}

func (c *Collector) SetTrackerStatus(telescope string, status int) {
	if c == nil {
		return
	}
	c.TrackerStatus.WithLabelValues(telescope).Set(float64(status))
}

func (c *Collector) ReceiverCycle(telescope string, d time.Duration) {
	if c == nil {
		return
	}
	c.ReceiverCycles.WithLabelValues(telescope).Inc()
	c.ReceiverCycleDuration.WithLabelValues(telescope).Observe(d.Seconds())
}

func (c *Collector) ReceiverError(telescope string) {
	if c == nil {
		return
	}
	c.ReceiverErrors.WithLabelValues(telescope).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
