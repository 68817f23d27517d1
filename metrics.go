package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kettle-autotune/internal/autotune"
)

// Metrics holds all Prometheus metrics for the auto-tuner
type Metrics struct {
	// Process metrics
	Temperature prometheus.Gauge // Last accepted kettle temperature
	Output      prometheus.Gauge // Relay output applied to the heater

	// Tuner metrics
	State            *prometheus.GaugeVec // 1 for the current state, 0 otherwise
	PeakCount        prometheus.Gauge     // Confirmed peaks in this run
	InducedAmplitude prometheus.Gauge     // Amplitude from the last convergence check
	UltimateGain     prometheus.Gauge     // Ku once tuning succeeded
	UltimatePeriod   prometheus.Gauge     // Pu once tuning succeeded
	Gains            *prometheus.GaugeVec // Derived gains by rule and term

	// System metrics
	ErrorsTotal    *prometheus.CounterVec // Error counters
	SampleDuration prometheus.Histogram   // Sample handling time

	startTime time.Time
	state     atomic.Int32 // last state set, for the health endpoint
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// NewMetrics creates all Prometheus metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Temperature: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kettle_autotune_temperature_celsius",
				Help: "Kettle temperature in Celsius",
			},
		),
		Output: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kettle_autotune_output_percent",
				Help: "Relay output applied to the heater in percent",
			},
		),
		State: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kettle_autotune_state",
				Help: "Auto-tuner state (1=current, 0=other)",
			},
			[]string{"state"},
		),
		PeakCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kettle_autotune_peak_count",
				Help: "Confirmed oscillation peaks in the current run",
			},
		),
		InducedAmplitude: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kettle_autotune_induced_amplitude",
				Help: "Induced oscillation amplitude in Celsius",
			},
		),
		UltimateGain: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kettle_autotune_ultimate_gain",
				Help: "Ultimate gain Ku",
			},
		),
		UltimatePeriod: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kettle_autotune_ultimate_period_seconds",
				Help: "Ultimate period Pu in seconds",
			},
		),
		Gains: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kettle_autotune_gain",
				Help: "Derived PID gain by tuning rule and term",
			},
			[]string{"rule", "term"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kettle_autotune_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
		SampleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kettle_autotune_sample_duration_seconds",
				Help:    "Time to read the sensor and update the tuner in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.0, 5.0},
			},
		),
		startTime: time.Now(),
	}

	// Register all metrics
	reg.MustRegister(
		m.Temperature,
		m.Output,
		m.State,
		m.PeakCount,
		m.InducedAmplitude,
		m.UltimateGain,
		m.UltimatePeriod,
		m.Gains,
		m.ErrorsTotal,
		m.SampleDuration,
	)

	m.setState(autotune.StateOff)
	return m
}

// StartMetricsServer serves /metrics and /health until ctx is done
func StartMetricsServer(ctx context.Context, port int, gatherer prometheus.Gatherer, m *Metrics) error {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", m.healthHandler)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics server shutdown error: %v", err)
		}
	}()

	log.Printf("Starting metrics server on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server error: %w", err)
	}
	return nil
}

// healthHandler provides a health check endpoint
func (m *Metrics) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		State:     autotune.State(m.state.Load()).String(),
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode health response: %v", err)
	}
}

// ObserveSample updates the metrics after a tuner sample
func (m *Metrics) ObserveSample(temp float64, snap autotune.Snapshot, duration time.Duration) {
	if m == nil {
		return
	}

	m.Temperature.Set(temp)
	m.Output.Set(snap.Output)
	m.setState(snap.State)
	m.PeakCount.Set(float64(snap.PeakCount))
	m.InducedAmplitude.Set(snap.InducedAmplitude)
	m.UltimateGain.Set(snap.UltimateGain)
	m.UltimatePeriod.Set(snap.UltimatePeriod)
	m.SampleDuration.Observe(duration.Seconds())
}

// RecordGains publishes the gains derived with a rule
func (m *Metrics) RecordGains(rule string, gains autotune.Gains) {
	if m == nil {
		return
	}
	m.Gains.WithLabelValues(rule, "kp").Set(gains.Kp)
	m.Gains.WithLabelValues(rule, "ki").Set(gains.Ki)
	m.Gains.WithLabelValues(rule, "kd").Set(gains.Kd)
}

// RecordError increments the error counter for the specified type
func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// setState marks exactly one state gauge as current
func (m *Metrics) setState(current autotune.State) {
	for _, s := range autotune.States {
		v := 0.0
		if s == current {
			v = 1
		}
		m.State.WithLabelValues(s.String()).Set(v)
	}
	m.state.Store(int32(current))
}
