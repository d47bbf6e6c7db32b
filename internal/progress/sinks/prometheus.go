package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/careers-crawler/internal/progress"
)

// PrometheusSink exports run and step progress via Prometheus.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careers_progress_runs_started_total",
			Help: "Runs started, partitioned by mode.",
		}, []string{"mode"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careers_progress_runs_completed_total",
			Help: "Runs completed, partitioned by mode and result.",
		}, []string{"mode", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "careers_progress_runs_running",
			Help: "Runs currently in flight.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "careers_progress_run_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"mode", "result"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careers_progress_steps_total",
			Help: "Pipeline steps executed, partitioned by step and outcome.",
		}, []string{"step", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "careers_progress_step_seconds",
			Help:    "Pipeline step duration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"step"}),
		running: make(map[string]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.steps,
		s.stepDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.WithLabelValues(evt.Mode).Inc()
			if s.track(evt.RunID, true) {
				s.runsRunning.Inc()
			}
		case progress.StageRunDone, progress.StageRunError:
			result := "success"
			if evt.Stage == progress.StageRunError {
				result = "error"
			}
			s.runsCompleted.WithLabelValues(evt.Mode, result).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(evt.Mode, result).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.RunID, false) {
				s.runsRunning.Dec()
			}
		case progress.StageStep:
			outcome := evt.Outcome
			if outcome == "" {
				outcome = progress.OutcomeOK
			}
			s.steps.WithLabelValues(evt.Step, outcome).Inc()
			if evt.Dur > 0 {
				s.stepDuration.WithLabelValues(evt.Step).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// track records a run as started or finished and reports whether the
// running set changed. Events without a run ID are not tracked.
func (s *PrometheusSink) track(runID string, start bool) bool {
	if runID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[runID]
	if start {
		if ok {
			return false
		}
		s.running[runID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, runID)
	return true
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
