package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammad-safakhou/netriage/config"
)

// Telemetry tracks incident, worker and remote-call activity. Counters are
// exported through prometheus; a mutex-guarded snapshot backs the periodic
// log reports.
type Telemetry struct {
	config  config.TelemetryConfig
	logger  *log.Logger
	metrics *Metrics
	mu      sync.RWMutex

	incidentsTotal  *prometheus.CounterVec
	workerRuns      *prometheus.CounterVec
	workerDuration  *prometheus.HistogramVec
	remoteCalls     *prometheus.CounterVec
	llmRequests     *prometheus.CounterVec
	incidentElapsed prometheus.Histogram
}

// Metrics holds in-process counters for log reporting.
type Metrics struct {
	TotalIncidents      int64
	CompletedIncidents  int64
	EscalatedIncidents  int64
	FailedIncidents     int64
	AverageResolveTime  time.Duration
	WorkerExecutions    map[string]int64
	WorkerFailures      map[string]int64
	WorkerAverageTimes  map[string]time.Duration
	RemoteCallsByBucket map[string]int64
	LLMRequests         map[string]int64
}

// IncidentEvent records the outcome of one full run.
type IncidentEvent struct {
	ID       string
	Outcome  string // completed, escalated, failed
	Duration time.Duration
	Workers  []string
}

// WorkerEvent records one worker execution within a run.
type WorkerEvent struct {
	Worker   string
	Status   string
	Duration time.Duration
}

// NewTelemetry creates a telemetry instance and registers its collectors with
// the given registerer (nil means the default registry).
func NewTelemetry(cfg config.TelemetryConfig, reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			WorkerExecutions:    make(map[string]int64),
			WorkerFailures:      make(map[string]int64),
			WorkerAverageTimes:  make(map[string]time.Duration),
			RemoteCallsByBucket: make(map[string]int64),
			LLMRequests:         make(map[string]int64),
		},
		incidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netriage_incidents_total",
			Help: "Incidents processed, by outcome.",
		}, []string{"outcome"}),
		workerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netriage_worker_executions_total",
			Help: "Worker executions, by worker and result status.",
		}, []string{"worker", "status"}),
		workerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netriage_worker_duration_seconds",
			Help:    "Wall-clock duration of worker executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netriage_remote_calls_total",
			Help: "Remote device calls, by outcome bucket (success, soft_failure, transport_failure).",
		}, []string{"bucket"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netriage_llm_requests_total",
			Help: "LLM requests, by provider.",
		}, []string{"provider"}),
		incidentElapsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netriage_incident_duration_seconds",
			Help:    "End-to-end incident resolution time.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
	}
	if cfg.Enabled {
		reg.MustRegister(t.incidentsTotal, t.workerRuns, t.workerDuration, t.remoteCalls, t.llmRequests, t.incidentElapsed)
		if cfg.PeriodicLogs {
			go t.startMetricsReporting()
		}
	}
	return t
}

// RecordIncident records a completed run. All Record methods tolerate a nil
// receiver so unwired callers need no guards.
func (t *Telemetry) RecordIncident(ev IncidentEvent) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.incidentsTotal.WithLabelValues(ev.Outcome).Inc()
	t.incidentElapsed.Observe(ev.Duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.TotalIncidents++
	switch ev.Outcome {
	case "completed":
		t.metrics.CompletedIncidents++
	case "escalated":
		t.metrics.EscalatedIncidents++
	default:
		t.metrics.FailedIncidents++
	}
	if t.metrics.TotalIncidents == 1 {
		t.metrics.AverageResolveTime = ev.Duration
	} else {
		total := t.metrics.AverageResolveTime * time.Duration(t.metrics.TotalIncidents-1)
		t.metrics.AverageResolveTime = (total + ev.Duration) / time.Duration(t.metrics.TotalIncidents)
	}
	t.logger.Printf("Incident: ID=%s, Outcome=%s, Duration=%v, Workers=%v", ev.ID, ev.Outcome, ev.Duration, ev.Workers)
}

// RecordWorker records one worker execution.
func (t *Telemetry) RecordWorker(ev WorkerEvent) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.workerRuns.WithLabelValues(ev.Worker, ev.Status).Inc()
	t.workerDuration.WithLabelValues(ev.Worker).Observe(ev.Duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.WorkerExecutions[ev.Worker]++
	if ev.Status != "SUCCESS" {
		t.metrics.WorkerFailures[ev.Worker]++
	}
	n := t.metrics.WorkerExecutions[ev.Worker]
	if n == 1 {
		t.metrics.WorkerAverageTimes[ev.Worker] = ev.Duration
	} else {
		total := t.metrics.WorkerAverageTimes[ev.Worker] * time.Duration(n-1)
		t.metrics.WorkerAverageTimes[ev.Worker] = (total + ev.Duration) / time.Duration(n)
	}
}

// RecordRemoteCall records a runner outcome bucket.
func (t *Telemetry) RecordRemoteCall(bucket string) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.remoteCalls.WithLabelValues(bucket).Inc()
	t.mu.Lock()
	t.metrics.RemoteCallsByBucket[bucket]++
	t.mu.Unlock()
}

// RecordLLMRequest records one reasoning call.
func (t *Telemetry) RecordLLMRequest(provider string) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.llmRequests.WithLabelValues(provider).Inc()
	t.mu.Lock()
	t.metrics.LLMRequests[provider]++
	t.mu.Unlock()
}

// GetMetrics returns a copy of the current snapshot.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := *t.metrics
	out.WorkerExecutions = make(map[string]int64, len(t.metrics.WorkerExecutions))
	out.WorkerFailures = make(map[string]int64, len(t.metrics.WorkerFailures))
	out.WorkerAverageTimes = make(map[string]time.Duration, len(t.metrics.WorkerAverageTimes))
	out.RemoteCallsByBucket = make(map[string]int64, len(t.metrics.RemoteCallsByBucket))
	out.LLMRequests = make(map[string]int64, len(t.metrics.LLMRequests))
	for k, v := range t.metrics.WorkerExecutions {
		out.WorkerExecutions[k] = v
	}
	for k, v := range t.metrics.WorkerFailures {
		out.WorkerFailures[k] = v
	}
	for k, v := range t.metrics.WorkerAverageTimes {
		out.WorkerAverageTimes[k] = v
	}
	for k, v := range t.metrics.RemoteCallsByBucket {
		out.RemoteCallsByBucket[k] = v
	}
	for k, v := range t.metrics.LLMRequests {
		out.LLMRequests[k] = v
	}
	return out
}

func (t *Telemetry) startMetricsReporting() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m := t.GetMetrics()
		t.logger.Printf("Snapshot: Incidents=%d (completed=%d escalated=%d failed=%d), AvgResolve=%v",
			m.TotalIncidents, m.CompletedIncidents, m.EscalatedIncidents, m.FailedIncidents, m.AverageResolveTime)
	}
}
