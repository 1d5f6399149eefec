package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/netriage/internal/agent/telemetry"
	"github.com/mohammad-safakhou/netriage/internal/agent/trace"
)

// Engine fans one dispatch decision out to concurrent workers and merges their
// results back into the run state. A worker that panics, times out or fails is
// isolated into a FAILURE record; the engine itself never fails a run.
type Engine struct {
	workers   map[string]Worker
	timeout   time.Duration
	logger    *log.Logger
	telemetry *telemetry.Telemetry
	rec       *trace.Recorder
}

// NewEngine wires a per-run worker set. The recorder may be nil.
func NewEngine(workers []Worker, timeout time.Duration, logger *log.Logger, tel *telemetry.Telemetry, rec *trace.Recorder) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	byName := make(map[string]Worker, len(workers))
	for _, w := range workers {
		byName[w.Name()] = w
	}
	return &Engine{workers: byName, timeout: timeout, logger: logger, telemetry: tel, rec: rec}
}

// Dispatch runs exactly the named workers concurrently and returns one result
// per name. Unknown names yield FAILURE records instead of aborting the batch.
// The call returns only after every worker has produced a result, so total
// wall time is bounded by the slowest worker, not the sum.
func (e *Engine) Dispatch(ctx context.Context, names []string, state *IncidentState) map[string]WorkerResult {
	results := make(chan WorkerResult, len(names))
	for _, name := range names {
		e.rec.Routing(name)
		w, ok := e.workers[name]
		if !ok {
			results <- WorkerResult{
				WorkerName: name,
				Summary:    fmt.Sprintf("no worker named %q is configured", name),
				Status:     StatusFailure,
			}
			continue
		}
		go func(name string, w Worker) {
			results <- e.runOne(ctx, name, w, state)
		}(name, w)
	}

	merged := make(map[string]WorkerResult, len(names))
	for range names {
		res := <-results
		// Merge is keyed by worker name, so arrival order does not matter.
		merged[res.WorkerName] = res
	}
	return merged
}

// runOne executes a single worker under its own deadline with panic isolation.
func (e *Engine) runOne(ctx context.Context, name string, w Worker, state *IncidentState) WorkerResult {
	start := time.Now()
	wctx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		wctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.rec.NodeEnter(name, "worker dispatched")
	done := make(chan WorkerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Printf("worker %s panicked: %v", name, r)
				done <- WorkerResult{
					WorkerName: name,
					Summary:    fmt.Sprintf("worker crashed: %v", r),
					Status:     StatusFailure,
				}
			}
		}()
		done <- w.Run(wctx, state)
	}()

	var res WorkerResult
	select {
	case res = <-done:
	case <-wctx.Done():
		res = WorkerResult{
			WorkerName: name,
			Summary:    fmt.Sprintf("worker timed out after %s", e.timeout),
			Status:     StatusFailure,
		}
	}
	if res.WorkerName == "" {
		res.WorkerName = name
	}
	res.Summary = ClampSummary(res.Summary)

	elapsed := time.Since(start)
	e.telemetry.RecordWorker(telemetry.WorkerEvent{Worker: name, Status: string(res.Status), Duration: elapsed})
	e.rec.NodeExit(name, fmt.Sprintf("finished with status %s", res.Status))
	e.logger.Printf("worker %s finished: status=%s elapsed=%v", name, res.Status, elapsed)
	return res
}
