package trace

import (
	"sync"
	"time"
)

// Phase is a node transition kind. Finer-grained activity (token production,
// retries) never surfaces here.
type Phase string

const (
	PhaseEnter      Phase = "ENTER"
	PhaseToolInvoke Phase = "TOOL_INVOKE"
	PhaseExit       Phase = "EXIT"
)

// Kind is the external event type of a record.
type Kind string

const (
	KindThought Kind = "thought"
	KindRouting Kind = "routing"
	KindReport  Kind = "triage_report"
)

// Event is one unit of the externally observable progress stream.
type Event struct {
	Kind      Kind      `json:"-"`
	Node      string    `json:"node,omitempty"`
	Phase     Phase     `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Routing carries the dispatched worker identifier for KindRouting.
	Routing string `json:"routing,omitempty"`
	// Payload carries the final report for KindReport; opaque to this package.
	Payload any `json:"-"`
}

// Recorder republishes engine transitions to a single consumer over a bounded
// channel. Publishing blocks when the consumer lags: completeness of the audit
// trail is favoured over producer latency. A nil Recorder drops everything,
// so the engine can run unobserved.
//
// Sends are serialized under a mutex so the consumer sees events in the exact
// chronological order the engine observed them, even when concurrent workers
// publish simultaneously.
type Recorder struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewRecorder creates a recorder with the given channel capacity.
func NewRecorder(buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 64
	}
	return &Recorder{ch: make(chan Event, buffer)}
}

// Events exposes the consumer side of the stream. The channel is closed by
// Close once the run finishes.
func (r *Recorder) Events() <-chan Event {
	if r == nil {
		return nil
	}
	return r.ch
}

// NodeEnter records a node starting work.
func (r *Recorder) NodeEnter(node, message string) {
	r.publish(Event{Kind: KindThought, Node: node, Phase: PhaseEnter, Message: message})
}

// NodeExit records a node finishing work.
func (r *Recorder) NodeExit(node, message string) {
	r.publish(Event{Kind: KindThought, Node: node, Phase: PhaseExit, Message: message})
}

// ToolInvoke records a tool call made by a node.
func (r *Recorder) ToolInvoke(node, message string) {
	r.publish(Event{Kind: KindThought, Node: node, Phase: PhaseToolInvoke, Message: message})
}

// Routing records one fan-out dispatch decision.
func (r *Recorder) Routing(worker string) {
	r.publish(Event{Kind: KindRouting, Routing: worker})
}

// Report records the terminal triage report. Emitted at most once per run.
func (r *Recorder) Report(payload any) {
	r.publish(Event{Kind: KindReport, Payload: payload})
}

func (r *Recorder) publish(ev Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	ev.Timestamp = time.Now().UTC()
	r.ch <- ev
}

// Close ends the stream. Publishing after Close is a silent no-op rather than
// a panic; late worker events after an aborted run are expected.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}
