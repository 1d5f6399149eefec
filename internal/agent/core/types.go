package core

import (
	"context"
	"sort"
	"strings"
)

// Status classifies one worker execution outcome.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusPartial Status = "PARTIAL"
)

// Phase tracks where a run currently is in its lifecycle.
type Phase string

const (
	PhaseValidating      Phase = "VALIDATING"
	PhaseDispatching     Phase = "DISPATCHING"
	PhaseAwaitingResults Phase = "AWAITING_RESULTS"
	PhaseSynthesizing    Phase = "SYNTHESIZING"
	PhaseDone            Phase = "DONE"
	PhaseEscalated       Phase = "ESCALATED"
)

// StepEscalate is the routing sentinel for "hand this to a human".
const StepEscalate = "escalate"

// summaryWordLimit caps worker summaries so the synthesizer's input stays
// bounded no matter how verbose a worker gets.
const summaryWordLimit = 50

// Message is one conversation turn. The message log is append-only.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OrchestratorDecision is the structured routing output of one orchestrator
// visit.
type OrchestratorDecision struct {
	MissingFields []string `json:"required_fields_missing"`
	NextSteps     []string `json:"next_steps"`
	Reasoning     string   `json:"reasoning"`
	AttemptCount  int      `json:"attempt_count"`
}

// WorkerResult is the single record a worker contributes to a run. RawData is
// kept for audit only: the synthesizer never reads it, only Summary and Status.
type WorkerResult struct {
	WorkerName string         `json:"worker_name"`
	RawData    map[string]any `json:"raw_data,omitempty"`
	Summary    string         `json:"summary"`
	Status     Status         `json:"status"`
}

// TriageReport is the terminal output of a completed run.
type TriageReport struct {
	RootCause     string   `json:"root_cause"`
	Details       []string `json:"details"`
	Action        string   `json:"action"`
	Confidence    int      `json:"confidence"`
	FailedWorkers []string `json:"failed_workers,omitempty"`
}

// IncidentState is the shared run state. Messages only grows, IncidentData is
// written by the orchestrator alone, and WorkerResults is merged in by the
// engine keyed by worker name.
type IncidentState struct {
	ID            string                  `json:"id"`
	Phase         Phase                   `json:"phase"`
	Messages      []Message               `json:"messages"`
	IncidentData  map[string]string       `json:"incident_data"`
	Decision      *OrchestratorDecision   `json:"decision,omitempty"`
	WorkerResults map[string]WorkerResult `json:"worker_results"`
	Report        *TriageReport           `json:"report,omitempty"`
	DirectAnswer  string                  `json:"direct_answer,omitempty"`
}

// UserMessage returns the most recent user turn, the incident description the
// whole run revolves around.
func (s *IncidentState) UserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "user" {
			return s.Messages[i].Content
		}
	}
	return ""
}

// FailedWorkers lists the names of every worker whose result is not a clean
// success, sorted for deterministic reporting.
func (s *IncidentState) FailedWorkers() []string {
	var out []string
	for name, res := range s.WorkerResults {
		if res.Status != StatusSuccess {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Worker is one specialist in the fan-out. Run must never panic out and must
// never return an error: every failure mode is folded into the result record.
type Worker interface {
	Name() string
	Description() string
	Run(ctx context.Context, state *IncidentState) WorkerResult
}

// Auditor receives raw worker payloads for out-of-band persistence. The run
// never depends on it.
type Auditor interface {
	RecordResult(ctx context.Context, incidentID string, res WorkerResult) error
}

// ClampSummary enforces the word cap on worker summaries.
func ClampSummary(s string) string {
	words := strings.Fields(s)
	if len(words) <= summaryWordLimit {
		return strings.TrimSpace(s)
	}
	return strings.Join(words[:summaryWordLimit], " ")
}
