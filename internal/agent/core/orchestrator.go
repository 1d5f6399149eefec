package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/netriage/config"
	"github.com/mohammad-safakhou/netriage/internal/agent/telemetry"
	"github.com/mohammad-safakhou/netriage/internal/agent/trace"
	"github.com/mohammad-safakhou/netriage/internal/endpoint"
	"github.com/mohammad-safakhou/netriage/provider"
)

// Orchestrator owns the incident lifecycle: validate the incident data, decide
// which specialists to dispatch, fan out, and synthesize. It is built once at
// startup; per-run state (workers, runners, recorder) is created inside
// ProcessIncident so nothing leaks between incidents.
type Orchestrator struct {
	cfg       *config.Config
	providers *provider.Registry
	catalog   *endpoint.Catalog
	telemetry *telemetry.Telemetry
	auditor   Auditor
	logger    *log.Logger
}

// IncidentRequest is one triage request. Provider and Model optionally
// override the configured routing for this run only.
type IncidentRequest struct {
	Message  string `json:"message"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// routingDecision is the structured classification output.
type routingDecision struct {
	NextSteps []string `json:"next_steps"`
	Reasoning string   `json:"reasoning"`
}

// NewOrchestrator validates the routing config against the registry so broken
// wiring fails at startup, not on the first incident.
func NewOrchestrator(cfg *config.Config, providers *provider.Registry, catalog *endpoint.Catalog, tel *telemetry.Telemetry) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:       cfg,
		providers: providers,
		catalog:   catalog,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
	}
	for role, ref := range map[string]config.ModelRef{
		"orchestrator": cfg.LLM.Routing.Orchestrator,
		"workers":      cfg.LLM.Routing.Workers,
		"triage":       cfg.LLM.Routing.Triage,
	} {
		if _, _, err := o.resolve(ref, IncidentRequest{}); err != nil {
			return nil, fmt.Errorf("llm routing for %s: %w", role, err)
		}
	}
	return o, nil
}

// SetAuditor attaches the optional raw-payload sink.
func (o *Orchestrator) SetAuditor(a Auditor) { o.auditor = a }

// ProcessIncident runs one incident to a terminal state. The returned state is
// always usable; an error means the run could not even be set up.
func (o *Orchestrator) ProcessIncident(ctx context.Context, req IncidentRequest, rec *trace.Recorder) (*IncidentState, error) {
	start := time.Now()

	orchLLM, orchModel, err := o.resolve(o.cfg.LLM.Routing.Orchestrator, req)
	if err != nil {
		return nil, err
	}
	workerLLM, workerModel, err := o.resolve(o.cfg.LLM.Routing.Workers, req)
	if err != nil {
		return nil, err
	}
	triageLLM, triageModel, err := o.resolve(o.cfg.LLM.Routing.Triage, req)
	if err != nil {
		return nil, err
	}

	workers, err := o.buildWorkers(workerLLM, workerModel, rec)
	if err != nil {
		return nil, err
	}
	engine := NewEngine(workers, o.cfg.Orchestrator.WorkerTimeout, o.logger, o.telemetry, rec)
	triage := NewTriage(triageLLM, triageModel, o.telemetry)

	state := &IncidentState{
		ID:            uuid.NewString(),
		Phase:         PhaseValidating,
		Messages:      []Message{{Role: "user", Content: req.Message}},
		IncidentData:  make(map[string]string),
		WorkerResults: make(map[string]WorkerResult),
	}
	o.logger.Printf("incident %s started", state.ID)

	validationFailures := 0
	attempts := 0
	for {
		// Hard ceiling on orchestrator entries, independent of why the run
		// keeps looping.
		if attempts >= o.cfg.Orchestrator.MaxIterations {
			o.escalate(state, rec, fmt.Sprintf("iteration ceiling of %d reached", o.cfg.Orchestrator.MaxIterations))
			break
		}
		attempts++
		state.Phase = PhaseValidating
		rec.NodeEnter("orchestrator", fmt.Sprintf("validating incident data (attempt %d)", attempts))

		routing, err := o.classify(ctx, orchLLM, orchModel, state)
		if err != nil {
			// Classification failure degrades to a full scan rather than
			// losing the incident.
			o.logger.Printf("classification failed, falling back to full dispatch: %v", err)
			routing = routingDecision{
				NextSteps: o.allWorkerNames(),
				Reasoning: "classification unavailable; dispatching every specialist",
			}
		}
		routing.NextSteps = o.sanitizeSteps(routing.NextSteps)

		missing := o.missingFields(state)
		decision := &OrchestratorDecision{
			MissingFields: missing,
			NextSteps:     routing.NextSteps,
			Reasoning:     routing.Reasoning,
			AttemptCount:  attempts,
		}
		state.Decision = decision

		if contains(routing.NextSteps, StepEscalate) {
			o.escalate(state, rec, "orchestrator requested human escalation")
			break
		}
		if len(routing.NextSteps) == 0 {
			rec.NodeExit("orchestrator", "no specialists needed, answering directly")
			answer, err := o.directAnswer(ctx, orchLLM, orchModel, state)
			if err != nil {
				o.escalate(state, rec, "could not produce a direct answer")
				break
			}
			state.DirectAnswer = answer
			state.Messages = append(state.Messages, Message{Role: "assistant", Content: answer})
			state.Phase = PhaseDone
			break
		}

		// Specialists need the required identifiers. Resolve them through the
		// enrichment worker before fanning out, bounded by the retry threshold.
		if len(missing) > 0 {
			validationFailures++
			if validationFailures > o.cfg.Orchestrator.ValidationThreshold {
				o.escalate(state, rec, fmt.Sprintf("required fields %v still missing after %d enrichment attempts", missing, validationFailures-1))
				break
			}
			decision.NextSteps = []string{o.cfg.Orchestrator.EnrichmentWorker}
			decision.Reasoning = fmt.Sprintf("missing %s; dispatching %s for enrichment", strings.Join(missing, ", "), o.cfg.Orchestrator.EnrichmentWorker)
			rec.NodeExit("orchestrator", decision.Reasoning)

			results := o.dispatch(ctx, engine, state, decision.NextSteps)
			o.absorbEnrichment(state, results)
			continue
		}

		rec.NodeExit("orchestrator", fmt.Sprintf("routing to %v", routing.NextSteps))
		o.dispatch(ctx, engine, state, routing.NextSteps)

		state.Phase = PhaseSynthesizing
		rec.NodeEnter("triage", "synthesizing findings")
		report := triage.Synthesize(ctx, state)
		state.Report = &report
		state.Messages = append(state.Messages, Message{Role: "assistant", Content: report.RootCause})
		rec.NodeExit("triage", "report ready")
		rec.Report(report)
		state.Phase = PhaseDone
		break
	}

	outcome := "completed"
	if state.Phase == PhaseEscalated {
		outcome = "escalated"
	}
	o.telemetry.RecordIncident(telemetry.IncidentEvent{
		ID:       state.ID,
		Outcome:  outcome,
		Duration: time.Since(start),
		Workers:  workerNames(state.WorkerResults),
	})
	o.logger.Printf("incident %s finished: phase=%s attempts=%d", state.ID, state.Phase, attempts)
	return state, nil
}

// dispatch fans out, merges results into the run state and feeds the auditor.
func (o *Orchestrator) dispatch(ctx context.Context, engine *Engine, state *IncidentState, steps []string) map[string]WorkerResult {
	state.Phase = PhaseDispatching
	results := engine.Dispatch(ctx, steps, state)
	state.Phase = PhaseAwaitingResults
	for name, res := range results {
		state.WorkerResults[name] = res
		if o.auditor != nil {
			if err := o.auditor.RecordResult(ctx, state.ID, res); err != nil {
				o.logger.Printf("audit write failed for %s: %v", name, err)
			}
		}
	}
	return results
}

// absorbEnrichment merges resolved identifiers from an enrichment run into the
// incident data. Existing values win: only the orchestrator writes here, and
// it never overwrites what it already trusts.
func (o *Orchestrator) absorbEnrichment(state *IncidentState, results map[string]WorkerResult) {
	for _, res := range results {
		fields, ok := res.RawData["fields"].(map[string]string)
		if !ok {
			continue
		}
		for k, v := range fields {
			if state.IncidentData[k] == "" && v != "" {
				state.IncidentData[k] = v
			}
		}
	}
}

func (o *Orchestrator) missingFields(state *IncidentState) []string {
	var missing []string
	for _, f := range o.cfg.Orchestrator.RequiredFields {
		if strings.TrimSpace(state.IncidentData[f]) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

func (o *Orchestrator) classify(ctx context.Context, llm provider.Provider, model string, state *IncidentState) (routingDecision, error) {
	var b strings.Builder
	b.WriteString("You route network incidents to specialists. Available specialists:\n")
	for _, w := range o.cfg.Workers {
		fmt.Fprintf(&b, "- %s: %s\n", w.Name, w.Description)
	}
	b.WriteString("\nRespond with a single JSON object:\n")
	b.WriteString(`{"next_steps": ["<specialist>", ...], "reasoning": "..."}` + "\n")
	b.WriteString("Pick only the specialists relevant to the incident. ")
	b.WriteString(`Use an empty list when the question needs no device data, and ["escalate"] when a human must take over.`)

	user := fmt.Sprintf("Incident: %s\nIncident data: %s", state.UserMessage(), formatFields(state.IncidentData))

	o.telemetry.RecordLLMRequest(llm.Name())
	var out routingDecision
	if err := llm.GenerateStructured(ctx, b.String(), user, model, &out); err != nil {
		return routingDecision{}, err
	}
	return out, nil
}

func (o *Orchestrator) directAnswer(ctx context.Context, llm provider.Provider, model string, state *IncidentState) (string, error) {
	o.telemetry.RecordLLMRequest(llm.Name())
	return llm.Generate(ctx,
		"You are a network operations assistant. Answer the question directly and concisely; no device data is needed.",
		state.UserMessage(), model)
}

// sanitizeSteps drops hallucinated worker names and duplicates, preserving the
// escalation sentinel.
func (o *Orchestrator) sanitizeSteps(steps []string) []string {
	known := make(map[string]bool, len(o.cfg.Workers))
	for _, w := range o.cfg.Workers {
		known[w.Name] = true
	}
	seen := make(map[string]bool, len(steps))
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		if !known[s] && s != StepEscalate {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func (o *Orchestrator) allWorkerNames() []string {
	out := make([]string, 0, len(o.cfg.Workers))
	for _, w := range o.cfg.Workers {
		out = append(out, w.Name)
	}
	return out
}

func (o *Orchestrator) escalate(state *IncidentState, rec *trace.Recorder, reason string) {
	state.Phase = PhaseEscalated
	o.logger.Printf("incident %s escalated: %s", state.ID, reason)
	rec.NodeExit("orchestrator", "escalating to a human operator: "+reason)
	state.Messages = append(state.Messages, Message{
		Role:    "assistant",
		Content: "This incident has been escalated to a human operator: " + reason,
	})
}

// buildWorkers constructs the per-run specialist set. Each worker with a
// device gets its own runner, so auth tokens live and die with the run.
func (o *Orchestrator) buildWorkers(llm provider.Provider, model string, rec *trace.Recorder) ([]Worker, error) {
	workers := make([]Worker, 0, len(o.cfg.Workers))
	for _, wc := range o.cfg.Workers {
		var runner *endpoint.Runner
		if wc.Device != "" {
			runner = endpoint.NewRunner(o.cfg.Devices[wc.Device])
		}
		tools, err := o.catalog.Build(wc.Tools, runner)
		if err != nil {
			return nil, fmt.Errorf("building tools for worker %s: %w", wc.Name, err)
		}
		enrich := wc.Name == o.cfg.Orchestrator.EnrichmentWorker
		workers = append(workers, NewToolWorker(wc, tools, llm, model, o.cfg.Orchestrator.MaxWorkerSteps, enrich, o.telemetry, rec))
	}
	return workers, nil
}

func (o *Orchestrator) resolve(ref config.ModelRef, req IncidentRequest) (provider.Provider, string, error) {
	name, model := ref.Provider, ref.Model
	if req.Provider != "" {
		name = req.Provider
	}
	if req.Model != "" {
		model = req.Model
	}
	if name == "" {
		name = "openai"
	}
	p, err := o.providers.Get(name)
	if err != nil {
		return nil, "", err
	}
	if model == "" {
		model = "gpt-4o"
	}
	return p, model, nil
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func workerNames(results map[string]WorkerResult) []string {
	out := make([]string, 0, len(results))
	for name := range results {
		out = append(out, name)
	}
	return out
}
