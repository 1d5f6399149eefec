package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/netriage/config"
	"github.com/mohammad-safakhou/netriage/internal/agent/trace"
	"github.com/mohammad-safakhou/netriage/internal/endpoint"
	"github.com/mohammad-safakhou/netriage/provider"
)

func testCatalog(t *testing.T) *endpoint.Catalog {
	t.Helper()
	cat, err := endpoint.NewCatalog([]endpoint.Config{
		{Name: "ip_lookup", Description: "resolve a hostname to its IP", Path: "/ipam/host/{host}", Method: "GET",
			Parameters: []endpoint.Parameter{{Name: "host", Type: endpoint.TypeString, Description: "hostname"}}},
		{Name: "fabric_health", Description: "overall fabric health", Path: "/api/fabric/health", Method: "GET"},
		{Name: "fw_sessions", Description: "active firewall sessions", Path: "/api/sessions", Method: "GET"},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return cat
}

func testOrchestrator(t *testing.T, llm *fakeLLM, mutate func(*config.Config)) *Orchestrator {
	t.Helper()
	ref := config.ModelRef{Provider: "fake", Model: "m"}
	cfg := &config.Config{
		LLM: config.LLMConfig{Routing: config.LLMRoutingConfig{Orchestrator: ref, Workers: ref, Triage: ref}},
		Orchestrator: config.OrchestratorConfig{
			RequiredFields:      []string{"source_ip", "destination_ip"},
			EnrichmentWorker:    "ipam",
			ValidationThreshold: 2,
			MaxIterations:       10,
			WorkerTimeout:       5 * time.Second,
			MaxWorkerSteps:      3,
		},
		Workers: []config.WorkerConfig{
			{Name: "ipam", Description: "IP address management lookups", Tools: []string{"ip_lookup"}},
			{Name: "fabric", Description: "data center fabric health", Tools: []string{"fabric_health"}},
			{Name: "firewall", Description: "perimeter firewall policy and sessions", Tools: []string{"fw_sessions"}},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	reg := provider.NewStaticRegistry(map[string]provider.Provider{"fake": llm})
	o, err := NewOrchestrator(cfg, reg, testCatalog(t), nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

// script answers prompts by role, mimicking the different reasoning steps.
func script(routing, ipam, worker, triage string) func(system, user string) (string, error) {
	return func(system, user string) (string, error) {
		switch {
		case strings.HasPrefix(system, "You route network incidents"):
			return routing, nil
		case strings.HasPrefix(system, "You are the ipam specialist"):
			return ipam, nil
		case strings.HasPrefix(system, "You are a senior network incident triage analyst"):
			return triage, nil
		case strings.HasPrefix(system, "You are a network operations assistant"):
			return "direct answer", nil
		default:
			return worker, nil
		}
	}
}

func TestDirectAnswerPath(t *testing.T) {
	llm := &fakeLLM{fn: script(`{"next_steps": [], "reasoning": "no device data needed"}`, "", "", "")}
	o := testOrchestrator(t, llm, nil)

	state, err := o.ProcessIncident(context.Background(), IncidentRequest{Message: "what is a VLAN?"}, nil)
	if err != nil {
		t.Fatalf("ProcessIncident: %v", err)
	}
	if state.Phase != PhaseDone {
		t.Fatalf("expected DONE, got %s", state.Phase)
	}
	if state.DirectAnswer != "direct answer" {
		t.Fatalf("unexpected direct answer: %q", state.DirectAnswer)
	}
	if len(state.WorkerResults) != 0 {
		t.Fatalf("no workers should run for a direct answer, got %v", workerNames(state.WorkerResults))
	}
}

func TestConnectivityIncidentEndToEnd(t *testing.T) {
	llm := &fakeLLM{fn: script(
		`{"next_steps": ["fabric", "firewall"], "reasoning": "connectivity issue"}`,
		`{"done": true, "summary": "resolved endpoints", "status": "SUCCESS",
			"fields": {"source_ip": "10.0.0.5", "destination_ip": "10.0.1.9"}}`,
		`{"done": true, "summary": "no faults observed", "status": "SUCCESS"}`,
		`{"root_cause": "no fault found", "details": ["fabric and firewall are clean"], "action": "check host configuration", "confidence": 7}`,
	)}
	o := testOrchestrator(t, llm, nil)
	rec := trace.NewRecorder(256)

	state, err := o.ProcessIncident(context.Background(), IncidentRequest{Message: "Check connectivity between 10.0.0.5 and 10.0.1.9"}, rec)
	if err != nil {
		t.Fatalf("ProcessIncident: %v", err)
	}
	rec.Close()

	if state.Phase != PhaseDone {
		t.Fatalf("expected DONE, got %s", state.Phase)
	}
	if state.IncidentData["source_ip"] != "10.0.0.5" || state.IncidentData["destination_ip"] != "10.0.1.9" {
		t.Fatalf("enrichment did not land in incident data: %v", state.IncidentData)
	}
	for _, name := range []string{"ipam", "fabric", "firewall"} {
		if _, ok := state.WorkerResults[name]; !ok {
			t.Fatalf("missing result for %s", name)
		}
	}
	if state.Report == nil || state.Report.RootCause != "no fault found" {
		t.Fatalf("unexpected report: %+v", state.Report)
	}
	// Visit 1 dispatches enrichment, visit 2 fans out and synthesizes.
	if state.Decision.AttemptCount != 2 {
		t.Fatalf("expected 2 orchestrator visits, got %d", state.Decision.AttemptCount)
	}

	var sawRouting, sawReport bool
	for ev := range rec.Events() {
		switch ev.Kind {
		case trace.KindRouting:
			sawRouting = true
		case trace.KindReport:
			sawReport = true
		}
	}
	if !sawRouting || !sawReport {
		t.Fatalf("expected routing and report events (routing=%v report=%v)", sawRouting, sawReport)
	}
}

func TestEscalatesWhenEnrichmentCannotResolve(t *testing.T) {
	llm := &fakeLLM{fn: script(
		`{"next_steps": ["fabric"], "reasoning": "needs fabric data"}`,
		`{"done": true, "summary": "could not resolve any endpoints", "status": "PARTIAL"}`,
		"", "",
	)}
	o := testOrchestrator(t, llm, nil)

	state, err := o.ProcessIncident(context.Background(), IncidentRequest{Message: "connectivity broken somewhere"}, nil)
	if err != nil {
		t.Fatalf("ProcessIncident: %v", err)
	}
	if state.Phase != PhaseEscalated {
		t.Fatalf("expected ESCALATED, got %s", state.Phase)
	}
	// Two enrichment attempts are allowed; the third validating visit gives up.
	if state.Decision.AttemptCount != 3 {
		t.Fatalf("expected escalation on the third visit, got %d", state.Decision.AttemptCount)
	}
	if state.Report != nil {
		t.Fatalf("an escalated run must not carry a triage report")
	}
}

func TestIterationCeilingForcesEscalation(t *testing.T) {
	llm := &fakeLLM{fn: script(
		`{"next_steps": ["fabric"], "reasoning": "needs fabric data"}`,
		`{"done": true, "summary": "nothing resolved", "status": "PARTIAL"}`,
		"", "",
	)}
	o := testOrchestrator(t, llm, func(cfg *config.Config) {
		cfg.Orchestrator.MaxIterations = 2
		cfg.Orchestrator.ValidationThreshold = 5
	})

	state, err := o.ProcessIncident(context.Background(), IncidentRequest{Message: "connectivity broken"}, nil)
	if err != nil {
		t.Fatalf("ProcessIncident: %v", err)
	}
	if state.Phase != PhaseEscalated {
		t.Fatalf("expected ESCALATED, got %s", state.Phase)
	}
	// The ceiling blocks the entry after the limit, never an allowed one.
	if state.Decision.AttemptCount != 2 {
		t.Fatalf("expected the last completed visit to be number 2, got %d", state.Decision.AttemptCount)
	}
}

func TestOrchestratorRequestedEscalation(t *testing.T) {
	llm := &fakeLLM{fn: script(`{"next_steps": ["escalate"], "reasoning": "production outage beyond automation"}`, "", "", "")}
	o := testOrchestrator(t, llm, nil)

	state, err := o.ProcessIncident(context.Background(), IncidentRequest{Message: "everything is down"}, nil)
	if err != nil {
		t.Fatalf("ProcessIncident: %v", err)
	}
	if state.Phase != PhaseEscalated {
		t.Fatalf("expected ESCALATED, got %s", state.Phase)
	}
}

func TestClassificationFailureFallsBackToFullDispatch(t *testing.T) {
	llm := &fakeLLM{fn: func(system, user string) (string, error) {
		switch {
		case strings.HasPrefix(system, "You route network incidents"):
			return "", errors.New("model unavailable")
		case strings.HasPrefix(system, "You are the ipam specialist"):
			return `{"done": true, "summary": "resolved", "status": "SUCCESS",
				"fields": {"source_ip": "10.0.0.5", "destination_ip": "10.0.1.9"}}`, nil
		case strings.HasPrefix(system, "You are a senior network incident triage analyst"):
			return `{"root_cause": "unknown", "details": ["full scan clean"], "action": "monitor", "confidence": 4}`, nil
		default:
			return `{"done": true, "summary": "clean", "status": "SUCCESS"}`, nil
		}
	}}
	o := testOrchestrator(t, llm, nil)

	state, err := o.ProcessIncident(context.Background(), IncidentRequest{Message: "odd behaviour between 10.0.0.5 and 10.0.1.9"}, nil)
	if err != nil {
		t.Fatalf("ProcessIncident: %v", err)
	}
	if state.Phase != PhaseDone {
		t.Fatalf("expected DONE, got %s", state.Phase)
	}
	for _, name := range []string{"ipam", "fabric", "firewall"} {
		if _, ok := state.WorkerResults[name]; !ok {
			t.Fatalf("full dispatch should cover %s", name)
		}
	}
}

func TestFailedWorkerIsFlaggedInFinalReport(t *testing.T) {
	llm := &fakeLLM{fn: func(system, user string) (string, error) {
		switch {
		case strings.HasPrefix(system, "You route network incidents"):
			return `{"next_steps": ["fabric"], "reasoning": "fabric issue"}`, nil
		case strings.HasPrefix(system, "You are the fabric specialist"):
			return "", errors.New("model refused")
		case strings.HasPrefix(system, "You are a senior network incident triage analyst"):
			return `{"root_cause": "inconclusive", "details": ["no usable fabric data"], "action": "retry later", "confidence": 2}`, nil
		default:
			return `{"done": true, "summary": "ok", "status": "SUCCESS"}`, nil
		}
	}}
	o := testOrchestrator(t, llm, func(cfg *config.Config) {
		cfg.Orchestrator.RequiredFields = nil
	})

	state, err := o.ProcessIncident(context.Background(), IncidentRequest{Message: "fabric acting up"}, nil)
	if err != nil {
		t.Fatalf("ProcessIncident: %v", err)
	}
	if state.Phase != PhaseDone {
		t.Fatalf("expected DONE, got %s", state.Phase)
	}
	if state.Report == nil || len(state.Report.FailedWorkers) != 1 || state.Report.FailedWorkers[0] != "fabric" {
		t.Fatalf("report must flag the failed worker: %+v", state.Report)
	}
}

func TestUnknownProviderOverrideFailsSetup(t *testing.T) {
	llm := &fakeLLM{fn: script(`{"next_steps": []}`, "", "", "")}
	o := testOrchestrator(t, llm, nil)

	if _, err := o.ProcessIncident(context.Background(), IncidentRequest{Message: "hi", Provider: "gemini"}, nil); err == nil {
		t.Fatalf("expected unknown provider override to fail")
	}
}
