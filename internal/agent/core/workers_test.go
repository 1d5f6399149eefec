package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/netriage/config"
	"github.com/mohammad-safakhou/netriage/internal/endpoint"
)

func fabricTools(t *testing.T, runner *endpoint.Runner) []*endpoint.Tool {
	t.Helper()
	tool, err := endpoint.BuildTool(endpoint.Config{
		Name:        "fabric_health",
		Description: "overall fabric health score",
		Path:        "/api/fabric/health",
		Method:      "GET",
	}, runner)
	if err != nil {
		t.Fatalf("BuildTool: %v", err)
	}
	return []*endpoint.Tool{tool}
}

func fabricWorker(t *testing.T, llm *fakeLLM, runner *endpoint.Runner, enrich bool) *ToolWorker {
	t.Helper()
	cfg := config.WorkerConfig{Name: "fabric", Description: "fabric specialist"}
	return NewToolWorker(cfg, fabricTools(t, runner), llm, "m", 3, enrich, nil, nil)
}

func incident(msg string) *IncidentState {
	return &IncidentState{
		ID:            "test",
		Messages:      []Message{{Role: "user", Content: msg}},
		IncidentData:  map[string]string{},
		WorkerResults: map[string]WorkerResult{},
	}
}

func TestWorkerToolLoopThenConclude(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/fabric/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"score": 95}`))
	}))
	defer srv.Close()

	llm := &fakeLLM{fn: func(system, user string) (string, error) {
		if strings.Contains(user, "fabric_health returned") {
			return `{"done": true, "summary": "fabric health is 95, no faults", "status": "SUCCESS"}`, nil
		}
		return `{"tool": "fabric_health", "args": {}}`, nil
	}}
	w := fabricWorker(t, llm, endpoint.NewRunner(config.Device{BaseURL: srv.URL}), false)

	res := w.Run(context.Background(), incident("is the fabric healthy?"))
	if res.Status != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s: %s", res.Status, res.Summary)
	}
	if res.Summary != "fabric health is 95, no faults" {
		t.Fatalf("unexpected summary: %q", res.Summary)
	}
	calls, ok := res.RawData["calls"].(*[]map[string]any)
	if !ok || len(*calls) != 1 {
		t.Fatalf("expected one recorded call in raw data, got %#v", res.RawData["calls"])
	}
}

func TestWorkerSoftFailureBecomesFailureResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service degraded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	llm := &fakeLLM{fn: func(system, user string) (string, error) {
		return `{"tool": "fabric_health", "args": {}}`, nil
	}}
	w := fabricWorker(t, llm, endpoint.NewRunner(config.Device{BaseURL: srv.URL}), false)

	res := w.Run(context.Background(), incident("is the fabric healthy?"))
	if res.Status != StatusFailure {
		t.Fatalf("expected FAILURE on HTTP 503, got %s", res.Status)
	}
	if !strings.Contains(res.Summary, "503") {
		t.Fatalf("summary should carry the status code: %q", res.Summary)
	}
}

func TestWorkerTransportFailureBecomesFailureResult(t *testing.T) {
	llm := &fakeLLM{fn: func(system, user string) (string, error) {
		return `{"tool": "fabric_health", "args": {}}`, nil
	}}
	// Nothing listens here.
	w := fabricWorker(t, llm, endpoint.NewRunner(config.Device{BaseURL: "http://127.0.0.1:1"}), false)

	res := w.Run(context.Background(), incident("is the fabric healthy?"))
	if res.Status != StatusFailure {
		t.Fatalf("expected FAILURE on transport error, got %s", res.Status)
	}
	if !strings.Contains(res.Summary, "unreachable") {
		t.Fatalf("unexpected summary: %q", res.Summary)
	}
}

func TestWorkerReasoningErrorBecomesFailureResult(t *testing.T) {
	llm := &fakeLLM{fn: func(system, user string) (string, error) {
		return "", errors.New("model overloaded")
	}}
	w := fabricWorker(t, llm, nil, false)

	res := w.Run(context.Background(), incident("is the fabric healthy?"))
	if res.Status != StatusFailure {
		t.Fatalf("expected FAILURE on reasoning error, got %s", res.Status)
	}
}

func TestWorkerStepBudgetExhaustionIsPartial(t *testing.T) {
	llm := &fakeLLM{fn: func(system, user string) (string, error) {
		return `{"tool": "fabric_health", "args": {}}`, nil
	}}
	w := fabricWorker(t, llm, nil, false) // simulation tools always succeed

	res := w.Run(context.Background(), incident("is the fabric healthy?"))
	if res.Status != StatusPartial {
		t.Fatalf("expected PARTIAL when the step budget runs out, got %s", res.Status)
	}
}

func TestEnrichmentWorkerSurfacesResolvedFields(t *testing.T) {
	llm := &fakeLLM{fn: func(system, user string) (string, error) {
		return `{"done": true, "summary": "resolved both endpoints", "status": "SUCCESS",
			"fields": {"source_ip": "10.0.0.5", "destination_ip": "10.0.1.9"}}`, nil
	}}
	w := fabricWorker(t, llm, nil, true)

	res := w.Run(context.Background(), incident("check connectivity between web-01 and db-02"))
	fields, ok := res.RawData["fields"].(map[string]string)
	if !ok {
		t.Fatalf("expected resolved fields in raw data, got %#v", res.RawData)
	}
	if fields["source_ip"] != "10.0.0.5" || fields["destination_ip"] != "10.0.1.9" {
		t.Fatalf("unexpected fields: %#v", fields)
	}
}

func TestWorkerIgnoresUnknownToolAndRecovers(t *testing.T) {
	step := 0
	llm := &fakeLLM{fn: func(system, user string) (string, error) {
		step++
		if step == 1 {
			return `{"tool": "no_such_tool", "args": {}}`, nil
		}
		return `{"done": true, "summary": "nothing to check", "status": "PARTIAL"}`, nil
	}}
	w := fabricWorker(t, llm, nil, false)

	res := w.Run(context.Background(), incident("anything odd?"))
	if res.Status != StatusPartial {
		t.Fatalf("expected the worker to recover and conclude PARTIAL, got %s", res.Status)
	}
}
