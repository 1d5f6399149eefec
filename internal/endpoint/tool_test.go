package endpoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammad-safakhou/netriage/config"
)

func TestBuildToolAndInvoke(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status": "allowed"}`))
	}))
	defer srv.Close()

	cfg := Config{
		Name:        "fw_logs",
		Description: "Firewall traffic logs between two hosts",
		Path:        "/api/logs/{src}/{dst}",
		Method:      "GET",
		Parameters: []Parameter{
			{Name: "src", Type: TypeString, Description: "Source IP"},
			{Name: "dst", Type: TypeString, Description: "Destination IP"},
		},
	}
	tool, err := BuildTool(cfg, NewRunner(config.Device{BaseURL: srv.URL}))
	if err != nil {
		t.Fatalf("BuildTool: %v", err)
	}

	res, err := tool.Invoke(context.Background(), map[string]any{"src": "10.0.0.5", "dst": "10.0.1.9"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected success, got %d", res.StatusCode)
	}
	if gotPath != "/api/logs/10.0.0.5/10.0.1.9" {
		t.Fatalf("unexpected substituted path: %s", gotPath)
	}
}

func TestBuildToolIsSideEffectFree(t *testing.T) {
	// Build must never touch the network: a runner pointing at a dead address
	// is fine until Invoke.
	cfg := validEndpoint()
	if _, err := BuildTool(cfg, NewRunner(config.Device{BaseURL: "http://127.0.0.1:1"})); err != nil {
		t.Fatalf("BuildTool: %v", err)
	}
}

func TestInvokeRejectsBadArgsWithoutCalling(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	tool, err := BuildTool(validEndpoint(), NewRunner(config.Device{BaseURL: srv.URL}))
	if err != nil {
		t.Fatalf("BuildTool: %v", err)
	}
	if _, err := tool.Invoke(context.Background(), map[string]any{"pod_id": "not-an-int"}); err == nil {
		t.Fatalf("expected contract violation")
	}
	if called {
		t.Fatalf("remote must not be called on contract violation")
	}
}

func TestNilRunnerSimulates(t *testing.T) {
	tool, err := BuildTool(validEndpoint(), nil)
	if err != nil {
		t.Fatalf("BuildTool: %v", err)
	}
	res, err := tool.Invoke(context.Background(), map[string]any{"pod_id": 1})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected simulated success, got %d", res.StatusCode)
	}
}

func TestCatalogBuild(t *testing.T) {
	catalog, err := NewCatalog([]Config{validEndpoint()})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	tools, err := catalog.Build([]string{"fabric_health"}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "fabric_health" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
	if _, err := catalog.Build([]string{"missing"}, nil); err == nil {
		t.Fatalf("expected unknown tool name to fail at build time")
	}
}
