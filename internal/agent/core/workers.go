package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/netriage/config"
	"github.com/mohammad-safakhou/netriage/internal/agent/telemetry"
	"github.com/mohammad-safakhou/netriage/internal/agent/trace"
	"github.com/mohammad-safakhou/netriage/internal/endpoint"
	"github.com/mohammad-safakhou/netriage/provider"
)

// ToolWorker is a specialist that investigates one domain by reasoning over a
// fixed tool set. All failure modes are folded into the returned record: an
// unreachable device, a failing model or an exhausted step budget never raise.
type ToolWorker struct {
	name        string
	description string
	tools       map[string]*endpoint.Tool
	cards       string
	llm         provider.Provider
	model       string
	maxSteps    int
	enrich      bool
	logger      *log.Logger
	telemetry   *telemetry.Telemetry
	rec         *trace.Recorder
}

// workerAction is the structured step output the model produces on each turn
// of the reasoning loop. Either a tool call or a final verdict, never both.
type workerAction struct {
	Tool    string            `json:"tool,omitempty"`
	Args    map[string]any    `json:"args,omitempty"`
	Done    bool              `json:"done,omitempty"`
	Summary string            `json:"summary,omitempty"`
	Status  string            `json:"status,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// NewToolWorker builds one worker from its declaration. Tools are already
// bound to a per-run runner by the caller.
func NewToolWorker(cfg config.WorkerConfig, tools []*endpoint.Tool, llm provider.Provider, model string, maxSteps int, enrich bool, tel *telemetry.Telemetry, rec *trace.Recorder) *ToolWorker {
	if maxSteps <= 0 {
		maxSteps = 4
	}
	byName := make(map[string]*endpoint.Tool, len(tools))
	var cards strings.Builder
	for _, t := range tools {
		byName[t.Name] = t
		cards.WriteString(t.Card())
	}
	return &ToolWorker{
		name:        cfg.Name,
		description: cfg.Description,
		tools:       byName,
		cards:       cards.String(),
		llm:         llm,
		model:       model,
		maxSteps:    maxSteps,
		enrich:      enrich,
		logger:      log.New(log.Writer(), fmt.Sprintf("[WORKER:%s] ", cfg.Name), log.LstdFlags),
		telemetry:   tel,
		rec:         rec,
	}
}

func (w *ToolWorker) Name() string        { return w.name }
func (w *ToolWorker) Description() string { return w.description }

// Run drives the reasoning loop: ask the model for the next step, execute the
// chosen tool, feed the observation back, until the model concludes or the
// step budget runs out.
func (w *ToolWorker) Run(ctx context.Context, state *IncidentState) WorkerResult {
	var observations []string
	calls := make([]map[string]any, 0, w.maxSteps)
	rawData := map[string]any{"calls": &calls}

	for step := 0; step < w.maxSteps; step++ {
		action, err := w.nextAction(ctx, state, observations)
		if err != nil {
			w.logger.Printf("reasoning failed at step %d: %v", step, err)
			return WorkerResult{
				WorkerName: w.name,
				RawData:    rawData,
				Summary:    fmt.Sprintf("%s analysis failed: reasoning error", w.name),
				Status:     StatusFailure,
			}
		}
		if action.Done || action.Tool == "" {
			return w.finish(action, rawData)
		}

		tool, ok := w.tools[action.Tool]
		if !ok {
			observations = append(observations, fmt.Sprintf("tool %q does not exist; available: %s", action.Tool, strings.Join(w.toolNames(), ", ")))
			continue
		}
		w.rec.ToolInvoke(w.name, fmt.Sprintf("calling %s", tool.Name))
		res, err := tool.Invoke(ctx, action.Args)
		record := map[string]any{"tool": tool.Name, "args": action.Args}
		if err != nil {
			// Transport failures end the investigation: the device is not
			// answering at all.
			record["error"] = err.Error()
			calls = append(calls, record)
			w.telemetry.RecordRemoteCall("transport_failure")
			var terr *endpoint.TransportError
			if errors.As(err, &terr) {
				w.logger.Printf("transport failure: %v", terr)
			}
			return WorkerResult{
				WorkerName: w.name,
				RawData:    rawData,
				Summary:    fmt.Sprintf("%s data unavailable: remote system unreachable", w.name),
				Status:     StatusFailure,
			}
		}
		record["status_code"] = res.StatusCode
		record["body"] = truncate(string(res.Body), 4096)
		calls = append(calls, record)
		if !res.OK() {
			// Soft failure: the device answered, but with an error status.
			w.telemetry.RecordRemoteCall("soft_failure")
			return WorkerResult{
				WorkerName: w.name,
				RawData:    rawData,
				Summary:    fmt.Sprintf("%s data unavailable: %s returned HTTP %d", w.name, tool.Name, res.StatusCode),
				Status:     StatusFailure,
			}
		}
		w.telemetry.RecordRemoteCall("success")
		observations = append(observations, fmt.Sprintf("%s returned: %s", tool.Name, truncate(string(res.Body), 2048)))
	}

	return WorkerResult{
		WorkerName: w.name,
		RawData:    rawData,
		Summary:    fmt.Sprintf("%s investigation incomplete: step budget exhausted after %d tool calls", w.name, w.maxSteps),
		Status:     StatusPartial,
	}
}

func (w *ToolWorker) finish(action workerAction, rawData map[string]any) WorkerResult {
	status := StatusSuccess
	switch Status(strings.ToUpper(action.Status)) {
	case StatusFailure:
		status = StatusFailure
	case StatusPartial:
		status = StatusPartial
	}
	summary := action.Summary
	if strings.TrimSpace(summary) == "" {
		summary = fmt.Sprintf("%s completed with no findings", w.name)
	}
	if w.enrich && len(action.Fields) > 0 {
		rawData["fields"] = action.Fields
	}
	return WorkerResult{
		WorkerName: w.name,
		RawData:    rawData,
		Summary:    ClampSummary(summary),
		Status:     status,
	}
}

func (w *ToolWorker) nextAction(ctx context.Context, state *IncidentState, observations []string) (workerAction, error) {
	system := w.systemPrompt()
	var user strings.Builder
	fmt.Fprintf(&user, "Incident: %s\n", state.UserMessage())
	if len(state.IncidentData) > 0 {
		fmt.Fprintf(&user, "Known incident data: %s\n", formatFields(state.IncidentData))
	}
	if len(observations) == 0 {
		user.WriteString("No tool calls made yet. Choose the first step.")
	} else {
		user.WriteString("Observations so far:\n")
		for _, obs := range observations {
			fmt.Fprintf(&user, "- %s\n", obs)
		}
		user.WriteString("Choose the next step, or conclude.")
	}

	w.telemetry.RecordLLMRequest(w.llm.Name())
	var action workerAction
	if err := w.llm.GenerateStructured(ctx, system, user.String(), w.model, &action); err != nil {
		return workerAction{}, err
	}
	return action, nil
}

func (w *ToolWorker) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s specialist. %s\n\n", w.name, w.description)
	b.WriteString("You investigate by calling read-only tools. Available tools:\n")
	b.WriteString(w.cards)
	b.WriteString("\nRespond with a single JSON object. To call a tool:\n")
	b.WriteString(`{"tool": "<name>", "args": {...}}` + "\n")
	b.WriteString("To conclude the investigation:\n")
	b.WriteString(`{"done": true, "summary": "<finding in 50 words or fewer>", "status": "SUCCESS|PARTIAL"}` + "\n")
	if w.enrich {
		b.WriteString("\nWhen you resolve incident identifiers (for example source_ip or destination_ip), include them in the conclusion as:\n")
		b.WriteString(`{"done": true, "summary": "...", "status": "SUCCESS", "fields": {"source_ip": "..."}}` + "\n")
	}
	return b.String()
}

func (w *ToolWorker) toolNames() []string {
	out := make([]string, 0, len(w.tools))
	for name := range w.tools {
		out = append(out, name)
	}
	return out
}

func formatFields(m map[string]string) string {
	b, _ := json.Marshal(m)
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
