package core

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/netriage/internal/agent/telemetry"
	"github.com/mohammad-safakhou/netriage/provider"
)

// Triage synthesizes the final report from worker summaries. It is strictly
// read-only: it sees summaries and statuses, never raw payloads, and it never
// triggers more work.
type Triage struct {
	llm       provider.Provider
	model     string
	logger    *log.Logger
	telemetry *telemetry.Telemetry
}

// NewTriage builds the synthesizer.
func NewTriage(llm provider.Provider, model string, tel *telemetry.Telemetry) *Triage {
	return &Triage{
		llm:       llm,
		model:     model,
		logger:    log.New(log.Writer(), "[TRIAGE] ", log.LstdFlags),
		telemetry: tel,
	}
}

// Synthesize produces the terminal report. A model failure degrades to a
// low-confidence fallback report rather than failing the run: by this point
// the evidence has already been gathered and must reach the caller.
func (t *Triage) Synthesize(ctx context.Context, state *IncidentState) TriageReport {
	failed := state.FailedWorkers()

	t.telemetry.RecordLLMRequest(t.llm.Name())
	var report TriageReport
	err := t.llm.GenerateStructured(ctx, t.systemPrompt(failed), t.userPrompt(state), t.model, &report)
	if err != nil {
		t.logger.Printf("synthesis failed: %v", err)
		report = TriageReport{
			RootCause:  "Analysis failed",
			Details:    []string{"The synthesis step could not produce a report from the collected findings."},
			Action:     "Investigate manually using the collected worker findings.",
			Confidence: 1,
		}
	}

	report.FailedWorkers = failed
	if report.Confidence < 1 {
		report.Confidence = 1
	}
	if report.Confidence > 10 {
		report.Confidence = 10
	}
	// Incomplete evidence must be visible in the report body, naming the
	// workers whose data is missing, even if the model glossed over it.
	if len(failed) > 0 && !mentionsAll(report.Details, failed) {
		report.Details = append(report.Details,
			fmt.Sprintf("Analysis based on incomplete data: %s data unavailable.", strings.Join(failed, ", ")))
	}
	return report
}

func (t *Triage) systemPrompt(failed []string) string {
	var b strings.Builder
	b.WriteString("You are a senior network incident triage analyst. Synthesize the specialist findings below into a final verdict.\n")
	b.WriteString("Respond with a single JSON object:\n")
	b.WriteString(`{"root_cause": "...", "details": ["..."], "action": "...", "confidence": 1-10}` + "\n")
	b.WriteString("Confidence is an integer from 1 (guess) to 10 (certain).\n")
	if len(failed) > 0 {
		fmt.Fprintf(&b, "Findings from %s are missing or unreliable. State explicitly that the analysis is based on incomplete data, name those specialists, and lower your confidence accordingly.\n", strings.Join(failed, ", "))
	}
	return b.String()
}

func (t *Triage) userPrompt(state *IncidentState) string {
	names := make([]string, 0, len(state.WorkerResults))
	for name := range state.WorkerResults {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Incident: %s\n\nSpecialist findings:\n", state.UserMessage())
	for _, name := range names {
		res := state.WorkerResults[name]
		fmt.Fprintf(&b, "- %s [%s]: %s\n", name, res.Status, res.Summary)
	}
	return b.String()
}

func mentionsAll(details []string, names []string) bool {
	joined := strings.ToLower(strings.Join(details, " "))
	for _, name := range names {
		if !strings.Contains(joined, strings.ToLower(name)) {
			return false
		}
	}
	return len(details) > 0
}
