package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	core "github.com/mohammad-safakhou/netriage/internal/agent/core"
	"github.com/mohammad-safakhou/netriage/internal/agent/trace"
)

// ChatRequest is one incoming triage request. Provider and model are optional
// per-request overrides.
type ChatRequest struct {
	Message  string `json:"message"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type runOutcome struct {
	state *core.IncidentState
	err   error
}

// handleChat runs an incident and streams progress via Server-Sent Events:
// thought and routing events as the engine moves, then exactly one terminal
// event (triage_report, answer, escalation or error).
func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	rec := trace.NewRecorder(s.cfg.Orchestrator.EventBuffer)
	done := make(chan runOutcome, 1)
	go func() {
		state, err := s.orch.ProcessIncident(c.Request().Context(), core.IncidentRequest{
			Message:  req.Message,
			Provider: req.Provider,
			Model:    req.Model,
		}, rec)
		rec.Close()
		done <- runOutcome{state: state, err: err}
	}()

	for ev := range rec.Events() {
		var payload any
		switch ev.Kind {
		case trace.KindReport:
			payload = ev.Payload
		case trace.KindRouting:
			payload = map[string]any{"routing": ev.Routing, "timestamp": ev.Timestamp}
		default:
			payload = ev
		}
		if err := writeSSE(resp, flusher, string(ev.Kind), payload); err != nil {
			// Client went away; keep draining so the run can finish publishing.
			s.logger.Printf("chat stream aborted: %v", err)
			go func() {
				for range rec.Events() {
				}
			}()
			<-done
			return nil
		}
	}

	out := <-done
	if out.err != nil {
		return writeSSE(resp, flusher, "error", map[string]string{"error": out.err.Error()})
	}
	switch {
	case out.state.Phase == core.PhaseEscalated:
		return writeSSE(resp, flusher, "escalation", map[string]any{
			"incident_id": out.state.ID,
			"message":     lastAssistantMessage(out.state),
		})
	case out.state.DirectAnswer != "":
		return writeSSE(resp, flusher, "answer", map[string]any{
			"incident_id": out.state.ID,
			"answer":      out.state.DirectAnswer,
		})
	default:
		// The report itself already went out as a triage_report event.
		return writeSSE(resp, flusher, "done", map[string]string{"incident_id": out.state.ID})
	}
}

func writeSSE(resp *echo.Response, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := resp.Write([]byte("event: " + event + "\n")); err != nil {
		return err
	}
	if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func lastAssistantMessage(state *core.IncidentState) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == "assistant" {
			return state.Messages[i].Content
		}
	}
	return "escalated to a human operator"
}

// workerSummary is the public shape of one configured specialist.
type workerSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tools       []string `json:"tools"`
	Device      string   `json:"device,omitempty"`
}

// handleConfig reports the operational setup: specialists, routing bounds and
// configured providers. Secrets and credentials never appear here.
func (s *Server) handleConfig(c echo.Context) error {
	workers := make([]workerSummary, 0, len(s.cfg.Workers))
	for _, w := range s.cfg.Workers {
		workers = append(workers, workerSummary{
			Name:        w.Name,
			Description: w.Description,
			Tools:       w.Tools,
			Device:      w.Device,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"workers":           workers,
		"required_fields":   s.cfg.Orchestrator.RequiredFields,
		"enrichment_worker": s.cfg.Orchestrator.EnrichmentWorker,
		"max_iterations":    s.cfg.Orchestrator.MaxIterations,
		"audit_enabled":     s.cfg.Audit.Enabled(),
	})
}
