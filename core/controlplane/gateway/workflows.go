package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nodeflow/nodeflow/core/infra/config"
	"github.com/nodeflow/nodeflow/core/infra/logging"
	"github.com/nodeflow/nodeflow/core/infra/queue"
	"github.com/nodeflow/nodeflow/core/infra/schema"
	"github.com/nodeflow/nodeflow/core/infra/secrets"
	wf "github.com/nodeflow/nodeflow/core/workflow"
)

type menuItem struct {
	Label    string     `json:"label"`
	Href     string     `json:"href"`
	Children []menuItem `json:"children,omitempty"`
}

func (s *server) handleMenu(w http.ResponseWriter, r *http.Request) {
	count, err := s.workflows.CountWorkflows(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": []menuItem{
			{Label: "Home", Href: "/"},
			{
				Label:    fmt.Sprintf("Workflows (%d)", count),
				Href:     "/workflows",
				Children: []menuItem{{Label: "Active", Href: "/active"}},
			},
			{Label: "Settings", Href: "/settings"},
		},
	})
}

func (s *server) handleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := schema.Validate(schema.Workflow, json.RawMessage(body)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var def wf.Workflow
	if err := json.Unmarshal(body, &def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := def.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	def.ID = strings.TrimSpace(def.ID)
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.OwnerID == "" {
		if ident := identityFromRequest(r); ident != nil {
			def.OwnerID = ident.UserID
		}
	}
	def.Normalize()
	if err := s.workflows.SaveWorkflow(r.Context(), &def); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, &def)
}

func (s *server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.workflows.ListWorkflows(r.Context(), listLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	def, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	err := s.workflows.DeleteWorkflow(r.Context(), r.PathValue("id"))
	if errors.Is(err, wf.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	Input map[string]any `json:"input"`
}

// handleExecuteWorkflow runs the workflow synchronously and returns the
// execution context. With ?async=true it enqueues a workflows job instead.
func (s *server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}
	def, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}

	if parseBool(r.URL.Query().Get("async")) {
		s.enqueueRun(w, r, def, req.Input)
		return
	}

	triggeredBy := ""
	if ident := identityFromRequest(r); ident != nil {
		triggeredBy = ident.UserID
	}
	exec, err := s.executor.Run(r.Context(), def, req.Input, triggeredBy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("X-Execution-ID", exec.ID)
	writeJSON(w, http.StatusOK, &exec.Context)
}

func (s *server) enqueueRun(w http.ResponseWriter, r *http.Request, def *wf.Workflow, input map[string]any) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}
	job, err := s.jobs.Add(r.Context(), config.JobWorkflows, wf.RunPayload{WorkflowID: def.ID, Input: input}, s.jobOpts)
	if err != nil {
		logging.Error("api-gateway", "enqueue workflow run", "workflow_id", def.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID, "workflowId": def.ID})
}

func (s *server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "execution history unavailable")
		return
	}
	list, err := s.runs.ListExecutionsByWorkflow(r.Context(), r.PathValue("id"), listLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "execution history unavailable")
		return
	}
	exec, err := s.runs.GetExecution(r.Context(), r.PathValue("id"))
	if errors.Is(err, wf.ErrNotFound) {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *server) handleListFailedJobs(w http.ResponseWriter, r *http.Request) {
	if s.dlq == nil {
		writeError(w, http.StatusServiceUnavailable, "dlq unavailable")
		return
	}
	entries, err := s.dlq.List(r.Context(), listLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for i := range entries {
		entries[i].Data = redactData(entries[i].Data)
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, queue.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	job.Data = redactData(job.Data)
	writeJSON(w, http.StatusOK, job)
}

// redactData masks credentials carried in node data before job payloads
// leave the gateway.
func redactData(raw json.RawMessage) json.RawMessage {
	out, _, err := secrets.RedactJSON(raw)
	if err != nil {
		return raw
	}
	return out
}

func (s *server) loadWorkflow(w http.ResponseWriter, r *http.Request) (*wf.Workflow, bool) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return nil, false
	}
	def, err := s.workflows.GetWorkflow(r.Context(), id)
	if errors.Is(err, wf.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return def, true
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
