package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/nodeflow/nodeflow/core/infra/queue"
	wf "github.com/nodeflow/nodeflow/core/workflow"
)

func TestHealth(t *testing.T) {
	env := newTestGateway(t)
	rr := env.do(t, http.MethodGet, "/health", "", nil)
	expectStatus(t, rr, http.StatusOK)
	if rr.Body.String() != "ok" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Fatalf("missing security headers: %v", rr.Header())
	}
}

func TestMenuCountsWorkflows(t *testing.T) {
	env := newTestGateway(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := env.store.SaveWorkflow(ctx, &wf.Workflow{ID: id}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	rr := env.do(t, http.MethodGet, "/api/menu", "", nil)
	expectStatus(t, rr, http.StatusOK)

	var body struct {
		Items []menuItem `json:"items"`
	}
	decodeJSON(t, rr, &body)
	if len(body.Items) != 3 {
		t.Fatalf("expected 3 items, got %+v", body.Items)
	}
	if body.Items[0].Label != "Home" || body.Items[0].Href != "/" {
		t.Fatalf("unexpected first item %+v", body.Items[0])
	}
	if body.Items[1].Label != "Workflows (2)" || len(body.Items[1].Children) != 1 || body.Items[1].Children[0].Href != "/active" {
		t.Fatalf("unexpected workflows item %+v", body.Items[1])
	}
	if body.Items[2].Label != "Settings" {
		t.Fatalf("unexpected last item %+v", body.Items[2])
	}
}

func TestSaveWorkflowAssignsIDAndDefaults(t *testing.T) {
	env := newTestGateway(t)
	rr := env.do(t, http.MethodPost, "/api/workflows", "", map[string]any{"name": "Blank"})
	expectStatus(t, rr, http.StatusOK)

	var saved map[string]any
	decodeJSON(t, rr, &saved)
	id, _ := saved["id"].(string)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected generated uuid, got %q", id)
	}
	if nodes, ok := saved["nodes"].([]any); !ok || len(nodes) != 0 {
		t.Fatalf("expected empty nodes array, got %v", saved["nodes"])
	}
	if conns, ok := saved["connections"].([]any); !ok || len(conns) != 0 {
		t.Fatalf("expected empty connections array, got %v", saved["connections"])
	}
	if _, err := env.store.GetWorkflow(context.Background(), id); err != nil {
		t.Fatalf("workflow not persisted: %v", err)
	}
}

func TestSaveWorkflowRecordsOwner(t *testing.T) {
	env := newTestGateway(t)
	rr := env.do(t, http.MethodPost, "/api/workflows", "user-token", map[string]any{"id": "owned"})
	expectStatus(t, rr, http.StatusOK)
	got, err := env.store.GetWorkflow(context.Background(), "owned")
	if err != nil || got.OwnerID != "u1" {
		t.Fatalf("expected owner u1, got %+v (%v)", got, err)
	}
}

func TestSaveWorkflowRejectsInvalid(t *testing.T) {
	env := newTestGateway(t)
	cases := map[string]any{
		"missing node type": map[string]any{"nodes": []any{map[string]any{"id": "a"}}},
		"duplicate ids": map[string]any{"nodes": []any{
			map[string]any{"id": "a", "type": "action"},
			map[string]any{"id": "a", "type": "logic"},
		}},
		"bad json":   "{",
		"wrong type": map[string]any{"nodes": "nope"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/workflows", "", body)
			expectStatus(t, rr, http.StatusBadRequest)
			if errorOf(t, rr) == "" {
				t.Fatalf("expected error message")
			}
		})
	}
}

func TestListGetDeleteWorkflow(t *testing.T) {
	env := newTestGateway(t)
	if err := env.store.SaveWorkflow(context.Background(), &wf.Workflow{ID: "wf-1", Name: "One"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rr := env.do(t, http.MethodGet, "/api/workflows", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var list []wf.Workflow
	decodeJSON(t, rr, &list)
	if len(list) != 1 || list[0].ID != "wf-1" {
		t.Fatalf("unexpected list %+v", list)
	}

	rr = env.do(t, http.MethodGet, "/api/workflows/wf-1", "", nil)
	expectStatus(t, rr, http.StatusOK)
	rr = env.do(t, http.MethodGet, "/api/workflows/missing", "", nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, http.MethodDelete, "/api/workflows/wf-1", "user-token", nil)
	expectStatus(t, rr, http.StatusForbidden)
	rr = env.do(t, http.MethodDelete, "/api/workflows/wf-1", "admin-token", nil)
	expectStatus(t, rr, http.StatusNoContent)
	rr = env.do(t, http.MethodDelete, "/api/workflows/wf-1", "admin-token", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func seedRunnable(t *testing.T, env *testEnv, nodes ...wf.Node) {
	t.Helper()
	if err := env.store.SaveWorkflow(context.Background(), &wf.Workflow{ID: "run-me", Nodes: nodes}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestExecuteWorkflow(t *testing.T) {
	env := newTestGateway(t)
	seedRunnable(t, env,
		wf.Node{ID: "act", Type: wf.NodeAction, Position: &wf.Position{Y: 20}, Data: map[string]any{"k": "v"}},
		wf.Node{ID: "start", Type: wf.NodeTrigger, Position: &wf.Position{Y: 0}},
		wf.Node{ID: "check", Type: wf.NodeLogic, Position: &wf.Position{Y: 40}, Data: map[string]any{"condition": 0}},
	)

	rr := env.do(t, http.MethodPost, "/api/workflows/run-me/execute", "", map[string]any{"input": map[string]any{"a": 1}})
	expectStatus(t, rr, http.StatusOK)

	var ec wf.ExecutionContext
	decodeJSON(t, rr, &ec)
	if ec.Error != "" {
		t.Fatalf("unexpected error %q", ec.Error)
	}
	if ec.Input["a"] != float64(1) {
		t.Fatalf("input not echoed: %+v", ec.Input)
	}
	trig, _ := ec.Output["start"].(map[string]any)
	if ts, _ := trig["triggeredAt"].(string); !strings.HasSuffix(ts, "Z") {
		t.Fatalf("unexpected trigger output %+v", ec.Output["start"])
	}
	act, _ := ec.Output["act"].(map[string]any)
	if act["status"] != "success" {
		t.Fatalf("unexpected action output %+v", act)
	}
	if ec.Output["check"] != "false" {
		t.Fatalf("unexpected logic output %v", ec.Output["check"])
	}
	if strings.Contains(rr.Body.String(), `"error"`) {
		t.Fatalf("error field should be omitted: %s", rr.Body.String())
	}

	execID := rr.Header().Get("X-Execution-ID")
	if execID == "" {
		t.Fatalf("missing X-Execution-ID header")
	}
	rr = env.do(t, http.MethodGet, "/api/executions/"+execID, "", nil)
	expectStatus(t, rr, http.StatusOK)
	var exec wf.Execution
	decodeJSON(t, rr, &exec)
	if exec.Status != wf.ExecutionSucceeded || exec.WorkflowID != "run-me" {
		t.Fatalf("unexpected execution %+v", exec)
	}

	rr = env.do(t, http.MethodGet, "/api/workflows/run-me/executions", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var history []wf.Execution
	decodeJSON(t, rr, &history)
	if len(history) != 1 || history[0].ID != execID {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestExecuteWithoutBodyUsesEmptyInput(t *testing.T) {
	env := newTestGateway(t)
	seedRunnable(t, env, wf.Node{ID: "start", Type: wf.NodeTrigger})
	rr := env.do(t, http.MethodPost, "/api/workflows/run-me/execute", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var ec wf.ExecutionContext
	decodeJSON(t, rr, &ec)
	if ec.Input == nil || len(ec.Input) != 0 {
		t.Fatalf("expected empty input, got %+v", ec.Input)
	}
}

func TestExecuteFailureQueuesRetry(t *testing.T) {
	env := newTestGateway(t)
	seedRunnable(t, env,
		wf.Node{ID: "start", Type: wf.NodeTrigger},
		wf.Node{ID: "odd", Type: "mystery", Position: &wf.Position{Y: 5}},
		wf.Node{ID: "never", Type: wf.NodeAction, Position: &wf.Position{Y: 10}},
	)
	rr := env.do(t, http.MethodPost, "/api/workflows/run-me/execute", "", map[string]any{"input": map[string]any{}})
	expectStatus(t, rr, http.StatusOK)

	var ec wf.ExecutionContext
	decodeJSON(t, rr, &ec)
	if ec.Error != "Unknown node type: mystery" {
		t.Fatalf("unexpected error %q", ec.Error)
	}
	if _, ran := ec.Output["never"]; ran {
		t.Fatalf("execution should stop at the failed node")
	}

	job, err := env.s.jobs.Get(context.Background(), "1")
	if err != nil {
		t.Fatalf("retry job not queued: %v", err)
	}
	if job.Name != "retry" || job.Opts.Attempts != 3 || job.Opts.Backoff.Type != queue.BackoffExponential {
		t.Fatalf("unexpected retry job %+v", job)
	}
	var payload wf.RetryPayload
	if err := job.Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Node.ID != "odd" || payload.Context.Error != ec.Error {
		t.Fatalf("unexpected payload %+v", payload)
	}

	rr = env.do(t, http.MethodGet, "/api/jobs/1", "", nil)
	expectStatus(t, rr, http.StatusOK)
	rr = env.do(t, http.MethodGet, "/api/jobs/99", "", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestExecuteAsyncEnqueuesRun(t *testing.T) {
	env := newTestGateway(t)
	seedRunnable(t, env, wf.Node{ID: "start", Type: wf.NodeTrigger})
	rr := env.do(t, http.MethodPost, "/api/workflows/run-me/execute?async=true", "", map[string]any{"input": map[string]any{"x": "y"}})
	expectStatus(t, rr, http.StatusAccepted)

	var body map[string]string
	decodeJSON(t, rr, &body)
	job, err := env.s.jobs.Get(context.Background(), body["jobId"])
	if err != nil {
		t.Fatalf("job missing: %v", err)
	}
	var payload wf.RunPayload
	if err := job.Decode(&payload); err != nil || payload.WorkflowID != "run-me" || payload.Input["x"] != "y" {
		t.Fatalf("unexpected run payload %+v (%v)", payload, err)
	}
}

func TestExecuteErrors(t *testing.T) {
	env := newTestGateway(t)
	rr := env.do(t, http.MethodPost, "/api/workflows/missing/execute", "", map[string]any{})
	expectStatus(t, rr, http.StatusNotFound)

	seedRunnable(t, env)
	rr = env.do(t, http.MethodPost, "/api/workflows/run-me/execute", "", "{not json")
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestFailedJobsListing(t *testing.T) {
	env := newTestGateway(t)
	if err := env.s.dlq.Add(context.Background(), queue.DLQEntry{
		JobID: "7", Queue: "workflows", Name: "retry", Reason: "boom", Attempts: 3,
		Data: json.RawMessage(`{"node":{"id":"w1","type":"web3","data":{"privateKey":"0xabc","network":"sepolia"}}}`),
	}); err != nil {
		t.Fatalf("dlq add: %v", err)
	}
	rr := env.do(t, http.MethodGet, "/api/jobs/failed", "user-token", nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = env.do(t, http.MethodGet, "/api/jobs/failed", "admin-token", nil)
	expectStatus(t, rr, http.StatusOK)
	var entries []queue.DLQEntry
	decodeJSON(t, rr, &entries)
	if len(entries) != 1 || entries[0].JobID != "7" || entries[0].Reason != "boom" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if strings.Contains(string(entries[0].Data), "0xabc") || !strings.Contains(string(entries[0].Data), "sepolia") {
		t.Fatalf("expected private key redacted, got %s", entries[0].Data)
	}
}

func TestInstrumentedRecordsRoute(t *testing.T) {
	env := newTestGateway(t)
	rec := &recordingMetrics{}
	env.s.metrics = rec
	env.do(t, http.MethodGet, "/api/workflows/missing", "", nil)
	if len(rec.routes) != 1 || rec.routes[0] != "GET /api/workflows/{id} 404" {
		t.Fatalf("unexpected observations %v", rec.routes)
	}
}
