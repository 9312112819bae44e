package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/antoniostano/subagentd/internal/config"
	"github.com/antoniostano/subagentd/internal/orchestrator"
	"github.com/antoniostano/subagentd/internal/provider"
	"github.com/antoniostano/subagentd/internal/tasks"
)

func newTestServer(t *testing.T) (*httptest.Server, *provider.MockProvider, *orchestrator.Orchestrator) {
	t.Helper()
	cfg := config.Config{ProviderMode: "mock"}
	mock := provider.NewMockProvider()
	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrent:     2,
		WaitPollStep:      5 * time.Millisecond,
		IdleEventDebounce: 10 * time.Millisecond,
	}, mock, nil, nil)
	t.Cleanup(orch.Shutdown)

	srv := New(cfg, orch, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, mock, orch
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestLaunchAndGetTask(t *testing.T) {
	ts, _, _ := newTestServer(t)

	res := postJSON(t, ts.URL+"/v1/tasks", map[string]string{
		"parent_context_id": "parent-1",
		"prompt":            "summarize the build logs",
	})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("launch status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	var launched tasks.Task
	decodeBody(t, res, &launched)
	if launched.ID == "" {
		t.Fatalf("missing task id in launch response: %+v", launched)
	}

	deadline := time.Now().Add(2 * time.Second)
	var got tasks.Task
	for time.Now().Before(deadline) {
		getRes, err := http.Get(ts.URL + "/v1/tasks/" + launched.ID)
		if err != nil {
			t.Fatalf("GET task error = %v", err)
		}
		if getRes.StatusCode != http.StatusOK {
			t.Fatalf("get status = %d, want %d", getRes.StatusCode, http.StatusOK)
		}
		decodeBody(t, getRes, &got)
		if got.Status == tasks.StatusRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got.Status != tasks.StatusRunning {
		t.Fatalf("task status = %q, want running", got.Status)
	}
}

func TestLaunchRejectsEmptyPrompt(t *testing.T) {
	ts, _, _ := newTestServer(t)

	res := postJSON(t, ts.URL+"/v1/tasks", map[string]string{"prompt": "   "})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestLaunchAndWaitReturnsTerminalTask(t *testing.T) {
	ts, _, _ := newTestServer(t)

	res := postJSON(t, ts.URL+"/v1/tasks/wait", map[string]any{
		"prompt":     "quick job",
		"timeout_ms": 2000,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("wait status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var task tasks.Task
	decodeBody(t, res, &task)
	if task.Status != tasks.StatusCompleted {
		t.Fatalf("task status = %q, want completed", task.Status)
	}
	if !strings.HasPrefix(task.Result, "Mock result for:") {
		t.Fatalf("task result = %q, want mock output", task.Result)
	}
}

func TestCancelTask(t *testing.T) {
	ts, mock, _ := newTestServer(t)
	mock.SetBusyAfterPrompt(true)

	res := postJSON(t, ts.URL+"/v1/tasks", map[string]string{"prompt": "long job"})
	var launched tasks.Task
	decodeBody(t, res, &launched)

	// Wait for admission before cancelling so the abort path is exercised.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		getRes, _ := http.Get(ts.URL + "/v1/tasks/" + launched.ID)
		var got tasks.Task
		decodeBody(t, getRes, &got)
		if got.Status == tasks.StatusRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancelRes := postJSON(t, ts.URL+"/v1/tasks/"+launched.ID+"/cancel", map[string]string{
		"reason": "operator request",
	})
	if cancelRes.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want %d", cancelRes.StatusCode, http.StatusOK)
	}
	var payload struct {
		Task      tasks.Task `json:"task"`
		Cancelled bool       `json:"cancelled"`
	}
	decodeBody(t, cancelRes, &payload)
	if !payload.Cancelled {
		t.Fatalf("cancelled = false, want true")
	}
	if payload.Task.Status != tasks.StatusCancelled {
		t.Fatalf("task status = %q, want cancelled", payload.Task.Status)
	}
	if payload.Task.Error != "operator request" {
		t.Fatalf("task error = %q, want reason", payload.Task.Error)
	}
}

func TestGetUnknownTaskReturns404(t *testing.T) {
	ts, _, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/v1/tasks/no-such-task")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestListTasksAndEvents(t *testing.T) {
	ts, _, _ := newTestServer(t)

	res := postJSON(t, ts.URL+"/v1/tasks/wait", map[string]any{
		"prompt":     "first job",
		"timeout_ms": 2000,
	})
	var task tasks.Task
	decodeBody(t, res, &task)

	listRes, err := http.Get(ts.URL + "/v1/tasks")
	if err != nil {
		t.Fatalf("GET /v1/tasks error = %v", err)
	}
	var listPayload struct {
		Tasks []tasks.Task `json:"tasks"`
	}
	decodeBody(t, listRes, &listPayload)
	if len(listPayload.Tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(listPayload.Tasks))
	}

	evRes, err := http.Get(ts.URL + "/v1/tasks/" + task.ID + "/events")
	if err != nil {
		t.Fatalf("GET events error = %v", err)
	}
	var evPayload struct {
		TaskID string        `json:"task_id"`
		Events []tasks.Event `json:"events"`
	}
	decodeBody(t, evRes, &evPayload)
	if len(evPayload.Events) == 0 {
		t.Fatalf("no lifecycle events recorded for %s", task.ID)
	}
	last := evPayload.Events[len(evPayload.Events)-1]
	if last.Type != tasks.EventTaskCompleted {
		t.Fatalf("last event = %q, want %q", last.Type, tasks.EventTaskCompleted)
	}
}

func TestProviderEventIngestion(t *testing.T) {
	ts, mock, orch := newTestServer(t)
	mock.SetBusyAfterPrompt(true)

	task, err := orch.Launch(tasks.LaunchRequest{Prompt: "event driven job"})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	var running tasks.Task
	for time.Now().Before(deadline) {
		running, _ = orch.GetTask(task.ID)
		if running.Status == tasks.StatusRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	res := postJSON(t, ts.URL+"/v1/events", map[string]string{
		"type":       provider.EventContextIdle,
		"context_id": running.ContextID,
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("event status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}

	for time.Now().Before(deadline) {
		got, _ := orch.GetTask(task.ID)
		if got.Status == tasks.StatusCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := orch.GetTask(task.ID)
	t.Fatalf("task status = %q, want completed after idle event", got.Status)
}

func TestTaskSummaryEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/v1/tasks/summary")
	if err != nil {
		t.Fatalf("GET summary error = %v", err)
	}
	var payload map[string]string
	decodeBody(t, res, &payload)
	if payload["summary"] != "No sub-agent tasks are running." {
		t.Fatalf("summary = %q, want empty-state line", payload["summary"])
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}
