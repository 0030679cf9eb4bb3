package integration

import (
	"encoding/json"
	"net/http"
	"testing"
)

type wireAssistant struct {
	ID          string  `json:"id"`
	WorkspaceID *string `json:"workspace_id"`
	Name        string  `json:"name"`
	Model       string  `json:"model"`
}

func TestSeededDefaultAssistantIsGlobal(t *testing.T) {
	ts := NewTestServer(t)

	var page listPage
	resp := ts.WorkspaceClient("ws_any").Get("/v1/assistants")
	AssertStatus(t, resp, http.StatusOK)
	ParseJSON(t, resp, &page)
	if len(page.Data) != 1 {
		t.Fatalf("got %d assistants, want the seeded default", len(page.Data))
	}
	var a wireAssistant
	if err := json.Unmarshal(page.Data[0], &a); err != nil {
		t.Fatalf("bad assistant JSON: %v", err)
	}
	if a.WorkspaceID != nil {
		t.Errorf("seeded assistant workspace = %v, want global", a.WorkspaceID)
	}
	if a.Model != "echo" {
		t.Errorf("seeded assistant model = %q, want echo", a.Model)
	}
}

func TestAssistantCRUDScopedToWorkspace(t *testing.T) {
	ts := NewTestServer(t)
	c := ts.WorkspaceClient("ws_a")

	var created wireAssistant
	resp := c.Post("/v1/assistants", map[string]any{"name": "helper", "model": "echo"})
	AssertStatus(t, resp, http.StatusCreated)
	ParseJSON(t, resp, &created)
	if created.WorkspaceID == nil || *created.WorkspaceID != "ws_a" {
		t.Fatalf("created workspace = %v, want ws_a", created.WorkspaceID)
	}

	// Visible inside the workspace, hidden outside it.
	resp = c.Get("/v1/assistants/" + created.ID)
	AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = ts.WorkspaceClient("ws_b").Get("/v1/assistants/" + created.ID)
	AssertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	// Update keeps the workspace stamp.
	var updated wireAssistant
	resp = c.Post("/v1/assistants/"+created.ID, map[string]any{"name": "renamed", "model": "echo"})
	AssertStatus(t, resp, http.StatusOK)
	ParseJSON(t, resp, &updated)
	if updated.Name != "renamed" {
		t.Errorf("name = %q, want renamed", updated.Name)
	}
	if updated.WorkspaceID == nil || *updated.WorkspaceID != "ws_a" {
		t.Errorf("workspace after update = %v, want ws_a", updated.WorkspaceID)
	}

	resp = c.Delete("/v1/assistants/" + created.ID)
	AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.Get("/v1/assistants/" + created.ID)
	AssertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestWorkflowDrivesRunDefaults(t *testing.T) {
	ts := NewTestServer(t)
	c := ts.Client()

	// A workflow bound to the seeded assistant supplies the run's model.
	var page listPage
	resp := c.Get("/v1/assistants")
	AssertStatus(t, resp, http.StatusOK)
	ParseJSON(t, resp, &page)
	var seeded wireAssistant
	if err := json.Unmarshal(page.Data[0], &seeded); err != nil {
		t.Fatalf("bad assistant JSON: %v", err)
	}

	var workflow struct {
		ID string `json:"id"`
	}
	resp = c.Post("/v1/workflows", map[string]any{
		"name":         "greet",
		"assistant_id": seeded.ID,
		"steps":        []map[string]any{{"name": "greet", "prompt": "say hello"}},
	})
	AssertStatus(t, resp, http.StatusCreated)
	ParseJSON(t, resp, &workflow)

	var thread struct {
		ID string `json:"id"`
	}
	resp = c.Post("/v1/threads", nil)
	AssertStatus(t, resp, http.StatusCreated)
	ParseJSON(t, resp, &thread)

	var run struct {
		ID          string  `json:"id"`
		Model       string  `json:"model"`
		AssistantID *string `json:"assistant_id"`
		WorkflowID  *string `json:"workflow_id"`
	}
	resp = c.Post("/v1/executions", map[string]any{
		"thread_id":   thread.ID,
		"workflow_id": workflow.ID,
	})
	AssertStatus(t, resp, http.StatusCreated)
	ParseJSON(t, resp, &run)
	if run.Model != "echo" {
		t.Errorf("run model = %q, want echo via workflow assistant", run.Model)
	}
	if run.AssistantID == nil || *run.AssistantID != seeded.ID {
		t.Errorf("run assistant = %v, want %s", run.AssistantID, seeded.ID)
	}
}
