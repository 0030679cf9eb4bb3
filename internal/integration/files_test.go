package integration

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/loomhq/loom/internal/middleware"
)

func uploadFile(t *testing.T, ts *TestServer, workspace, filename, content string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.WriteField("purpose", "assistants"); err != nil {
		t.Fatalf("write purpose field: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req, err := http.NewRequest("POST", ts.Server.URL+"/v1/files", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if workspace != "" {
		req.Header.Set(middleware.WorkspaceHeader, workspace)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload request failed: %v", err)
	}
	return resp
}

func TestFileUploadAndContent(t *testing.T) {
	ts := NewTestServer(t)

	resp := uploadFile(t, ts, "", "notes.txt", "file body bytes")
	AssertStatus(t, resp, http.StatusCreated)

	var file struct {
		ID        string `json:"id"`
		Filename  string `json:"filename"`
		Purpose   string `json:"purpose"`
		SizeBytes int64  `json:"size_bytes"`
	}
	ParseJSON(t, resp, &file)
	if file.Filename != "notes.txt" {
		t.Errorf("filename = %q, want notes.txt", file.Filename)
	}
	if file.SizeBytes != int64(len("file body bytes")) {
		t.Errorf("size_bytes = %d, want %d", file.SizeBytes, len("file body bytes"))
	}

	resp = ts.Client().Get("/v1/files/" + file.ID + "/content")
	AssertStatus(t, resp, http.StatusOK)
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q, want attachment", cd)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	if string(body) != "file body bytes" {
		t.Errorf("content = %q", body)
	}

	resp = ts.Client().Delete("/v1/files/" + file.ID)
	AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = ts.Client().Get("/v1/files/" + file.ID)
	AssertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestFileUploadTooLarge(t *testing.T) {
	ts := NewTestServer(t)

	big := strings.Repeat("x", int(ts.Config.MaxFileSize)+1)
	resp := uploadFile(t, ts, "", "big.bin", big)
	AssertStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestFileWorkspaceScoping(t *testing.T) {
	ts := NewTestServer(t)

	resp := uploadFile(t, ts, "ws_a", "a.txt", "alpha")
	AssertStatus(t, resp, http.StatusCreated)
	var file struct {
		ID          string  `json:"id"`
		WorkspaceID *string `json:"workspace_id"`
	}
	ParseJSON(t, resp, &file)
	if file.WorkspaceID == nil || *file.WorkspaceID != "ws_a" {
		t.Fatalf("workspace_id = %v, want ws_a", file.WorkspaceID)
	}

	// The owning workspace sees it; another workspace and the global scope
	// do not.
	resp = ts.WorkspaceClient("ws_a").Get("/v1/files/" + file.ID)
	AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = ts.WorkspaceClient("ws_b").Get("/v1/files/" + file.ID)
	AssertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = ts.Client().Get("/v1/files/" + file.ID)
	AssertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}
