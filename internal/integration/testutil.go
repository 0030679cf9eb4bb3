// Package integration exercises the full HTTP surface over a real server:
// router, handlers, services, engine, and storage together.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/agent"
	"github.com/loomhq/loom/internal/blob"
	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/database"
	"github.com/loomhq/loom/internal/engine"
	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/handler"
	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/middleware"
	"github.com/loomhq/loom/internal/migrate"
	"github.com/loomhq/loom/internal/service"
	"github.com/loomhq/loom/internal/store"
)

// TestServer wraps a running HTTP server with everything behind it.
type TestServer struct {
	Server *httptest.Server
	Store  store.Store
	Config *config.Config
	Broker *events.Broker
	Engine *engine.Engine
	T      *testing.T
}

// NewTestServer starts a server over the relational backend (temp-dir
// sqlite, or TEST_DATABASE_DSN when set) with the full migration chain
// applied. Everything stops on test cleanup.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	driver := "postgres"
	if dsn == "" {
		dsn = fmt.Sprintf("sqlite3://%s/test.db", t.TempDir())
	}
	if strings.HasPrefix(dsn, "sqlite") {
		driver = "sqlite"
	}

	cfg := &config.Config{
		Port:           8080,
		CORSOrigins:    []string{"*"},
		DatabaseDSN:    dsn,
		DatabaseDriver: driver,
		DataDir:        t.TempDir(),
		StorageBackend: config.BackendDatabase,
		RunExpiresIn:   time.Minute,
		DefaultAgent:   agent.EchoName,
		MaxFileSize:    1 << 20,
		LogLevel:       "error",
		LogFormat:      "console",
	}

	db, err := database.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	log := logger.NewNop()
	runner := migrate.NewRunner(db, cfg.DataDir, log)
	if err := runner.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	s := store.NewSQL(db)
	if _, err := store.Seed(context.Background(), s, cfg.DefaultAgent); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}

	pollerCfg := events.DefaultPollerConfig()
	pollerCfg.PollInterval = 10 * time.Millisecond // fast polling for tests
	poller := events.NewPoller(s, pollerCfg, log)
	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start event poller: %v", err)
	}
	broker := events.NewBroker(s, poller)

	registry := agent.NewRegistry()
	registry.Register(agent.NewEcho())

	blobs, err := blob.New(cfg.DataDir)
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}

	threadSvc := service.NewThreadService(s)
	messageSvc := service.NewMessageService(s)
	runSvc := service.NewRunService(s, cfg.RunExpiresIn)
	fileSvc := service.NewFileService(s, blobs, cfg.MaxFileSize)

	eng := engine.New(s, broker, registry, messageSvc, log)
	eng.Start(context.Background())
	threadSvc.SetCanceller(eng)
	runSvc.SetDispatcher(eng)

	h := handler.New(cfg, log, broker, handler.Services{
		Threads:    threadSvc,
		Messages:   messageSvc,
		Runs:       runSvc,
		Files:      fileSvc,
		Assistants: service.NewResourceService(s.Assistants()),
		Workflows:  service.NewResourceService(s.Workflows()),
		MCPConfigs: service.NewResourceService(s.MCPConfigs()),
	})

	server := httptest.NewServer(h.Routes())

	ts := &TestServer{
		Server: server,
		Store:  s,
		Config: cfg,
		Broker: broker,
		Engine: eng,
		T:      t,
	}

	t.Cleanup(func() {
		eng.Stop()
		poller.Stop()
		server.Close()
		db.Close()
	})

	return ts
}

// Client makes requests against the test server. Workspace, when set, is
// sent as the scoping header.
type Client struct {
	ts        *TestServer
	Workspace string
}

// Client returns a request helper for the global scope.
func (ts *TestServer) Client() *Client {
	return &Client{ts: ts}
}

// WorkspaceClient returns a request helper scoped to one workspace.
func (ts *TestServer) WorkspaceClient(workspace string) *Client {
	return &Client{ts: ts, Workspace: workspace}
}

func (c *Client) Get(path string) *http.Response {
	c.ts.T.Helper()
	return c.do("GET", path, nil)
}

func (c *Client) Post(path string, body any) *http.Response {
	c.ts.T.Helper()
	return c.do("POST", path, body)
}

func (c *Client) Patch(path string, body any) *http.Response {
	c.ts.T.Helper()
	return c.do("PATCH", path, body)
}

func (c *Client) Delete(path string) *http.Response {
	c.ts.T.Helper()
	return c.do("DELETE", path, nil)
}

func (c *Client) do(method, path string, body any) *http.Response {
	c.ts.T.Helper()

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			c.ts.T.Fatalf("Failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, c.ts.Server.URL+path, bodyReader)
	if err != nil {
		c.ts.T.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Workspace != "" {
		req.Header.Set(middleware.WorkspaceHeader, c.Workspace)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.ts.T.Fatalf("Request failed: %v", err)
	}
	return resp
}

// ParseJSON parses the response body as JSON.
func ParseJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("Failed to parse JSON: %v\nBody: %s", err, string(body))
	}
}

// AssertStatus checks the response status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("Expected status %d, got %d\nBody: %s", expected, resp.StatusCode, string(body))
	}
}
