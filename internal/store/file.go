package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/ident"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/repo"
)

// Directory layout of the file backend under the data dir.
const (
	collectionsDir = "collections"
	eventsDir      = "events"
	closedMarker   = ".closed"
)

// liveBufferCap bounds the in-memory window served to the live poller.
// Subscribers that fall further behind recover via durable Replay.
const liveBufferCap = 4096

// FileStore is the file-backed Store implementation: one JSON document per
// entity under collections/, one file per event under events/. Concurrent
// updates to the same entity are last-writer-wins.
type FileStore struct {
	dataDir    string
	threads    repo.Repository[*model.Thread]
	messages   repo.Repository[*model.Message]
	runs       repo.Repository[*model.Run]
	assistants repo.Repository[*model.Assistant]
	workflows  repo.Repository[*model.Workflow]
	files      repo.Repository[*model.File]
	mcpConfigs repo.Repository[*model.MCPConfig]
	events     *fileEventLog

	// runMu serializes run creation and mutation within the process.
	// Cross-process writers race (documented).
	runMu sync.Mutex
}

// NewFile builds a Store rooted at the data directory.
func NewFile(dataDir string) (*FileStore, error) {
	s := &FileStore{dataDir: dataDir}

	var err error
	if s.threads, err = repo.NewFile[model.Thread, *model.Thread](s.collection("threads")); err != nil {
		return nil, err
	}
	if s.messages, err = repo.NewFile[model.Message, *model.Message](s.collection("messages")); err != nil {
		return nil, err
	}
	if s.runs, err = repo.NewFile[model.Run, *model.Run](s.collection("runs")); err != nil {
		return nil, err
	}
	if s.assistants, err = repo.NewFile[model.Assistant, *model.Assistant](s.collection("assistants")); err != nil {
		return nil, err
	}
	if s.workflows, err = repo.NewFile[model.Workflow, *model.Workflow](s.collection("workflows")); err != nil {
		return nil, err
	}
	if s.files, err = repo.NewFile[model.File, *model.File](s.collection("files")); err != nil {
		return nil, err
	}
	if s.mcpConfigs, err = repo.NewFile[model.MCPConfig, *model.MCPConfig](s.collection("mcp_configs")); err != nil {
		return nil, err
	}
	s.events = &fileEventLog{
		baseDir: filepath.Join(dataDir, eventsDir),
		lastSeq: make(map[string]int64),
	}
	if err := os.MkdirAll(s.events.baseDir, 0o755); err != nil {
		return nil, apierror.Storage(err, "create events dir")
	}
	return s, nil
}

func (s *FileStore) collection(name string) string {
	return filepath.Join(s.dataDir, collectionsDir, name)
}

func (s *FileStore) Threads() repo.Repository[*model.Thread]       { return s.threads }
func (s *FileStore) Messages() repo.Repository[*model.Message]     { return s.messages }
func (s *FileStore) Runs() repo.Repository[*model.Run]             { return s.runs }
func (s *FileStore) Assistants() repo.Repository[*model.Assistant] { return s.assistants }
func (s *FileStore) Workflows() repo.Repository[*model.Workflow]   { return s.workflows }
func (s *FileStore) Files() repo.Repository[*model.File]           { return s.files }
func (s *FileStore) MCPConfigs() repo.Repository[*model.MCPConfig] { return s.mcpConfigs }
func (s *FileStore) Events() EventLog                              { return s.events }

func (s *FileStore) MessagesByThread(ctx context.Context, threadID string) ([]*model.Message, error) {
	return s.messages.All(ctx, map[string]any{"thread_id": threadID})
}

func (s *FileStore) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.threads.FindOne(ctx, threadID); err != nil {
		return err
	}

	runs, err := s.runs.All(ctx, map[string]any{"thread_id": threadID})
	if err != nil {
		return err
	}
	for _, run := range runs {
		if err := s.events.removeRun(run.ID); err != nil {
			return err
		}
		if err := s.runs.Delete(ctx, run.ID); err != nil && !apierror.IsNotFound(err) {
			return err
		}
	}

	messages, err := s.messages.All(ctx, map[string]any{"thread_id": threadID})
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if err := s.messages.Delete(ctx, msg.ID); err != nil && !apierror.IsNotFound(err) {
			return err
		}
	}

	return s.threads.Delete(ctx, threadID)
}

func (s *FileStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	existing, err := s.runs.All(ctx, map[string]any{"thread_id": run.ThreadID})
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, r := range existing {
		if r.Active(now) {
			return apierror.Conflict("thread %s already has an active run: %s", run.ThreadID, r.ID)
		}
	}
	return s.runs.Create(ctx, run)
}

func (s *FileStore) MutateRun(ctx context.Context, id string, fn func(*model.Run) error) (*model.Run, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	run, err := s.runs.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(run); err != nil {
		return nil, err
	}
	if err := s.runs.Update(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// fileEventLog stores one file per event under events/{run}/{seq}.json.
// Exclusive creation of the sequence-named file rejects concurrent appends;
// a marker file records a closed log. Global ordinals exist only for the
// in-process live poller and restart at zero with the process.
type fileEventLog struct {
	baseDir string

	mu         sync.Mutex
	lastSeq    map[string]int64
	nextGlobal int64
	buffer     []*model.Event
}

func (l *fileEventLog) runDir(runID string) (string, error) {
	raw, err := ident.StripPrefix(runID)
	if err != nil {
		return "", apierror.InvalidArgument("malformed run id %q", runID)
	}
	return filepath.Join(l.baseDir, raw), nil
}

func seqName(seq int64) string {
	return fmt.Sprintf("%010d.json", seq)
}

func (l *fileEventLog) Append(ctx context.Context, event *model.Event) error {
	dir, err := l.runDir(event.RunID)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(filepath.Join(dir, closedMarker)); err == nil {
		return apierror.Conflict("event log for run %s is closed", event.RunID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apierror.Storage(err, "create run event dir for %s", event.RunID)
	}

	seq, ok := l.lastSeq[event.RunID]
	if !ok {
		if seq, err = scanMaxSeq(dir); err != nil {
			return err
		}
	}
	event.SequenceNum = seq + 1
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.ID = l.nextGlobal + 1

	data, err := json.Marshal(event)
	if err != nil {
		return apierror.Storage(err, "encode event for run %s", event.RunID)
	}
	f, err := os.OpenFile(filepath.Join(dir, seqName(event.SequenceNum)), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return apierror.Conflict("concurrent append to run %s at sequence %d", event.RunID, event.SequenceNum)
		}
		return apierror.Storage(err, "append event for run %s", event.RunID)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return apierror.Storage(err, "write event for run %s", event.RunID)
	}
	if err := f.Close(); err != nil {
		return apierror.Storage(err, "close event file for run %s", event.RunID)
	}

	l.lastSeq[event.RunID] = event.SequenceNum
	l.nextGlobal++
	l.buffer = append(l.buffer, event)
	if len(l.buffer) > liveBufferCap {
		l.buffer = l.buffer[len(l.buffer)-liveBufferCap:]
	}

	if model.TerminalEvent(event.EventType) {
		marker, err := os.Create(filepath.Join(dir, closedMarker))
		if err != nil {
			return apierror.Storage(err, "close log for run %s", event.RunID)
		}
		marker.Close()
	}
	return nil
}

func (l *fileEventLog) Replay(ctx context.Context, runID string, fromSeq int64) ([]*model.Event, error) {
	dir, err := l.runDir(runID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierror.Storage(err, "read event dir for run %s", runID)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var events []*model.Event
	for _, name := range names {
		seq, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil || seq < fromSeq {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, apierror.Storage(err, "read event %s of run %s", name, runID)
		}
		var event model.Event
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, apierror.Storage(err, "decode event %s of run %s", name, runID)
		}
		events = append(events, &event)
	}
	return events, nil
}

func (l *fileEventLog) ListAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*model.Event
	for _, event := range l.buffer {
		if event.ID > afterID {
			out = append(out, event)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (l *fileEventLog) MaxID(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextGlobal, nil
}

func (l *fileEventLog) removeRun(runID string) error {
	dir, err := l.runDir(runID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.lastSeq, runID)
	l.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		return apierror.Storage(err, "remove events of run %s", runID)
	}
	return nil
}

func scanMaxSeq(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, apierror.Storage(err, "scan event dir %s", dir)
	}
	var maxSeq int64
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		seq, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err == nil && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}
