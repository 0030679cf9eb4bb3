// Package model defines the persisted entities. The same structs back both
// the relational tables (via GORM tags) and the file backend (via JSON tags);
// ids are stored in full prefixed form.
package model

import (
	"time"

	"gorm.io/gorm"

	"github.com/loomhq/loom/internal/ident"
)

// ParentRoot is the sentinel parent id carried by the first message of a
// branch in a thread.
const ParentRoot = "root"

// Entity is implemented by every persisted type so the generic repository
// can address records uniformly.
type Entity interface {
	GetID() string
	SetID(id string)
	IDPrefix() string
}

// WorkspaceScoped is implemented by entities visible per workspace. A nil
// workspace id means globally visible.
type WorkspaceScoped interface {
	GetWorkspaceID() *string
	SetWorkspaceID(id *string)
}

// Thread is the root of a message forest.
type Thread struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Name      *string   `gorm:"type:text" json:"name,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Thread) TableName() string { return "threads" }

func (t *Thread) GetID() string    { return t.ID }
func (t *Thread) SetID(id string)  { t.ID = id }
func (Thread) IDPrefix() string    { return ident.PrefixThread }

func (t *Thread) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = ident.New(ident.PrefixThread)
	}
	return nil
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a node in a thread's message tree. Messages are append-only:
// once created they are never mutated, only deleted.
type Message struct {
	ID          string    `gorm:"primaryKey;type:text" json:"id"`
	ThreadID    string    `gorm:"column:thread_id;not null;type:text;index" json:"thread_id"`
	ParentID    string    `gorm:"column:parent_id;not null;type:text;index" json:"parent_id"`
	Role        string    `gorm:"not null;type:text" json:"role"`
	Content     Content   `gorm:"type:text;not null;serializer:json" json:"content"`
	AssistantID *string   `gorm:"column:assistant_id;type:text" json:"assistant_id,omitempty"`
	RunID       *string   `gorm:"column:run_id;type:text" json:"run_id,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

func (m *Message) GetID() string   { return m.ID }
func (m *Message) SetID(id string) { m.ID = id }
func (Message) IDPrefix() string   { return ident.PrefixMessage }

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = ident.New(ident.PrefixMessage)
	}
	return nil
}

// Assistant is a named agent configuration runnable against a thread.
type Assistant struct {
	ID           string    `gorm:"primaryKey;type:text" json:"id"`
	WorkspaceID  *string   `gorm:"column:workspace_id;type:text;index" json:"workspace_id,omitempty"`
	Name         string    `gorm:"not null;type:text" json:"name"`
	Model        string    `gorm:"not null;type:text" json:"model"`
	Instructions *string   `gorm:"type:text" json:"instructions,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Assistant) TableName() string { return "assistants" }

func (a *Assistant) GetID() string   { return a.ID }
func (a *Assistant) SetID(id string) { a.ID = id }
func (Assistant) IDPrefix() string   { return ident.PrefixAssistant }

func (a *Assistant) GetWorkspaceID() *string   { return a.WorkspaceID }
func (a *Assistant) SetWorkspaceID(id *string) { a.WorkspaceID = id }

func (a *Assistant) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = ident.New(ident.PrefixAssistant)
	}
	return nil
}

// Workflow is a named multi-step configuration referencing an assistant.
type Workflow struct {
	ID          string    `gorm:"primaryKey;type:text" json:"id"`
	WorkspaceID *string   `gorm:"column:workspace_id;type:text;index" json:"workspace_id,omitempty"`
	Name        string    `gorm:"not null;type:text" json:"name"`
	AssistantID *string   `gorm:"column:assistant_id;type:text" json:"assistant_id,omitempty"`
	Steps       Steps     `gorm:"type:text;serializer:json" json:"steps,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Steps is the ordered step list of a workflow.
type Steps []WorkflowStep

// WorkflowStep is one prompt in a workflow.
type WorkflowStep struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

func (Workflow) TableName() string { return "workflows" }

func (w *Workflow) GetID() string   { return w.ID }
func (w *Workflow) SetID(id string) { w.ID = id }
func (Workflow) IDPrefix() string   { return ident.PrefixWorkflow }

func (w *Workflow) GetWorkspaceID() *string   { return w.WorkspaceID }
func (w *Workflow) SetWorkspaceID(id *string) { w.WorkspaceID = id }

func (w *Workflow) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = ident.New(ident.PrefixWorkflow)
	}
	return nil
}

// File is the metadata record for an uploaded blob. Bytes live in the blob
// area, keyed by id and workspace.
type File struct {
	ID          string    `gorm:"primaryKey;type:text" json:"id"`
	WorkspaceID *string   `gorm:"column:workspace_id;type:text;index" json:"workspace_id,omitempty"`
	Filename    string    `gorm:"not null;type:text" json:"filename"`
	Purpose     string    `gorm:"type:text" json:"purpose,omitempty"`
	SizeBytes   int64     `gorm:"column:size_bytes;not null" json:"size_bytes"`
	ContentType string    `gorm:"column:content_type;type:text" json:"content_type,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (File) TableName() string { return "files" }

func (f *File) GetID() string   { return f.ID }
func (f *File) SetID(id string) { f.ID = id }
func (File) IDPrefix() string   { return ident.PrefixFile }

func (f *File) GetWorkspaceID() *string   { return f.WorkspaceID }
func (f *File) SetWorkspaceID(id *string) { f.WorkspaceID = id }

func (f *File) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = ident.New(ident.PrefixFile)
	}
	return nil
}

// MCPConfig is a stored MCP server configuration.
type MCPConfig struct {
	ID          string    `gorm:"primaryKey;type:text" json:"id"`
	WorkspaceID *string   `gorm:"column:workspace_id;type:text;index" json:"workspace_id,omitempty"`
	Name        string    `gorm:"not null;type:text" json:"name"`
	Config      JSONMap   `gorm:"type:text;serializer:json" json:"config"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// JSONMap is a free-form JSON object column.
type JSONMap map[string]any

func (MCPConfig) TableName() string { return "mcp_configs" }

func (c *MCPConfig) GetID() string   { return c.ID }
func (c *MCPConfig) SetID(id string) { c.ID = id }
func (MCPConfig) IDPrefix() string   { return ident.PrefixMCPConfig }

func (c *MCPConfig) GetWorkspaceID() *string   { return c.WorkspaceID }
func (c *MCPConfig) SetWorkspaceID(id *string) { c.WorkspaceID = id }

func (c *MCPConfig) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = ident.New(ident.PrefixMCPConfig)
	}
	return nil
}

// SchemaMigration records one applied schema revision. The table is an
// append-log; the max version is the currently applied revision.
type SchemaMigration struct {
	Version   int       `gorm:"primaryKey" json:"version"`
	Name      string    `gorm:"not null;type:text" json:"name"`
	AppliedAt time.Time `gorm:"column:applied_at;autoCreateTime" json:"applied_at"`
}

func (SchemaMigration) TableName() string { return "schema_migrations" }

// AllModels returns every model type for schema migration.
func AllModels() []interface{} {
	return []interface{}{
		&Thread{},
		&Message{},
		&Run{},
		&Event{},
		&Assistant{},
		&Workflow{},
		&File{},
		&MCPConfig{},
	}
}
