// Package agent defines the boundary behind which model providers live. The
// engine invokes an Agent with the run's context and an Emitter; everything
// the agent produces flows out as messages and run-step events. Providers
// are opaque: nothing above this interface knows how output is generated.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomhq/loom/internal/model"
)

// Emitter is how an agent streams output into a run. Implementations
// persist messages and publish events; agents only describe what happened.
type Emitter interface {
	// NewMessageID reserves an id for a message being composed, so deltas
	// can reference it before the message exists.
	NewMessageID() string
	// EmitMessageDelta streams one content-block fragment. Index positions
	// the block within the message regardless of delta interleaving.
	EmitMessageDelta(ctx context.Context, messageID string, index int, block model.Block) error
	// FinishMessage persists the completed assistant message under the
	// thread's latest leaf and emits it in full.
	FinishMessage(ctx context.Context, messageID string, content model.Content) (*model.Message, error)
	// EmitRunStep records a tool-call or tool-result sub-step.
	EmitRunStep(ctx context.Context, step model.RunStepData) error
	// EmitRunStepDelta streams partial step arguments or output.
	EmitRunStepDelta(ctx context.Context, delta model.RunStepDeltaData) error
}

// Invocation carries everything an agent sees about one run.
type Invocation struct {
	Run     *model.Run
	Thread  *model.Thread
	// History is the thread's main branch, oldest first.
	History []*model.Message
	Emitter Emitter
}

// Agent executes one run. Execute observes ctx at its suspension points;
// a context cancellation is a cooperative stop, not an error of the agent.
type Agent interface {
	Name() string
	Execute(ctx context.Context, inv *Invocation) error
}

// Registry maps model names to agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent under its name, replacing any previous entry.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name()] = a
}

// Get returns the agent for a model name.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("no agent registered for model %q", name)
	}
	return a, nil
}
