package service

import (
	"context"
	"sort"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/pagination"
	"github.com/loomhq/loom/internal/store"
)

// MessageService manages the per-thread message tree. Messages link to their
// parent by id; the "main branch" is the path from the root to the most
// recently created leaf, following the latest child at every branch point.
type MessageService struct {
	store store.Store
}

// NewMessageService creates a message service.
func NewMessageService(s store.Store) *MessageService {
	return &MessageService{store: s}
}

// CreateMessageRequest are the parameters for appending a message.
type CreateMessageRequest struct {
	// ID preassigns the message id, so streamed deltas can reference the
	// message before it is persisted. Empty means generate one.
	ID string
	// ParentID is the explicit parent, or empty to append under the main
	// branch's latest leaf.
	ParentID    string
	Role        string
	Content     model.Content
	AssistantID *string
	RunID       *string
}

// Create appends a message to a thread's tree. With no explicit parent the
// message extends the main branch.
func (s *MessageService) Create(ctx context.Context, threadID string, req CreateMessageRequest) (*model.Message, error) {
	if _, err := s.store.Threads().FindOne(ctx, threadID); err != nil {
		return nil, err
	}
	if req.Role != model.RoleUser && req.Role != model.RoleAssistant {
		return nil, apierror.InvalidArgument("role must be %q or %q, got %q", model.RoleUser, model.RoleAssistant, req.Role)
	}
	if err := req.Content.Validate(); err != nil {
		return nil, apierror.InvalidArgument("%v", err)
	}

	tree, err := s.loadTree(ctx, threadID)
	if err != nil {
		return nil, err
	}

	parentID := req.ParentID
	switch {
	case parentID == "":
		parentID = model.ParentRoot
		if leaf := tree.mainLeaf(); leaf != nil {
			parentID = leaf.ID
		}
	case parentID == model.ParentRoot:
		// First message of a new branch at the root.
	default:
		if _, ok := tree.nodes[parentID]; !ok {
			return nil, apierror.NotFound("no such parent message in thread %s: %s", threadID, parentID)
		}
	}

	msg := &model.Message{
		ID:          req.ID,
		ThreadID:    threadID,
		ParentID:    parentID,
		Role:        req.Role,
		Content:     req.Content,
		AssistantID: req.AssistantID,
		RunID:       req.RunID,
	}
	if err := s.store.Messages().Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// List resolves a path through the thread's tree and pages over it. With no
// cursor that path is the main branch; after=X descends X's subtree to its
// latest leaf (exclusive of X); before=X climbs the ancestor chain to the
// root (exclusive of X). Order asc is oldest-first along the resolved path.
func (s *MessageService) List(ctx context.Context, threadID string, params pagination.Params) (pagination.Page[*model.Message], error) {
	var zero pagination.Page[*model.Message]
	params, err := params.Normalize()
	if err != nil {
		return zero, err
	}
	if _, err := s.store.Threads().FindOne(ctx, threadID); err != nil {
		return zero, err
	}

	tree, err := s.loadTree(ctx, threadID)
	if err != nil {
		return zero, err
	}

	// Resolve the path oldest-first.
	var path []*model.Message
	switch {
	case params.After != "":
		start, ok := tree.nodes[params.After]
		if !ok {
			return zero, apierror.NotFound("no such message in thread %s: %s", threadID, params.After)
		}
		path = tree.descend(start)
	case params.Before != "":
		start, ok := tree.nodes[params.Before]
		if !ok {
			return zero, apierror.NotFound("no such message in thread %s: %s", threadID, params.Before)
		}
		path = tree.ancestors(start)
	default:
		path = tree.mainBranch()
	}

	if params.Order == pagination.OrderDesc {
		for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
			path[i], path[j] = path[j], path[i]
		}
	}
	hasMore := len(path) > params.Limit
	if hasMore {
		path = path[:params.Limit]
	}
	return pagination.NewPage(path, func(m *model.Message) string { return m.ID }, hasMore), nil
}

// Get returns one message of a thread.
func (s *MessageService) Get(ctx context.Context, threadID, id string) (*model.Message, error) {
	msg, err := s.store.Messages().FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.ThreadID != threadID {
		return nil, apierror.NotFound("no such message in thread %s: %s", threadID, id)
	}
	return msg, nil
}

// Delete removes one message. Children are not re-parented: deleting an
// internal node orphans its subtree, which then sits outside every resolved
// path until its own messages are deleted.
func (s *MessageService) Delete(ctx context.Context, threadID, id string) error {
	if _, err := s.Get(ctx, threadID, id); err != nil {
		return err
	}
	return s.store.Messages().Delete(ctx, id)
}

// MainBranch returns the thread's main branch oldest-first, for run history.
func (s *MessageService) MainBranch(ctx context.Context, threadID string) ([]*model.Message, error) {
	tree, err := s.loadTree(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return tree.mainBranch(), nil
}

// tree is the per-call adjacency index: parent id to children ascending by
// id. Building it once keeps traversal cost proportional to path length,
// not thread size.
type tree struct {
	nodes    map[string]*model.Message
	children map[string][]*model.Message
}

func (s *MessageService) loadTree(ctx context.Context, threadID string) (*tree, error) {
	messages, err := s.store.MessagesByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	t := &tree{
		nodes:    make(map[string]*model.Message, len(messages)),
		children: make(map[string][]*model.Message),
	}
	for _, msg := range messages {
		t.nodes[msg.ID] = msg
	}
	for _, msg := range messages {
		parent := msg.ParentID
		if _, ok := t.nodes[parent]; !ok {
			// Root messages and orphans (parent deleted) both anchor at the
			// sentinel; orphaned subtrees stay reachable only by subtree
			// cursor from their own nodes.
			if parent != model.ParentRoot {
				continue
			}
		}
		t.children[parent] = append(t.children[parent], msg)
	}
	for parent := range t.children {
		kids := t.children[parent]
		sort.Slice(kids, func(i, j int) bool { return kids[i].ID < kids[j].ID })
	}
	return t, nil
}

// latestChild returns the most recently created child of a node, nil for a
// leaf. Ids are time-ordered, so this is the max-by-id child.
func (t *tree) latestChild(id string) *model.Message {
	kids := t.children[id]
	if len(kids) == 0 {
		return nil
	}
	return kids[len(kids)-1]
}

// mainBranch is the path from the root to the latest leaf, oldest first.
func (t *tree) mainBranch() []*model.Message {
	var path []*model.Message
	node := t.latestChild(model.ParentRoot)
	for node != nil {
		path = append(path, node)
		node = t.latestChild(node.ID)
	}
	return path
}

// mainLeaf is the main branch's final node, nil for an empty thread.
func (t *tree) mainLeaf() *model.Message {
	branch := t.mainBranch()
	if len(branch) == 0 {
		return nil
	}
	return branch[len(branch)-1]
}

// descend walks from start to the latest leaf of its subtree, exclusive of
// start, oldest first.
func (t *tree) descend(start *model.Message) []*model.Message {
	var path []*model.Message
	node := t.latestChild(start.ID)
	for node != nil {
		path = append(path, node)
		node = t.latestChild(node.ID)
	}
	return path
}

// ancestors walks from start up to the root, exclusive of start, returned
// oldest first (root first).
func (t *tree) ancestors(start *model.Message) []*model.Message {
	var chain []*model.Message
	node := t.nodes[start.ParentID]
	for node != nil {
		chain = append(chain, node)
		node = t.nodes[node.ParentID]
	}
	// Collected leaf-to-root; flip to oldest-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
