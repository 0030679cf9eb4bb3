package service

import (
	"context"
	"testing"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/pagination"
	"github.com/loomhq/loom/internal/store"
)

func testMessages(t *testing.T) (*MessageService, string) {
	t.Helper()
	s, err := store.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("store.NewFile failed: %v", err)
	}
	thread := &model.Thread{}
	if err := s.Threads().Create(context.Background(), thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return NewMessageService(s), thread.ID
}

func addMessage(t *testing.T, svc *MessageService, threadID, parentID, text string) *model.Message {
	t.Helper()
	msg, err := svc.Create(context.Background(), threadID, CreateMessageRequest{
		ParentID: parentID,
		Role:     model.RoleUser,
		Content:  model.TextContent(text),
	})
	if err != nil {
		t.Fatalf("create message %q: %v", text, err)
	}
	return msg
}

func ids(msgs []*model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func sameIDs(a []string, b []*model.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i].ID {
			return false
		}
	}
	return true
}

// Seeds A -> B -> C, then branches A -> D. D is newer than B, so the main
// branch becomes [A, D].
func TestMainBranchFollowsLatestChild(t *testing.T) {
	svc, threadID := testMessages(t)
	ctx := context.Background()

	a := addMessage(t, svc, threadID, "", "A")
	b := addMessage(t, svc, threadID, "", "B")
	c := addMessage(t, svc, threadID, "", "C")
	d := addMessage(t, svc, threadID, a.ID, "D")

	branch, err := svc.MainBranch(ctx, threadID)
	if err != nil {
		t.Fatalf("MainBranch failed: %v", err)
	}
	if !sameIDs([]string{a.ID, d.ID}, branch) {
		t.Errorf("main branch = %v, want [A=%s D=%s]", ids(branch), a.ID, d.ID)
	}

	// The abandoned branch stays reachable by subtree cursor from A's
	// older child.
	page, err := svc.List(ctx, threadID, pagination.Params{After: b.ID, Order: pagination.OrderAsc})
	if err != nil {
		t.Fatalf("List after=B failed: %v", err)
	}
	if !sameIDs([]string{c.ID}, page.Data) {
		t.Errorf("after=B page = %v, want [C=%s]", ids(page.Data), c.ID)
	}
}

func TestImplicitParentExtendsMainBranch(t *testing.T) {
	svc, threadID := testMessages(t)

	a := addMessage(t, svc, threadID, "", "A")
	if a.ParentID != model.ParentRoot {
		t.Errorf("first message parent = %q, want %q", a.ParentID, model.ParentRoot)
	}
	b := addMessage(t, svc, threadID, "", "B")
	if b.ParentID != a.ID {
		t.Errorf("second message parent = %q, want %q", b.ParentID, a.ID)
	}
}

func TestCreateRejectsUnknownParentAndRole(t *testing.T) {
	svc, threadID := testMessages(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, threadID, CreateMessageRequest{
		ParentID: "msg_doesnotexist",
		Role:     model.RoleUser,
		Content:  model.TextContent("x"),
	})
	if !apierror.IsNotFound(err) {
		t.Errorf("unknown parent: got %v, want NotFound", err)
	}

	_, err = svc.Create(ctx, threadID, CreateMessageRequest{
		Role:    "system",
		Content: model.TextContent("x"),
	})
	if !apierror.IsInvalidArgument(err) {
		t.Errorf("bad role: got %v, want InvalidArgument", err)
	}
}

func TestListBeforeWalksAncestors(t *testing.T) {
	svc, threadID := testMessages(t)
	ctx := context.Background()

	a := addMessage(t, svc, threadID, "", "A")
	b := addMessage(t, svc, threadID, "", "B")
	c := addMessage(t, svc, threadID, "", "C")

	page, err := svc.List(ctx, threadID, pagination.Params{Before: c.ID, Order: pagination.OrderAsc})
	if err != nil {
		t.Fatalf("List before=C failed: %v", err)
	}
	if !sameIDs([]string{a.ID, b.ID}, page.Data) {
		t.Errorf("before=C page = %v, want [A B]", ids(page.Data))
	}

	// Descending order reverses the resolved path.
	page, err = svc.List(ctx, threadID, pagination.Params{Before: c.ID, Order: pagination.OrderDesc})
	if err != nil {
		t.Fatalf("List before=C desc failed: %v", err)
	}
	if !sameIDs([]string{b.ID, a.ID}, page.Data) {
		t.Errorf("before=C desc page = %v, want [B A]", ids(page.Data))
	}
}

func TestListRejectsBothCursors(t *testing.T) {
	svc, threadID := testMessages(t)
	a := addMessage(t, svc, threadID, "", "A")
	b := addMessage(t, svc, threadID, "", "B")

	_, err := svc.List(context.Background(), threadID, pagination.Params{After: a.ID, Before: b.ID})
	if !apierror.IsInvalidArgument(err) {
		t.Errorf("both cursors: got %v, want InvalidArgument", err)
	}
}

func TestListUnknownCursorIsNotFound(t *testing.T) {
	svc, threadID := testMessages(t)
	addMessage(t, svc, threadID, "", "A")

	_, err := svc.List(context.Background(), threadID, pagination.Params{After: "msg_nope"})
	if !apierror.IsNotFound(err) {
		t.Errorf("unknown cursor: got %v, want NotFound", err)
	}
}

func TestDeleteOrphansSubtree(t *testing.T) {
	svc, threadID := testMessages(t)
	ctx := context.Background()

	a := addMessage(t, svc, threadID, "", "A")
	b := addMessage(t, svc, threadID, "", "B")
	c := addMessage(t, svc, threadID, "", "C")

	if err := svc.Delete(ctx, threadID, b.ID); err != nil {
		t.Fatalf("Delete B failed: %v", err)
	}

	// C's parent is gone, so the main branch ends at A.
	branch, err := svc.MainBranch(ctx, threadID)
	if err != nil {
		t.Fatalf("MainBranch failed: %v", err)
	}
	if !sameIDs([]string{a.ID}, branch) {
		t.Errorf("main branch after delete = %v, want [A]", ids(branch))
	}

	// The orphan itself still exists and can be fetched directly.
	if _, err := svc.Get(ctx, threadID, c.ID); err != nil {
		t.Errorf("orphan Get failed: %v", err)
	}
}

func TestGetScopedToThread(t *testing.T) {
	svc, threadID := testMessages(t)
	a := addMessage(t, svc, threadID, "", "A")

	_, err := svc.Get(context.Background(), "thread_other", a.ID)
	if !apierror.IsNotFound(err) {
		t.Errorf("cross-thread Get: got %v, want NotFound", err)
	}
}
