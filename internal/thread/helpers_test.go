package thread

import (
	"context"
	"sync"
	"testing"

	"schoolforum/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forumStub is a stub for Forum.
type forumStub struct {
	getPostFn    func(context.Context, string, string) (*models.Post, error)
	getCommentFn func(context.Context, string, string, int) (*models.Comment, error)
	upsertFn     func(context.Context, string, *models.Comment, []models.MediaItem) error
	deleteFn     func(context.Context, string, string) error
}

func (s *forumStub) GetPostByID(ctx context.Context, userID, postID string) (*models.Post, error) {
	return s.getPostFn(ctx, userID, postID)
}
func (s *forumStub) GetCommentByID(ctx context.Context, userID, commentID string, depth int) (*models.Comment, error) {
	return s.getCommentFn(ctx, userID, commentID, depth)
}
func (s *forumStub) UpsertComment(ctx context.Context, userID string, c *models.Comment, media []models.MediaItem) error {
	return s.upsertFn(ctx, userID, c, media)
}
func (s *forumStub) DeleteComment(ctx context.Context, userID, commentID string) error {
	return s.deleteFn(ctx, userID, commentID)
}

// stubForPost serves post as the only post; every other call fails the test.
func stubForPost(t *testing.T, post *models.Post) *forumStub {
	t.Helper()
	return &forumStub{
		getPostFn: func(_ context.Context, _, _ string) (*models.Post, error) {
			return post.Clone(), nil
		},
		getCommentFn: func(_ context.Context, _, id string, _ int) (*models.Comment, error) {
			t.Errorf("unexpected subtree fetch for %s", id)
			return nil, nil
		},
		upsertFn: func(_ context.Context, _ string, _ *models.Comment, _ []models.MediaItem) error {
			t.Error("unexpected upsert")
			return nil
		},
		deleteFn: func(_ context.Context, _, id string) error {
			t.Errorf("unexpected delete of %s", id)
			return nil
		},
	}
}

type observerEvent struct {
	kind string
	id   string
	err  error
}

type recordingObserver struct {
	mu     sync.Mutex
	events []observerEvent
}

func (o *recordingObserver) SubtreeFetched(id string, err error) {
	o.record(observerEvent{kind: "fetch", id: id, err: err})
}
func (o *recordingObserver) Synced(scope SyncScope, err error) {
	o.record(observerEvent{kind: "sync", id: string(scope), err: err})
}
func (o *recordingObserver) ExpandRejected(id string) {
	o.record(observerEvent{kind: "rejected", id: id})
}

func (o *recordingObserver) record(e observerEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) kinds() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.events))
	for i, e := range o.events {
		out[i] = e.kind + ":" + e.id
	}
	return out
}

// shallow builds a comment whose children were never fetched.
func shallow(id string, count int) *models.Comment {
	return &models.Comment{ID: id, Body: "body " + id, ParentID: "P", ParentPostID: "P", TotalChildrenCount: count}
}

// loaded builds a comment with its children fetched and a count derived from them.
func loaded(id string, children ...*models.Comment) *models.Comment {
	c := shallow(id, 0)
	c.Children = []*models.Comment{}
	for _, child := range children {
		child.ParentID = id
		c.Children = append(c.Children, child)
	}
	c.TotalChildrenCount = RecomputeTotal(c)
	return c
}

func ids(comments []*models.Comment) []string {
	out := make([]string, len(comments))
	for i, c := range comments {
		out[i] = c.ID
	}
	return out
}

// assertDepthConsistent checks that every loaded node's count matches its
// children's counts.
func assertDepthConsistent(t *testing.T, tree []*models.Comment) {
	t.Helper()
	for _, c := range tree {
		if !c.ChildrenLoaded() {
			continue
		}
		want := 0
		for _, child := range c.Children {
			want += 1 + child.TotalChildrenCount
		}
		assert.Equal(t, want, c.TotalChildrenCount, "count of %s", c.ID)
		assertDepthConsistent(t, c.Children)
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := models.AsAppError(err)
	require.True(t, ok, "expected AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code)
}

func openView(t *testing.T, forum Forum, opts Options) *PostView {
	t.Helper()
	v, err := OpenPostView(context.Background(), forum, "user-1", "P", opts)
	require.NoError(t, err)
	return v
}
