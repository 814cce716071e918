package thread

import (
	"context"
	"strings"
	"sync"
	"time"

	"schoolforum/internal/models"
)

// DefaultFetchDepth is the number of child levels requested per subtree fetch.
const DefaultFetchDepth = 1

// ErrViewClosed is returned by operations on a view that was closed.
var ErrViewClosed = &models.AppError{Code: models.CodeNotFound, Message: "Post view is closed"}

// Forum is the upstream forum server as seen by a post view.
type Forum interface {
	GetPostByID(ctx context.Context, userID, postID string) (*models.Post, error)
	GetCommentByID(ctx context.Context, userID, commentID string, depth int) (*models.Comment, error)
	UpsertComment(ctx context.Context, userID string, comment *models.Comment, media []models.MediaItem) error
	DeleteComment(ctx context.Context, userID, commentID string) error
}

// SyncScope names the region refetched after a mutation.
type SyncScope string

const (
	ScopeTopLevel SyncScope = "top_level"
	ScopeNested   SyncScope = "nested"
)

// Observer receives engine events. It is called without the view lock held.
type Observer interface {
	SubtreeFetched(commentID string, err error)
	Synced(scope SyncScope, err error)
	ExpandRejected(commentID string)
}

type nopObserver struct{}

func (nopObserver) SubtreeFetched(string, error) {}
func (nopObserver) Synced(SyncScope, error)      {}
func (nopObserver) ExpandRejected(string)        {}

// Options tune a post view.
type Options struct {
	// Depth of subtree fetches; DefaultFetchDepth when zero.
	Depth int
	// Strict makes an invalid index chain panic instead of returning OUT_OF_RANGE.
	Strict   bool
	Observer Observer
	Now      func() time.Time
}

// Submission is a new comment or an edit of an existing one.
type Submission struct {
	Body string `json:"body"`
	// ReplyToID is the comment being replied to; empty replies to the post.
	ReplyToID string `json:"replyToId,omitempty"`
	// EditingID is the comment being edited; empty creates a new comment.
	EditingID string             `json:"editingId,omitempty"`
	Media     []models.MediaItem `json:"media,omitempty"`
}

// Snapshot is a deep copy of a view's state, safe to hand to a renderer.
type Snapshot struct {
	Post       *models.Post `json:"post"`
	Expanded   []string     `json:"expanded"`
	Processing []string     `json:"processing"`
	Version    uint64       `json:"version"`
}

// PostView is one open forum page: a post, its partially loaded comment tree
// and the reader's expansion state. The lock guards in-memory state only and
// is never held across a forum call.
type PostView struct {
	forum  Forum
	userID string
	postID string
	opts   Options

	mu     sync.Mutex
	post   *models.Post
	state  *ExpansionState
	closed bool
}

// OpenPostView fetches the post with its top-level comments and starts a view
// with nothing expanded.
func OpenPostView(ctx context.Context, forum Forum, userID, postID string, opts Options) (*PostView, error) {
	if opts.Depth < 1 {
		opts.Depth = DefaultFetchDepth
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	post, err := forum.GetPostByID(ctx, userID, postID)
	if err != nil {
		return nil, models.NewFetchFailure("post "+postID, err)
	}
	if post == nil {
		return nil, models.NewNotFoundError("Post", postID)
	}
	if post.Children == nil {
		post.Children = []*models.Comment{}
	}

	return &PostView{
		forum:  forum,
		userID: userID,
		postID: postID,
		opts:   opts,
		post:   post,
		state:  NewExpansionState(),
	}, nil
}

func (v *PostView) UserID() string { return v.userID }
func (v *PostView) PostID() string { return v.postID }

// Snapshot returns a deep copy of the post, its tree and the expansion sets.
func (v *PostView) Snapshot() (*Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrViewClosed
	}
	return &Snapshot{
		Post:       v.post.Clone(),
		Expanded:   v.state.Expanded().Sorted(),
		Processing: v.state.Processing().Sorted(),
		Version:    v.state.Version(),
	}, nil
}

// Comments returns a deep copy of the top-level comment list.
func (v *PostView) Comments() []*models.Comment {
	v.mu.Lock()
	defer v.mu.Unlock()
	return models.CloneComments(v.post.Children)
}

func (v *PostView) Expanded() IDSet {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Expanded()
}

func (v *PostView) Processing() IDSet {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Processing()
}

// TotalComments returns the post-level comment counter.
func (v *PostView) TotalComments() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.post.TotalChildrenCount
}

// Close discards the expansion state. Fetches still in flight are ignored
// when they complete.
func (v *PostView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.state = NewExpansionState()
}

func (v *PostView) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// SubmitComment creates a comment, or edits one when EditingID is set, then
// refetches the affected region of the tree.
func (v *PostView) SubmitComment(ctx context.Context, s Submission) error {
	if strings.TrimSpace(s.Body) == "" {
		return models.NewValidationError("Comment body cannot be empty")
	}
	for _, m := range s.Media {
		if err := m.Validate(); err != nil {
			return err
		}
	}

	comment, err := v.buildComment(s)
	if err != nil {
		return err
	}
	creating := comment.ID == ""
	action := "create"
	if !creating {
		action = "edit"
	}

	if err := v.forum.UpsertComment(ctx, v.userID, comment, s.Media); err != nil {
		return models.NewMutationFailure(action, err)
	}

	syncErr := v.synchronize(ctx, comment)

	if creating {
		v.mu.Lock()
		if !v.closed {
			ApplyCreated(v.post)
		}
		v.mu.Unlock()
	}
	return syncErr
}

func (v *PostView) buildComment(s Submission) (*models.Comment, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrViewClosed
	}
	now := v.opts.Now().UTC()

	if s.EditingID != "" {
		existing, _, ok := FindByID(v.post.Children, s.EditingID)
		if !ok {
			return nil, models.NewNotFoundError("Comment", s.EditingID)
		}
		edited := *existing
		edited.Body = s.Body
		edited.LastUpdatedAt = &now
		edited.Media = nil
		edited.Children = nil
		return &edited, nil
	}

	parentID := v.postID
	if s.ReplyToID != "" {
		if _, _, ok := FindByID(v.post.Children, s.ReplyToID); !ok {
			return nil, models.NewNotFoundError("Comment", s.ReplyToID)
		}
		parentID = s.ReplyToID
	}
	return &models.Comment{
		AuthorID:     v.userID,
		Body:         s.Body,
		ParentID:     parentID,
		ParentPostID: v.postID,
		PublishedAt:  now,
	}, nil
}

// DeleteComment deletes a loaded comment and its descendants, refetches the
// affected region and lowers the post counter by the deleted branch's last
// known size.
func (v *PostView) DeleteComment(ctx context.Context, commentID string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	found, _, ok := FindByID(v.post.Children, commentID)
	if !ok {
		v.mu.Unlock()
		return models.NewNotFoundError("Comment", commentID)
	}
	deleted := found.Clone()
	v.mu.Unlock()

	if err := v.forum.DeleteComment(ctx, v.userID, commentID); err != nil {
		return models.NewMutationFailure("delete", err)
	}

	syncErr := v.synchronize(ctx, deleted)

	v.mu.Lock()
	if !v.closed {
		ApplyDeleted(v.post, deleted)
		forgetBranch(v.state, deleted)
	}
	v.mu.Unlock()
	return syncErr
}

func forgetBranch(state *ExpansionState, c *models.Comment) {
	state.Forget(c.ID)
	for _, child := range c.Children {
		forgetBranch(state, child)
	}
}

// outOfRange reports an invalid index chain. Strict views treat it as a defect.
func (v *PostView) outOfRange(err error) error {
	if v.opts.Strict {
		panic(err)
	}
	return err
}
