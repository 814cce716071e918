// Package service owns the post views opened by UI clients.
package service

import (
	"context"
	"sync"
	"time"

	"schoolforum/internal/models"
	"schoolforum/internal/observability"
	"schoolforum/internal/thread"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const defaultReaperInterval = time.Minute

// ViewServiceConfig controls post view options and idle expiry.
type ViewServiceConfig struct {
	Depth  int
	Strict bool
	// IdleTimeout closes views untouched for that long; zero keeps them until closed.
	IdleTimeout    time.Duration
	ReaperInterval time.Duration
	Now            func() time.Time
}

type viewEntry struct {
	view     *thread.PostView
	lastUsed time.Time
}

// ViewService is the registry of open post views. Each view belongs to the
// user who opened it.
type ViewService struct {
	forum   thread.Forum
	cfg     ViewServiceConfig
	logger  *observability.ViewLogger
	metrics *observability.EngineMetrics

	mu    sync.Mutex
	views map[string]*viewEntry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewViewService creates the registry and starts the idle reaper when an idle
// timeout is configured.
func NewViewService(forum thread.Forum, cfg ViewServiceConfig) *ViewService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = defaultReaperInterval
	}
	s := &ViewService{
		forum:   forum,
		cfg:     cfg,
		logger:  observability.NewViewLogger(),
		metrics: observability.NewEngineMetrics(),
		views:   make(map[string]*viewEntry),
		stopCh:  make(chan struct{}),
	}
	if cfg.IdleTimeout > 0 {
		go s.reaperLoop()
	}
	return s
}

// OpenView loads a post for userID and registers a new view on it.
func (s *ViewService) OpenView(ctx context.Context, userID, postID string) (string, *thread.Snapshot, error) {
	viewID := uuid.NewString()
	span, ctx := observability.StartViewSpan(ctx, "open", viewID)
	defer span.End()
	span.AddAttributes(attribute.String("post.id", postID))

	view, err := thread.OpenPostView(ctx, s.forum, userID, postID, thread.Options{
		Depth:    s.cfg.Depth,
		Strict:   s.cfg.Strict,
		Observer: &viewObserver{viewID: viewID, logger: s.logger, metrics: s.metrics},
	})
	if err != nil {
		span.SetError(err)
		s.logger.LogError(ctx, viewID, "open", err, false)
		return "", nil, err
	}

	snap, err := view.Snapshot()
	if err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	s.views[viewID] = &viewEntry{view: view, lastUsed: s.cfg.Now()}
	s.mu.Unlock()
	observability.OpenPostViews.Inc()

	s.logger.LogOpen(ctx, viewID, postID, userID, len(snap.Post.Children))
	return viewID, snap, nil
}

// Snapshot returns the current state of a view.
func (s *ViewService) Snapshot(_ context.Context, userID, viewID string) (*thread.Snapshot, error) {
	view, err := s.lookup(userID, viewID)
	if err != nil {
		return nil, err
	}
	return view.Snapshot()
}

// CloseView discards a view. Fetches still in flight for it are ignored when they return.
func (s *ViewService) CloseView(ctx context.Context, userID, viewID string) error {
	if _, err := s.lookup(userID, viewID); err != nil {
		return err
	}
	if s.remove(viewID) {
		s.logger.LogClose(ctx, viewID, "client")
	}
	return nil
}

// ToggleExpand expands or collapses the comment at chain and returns the resulting state.
func (s *ViewService) ToggleExpand(ctx context.Context, userID, viewID string, chain thread.IndexChain) (*thread.Snapshot, error) {
	view, err := s.lookup(userID, viewID)
	if err != nil {
		return nil, err
	}
	span, ctx := observability.StartViewSpan(ctx, "toggle_expand", viewID)
	defer span.End()
	span.AddAttributes(attribute.IntSlice("view.chain", chain))

	if err := view.ToggleExpand(ctx, chain); err != nil {
		span.SetError(err)
		s.logger.LogError(ctx, viewID, "toggle_expand", err, models.HasCode(err, models.CodeOutOfRange))
		return nil, err
	}
	s.logger.LogAction(ctx, viewID, "toggle_expand", map[string]interface{}{"chain": []int(chain)})
	return view.Snapshot()
}

// SubmitComment creates or edits a comment and returns the refreshed state.
func (s *ViewService) SubmitComment(ctx context.Context, userID, viewID string, sub thread.Submission) (*thread.Snapshot, error) {
	view, err := s.lookup(userID, viewID)
	if err != nil {
		return nil, err
	}
	action := "create"
	if sub.EditingID != "" {
		action = "edit"
	}
	span, ctx := observability.StartViewSpan(ctx, action+"_comment", viewID)
	defer span.End()

	err = view.SubmitComment(ctx, sub)
	s.metrics.RecordMutation(action, err)
	if err != nil {
		span.SetError(err)
		s.logger.LogError(ctx, viewID, action, err, false)
		return nil, err
	}
	s.logger.LogAction(ctx, viewID, action, map[string]interface{}{
		"reply_to_id": sub.ReplyToID,
		"editing_id":  sub.EditingID,
		"media":       len(sub.Media),
	})
	return view.Snapshot()
}

// DeleteComment deletes a comment and returns the refreshed state.
func (s *ViewService) DeleteComment(ctx context.Context, userID, viewID, commentID string) (*thread.Snapshot, error) {
	view, err := s.lookup(userID, viewID)
	if err != nil {
		return nil, err
	}
	span, ctx := observability.StartViewSpan(ctx, "delete_comment", viewID)
	defer span.End()
	span.AddAttributes(attribute.String("comment.id", commentID))

	err = view.DeleteComment(ctx, commentID)
	s.metrics.RecordMutation("delete", err)
	if err != nil {
		span.SetError(err)
		s.logger.LogError(ctx, viewID, "delete", err, false)
		return nil, err
	}
	s.logger.LogAction(ctx, viewID, "delete", map[string]interface{}{"comment_id": commentID})
	return view.Snapshot()
}

// Count returns the number of open views.
func (s *ViewService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

// Shutdown stops the reaper and closes every open view.
func (s *ViewService) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	ids := make([]string, 0, len(s.views))
	for id := range s.views {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if s.remove(id) {
			s.logger.LogClose(ctx, id, "shutdown")
		}
	}
	return nil
}

func (s *ViewService) lookup(userID, viewID string) (*thread.PostView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.views[viewID]
	if !ok {
		return nil, models.NewNotFoundError("Post view", viewID)
	}
	if entry.view.UserID() != userID {
		return nil, models.NewUnauthorizedError("Post view belongs to another user")
	}
	entry.lastUsed = s.cfg.Now()
	return entry.view, nil
}

func (s *ViewService) remove(viewID string) bool {
	s.mu.Lock()
	entry, ok := s.views[viewID]
	delete(s.views, viewID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	entry.view.Close()
	observability.OpenPostViews.Dec()
	return true
}

func (s *ViewService) reaperLoop() {
	ticker := time.NewTicker(s.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reapOnce(context.Background())
		}
	}
}

// reapOnce closes views idle for longer than the configured timeout.
func (s *ViewService) reapOnce(ctx context.Context) int {
	cutoff := s.cfg.Now().Add(-s.cfg.IdleTimeout)

	s.mu.Lock()
	idle := make(map[string]*viewEntry)
	for id, entry := range s.views {
		if entry.lastUsed.Before(cutoff) {
			idle[id] = entry
			delete(s.views, id)
		}
	}
	s.mu.Unlock()

	if len(idle) == 0 {
		return 0
	}

	observability.LogAsyncOperationStart(ctx, "reap_idle_views", map[string]interface{}{"candidates": len(idle)})
	for id, entry := range idle {
		entry.view.Close()
		observability.OpenPostViews.Dec()
		s.logger.LogClose(ctx, id, "idle")
	}
	observability.LogAsyncOperationEnd(ctx, "reap_idle_views", map[string]interface{}{"reaped": len(idle)})
	return len(idle)
}

// viewObserver feeds a view's engine events into metrics and logs.
type viewObserver struct {
	viewID  string
	logger  *observability.ViewLogger
	metrics *observability.EngineMetrics
}

func (o *viewObserver) SubtreeFetched(commentID string, err error) {
	o.metrics.RecordSubtreeFetch(err)
	if err != nil {
		o.logger.LogError(context.Background(), o.viewID, "fetch_subtree "+commentID, err, false)
	}
}

func (o *viewObserver) Synced(scope thread.SyncScope, err error) {
	o.metrics.RecordSync(string(scope), err)
	if err != nil {
		o.logger.LogError(context.Background(), o.viewID, "sync_"+string(scope), err, false)
	}
}

func (o *viewObserver) ExpandRejected(commentID string) {
	o.metrics.RecordExpandRejection()
	o.logger.LogAction(context.Background(), o.viewID, "expand_rejected", map[string]interface{}{"comment_id": commentID})
}
