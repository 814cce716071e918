package thread

import (
	"context"

	"schoolforum/internal/models"
)

// MergeLevel reconciles a freshly fetched sibling list with the one currently
// shown. A fresh node whose id is expanded and already has loaded children in
// the current list keeps those children, so the reader's open branches
// survive the refresh; its count is then derived from them. Every other fresh
// node is taken as fetched, and current nodes missing from the fresh list are
// dropped.
func MergeLevel(current, fresh []*models.Comment, expanded IDSet) []*models.Comment {
	byID := make(map[string]*models.Comment, len(current))
	for _, c := range current {
		if c.ID != "" {
			byID[c.ID] = c
		}
	}

	merged := make([]*models.Comment, len(fresh))
	for i, f := range fresh {
		old, ok := byID[f.ID]
		if !ok || !expanded.Has(f.ID) || !old.ChildrenLoaded() {
			merged[i] = f
			continue
		}
		kept := *f
		kept.Children = old.Children
		kept.TotalChildrenCount = RecomputeTotal(&kept)
		merged[i] = &kept
	}
	return merged
}

// synchronize refetches the part of the tree affected by a confirmed
// mutation of c: the top-level list when c hangs off the post, otherwise the
// subtree of c's parent. Results arriving after the view closed are dropped.
func (v *PostView) synchronize(ctx context.Context, c *models.Comment) error {
	if c.IsTopLevel() {
		return v.refreshTopLevel(ctx)
	}
	return v.refreshNested(ctx, c.ParentID)
}

func (v *PostView) refreshTopLevel(ctx context.Context) error {
	post, err := v.forum.GetPostByID(ctx, v.userID, v.postID)
	if err == nil && post == nil {
		err = models.NewNotFoundError("Post", v.postID)
	}
	v.opts.Observer.Synced(ScopeTopLevel, err)
	if err != nil {
		return models.NewFetchFailure("post "+v.postID, err)
	}

	fresh := post.Children
	if fresh == nil {
		fresh = []*models.Comment{}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.post.Children = MergeLevel(v.post.Children, fresh, v.state.Expanded())
	return nil
}

// refreshNested replaces the parent wherever it now sits and recomputes its
// own count. Ancestors keep their counts until they are refreshed themselves.
func (v *PostView) refreshNested(ctx context.Context, parentID string) error {
	fresh, err := v.forum.GetCommentByID(ctx, v.userID, parentID, v.opts.Depth)
	if err == nil && fresh == nil {
		err = models.NewNotFoundError("Comment", parentID)
	}
	v.opts.Observer.Synced(ScopeNested, err)
	if err != nil {
		return models.NewFetchFailure("comment "+parentID, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	old, _, ok := FindByID(v.post.Children, parentID)
	if !ok {
		return nil
	}
	if old.ChildrenLoaded() && fresh.ChildrenLoaded() {
		fresh.Children = MergeLevel(old.Children, fresh.Children, v.state.Expanded())
	}
	fresh.TotalChildrenCount = RecomputeTotal(fresh)
	ReplaceByID(v.post.Children, parentID, fresh)
	return nil
}
