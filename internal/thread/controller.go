package thread

import (
	"context"

	"schoolforum/internal/models"
)

// ToggleExpand flips whether the comment at chain shows its children. The
// first expansion of a comment whose children were never loaded fetches its
// subtree; collapsing and re-expanding afterwards reuses what was loaded.
// A toggle on a comment whose fetch is still in flight is rejected.
func (v *PostView) ToggleExpand(ctx context.Context, chain IndexChain) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	node, err := Locate(v.post.Children, chain)
	if err != nil {
		v.mu.Unlock()
		return v.outOfRange(err)
	}
	if node.ID == "" || node.TotalChildrenCount < 1 {
		v.mu.Unlock()
		return nil
	}
	id := node.ID
	if v.state.IsProcessing(id) {
		v.mu.Unlock()
		v.opts.Observer.ExpandRejected(id)
		return models.NewConflictError("Comment " + id + " is already being expanded")
	}
	v.state.SetProcessing(id, true)
	needsFetch := !node.ChildrenLoaded()
	v.mu.Unlock()

	var fetched *models.Comment
	if needsFetch {
		fetched, err = v.forum.GetCommentByID(ctx, v.userID, id, v.opts.Depth)
		if err == nil && fetched == nil {
			err = models.NewNotFoundError("Comment", id)
		}
		v.opts.Observer.SubtreeFetched(id, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	if err != nil {
		v.state.SetProcessing(id, false)
		return models.NewFetchFailure("comment "+id, err)
	}
	if fetched != nil && !v.graft(chain, fetched) {
		// Deleted by a refresh while the fetch was in flight.
		v.state.SetProcessing(id, false)
		return nil
	}
	v.state.SetExpanded(id, !v.state.IsExpanded(id))
	v.state.SetProcessing(id, false)
	return nil
}

// graft puts a fetched subtree in place of the node it was fetched for. The
// chain is used when it still addresses that node, otherwise the node is
// found by id.
func (v *PostView) graft(chain IndexChain, fetched *models.Comment) bool {
	if current, err := Locate(v.post.Children, chain); err == nil && current.ID == fetched.ID {
		return Replace(v.post.Children, chain, fetched) == nil
	}
	return ReplaceByID(v.post.Children, fetched.ID, fetched)
}
