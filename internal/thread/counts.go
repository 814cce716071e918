package thread

import "schoolforum/internal/models"

// RecomputeTotal returns the descendant count of c derived from its loaded
// children: the sum of 1 + child.TotalChildrenCount over each child. The
// children's own counts are trusted as they are, loaded or not. For a comment
// whose children were never fetched the stored count is returned unchanged.
func RecomputeTotal(c *models.Comment) int {
	if !c.ChildrenLoaded() {
		return c.TotalChildrenCount
	}
	total := 0
	for _, child := range c.Children {
		total += 1 + child.TotalChildrenCount
	}
	return total
}

// ApplyCreated bumps the post counter after the forum confirmed a new comment.
func ApplyCreated(post *models.Post) {
	post.TotalChildrenCount++
}

// ApplyDeleted removes the deleted comment and its descendants from the post
// counter, using the deleted comment's last known count. That count may be
// stale when the branch was never loaded; the counter is then off until the
// post is reopened.
func ApplyDeleted(post *models.Post, deleted *models.Comment) {
	post.TotalChildrenCount -= 1 + deleted.TotalChildrenCount
}
