// Package models contains data structures for the forum's posts and comments.
package models

import "time"

// Comment is a node of a post's comment tree as served by the forum.
//
// Children is nil until the comment's subtree has been fetched; a non-nil
// empty slice means the children were loaded and there are none.
// TotalChildrenCount is always populated by the forum, loaded or not.
type Comment struct {
	ID                 string      `json:"id,omitempty"`
	AuthorID           string      `json:"authorId"`
	Body               string      `json:"body"`
	Media              []MediaItem `json:"media,omitempty"`
	PublishedAt        time.Time   `json:"publishedAt"`
	LastUpdatedAt      *time.Time  `json:"lastUpdatedAt,omitempty"`
	ParentID           string      `json:"parentId"`
	ParentPostID       string      `json:"parentPostId"`
	TotalChildrenCount int         `json:"totalChildrenCount"`
	Children           []*Comment  `json:"children"`
}

// IsTopLevel reports whether the comment hangs directly off its post.
func (c *Comment) IsTopLevel() bool {
	return c.ParentID == c.ParentPostID
}

// ChildrenLoaded reports whether the comment's children have been fetched.
func (c *Comment) ChildrenLoaded() bool {
	return c.Children != nil
}

// Clone returns a deep copy of the comment and its loaded subtree.
func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	out := *c
	if c.LastUpdatedAt != nil {
		t := *c.LastUpdatedAt
		out.LastUpdatedAt = &t
	}
	if c.Media != nil {
		out.Media = make([]MediaItem, len(c.Media))
		copy(out.Media, c.Media)
	}
	out.Children = CloneComments(c.Children)
	return &out
}

// CloneComments deep-copies a comment list, keeping nil distinct from empty.
func CloneComments(comments []*Comment) []*Comment {
	if comments == nil {
		return nil
	}
	out := make([]*Comment, len(comments))
	for i, c := range comments {
		out[i] = c.Clone()
	}
	return out
}
