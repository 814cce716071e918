package models

import "time"

// Post represents a forum post together with its top-level comments.
type Post struct {
	ID            string      `json:"id,omitempty"`
	AuthorID      string      `json:"authorId"`
	Title         string      `json:"title"`
	SubjectID     string      `json:"subjectId"`
	Body          string      `json:"body"`
	Media         []MediaItem `json:"media,omitempty"`
	PublishedAt   time.Time   `json:"publishedAt"`
	LastUpdatedAt *time.Time  `json:"lastUpdatedAt,omitempty"`
	// TotalChildrenCount counts every comment anywhere in the post's tree.
	TotalChildrenCount int `json:"totalChildrenCount"`
	// Children holds the top-level comments; the forum always loads them.
	Children []*Comment `json:"children"`
}

// Clone returns a deep copy of the post and its loaded comment tree.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	out := *p
	if p.LastUpdatedAt != nil {
		t := *p.LastUpdatedAt
		out.LastUpdatedAt = &t
	}
	if p.Media != nil {
		out.Media = make([]MediaItem, len(p.Media))
		copy(out.Media, p.Media)
	}
	out.Children = CloneComments(p.Children)
	return &out
}
