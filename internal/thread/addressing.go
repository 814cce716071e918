// Package thread keeps a post's partially loaded comment tree in sync with the
// forum: lazy subtree expansion, refetch-and-merge after edits, and comment
// counters.
package thread

import "schoolforum/internal/models"

// IndexChain locates a comment by sibling positions, starting at the
// top-level list: chain[0] indexes the post's comments, chain[i] the children
// of the node selected by chain[:i].
type IndexChain []int

// Locate returns the comment addressed by chain.
func Locate(tree []*models.Comment, chain IndexChain) (*models.Comment, error) {
	if len(chain) == 0 {
		return nil, models.NewOutOfRangeError(chain, 0)
	}
	level := tree
	var node *models.Comment
	for depth, idx := range chain {
		if level == nil || idx < 0 || idx >= len(level) {
			return nil, models.NewOutOfRangeError(chain, depth)
		}
		node = level[idx]
		level = node.Children
	}
	return node, nil
}

// Replace swaps the comment at chain for node. Only the slot holding the
// addressed comment is written; ancestors and siblings keep their identity.
func Replace(tree []*models.Comment, chain IndexChain, node *models.Comment) error {
	if len(chain) == 0 {
		return models.NewOutOfRangeError(chain, 0)
	}
	last := len(chain) - 1
	level := tree
	if last > 0 {
		parent, err := Locate(tree, chain[:last])
		if err != nil {
			return err
		}
		level = parent.Children
	}
	idx := chain[last]
	if level == nil || idx < 0 || idx >= len(level) {
		return models.NewOutOfRangeError(chain, last)
	}
	level[idx] = node
	return nil
}

// FindByID searches the loaded tree depth-first for id and returns the node
// with its current index chain.
func FindByID(tree []*models.Comment, id string) (*models.Comment, IndexChain, bool) {
	if id == "" {
		return nil, nil, false
	}
	for i, c := range tree {
		if c.ID == id {
			return c, IndexChain{i}, true
		}
		if found, sub, ok := FindByID(c.Children, id); ok {
			return found, append(IndexChain{i}, sub...), true
		}
	}
	return nil, nil, false
}

// ReplaceByID swaps the comment with the given id for node wherever it sits in
// the loaded tree. It reports whether the id was found.
func ReplaceByID(tree []*models.Comment, id string, node *models.Comment) bool {
	if id == "" {
		return false
	}
	for i, c := range tree {
		if c.ID == id {
			tree[i] = node
			return true
		}
		if ReplaceByID(c.Children, id, node) {
			return true
		}
	}
	return false
}
