package thread

import (
	"testing"

	"schoolforum/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() []*models.Comment {
	return []*models.Comment{
		loaded("1", shallow("3", 2), loaded("4", shallow("5", 0))),
		shallow("2", 4),
	}
}

func TestLocate(t *testing.T) {
	t.Parallel()
	tree := sampleTree()

	tests := []struct {
		name  string
		chain IndexChain
		want  string
	}{
		{"top level", IndexChain{1}, "2"},
		{"first child", IndexChain{0, 0}, "3"},
		{"grandchild", IndexChain{0, 1, 0}, "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Locate(tree, tt.chain)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestLocate_OutOfRange(t *testing.T) {
	t.Parallel()
	tree := sampleTree()

	for name, chain := range map[string]IndexChain{
		"empty chain":       {},
		"top index too big": {2},
		"negative index":    {-1},
		"child index":       {0, 5},
		"unloaded children": {1, 0},
		"below unloaded":    {0, 0, 0},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Locate(tree, chain)
			assertCode(t, err, models.CodeOutOfRange)
		})
	}
}

func TestReplace_KeepsUnrelatedIdentity(t *testing.T) {
	t.Parallel()
	tree := sampleTree()
	parent := tree[0]
	sibling := tree[0].Children[0]
	other := tree[1]

	replacement := shallow("4", 1)
	require.NoError(t, Replace(tree, IndexChain{0, 1}, replacement))

	assert.Same(t, parent, tree[0])
	assert.Same(t, sibling, tree[0].Children[0])
	assert.Same(t, other, tree[1])
	assert.Same(t, replacement, tree[0].Children[1])
}

func TestReplace_TopLevel(t *testing.T) {
	t.Parallel()
	tree := sampleTree()
	replacement := loaded("2")

	require.NoError(t, Replace(tree, IndexChain{1}, replacement))
	assert.Same(t, replacement, tree[1])
}

func TestReplace_OutOfRange(t *testing.T) {
	t.Parallel()
	tree := sampleTree()

	assertCode(t, Replace(tree, IndexChain{}, shallow("x", 0)), models.CodeOutOfRange)
	assertCode(t, Replace(tree, IndexChain{3}, shallow("x", 0)), models.CodeOutOfRange)
	assertCode(t, Replace(tree, IndexChain{1, 0}, shallow("x", 0)), models.CodeOutOfRange)
	assertCode(t, Replace(tree, IndexChain{0, 2}, shallow("x", 0)), models.CodeOutOfRange)
}

func TestFindByID(t *testing.T) {
	t.Parallel()
	tree := sampleTree()

	node, chain, ok := FindByID(tree, "5")
	require.True(t, ok)
	assert.Equal(t, "5", node.ID)
	assert.Equal(t, IndexChain{0, 1, 0}, chain)

	located, err := Locate(tree, chain)
	require.NoError(t, err)
	assert.Same(t, node, located)

	_, _, ok = FindByID(tree, "missing")
	assert.False(t, ok)
	_, _, ok = FindByID(tree, "")
	assert.False(t, ok)
}

func TestReplaceByID(t *testing.T) {
	t.Parallel()
	tree := sampleTree()
	replacement := loaded("3", shallow("6", 0), shallow("7", 0))

	assert.True(t, ReplaceByID(tree, "3", replacement))
	assert.Same(t, replacement, tree[0].Children[0])
	assert.False(t, ReplaceByID(tree, "missing", replacement))
}
