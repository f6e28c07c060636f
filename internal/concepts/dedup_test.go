package concepts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Photosynthesis", " photosynthesis "))
	assert.Equal(t, 0.0, Similarity("", "anything"))
	assert.InDelta(t, 12.0/21.0, Similarity("transactions", "types of transactions"), 1e-9)
	assert.InDelta(t, 1-1.0/6.0, Similarity("enzyme", "enzyms"), 1e-9)
	assert.Less(t, Similarity("mitochondria", "gravity"), DefaultDedupThreshold)
}

func TestBuild_WithDedup(t *testing.T) {
	raw := `[
		{"id":"c1","label":"Cell Membrane","type":"main","explanation":""},
		{"id":"c2","label":"cell membranes","type":"main","explanation":"barrier"},
		{"id":"c3","label":"Phospholipid bilayer","type":"concept","parent":"c2"},
		{"id":"c4","label":"Osmosis","type":"concept","parent":"c1"}
	]`

	nodes, err := Build(raw, WithDedup(DefaultDedupThreshold))
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	assert.Equal(t, "Cell Membrane", nodes[0].Label)
	assert.Equal(t, "barrier", nodes[0].Explanation, "absorbed explanation fills an empty one")
	assert.Equal(t, "c1", parentOf(nodes[1]), "children of the duplicate move to the survivor")
	assert.Equal(t, "c1", parentOf(nodes[2]))
}

func TestBuild_DedupDisabledByDefault(t *testing.T) {
	nodes, err := Build(`[{"label":"Osmosis"},{"label":"osmosis"}]`)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestBuild_DedupNeverCreatesCycles(t *testing.T) {
	// The survivor's own parent is the duplicate, so redirecting would make
	// it its own parent.
	raw := `[
		{"id":"a","label":"Osmosis","parent":"b"},
		{"id":"b","label":"osmosis"}
	]`

	nodes, err := Build(raw, WithDedup(DefaultDedupThreshold))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Nil(t, nodes[0].ParentID)
}
