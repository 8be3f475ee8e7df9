package mdexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraphView_RootsAreInDegreeZero(t *testing.T) {
	a := &NodeItem{ID: 0, Name: "a"}
	b := &NodeItem{ID: 1, Name: "b"}
	c := &NodeItem{ID: 2, Name: "c"}
	a.Edges = []Edge{{Dst: b, DstInput: 0}}
	b.Edges = []Edge{{Dst: c, DstInput: 0}}

	gv := NewGraphView([]*NodeItem{a, b, c})

	require.Len(t, gv.Roots, 1)
	assert.Equal(t, "a", gv.Roots[0].Name)
	assert.Same(t, b, gv.Node(1))
}

func TestNewGraphView_MultipleRoots(t *testing.T) {
	a := &NodeItem{ID: 0, Name: "a"}
	b := &NodeItem{ID: 1, Name: "b"}
	join := &NodeItem{ID: 2, Name: "join"}
	a.Edges = []Edge{{Dst: join, DstInput: 0}}
	b.Edges = []Edge{{Dst: join, DstInput: 1}}

	gv := NewGraphView([]*NodeItem{a, b, join})
	assert.Len(t, gv.Roots, 2)
}
