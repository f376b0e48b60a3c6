package dom_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/adarchive/api/schemas"
	"github.com/xkilldash9x/adarchive/internal/browser/dom"
)

// fakeTree is an in-memory div tree keyed by backend node id.
type fakeTree struct {
	children map[int64][]int64
	styles   map[int64]map[string]string
	visited  []int64
	failOn   int64
}

func (f *fakeTree) Children(_ context.Context, h schemas.ElementHandle) ([]schemas.ElementHandle, error) {
	var out []schemas.ElementHandle
	for _, id := range f.children[h.BackendNodeID] {
		out = append(out, schemas.ElementHandle{BackendNodeID: id})
	}
	return out, nil
}

func (f *fakeTree) ComputedStyle(_ context.Context, h schemas.ElementHandle, property string) (string, error) {
	if h.BackendNodeID == f.failOn {
		return "", errors.New("node detached")
	}
	f.visited = append(f.visited, h.BackendNodeID)
	return f.styles[h.BackendNodeID][property], nil
}

func handle(id int64) schemas.ElementHandle { return schemas.ElementHandle{BackendNodeID: id} }

// newTree builds:
//
//	1
//	├── 2
//	│   └── 4 (match)
//	└── 3
//	    └── 5
//	        ├── 6 (match, deeper)
//	        └── 7 (match, deeper)
func newTree() *fakeTree {
	border := map[string]string{"border": "1px solid rgb(233, 234, 235)"}
	return &fakeTree{
		children: map[int64][]int64{
			1: {2, 3},
			2: {4},
			3: {5},
			5: {6, 7},
		},
		styles: map[int64]map[string]string{
			4: border,
			6: border,
			7: border,
		},
	}
}

func TestFindFirst(t *testing.T) {
	ctx := context.Background()
	pred := dom.PropertyEquals("border", "1px solid rgb(233, 234, 235)")

	t.Run("returns shallowest match in BFS order", func(t *testing.T) {
		tree := newTree()
		h, found, err := dom.FindFirst(ctx, tree, handle(1), pred)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, handle(4), h)
		// 1, 2, 3 are tested before 4; nothing deeper is touched.
		assert.Equal(t, []int64{1, 2, 3, 4}, tree.visited)
	})

	t.Run("root is tested first", func(t *testing.T) {
		tree := newTree()
		tree.styles[1] = map[string]string{"position": "fixed"}
		h, found, err := dom.FindFirst(ctx, tree, handle(1), dom.PropertyEquals("position", "fixed"))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, handle(1), h)
	})

	t.Run("not found is not an error", func(t *testing.T) {
		tree := newTree()
		h, found, err := dom.FindFirst(ctx, tree, handle(1), dom.PropertyEquals("position", "sticky"))
		require.NoError(t, err)
		assert.False(t, found)
		assert.True(t, h.IsZero())
		assert.Len(t, tree.visited, 7)
	})

	t.Run("style failure propagates", func(t *testing.T) {
		tree := newTree()
		tree.failOn = 3
		_, _, err := dom.FindFirst(ctx, tree, handle(1), dom.PropertyEquals("position", "sticky"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "node detached")
	})

	t.Run("cancelled context stops the walk", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := dom.FindFirst(cctx, newTree(), handle(1), pred)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFindAll(t *testing.T) {
	ctx := context.Background()
	pred := dom.PropertyEquals("border", "1px solid rgb(233, 234, 235)")

	t.Run("unbounded collects every match in BFS order", func(t *testing.T) {
		got, err := dom.FindAll(ctx, newTree(), handle(1), pred, 0)
		require.NoError(t, err)
		assert.Equal(t, []schemas.ElementHandle{handle(4), handle(6), handle(7)}, got)
	})

	t.Run("limit stops early", func(t *testing.T) {
		tree := newTree()
		got, err := dom.FindAll(ctx, tree, handle(1), pred, 2)
		require.NoError(t, err)
		assert.Equal(t, []schemas.ElementHandle{handle(4), handle(6)}, got)
		assert.NotContains(t, tree.visited, int64(7))
	})
}

func TestClassSelector(t *testing.T) {
	assert.Equal(t, "._7owt._7oxl", dom.ClassSelector("_7owt  _7oxl"))
	assert.Equal(t, ".single", dom.ClassSelector("single"))
	assert.Equal(t, "", dom.ClassSelector("   "))
}
