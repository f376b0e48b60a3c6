package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

// fakePage serves a scripted sequence of snapshots, one per reveal. Once the
// script runs out it keeps returning the last snapshot.
type fakePage struct {
	snapshots [][]int64
	pass      int
	reveals   int
	margins   []int64
	revealErr error
}

func (f *fakePage) QueryAll(context.Context, string) ([]schemas.ElementHandle, error) {
	idx := f.pass
	if idx >= len(f.snapshots) {
		idx = len(f.snapshots) - 1
	}
	var out []schemas.ElementHandle
	for _, id := range f.snapshots[idx] {
		out = append(out, schemas.ElementHandle{BackendNodeID: id})
	}
	return out, nil
}

func (f *fakePage) ExtendBottomMargin(_ context.Context, h schemas.ElementHandle) error {
	f.margins = append(f.margins, h.BackendNodeID)
	return nil
}

func (f *fakePage) Reveal(context.Context) error {
	if f.revealErr != nil {
		return f.revealErr
	}
	f.reveals++
	f.pass++
	return nil
}

type recorder struct {
	ids  []int64
	seqs []int
}

func (r *recorder) process(_ context.Context, seq int, h schemas.ElementHandle) error {
	r.ids = append(r.ids, h.BackendNodeID)
	r.seqs = append(r.seqs, seq)
	return nil
}

func TestLoaderRun(t *testing.T) {
	ctx := context.Background()

	t.Run("each container processed once in first-seen order", func(t *testing.T) {
		page := &fakePage{snapshots: [][]int64{
			{1, 2, 3},
			{1, 2, 3, 4, 5},
			{1, 2, 3, 4, 5},
		}}
		rec := &recorder{}
		l, err := New(page, ".ad", 100, rec.process, zaptest.NewLogger(t))
		require.NoError(t, err)

		res, err := l.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, []int64{1, 2, 3, 4, 5}, rec.ids)
		assert.Equal(t, []int{1, 2, 3, 4, 5}, rec.seqs)
		assert.Equal(t, Result{Processed: 5, Passes: 3}, res)
		assert.Equal(t, 2, page.reveals)
		// One margin extension per pass, on that pass's last new container.
		assert.Equal(t, []int64{3, 5}, page.margins)
		assert.Equal(t, StateDone, l.State())
	})

	t.Run("limit halts mid page", func(t *testing.T) {
		page := &fakePage{snapshots: [][]int64{{1, 2, 3}}}
		rec := &recorder{}
		l, err := New(page, ".ad", 2, rec.process, nil)
		require.NoError(t, err)

		res, err := l.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, rec.ids)
		assert.True(t, res.LimitReached)
		assert.Equal(t, 0, page.reveals, "no reveal after the limit is reached")
	})

	t.Run("limit across passes never exceeded", func(t *testing.T) {
		page := &fakePage{snapshots: [][]int64{{1, 2}, {1, 2, 3, 4}, {1, 2, 3, 4, 5, 6}}}
		rec := &recorder{}
		l, err := New(page, ".ad", 3, rec.process, nil)
		require.NoError(t, err)

		res, err := l.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, rec.ids)
		assert.Equal(t, 3, res.Processed)
	})

	t.Run("recycled nodes are not processed twice", func(t *testing.T) {
		// A virtualised list may drop earlier nodes from the snapshot.
		page := &fakePage{snapshots: [][]int64{{1, 2}, {2, 3}, {3}}}
		rec := &recorder{}
		l, err := New(page, ".ad", 10, rec.process, nil)
		require.NoError(t, err)

		_, err = l.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, rec.ids)
	})

	t.Run("empty first snapshot finishes immediately", func(t *testing.T) {
		page := &fakePage{snapshots: [][]int64{{}}}
		rec := &recorder{}
		l, err := New(page, ".ad", 10, rec.process, nil)
		require.NoError(t, err)

		res, err := l.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{Passes: 1}, res)
		assert.Empty(t, page.margins)
	})

	t.Run("processor failure aborts the walk", func(t *testing.T) {
		page := &fakePage{snapshots: [][]int64{{1, 2}}}
		boom := errors.New("capture failed")
		l, err := New(page, ".ad", 10, func(_ context.Context, seq int, _ schemas.ElementHandle) error {
			if seq == 2 {
				return boom
			}
			return nil
		}, nil)
		require.NoError(t, err)

		res, err := l.Run(ctx)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, res.Processed)
		assert.False(t, l.Processed().Contains(schemas.ElementHandle{BackendNodeID: 2}))
	})

	t.Run("reveal failure aborts the walk", func(t *testing.T) {
		boom := errors.New("settle timeout")
		page := &fakePage{snapshots: [][]int64{{1}}, revealErr: boom}
		rec := &recorder{}
		l, err := New(page, ".ad", 10, rec.process, nil)
		require.NoError(t, err)

		_, err = l.Run(ctx)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []int64{1}, rec.ids)
	})

	t.Run("run is single use", func(t *testing.T) {
		page := &fakePage{snapshots: [][]int64{{}}}
		l, err := New(page, ".ad", 1, (&recorder{}).process, nil)
		require.NoError(t, err)
		_, err = l.Run(ctx)
		require.NoError(t, err)
		_, err = l.Run(ctx)
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		l, err := New(&fakePage{snapshots: [][]int64{{1}}}, ".ad", 1, (&recorder{}).process, nil)
		require.NoError(t, err)
		_, err = l.Run(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLoaderRunWithoutLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		page := &fakePage{snapshots: [][]int64{
			{1, 2},
			{1, 2, 3, 4},
			{1, 2, 3, 4, 5},
			{1, 2, 3, 4, 5},
		}}
		rec := &recorder{}
		l, err := New(page, ".ad", limit, rec.process, zaptest.NewLogger(t))
		require.NoError(t, err)

		res, err := l.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3, 4, 5}, rec.ids, "limit %d", limit)
		assert.Equal(t, Result{Processed: 5, Passes: 4}, res)
		assert.Equal(t, 3, page.reveals, "walks until a reveal adds nothing")
	}
}

func TestNewRequiresPageAndProcessor(t *testing.T) {
	_, err := New(nil, ".ad", 0, (&recorder{}).process, nil)
	assert.Error(t, err)
	_, err = New(&fakePage{}, ".ad", 0, nil, nil)
	assert.Error(t, err)
}

func TestProcessedSetDelta(t *testing.T) {
	h := func(id int64) schemas.ElementHandle { return schemas.ElementHandle{BackendNodeID: id} }

	set := NewProcessedSet()
	set.Add(h(1))
	set.Add(h(1))
	assert.Equal(t, 1, set.Len())

	delta := set.Delta([]schemas.ElementHandle{h(1), h(3), h(2), h(3)})
	assert.Equal(t, []schemas.ElementHandle{h(3), h(2)}, delta)

	set.Add(h(3))
	assert.Equal(t, []schemas.ElementHandle{h(1), h(3)}, set.Order())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "revealing", StateRevealing.String())
	assert.Equal(t, "state(9)", State(9).String())
}
