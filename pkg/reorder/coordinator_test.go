package reorder

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/logger/mocklogger"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
)

const quiet = 50 * time.Millisecond

type harness struct {
	clock   *clockwork.FakeClock
	coord   *Coordinator
	changes chan mrecord.Collection
}

func newHarness(t *testing.T, items, full mrecord.Collection) *harness {
	t.Helper()
	h := &harness{
		clock:   clockwork.NewFakeClock(),
		changes: make(chan mrecord.Collection, 8),
	}
	h.coord = New(items, full, func(c mrecord.Collection) { h.changes <- c }, Options{
		Clock:  h.clock,
		Logger: mocklogger.NewMockLogger(),
	})
	t.Cleanup(h.coord.Close)
	return h
}

func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(d)
}

func (h *harness) next(t *testing.T) mrecord.Collection {
	t.Helper()
	select {
	case c := <-h.changes:
		return c
	case <-time.After(time.Second):
		t.Fatal("onItemsChange was not called")
		return nil
	}
}

func (h *harness) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-h.changes:
		t.Fatalf("unexpected onItemsChange with %v", idsOf(c))
	case <-time.After(quiet):
	}
}

func id(s string) idwrap.IDWrap { return idwrap.NewText(s) }

var bounds = Rect{X: 0, Y: 40, Width: 200, Height: 32}

func TestDropSettlesAfterDelay(t *testing.T) {
	h := newHarness(t, seqList("A", "B", "C", "D"), nil)

	require.NoError(t, h.coord.DragStart(id("A"), Point{X: 10, Y: 50}, bounds))
	require.Equal(t, StateDragging, h.coord.State())
	h.coord.DragEnter(id("C"))
	require.Equal(t, StateDraggedOver, h.coord.State())

	ok, err := h.coord.Drop(id("C"), Point{X: 12, Y: 130})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatePending, h.coord.State())
	h.none(t)

	h.advance(t, DefaultSettleDelay-time.Millisecond)
	h.none(t)

	h.clock.Advance(time.Millisecond)
	final := h.next(t)
	require.Equal(t, []string{"B", "C", "A", "D"}, idsOf(final))
	require.Equal(t, 3.0, seqOf(t, final, "A"))

	h.clock.Advance(time.Hour)
	h.none(t)
	require.Equal(t, StateIdle, h.coord.State())
	require.Equal(t, []string{"B", "C", "A", "D"}, idsOf(h.coord.Items()))
}

func TestDropMergesIntoFullList(t *testing.T) {
	h := newHarness(t, seqList("A", "B", "C", "D"), seqList("A", "B", "C", "D", "E"))

	require.NoError(t, h.coord.DragStart(id("A"), Point{}, bounds))
	_, err := h.coord.Drop(id("C"), Point{})
	require.NoError(t, err)

	p, ok := h.coord.PendingReorder()
	require.True(t, ok)
	require.Equal(t, []string{"B", "C", "A", "D"}, idsOf(p.Items))
	require.Equal(t, []string{"B", "C", "A", "D", "E"}, idsOf(p.Final()))

	h.advance(t, DefaultSettleDelay)
	final := h.next(t)
	require.Equal(t, []string{"B", "C", "A", "D", "E"}, idsOf(final))
	require.Equal(t, 5.0, seqOf(t, final, "E"))
}

func TestDropKeepsDescendingSequences(t *testing.T) {
	want := map[string]float64{"C": 4, "B": 3, "D": 2, "A": 1}

	tests := []struct {
		name     string
		withFull bool
	}{
		{"visible only", false},
		{"full list", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := descending("D", "C", "B", "A")
			var full mrecord.Collection
			if tt.withFull {
				full = items.Clone()
			}
			h := newHarness(t, items, full)

			require.NoError(t, h.coord.DragStart(id("D"), Point{}, bounds))
			ok, err := h.coord.Drop(id("B"), Point{})
			require.NoError(t, err)
			require.True(t, ok)

			p, ok := h.coord.PendingReorder()
			require.True(t, ok)
			require.Equal(t, []string{"C", "B", "D", "A"}, idsOf(p.Items))

			h.advance(t, DefaultSettleDelay)
			final := h.next(t)
			for rid, seq := range want {
				require.Equal(t, seq, seqOf(t, final, rid), rid)
			}
			require.Equal(t, []string{"C", "B", "D", "A"}, idsOf(h.coord.Items()))
		})
	}
}

func TestDropOnSelfIsNoop(t *testing.T) {
	h := newHarness(t, seqList("A", "B"), nil)

	require.NoError(t, h.coord.DragStart(id("A"), Point{}, bounds))
	require.False(t, h.coord.DragOver(id("A")))
	ok, err := h.coord.Drop(id("A"), Point{})
	require.NoError(t, err)
	require.False(t, ok)

	_, pending := h.coord.PendingReorder()
	require.False(t, pending)

	h.coord.DragEnd()
	h.advance(t, DefaultSnapBackDelay)
	h.none(t)
	require.Equal(t, []string{"A", "B"}, idsOf(h.coord.Items()))
}

func TestDragEndWithoutDropSnapsBack(t *testing.T) {
	h := newHarness(t, seqList("A", "B", "C"), nil)

	require.NoError(t, h.coord.DragStart(id("B"), Point{X: 5, Y: 45}, bounds))
	h.coord.DragEnter(id("C"))
	h.coord.DragEnd()

	dragged, ok := h.coord.DraggedItem()
	require.True(t, ok)
	require.Equal(t, "B", dragged.String())

	h.advance(t, DefaultSnapBackDelay)
	require.Eventually(t, func() bool { return h.coord.State() == StateIdle }, time.Second, time.Millisecond)
	_, ok = h.coord.DragOffset()
	require.False(t, ok)
	h.none(t)
}

func TestDragEndAfterDropKeepsPending(t *testing.T) {
	h := newHarness(t, seqList("A", "B", "C"), nil)

	require.NoError(t, h.coord.DragStart(id("A"), Point{}, bounds))
	_, err := h.coord.Drop(id("B"), Point{})
	require.NoError(t, err)
	h.coord.DragEnd()
	require.Equal(t, StatePending, h.coord.State())

	h.advance(t, DefaultSettleDelay)
	require.Equal(t, []string{"B", "A", "C"}, idsOf(h.next(t)))
}

func TestDragStartCommitsPendingReorder(t *testing.T) {
	h := newHarness(t, seqList("A", "B", "C", "D"), nil)

	require.NoError(t, h.coord.DragStart(id("A"), Point{}, bounds))
	_, err := h.coord.Drop(id("C"), Point{})
	require.NoError(t, err)

	require.NoError(t, h.coord.DragStart(id("D"), Point{}, bounds))
	require.Equal(t, []string{"B", "C", "A", "D"}, idsOf(h.next(t)))
	require.Equal(t, StateDragging, h.coord.State())

	// The superseded settle timer must not fire a second time.
	h.clock.Advance(DefaultSettleDelay)
	h.none(t)

	_, err = h.coord.Drop(id("B"), Point{})
	require.NoError(t, err)
	h.advance(t, DefaultSettleDelay)
	require.Equal(t, []string{"D", "B", "C", "A"}, idsOf(h.next(t)))
}

func TestDropErrors(t *testing.T) {
	h := newHarness(t, seqList("A", "B"), nil)

	_, err := h.coord.Drop(id("B"), Point{})
	require.ErrorIs(t, err, ErrNotDragging)

	require.ErrorIs(t, h.coord.DragStart(id("X"), Point{}, bounds), ErrItemNotFound)

	require.NoError(t, h.coord.DragStart(id("A"), Point{}, bounds))
	_, err = h.coord.Drop(id("X"), Point{})
	require.ErrorIs(t, err, ErrTargetNotFound)

	_, err = h.coord.Drop(id("B"), Point{})
	require.NoError(t, err)
	_, err = h.coord.Drop(id("B"), Point{})
	require.ErrorIs(t, err, ErrNotDragging)
}

func TestCloseCancelsPendingReorder(t *testing.T) {
	h := newHarness(t, seqList("A", "B"), nil)

	require.NoError(t, h.coord.DragStart(id("A"), Point{}, bounds))
	_, err := h.coord.Drop(id("B"), Point{})
	require.NoError(t, err)

	h.coord.Close()
	h.clock.Advance(DefaultSettleDelay)
	h.none(t)

	require.ErrorIs(t, h.coord.DragStart(id("A"), Point{}, bounds), ErrClosed)
	_, err = h.coord.Drop(id("B"), Point{})
	require.ErrorIs(t, err, ErrClosed)
}

func TestDragLeave(t *testing.T) {
	h := newHarness(t, seqList("A", "B"), nil)
	require.NoError(t, h.coord.DragStart(id("A"), Point{}, bounds))
	h.coord.DragEnter(id("B"))

	h.coord.DragLeave(id("B"), Point{X: 10, Y: 50}, bounds)
	over, ok := h.coord.DraggedOverItem()
	require.True(t, ok, "pointer still inside the item")
	require.Equal(t, "B", over.String())

	h.coord.DragLeave(id("B"), Point{X: 10, Y: 500}, bounds)
	_, ok = h.coord.DraggedOverItem()
	require.False(t, ok)
}

func TestPendingGeometry(t *testing.T) {
	h := newHarness(t, seqList("A", "B", "C", "D"), nil)

	require.NoError(t, h.coord.DragStart(id("A"), Point{X: 30, Y: 50}, bounds))
	offset, ok := h.coord.DragOffset()
	require.True(t, ok)
	require.Equal(t, Point{X: 30, Y: 10}, offset)

	_, err := h.coord.Drop(id("C"), Point{X: 40, Y: 140})
	require.NoError(t, err)

	drop, ok := h.coord.DropPosition()
	require.True(t, ok)
	require.Equal(t, Point{X: 40, Y: 140}, drop)

	p, ok := h.coord.PendingReorder()
	require.True(t, ok)
	require.Equal(t, Point{X: 10, Y: 130}, p.DraggedStart())
	require.Equal(t, 2*(32+ItemGap), p.Displacement(id("A"), 32))
	require.Equal(t, -(32 + ItemGap), p.Displacement(id("B"), 32))
	require.Zero(t, p.Displacement(id("D"), 32))
}
