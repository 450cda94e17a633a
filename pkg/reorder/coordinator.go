// Package reorder coordinates a pointer drag over a list of records. A drop
// computes the new order at once but hands it to the persistence callback only
// after a settle delay, so drop animations finish before the list is rewritten.
package reorder

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
)

const (
	DefaultSettleDelay   = 600 * time.Millisecond
	DefaultSnapBackDelay = 300 * time.Millisecond

	// ItemGap is the vertical space between two rendered items.
	ItemGap = 8.0
)

type State int8

const (
	StateIdle State = iota
	StateDragging
	StateDraggedOver
	StatePending
)

func (s State) String() string {
	switch s {
	case StateDragging:
		return "dragging"
	case StateDraggedOver:
		return "dragged_over"
	case StatePending:
		return "pending_reorder"
	default:
		return "idle"
	}
}

type Point struct {
	X, Y float64
}

func (p Point) Sub(o Point) Point {
	return Point{X: p.X - o.X, Y: p.Y - o.Y}
}

// Rect is an item's bounding box in the same coordinate space as pointer events.
type Rect struct {
	X, Y, Width, Height float64
}

func (r Rect) Origin() Point {
	return Point{X: r.X, Y: r.Y}
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// PendingReorder describes a drop whose persistence is waiting for the
// settle delay. All lists are private copies.
type PendingReorder struct {
	Items      mrecord.Collection
	FullList   mrecord.Collection
	Original   mrecord.Collection
	DraggedID  idwrap.IDWrap
	TargetID   idwrap.IDWrap
	DropPoint  Point
	DragOffset Point
}

// Final is the list handed to the persistence callback.
func (p PendingReorder) Final() mrecord.Collection {
	if p.FullList != nil {
		return p.FullList
	}
	return p.Items
}

// Displacement is how far the record with id moved, in pixels, for items of the
// given height. Positive values move down.
func (p PendingReorder) Displacement(id idwrap.IDWrap, itemHeight float64) float64 {
	from, to := p.Original.Index(id), p.Items.Index(id)
	if from < 0 || to < 0 {
		return 0
	}
	return float64(to-from) * (itemHeight + ItemGap)
}

// DraggedStart is where the dragged item's drop animation begins: the
// pointer position of the drop minus the offset it was grabbed at.
func (p PendingReorder) DraggedStart() Point {
	return p.DropPoint.Sub(p.DragOffset)
}

type Options struct {
	SettleDelay   time.Duration
	SnapBackDelay time.Duration
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.SnapBackDelay <= 0 {
		o.SnapBackDelay = DefaultSnapBackDelay
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Coordinator is the drag state machine for one rendered list. Handlers may
// be called from any goroutine; onItemsChange is never called with the
// coordinator's lock held.
type Coordinator struct {
	opts          Options
	onItemsChange func(mrecord.Collection)

	mu           sync.Mutex
	items        mrecord.Collection
	fullList     mrecord.Collection
	dragged      *idwrap.IDWrap
	draggedOver  *idwrap.IDWrap
	pending      *PendingReorder
	dropPosition *Point
	dragOffset   *Point
	// generation invalidates timers: a timer only acts if the generation it
	// was scheduled under is still current.
	generation uint64
	timer      clockwork.Timer
	closed     bool
}

// New builds a coordinator for the visible items. fullList is optional; when
// given, drops re-sort it too and it becomes the list handed to onItemsChange.
func New(items, fullList mrecord.Collection, onItemsChange func(mrecord.Collection), opts Options) *Coordinator {
	c := &Coordinator{
		opts:          opts.withDefaults(),
		onItemsChange: onItemsChange,
	}
	c.setItemsLocked(items, fullList)
	return c
}

// SetItems replaces the lists the next drop works on.
func (c *Coordinator) SetItems(items, fullList mrecord.Collection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setItemsLocked(items, fullList)
}

func (c *Coordinator) setItemsLocked(items, fullList mrecord.Collection) {
	c.items = items.Clone()
	c.fullList = nil
	if fullList != nil {
		c.fullList = fullList.Clone()
	}
}

// DragStart begins a drag of id grabbed at pointer inside bounds. A reorder
// still waiting for its settle delay is committed first.
func (c *Coordinator) DragStart(id idwrap.IDWrap, pointer Point, bounds Rect) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	var committed mrecord.Collection
	if c.pending != nil {
		committed = c.commitLocked()
	}
	if !c.items.Has(id) {
		c.mu.Unlock()
		c.emit(committed)
		return ErrItemNotFound
	}

	c.cancelTimerLocked()
	c.clearLocked()
	dragged := id
	offset := pointer.Sub(bounds.Origin())
	c.dragged = &dragged
	c.dragOffset = &offset
	c.mu.Unlock()

	c.emit(committed)
	return nil
}

// DragOver reports whether a drop on id would be accepted.
func (c *Coordinator) DragOver(id idwrap.IDWrap) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragged != nil && c.pending == nil && !c.dragged.Equal(id) && c.items.Has(id)
}

func (c *Coordinator) DragEnter(id idwrap.IDWrap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dragged == nil || c.pending != nil || c.dragged.Equal(id) || !c.items.Has(id) {
		return
	}
	over := id
	c.draggedOver = &over
}

// DragLeave clears the hover target once the pointer is outside the item.
func (c *Coordinator) DragLeave(id idwrap.IDWrap, pointer Point, bounds Rect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draggedOver == nil || !c.draggedOver.Equal(id) || bounds.Contains(pointer) {
		return
	}
	c.draggedOver = nil
}

// Drop reorders the dragged item onto target and schedules persistence after
// the settle delay. It reports whether a reorder is now pending. Dropping an
// item onto itself changes nothing.
func (c *Coordinator) Drop(target idwrap.IDWrap, pointer Point) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	if c.dragged == nil || c.pending != nil {
		return false, ErrNotDragging
	}
	dragged := *c.dragged
	if dragged.Equal(target) {
		return false, nil
	}

	reordered, err := Move(c.items, dragged, target)
	if err != nil {
		return false, err
	}

	var offset Point
	if c.dragOffset != nil {
		offset = *c.dragOffset
	}
	p := &PendingReorder{
		Original:   c.items.Clone(),
		DraggedID:  dragged,
		TargetID:   target,
		DropPoint:  pointer,
		DragOffset: offset,
	}
	if c.fullList != nil {
		p.FullList = MergeIntoFullList(c.fullList, c.items, reordered)
		p.Items = pick(p.FullList, reordered)
	} else {
		p.Items = resequence(c.items, reordered)
	}

	drop := pointer
	c.pending = p
	c.dropPosition = &drop
	c.draggedOver = nil

	c.schedule(c.opts.SettleDelay, c.settle)
	c.opts.Logger.Debug("reorder pending",
		"dragged", dragged.String(),
		"target", target.String(),
		"settle", c.opts.SettleDelay)
	return true, nil
}

// DragEnd finishes a gesture. Without a successful drop the transient state
// is cleared after the snap-back delay and nothing is persisted.
func (c *Coordinator) DragEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.pending != nil || c.dragged == nil {
		return
	}
	c.draggedOver = nil
	c.schedule(c.opts.SnapBackDelay, c.snapBack)
}

// Close cancels pending timers. A pending reorder is dropped, not persisted.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cancelTimerLocked()
	c.clearLocked()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.pending != nil:
		return StatePending
	case c.draggedOver != nil:
		return StateDraggedOver
	case c.dragged != nil:
		return StateDragging
	}
	return StateIdle
}

func (c *Coordinator) Items() mrecord.Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Clone()
}

func (c *Coordinator) DraggedItem() (idwrap.IDWrap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deref(c.dragged)
}

func (c *Coordinator) DraggedOverItem() (idwrap.IDWrap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deref(c.draggedOver)
}

// PendingReorder returns a copy of the pending reorder, if any.
func (c *Coordinator) PendingReorder() (PendingReorder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingReorder{}, false
	}
	p := *c.pending
	p.Items = p.Items.Clone()
	p.FullList = p.FullList.Clone()
	p.Original = p.Original.Clone()
	return p, true
}

func (c *Coordinator) DropPosition() (Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deref(c.dropPosition)
}

func (c *Coordinator) DragOffset() (Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deref(c.dragOffset)
}

func (c *Coordinator) schedule(d time.Duration, fire func(generation uint64)) {
	c.cancelTimerLocked()
	gen := c.generation
	c.timer = c.opts.Clock.AfterFunc(d, func() { fire(gen) })
}

func (c *Coordinator) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
}

func (c *Coordinator) settle(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.pending == nil {
		c.mu.Unlock()
		return
	}
	final := c.commitLocked()
	c.mu.Unlock()
	c.emit(final)
}

func (c *Coordinator) snapBack(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.pending != nil {
		return
	}
	c.timer = nil
	c.clearLocked()
}

// commitLocked adopts the pending order as the current lists, resets the
// drag state and returns the list to persist.
func (c *Coordinator) commitLocked() mrecord.Collection {
	p := c.pending
	c.cancelTimerLocked()
	c.items = p.Items.Clone()
	if p.FullList != nil {
		c.fullList = p.FullList.Clone()
	}
	c.clearLocked()
	return p.Final().Clone()
}

func (c *Coordinator) clearLocked() {
	c.dragged = nil
	c.draggedOver = nil
	c.pending = nil
	c.dropPosition = nil
	c.dragOffset = nil
}

func (c *Coordinator) emit(final mrecord.Collection) {
	if final == nil || c.onItemsChange == nil {
		return
	}
	c.opts.Logger.Debug("reorder settled", "count", len(final))
	c.onItemsChange(final)
}

func deref[T any](p *T) (T, bool) {
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}
