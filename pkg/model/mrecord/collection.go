package mrecord

import (
	"fmt"
	"math"
	"sort"

	"github.com/the-dev-tools/restsync/pkg/idwrap"
)

// Collection is the client side mirror of a resource list. Insertion order is
// the only order; callers that care about "sequence" sort explicitly.
type Collection []Record

func (c Collection) Clone() Collection {
	if c == nil {
		return nil
	}
	out := make(Collection, len(c))
	for i, r := range c {
		out[i] = r.Clone()
	}
	return out
}

func (c Collection) Index(id idwrap.IDWrap) int {
	for i, r := range c {
		if r.ID.Equal(id) {
			return i
		}
	}
	return -1
}

func (c Collection) Has(id idwrap.IDWrap) bool {
	return c.Index(id) >= 0
}

func (c Collection) Find(id idwrap.IDWrap) (Record, bool) {
	i := c.Index(id)
	if i < 0 {
		return Record{}, false
	}
	return c[i], true
}

func (c Collection) IDs() []idwrap.IDWrap {
	ids := make([]idwrap.IDWrap, len(c))
	for i, r := range c {
		ids[i] = r.ID
	}
	return ids
}

// MaxID returns the largest numeric id. Text ids that are not decimal are ignored.
func (c Collection) MaxID() (int64, bool) {
	var (
		max   int64
		found bool
	)
	for _, r := range c {
		n, ok := r.ID.Num()
		if !ok {
			continue
		}
		if !found || n > max {
			max, found = n, true
		}
	}
	return max, found
}

func (c Collection) MaxSequence() (float64, bool) {
	max := math.Inf(-1)
	found := false
	for _, r := range c {
		if s, ok := r.Sequence(); ok && s > max {
			max, found = s, true
		}
	}
	return max, found
}

// Validate reports the first duplicate id.
func (c Collection) Validate() error {
	seen := make(map[string]struct{}, len(c))
	for _, r := range c {
		if r.ID.IsZero() {
			return ErrMissingID
		}
		key := r.ID.String()
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// SortedBySequence returns a copy ordered by sequence. Records without a
// sequence keep their relative order after the sequenced ones.
func (c Collection) SortedBySequence() Collection {
	out := make(Collection, len(c))
	copy(out, c)
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := out[i].Sequence()
		b, bok := out[j].Sequence()
		switch {
		case aok && bok:
			return a < b
		case aok:
			return true
		}
		return false
	})
	return out
}
