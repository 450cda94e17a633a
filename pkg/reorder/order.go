package reorder

import (
	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
)

// Move returns a new list with dragged removed and reinserted at the index
// target had before the move. items is not modified.
//
//	Move([A B C D], A, C) = [B C A D]
//	Move([A B C D], D, B) = [A D B C]
func Move(items mrecord.Collection, dragged, target idwrap.IDWrap) (mrecord.Collection, error) {
	if dragged.Equal(target) {
		return nil, ErrSelfReference
	}
	from := items.Index(dragged)
	if from < 0 {
		return nil, ErrItemNotFound
	}
	to := items.Index(target)
	if to < 0 {
		return nil, ErrTargetNotFound
	}

	out := make(mrecord.Collection, 0, len(items))
	for i, r := range items {
		if i != from {
			out = append(out, r.Clone())
		}
	}
	moved := items[from].Clone()
	out = append(out, mrecord.Record{})
	copy(out[to+1:], out[to:])
	out[to] = moved
	return out, nil
}

// MergeIntoFullList orders full so that the records of reordered follow their
// new relative order while every other record keeps its sequence.
//
// visible is the list reordered was computed from. Its members own a set of
// sequence slots in full, taken in visible order: the record at index i of
// reordered takes the sequence visible[i] had in full. A list displayed in
// descending sequence order therefore persists descending sequences, the same
// as a drop without a full list. The result is sorted by sequence.
//
// When a member of reordered is missing from full or lacks a sequence, the
// slots are refilled in full's sequence order instead, unknown members are
// appended and the list is renumbered 1..n.
func MergeIntoFullList(full, visible, reordered mrecord.Collection) mrecord.Collection {
	if merged, ok := mergeBySlots(full, visible, reordered); ok {
		return merged
	}

	sorted := full.SortedBySequence()
	inVisible := make(map[string]struct{}, len(reordered))
	for _, r := range reordered {
		inVisible[r.ID.String()] = struct{}{}
	}

	out := make(mrecord.Collection, 0, len(sorted)+len(reordered))
	next := 0
	placed := make(map[string]struct{}, len(reordered))
	for _, r := range sorted {
		if _, ok := inVisible[r.ID.String()]; !ok || next >= len(reordered) {
			out = append(out, r.Clone())
			continue
		}
		occupant := reordered[next]
		next++
		placed[occupant.ID.String()] = struct{}{}
		out = append(out, occupant.Clone())
	}
	for _, r := range reordered {
		if _, ok := placed[r.ID.String()]; !ok {
			out = append(out, r.Clone())
		}
	}
	return resequence(sorted, out)
}

// mergeBySlots reports false when the slots of visible cannot be read from full.
func mergeBySlots(full, visible, reordered mrecord.Collection) (mrecord.Collection, bool) {
	if len(visible) != len(reordered) {
		return nil, false
	}
	slots := make(map[string]float64, len(reordered))
	for i, r := range visible {
		held, ok := full.Find(r.ID)
		if !ok {
			return nil, false
		}
		seq, ok := held.Sequence()
		if !ok {
			return nil, false
		}
		if !full.Has(reordered[i].ID) {
			return nil, false
		}
		slots[reordered[i].ID.String()] = seq
	}
	if len(slots) != len(reordered) {
		return nil, false
	}

	out := make(mrecord.Collection, 0, len(full))
	for _, r := range full {
		seq, moved := slots[r.ID.String()]
		if !moved {
			out = append(out, r.Clone())
			continue
		}
		rec := reordered[reordered.Index(r.ID)].Clone()
		rec.Set(mrecord.FieldSequence, seq)
		out = append(out, rec)
	}
	return out.SortedBySequence(), true
}

// resequence gives slot i of out the sequence slot i had in before. When any
// slot of before lacks a sequence the list is renumbered 1..n instead.
func resequence(before, out mrecord.Collection) mrecord.Collection {
	slots := make([]float64, len(out))
	renumber := len(before) < len(out)
	for i := range out {
		if renumber {
			break
		}
		seq, ok := before[i].Sequence()
		if !ok {
			renumber = true
			break
		}
		slots[i] = seq
	}
	for i := range out {
		if renumber {
			out[i].Set(mrecord.FieldSequence, float64(i+1))
			continue
		}
		out[i].Set(mrecord.FieldSequence, slots[i])
	}
	return out
}

// pick returns the records of list named by order, in order's order. Ids not
// in list are skipped.
func pick(list, order mrecord.Collection) mrecord.Collection {
	out := make(mrecord.Collection, 0, len(order))
	for _, r := range order {
		if rec, ok := list.Find(r.ID); ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}
