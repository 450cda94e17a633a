package crudsync

import (
	"context"
	"errors"
	"sync"

	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
	"github.com/the-dev-tools/restsync/pkg/patch"
)

// Await starts op and blocks until its OnSettled fires or ctx is done.
//
//	err := crudsync.Await(ctx, func(cb crudsync.OnSettled) { s.Create(ctx, payload, cb) })
func Await(ctx context.Context, op func(OnSettled)) error {
	done := make(chan error, 1)
	op(func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReorderSink adapts the session to a reorder callback. For each record of the
// final list whose sequence differs from the live collection it issues one
// Update carrying only the new sequence. onSettled fires once, after every
// update settled, with the joined errors.
func (s *Session) ReorderSink(ctx context.Context, onSettled OnSettled) func(mrecord.Collection) {
	return func(final mrecord.Collection) {
		live := s.Data()

		var displaced mrecord.Collection
		for _, rec := range final {
			seq, ok := rec.Sequence()
			if !ok {
				continue
			}
			cur, found := live.Find(rec.ID)
			if !found {
				continue
			}
			if old, ok := cur.Sequence(); ok && old == seq {
				continue
			}
			displaced = append(displaced, rec)
		}

		if len(displaced) == 0 {
			settle(onSettled, nil)
			return
		}
		s.logger.DebugContext(ctx, "persisting reorder", "ids", idwrap.JoinIDs(displaced.IDs()))

		var (
			mu      sync.Mutex
			pending = len(displaced)
			errs    []error
		)
		for _, rec := range displaced {
			seq, _ := rec.Sequence()
			p := patch.NewRecordPatch(rec.ID).With(mrecord.FieldSequence, seq)
			s.Update(ctx, p, func(err error) {
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				}
				pending--
				last := pending == 0
				mu.Unlock()
				if last {
					settle(onSettled, errors.Join(errs...))
				}
			})
		}
	}
}
