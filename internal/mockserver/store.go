package mockserver

import (
	"context"
	"errors"

	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
	"github.com/the-dev-tools/restsync/pkg/patch"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// Store keeps the resources the server exposes. Records of a resource are
// returned in insertion order. Implementations must be safe for concurrent use.
type Store interface {
	List(ctx context.Context, resource string) (mrecord.Collection, error)
	Get(ctx context.Context, resource string, id idwrap.IDWrap) (mrecord.Record, error)
	// Insert adds rec. ErrDuplicate is returned if the id is taken.
	Insert(ctx context.Context, resource string, rec mrecord.Record) error
	Replace(ctx context.Context, resource string, rec mrecord.Record) error
	Patch(ctx context.Context, resource string, p patch.RecordPatch) (mrecord.Record, error)
	// Delete removes every id or none of them.
	Delete(ctx context.Context, resource string, ids []idwrap.IDWrap) error
	Close() error
}

// Seed inserts every record of data into resource.
func Seed(ctx context.Context, s Store, resource string, data mrecord.Collection) error {
	for _, rec := range data {
		if err := s.Insert(ctx, resource, rec); err != nil {
			return err
		}
	}
	return nil
}
