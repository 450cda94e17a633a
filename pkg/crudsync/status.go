package crudsync

import (
	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
)

// LoadStatus is the sync state of a session's collection. It only reaches
// success or errored through loading.
type LoadStatus int8

const (
	StatusLoading LoadStatus = 0
	StatusErrored LoadStatus = 1
	StatusSuccess LoadStatus = 2
)

func (s LoadStatus) String() string {
	switch s {
	case StatusErrored:
		return "errored"
	case StatusSuccess:
		return "success"
	default:
		return "loading"
	}
}

type ChangeKind string

const (
	ChangeLoading    ChangeKind = "loading"
	ChangeLoaded     ChangeKind = "loaded"
	ChangeLoadFailed ChangeKind = "load_failed"
	ChangeCreated    ChangeKind = "created"
	ChangeUpdated    ChangeKind = "updated"
	ChangeDeleted    ChangeKind = "deleted"
	ChangeRolledBack ChangeKind = "rolled_back"
)

// Change is published on the session topic after every state transition.
// Data is a private copy of the collection right after the change.
type Change struct {
	Kind   ChangeKind
	IDs    []idwrap.IDWrap
	Status LoadStatus
	Data   mrecord.Collection
	Err    error
}
