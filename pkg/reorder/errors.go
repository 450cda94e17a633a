package reorder

import "errors"

var (
	ErrItemNotFound   = errors.New("item not found")
	ErrTargetNotFound = errors.New("target item not found")
	ErrSelfReference  = errors.New("cannot move item to itself")
	ErrNotDragging    = errors.New("no drag in progress")
	ErrClosed         = errors.New("coordinator closed")
)
