package store

import (
	"errors"
	"fmt"
)

// ErrConsistency matches every *ConsistencyError via errors.Is.
var ErrConsistency = errors.New("op log inconsistent")

// ErrLoopStopped is passed to callbacks issued after an Async loop exits.
var ErrLoopStopped = errors.New("store loop stopped")

// ConsistencyError means an op could not be written to its slot because the
// log length did not match. It only happens when something other than this
// store instance writes the same document.
type ConsistencyError struct {
	Collection string
	ID         string
	Slot       int
	Have       int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s/%s: cannot write op at slot %d, log has %d entries", e.Collection, e.ID, e.Slot, e.Have)
}

func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistency
}
