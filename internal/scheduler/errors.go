package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrPlanStuck is the failure of a plan that can make no further progress.
	ErrPlanStuck = errors.New("plan stuck")
	// ErrPoolClosed is returned for plans still pending when the pool stops.
	ErrPoolClosed = errors.New("scheduler pool closed")
)

// JobError is the failure of a node action. Every plan that waited on the
// job fails with it.
type JobError struct {
	ID  string
	Err error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %q failed: %v", e.ID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
