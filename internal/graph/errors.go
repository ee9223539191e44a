package graph

import "errors"

var (
	// ErrDuplicateID is returned when adding a node whose id is already taken.
	ErrDuplicateID = errors.New("duplicate node id")
	// ErrUnknownID is returned when an operation names an id the graph or
	// plan does not hold.
	ErrUnknownID = errors.New("unknown node id")
	// ErrNoRuleForTarget is the failure of a job whose node was never defined.
	ErrNoRuleForTarget = errors.New("no rule to make target")
	// ErrLoopDetected is returned when a link would make a node its own
	// ancestor.
	ErrLoopDetected = errors.New("loop detected")
)
