package graph

import "errors"

// ErrMaxStepsExceeded indicates that the graph execution reached the maximum
// allowed step count without completing.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrNoRoute indicates that a node finished without any route, fan-out,
// router or matching edge to follow.
var ErrNoRoute = errors.New("no valid route from node")

// ErrInvalidRoute indicates that a router returned an id outside its
// registered targets.
var ErrInvalidRoute = errors.New("router returned an unregistered target")

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// ErrNotCompiled is returned by Run when Compile has not succeeded yet.
var ErrNotCompiled = errors.New("graph has not been compiled")

// EngineError represents an error from Engine construction or execution.
//
// Code is a stable machine-readable identifier such as "OVERLAPPING_WRITES"
// or "NODE_TIMEOUT". Err, when set, is a sentinel that errors.Is can match.
type EngineError struct {
	Message string
	Code    string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
