package coordinator

import "errors"

var (
	ErrInvalidConfig     = errors.New("invalid coordinator configuration")
	ErrAlreadyStarted    = errors.New("coordinator already started")
	ErrReadinessDeadline = errors.New("clients did not become ready before the deadline")
	ErrRoundDeadline     = errors.New("round did not collect enough contributions before the deadline")
	ErrPublish           = errors.New("failed to publish")
)
