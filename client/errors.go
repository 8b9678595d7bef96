package client

import "errors"

var (
	ErrInvalidConfig  = errors.New("invalid client configuration")
	ErrAlreadyStarted = errors.New("session already started")
)
