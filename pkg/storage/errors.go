package storage

import "errors"

var (
	ErrUnsupportedType = errors.New("unsupported storage type")
	ErrRoundNotFound   = errors.New("round not found")
)
