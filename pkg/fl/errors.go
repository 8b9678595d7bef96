package fl

import "errors"

var (
	ErrNoContributions = errors.New("no contributions provided for aggregation")
	ErrLayerMismatch   = errors.New("contributions carry different layer names")
	ErrShapeMismatch   = errors.New("contributions carry different tensor shapes")
	ErrInvalidWeights  = errors.New("invalid aggregation weights")
	ErrUnknownTopic    = errors.New("message on unexpected topic")
	ErrMalformed       = errors.New("malformed message")
	ErrEmptyPath       = errors.New("empty model path")
)
