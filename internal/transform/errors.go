package transform

import "errors"

var (
	// ErrUnsupportedTransform is returned for an unknown transform type.
	ErrUnsupportedTransform = errors.New("unsupported transform")
	// ErrInvalidParameters is returned when a transform is missing a required parameter.
	ErrInvalidParameters = errors.New("invalid transform parameters")
)
