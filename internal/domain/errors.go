package domain

import "errors"

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingType    = errors.New("message has no type")
	ErrBusUnavailable = errors.New("broadcast bus unavailable")
	ErrBusClosed      = errors.New("broadcast bus closed")
	ErrEmptyClientID  = errors.New("client id must not be empty")
)
