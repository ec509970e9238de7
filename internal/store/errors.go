package store

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrTokenNotFound     = errors.New("token not found")
	ErrInvalidTransition = errors.New("invalid token state transition")
	ErrSlotUnavailable   = errors.New("slot already booked")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrSessionClosed     = errors.New("session closed")
)
