package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConnection   = errors.New("connection failed")
	ErrNotConnected = errors.New("not connected")
	ErrUnknownOrder = errors.New("unknown order")
	ErrValidation   = errors.New("invalid order parameters")
	ErrRateLimited  = errors.New("rate limited")
	ErrNotFound     = errors.New("not found")
	ErrLockHeld     = errors.New("lock held by another owner")
)

// UnknownOrderError is returned when an order reference cannot be resolved
// through the identity map. It indicates a desync between caller and adapter.
type UnknownOrderError struct {
	LocalID  int64
	BrokerID int64
}

func (e *UnknownOrderError) Error() string {
	switch {
	case e.LocalID != 0:
		return fmt.Sprintf("unknown order: local id %d", e.LocalID)
	case e.BrokerID != 0:
		return fmt.Sprintf("unknown order: broker id %d", e.BrokerID)
	default:
		return "unknown order"
	}
}

// Is makes errors.Is(err, ErrUnknownOrder) hold.
func (e *UnknownOrderError) Is(target error) bool {
	return target == ErrUnknownOrder
}

// ValidationError describes a malformed order parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order parameters: %s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
