package player

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidReference      = errors.New("invalid reference")
	ErrInsufficientResources = errors.New("insufficient resources")
	ErrInvalidState          = errors.New("invalid state")
)

var (
	ErrUnknownResource   = fmt.Errorf("%w: unknown resource", ErrInvalidState)
	ErrUnknownTechnology = fmt.Errorf("%w: unknown technology", ErrInvalidState)
	ErrUnknownKind       = fmt.Errorf("%w: unknown kind", ErrInvalidState)
	ErrAlreadyActivated  = fmt.Errorf("%w: resource already activated", ErrInvalidState)
	ErrAtCap             = fmt.Errorf("%w: technology at cap", ErrInvalidState)
	ErrOutOfRange        = fmt.Errorf("%w: position out of nucleus range", ErrInvalidState)
	ErrOccupied          = fmt.Errorf("%w: position occupied", ErrInvalidState)
	ErrNoTarget          = fmt.Errorf("%w: no target", ErrInvalidState)
	ErrNoPath            = fmt.Errorf("%w: no path", ErrInvalidState)
	ErrLocked            = fmt.Errorf("%w: locked by technology", ErrInvalidState)
	ErrWayPointsFull     = fmt.Errorf("%w: way points full", ErrInvalidState)
)

// MissingError reports the deficit per resource of a rejected spend.
type MissingError struct {
	Missing Costs
}

func (e *MissingError) Error() string {
	var b strings.Builder
	b.WriteString("insufficient resources:")
	for _, r := range e.Missing.sortedKeys() {
		fmt.Fprintf(&b, " %s=%.2f", r, e.Missing[r])
	}
	return b.String()
}

func (e *MissingError) Unwrap() error { return ErrInsufficientResources }
