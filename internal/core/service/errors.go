package service

import (
	"errors"

	"github.com/fleetops/permit-ledger/internal/port"
)

var (
	// ErrNotFound covers a missing permit entry, work order, or
	// pre-allocation. Aliased to the store sentinel so callers can
	// errors.Is either way.
	ErrNotFound = port.ErrNotFound

	// ErrDuplicateAllocation means the truck already holds an active
	// pre-allocation for the destination.
	ErrDuplicateAllocation = errors.New("active allocation already exists for truck and destination")

	// ErrInsufficientVolume means the permit entry cannot cover the
	// requested quantity.
	ErrInsufficientVolume = errors.New("insufficient permit volume")

	// ErrInvalidVolume means the edit would drop the entry or the
	// allocation below the amount already reserved.
	ErrInvalidVolume = errors.New("volume update violates pre-allocated amount")
)
