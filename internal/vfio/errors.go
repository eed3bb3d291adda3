package vfio

import "errors"

// Sentinel errors so callers can use errors.Is instead of matching strings.
var (
	// ErrGroupTableFull is returned by Container.JoinGroup when all
	// MaxGroups slots are already tracking a distinct group.
	ErrGroupTableFull = errors.New("vfio: group table full")

	// ErrVectorOutOfRange is returned by EnableVector when vec is not less
	// than the device's reported MSI-X vector count. DisableVector reports
	// an out-of-range vec as ErrNotArmed.
	ErrVectorOutOfRange = errors.New("vfio: vector out of range")

	// ErrAlreadyArmed is returned by EnableVector when vec already has a
	// live eventfd committed against it.
	ErrAlreadyArmed = errors.New("vfio: vector already armed")

	// ErrNotArmed is returned by DisableVector when vec has no eventfd
	// committed against it.
	ErrNotArmed = errors.New("vfio: vector not armed")
)
