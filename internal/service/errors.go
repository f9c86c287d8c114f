package service

import "errors"

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict: record changed concurrently, retry")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrWrongState        = errors.New("record is not awaiting this confirmation")
	ErrAlreadyAssigned   = errors.New("emergency already assigned")
	ErrUnitBusy          = errors.New("unit is busy with another emergency")
	ErrTimeoutNotReached = errors.New("confirmation timeout not reached")
	ErrStoreUnavailable  = errors.New("store unavailable")
)
