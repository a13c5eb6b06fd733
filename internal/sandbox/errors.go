package sandbox

import "errors"

var (
	// ErrImportTimeout indicates the probe process exceeded its wall-clock budget.
	ErrImportTimeout = errors.New("sandbox: plugin import timed out")

	// ErrProbeFailed indicates the probe process crashed or produced no result.
	ErrProbeFailed = errors.New("sandbox: probe process failed")
)
