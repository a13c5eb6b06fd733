package security

import "errors"

// Plugin security errors.
var (
	// ErrSignatureMissing is returned when a signature is required but no
	// co-located .sig file exists.
	ErrSignatureMissing = errors.New("plugin signature required but missing")

	// ErrBadManifest is returned when a plugin's permission manifest is
	// not a well-formed map.
	ErrBadManifest = errors.New("permission manifest is not a well-formed map")

	// ErrFileTooLarge is returned when a plugin file exceeds the size ceiling.
	ErrFileTooLarge = errors.New("plugin file exceeds size limit")

	// ErrUnparseable is returned when a plugin file is not valid Go source.
	ErrUnparseable = errors.New("plugin file is not valid source")
)
