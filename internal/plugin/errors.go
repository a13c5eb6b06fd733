package plugin

import "errors"

var (
	// ErrIncompatibleAPI indicates the plugin targets an API the host does not speak.
	ErrIncompatibleAPI = errors.New("plugin: incompatible api version")

	// ErrMissingRequirement indicates the host lacks a capability the plugin requires.
	ErrMissingRequirement = errors.New("plugin: missing required capability")

	// ErrNotFound indicates no plugin with the given name is registered.
	ErrNotFound = errors.New("plugin: not found")

	// ErrAlreadyLoaded indicates a plugin with the same name is already registered.
	ErrAlreadyLoaded = errors.New("plugin: already loaded")

	// ErrNoLoadFunc indicates the evaluated source exports no Load function.
	ErrNoLoadFunc = errors.New("plugin: no Load function exported")
)
