// Package plugin hosts dynamically discovered Go plugins. Plugins are
// single Go source files evaluated at runtime; each exports a Manifest
// function describing itself and lifecycle functions the host drives.
package plugin

import (
	"fmt"
	"strconv"
	"strings"
)

// State tracks a plugin through its lifecycle.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Manifest is a plugin's self-description, decoded from the JSON its
// Manifest function returns.
type Manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	APIVersion  string          `json:"api_version"`
	Requires    []string        `json:"requires"`
	Permissions map[string]bool `json:"permissions"`
	Sandbox     bool            `json:"sandbox"`
}

// Plugin is the runtime handle the registry drives. Implementations wrap
// the lifecycle functions an evaluated plugin exports; Start, Stop and
// Unload are no-ops when the plugin does not export them.
type Plugin interface {
	Manifest() Manifest
	Load(host map[string]any) error
	Start(host map[string]any) error
	Stop(host map[string]any) error
	Unload(host map[string]any) error
}

// Descriptor pairs a loaded plugin with its source and state.
type Descriptor struct {
	Path     string
	Manifest Manifest
	State    State
	Plugin   Plugin
}

// IsCompatible reports whether a plugin built against apiVersion can run
// under hostVersion. Versions are "major.minor": majors must match and
// the plugin's minor must not exceed the host's.
func IsCompatible(apiVersion, hostVersion string) (bool, error) {
	pMaj, pMin, err := parseVersion(apiVersion)
	if err != nil {
		return false, fmt.Errorf("plugin api_version: %w", err)
	}
	hMaj, hMin, err := parseVersion(hostVersion)
	if err != nil {
		return false, fmt.Errorf("host api version: %w", err)
	}
	return pMaj == hMaj && pMin <= hMin, nil
}

func parseVersion(v string) (major, minor int, err error) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("malformed version %q", v)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed version %q", v)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed version %q", v)
	}
	return major, minor, nil
}
