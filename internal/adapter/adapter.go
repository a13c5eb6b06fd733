// Package adapter matches the host to its runtime environment. Each
// adapter knows one environment family (local, docker, wsl, cloud),
// reports whether it applies, and wires that environment's paths,
// services and optimizations into the host.
package adapter

import (
	"amoeba/internal/linker"
	"amoeba/internal/optimizer"
	"amoeba/internal/probe"
)

// Host is the surface adapters operate on. host.Manager satisfies it;
// keeping it narrow lets adapter tests supply a bare fixture.
type Host interface {
	Environment() *probe.Environment
	Linker() *linker.Linker
	Optimizer() *optimizer.Optimizer
}

// Adapter attaches the host to one environment family. Prelink prepares
// paths and process state before services come up, Link registers the
// environment's services, Optimize applies environment-specific tunings.
// Each phase may fail independently; the host continues with the rest.
type Adapter interface {
	Name() string

	// Priority orders adapters during automatic selection; higher wins.
	Priority() int

	// Detect reports whether this adapter applies to the environment.
	Detect(env *probe.Environment) bool

	Prelink(h Host) error
	Link(h Host) error
	Optimize(h Host) error
}
