package adapter

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"amoeba/internal/probe"
)

// Selector picks the adapter for an environment. An explicit preference
// is honored when that adapter detects; otherwise adapters are scanned in
// priority order and the first detecting one wins. Local detects
// everywhere, so selection always succeeds when it is registered.
type Selector struct {
	log      *zap.Logger
	adapters []Adapter
}

// NewSelector creates a Selector over the given adapters.
func NewSelector(log *zap.Logger, adapters ...Adapter) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{log: log, adapters: adapters}
}

// DefaultSelector returns a Selector with the standard adapter set.
func DefaultSelector(log *zap.Logger) *Selector {
	return NewSelector(log,
		NewLocal(log),
		NewDocker(log),
		NewWSL(log),
		NewCloud(log),
	)
}

// Select picks an adapter. prefer names an adapter ("local", "docker",
// "wsl", "cloud") or is "auto"/empty for priority-ordered detection. A
// preferred adapter that does not detect falls back to the scan with a
// warning rather than failing attach.
func (s *Selector) Select(env *probe.Environment, prefer string) (Adapter, error) {
	if prefer != "" && prefer != "auto" {
		a, err := s.byName(prefer)
		if err != nil {
			return nil, err
		}
		if a.Detect(env) {
			s.log.Info("adapter selected by preference", zap.String("adapter", a.Name()))
			return a, nil
		}
		s.log.Warn("preferred adapter does not apply, falling back to detection",
			zap.String("adapter", prefer))
	}

	ordered := make([]Adapter, len(s.adapters))
	copy(ordered, s.adapters)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})

	for _, a := range ordered {
		if a.Detect(env) {
			s.log.Info("adapter selected",
				zap.String("adapter", a.Name()),
				zap.Int("priority", a.Priority()))
			return a, nil
		}
	}
	return nil, fmt.Errorf("no adapter applies to this environment")
}

func (s *Selector) byName(name string) (Adapter, error) {
	for _, a := range s.adapters {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("unknown adapter %q", name)
}

// Names lists the registered adapters in priority order, highest first.
func (s *Selector) Names() []string {
	ordered := make([]Adapter, len(s.adapters))
	copy(ordered, s.adapters)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})
	names := make([]string, len(ordered))
	for i, a := range ordered {
		names[i] = a.Name()
	}
	return names
}
