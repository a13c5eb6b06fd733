package plugin

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
)

// lifecycleFunc is the shape of a plugin's exported lifecycle functions.
type lifecycleFunc = func(host map[string]any) error

// interpPlugin adapts an evaluated plugin's exported functions to the
// Plugin interface. The interpreter stays alive for the plugin's lifetime;
// missing lifecycle functions degrade to no-ops.
type interpPlugin struct {
	manifest Manifest
	interp   *interp.Interpreter

	load   lifecycleFunc
	start  lifecycleFunc
	stop   lifecycleFunc
	unload lifecycleFunc
}

func (p *interpPlugin) Manifest() Manifest { return p.manifest }

func (p *interpPlugin) Load(host map[string]any) error { return p.load(host) }

func (p *interpPlugin) Start(host map[string]any) error {
	if p.start == nil {
		return nil
	}
	return p.start(host)
}

func (p *interpPlugin) Stop(host map[string]any) error {
	if p.stop == nil {
		return nil
	}
	return p.stop(host)
}

func (p *interpPlugin) Unload(host map[string]any) error {
	if p.unload == nil {
		return nil
	}
	return p.unload(host)
}

// Loader evaluates plugin sources in-process. Callers are expected to have
// pre-checked the source in the sandbox first; the loader assumes the file
// at least evaluates.
type Loader struct {
	log *zap.Logger
}

// NewLoader creates a Loader.
func NewLoader(log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{log: log}
}

// Load evaluates the plugin source at path and binds its exported
// functions. The returned Plugin has not had its Load lifecycle called.
func (l *Loader) Load(path string) (Plugin, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plugin %s: %w", path, err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading stdlib symbols: %w", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, fmt.Errorf("evaluating plugin %s: %w", path, err)
	}

	mv, err := i.Eval("main.Manifest")
	if err != nil {
		return nil, fmt.Errorf("plugin %s: Manifest function not found: %w", path, err)
	}
	manifestFn, ok := mv.Interface().(func() string)
	if !ok {
		return nil, fmt.Errorf("plugin %s: Manifest has incorrect signature (expected: func() string)", path)
	}

	var m Manifest
	if err := json.Unmarshal([]byte(manifestFn()), &m); err != nil {
		return nil, fmt.Errorf("plugin %s: manifest is not valid JSON: %w", path, err)
	}
	if m.Name == "" || m.Version == "" {
		return nil, fmt.Errorf("plugin %s: manifest missing name or version", path)
	}

	p := &interpPlugin{manifest: m, interp: i}
	p.load, err = l.bind(i, "main.Load")
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", path, ErrNoLoadFunc)
	}
	// Optional lifecycle exports.
	p.start, _ = l.bind(i, "main.Start")
	p.stop, _ = l.bind(i, "main.Stop")
	p.unload, _ = l.bind(i, "main.Unload")

	l.log.Debug("plugin evaluated",
		zap.String("path", path),
		zap.String("name", m.Name),
		zap.String("version", m.Version))
	return p, nil
}

func (l *Loader) bind(i *interp.Interpreter, symbol string) (lifecycleFunc, error) {
	v, err := i.Eval(symbol)
	if err != nil {
		return nil, err
	}
	fn, ok := v.Interface().(func(map[string]any) error)
	if !ok {
		return nil, fmt.Errorf("%s has incorrect signature (expected: func(map[string]any) error)", symbol)
	}
	return fn, nil
}
