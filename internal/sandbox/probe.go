package sandbox

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// manifest mirrors the JSON a plugin's Manifest function returns.
type manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	APIVersion  string          `json:"api_version"`
	Requires    []string        `json:"requires"`
	Permissions map[string]bool `json:"permissions"`
	Sandbox     bool            `json:"sandbox"`
}

// RunProbe is the child-process entry point. It evaluates the plugin at
// path in a fresh interpreter, calls its Manifest function, and writes a
// Result line to w. The process outcome is always a printed verdict; a
// broken plugin yields Success=false, not a crash of the probe itself.
func RunProbe(path string, w io.Writer) error {
	res := probe(path)
	return json.NewEncoder(w).Encode(res)
}

func probe(path string) (res *Result) {
	res = &Result{}
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("plugin panicked during evaluation: %v", r)
		}
	}()

	src, err := os.ReadFile(path)
	if err != nil {
		res.Error = fmt.Sprintf("reading plugin: %v", err)
		return res
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		res.Error = fmt.Sprintf("loading stdlib symbols: %v", err)
		return res
	}

	if _, err := i.Eval(string(src)); err != nil {
		res.Error = fmt.Sprintf("evaluating plugin: %v", err)
		return res
	}

	v, err := i.Eval("main.Manifest")
	if err != nil {
		res.Error = fmt.Sprintf("Manifest function not found: %v", err)
		return res
	}
	manifestFn, ok := v.Interface().(func() string)
	if !ok {
		res.Error = "Manifest has incorrect signature (expected: func() string)"
		return res
	}

	var m manifest
	if err := json.Unmarshal([]byte(manifestFn()), &m); err != nil {
		res.Error = fmt.Sprintf("manifest is not valid JSON: %v", err)
		return res
	}
	if m.Name == "" || m.Version == "" {
		res.Error = "manifest missing name or version"
		return res
	}

	res.Success = true
	res.Name = m.Name
	res.Version = m.Version
	res.APIVersion = m.APIVersion
	res.Requires = m.Requires
	res.Permissions = m.Permissions
	res.Sandbox = m.Sandbox
	return res
}
