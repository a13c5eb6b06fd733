// Package security gates plugin loading: signature presence, permission
// manifest shape, and static source validation. It is a structural gate,
// not a capability enforcer — declared permissions are validated for shape
// only and never enforced at runtime.
package security

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"strings"

	"go.uber.org/zap"
)

// MaxPluginFileSize is the validation ceiling for plugin sources.
const MaxPluginFileSize = 10 << 20 // 10 MB

// knownPermissions are the manifest keys a plugin may declare.
var knownPermissions = map[string]bool{
	"fs":      true,
	"net":     true,
	"system":  true,
	"process": true,
	"env":     true,
}

// riskyImports flag source that touches primitives worth a reviewer's
// attention. References produce warnings, never errors.
var riskyImports = []string{"os/exec", "syscall", "unsafe", "plugin", "net", "net/http"}

// riskySelectors are call roots flagged in the same way.
var riskySelectors = map[string]bool{
	"os.StartProcess": true,
	"os.OpenFile":     true,
	"os.Open":         true,
	"os.Remove":       true,
	"os.RemoveAll":    true,
}

// Manager performs load-time security checks.
type Manager struct {
	log *zap.Logger
}

// NewManager creates a security Manager.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{log: log}
}

// VerifySignature checks that a signature file sits beside the plugin.
// When signatures are not required it always succeeds. The signature file
// is "<pluginPath>.sig"; content verification is left to deployment tooling.
func (m *Manager) VerifySignature(pluginPath string, required bool) error {
	if !required {
		return nil
	}

	sigPath := pluginPath + ".sig"
	info, err := os.Stat(sigPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSignatureMissing, sigPath)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrSignatureMissing, sigPath)
	}
	m.log.Debug("plugin signature present", zap.String("sig", sigPath))
	return nil
}

// CheckPermissions validates the shape of a declared permission manifest.
// A nil manifest fails; unknown keys are warned about but accepted.
func (m *Manager) CheckPermissions(pluginName string, manifest map[string]bool) error {
	if manifest == nil {
		return fmt.Errorf("%w: plugin %s declared nil permissions", ErrBadManifest, pluginName)
	}
	for key := range manifest {
		if !knownPermissions[key] {
			m.log.Warn("unknown permission declared",
				zap.String("plugin", pluginName),
				zap.String("permission", key))
		}
	}
	return nil
}

// Validation is the result of static plugin-file validation. Warnings are
// advisory; the file is loadable iff Err is nil.
type Validation struct {
	Err      error
	Warnings []string
	FileSize int64
	Package  string
	Imports  []string
}

// ValidatePluginFile statically validates a plugin source file: size
// ceiling, parseability, risky-primitive references (warnings) and the
// exported Manifest marker (warning when absent).
func (m *Manager) ValidatePluginFile(path string) Validation {
	var v Validation

	info, err := os.Stat(path)
	if err != nil {
		v.Err = fmt.Errorf("plugin file not readable: %w", err)
		return v
	}
	v.FileSize = info.Size()
	if info.Size() > MaxPluginFileSize {
		v.Err = fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
		return v
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		v.Err = fmt.Errorf("%w: %v", ErrUnparseable, err)
		return v
	}
	v.Package = file.Name.Name

	hasManifest := false
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if ok && fn.Recv == nil && fn.Name.Name == "Manifest" {
			hasManifest = true
			break
		}
	}
	if !hasManifest {
		v.Warnings = append(v.Warnings, "no exported Manifest function found")
	}

	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		v.Imports = append(v.Imports, importPath)
		for _, risky := range riskyImports {
			if importPath == risky || strings.HasPrefix(importPath, risky+"/") {
				v.Warnings = append(v.Warnings,
					fmt.Sprintf("references risky import: %s", importPath))
			}
		}
	}

	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		ident, ok := sel.X.(*ast.Ident)
		if !ok {
			return true
		}
		name := ident.Name + "." + sel.Sel.Name
		if riskySelectors[name] {
			v.Warnings = append(v.Warnings,
				fmt.Sprintf("references risky operation: %s", name))
		}
		return true
	})

	for _, w := range v.Warnings {
		m.log.Warn("plugin validation warning",
			zap.String("plugin", path),
			zap.String("warning", w))
	}
	return v
}
