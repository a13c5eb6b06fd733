package adapter

import (
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"

	"amoeba/internal/linker"
	"amoeba/internal/probe"
)

// Local is the guaranteed fallback: it applies everywhere and carries the
// lowest priority so specialized adapters win when they detect.
type Local struct {
	log *zap.Logger
}

// NewLocal creates the local adapter.
func NewLocal(log *zap.Logger) *Local {
	if log == nil {
		log = zap.NewNop()
	}
	return &Local{log: log}
}

func (a *Local) Name() string  { return "local" }
func (a *Local) Priority() int { return 1 }

// Detect always succeeds. Local is the default environment.
func (a *Local) Detect(env *probe.Environment) bool {
	a.log.Info("local environment detected", zap.String("os", runtime.GOOS))
	return true
}

// Prelink maps the platform's conventional directories.
func (a *Local) Prelink(h Host) error {
	l := h.Linker()
	home, err := os.UserHomeDir()
	if err != nil {
		a.log.Warn("home directory unavailable", zap.Error(err))
		home = "."
	}

	switch runtime.GOOS {
	case "windows":
		l.AddMapping("%USERPROFILE%", home)
		l.AddMapping("%APPDATA%", os.Getenv("APPDATA"))
		l.AddMapping("%LOCALAPPDATA%", os.Getenv("LOCALAPPDATA"))
		l.AddMapping("%TEMP%", os.TempDir())
	case "darwin":
		l.AddMapping("~/Library", filepath.Join(home, "Library"))
		l.AddMapping("~/Applications", filepath.Join(home, "Applications"))
	default:
		l.AddMapping("~/.config", filepath.Join(home, ".config"))
		l.AddMapping("~/.cache", filepath.Join(home, ".cache"))
		l.AddMapping("~/.local", filepath.Join(home, ".local"))
	}
	l.AddMapping("~", home)

	os.Setenv("PLATFORM", runtime.GOOS)
	return nil
}

// Link registers baseline platform and user services.
func (a *Local) Link(h Host) error {
	l := h.Linker()
	env := h.Environment()

	l.RegisterService("platform_info", linker.ServiceEntry{
		"system":   runtime.GOOS,
		"arch":     runtime.GOARCH,
		"hostname": env.OS.Hostname,
		"cpus":     runtime.NumCPU(),
	})

	cwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	if username == "" {
		username = "unknown"
	}
	l.RegisterService("user_info", linker.ServiceEntry{
		"username": username,
		"home":     home,
		"cwd":      cwd,
	})

	if pm, path := detectPackageManager(); pm != "" {
		l.RegisterService("package_manager", linker.ServiceEntry{
			"type": pm,
			"path": path,
		})
	}

	a.log.Info("local link complete")
	return nil
}

// Optimize applies the baseline tunings plus GPU tuning when present.
func (a *Local) Optimize(h Host) error {
	o := h.Optimizer()
	o.OptimizeMemory()
	o.OptimizeDiskIO()
	if h.Environment().HasGPU {
		o.TuneForGPU()
	}
	o.RunBenchmark()
	return nil
}

func detectPackageManager() (name, path string) {
	candidates := []struct{ name, path string }{
		{"apt", "/usr/bin/apt"},
		{"yum", "/usr/bin/yum"},
		{"dnf", "/usr/bin/dnf"},
		{"pacman", "/usr/bin/pacman"},
		{"brew", "/opt/homebrew/bin/brew"},
		{"brew", "/usr/local/bin/brew"},
	}
	for _, c := range candidates {
		if _, err := os.Stat(c.path); err == nil {
			return c.name, c.path
		}
	}
	return "", ""
}
