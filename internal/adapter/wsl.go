package adapter

import (
	"os"

	"go.uber.org/zap"

	"amoeba/internal/linker"
	"amoeba/internal/probe"
)

// WSL adapts the host to Windows Subsystem for Linux: drive mount
// mappings, Windows interop services, and WSL-specific IO tunings.
type WSL struct {
	log *zap.Logger
}

// NewWSL creates the wsl adapter.
func NewWSL(log *zap.Logger) *WSL {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSL{log: log}
}

func (a *WSL) Name() string  { return "wsl" }
func (a *WSL) Priority() int { return 8 }

func (a *WSL) Detect(env *probe.Environment) bool {
	if env.IsWSL {
		a.log.Info("wsl environment detected",
			zap.String("version", env.WSLVersion),
			zap.String("distro", env.WSLDistro))
	}
	return env.IsWSL
}

// Prelink maps the Windows drive mounts.
func (a *WSL) Prelink(h Host) error {
	l := h.Linker()
	l.AddMapping("C:", "/mnt/c")
	l.AddMapping("D:", "/mnt/d")
	l.AddMapping("/windows", "/mnt/c/Windows")
	os.Setenv("WSL_HOST", "1")
	return nil
}

// Link registers Windows interop services where the interop binaries exist.
func (a *WSL) Link(h Host) error {
	l := h.Linker()
	env := h.Environment()

	l.RegisterService("wsl_info", linker.ServiceEntry{
		"version": env.WSLVersion,
		"distro":  env.WSLDistro,
	})

	if _, err := os.Stat("/mnt/c/Windows/System32/cmd.exe"); err == nil {
		l.RegisterService("windows_interop", linker.ServiceEntry{
			"cmd":        "/mnt/c/Windows/System32/cmd.exe",
			"powershell": "/mnt/c/Windows/System32/WindowsPowerShell/v1.0/powershell.exe",
		})
		l.RegisterBridge("windows", "/mnt/c")
	}

	a.log.Info("wsl link complete", zap.String("distro", env.WSLDistro))
	return nil
}

// Optimize applies WSL IO tunings on top of the baseline.
func (a *WSL) Optimize(h Host) error {
	o := h.Optimizer()
	o.ApplyWSLOptimizations()
	o.TuneIOBuffer()
	o.OptimizeMemory()
	return nil
}
