package adapter

import (
	"os"

	"go.uber.org/zap"

	"amoeba/internal/linker"
	"amoeba/internal/probe"
)

// Docker adapts the host to container life: host-mount path mappings,
// container metadata services, and GC settings suited to cgroup limits.
type Docker struct {
	log *zap.Logger
}

// NewDocker creates the docker adapter.
func NewDocker(log *zap.Logger) *Docker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Docker{log: log}
}

func (a *Docker) Name() string  { return "docker" }
func (a *Docker) Priority() int { return 9 }

func (a *Docker) Detect(env *probe.Environment) bool {
	if env.IsDocker {
		a.log.Info("docker environment detected",
			zap.String("container_id", env.ContainerID),
			zap.String("runtime", env.ContainerRuntime))
	}
	return env.IsDocker
}

// Prelink maps the conventional container mount points.
func (a *Docker) Prelink(h Host) error {
	l := h.Linker()
	l.AddMapping("/host", "/")
	l.AddMapping("/workspace", "/app")
	l.AddMapping("/data", "/var/lib/amoeba")
	os.Setenv("CONTAINERIZED", "1")
	return nil
}

// Link registers container metadata and a liveness endpoint.
func (a *Docker) Link(h Host) error {
	l := h.Linker()
	env := h.Environment()

	l.RegisterService("container_info", linker.ServiceEntry{
		"id":      env.ContainerID,
		"runtime": env.ContainerRuntime,
	})
	l.ExposeHealthEndpoint("/healthz")

	a.log.Info("docker link complete", zap.String("container_id", env.ContainerID))
	return nil
}

// Optimize tunes for cgroup memory and CPU limits.
func (a *Docker) Optimize(h Host) error {
	o := h.Optimizer()
	o.ApplyDockerOptimizations()
	o.LimitCPUQuotaIfNeeded()
	o.OptimizeMemory()
	return nil
}
