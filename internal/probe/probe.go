// Package probe inspects the running system and produces an immutable
// Environment descriptor: OS family, container flags (Docker, WSL), cloud
// provider, and GPU presence. Detection never fails hard — any signal that
// cannot be read is folded into the result as "not detected".
package probe

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// metadataTimeout bounds cloud metadata lookups and diagnostic subprocesses.
const metadataTimeout = 2 * time.Second

// Environment is the write-once descriptor produced by Detect. It is owned
// by the host and read-shared by adapters; nothing mutates it after creation.
type Environment struct {
	OS OSInfo `json:"os"`

	IsWSL      bool   `json:"is_wsl"`
	WSLVersion string `json:"wsl_version,omitempty"`
	WSLDistro  string `json:"wsl_distro,omitempty"`

	IsDocker         bool   `json:"is_docker"`
	ContainerID      string `json:"container_id,omitempty"`
	ContainerRuntime string `json:"container_runtime,omitempty"`

	IsCloud       bool   `json:"is_cloud"`
	CloudProvider string `json:"cloud_provider,omitempty"`
	InstanceType  string `json:"instance_type,omitempty"`
	Region        string `json:"region,omitempty"`

	HasGPU bool  `json:"has_gpu"`
	GPUs   []GPU `json:"gpus,omitempty"`
}

// OSInfo describes the host operating system.
type OSInfo struct {
	System   string `json:"system"` // runtime.GOOS
	Arch     string `json:"arch"`
	Hostname string `json:"hostname"`
	NumCPU   int    `json:"num_cpu"`
}

// GPU describes a single detected accelerator.
type GPU struct {
	Name     string `json:"name"`
	MemoryMB int    `json:"memory_mb,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
}

// Probe detects the runtime environment. Marker paths are fields so tests
// can point them at fixtures.
type Probe struct {
	log *zap.Logger

	procVersionPath string
	dockerEnvPath   string
	cgroupPath      string
	hypervisorUUID  string
	dmiVendorPath   string
	gcpMetadataURL  string

	httpClient *http.Client
	lookPath   func(string) (string, error)
}

// New creates a Probe with the standard Linux marker paths.
func New(log *zap.Logger) *Probe {
	if log == nil {
		log = zap.NewNop()
	}
	return &Probe{
		log:             log,
		procVersionPath: "/proc/version",
		dockerEnvPath:   "/.dockerenv",
		cgroupPath:      "/proc/1/cgroup",
		hypervisorUUID:  "/sys/hypervisor/uuid",
		dmiVendorPath:   "/sys/class/dmi/id/sys_vendor",
		gcpMetadataURL:  "http://metadata.google.internal/computeMetadata/v1/instance/machine-type",
		httpClient:      &http.Client{Timeout: metadataTimeout},
		lookPath:        exec.LookPath,
	}
}

// Detect inspects all signals and returns the aggregate descriptor.
// Individual detection failures degrade to "not detected"; Detect itself
// never returns an error.
func (p *Probe) Detect(ctx context.Context) *Environment {
	env := &Environment{
		OS: OSInfo{
			System: runtime.GOOS,
			Arch:   runtime.GOARCH,
			NumCPU: runtime.NumCPU(),
		},
	}
	if host, err := os.Hostname(); err == nil {
		env.OS.Hostname = host
	}

	p.detectWSL(env)
	p.detectDocker(env)
	p.detectCloud(ctx, env)
	p.detectGPU(ctx, env)

	p.log.Info("environment detected",
		zap.String("os", env.OS.System),
		zap.Bool("wsl", env.IsWSL),
		zap.Bool("docker", env.IsDocker),
		zap.Bool("cloud", env.IsCloud),
		zap.String("provider", env.CloudProvider),
		zap.Bool("gpu", env.HasGPU))

	return env
}

func (p *Probe) detectWSL(env *Environment) {
	if data, err := os.ReadFile(p.procVersionPath); err == nil {
		version := strings.ToLower(string(data))
		if strings.Contains(version, "microsoft") {
			env.IsWSL = true
			if strings.Contains(version, "wsl2") {
				env.WSLVersion = "2"
			} else {
				env.WSLVersion = "1"
			}
		}
	}

	if distro := os.Getenv("WSL_DISTRO_NAME"); distro != "" {
		env.IsWSL = true
		env.WSLDistro = distro
	}

	if !env.IsWSL && runtime.GOOS == "linux" {
		ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
		defer cancel()
		if out, err := exec.CommandContext(ctx, "uname", "-r").Output(); err == nil {
			if strings.Contains(strings.ToLower(string(out)), "microsoft") {
				env.IsWSL = true
			}
		}
	}
}

func (p *Probe) detectDocker(env *Environment) {
	if _, err := os.Stat(p.dockerEnvPath); err == nil {
		env.IsDocker = true
	}

	data, err := os.ReadFile(p.cgroupPath)
	if err != nil {
		return
	}
	cgroup := string(data)
	if !strings.Contains(cgroup, "docker") && !strings.Contains(cgroup, "containerd") {
		return
	}
	env.IsDocker = true
	if strings.Contains(cgroup, "containerd") {
		env.ContainerRuntime = "containerd"
	} else {
		env.ContainerRuntime = "docker"
	}

	for _, line := range strings.Split(cgroup, "\n") {
		if !strings.Contains(line, "docker") {
			continue
		}
		parts := strings.Split(line, "/")
		if last := parts[len(parts)-1]; len(last) >= 12 {
			env.ContainerID = last[:12]
		}
		break
	}
}

func (p *Probe) detectCloud(ctx context.Context, env *Environment) {
	// AWS: EC2 hypervisor UUID prefix.
	if data, err := os.ReadFile(p.hypervisorUUID); err == nil {
		if strings.HasPrefix(strings.TrimSpace(string(data)), "ec2") {
			env.IsCloud = true
			env.CloudProvider = "aws"
			env.Region = firstEnv("AWS_REGION", "AWS_DEFAULT_REGION")
		}
	}

	// Azure: DMI system vendor.
	if !env.IsCloud {
		if data, err := os.ReadFile(p.dmiVendorPath); err == nil {
			if strings.Contains(strings.ToLower(strings.TrimSpace(string(data))), "microsoft corporation") {
				env.IsCloud = true
				env.CloudProvider = "azure"
				env.Region = os.Getenv("AZURE_REGION")
			}
		}
	}

	// GCP: metadata service answers with the machine type.
	if !env.IsCloud {
		if machineType, ok := p.queryGCPMetadata(ctx); ok {
			env.IsCloud = true
			env.CloudProvider = "gcp"
			env.InstanceType = machineType
			env.Region = os.Getenv("GOOGLE_CLOUD_REGION")
		}
	}
}

// queryGCPMetadata asks the GCP metadata service for the instance machine
// type. Off-cloud, the lookup fails fast and reports not detected.
func (p *Probe) queryGCPMetadata(ctx context.Context) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.gcpMetadataURL, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", false
	}

	// Body looks like projects/<n>/machineTypes/<type>.
	fields := strings.Split(strings.TrimSpace(string(body)), "/")
	machineType := fields[len(fields)-1]
	if machineType == "" {
		return "", false
	}
	return machineType, true
}

func (p *Probe) detectGPU(ctx context.Context, env *Environment) {
	if path, err := p.lookPath("nvidia-smi"); err == nil {
		cctx, cancel := context.WithTimeout(ctx, metadataTimeout)
		defer cancel()
		out, err := exec.CommandContext(cctx, path,
			"--query-gpu=name,memory.total", "--format=csv,noheader,nounits").Output()
		if err == nil {
			for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
				name, memStr, found := strings.Cut(line, ",")
				if !found {
					continue
				}
				gpu := GPU{Name: strings.TrimSpace(name), Vendor: "nvidia"}
				if mem, err := strconv.Atoi(strings.TrimSpace(memStr)); err == nil {
					gpu.MemoryMB = mem
				}
				env.GPUs = append(env.GPUs, gpu)
			}
			env.HasGPU = len(env.GPUs) > 0
			if env.HasGPU {
				return
			}
		}
	}

	// AMD fallback via lspci.
	if path, err := p.lookPath("lspci"); err == nil {
		cctx, cancel := context.WithTimeout(ctx, metadataTimeout)
		defer cancel()
		out, err := exec.CommandContext(cctx, path).Output()
		if err != nil {
			return
		}
		for _, line := range strings.Split(string(out), "\n") {
			if !strings.Contains(line, "VGA compatible controller") {
				continue
			}
			if strings.Contains(line, "AMD") || strings.Contains(line, "ATI") {
				_, name, _ := strings.Cut(line, ": ")
				env.GPUs = append(env.GPUs, GPU{Name: strings.TrimSpace(name), Vendor: "amd"})
			}
		}
		env.HasGPU = len(env.GPUs) > 0
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
