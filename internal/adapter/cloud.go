package adapter

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"amoeba/internal/linker"
	"amoeba/internal/probe"
)

// Cloud adapts the host to managed infrastructure (AWS, Azure, GCP):
// provider metadata services, cloud storage mappings, and SDK timeouts.
type Cloud struct {
	log *zap.Logger
}

// NewCloud creates the cloud adapter.
func NewCloud(log *zap.Logger) *Cloud {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cloud{log: log}
}

func (a *Cloud) Name() string  { return "cloud" }
func (a *Cloud) Priority() int { return 7 }

func (a *Cloud) Detect(env *probe.Environment) bool {
	if env.IsCloud {
		a.log.Info("cloud environment detected",
			zap.String("provider", env.CloudProvider),
			zap.String("instance_type", env.InstanceType))
	}
	return env.IsCloud
}

// Prelink sets provider environment and maps cloud storage paths.
func (a *Cloud) Prelink(h Host) error {
	l := h.Linker()
	env := h.Environment()
	provider := env.CloudProvider

	os.Setenv("CLOUD_PROVIDER", strings.ToUpper(provider))
	os.Setenv("CLOUD_INSTANCE", "1")

	switch provider {
	case "aws":
		if os.Getenv("AWS_EXECUTION_ROLE_ARN") != "" {
			os.Setenv("AWS_ECS_TASK", "1")
		}
		if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
			os.Setenv("AWS_LAMBDA", "1")
		}
	case "azure":
		if os.Getenv("WEBSITE_SITE_NAME") != "" {
			os.Setenv("AZURE_APP_SERVICE", "1")
		}
	case "gcp":
		if os.Getenv("K_SERVICE") != "" {
			os.Setenv("GCP_CLOUD_RUN", "1")
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	l.AddMapping("/mnt/cloud", "/opt/cloud")
	l.AddMapping("/cloud-storage", "/mnt/storage")
	l.AddMapping("/logs", filepath.Join(home, ".cache", "amoeba", "logs", "cloud"))
	return nil
}

// Link registers the provider's metadata, storage, logging and metrics
// services, plus a health endpoint for the platform's probes.
func (a *Cloud) Link(h Host) error {
	l := h.Linker()
	env := h.Environment()
	provider := env.CloudProvider

	l.RegisterService("cloud_provider", linker.ServiceEntry{
		"provider":      provider,
		"instance_type": env.InstanceType,
		"region":        env.Region,
	})
	l.RegisterService("cloud_storage", linker.ServiceEntry{
		"provider":  provider,
		"available": true,
	})
	l.RegisterService("cloud_logging", linker.ServiceEntry{
		"provider":    provider,
		"centralized": true,
	})
	l.RegisterService("cloud_metrics", linker.ServiceEntry{
		"provider": provider,
		"enabled":  true,
	})
	l.ExposeHealthEndpoint("/healthz")
	l.ExposeHealthEndpoint("/readyz")

	a.log.Info("cloud link complete", zap.String("provider", provider))
	return nil
}

// Optimize applies cloud tunings plus GPU tuning for accelerator instances.
func (a *Cloud) Optimize(h Host) error {
	o := h.Optimizer()
	o.ApplyCloudOptimizations()
	o.OptimizeMemory()
	if h.Environment().HasGPU {
		o.TuneForGPU()
	}
	return nil
}
