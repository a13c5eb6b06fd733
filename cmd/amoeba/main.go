// Command amoeba is the environment-adaptive plugin host. It detects the
// runtime environment (local, docker, wsl, cloud), attaches the matching
// adapter, loads plugins, and runs until interrupted.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"amoeba/internal/config"
	"amoeba/internal/host"
	"amoeba/internal/sandbox"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "amoeba",
	Short: "amoeba - environment-adaptive plugin host",
	Long: `amoeba detects its runtime environment (local, docker, wsl, cloud),
adapts to it, and hosts dynamically loaded Go plugins.

Plugins are single Go source files evaluated at runtime. Each is
statically validated, pre-checked in an isolated child process, and
driven through an explicit Load/Start/Stop/Unload lifecycle.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The probe subcommand is the sandbox child; it must write only
		// the JSON verdict to stdout.
		if cmd.Name() == "probe" {
			logger = zap.NewNop()
			return nil
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAttach(cmd, args)
	},
}

// attachCmd runs the full lifecycle and blocks until interrupted.
var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Detect the environment, attach, and host plugins until interrupted",
	RunE:  runAttach,
}

// detectCmd probes the environment and prints the result.
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Probe the runtime environment and print what was found",
	RunE:  runDetect,
}

// statusCmd attaches briefly and prints the aggregate status.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show host status as JSON",
	RunE:  runStatus,
}

// pluginsCmd lists discovered plugin sources without loading them.
var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List plugin sources admitted by the discovery filters",
	RunE:  runPlugins,
}

// probeCmd is the hidden sandbox child entry point. It evaluates one
// plugin source and writes a single JSON verdict line to stdout.
var probeCmd = &cobra.Command{
	Use:    "probe [plugin.go]",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sandbox.RunProbe(args[0], os.Stdout)
	},
}

// defaultConfigPath resolves the config file default: the AMOEBA_CONFIG
// environment variable when set, otherwise amoeba.yaml in the working
// directory. The --config flag overrides both.
func defaultConfigPath() string {
	if v := os.Getenv("AMOEBA_CONFIG"); v != "" {
		return v
	}
	return "amoeba.yaml"
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Configuration file (env AMOEBA_CONFIG)")

	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadManager() (*host.Manager, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return host.New(cfg, logger), cfg, nil
}

// runAttach runs detect, attach and optimize, then blocks on SIGINT/SIGTERM.
func runAttach(cmd *cobra.Command, args []string) error {
	m, cfg, err := loadManager()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := m.DetectEnvironment(ctx)
	logger.Info("environment detected",
		zap.String("os", env.OS.System),
		zap.Bool("wsl", env.IsWSL),
		zap.Bool("docker", env.IsDocker),
		zap.Bool("cloud", env.IsCloud),
		zap.Bool("gpu", env.HasGPU))

	if !m.Attach(ctx) {
		return fmt.Errorf("attach failed")
	}

	if cfg.Amoeba.AutoOptimize {
		report := m.Optimize()
		logger.Info("optimization complete",
			zap.Strings("applied", report.OptimizationsApplied))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", zap.String("signal", sig.String()))

	return m.Shutdown(ctx)
}

func runDetect(cmd *cobra.Command, args []string) error {
	m, _, err := loadManager()
	if err != nil {
		return err
	}
	env := m.DetectEnvironment(context.Background())
	return printJSON(env)
}

func runStatus(cmd *cobra.Command, args []string) error {
	m, _, err := loadManager()
	if err != nil {
		return err
	}
	ctx := context.Background()

	m.DetectEnvironment(ctx)
	if !m.Attach(ctx) {
		return fmt.Errorf("attach failed")
	}
	status := m.GetStatus()
	if err := m.Shutdown(ctx); err != nil {
		logger.Warn("shutdown after status failed", zap.Error(err))
	}
	return printJSON(status)
}

func runPlugins(cmd *cobra.Command, args []string) error {
	m, _, err := loadManager()
	if err != nil {
		return err
	}
	paths := m.Registry().Discover()
	if len(paths) == 0 {
		fmt.Println("no plugin sources found")
		return nil
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
