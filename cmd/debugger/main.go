// Command debugger runs the React Native debugging bridge: it keeps one
// control connection to the packager debug proxy and executes the
// application bundle in sandboxed child processes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ruslan-bikkinin/vscode-react-native/internal/config"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/debugger"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/fetch"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/logging"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/monitoring"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/packager"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/sandbox"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "debugger",
		Short:         "React Native debugging bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newWorkerCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach to the packager and serve debug lifetimes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			return runBridge(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "TOML config file")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	var scriptPath, storageDir string

	cmd := &cobra.Command{
		Use:    "worker",
		Hidden: true,
		Short:  "Sandbox worker process (spawned by the bridge)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewDefault()
			defer logger.Sync()
			return sandbox.Run(sandbox.Options{
				ScriptPath: scriptPath,
				StorageDir: storageDir,
				Logger:     logger,
			})
		},
	}
	cmd.Flags().StringVar(&scriptPath, "script", "", "bootstrap worker script path")
	cmd.Flags().StringVar(&storageDir, "storage", "", "cached script directory")
	cmd.MarkFlagRequired("script")
	cmd.MarkFlagRequired("storage")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func runBridge(ctx context.Context, cfg *config.Config) error {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			OutputPaths: []string{"stdout"},
		})
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
		}
	}
	defer logger.Sync()

	storageDir, err := filepath.Abs(cfg.Storage.Dir)
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics()
	client := fetch.NewClient()
	checker := packager.NewStatus(client)
	importer := debugger.NewScriptImporter(
		cfg.Packager.Host, cfg.Packager.Port, storageDir,
		client, checker, debugger.DiskWriter{}, logger, metrics)

	factory := func(sink debugger.ReplySink) debugger.Worker {
		return debugger.NewSandboxWorker(debugger.SandboxConfig{
			StoragePath:  storageDir,
			BundleSuffix: cfg.Storage.BundleSuffix,
			Sink:         sink,
			Importer:     importer,
			Logger:       logger,
			Metrics:      metrics,
		})
	}

	manager := debugger.NewConnectionManager(
		cfg.Packager.Host, cfg.Packager.Port, checker, factory, logger, metrics)

	logger.Info("Starting debugger bridge",
		zap.String("packager", fmt.Sprintf("%s:%d", cfg.Packager.Host, cfg.Packager.Port)),
		zap.String("storage", storageDir))

	if err := manager.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("Shutting down")
	case <-ctx.Done():
	}
	manager.Stop()
	return nil
}
