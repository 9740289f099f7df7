/*
SPDX-FileCopyrightText: 2026 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/telekom/phi-audit/pkg/audit"
	"github.com/telekom/phi-audit/pkg/auditctl/output"
	"github.com/telekom/phi-audit/pkg/config"
	"github.com/telekom/phi-audit/pkg/system"
	"github.com/telekom/phi-audit/pkg/telemetry"
	"github.com/telekom/phi-audit/pkg/version"
)

// ServiceFactory builds the audit service for commands that run the pipeline.
type ServiceFactory func(cfg config.Config, logger *zap.Logger) (*audit.Service, error)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// Logger replaces the process logger, mainly for tests.
	Logger     *zap.Logger
	NewService ServiceFactory
}

type runtimeState struct {
	configPath   string
	cfg          *config.Config
	outputFormat string
	verbose      bool
	writer       io.Writer
	logger       *zap.Logger
	newService   ServiceFactory
	shutdown     telemetry.ShutdownFunc
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   os.Getenv("AUDITCTL_CONFIG"),
		OutputWriter: os.Stdout,
	}
}

func defaultServiceFactory(cfg config.Config, logger *zap.Logger) (*audit.Service, error) {
	return audit.NewService(cfg, logger)
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		writer:     cfg.OutputWriter,
		logger:     cfg.Logger,
		newService: cfg.NewService,
	}
	if rt.newService == nil {
		rt.newService = defaultServiceFactory
	}

	root := &cobra.Command{
		Use:          "auditctl",
		Short:        "PHI audit pipeline CLI",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("AUDITCTL_OUTPUT")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("AUDITCTL_VERBOSE"), "true")
			}
			if rt.logger == nil {
				logger, err := system.NewLogger(rt.verbose)
				if err != nil {
					return err
				}
				if !rt.verbose {
					logger = logger.WithOptions(zap.IncreaseLevel(zapcore.WarnLevel))
				}
				rt.logger = logger
			}

			// version and key generation work without a config file
			if cmd.Name() == "version" || (cmd.Name() == "generate" && cmd.Parent() != nil && cmd.Parent().Name() == "keys") {
				return nil
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			return rt.startTracing(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.stopTracing(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to phi-audit config file")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewReportCommand(),
		NewFallbackCommand(),
		NewKeysCommand(),
		NewEmitCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// EnsureConfigLoaded loads the config file once. Defaults and environment
// overrides are applied by config.Load.
func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	rt.cfg = &cfg
	return nil
}

func (rt *runtimeState) startTracing(ctx context.Context) error {
	_, shutdown, err := telemetry.Init(ctx, telemetry.OptionsFromConfig(rt.Config(), version.Version, rt.Logger()))
	if err != nil {
		return err
	}
	rt.shutdown = shutdown
	return nil
}

func (rt *runtimeState) stopTracing(ctx context.Context) error {
	if rt.shutdown == nil {
		return nil
	}
	shutdown := rt.shutdown
	rt.shutdown = nil
	return shutdown(ctx)
}

func (rt *runtimeState) Config() config.Config {
	if rt.cfg == nil {
		var cfg config.Config
		cfg.Defaults()
		return cfg
	}
	return *rt.cfg
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	return output.ParseFormat(rt.outputFormat)
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) Logger() *zap.Logger {
	if rt.logger != nil {
		return rt.logger
	}
	return zap.NewNop()
}

// write renders obj with the table writer or as JSON/YAML.
func (rt *runtimeState) write(obj any, table func(io.Writer)) error {
	format, err := rt.OutputFormat()
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		table(rt.Writer())
		return nil
	}
	return output.WriteObject(rt.Writer(), format, obj)
}
