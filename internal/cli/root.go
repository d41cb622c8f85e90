// Package cli provides the command-line interface for the collector.
package cli

import (
	"context"
	"fmt"

	"github.com/fxintel/collector/internal/config"
	"github.com/fxintel/collector/internal/export"
	"github.com/fxintel/collector/internal/orchestrator"
	"github.com/fxintel/collector/internal/state"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Source adapters register themselves on import.
	_ "github.com/fxintel/collector/internal/source/boe"
	_ "github.com/fxintel/collector/internal/source/calendar"
	_ "github.com/fxintel/collector/internal/source/ecb"
	_ "github.com/fxintel/collector/internal/source/ecbnews"
	_ "github.com/fxintel/collector/internal/source/fed"
	_ "github.com/fxintel/collector/internal/source/fred"
	_ "github.com/fxintel/collector/internal/source/gdelt"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	cfgPath string
	debug   bool

	cfg *config.Config
	log *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "collector",
	Short: "Market data collection framework",
	Long: `Collector ingests time-series and document data from heterogeneous
market data sources (central bank statistics, economic indicators, press
feeds, economic calendars, news archives) into an append-only bronze layer.

Each source runs behind a per-source rate governor and a retry policy;
watermarks only advance after exports are durable, so an interrupted run
resumes where it left off.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		log, err = config.NewLogger(debug)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

// newOrchestrator wires the state store and sinks selected by the config.
// The returned cleanup closes the state store.
func newOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, func(), error) {
	store, err := newStateStore()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Warnw("closing state store", "error", err)
		}
	}

	sinks, err := newSinks(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Cfg:   cfg,
		Store: store,
		Sinks: sinks,
		Log:   log,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return orch, cleanup, nil
}

func newStateStore() (state.Store, error) {
	switch cfg.State.Backend {
	case "", "file":
		return state.NewFileStore(cfg.State.Path)
	case "postgres":
		if cfg.State.DSN == "" {
			return nil, fmt.Errorf("postgres state backend requires a dsn")
		}
		return state.NewPostgresStore(cfg.State.DSN)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

func newSinks(ctx context.Context) ([]export.Sink, error) {
	fileSink, err := export.NewFileSink(cfg.OutputDir, log)
	if err != nil {
		return nil, fmt.Errorf("bronze sink: %w", err)
	}
	sinks := []export.Sink{fileSink}

	if oc := cfg.ObjectStore; oc != nil && oc.Bucket != "" {
		store, err := export.NewS3Store(oc.EndpointURL, oc.AccessKeyID, oc.SecretAccessKey, oc.Region)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("object store unreachable: %w", err)
		}
		if err := store.EnsureBucket(ctx, oc.Bucket); err != nil {
			return nil, fmt.Errorf("object store bucket: %w", err)
		}
		objSink, err := export.NewObjectSink(store, oc.Bucket, oc.BasePrefix, log)
		if err != nil {
			return nil, fmt.Errorf("object sink: %w", err)
		}
		sinks = append(sinks, objSink)
	}
	return sinks, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(sourcesCmd)
}
