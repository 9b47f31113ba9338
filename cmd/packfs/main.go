// packfs is invoked by the host rule engine once per storage lifecycle
// event. It runs a single transform job against the named object and exits
// zero on Success or Skipped, with distinct non-zero statuses per failure
// category. All diagnostics go to stdout for the trigger layer to capture.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/packfs/packfs/internal/codec"
	"github.com/packfs/packfs/internal/config"
	"github.com/packfs/packfs/internal/filter"
	"github.com/packfs/packfs/internal/lockfile"
	"github.com/packfs/packfs/internal/metrics"
	"github.com/packfs/packfs/internal/pipeline"
	"github.com/packfs/packfs/internal/policy"
	"github.com/packfs/packfs/internal/staging"
	"github.com/packfs/packfs/internal/storage"
	"github.com/packfs/packfs/internal/storage/posix"
	s3store "github.com/packfs/packfs/internal/storage/s3"
	"github.com/packfs/packfs/pkg/errors"
	"github.com/packfs/packfs/pkg/logging"
)

// rootConfiguration stores the command line flag values.
var rootConfiguration struct {
	ipath           string
	iplant          string
	action          string
	event           string
	itmpIplant      string
	tmpIplant       string
	deleteItmpFiles bool
	deleteTmpFiles  bool
	loggingLevel    string
	logFile         string
	configFile      string
	test            bool
}

// rootCommand is the root command.
var rootCommand = &cobra.Command{
	Use:          "packfs",
	Short:        "Transparent at-rest compression for governed object collections",
	RunE:         rootMain,
	SilenceUsage: true,
}

func init() {
	flags := rootCommand.Flags()
	flags.SortFlags = false

	flags.StringVar(&rootConfiguration.ipath, "ipath", "", "Object path to transform (required)")
	flags.StringVar(&rootConfiguration.iplant, "iplant", "", "Governed collection root (required)")
	flags.StringVar(&rootConfiguration.action, "action", "", "Transform action: compress or decompress")
	flags.StringVar(&rootConfiguration.event, "event", "", "Lifecycle event: pre-open, post-write, or post-open")
	flags.StringVar(&rootConfiguration.itmpIplant, "itmp-iplant", "", "Remote scratch root")
	flags.StringVar(&rootConfiguration.tmpIplant, "tmp-iplant", "", "Local scratch root")
	flags.BoolVar(&rootConfiguration.deleteItmpFiles, "delete-itmp-files", true, "Delete remote scratch files when the job ends")
	flags.BoolVar(&rootConfiguration.deleteTmpFiles, "delete-tmp-files", true, "Delete local scratch files when the job ends")
	flags.StringVar(&rootConfiguration.loggingLevel, "logging-level", "", "Logging level: DEBUG, INFO, WARNING, ERROR, or CRITICAL")
	flags.StringVar(&rootConfiguration.logFile, "log-file", "", "Mirror stdout logging to this file")
	flags.StringVar(&rootConfiguration.configFile, "config", "", "Configuration file (YAML)")
	flags.BoolVar(&rootConfiguration.test, "test", false, "Dry run: validate inputs and action, perform no I/O")
}

// exitStatusError carries a process exit status out of rootMain.
type exitStatusError struct {
	status int
	reason string
}

func (e *exitStatusError) Error() string {
	return e.reason
}

// rootMain is the entry point for the root command.
func rootMain(_ *cobra.Command, _ []string) error {
	cfg, err := buildConfiguration()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return &exitStatusError{status: errors.ExitStatus(errors.ErrCodeInvalidConfig), reason: err.Error()}
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return &exitStatusError{status: errors.ExitStatus(errors.ErrCodeInvalidConfig), reason: err.Error()}
	}
	defer logger.Close()

	result, err := runJob(context.Background(), cfg, logger)
	if err != nil {
		logger.Critical("job aborted", map[string]interface{}{"error": err.Error()})
		return &exitStatusError{status: errors.ExitStatus(errors.CodeOf(err)), reason: err.Error()}
	}

	if status := result.ExitStatus(); status != 0 {
		return &exitStatusError{status: status, reason: result.Reason}
	}
	return nil
}

// buildConfiguration merges defaults, config file, environment, and flags,
// in ascending precedence.
func buildConfiguration() (*config.Configuration, error) {
	cfg := config.NewDefault()

	if rootConfiguration.configFile != "" {
		if err := cfg.LoadFromFile(rootConfiguration.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if rootConfiguration.iplant != "" {
		cfg.Collection.Root = rootConfiguration.iplant
	}
	if rootConfiguration.itmpIplant != "" {
		cfg.Scratch.RemoteRoot = rootConfiguration.itmpIplant
	}
	if rootConfiguration.tmpIplant != "" {
		cfg.Scratch.LocalRoot = rootConfiguration.tmpIplant
	}
	cfg.Scratch.DeleteRemote = rootConfiguration.deleteItmpFiles
	cfg.Scratch.DeleteLocal = rootConfiguration.deleteTmpFiles
	if rootConfiguration.loggingLevel != "" {
		cfg.Logging.Level = rootConfiguration.loggingLevel
	}
	if rootConfiguration.logFile != "" {
		cfg.Logging.File = rootConfiguration.logFile
	}

	if rootConfiguration.ipath == "" {
		return nil, fmt.Errorf("--ipath is required")
	}
	if rootConfiguration.action == "" && rootConfiguration.event == "" {
		return nil, fmt.Errorf("one of --action or --event is required")
	}
	if rootConfiguration.action != "" && rootConfiguration.event != "" {
		return nil, fmt.Errorf("--action and --event are mutually exclusive")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildLogger(cfg *config.Configuration) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	format := logging.FormatText
	if strings.EqualFold(cfg.Logging.Format, "json") {
		format = logging.FormatJSON
	}

	return logging.New(&logging.Config{
		Level:  level,
		Output: os.Stdout,
		Format: format,
		File:   cfg.Logging.File,
	})
}

// runJob assembles the pipeline from configuration and executes one job.
func runJob(ctx context.Context, cfg *config.Configuration, logger *logging.Logger) (pipeline.Result, error) {
	governed, err := filter.New(cfg.Collection.Root, cfg.Collection.Pattern)
	if err != nil {
		return pipeline.Result{}, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).WithCause(err)
	}

	locks, err := lockfile.NewManager(lockfile.Options{
		Dir:          cfg.Lock.Dir,
		StaleAfter:   cfg.Lock.StaleAfter,
		PollInterval: cfg.Lock.PollInterval,
	}, logger)
	if err != nil {
		return pipeline.Result{}, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).WithCause(err)
	}

	area, err := staging.NewArea(staging.Options{
		LocalRoot:    cfg.Scratch.LocalRoot,
		RemoteRoot:   cfg.Scratch.RemoteRoot,
		RetainLocal:  !cfg.Scratch.DeleteLocal,
		RetainRemote: !cfg.Scratch.DeleteRemote,
	}, logger)
	if err != nil {
		return pipeline.Result{}, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).WithCause(err)
	}

	engine, err := codec.NewEngine(codec.Algorithm(cfg.Codec.Algorithm), cfg.Codec.Level)
	if err != nil {
		return pipeline.Result{}, err
	}

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return pipeline.Result{}, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).WithCause(err)
	}
	defer store.Close()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Port:    cfg.Metrics.Port,
		Path:    cfg.Metrics.Path,
	})
	if err != nil {
		return pipeline.Result{}, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).WithCause(err)
	}
	if cfg.Metrics.Enabled {
		go func() {
			if err := collector.Serve(); err != nil {
				logger.Warning("metrics endpoint failed",
					map[string]interface{}{"error": err.Error()})
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := collector.Shutdown(shutdownCtx); err != nil {
				logger.Warning("metrics endpoint shutdown failed",
					map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	p, err := pipeline.New(pipeline.Options{
		Governed:    governed,
		Locks:       locks,
		Staging:     area,
		Engine:      engine,
		Store:       store,
		Collector:   collector,
		Logger:      logger,
		LockTimeout: cfg.Lock.Timeout,
	})
	if err != nil {
		return pipeline.Result{}, errors.NewError(errors.ErrCodeInternalError, err.Error()).WithCause(err)
	}

	req := pipeline.Request{
		Path:   rootConfiguration.ipath,
		Event:  policy.Event(rootConfiguration.event),
		Action: policy.Action(rootConfiguration.action),
		DryRun: rootConfiguration.test,
	}
	return p.Run(ctx, req), nil
}

func buildStore(ctx context.Context, cfg *config.Configuration, logger *logging.Logger) (storage.Store, error) {
	switch cfg.Store.Backend {
	case "s3":
		return s3store.NewStore(ctx, cfg.Store.S3, logger)
	default:
		return posix.NewStore(), nil
	}
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		if exitErr, ok := err.(*exitStatusError); ok {
			os.Exit(exitErr.status)
		}
		os.Exit(1)
	}
}
