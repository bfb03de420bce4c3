// -----------------------------------------------------------------------
// Emissor - automated NFS-e emission from a billing spreadsheet
// -----------------------------------------------------------------------

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/rlourenco/emissor/internal/browser"
	"github.com/rlourenco/emissor/internal/common"
	"github.com/rlourenco/emissor/internal/events"
	"github.com/rlourenco/emissor/internal/filler"
	"github.com/rlourenco/emissor/internal/interfaces"
	"github.com/rlourenco/emissor/internal/ledger"
	"github.com/rlourenco/emissor/internal/models"
	"github.com/rlourenco/emissor/internal/runner"
	"github.com/rlourenco/emissor/internal/scheduler"
	"github.com/rlourenco/emissor/internal/server"
	"github.com/rlourenco/emissor/internal/session"
	"github.com/rlourenco/emissor/internal/store"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	testMode     = flag.Bool("test", false, "Process a single record and stop (overrides config)")
	verbose      = flag.Bool("verbose", false, "Verbose logging of every form step")
	serve        = flag.Bool("serve", false, "Enable the status server (overrides config)")
	runOnceFlag  = flag.Bool("once", false, "Run a single batch even when a schedule is configured")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Emissor version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence:
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner

	if len(configFiles) == 0 {
		if _, err := os.Stat("emissor.toml"); err == nil {
			configFiles = append(configFiles, "emissor.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	if *testMode {
		config.Run.TestMode = true
	}
	if *verbose {
		config.Run.Verbose = true
	}
	if *serve {
		config.Server.Enabled = true
	}

	logger = common.InitLogger(config)
	common.PrintBanner()

	common.InstallCrashHandler("logs")
	defer func() {
		if r := recover(); r != nil {
			path := common.WriteCrashFile(r, string(debug.Stack()))
			logger.Fatal().Str("crash_file", path).Msgf("Fatal error: %v", r)
			os.Exit(1)
		}
	}()

	logger.Info().
		Strs("config_files", configFiles).
		Str("dataset", config.Dataset.Path).
		Bool("test_mode", config.Run.TestMode).
		Msg("Configuration loaded")

	eventService := events.NewService(logger)

	var statusServer *server.Server
	if config.Server.Enabled {
		statusServer = server.New(config, eventService, logger)
		statusServer.Start()
		defer statusServer.Stop()
	}

	if config.Run.Schedule != "" && !*runOnceFlag {
		runScheduled(eventService)
		return
	}

	if err := runBatch(eventService); err != nil {
		logger.Error().Err(err).Msg("Run failed")
		os.Exit(exitCode(err))
	}
}

// runScheduled fires runBatch on the configured cron schedule until
// interrupted.
func runScheduled(eventService interfaces.EventService) {
	sched, err := scheduler.New(config.Run.Schedule, func() {
		if err := runBatch(eventService); err != nil {
			logger.Error().Err(err).Msg("Scheduled run failed")
		}
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create scheduler")
		os.Exit(1)
	}

	sched.Start()
	logger.Info().Str("schedule", config.Run.Schedule).Msg("Scheduler started - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received - stopping scheduler")
	sched.Stop()
}

// runBatch performs one complete batch: load the dataset, establish an
// authenticated session, process every eligible record and shut the
// pieces down in order.
func runBatch(eventService interfaces.EventService) error {
	ctx := context.Background()

	recordStore, err := store.Open(config.Dataset.Path, logger)
	if err != nil {
		return err
	}
	defer recordStore.Close()

	invoiceLedger, err := ledger.Open(config.Ledger.Path, logger)
	if err != nil {
		return err
	}
	defer invoiceLedger.Close()

	br, err := browser.Launch(config, logger)
	if err != nil {
		return err
	}
	defer br.Close()

	sess := session.New(br.Context(), config, logger)
	if result := sess.Restore(); result != session.RestoreRestored {
		logger.Info().Str("restore", string(result)).Msg("No session restored - logging in")
		if err := sess.Login(); err != nil {
			return err
		}
	}
	if err := sess.EnsureEmissionPage(ctx, "startup"); err != nil {
		return err
	}

	formFiller := filler.New(br.Context(), config, logger)

	batch, err := runner.New(recordStore, sess, formFiller, invoiceLedger, eventService, config, logger)
	if err != nil {
		return err
	}

	handle := runner.NewHandle()

	// Ctrl+C requests a stop at the next record boundary; a second
	// Ctrl+C kills the process the usual way.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var once sync.Once
	go func() {
		for range sigChan {
			once.Do(func() {
				logger.Warn().Msg("Interrupt received - finishing the current record before stopping")
				handle.RequestStop()
			})
			signal.Stop(sigChan)
		}
	}()

	return batch.Run(ctx, handle)
}

// exitCode maps the error taxonomy to distinct exit codes so wrapping
// scripts can tell a data problem from an auth problem.
func exitCode(err error) int {
	switch {
	case errors.Is(err, models.ErrDataset):
		return 2
	case errors.Is(err, models.ErrPersistence):
		return 3
	case errors.Is(err, models.ErrAuth):
		return 4
	case errors.Is(err, models.ErrNavigation):
		return 5
	default:
		return 1
	}
}
