package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alvmarrod/follow-weaver/internal/config"
	"github.com/alvmarrod/follow-weaver/internal/control"
	"github.com/alvmarrod/follow-weaver/internal/crawler"
	"github.com/alvmarrod/follow-weaver/internal/frontier"
	"github.com/alvmarrod/follow-weaver/internal/metrics"
	"github.com/alvmarrod/follow-weaver/internal/source"
	"github.com/alvmarrod/follow-weaver/internal/stopwatch"
	"github.com/alvmarrod/follow-weaver/internal/storage"
	"github.com/alvmarrod/follow-weaver/internal/version"
	"github.com/alvmarrod/follow-weaver/internal/writer"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command, which runs the crawler daemon.
func NewCrawlCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the crawler",
		Long: `Run the crawler from the configured root user until the frontier is
exhausted or a stop command arrives on the control port.

The first SIGINT/SIGTERM stops the crawl gracefully. A second one saves the
elapsed time and exits immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			verbose, _ := cmd.Flags().GetBool("verbose")
			if err := setupLogging(cfg.LogLevel, verbose); err != nil {
				return err
			}
			return runCrawl(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.json", "Path to the JSON or YAML config file")

	return cmd
}

func setupLogging(level string, verbose bool) error {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	logrus.SetLevel(lvl)
	return nil
}

// openFrontier connects to the configured coordination store.
func openFrontier(ctx context.Context, cfg *config.Config) (frontier.Frontier, error) {
	if cfg.Frontier == config.FrontierMemory {
		logrus.Warn("Using in-memory frontier, progress will not survive a restart")
		return frontier.NewMemory(), nil
	}
	return frontier.DialRedis(ctx, frontier.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
	})
}

func runCrawl(ctx context.Context, cfg *config.Config) error {
	logrus.Infof("Follow Weaver v%s starting...", version.Version)
	logrus.Infof("Configuration loaded: root=%s, workers=%d, frontier=%s",
		cfg.RootID, cfg.Workers, cfg.Frontier)

	// Initialize storage
	store, err := storage.NewStorage(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	logrus.Infof("Database initialized: %s (%s)", cfg.DBDSN, cfg.DBDriver)

	front, err := openFrontier(ctx, cfg)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to open frontier: %w", err)
	}

	closeAll := func() error {
		var result error
		if err := front.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("frontier: %w", err))
		}
		if err := store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("storage: %w", err))
		}
		return result
	}

	machine, tracker, err := build(ctx, cfg, front, store)
	if err != nil {
		return multierror.Append(err, closeAll())
	}

	server, err := control.Listen(cfg.ListenAddr, machine)
	if err != nil {
		// the control port is the only way to steer the crawl
		logrus.Fatalf("Failed to start control server: %v", err)
	}

	serveCtx, cancelServe := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(serveCtx); err != nil {
			logrus.Errorf("Control server failed: %v", err)
		}
	}()

	if err := machine.Start(ctx); err != nil {
		cancelServe()
		server.Close()
		wg.Wait()
		return multierror.Append(fmt.Errorf("failed to start crawler: %w", err), closeAll())
	}

	// Setup signal handler for graceful shutdown
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Start progress logger
	stopProgress := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.ProgressInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logrus.Info(tracker.LogProgress())
			case <-stopProgress:
				return
			}
		}
	}()

	terminationReason := waitForShutdown(ctx, cfg, machine, tracker, sigChan)

	logrus.Info("Initiating shutdown...")
	logrus.Info("Step 1/3: Stopping control server and progress logger...")
	close(stopProgress)
	cancelServe()
	server.Close()

	bgDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(bgDone)
	}()
	select {
	case <-bgDone:
		logrus.Info("All background tasks completed")
	case <-time.After(5 * time.Second):
		logrus.Warn("Background tasks timeout (5s), continuing with shutdown")
	}

	logrus.Info("Step 2/3: Writing final metrics...")
	logrus.Info("Final stats: " + tracker.LogProgress())
	if err := tracker.WriteToFile(cfg.MetricsPath, terminationReason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	logrus.Info("Step 3/3: Closing frontier and database...")
	if err := closeAll(); err != nil {
		return err
	}

	logrus.Info("Shutdown complete. Goodbye!")
	return machine.Err()
}

// build wires the crawl pipeline: frontier and source feed the crawler, the
// crawler feeds the writer queue, and the machine drives them all.
func build(ctx context.Context, cfg *config.Config, front frontier.Frontier, store *storage.Storage) (*control.Machine, *metrics.Tracker, error) {
	token, err := source.LoadToken(cfg.TokenFile)
	if err != nil {
		return nil, nil, err
	}
	src, err := source.NewHTTPSource(source.HTTPConfig{
		BaseURL:           cfg.APIBaseURL,
		Token:             token,
		PageSize:          cfg.PageSize,
		RequestTimeout:    cfg.RequestTimeout(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		UserAgent:         cfg.UserAgent,
	})
	if err != nil {
		return nil, nil, err
	}

	elapsed, err := front.LoadElapsed(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load elapsed time: %w", err)
	}
	if elapsed > 0 {
		logrus.Infof("Resuming crawl after %.2fs of previous work", elapsed.Seconds())
	}

	tracker := metrics.NewTracker()
	queue := writer.NewQueue()

	c, err := crawler.NewCrawler(crawler.Config{
		Frontier:     front,
		Source:       src,
		Queue:        queue,
		Tracker:      tracker,
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval(),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := c.Seed(ctx, cfg.RootID); err != nil {
		return nil, nil, fmt.Errorf("failed to seed root %s: %w", cfg.RootID, err)
	}

	machine, err := control.NewMachine(control.Config{
		Crawler:      c,
		Writer:       writer.New(queue, store, cfg.WriterIdle(), tracker),
		Frontier:     front,
		Stopwatch:    stopwatch.New(nil, elapsed),
		PollInterval: cfg.PollInterval(),
	})
	if err != nil {
		return nil, nil, err
	}
	return machine, tracker, nil
}

// waitForShutdown blocks until the crawl finishes. The first signal stops
// the machine gracefully; a second one saves the elapsed time and exits.
func waitForShutdown(ctx context.Context, cfg *config.Config, machine *control.Machine, tracker *metrics.Tracker, sigChan <-chan os.Signal) string {
	select {
	case <-machine.Done():
		if machine.Err() != nil {
			return "error"
		}
		return "finished"
	case sig := <-sigChan:
		logrus.Infof("Received signal: %v", sig)
	}

	go func() {
		sig := <-sigChan
		logrus.Warnf("Received second signal (%v) - forcing immediate exit!", sig)
		logrus.Warn("Attempting emergency save...")
		machine.SaveTime(context.WithoutCancel(ctx))
		if err := tracker.WriteToFile(cfg.MetricsPath, "forced_exit"); err != nil {
			logrus.Errorf("Emergency metrics save failed: %v", err)
		}
		os.Exit(1)
	}()

	// a pause or stop may be in flight from the control port; retry until
	// ours goes through or someone else reaches Stopped
	for {
		st, ok := machine.Stop(context.WithoutCancel(ctx), nil, func(workers int) {
			logrus.Infof("Waiting for %d worker(s)...", workers)
		}, nil)
		if ok || st == crawler.Stopped {
			break
		}
		time.Sleep(cfg.PollInterval())
	}
	<-machine.Done()
	return "signal"
}
