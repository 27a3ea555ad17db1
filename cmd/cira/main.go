package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cira-systems/cira-core/internal/cira/clock"
	"github.com/cira-systems/cira-core/internal/cira/config"
	"github.com/cira-systems/cira-core/internal/cira/control"
	"github.com/cira-systems/cira-core/internal/cira/fetch"
	"github.com/cira-systems/cira-core/internal/cira/llmclient"
	"github.com/cira-systems/cira-core/internal/cira/logging"
	"github.com/cira-systems/cira-core/internal/cira/metrics"
	"github.com/cira-systems/cira-core/internal/cira/model"
	"github.com/cira-systems/cira-core/internal/cira/pipeline"
	"github.com/cira-systems/cira-core/internal/cira/ports"
	"github.com/cira-systems/cira-core/internal/cira/ratelimit"
	"github.com/cira-systems/cira-core/internal/cira/robots"
	"github.com/cira-systems/cira-core/internal/cira/storage/memory"
	"github.com/cira-systems/cira-core/internal/cira/storage/mongo"
)

var (
	cfgFile string
	verbose bool

	storageKind string
	mongoURI    string
	mongoDB     string

	llmProvider string
	llmEndpoint string
	llmModel    string
	llmAPIKey   string

	globalConcurrency int
	ownerID           string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cira",
		Short: "CIRA — company due-diligence research processing core",
		Long: `CIRA drives the crawl -> extract -> analyze -> synthesize pipeline
for company due-diligence research: a resumable, checkpointed crawler with
per-domain rate limiting and robots compliance, an LLM-backed analysis
stage, and a fair-share batch scheduler across many companies at once.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&storageKind, "storage", "memory", "storage backend: memory or mongo")
	rootCmd.PersistentFlags().StringVar(&mongoURI, "mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI (storage=mongo)")
	rootCmd.PersistentFlags().StringVar(&mongoDB, "mongo-db", "cira", "MongoDB database name (storage=mongo)")
	rootCmd.PersistentFlags().StringVar(&llmProvider, "llm-provider", "ollama", "LLM backend: ollama or openai")
	rootCmd.PersistentFlags().StringVar(&llmEndpoint, "llm-endpoint", "http://localhost:11434", "LLM HTTP endpoint")
	rootCmd.PersistentFlags().StringVar(&llmModel, "llm-model", "llama3", "LLM model name")
	rootCmd.PersistentFlags().StringVar(&llmAPIKey, "llm-api-key", "", "LLM API key (openai)")
	rootCmd.PersistentFlags().IntVar(&globalConcurrency, "concurrency", 10, "global company concurrency cap")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner-id", hostnameOrDefault(), "lease owner identity for this process")

	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildSurface assembles every capability a Surface needs, mirroring the
// teacher's runCrawl wiring order: config, logger, storage, fetchers,
// LLM client, then the control interface over all of it.
func buildSurface() (*control.Surface, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Logging)

	var store ports.Storage
	switch strings.ToLower(storageKind) {
	case "mongo":
		m, err := mongo.New(mongoURI, mongoDB, logger.With("component", "storage"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo storage: %w", err)
		}
		store = m
	case "memory", "":
		store = memory.New()
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", storageKind)
	}

	staticFetcher := fetch.NewStaticFetcher(cfg.Fetcher.MaxBodySize, cfg.Fetcher.FollowRedirects, cfg.Fetcher.MaxRedirects)
	renderedFetcher, err := fetch.NewRenderedFetcher(4)
	if err != nil {
		logger.Warn("rendered fetcher unavailable, thorough mode will fail closed", "err", err)
		renderedFetcher = nil
	}
	fetcher := fetch.NewCompositeFetcher(staticFetcher, renderedFetcher)

	rateGate := ratelimit.New(cfg.RateGate.DefaultRefillPerSec, 1)
	robotsCache := robots.New(cfg.Robots.UserAgent, cfg.Robots.FetchTimeout, cfg.Robots.CacheTTL, cfg.Robots.NegativeCacheTTL)

	llm := llmclient.New(llmclient.Config{
		Provider: llmclient.Provider(llmProvider),
		Endpoint: llmEndpoint,
		Model:    llmModel,
		APIKey:   llmAPIKey,
	})

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.New(logger)
		reg.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
		llm.WithMetrics(reg)
	}

	pipeDeps := pipeline.Deps{
		Storage:                store,
		Fetcher:                fetcher,
		LLM:                    llm,
		Clock:                  clock.Real{},
		RateGate:               rateGate,
		Robots:                 robotsCache,
		Logger:                 logger,
		Metrics:                reg,
		CheckpointEveryPages:   cfg.Crawl.CheckpointEveryPages,
		CheckpointEverySeconds: cfg.Crawl.CheckpointEverySeconds,
		SectionFailureBudget:   cfg.Analysis.SectionFailureBudget,
		AnalysisMaxRetries:     cfg.Analysis.MaxRetries,
		LLMCallTimeout:         cfg.Analysis.LLMTimeout,
		LLMMaxTokens:           2048,
		CrawlMaxRetries:        cfg.Crawl.MaxFetchRetries,
		CrawlFailureBudget:     cfg.Crawl.PageFailureBudget,
		StaleThreshold:         time.Duration(cfg.Checkpoint.StaleThresholdSec) * time.Second,
	}

	surface := control.New(store, pipeDeps, globalConcurrency, ownerID)

	cleanup := func() {
		_ = fetcher.Close()
		if closer, ok := store.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
	return surface, cleanup, nil
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "cira-worker"
	}
	return h
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(string(b))
}

func companyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "company", Short: "Manage research companies"}

	var name, startURL, mode string
	var maxPages, maxDepth, timeLimitSec int

	create := &cobra.Command{
		Use:   "create",
		Short: "Register a new company for research",
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			cfg := model.CompanyConfig{
				Mode:         model.Mode(mode),
				MaxPages:     maxPages,
				MaxDepth:     maxDepth,
				TimeLimitSec: timeLimitSec,
			}
			c, err := surface.CreateCompany(cmd.Context(), name, startURL, cfg)
			if err != nil {
				return err
			}
			printJSON(c)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "company name")
	create.Flags().StringVar(&startURL, "start-url", "", "seed URL")
	create.Flags().StringVar(&mode, "mode", "quick", "quick or thorough")
	create.Flags().IntVar(&maxPages, "max-pages", 200, "page budget")
	create.Flags().IntVar(&maxDepth, "max-depth", 5, "depth budget")
	create.Flags().IntVar(&timeLimitSec, "time-limit-sec", 1800, "wall-clock budget in seconds")

	start := &cobra.Command{
		Use:   "start [companyId]",
		Short: "Run a company's pipeline synchronously",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			c, err := surface.StartCompany(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(c)
			return nil
		},
	}

	pause := &cobra.Command{
		Use:   "pause [companyId]",
		Short: "Request a graceful pause on a running company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			return surface.PauseCompany(cmd.Context(), args[0])
		},
	}

	resume := &cobra.Command{
		Use:   "resume [companyId]",
		Short: "Clear a paused company back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			c, err := surface.ResumeCompany(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(c)
			return nil
		},
	}

	rescan := &cobra.Command{
		Use:   "rescan [companyId]",
		Short: "Clear a completed/failed company's checkpoint for a fresh crawl",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			c, err := surface.RescanCompany(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(c)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete [companyId]",
		Short: "Delete a company and its research data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			return surface.DeleteCompany(cmd.Context(), args[0])
		},
	}

	progress := &cobra.Command{
		Use:   "progress [companyId]",
		Short: "Snapshot a company's current progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			p, err := surface.SnapshotProgress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(p)
			return nil
		},
	}

	var fromVersion, toVersion int
	compare := &cobra.Command{
		Use:   "compare [companyId]",
		Short: "Diff two analysis versions for a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			result, err := surface.CompareVersions(cmd.Context(), args[0], fromVersion, toVersion)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	compare.Flags().IntVar(&fromVersion, "from", 1, "source analysis version")
	compare.Flags().IntVar(&toVersion, "to", 2, "target analysis version")

	cmd.AddCommand(create, start, pause, resume, rescan, del, progress, compare)
	return cmd
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "batch", Short: "Manage batches of companies"}

	var name string
	var priority, perBatchCap int

	create := &cobra.Command{
		Use:   "create [companyId...]",
		Short: "Group companies into a fair-share batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			b, err := surface.CreateBatch(cmd.Context(), name, priority, perBatchCap, args)
			if err != nil {
				return err
			}
			printJSON(b)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "batch name")
	create.Flags().IntVar(&priority, "priority", 0, "dispatch priority")
	create.Flags().IntVar(&perBatchCap, "per-batch-cap", 3, "per-batch concurrency cap")

	start := &cobra.Command{
		Use:   "start [batchId]",
		Short: "Open a batch for dispatch and run one scheduling sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			return surface.StartBatch(cmd.Context(), args[0])
		},
	}

	pause := &cobra.Command{
		Use:  "pause [batchId]",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			return surface.PauseBatch(cmd.Context(), args[0])
		},
	}

	resume := &cobra.Command{
		Use:  "resume [batchId]",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			return surface.ResumeBatch(cmd.Context(), args[0])
		},
	}

	cancel := &cobra.Command{
		Use:  "cancel [batchId]",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			return surface.CancelBatch(cmd.Context(), args[0])
		},
	}

	progress := &cobra.Command{
		Use:  "progress [batchId]",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()
			counts, err := surface.BatchProgress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(counts)
			return nil
		},
	}

	cmd.AddCommand(create, start, pause, resume, cancel, progress)
	return cmd
}

// runCmd starts a long-lived sweep loop over the given batches, re-running
// the scheduler's round-robin dispatch on a ticker until signalled to
// stop, mirroring the teacher's signal-handling shape in cmd/webstalk.
func runCmd() *cobra.Command {
	var batchIDs []string
	var sweepInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler's sweep loop over one or more batches until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(batchIDs) == 0 {
				return fmt.Errorf("at least one --batch is required")
			}
			surface, cleanup, err := buildSurface()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := surface.RecoverStale(cmd.Context()); err != nil {
				return fmt.Errorf("recover stale companies: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()

			for {
				if err := surface.RunSweep(ctx, batchIDs); err != nil {
					return err
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().StringSliceVar(&batchIDs, "batch", nil, "batch IDs to sweep (repeatable)")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 5*time.Second, "interval between scheduling sweeps")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("cira 0.1.0")
		},
	}
}
