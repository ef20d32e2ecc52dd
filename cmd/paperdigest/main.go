package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/PaperDigest/internal/config"
	"github.com/TobiSchelling/PaperDigest/internal/database"
	"github.com/TobiSchelling/PaperDigest/internal/logging"
	"github.com/TobiSchelling/PaperDigest/internal/pipeline"
	"github.com/TobiSchelling/PaperDigest/internal/scheduler"
	"github.com/TobiSchelling/PaperDigest/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	logCloser  io.Closer
)

func main() {
	err := rootCmd.Execute()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "paperdigest",
	Short:        "Daily Swift/iOS paper digests from arXiv",
	Long:         "paperdigest searches arXiv for Swift and iOS research, scores each paper with an LLM, and posts the best ones to Slack.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logger = logging.Discard()
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "DEBUG"
		}
		logger, logCloser = logging.New(logging.Options{
			Level:      level,
			File:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
		slog.SetDefault(logger)
		if path != "" {
			logger.Debug("config loaded", "path", path)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(selftestCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanupCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("paperdigest", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/paperdigest/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o600); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Set SLACK_BOT_TOKEN, SLACK_CHANNEL and OPENAI_API_KEY, or edit the file.")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\n# %v\n", err)
		}
		return nil
	},
}

// --- once command ---

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run the digest pipeline once: search -> analyze -> rank -> notify",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(func(a *app) error {
			return runOnce(ctx, a)
		})
	},
}

func runOnce(ctx context.Context, a *app) error {
	result, err := a.pipeline.Run(ctx)
	if result != nil {
		printSteps(result)
	}
	return err
}

func printSteps(result *pipeline.Result) {
	fmt.Printf("\nRun %s (%s)\n", result.RunID, result.Date)
	for i, step := range result.Steps {
		fmt.Printf("  %d. %-8s ", i+1, step.Name)
		if step.Err != nil {
			fmt.Printf("Error: %v\n", step.Err)
		} else {
			fmt.Println(step.Summary)
		}
	}
	fmt.Printf("Status: %s, %d paper(s) delivered\n", result.Report.Status, result.Report.Delivered)
}

// --- schedule command ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule [HH:MM]",
	Short: "Run the pipeline every day at HH:MM (default from config, 08:00)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			cfg.Schedule.At = args[0]
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(func(a *app) error {
			user, err := a.slack.AuthTest(ctx)
			if err != nil {
				return fmt.Errorf("slack connection check failed: %w", err)
			}
			logger.Info("slack connection verified", "bot", user, "channel", cfg.Slack.Channel)

			sched, err := scheduler.New(cfg.Schedule.At, func(ctx context.Context) error {
				return runOnce(ctx, a)
			}, scheduler.Options{
				Cleanup: func(ctx context.Context) error {
					_, err := cleanup(ctx, a.db, time.Now())
					return err
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Scheduled daily digest at %s. Press Ctrl+C to stop.\n", cfg.Schedule.At)
			return sched.Run(ctx)
		})
	},
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show delivery totals and the rolling statistics window",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		now := time.Now()
		totals, err := db.GetTotals(ctx, now)
		if err != nil {
			return fmt.Errorf("getting totals: %w", err)
		}
		agg, err := db.GetStats(ctx, now.AddDate(0, 0, -(cfg.Digest.RollupDays-1)))
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n\n", database.DateOf(now))
		fmt.Println("Store:")
		fmt.Printf("  Papers analyzed: %d\n", totals.Analyses)
		fmt.Printf("  Papers delivered: %d\n", totals.Deliveries)
		fmt.Printf("  Delivered this month: %d\n", totals.DeliveredThisMonth)
		fmt.Printf("  Digests stored: %d\n", totals.Digests)
		fmt.Printf("  Runs recorded: %d\n", totals.Runs)

		fmt.Printf("\nLast %d days (since %s, %d with runs):\n", cfg.Digest.RollupDays, agg.Since, agg.Days)
		fmt.Printf("  Seen: %d  Analyzed: %d  Passed: %d  Delivered: %d\n",
			agg.Seen, agg.Analyzed, agg.Passed, agg.Delivered)
		if len(agg.Categories) > 0 {
			fmt.Println("  Categories:")
			for _, c := range database.SortKeywords(agg.Categories) {
				fmt.Printf("    %s: %d\n", c.Keyword, c.Count)
			}
		}
		if top := agg.TopKeywords(cfg.Digest.TopKeywords); len(top) > 0 {
			fmt.Println("  Top keywords:")
			for _, kw := range top {
				fmt.Printf("    %s (%d)\n", kw.Keyword, kw.Count)
			}
		}

		last, err := db.GetLastRun(ctx)
		if err != nil {
			return err
		}
		if last != nil {
			fmt.Printf("\nLast run: %s at %s, status %s\n",
				last.RunID, last.StartedAt.Local().Format("2006-01-02 15:04"), last.Status)
			if last.Error != "" {
				fmt.Printf("  Error: %s\n", last.Error)
			}
		}
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local digest archive server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv, err := server.New(db, server.Options{
			Gatherer:   newMetrics().Registry(),
			RollupDays: cfg.Digest.RollupDays,
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return srv.Serve(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- cleanup command ---

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete run reports and digests older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		res, err := cleanup(cmd.Context(), db, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d run report(s) and %d digest(s).\n", res.RunReports, res.Digests)
		return nil
	},
}

func cleanup(ctx context.Context, db *database.DB, now time.Time) (database.CleanupResult, error) {
	before := now.AddDate(0, 0, -cfg.Database.RetentionDays)
	res, err := db.Cleanup(ctx, before)
	if err != nil {
		return res, fmt.Errorf("cleanup: %w", err)
	}
	logger.Info("cleanup finished", "before", database.DateOf(before),
		"run_reports", res.RunReports, "digests", res.Digests)
	return res, nil
}

func openDB() (*database.DB, error) {
	dir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	return db, nil
}
