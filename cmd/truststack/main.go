package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"truststack/internal/config"
	"truststack/internal/logging"
	"truststack/internal/orchestrator"
	"truststack/internal/store"
	"truststack/internal/usage"
)

var (
	// Global flags
	cfgPath string
	dbPath  string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "truststack",
	Short: "TrustStack - trust analysis for brand-linked web content",
	Long: `TrustStack harvests a URL corpus for a brand, fetches and normalises
each page, extracts provenance and transparency signals, and aggregates
them into a five-dimensional trust rating with an overall 0-100 score.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Database.Path = dbPath
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return logging.Initialize(filepath.Dir(cfg.Database.Path))
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var (
	runBrand       string
	runScenario    string
	runKeywords    []string
	runSources     []string
	runLimit       int
	runNoReuse     bool
	runMaxAgeHours int
	runVisual      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a trust analysis for a brand",
	Long: `Collects content for the brand across the configured sources, scores
every asset, and prints the run summary. Recent assets from earlier
runs are reused inside the max-age window unless --no-reuse is set.

Example:
  truststack run --brand acme --keywords "acme running shoes"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runBrand == "" {
			return fmt.Errorf("--brand is required")
		}
		if runVisual {
			cfg.Scoring.VisualAnalysis = true
		}

		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		orch, err := orchestrator.New(cfg, st)
		if err != nil {
			return err
		}
		defer orch.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reuse := !runNoReuse
		logger.Info("starting analysis",
			zap.String("brand", runBrand),
			zap.Strings("keywords", runKeywords),
			zap.Bool("reuse", reuse))

		report, err := orch.RunAnalysis(ctx, runBrand, runScenario, orchestrator.Options{
			Keywords:         runKeywords,
			Sources:          runSources,
			Limit:            runLimit,
			ReuseData:        &reuse,
			MaxAssetAgeHours: runMaxAgeHours,
		})
		if report != nil {
			printReport(report)
		}
		return err
	},
}

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Print the report for a previous run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		orch, err := orchestrator.New(cfg, st)
		if err != nil {
			return err
		}
		defer orch.Close()

		report, err := orch.Report(args[0])
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

var pruneDays int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.PruneOldRuns(pruneDays)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d runs older than %d days\n", n, pruneDays)
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Print the LLM token and cost table",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, err := usage.Init(filepath.Dir(cfg.Database.Path), cfg.Usage)
		if err != nil {
			return err
		}
		fmt.Print(tracker.CostTable())
		return nil
	},
}

func printReport(r *orchestrator.Report) {
	fmt.Printf("run      %s\n", r.RunID)
	fmt.Printf("status   %s\n", r.Status)
	if r.Error != "" {
		fmt.Printf("error    %s\n", r.Error)
	}
	if r.Summary != nil {
		fmt.Printf("score    %.1f\n", r.Summary.TrustStackScore)
		fmt.Printf("dimensions  provenance=%.2f verification=%.2f transparency=%.2f coherence=%.2f resonance=%.2f\n",
			r.Summary.AvgProvenance, r.Summary.AvgVerification,
			r.Summary.AvgTransparency, r.Summary.AvgCoherence, r.Summary.AvgResonance)
	}
	fmt.Printf("assets   %d\n", len(r.Assets))
	for _, a := range r.Assets {
		line := fmt.Sprintf("  %-12s %s", a.SourceType, a.URL)
		if a.Scores != nil {
			line += fmt.Sprintf("  %.2f %s", a.Scores.Overall, a.Scores.Classification)
		}
		fmt.Println(line)
	}
	if len(r.BlockedURLs) > 0 {
		fmt.Printf("blocked  %s\n", strings.Join(r.BlockedURLs, ", "))
	}
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "truststack.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path override")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd.Flags().StringVar(&runBrand, "brand", "", "brand slug (required)")
	runCmd.Flags().StringVar(&runScenario, "scenario", "default", "scenario slug")
	runCmd.Flags().StringSliceVar(&runKeywords, "keywords", nil, "search keywords")
	runCmd.Flags().StringSliceVar(&runSources, "sources", nil, "sources: web, brave, serper, reddit, youtube")
	runCmd.Flags().IntVar(&runLimit, "limit", 10, "per-keyword target count")
	runCmd.Flags().BoolVar(&runNoReuse, "no-reuse", false, "disable smart reuse of recent assets")
	runCmd.Flags().IntVar(&runMaxAgeHours, "max-age-hours", 24, "smart-reuse window in hours")
	runCmd.Flags().BoolVar(&runVisual, "visual", false, "capture and score page screenshots")

	pruneCmd.Flags().IntVar(&pruneDays, "days", 30, "retention window in days")

	rootCmd.AddCommand(runCmd, reportCmd, pruneCmd, usageCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
