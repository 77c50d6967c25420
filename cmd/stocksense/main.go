package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"StockSense/internal/di"
	"StockSense/internal/usecase"
	"StockSense/pkg/config"
	applogger "StockSense/pkg/logger"
	"StockSense/pkg/util"
)

var (
	cfgFile    string
	format     string
	verbose    bool
	tickerList string
	days       int
	asOf       string
	topN       int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stocksense",
		Short: "Ensemble stock return predictions",
		Long: `StockSense trains per-ticker ensembles on daily price history and
turns their forecasts into BUY, HOLD or SELL calls with a confidence score.

Examples:
  stocksense train --tickers AAPL,MSFT --days 7
  stocksense predict AAPL --as-of 2024-06-28
  stocksense recommend --top-n 10`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "output format: table, json")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "log pipeline progress to stderr")

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train and publish models",
		Args:  cobra.NoArgs,
		RunE:  runTrain,
	}
	trainCmd.Flags().StringVar(&tickerList, "tickers", "", "comma-separated tickers (default: configured universe)")
	trainCmd.Flags().IntVar(&days, "days", 0, "prediction horizon in trading days, 1..30 (default: config)")

	predictCmd := &cobra.Command{
		Use:   "predict TICKER",
		Short: "Predict one ticker",
		Args:  cobra.ExactArgs(1),
		RunE:  runPredict,
	}
	predictCmd.Flags().StringVar(&asOf, "as-of", "", "predict as of this date (YYYY-MM-DD)")

	predictAllCmd := &cobra.Command{
		Use:   "predict-all",
		Short: "Predict every ticker",
		Args:  cobra.NoArgs,
		RunE:  runPredictAll,
	}
	predictAllCmd.Flags().StringVar(&tickerList, "tickers", "", "comma-separated tickers (default: configured universe)")

	recommendCmd := &cobra.Command{
		Use:   "recommend",
		Short: "Show the strongest BUY and SELL calls",
		Args:  cobra.NoArgs,
		RunE:  runRecommend,
	}
	recommendCmd.Flags().IntVar(&topN, "top-n", usecase.DefaultTopN, fmt.Sprintf("calls per side, 1..%d", usecase.MaxTopN))

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List published models",
		Args:  cobra.NoArgs,
		RunE:  runModels,
	}

	rootCmd.AddCommand(trainCmd, predictCmd, predictAllCmd, recommendCmd, modelsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads config and wires the pipeline. The returned cleanup closes
// every client opened along the way.
func setup() (context.Context, *usecase.Pipeline, func(), error) {
	cfg, err := config.LoadWithEnv(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	l := applogger.NewWithWriter(os.Stderr, level)

	p, cleanup, err := di.InitializePipeline(cfg, l)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wiring pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx, p, func() {
		stop()
		cleanup()
	}, nil
}

// newProgress renders a bar on stderr once the batch size is known.
func newProgress(desc string) (usecase.ProgressFunc, func()) {
	var (
		once sync.Once
		bar  *progressbar.ProgressBar
	)
	progress := func(_, total int, _ string, _ error) {
		once.Do(func() {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription(desc),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]█[reset]",
					SaucerHead:    "[green]█[reset]",
					SaucerPadding: "░",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
		})
		_ = bar.Add(1)
	}
	finish := func() {
		if bar != nil {
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)
		}
	}
	return progress, finish
}

func runTrain(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("days") && (days < 1 || days > 30) {
		return fmt.Errorf("--days must be between 1 and 30")
	}
	ctx, p, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	progress, finish := newProgress("Training")
	report, err := p.TrainAll(ctx, util.NormalizeTickers(tickerList), days, progress)
	finish()
	if err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if format == "json" {
		return outputJSON(report)
	}
	return outputTrainReport(report)
}

func runPredict(cmd *cobra.Command, args []string) error {
	var at time.Time
	if asOf != "" {
		t, ok := util.ParseTime(asOf)
		if !ok {
			return fmt.Errorf("invalid --as-of %q", asOf)
		}
		at = t
	}
	ctx, p, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := p.Predict(ctx, args[0], at)
	if err != nil {
		return err
	}
	if format == "json" {
		return outputJSON(res)
	}
	return outputPrediction(res)
}

func runPredictAll(cmd *cobra.Command, args []string) error {
	ctx, p, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	progress, finish := newProgress("Predicting")
	batch, err := p.PredictAll(ctx, util.NormalizeTickers(tickerList), progress)
	finish()
	if err != nil {
		return fmt.Errorf("predicting: %w", err)
	}
	if format == "json" {
		return outputJSON(batch)
	}
	return outputBatch(batch)
}

func runRecommend(cmd *cobra.Command, args []string) error {
	if topN < 1 || topN > usecase.MaxTopN {
		return fmt.Errorf("--top-n must be between 1 and %d", usecase.MaxTopN)
	}
	ctx, p, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	recs, err := p.Recommendations(ctx, topN)
	if err != nil {
		return err
	}
	if format == "json" {
		return outputJSON(recs)
	}
	return outputRecommendations(recs)
}

func runModels(cmd *cobra.Command, args []string) error {
	ctx, p, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	info, err := p.ModelInfo(ctx)
	if err != nil {
		return err
	}
	if format == "json" {
		return outputJSON(info)
	}
	return outputModels(info)
}
