package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"DigitCast/internal/di"
	"DigitCast/internal/domain/models"
	"DigitCast/internal/repository"
	"DigitCast/internal/services/ledger"
	"DigitCast/internal/usecase"
	"DigitCast/pkg/config"
	applogger "DigitCast/pkg/logger"
	"DigitCast/pkg/util"
)

type replayOptions struct {
	configPath string
	logPath    string
	column     string
	seed       string
	observe    string
	window     int
	capacity   int
	backend    string
	export     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay an outcome sequence against a trained predictor",
		Long: `Train a predictor from an outcome log, seed the window, then feed the
observed digits one by one and print every scored turn.

Examples:
  replay --log data/outcomes.csv --seed 35125 --observe 7,1,9
  replay --log data/outcomes.csv --seed 35125 --observe 719 --backend frequency
  replay --log data/outcomes.csv --seed 35125 --observe 719 --export ledger.csv`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplay(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "optional config file; flags override it")
	f.StringVar(&opts.logPath, "log", "", "outcome log CSV (required)")
	f.StringVar(&opts.column, "column", repository.DefaultLogColumn, "CSV column holding the outcome digit")
	f.StringVar(&opts.seed, "seed", "", "seed window as a digit string (required)")
	f.StringVar(&opts.observe, "observe", "", "observed digits, e.g. 719 or 7,1,9")
	f.IntVar(&opts.window, "window", 0, "window size (0 keeps the configured value)")
	f.IntVar(&opts.capacity, "capacity", 0, "ledger history capacity (0 keeps the configured value)")
	f.StringVar(&opts.backend, "backend", "", "predictor backend: gbdt, frequency or remote")
	f.StringVar(&opts.export, "export", "", "write the ledger history as CSV to this file")
	f.BoolVar(&opts.verbose, "verbose", false, "log at debug level to stderr")
	_ = cmd.MarkFlagRequired("log")
	_ = cmd.MarkFlagRequired("seed")
	return cmd
}

func runReplay(ctx context.Context, out io.Writer, opts *replayOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := opts.config()
	if err != nil {
		return err
	}

	seed, err := models.ParseDigits(opts.seed)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	observed, err := models.ParseDigits(strings.Join(util.SplitCSV(opts.observe), ""))
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}

	trainer, err := di.ProvideTrainer(cfg)
	if err != nil {
		return err
	}
	log := applogger.NewNop()
	if opts.verbose {
		if log, err = applogger.New(&applogger.Config{Level: "debug", Format: "console", Output: "stderr"}); err != nil {
			return err
		}
	}

	outcomes, err := repository.NewCSVLogSource(opts.logPath, opts.column).LoadLog(ctx)
	if err != nil {
		return err
	}

	sess := usecase.NewSession("replay", trainer, cfg.Predictor.WindowSize, cfg.Predictor.Capacity, nil, log)
	view, err := sess.Train(ctx, outcomes)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	fmt.Fprintf(out, "trained backend=%s log=%d rows=%d window=%d\n", view.Backend, view.LogLength, view.TrainingRows, view.WindowSize)

	if view, err = sess.Initialize(ctx, seed); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TURN\tWINDOW\tPREDICTED\tCONF\tMATCH\tOBSERVED\tOUTCOME\tSTREAK")
	for _, sym := range observed {
		pred := view.Prediction
		corroboration := view.Corroboration
		win := view.Window
		next, ev, err := sess.Observe(ctx, sym)
		if err != nil {
			_ = tw.Flush()
			return fmt.Errorf("observe %d: %w", sym, err)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.3f\t%s\t%d (%s)\t%s\t%d %s\n",
			ev.Entry.Turn, win, pred.Category, pred.Confidence, corroboration,
			sym, ev.Entry.ObservedCategory, ev.Entry.Outcome, ev.Entry.StreakLength, ev.Entry.StreakType)
		view = next
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if view.Prediction != nil {
		fmt.Fprintf(out, "next window=%s prediction=%s confidence=%.3f match=%s\n",
			view.Window, view.Prediction.Category, view.Prediction.Confidence, view.Corroboration)
	}

	if err := ledger.WriteJSON(out, view.Ledger); err != nil {
		return err
	}
	if opts.export != "" {
		return exportHistory(opts.export, sess.History())
	}
	return nil
}

func (o *replayOptions) config() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.window > 0 {
		cfg.Predictor.WindowSize = o.window
	}
	if o.capacity > 0 {
		cfg.Predictor.Capacity = o.capacity
	}
	if o.backend != "" {
		cfg.Predictor.Backend = o.backend
	}
	// the CLI reads its log from --log, never from the configured source
	cfg.LogSource.Type = "none"
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func exportHistory(path string, entries []models.LedgerEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := ledger.WriteCSV(f, entries); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
