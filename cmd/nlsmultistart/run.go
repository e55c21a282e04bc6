package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/nlsmultistart/internal/config"
	"github.com/cwbudde/nlsmultistart/internal/data"
	"github.com/cwbudde/nlsmultistart/internal/fit"
	"github.com/cwbudde/nlsmultistart/internal/store"
)

var (
	configPath   string
	dataPath     string
	formula      string
	idColumn     string
	predictors   []string
	paramNames   []string
	paramBounds  []float64
	tries        int
	patience     int
	useAICc      bool
	computeR2    bool
	suppErrors   bool
	naAction     string
	seed         int64
	solverName   string
	workers      int
	trialWorkers int
	resolution   int
	outDir       string
	storeDir     string
	refit        bool
	writeTrace   bool
	withConfInt  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fit a model to every partition of a CSV dataset",
	Long: `Runs the multi-start fit for each partition and prints the parameter table.
Settings come from --config (YAML) and are overridden by explicit flags.
With --out the params, predictions and failures tables are written as CSV
along with the full result as JSON. With --store the run is persisted and an
identical config + dataset is served from the store instead of refitting.`,
	RunE: runFit,
}

func init() {
	defaults := config.Default()

	runCmd.Flags().StringVar(&configPath, "config", "", "YAML fit configuration")
	runCmd.Flags().StringVar(&dataPath, "data", "", "CSV dataset path")
	runCmd.Flags().StringVar(&formula, "formula", "", `Model formula, e.g. "y ~ a * exp(-b * x)"`)
	runCmd.Flags().StringVar(&idColumn, "id", "", "Partition id column")
	runCmd.Flags().StringSliceVar(&predictors, "predictors", nil, "Predictor columns")
	runCmd.Flags().StringSliceVar(&paramNames, "params", nil, "Parameter names in bounds order (default: formula order)")
	runCmd.Flags().Float64SliceVar(&paramBounds, "bounds", nil, "Sampling bounds as lo,hi pairs per parameter")
	runCmd.Flags().IntVar(&tries, "tries", defaults.Tries, "Maximum trials per partition")
	runCmd.Flags().IntVar(&patience, "patience", defaults.Patience, "Stop after this many trials without improvement")
	runCmd.Flags().BoolVar(&useAICc, "aicc", defaults.AICc, "Use AICc instead of AIC")
	runCmd.Flags().BoolVar(&computeR2, "r2", defaults.R2, "Report pseudo R-squared")
	runCmd.Flags().BoolVar(&suppErrors, "supp-errors", defaults.SuppErrors, "Log trial failures at debug level")
	runCmd.Flags().StringVar(&naAction, "na-action", defaults.NAAction, "Missing value handling: omit or fail")
	runCmd.Flags().Int64Var(&seed, "seed", defaults.Seed, "Random seed")
	runCmd.Flags().StringVar(&solverName, "solver", defaults.Solver, "Local solver: lm, mayfly-lm, nelder-mead")
	runCmd.Flags().IntVar(&workers, "workers", defaults.Workers, "Partitions fitted concurrently")
	runCmd.Flags().IntVar(&trialWorkers, "trial-workers", defaults.TrialWorkers, "Trials run concurrently within a partition")
	runCmd.Flags().IntVar(&resolution, "resolution", defaults.Resolution, "Prediction points per partition")
	runCmd.Flags().StringVar(&outDir, "out", "", "Directory for result tables")
	runCmd.Flags().StringVar(&storeDir, "store", "", "Run store directory")
	runCmd.Flags().BoolVar(&refit, "refit", false, "Fit even if the store holds a matching run")
	runCmd.Flags().BoolVar(&writeTrace, "trace", false, "Record every trial to the run's trace.jsonl (requires --store)")
	runCmd.Flags().BoolVar(&withConfInt, "confint", false, "Also write confint.csv to --out")

	rootCmd.AddCommand(runCmd)
}

// buildFitConfig loads --config and applies every flag the user set explicitly.
func buildFitConfig(cmd *cobra.Command) (*config.FitConfig, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Read(configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("data", func() { cfg.Data = dataPath })
	set("formula", func() { cfg.Formula = formula })
	set("id", func() { cfg.ID = idColumn })
	set("predictors", func() { cfg.Predictors = predictors })
	set("params", func() { cfg.Params = paramNames })
	set("bounds", func() { cfg.ParamBounds = paramBounds })
	set("tries", func() { cfg.Tries = tries })
	set("patience", func() { cfg.Patience = patience })
	set("aicc", func() { cfg.AICc = useAICc })
	set("r2", func() { cfg.R2 = computeR2 })
	set("supp-errors", func() { cfg.SuppErrors = suppErrors })
	set("na-action", func() { cfg.NAAction = naAction })
	set("seed", func() { cfg.Seed = seed })
	set("solver", func() { cfg.Solver = solverName })
	set("workers", func() { cfg.Workers = workers })
	set("trial-workers", func() { cfg.TrialWorkers = trialWorkers })
	set("resolution", func() { cfg.Resolution = resolution })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Data == "" {
		return nil, fmt.Errorf("no dataset: set --data or data in the config")
	}
	return &cfg, nil
}

// fitResult is the outcome of one CLI fit, fresh or from the store.
type fitResult struct {
	RunID      string
	Cached     bool
	Collection *fit.FitCollection
	Dataset    *data.Dataset
	Elapsed    time.Duration
}

type fitOptions struct {
	Store *store.FSStore
	Refit bool
	Trace bool
}

// fitDataset loads the dataset, consults the store, and runs the fit.
func fitDataset(ctx context.Context, cfg *config.FitConfig, opts fitOptions) (*fitResult, error) {
	m, err := cfg.Model()
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	ds, err := data.LoadCSVFromReader(bytes.NewReader(raw), cfg.CSVOptions(m))
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	fingerprint, err := store.Fingerprint(*cfg, raw)
	if err != nil {
		return nil, err
	}
	if opts.Store != nil && !opts.Refit {
		run, err := opts.Store.FindByFingerprint(fingerprint)
		if err == nil {
			slog.Info("Using stored run", "run_id", run.RunID, "fingerprint", fingerprint)
			return &fitResult{RunID: run.RunID, Cached: true, Collection: run.Result, Dataset: ds}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("store lookup failed: %w", err)
		}
	}

	fitOpts, err := cfg.Options(m)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	if opts.Trace && opts.Store != nil {
		tw, err := store.NewTraceWriter(opts.Store.BaseDir(), runID, false)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := tw.Close(); err != nil {
				slog.Warn("Failed to close trace", "error", err)
			}
		}()
		fitOpts.OnTrial = tw.Hook()
	}

	slog.Info("Starting fit",
		"formula", cfg.Formula,
		"partitions", len(ds.Partitions()),
		"tries", cfg.Tries,
		"patience", cfg.Patience,
		"solver", cfg.Solver,
	)

	start := time.Now()
	fc, err := fit.Run(ctx, m, ds, fitOpts)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	slog.Info("Fit complete", "elapsed", elapsed, "fitted", len(fc.Params), "failed", len(fc.Failures))

	if opts.Store != nil {
		run := store.NewRun(runID, fingerprint, *cfg, cfg.Data, fc, elapsed)
		if err := opts.Store.SaveRun(run); err != nil {
			return nil, fmt.Errorf("failed to save run: %w", err)
		}
		slog.Info("Run saved", "run_id", runID, "path", opts.Store.RunDir(runID))
	}

	return &fitResult{RunID: runID, Collection: fc, Dataset: ds, Elapsed: elapsed}, nil
}

func runFit(cmd *cobra.Command, args []string) error {
	cfg, err := buildFitConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := fitOptions{Refit: refit, Trace: writeTrace}
	if storeDir != "" {
		st, err := store.NewFSStore(storeDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		opts.Store = st
	} else if writeTrace {
		return fmt.Errorf("--trace requires --store")
	}

	res, err := fitDataset(ctx, cfg, opts)
	if err != nil {
		return err
	}

	if outDir != "" {
		if err := writeOutputs(outDir, res, withConfInt); err != nil {
			return err
		}
		slog.Info("Results written", "dir", outDir)
	}

	printSummary(os.Stdout, res)
	return nil
}

// writeOutputs writes the result tables and the JSON collection to dir.
func writeOutputs(dir string, res *fitResult, confint bool) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tables := []struct {
		name  string
		write func(io.Writer, *fit.FitCollection) error
	}{
		{"params.csv", fit.WriteParamsCSV},
		{"predictions.csv", fit.WritePredictionsCSV},
		{"failures.csv", fit.WriteFailuresCSV},
	}
	for _, t := range tables {
		if err := writeFile(filepath.Join(dir, t.name), func(w io.Writer) error {
			return t.write(w, res.Collection)
		}); err != nil {
			return err
		}
	}

	if err := writeFile(filepath.Join(dir, "result.json"), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Collection)
	}); err != nil {
		return err
	}

	if confint {
		rows, err := fit.ConfInt(res.Collection, res.Dataset, fit.DefaultConfLevel)
		if err != nil {
			return err
		}
		return writeFile(filepath.Join(dir, "confint.csv"), func(w io.Writer) error {
			return fit.WriteConfIntCSV(w, rows)
		})
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// printSummary prints one row per fitted partition followed by the failures.
func printSummary(out io.Writer, res *fitResult) {
	fc := res.Collection

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := append([]string{"ID"}, fc.Info.ParamNames...)
	header = append(header, "RSS", fc.Info.Criterion, "TRIALS", "STALL")
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, r := range fc.Params {
		cols := []string{r.ID}
		for _, v := range r.Values {
			cols = append(cols, fmt.Sprintf("%.6g", v))
		}
		cols = append(cols,
			fmt.Sprintf("%.6g", r.RSS),
			fmt.Sprintf("%.4f", r.Score),
			fmt.Sprintf("%d", r.Trials),
			fmt.Sprintf("%d", r.Stall),
		)
		fmt.Fprintln(w, strings.Join(cols, "\t"))
	}
	w.Flush()

	if len(fc.Failures) > 0 {
		fmt.Fprintf(out, "\nFailed partitions: %d\n", len(fc.Failures))
		for _, f := range fc.Failures {
			fmt.Fprintf(out, "  - %s: %s (%d trials) %s\n", f.ID, f.Reason, f.Trials, f.Detail)
		}
	}

	source := "fitted"
	if res.Cached {
		source = "from store"
	}
	fmt.Fprintf(out, "\nRun %s (%s): %d fitted, %d failed\n", res.RunID, source, len(fc.Params), len(fc.Failures))
}
