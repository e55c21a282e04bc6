package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/nlsmultistart/internal/data"
	"github.com/cwbudde/nlsmultistart/internal/fit"
	"github.com/cwbudde/nlsmultistart/internal/store"
)

var (
	confLevel      float64
	confDataDir    string
	confDataPath   string
	confJSONOutput bool
)

var confintCmd = &cobra.Command{
	Use:   "confint <run-id>",
	Short: "Wald confidence intervals for a stored run",
	Long: `Computes per-parameter confidence intervals for every fitted partition of
a stored run. The dataset is re-read from the path recorded with the run,
or from --data. Parameters of a partition whose Jacobian is singular are
reported as NA.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfInt,
}

func init() {
	confintCmd.Flags().Float64Var(&confLevel, "level", fit.DefaultConfLevel, "Confidence level in (0, 1)")
	confintCmd.Flags().StringVar(&confDataDir, "data-dir", "./data", "Run store directory")
	confintCmd.Flags().StringVar(&confDataPath, "data", "", "Dataset path (default: the run's recorded path)")
	confintCmd.Flags().BoolVar(&confJSONOutput, "json", false, "Print JSON instead of CSV")
	rootCmd.AddCommand(confintCmd)
}

func runConfInt(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(confDataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	rows, err := storedConfInt(st, args[0], confDataPath, confLevel)
	if err != nil {
		return err
	}

	if confJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	return fit.WriteConfIntCSV(os.Stdout, rows)
}

// storedConfInt loads a run and its dataset and computes the intervals.
func storedConfInt(st store.Store, runID, dataOverride string, level float64) ([]fit.ConfIntRow, error) {
	run, err := st.LoadRun(runID)
	if err != nil {
		return nil, err
	}

	path := run.DataPath
	if dataOverride != "" {
		path = dataOverride
	}
	if path == "" {
		return nil, fmt.Errorf("run %s has no recorded dataset path; use --data", runID)
	}

	m, err := run.Config.Model()
	if err != nil {
		return nil, err
	}
	ds, err := data.LoadCSV(path, run.Config.CSVOptions(m))
	if err != nil {
		return nil, err
	}

	return fit.ConfInt(run.Result, ds, level)
}
