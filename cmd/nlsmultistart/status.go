package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

// jobSummary mirrors the fields of a server job listing that are displayed.
type jobSummary struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Config struct {
		Formula string `json:"formula"`
		Data    string `json:"data"`
	} `json:"config"`
	Partitions int  `json:"partitions"`
	Done       int  `json:"done"`
	Fitted     int  `json:"fitted"`
	Failed     int  `json:"failed"`
	Cached     bool `json:"cached"`
}

type jobStatus struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`
	Formula    string     `json:"formula"`
	Partitions int        `json:"partitions"`
	Done       int        `json:"done"`
	Fitted     int        `json:"fitted"`
	Failed     int        `json:"failed"`
	Trials     int        `json:"trials"`
	Cached     bool       `json:"cached"`
	Elapsed    float64    `json:"elapsed"`
	TPS        float64    `json:"tps"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime"`
	Error      string     `json:"error"`
}

func fetchJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var errNotFound = fmt.Errorf("not found")

func listJobs(url string) error {
	var jobs []jobSummary
	if err := fetchJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("Job ID: %s\n", job.ID)
		fmt.Printf("  State: %s\n", job.State)
		fmt.Printf("  Formula: %s\n", job.Config.Formula)
		if job.Config.Data != "" {
			fmt.Printf("  Data: %s\n", job.Config.Data)
		}
		fmt.Printf("  Partitions: %d/%d (%d fitted, %d failed)\n", job.Done, job.Partitions, job.Fitted, job.Failed)
		if job.Cached {
			fmt.Println("  Served from store")
		}
		fmt.Println()
	}

	return nil
}

func getJobStatus(url, jobID string) error {
	var status jobStatus
	if err := fetchJSON(url, &status); err != nil {
		if err == errNotFound {
			return fmt.Errorf("job not found: %s", jobID)
		}
		return err
	}

	fmt.Printf("Job: %s\n", status.ID)
	fmt.Printf("State: %s\n", status.State)
	fmt.Printf("Formula: %s\n", status.Formula)
	fmt.Println()

	fmt.Println("Progress:")
	fmt.Printf("  Partitions: %d/%d\n", status.Done, status.Partitions)
	fmt.Printf("  Fitted: %d\n", status.Fitted)
	fmt.Printf("  Failed: %d\n", status.Failed)
	fmt.Printf("  Trials: %d\n", status.Trials)
	if status.Cached {
		fmt.Println("  Served from store")
	}

	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if status.TPS > 0 {
		fmt.Printf("  Throughput: %.0f trials/sec\n", status.TPS)
	}

	if status.Error != "" {
		fmt.Printf("\nError: %s\n", status.Error)
	}

	return nil
}
