package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hina0118/mailbatch/internal/server/handlers"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control in-flight job types",
	Long: `Inspect and control the job types of a running mailbatch server.

This command group talks to a "mailbatch serve" instance over its status
API. The server combines its own run guards with the run log, so jobs
running in separate sync/parse/enrich processes show up too; stop
requests are relayed to them over the event bus when one is configured.
Use "mailbatch runs" for the on-disk record of past runs.`,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every known job type",
	RunE:  runJobsStatus,
}

var jobsStopCmd = &cobra.Command{
	Use:   "stop <job_type>",
	Short: "Request cooperative cancellation of a running job type",
	Long: `Request cooperative cancellation of a running job type.

The request sets a flag; the running job observes it at its next chunk
boundary and finishes the chunk in flight before stopping.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsStop,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsStopCmd)

	jobsCmd.PersistentFlags().String("server", "http://localhost:8080", "Base URL of the mailbatch server")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
}

func serverBaseURL(cmd *cobra.Command) (string, error) {
	base, _ := cmd.Flags().GetString("server")
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", fmt.Errorf("server url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", base, err)
	}
	return base, nil
}

func runJobsStatus(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	base, err := serverBaseURL(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/jobs", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var jobs []handlers.JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return fmt.Errorf("decode jobs response: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No job types known yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB\tRUNNING\tRUN ID\tCANCEL REQUESTED\tLAST ERROR")
	for _, j := range jobs {
		runID := j.RunID
		if runID == "" {
			runID = "-"
		}
		lastErr := j.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%t\t%s\n",
			j.JobType, j.Running, runID, j.CancelRequested, lastErr)
	}
	return nil
}

func runJobsStop(cmd *cobra.Command, args []string) error {
	jobType := strings.TrimSpace(args[0])
	if jobType == "" {
		return fmt.Errorf("job_type is required")
	}

	base, err := serverBaseURL(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/jobs/%s/cancel", base, url.PathEscape(jobType))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	_, _ = fmt.Fprintf(os.Stdout, "Cancellation requested for %s; the run stops at its next chunk boundary\n", jobType)
	return nil
}
