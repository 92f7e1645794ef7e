package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hina0118/mailbatch/pkg/runlog"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded job runs",
	Long: `Inspect the on-disk record of past and current job runs.

This command group is designed to be script-friendly:

- stable run ids
- predictable on-disk locations
- optional JSON output for machine parsing`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE:  runRunsList,
}

var runsStatusCmd = &cobra.Command{
	Use:   "status <run_id>",
	Short: "Show status for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsStatus,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatusCmd)

	runsListCmd.Flags().Bool("json", false, "Output as JSON")
	runsStatusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	root, err := runsRootDir()
	if err != nil {
		return err
	}
	store := runlog.NewStore(root)

	runs, err := store.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No runs found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "RUN ID\tJOB\tSTATE\tSTARTED\tENDED\tOK\tFAILED\tPIPELINE")
	for _, r := range runs {
		pipeline := r.Pipeline
		if pipeline == "" {
			pipeline = "-"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			shortRunID(r.RunID),
			r.JobType,
			r.State,
			formatOptionalTime(r.StartedAt),
			formatOptionalTime(r.EndedAt),
			r.SuccessCount,
			r.FailedCount,
			pipeline,
		)
	}

	return nil
}

func runRunsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	runID := strings.TrimSpace(args[0])
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}

	root, err := runsRootDir()
	if err != nil {
		return err
	}
	store := runlog.NewStore(root)

	resolvedID, err := resolveRunID(store, runID)
	if err != nil {
		return err
	}

	rec, err := store.Get(resolvedID)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	_, _ = fmt.Fprintf(os.Stdout, "run_id=%s\n", rec.RunID)
	_, _ = fmt.Fprintf(os.Stdout, "job_type=%s\n", rec.JobType)
	if rec.Pipeline != "" {
		_, _ = fmt.Fprintf(os.Stdout, "pipeline=%s\n", rec.Pipeline)
	}
	_, _ = fmt.Fprintf(os.Stdout, "state=%s\n", rec.State)
	if rec.ManifestPath != "" {
		_, _ = fmt.Fprintf(os.Stdout, "manifest_path=%s\n", rec.ManifestPath)
	}
	_, _ = fmt.Fprintf(os.Stdout, "total_items=%d\n", rec.TotalItems)
	_, _ = fmt.Fprintf(os.Stdout, "success_count=%d\n", rec.SuccessCount)
	_, _ = fmt.Fprintf(os.Stdout, "failed_count=%d\n", rec.FailedCount)
	if rec.Error != "" {
		_, _ = fmt.Fprintf(os.Stdout, "error=%s\n", rec.Error)
	}
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	if rec.EventsPath != "" {
		_, _ = fmt.Fprintf(os.Stdout, "events_path=%s\n", rec.EventsPath)
	}

	return nil
}

func shortRunID(runID string) string {
	runID = strings.TrimSpace(runID)
	if len(runID) <= 12 {
		return runID
	}
	return runID[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func resolveRunID(store *runlog.Store, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("run_id is required")
	}

	// Exact match first.
	if _, err := store.Get(input); err == nil {
		return input, nil
	}

	// Prefix match (allows table-friendly short IDs).
	runs, err := store.List()
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, r := range runs {
		if strings.HasPrefix(r.RunID, input) {
			matches = append(matches, r.RunID)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("run not found: %s", input)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("run id prefix is ambiguous (%d matches); use full run_id or --json", len(matches))
	}
	return matches[0], nil
}
