package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imishinist/mlflow-recorder/internal/models"
	"github.com/imishinist/mlflow-recorder/internal/recorder"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage MLflow runs",
	Long:  "Create and end MLflow runs",
}

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new MLflow run",
	Long:  "Create and start a new MLflow run and print its ID",
	RunE:  runStart,
}

var runEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End an MLflow run",
	Long:  "End an existing MLflow run",
	RunE:  runEnd,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runEndCmd)

	// Start command flags
	runStartCmd.Flags().String("run-name", "", "Run name (default: timestamp-based)")
	runStartCmd.Flags().StringArray("tag", []string{}, "Tags in key=value format")
	runStartCmd.Flags().String("description", "", "Run description")

	// End command flags
	runEndCmd.Flags().String("run-id", "", "Run ID to end (required)")
	runEndCmd.Flags().String("status", "FINISHED", "End status (FINISHED/FAILED)")
	runEndCmd.MarkFlagRequired("run-id")
}

func runStart(cmd *cobra.Command, args []string) error {
	runName, _ := cmd.Flags().GetString("run-name")
	tags, _ := cmd.Flags().GetStringArray("tag")
	description, _ := cmd.Flags().GetString("description")

	experimentID := appConfig.ExperimentID
	if experimentID == "" {
		return fmt.Errorf("experiment ID must be specified via --experiment-id flag or MLFLOW_EXPERIMENT_ID environment variable")
	}

	tagMap, err := parseTags(tags)
	if err != nil {
		return err
	}

	opts := []recorder.Option{recorder.WithTags(tagMap)}
	if description != "" {
		opts = append(opts, recorder.WithDescription(processEscapeSequences(description)))
	}

	rec, err := newRecorder(runName, experimentID, opts...)
	if err != nil {
		return err
	}
	defer rec.Close()

	run, err := rec.StartRun(context.Background())
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	// Output only run ID for shell scripting
	fmt.Fprintln(cmd.OutOrStdout(), run.RunID)
	return nil
}

// parseTags parses tag strings in key=value format
func parseTags(tags []string) (map[string]string, error) {
	tagMap := make(map[string]string)
	for _, tag := range tags {
		parts := strings.SplitN(tag, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid tag format: %s (expected key=value)", tag)
		}
		tagMap[parts[0]] = parts[1]
	}
	return tagMap, nil
}

// parseEndStatus accepts the terminal statuses only.
func parseEndStatus(s string) (models.RunStatus, error) {
	status, err := models.ParseRunStatus(strings.ToUpper(s))
	if err != nil || !status.Terminal() {
		return "", fmt.Errorf("invalid status: %s (valid: FINISHED, FAILED)", s)
	}
	return status, nil
}

func runEnd(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	statusFlag, _ := cmd.Flags().GetString("status")

	status, err := parseEndStatus(statusFlag)
	if err != nil {
		return err
	}

	ctx := context.Background()
	err = withRun(ctx, runID, func(rec *recorder.TrackingRecorder) error {
		return rec.EndRun(ctx, status)
	})
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run ended successfully\n")
	fmt.Fprintf(out, "Run ID: %s\n", runID)
	fmt.Fprintf(out, "Status: %s\n", status)
	return nil
}

// processEscapeSequences processes common escape sequences in strings
func processEscapeSequences(s string) string {
	s = strings.ReplaceAll(s, "\\n", "\n")
	s = strings.ReplaceAll(s, "\\t", "\t")
	s = strings.ReplaceAll(s, "\\r", "\r")
	s = strings.ReplaceAll(s, "\\\\", "\\")
	return s
}
