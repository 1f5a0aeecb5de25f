package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imishinist/mlflow-recorder/internal/recorder"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Set or delete run tags",
}

var tagSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set tags on an MLflow run",
	RunE:  tagSet,
}

var tagDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete tags from an MLflow run",
	Long:  "Delete tags from an MLflow run. Tags that do not exist are ignored.",
	RunE:  tagDelete,
}

func init() {
	rootCmd.AddCommand(tagCmd)
	tagCmd.AddCommand(tagSetCmd)
	tagCmd.AddCommand(tagDeleteCmd)

	tagSetCmd.Flags().String("run-id", "", "Run ID (required)")
	tagSetCmd.Flags().StringArray("tag", []string{}, "Tags in key=value format (required)")
	tagSetCmd.MarkFlagRequired("run-id")
	tagSetCmd.MarkFlagRequired("tag")

	tagDeleteCmd.Flags().String("run-id", "", "Run ID (required)")
	tagDeleteCmd.Flags().StringArray("key", []string{}, "Tag key to delete (required)")
	tagDeleteCmd.MarkFlagRequired("run-id")
	tagDeleteCmd.MarkFlagRequired("key")
}

func tagSet(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	tagFlags, _ := cmd.Flags().GetStringArray("tag")

	tags, err := parseKeyValues("tag", tagFlags)
	if err != nil {
		return err
	}

	ctx := context.Background()
	err = withRun(ctx, runID, func(rec *recorder.TrackingRecorder) error {
		return rec.SetTags(ctx, tags)
	})
	if err != nil {
		return fmt.Errorf("failed to set tags: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Successfully set %d tags\n", len(tags))
	return nil
}

func tagDelete(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	keys, _ := cmd.Flags().GetStringArray("key")

	ctx := context.Background()
	err := withRun(ctx, runID, func(rec *recorder.TrackingRecorder) error {
		return rec.DeleteTags(ctx, keys...)
	})
	if err != nil {
		return fmt.Errorf("failed to delete tags: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Successfully deleted %d tags\n", len(keys))
	return nil
}
