package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imishinist/mlflow-recorder/internal/codec"
	"github.com/imishinist/mlflow-recorder/internal/recorder"
)

var logArtifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Log files or directories as artifacts",
	Long: `Upload files or directories as artifacts of an MLflow run.
Directories are uploaded recursively. Files keep their base name below --artifact-path.`,
	Example: `  # Upload a file to the artifact root
  mlflow-recorder log artifact --run-id <run-id> --file model.pkl

  # Upload a file below models/
  mlflow-recorder log artifact --run-id <run-id> --file model.pkl --artifact-path models

  # Upload several files and a directory
  mlflow-recorder log artifact --run-id <run-id> --file model.pkl --file config.yaml --file plots/`,
	RunE: logArtifact,
}

var logObjectCmd = &cobra.Command{
	Use:   "object",
	Short: "Serialize a value and store it as a named artifact",
	Example: `  # Store a string
  mlflow-recorder log object --run-id <run-id> --name note --value "baseline run"

  # Store a structured value
  mlflow-recorder log object --run-id <run-id> --name labels --value '{"0":"cat","1":"dog"}' --json`,
	RunE: logObject,
}

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Inspect and load run artifacts",
}

var artifactListCmd = &cobra.Command{
	Use:   "list",
	Short: "List artifacts of a run",
	RunE:  artifactList,
}

var artifactLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Download and decode a named artifact",
	RunE:  artifactLoad,
}

var artifactURICmd = &cobra.Command{
	Use:   "uri",
	Short: "Print the artifact root URI of a run",
	RunE:  artifactURI,
}

func init() {
	logCmd.AddCommand(logArtifactCmd)
	logCmd.AddCommand(logObjectCmd)

	logArtifactCmd.Flags().String("run-id", "", "Run ID to upload artifacts to (required)")
	logArtifactCmd.Flags().StringSlice("file", []string{}, "File or directory to upload (can be specified multiple times)")
	logArtifactCmd.Flags().String("artifact-path", "", "Artifact directory to upload into")
	logArtifactCmd.MarkFlagRequired("run-id")
	logArtifactCmd.MarkFlagRequired("file")

	logObjectCmd.Flags().String("run-id", "", "Run ID (required)")
	logObjectCmd.Flags().String("name", "", "Artifact name (required)")
	logObjectCmd.Flags().String("value", "", "Value to store")
	logObjectCmd.Flags().Bool("json", false, "Decode --value as JSON before storing")
	logObjectCmd.Flags().String("artifact-path", "", "Artifact directory to upload into")
	logObjectCmd.MarkFlagRequired("run-id")
	logObjectCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(artifactCmd)
	artifactCmd.AddCommand(artifactListCmd)
	artifactCmd.AddCommand(artifactLoadCmd)
	artifactCmd.AddCommand(artifactURICmd)

	artifactListCmd.Flags().String("run-id", "", "Run ID (required)")
	artifactListCmd.Flags().String("path", "", "Artifact directory to list (default: root)")
	artifactListCmd.MarkFlagRequired("run-id")

	artifactLoadCmd.Flags().String("run-id", "", "Run ID (required)")
	artifactLoadCmd.Flags().String("name", "", "Artifact name (required)")
	artifactLoadCmd.MarkFlagRequired("run-id")
	artifactLoadCmd.MarkFlagRequired("name")

	artifactURICmd.Flags().String("run-id", "", "Run ID (required)")
	artifactURICmd.MarkFlagRequired("run-id")
}

func logArtifact(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	files, _ := cmd.Flags().GetStringSlice("file")
	artifactPath, _ := cmd.Flags().GetString("artifact-path")

	if len(files) == 0 {
		return fmt.Errorf("at least one file must be specified")
	}

	ctx := context.Background()
	successCount := 0
	err := withRun(ctx, runID, func(rec *recorder.TrackingRecorder) error {
		for _, filePath := range files {
			if _, err := os.Stat(filePath); os.IsNotExist(err) {
				fmt.Fprintf(cmd.ErrOrStderr(), "File not found: %s\n", filePath)
				continue
			}

			err := rec.SaveObjects(ctx, recorder.SaveRequest{LocalPath: filePath, ArtifactPath: artifactPath})
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Failed to upload %s: %v\n", filePath, err)
				continue
			}
			successCount++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if successCount == 0 {
		return fmt.Errorf("failed to upload any artifacts")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Successfully uploaded %d/%d artifacts\n", successCount, len(files))
	return nil
}

func logObject(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	name, _ := cmd.Flags().GetString("name")
	raw, _ := cmd.Flags().GetString("value")
	asJSON, _ := cmd.Flags().GetBool("json")
	artifactPath, _ := cmd.Flags().GetString("artifact-path")

	var value any = raw
	if asJSON {
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return fmt.Errorf("invalid JSON value: %w", err)
		}
	}

	ctx := context.Background()
	err := withRun(ctx, runID, func(rec *recorder.TrackingRecorder) error {
		return rec.SaveObjects(ctx, recorder.SaveRequest{
			ArtifactPath: artifactPath,
			Objects:      recorder.Mapping[any]{recorder.P(name, value)},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to save object: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Successfully saved object: %s\n", name)
	return nil
}

func artifactList(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	artifactPath, _ := cmd.Flags().GetString("path")

	ctx := context.Background()
	var refs []recorder.ArtifactRef
	err := withRun(ctx, runID, func(rec *recorder.TrackingRecorder) error {
		var err error
		refs, err = rec.ListArtifacts(ctx, artifactPath)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, ref := range refs {
		if ref.IsDir {
			fmt.Fprintf(out, "%s/\n", ref.Path)
		} else {
			fmt.Fprintf(out, "%s\t%d\n", ref.Path, ref.Size)
		}
	}
	return nil
}

func artifactLoad(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	name, _ := cmd.Flags().GetString("name")

	ctx := context.Background()
	var result codec.Result
	err := withRun(ctx, runID, func(rec *recorder.TrackingRecorder) error {
		var err error
		result, err = rec.LoadObject(ctx, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to load object: %w", err)
	}

	return printResult(cmd, result)
}

// printResult writes text as-is and structured values as indented JSON.
func printResult(cmd *cobra.Command, result codec.Result) error {
	out := cmd.OutOrStdout()
	if text, ok := result.Text(); ok {
		fmt.Fprintln(out, text)
		return nil
	}

	if s, ok := result.Value.(string); ok {
		fmt.Fprintln(out, s)
		return nil
	}

	encoded, err := json.MarshalIndent(result.Value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format object: %w", err)
	}
	fmt.Fprintln(out, string(encoded))
	return nil
}

func artifactURI(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")

	var uri string
	err := withRun(context.Background(), runID, func(rec *recorder.TrackingRecorder) error {
		var err error
		uri, err = rec.ArtifactURI()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to get artifact URI: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), uri)
	return nil
}
