package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imishinist/mlflow-recorder/internal/parser"
	"github.com/imishinist/mlflow-recorder/internal/recorder"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Log parameters, metrics, artifacts and objects",
	Long:  "Log parameters, metrics, artifacts and objects to MLflow runs",
}

var logParamsCmd = &cobra.Command{
	Use:   "params",
	Short: "Log parameters to MLflow run",
	Long:  "Log parameters to an existing MLflow run",
	RunE:  logParams,
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.AddCommand(logParamsCmd)

	// Params command flags
	logParamsCmd.Flags().String("run-id", "", "Run ID to log parameters to (required)")
	logParamsCmd.Flags().StringArray("param", []string{}, "Parameters in key=value format")
	logParamsCmd.Flags().String("from-file", "", "Load parameters from file (JSON/YAML)")
	logParamsCmd.MarkFlagRequired("run-id")
}

func logParams(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	paramFlags, _ := cmd.Flags().GetStringArray("param")
	fromFile, _ := cmd.Flags().GetString("from-file")

	if len(paramFlags) == 0 && fromFile == "" {
		return fmt.Errorf("either --param or --from-file must be specified")
	}

	params, err := parseKeyValues("parameter", paramFlags)
	if err != nil {
		return err
	}

	if fromFile != "" {
		fileParams, err := parser.ParamsFromFile(fromFile)
		if err != nil {
			return fmt.Errorf("failed to parse parameters file: %w", err)
		}
		params = append(params, recorder.FromMap(fileParams)...)
	}

	ctx := context.Background()
	err = withRun(ctx, runID, func(rec *recorder.TrackingRecorder) error {
		return rec.LogParams(ctx, params)
	})
	if err != nil {
		return fmt.Errorf("failed to log parameters: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Successfully logged %d parameters\n", len(params))
	for _, p := range params {
		fmt.Fprintf(out, "  %s: %v\n", p.Key, p.Value)
	}
	return nil
}
