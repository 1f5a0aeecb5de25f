package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/imishinist/mlflow-recorder/internal/models"
	"github.com/imishinist/mlflow-recorder/internal/parser"
	"github.com/imishinist/mlflow-recorder/internal/recorder"
	timeutils "github.com/imishinist/mlflow-recorder/internal/time"
)

var logMetricCmd = &cobra.Command{
	Use:   "metric",
	Short: "Log a single metric to MLflow run",
	Long:  "Log a single metric to an existing MLflow run",
	RunE:  logMetric,
}

var logMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Log multiple metrics to MLflow run",
	Long:  "Log multiple metrics from file to an existing MLflow run",
	RunE:  logMetrics,
}

func init() {
	logCmd.AddCommand(logMetricCmd)
	logCmd.AddCommand(logMetricsCmd)

	// Single metric command flags
	logMetricCmd.Flags().String("run-id", "", "Run ID to log metric to (required)")
	logMetricCmd.Flags().String("name", "", "Metric name (required)")
	logMetricCmd.Flags().Float64("value", 0, "Metric value (required)")
	logMetricCmd.Flags().Int64("step", -1, "Step number (optional)")
	logMetricCmd.Flags().String("timestamp", "", "Timestamp in ISO8601 format (optional)")
	logMetricCmd.MarkFlagRequired("run-id")
	logMetricCmd.MarkFlagRequired("name")
	logMetricCmd.MarkFlagRequired("value")

	// Multiple metrics command flags
	logMetricsCmd.Flags().String("run-id", "", "Run ID to log metrics to (required)")
	logMetricsCmd.Flags().String("from-file", "", "Load metrics from file (JSON/YAML)")
	logMetricsCmd.Flags().String("time-resolution", "", "Time resolution (1m/5m/1h)")
	logMetricsCmd.Flags().String("time-alignment", "", "Time alignment (floor/ceil/round)")
	logMetricsCmd.Flags().String("step-mode", "", "Step mode (auto/timestamp/sequence)")
	logMetricsCmd.MarkFlagRequired("run-id")
	logMetricsCmd.MarkFlagRequired("from-file")
}

func logMetric(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	name, _ := cmd.Flags().GetString("name")
	value, _ := cmd.Flags().GetFloat64("value")
	step, _ := cmd.Flags().GetInt64("step")
	timestampStr, _ := cmd.Flags().GetString("timestamp")

	var stepPtr *int64
	if step >= 0 {
		stepPtr = &step
	}

	var timestamp *time.Time
	if timestampStr != "" {
		t, err := time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return fmt.Errorf("invalid timestamp format: %s (expected ISO8601)", timestampStr)
		}
		timestamp = &t
	}

	ctx := context.Background()
	err := withRun(ctx, runID, func(rec *recorder.TrackingRecorder) error {
		if timestamp == nil {
			return rec.LogMetrics(ctx, recorder.Mapping[float64]{recorder.P(name, value)}, stepPtr)
		}
		metric := models.Metric{Key: name, Value: value, Timestamp: *timestamp}
		if stepPtr != nil {
			metric.Step = *stepPtr
		}
		return rec.LogMetricSeries(ctx, []models.Metric{metric})
	})
	if err != nil {
		return fmt.Errorf("failed to log metric: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Successfully logged metric: %s = %f", name, value)
	if stepPtr != nil {
		fmt.Fprintf(out, " (step: %d)", *stepPtr)
	}
	if timestamp != nil {
		fmt.Fprintf(out, " (timestamp: %s)", timestamp.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	return nil
}

func logMetrics(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	fromFile, _ := cmd.Flags().GetString("from-file")
	timeResolution, _ := cmd.Flags().GetString("time-resolution")
	timeAlignment, _ := cmd.Flags().GetString("time-alignment")
	stepMode, _ := cmd.Flags().GetString("step-mode")

	// Use config defaults if not specified
	if timeResolution == "" {
		timeResolution = appConfig.TimeResolution
	}
	if timeAlignment == "" {
		timeAlignment = appConfig.TimeAlignment
	}
	if stepMode == "" {
		stepMode = appConfig.StepMode
	}

	metricsFile, err := parser.MetricsFromFile(fromFile)
	if err != nil {
		return fmt.Errorf("failed to parse metrics file: %w", err)
	}

	timeConfig := models.TimeConfig{
		Resolution: timeResolution,
		Alignment:  timeAlignment,
		StepMode:   stepMode,
	}
	processedMetrics, err := timeutils.ProcessMetrics(metricsFile.Metrics, timeConfig, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to process metrics: %w", err)
	}

	ctx := context.Background()
	err = withRun(ctx, runID, func(rec *recorder.TrackingRecorder) error {
		return rec.LogMetricSeries(ctx, processedMetrics)
	})
	if err != nil {
		return fmt.Errorf("failed to log metrics: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Successfully logged %d metrics from %s\n", len(processedMetrics), fromFile)
	fmt.Fprintf(out, "Time configuration: resolution=%s, alignment=%s, step_mode=%s\n",
		timeResolution, timeAlignment, stepMode)

	// Summary in first-seen order
	var order []string
	metricCounts := make(map[string]int)
	for _, metric := range processedMetrics {
		if metricCounts[metric.Key] == 0 {
			order = append(order, metric.Key)
		}
		metricCounts[metric.Key]++
	}

	fmt.Fprintln(out, "Metrics summary:")
	for _, key := range order {
		fmt.Fprintf(out, "  %s: %d data points\n", key, metricCounts[key])
	}
	return nil
}
