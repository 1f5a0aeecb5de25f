package cmd

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/imishinist/mlflow-recorder/internal/config"
	"github.com/imishinist/mlflow-recorder/internal/logger"
	"github.com/imishinist/mlflow-recorder/internal/mlflow"
	"github.com/imishinist/mlflow-recorder/internal/recorder"
)

// newTracker builds the tracking backend for a command.
var newTracker = func(cfg *config.Config, l *zap.Logger) (recorder.Tracker, error) {
	client, err := mlflow.NewClient(cfg, mlflow.WithLogger(l))
	if err != nil {
		return nil, fmt.Errorf("failed to create MLflow client: %w", err)
	}
	return client, nil
}

func newRecorder(name, experimentID string, opts ...recorder.Option) (*recorder.TrackingRecorder, error) {
	tracker, err := newTracker(appConfig, appLogger)
	if err != nil {
		return nil, err
	}

	opts = append([]recorder.Option{
		recorder.WithLogger(appLogger),
		recorder.WithStagingDir(appConfig.StagingDir),
	}, opts...)
	return recorder.New(name, experimentID, tracker, opts...)
}

// withRun resumes runID, hands the recorder to fn and releases its staging
// area afterwards. The run itself stays open.
func withRun(ctx context.Context, runID string, fn func(rec *recorder.TrackingRecorder) error) (err error) {
	rec, err := newRecorder("", "", recorder.WithRunID(runID))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, rec.Close())
	}()

	if _, err := rec.StartRun(ctx); err != nil {
		return fmt.Errorf("failed to resume run %s: %w", runID, err)
	}
	logger.WithComponent(appLogger, "cli").Debug("run resumed", zap.Stringer("recorder", rec))

	return fn(rec)
}

// parseKeyValues parses key=value pairs, keeping their order.
func parseKeyValues(kind string, values []string) (recorder.Mapping[any], error) {
	pairs := make(recorder.Mapping[any], 0, len(values))
	for _, kv := range values {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid %s format: %s (expected key=value)", kind, kv)
		}
		pairs = append(pairs, recorder.P[any](parts[0], parts[1]))
	}
	return pairs, nil
}
