package mlflow

import (
	"context"
	"fmt"
	"time"

	"github.com/databricks/databricks-sdk-go/service/ml"
	"go.uber.org/zap"

	"github.com/imishinist/mlflow-recorder/internal/models"
)

// CreateOrResumeRun resumes config.RunID when set and creates a new run otherwise.
func (c *Client) CreateOrResumeRun(ctx context.Context, config *models.RunConfig) (*models.RunInfo, error) {
	if config.RunID != nil && *config.RunID != "" {
		return c.ResumeRun(ctx, *config.RunID)
	}
	return c.CreateRun(ctx, config)
}

func (c *Client) CreateRun(ctx context.Context, config *models.RunConfig) (*models.RunInfo, error) {
	if config.ExperimentID == nil || *config.ExperimentID == "" {
		return nil, fmt.Errorf("experiment ID must be provided")
	}
	experimentID := *config.ExperimentID

	runName := "run-" + time.Now().Format("2006-01-02-15-04-05")
	if config.RunName != nil && *config.RunName != "" {
		runName = *config.RunName
	}

	tags := make([]ml.RunTag, 0, len(config.Tags)+2)
	for key, value := range config.Tags {
		tags = append(tags, ml.RunTag{
			Key:   key,
			Value: value,
		})
	}

	tags = append(tags, ml.RunTag{
		Key:   "mlflow.runName",
		Value: runName,
	})

	if config.Description != nil {
		tags = append(tags, ml.RunTag{
			Key:   "mlflow.note.content",
			Value: *config.Description,
		})
	}

	startTime := time.Now()
	resp, err := c.client.Experiments.CreateRun(ctx, ml.CreateRun{
		ExperimentId: experimentID,
		RunName:      runName,
		StartTime:    startTime.UnixMilli(),
		Tags:         tags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if resp.Run == nil || resp.Run.Info == nil {
		return nil, fmt.Errorf("failed to create run: empty response")
	}

	info := &models.RunInfo{
		RunID:        resp.Run.Info.RunId,
		ExperimentID: experimentID,
		RunName:      runName,
		Status:       string(models.RunStatusRunning),
		ArtifactURI:  resp.Run.Info.ArtifactUri,
		StartTime:    startTime,
		Tags:         config.Tags,
	}
	if config.Description != nil {
		info.Description = *config.Description
	}
	c.rememberArtifactURI(info.RunID, info.ArtifactURI)

	c.logger.Debug("run created",
		zap.String("run_id", info.RunID),
		zap.String("experiment_id", experimentID),
	)
	return info, nil
}

// ResumeRun marks an existing run RUNNING again and returns its info.
func (c *Client) ResumeRun(ctx context.Context, runID string) (*models.RunInfo, error) {
	info, err := c.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if err := c.UpdateRun(ctx, runID, models.RunStatusRunning); err != nil {
		return nil, err
	}
	info.Status = string(models.RunStatusRunning)
	info.EndTime = nil

	c.logger.Debug("run resumed", zap.String("run_id", runID))
	return info, nil
}

// EndRun moves the run to status and stamps its end time.
func (c *Client) EndRun(ctx context.Context, runID string, status models.RunStatus) error {
	return c.UpdateRun(ctx, runID, status)
}

func (c *Client) UpdateRun(ctx context.Context, runID string, status models.RunStatus) error {
	var mlStatus ml.UpdateRunStatus
	switch status {
	case models.RunStatusScheduled:
		mlStatus = ml.UpdateRunStatusScheduled
	case models.RunStatusRunning:
		mlStatus = ml.UpdateRunStatusRunning
	case models.RunStatusFinished:
		mlStatus = ml.UpdateRunStatusFinished
	case models.RunStatusFailed:
		mlStatus = ml.UpdateRunStatusFailed
	default:
		return fmt.Errorf("unsupported run status: %s", status)
	}

	updateRun := ml.UpdateRun{
		RunId:  runID,
		Status: mlStatus,
	}

	if status.Terminal() {
		updateRun.EndTime = time.Now().UnixMilli()
	}

	_, err := c.client.Experiments.UpdateRun(ctx, updateRun)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (*models.RunInfo, error) {
	resp, err := c.client.Experiments.GetRun(ctx, ml.GetRunRequest{
		RunId: runID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if resp.Run == nil || resp.Run.Info == nil {
		return nil, fmt.Errorf("failed to get run %s: empty response", runID)
	}

	run := resp.Run
	tags := make(map[string]string)
	if run.Data != nil {
		for _, tag := range run.Data.Tags {
			tags[tag.Key] = tag.Value
		}
	}

	runInfo := &models.RunInfo{
		RunID:        run.Info.RunId,
		ExperimentID: run.Info.ExperimentId,
		Status:       string(run.Info.Status),
		ArtifactURI:  run.Info.ArtifactUri,
		StartTime:    time.UnixMilli(run.Info.StartTime),
		Tags:         tags,
	}

	if run.Info.EndTime != 0 {
		endTime := time.UnixMilli(run.Info.EndTime)
		runInfo.EndTime = &endTime
	}

	if runName, exists := tags["mlflow.runName"]; exists {
		runInfo.RunName = runName
	}

	if description, exists := tags["mlflow.note.content"]; exists {
		runInfo.Description = description
	}

	c.rememberArtifactURI(runInfo.RunID, runInfo.ArtifactURI)
	return runInfo, nil
}
