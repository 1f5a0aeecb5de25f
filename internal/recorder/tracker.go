package recorder

import (
	"context"
	"time"

	"github.com/imishinist/mlflow-recorder/internal/models"
)

// Tracker is the tracking service a TrackingRecorder writes to.
type Tracker interface {
	// CreateOrResumeRun creates a run, or resumes cfg.RunID when set. The
	// returned info carries the run id and artifact URI.
	CreateOrResumeRun(ctx context.Context, cfg *models.RunConfig) (*models.RunInfo, error)
	EndRun(ctx context.Context, runID string, status models.RunStatus) error

	LogParam(ctx context.Context, runID, key, value string) error
	LogMetric(ctx context.Context, runID, key string, value float64, timestamp *time.Time, step *int64) error
	SetTag(ctx context.Context, runID, key, value string) error
	// DeleteTag must not fail when the tag does not exist.
	DeleteTag(ctx context.Context, runID, key string) error

	// LogArtifact uploads one file to artifactPath/<file name>.
	LogArtifact(ctx context.Context, runID, localPath, artifactPath string) error
	// LogArtifacts uploads the contents of localDir recursively under artifactPath.
	LogArtifacts(ctx context.Context, runID, localDir, artifactPath string) error
	// DownloadArtifact copies artifactPath into dstDir and returns the local
	// file path. A missing artifact must yield an error matching fs.ErrNotExist.
	DownloadArtifact(ctx context.Context, runID, artifactPath, dstDir string) (string, error)
	// ListArtifacts returns the direct children of artifactPath ("" for the root).
	ListArtifacts(ctx context.Context, runID, artifactPath string) ([]models.ArtifactInfo, error)
}
