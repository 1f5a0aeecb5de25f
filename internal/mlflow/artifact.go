package mlflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/databricks/databricks-sdk-go/service/ml"
	"go.uber.org/zap"

	"github.com/imishinist/mlflow-recorder/internal/models"
)

// LogArtifact uploads a single file to <artifactPath>/<base name>.
func (c *Client) LogArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	artifactURI, err := c.getArtifactURI(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get artifact URI: %w", err)
	}

	dest, err := cleanArtifactPath(joinArtifactPath(artifactPath, filepath.Base(localPath)))
	if err != nil {
		return err
	}
	if err := c.uploadToStorage(ctx, artifactURI, localPath, dest); err != nil {
		return err
	}

	c.logger.Debug("artifact uploaded",
		zap.String("run_id", runID),
		zap.String("path", dest),
	)
	return nil
}

// LogArtifacts uploads every regular file under localDir, keeping the
// directory structure below artifactPath.
func (c *Client) LogArtifacts(ctx context.Context, runID, localDir, artifactPath string) error {
	if _, err := cleanArtifactPath(artifactPath); err != nil {
		return err
	}

	artifactURI, err := c.getArtifactURI(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get artifact URI: %w", err)
	}

	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		dest := joinArtifactPath(artifactPath, filepath.ToSlash(rel))
		if err := c.uploadToStorage(ctx, artifactURI, p, dest); err != nil {
			return fmt.Errorf("failed to upload %s: %w", p, err)
		}
		return nil
	})
}

// DownloadArtifact fetches a single artifact into dstDir and returns the
// local path. A missing artifact yields an error matching fs.ErrNotExist.
func (c *Client) DownloadArtifact(ctx context.Context, runID, artifactPath, dstDir string) (string, error) {
	artifactPath, err := cleanArtifactPath(artifactPath)
	if err != nil {
		return "", err
	}
	if artifactPath == "" {
		return "", fmt.Errorf("%w: artifact path is required", ErrInvalidArtifactPath)
	}

	artifactURI, err := c.getArtifactURI(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("failed to get artifact URI: %w", err)
	}

	localPath := filepath.Join(dstDir, filepath.FromSlash(artifactPath))
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	if err := c.downloadFromStorage(ctx, artifactURI, artifactPath, localPath); err != nil {
		return "", err
	}
	return localPath, nil
}

// ListArtifacts lists the direct children of artifactPath. Databricks goes
// through the SDK; other tracking servers are paged over the REST API.
func (c *Client) ListArtifacts(ctx context.Context, runID, artifactPath string) ([]models.ArtifactInfo, error) {
	if !c.config.IsDatabricks() {
		return c.listArtifactsFromHTTP(ctx, runID, artifactPath)
	}

	files, err := c.client.Experiments.ListArtifactsAll(ctx, ml.ListArtifactsRequest{
		RunId: runID,
		Path:  artifactPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	infos := make([]models.ArtifactInfo, 0, len(files))
	for _, f := range files {
		infos = append(infos, models.ArtifactInfo{
			Path:     f.Path,
			IsDir:    f.IsDir,
			FileSize: f.FileSize,
		})
	}
	return infos, nil
}

type listArtifactsResponse struct {
	Files []struct {
		Path     string `json:"path"`
		IsDir    bool   `json:"is_dir"`
		FileSize int64  `json:"file_size"`
	} `json:"files"`
	NextPageToken string `json:"next_page_token"`
}

func (c *Client) listArtifactsFromHTTP(ctx context.Context, runID, artifactPath string) ([]models.ArtifactInfo, error) {
	infos := make([]models.ArtifactInfo, 0)
	pageToken := ""
	for {
		query := url.Values{}
		query.Set("run_id", runID)
		if artifactPath != "" {
			query.Set("path", artifactPath)
		}
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}
		u := fmt.Sprintf("%s/api/2.0/mlflow/artifacts/list?%s", c.trackingBase(), query.Encode())

		var page listArtifactsResponse
		if err := c.getJSON(ctx, u, &page); err != nil {
			return nil, fmt.Errorf("failed to list artifacts: %w", err)
		}
		for _, f := range page.Files {
			infos = append(infos, models.ArtifactInfo{Path: f.Path, IsDir: f.IsDir, FileSize: f.FileSize})
		}

		if page.NextPageToken == "" {
			return infos, nil
		}
		pageToken = page.NextPageToken
	}
}

// getArtifactURI retrieves the artifact URI for a given run
func (c *Client) getArtifactURI(ctx context.Context, runID string) (string, error) {
	if uri, ok := c.cachedArtifactURI(runID); ok {
		return uri, nil
	}

	if c.config.IsDatabricks() {
		info, err := c.GetRun(ctx, runID)
		if err != nil {
			return "", err
		}
		if info.ArtifactURI == "" {
			return "", fmt.Errorf("artifact URI not found for run %s", runID)
		}
		return info.ArtifactURI, nil
	}

	return c.getArtifactURIFromHTTP(ctx, runID)
}

// getArtifactURIFromHTTP retrieves artifact URI using HTTP API for regular MLflow server
func (c *Client) getArtifactURIFromHTTP(ctx context.Context, runID string) (string, error) {
	u := fmt.Sprintf("%s/api/2.0/mlflow/runs/get?run_id=%s", c.trackingBase(), url.QueryEscape(runID))

	var runResponse struct {
		Run struct {
			Info struct {
				ArtifactURI string `json:"artifact_uri"`
			} `json:"info"`
		} `json:"run"`
	}
	if err := c.getJSON(ctx, u, &runResponse); err != nil {
		return "", fmt.Errorf("failed to get run: %w", err)
	}

	if runResponse.Run.Info.ArtifactURI == "" {
		return "", fmt.Errorf("artifact URI not found for run %s", runID)
	}

	c.rememberArtifactURI(runID, runResponse.Run.Info.ArtifactURI)
	return runResponse.Run.Info.ArtifactURI, nil
}

func (c *Client) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, "request"); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) trackingBase() string {
	return strings.TrimSuffix(c.config.TrackingURI, "/")
}

func joinArtifactPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}
