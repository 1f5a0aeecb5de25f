package mlflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/databricks/databricks-sdk-go/httpclient"
)

// ErrInvalidArtifactPath is returned for artifact paths that are absolute or
// leave the run's artifact root.
var ErrInvalidArtifactPath = errors.New("invalid artifact path")

// cleanArtifactPath normalizes a slash-separated path relative to the
// artifact root. The root itself is "".
func cleanArtifactPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if path.IsAbs(p) || filepath.IsAbs(p) || strings.Contains(p, `\`) {
		return "", fmt.Errorf("%w: %q is not relative to the artifact root", ErrInvalidArtifactPath, p)
	}

	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the artifact root", ErrInvalidArtifactPath, p)
	}
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// ArtifactCredentialsRequest is the body of credentials-for-write and credentials-for-read.
type ArtifactCredentialsRequest struct {
	RunID string   `json:"run_id"`
	Path  []string `json:"path"`
}

type ArtifactCredentialsResponse struct {
	CredentialInfos []ArtifactCredentialInfo `json:"credential_infos"`
}

type ArtifactCredentialInfo struct {
	RunID     string       `json:"run_id"`
	Path      string       `json:"path"`
	SignedURI string       `json:"signed_uri"`
	Headers   []HTTPHeader `json:"headers"`
	Type      string       `json:"type"`
}

type HTTPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type storageKind int

const (
	storageUnsupported storageKind = iota
	storageMLflowArtifacts
	storageDBFS
	storageLocal
)

func classifyArtifactURI(artifactURI string) storageKind {
	switch {
	case strings.HasPrefix(artifactURI, "mlflow-artifacts:"):
		return storageMLflowArtifacts
	case strings.HasPrefix(artifactURI, "dbfs:/"):
		return storageDBFS
	case strings.HasPrefix(artifactURI, "file://"), strings.HasPrefix(artifactURI, "/"):
		return storageLocal
	default:
		return storageUnsupported
	}
}

// uploadToStorage uploads file to the appropriate storage based on URI scheme
func (c *Client) uploadToStorage(ctx context.Context, artifactURI, filePath, artifactPath string) error {
	switch classifyArtifactURI(artifactURI) {
	case storageMLflowArtifacts:
		return c.uploadToMLflowArtifacts(ctx, artifactURI, filePath, artifactPath)
	case storageDBFS:
		return c.uploadToDBFS(ctx, artifactURI, filePath, artifactPath)
	case storageLocal:
		return copyLocalArtifact(filePath, localArtifactPath(artifactURI, artifactPath))
	default:
		return fmt.Errorf("unsupported artifact URI scheme: %s", artifactURI)
	}
}

func (c *Client) downloadFromStorage(ctx context.Context, artifactURI, artifactPath, localPath string) error {
	switch classifyArtifactURI(artifactURI) {
	case storageMLflowArtifacts:
		u, err := c.artifactsProxyURL(artifactURI, artifactPath)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		c.addAuthHeaders(req)
		return c.fetchToFile(req, localPath)
	case storageDBFS:
		return c.downloadFromDBFS(ctx, artifactURI, artifactPath, localPath)
	case storageLocal:
		return copyLocalArtifact(localArtifactPath(artifactURI, artifactPath), localPath)
	default:
		return fmt.Errorf("unsupported artifact URI scheme: %s", artifactURI)
	}
}

// artifactsProxyURL maps mlflow-artifacts:/<root>/<artifactPath> onto the
// tracking server's artifact proxy endpoint.
func (c *Client) artifactsProxyURL(artifactURI, artifactPath string) (string, error) {
	u, err := url.Parse(artifactURI)
	if err != nil {
		return "", fmt.Errorf("invalid mlflow-artifacts URI %s: %w", artifactURI, err)
	}
	root := strings.Trim(u.Path, "/")
	if root == "" {
		return "", fmt.Errorf("invalid mlflow-artifacts URI format: %s", artifactURI)
	}

	base := c.trackingBase()
	if u.Host != "" {
		base = "http://" + u.Host
	}
	return fmt.Sprintf("%s/api/2.0/mlflow-artifacts/artifacts/%s", base, path.Join(root, artifactPath)), nil
}

// uploadToMLflowArtifacts uploads using MLflow Artifacts Service
func (c *Client) uploadToMLflowArtifacts(ctx context.Context, artifactURI, filePath, artifactPath string) error {
	u, err := c.artifactsProxyURL(artifactURI, artifactPath)
	if err != nil {
		return err
	}

	file, fileInfo, err := openFileWithInfo(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, file)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = fileInfo.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	c.addAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload to MLflow Artifacts Service: %w", err)
	}
	defer resp.Body.Close()

	return checkResponse(resp, "MLflow Artifacts Service upload")
}

// uploadToDBFS uploads file to DBFS using Databricks Artifacts API
func (c *Client) uploadToDBFS(ctx context.Context, artifactURI, filePath, artifactPath string) error {
	credential, err := c.dbfsCredential(ctx, "credentials-for-write", artifactURI, artifactPath)
	if err != nil {
		return err
	}

	file, fileInfo, err := openFileWithInfo(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	req, err := newSignedURIRequest(ctx, http.MethodPut, credential, file, fileInfo.Size())
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload to signed URI: %w", err)
	}
	defer resp.Body.Close()

	return checkResponse(resp, credential.Type+" signed URI upload")
}

func (c *Client) downloadFromDBFS(ctx context.Context, artifactURI, artifactPath, localPath string) error {
	credential, err := c.dbfsCredential(ctx, "credentials-for-read", artifactURI, artifactPath)
	if err != nil {
		return err
	}

	req, err := newSignedURIRequest(ctx, http.MethodGet, credential, nil, 0)
	if err != nil {
		return err
	}
	return c.fetchToFile(req, localPath)
}

func (c *Client) dbfsCredential(ctx context.Context, endpoint, artifactURI, artifactPath string) (ArtifactCredentialInfo, error) {
	runID, err := extractRunIDFromDBFSURI(artifactURI)
	if err != nil {
		return ArtifactCredentialInfo{}, fmt.Errorf("failed to extract run ID from DBFS URI: %w", err)
	}

	if !c.config.IsDatabricks() || c.apiClient == nil {
		return ArtifactCredentialInfo{}, fmt.Errorf("non-Databricks MLflow servers not supported for DBFS artifacts")
	}

	var response ArtifactCredentialsResponse
	err = c.apiClient.Do(ctx, http.MethodPost, "/api/2.0/mlflow/artifacts/"+endpoint,
		httpclient.WithRequestData(ArtifactCredentialsRequest{
			RunID: runID,
			Path:  []string{artifactPath},
		}),
		httpclient.WithResponseUnmarshal(&response),
	)
	if isNotFound(err) {
		return ArtifactCredentialInfo{}, fmt.Errorf("%s request failed: %w: %w", endpoint, fs.ErrNotExist, err)
	}
	if err != nil {
		return ArtifactCredentialInfo{}, fmt.Errorf("%s request failed: %w", endpoint, err)
	}

	if len(response.CredentialInfos) == 0 {
		return ArtifactCredentialInfo{}, fmt.Errorf("no credentials returned for path: %s", artifactPath)
	}
	return response.CredentialInfos[0], nil
}

// extractRunIDFromDBFSURI extracts run ID from DBFS artifact URI
func extractRunIDFromDBFSURI(artifactURI string) (string, error) {
	// dbfs:/databricks/mlflow-tracking/{experiment_id}/{run_id}/artifacts
	const prefix = "dbfs:/databricks/mlflow-tracking/"
	if !strings.HasPrefix(artifactURI, prefix) {
		return "", fmt.Errorf("invalid DBFS artifact URI format: %s", artifactURI)
	}

	parts := strings.Split(strings.TrimPrefix(artifactURI, prefix), "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("run ID not found in DBFS URI: %s", artifactURI)
	}

	return parts[1], nil
}

// newSignedURIRequest builds a request against a cloud signed URI with the
// headers each storage provider expects.
func newSignedURIRequest(ctx context.Context, method string, credential ArtifactCredentialInfo, body io.Reader, contentLength int64) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, credential.SignedURI, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if method == http.MethodPut {
		// S3 rejects chunked uploads
		req.ContentLength = contentLength
		req.Header.Set("Content-Type", "application/octet-stream")
		if credential.Type == "AZURE_SAS_URI" {
			req.Header.Set("x-ms-blob-type", "BlockBlob")
		}
	}

	for _, header := range credential.Headers {
		req.Header.Set(header.Name, header.Value)
	}

	return req, nil
}

func (c *Client) fetchToFile(req *http.Request, localPath string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download artifact: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, "artifact download"); err != nil {
		return err
	}

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return out.Close()
}

// addAuthHeaders adds appropriate authentication headers to the request
func (c *Client) addAuthHeaders(req *http.Request) {
	if !c.config.IsDatabricks() {
		return
	}
	if c.client != nil && c.client.Config != nil && c.client.Config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.client.Config.Token)
	} else if c.config.DatabricksToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.DatabricksToken)
	}
}

func checkResponse(resp *http.Response, what string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s failed with status %d: %s: %w", what, resp.StatusCode, string(bodyBytes), fs.ErrNotExist)
	}
	return fmt.Errorf("%s failed with status %d: %s", what, resp.StatusCode, string(bodyBytes))
}

func localArtifactPath(artifactURI, artifactPath string) string {
	root := strings.TrimPrefix(artifactURI, "file://")
	return filepath.Join(root, filepath.FromSlash(artifactPath))
}

func copyLocalArtifact(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(dst), err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer out.Close()

	if _, err := out.ReadFrom(in); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	return out.Close()
}

// openFileWithInfo opens a file and returns the file handle and file info
func openFileWithInfo(filePath string) (*os.File, os.FileInfo, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to get file info: %w", err)
	}

	return file, fileInfo, nil
}
