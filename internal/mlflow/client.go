package mlflow

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/httpclient"
	"go.uber.org/zap"

	"github.com/imishinist/mlflow-recorder/internal/config"
	"github.com/imishinist/mlflow-recorder/internal/recorder"
)

var _ recorder.Tracker = (*Client)(nil)

type Client struct {
	client     *databricks.WorkspaceClient
	apiClient  *httpclient.ApiClient
	config     *config.Config
	httpClient *http.Client
	logger     *zap.Logger

	mu           sync.Mutex
	artifactURIs map[string]string
}

type ClientOption func(*Client)

// WithLogger sets the logger used for request-level debug output.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets the client used for artifact transfers.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient validates cfg and builds the SDK client. No request is sent
// until the first call.
func NewClient(cfg *config.Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var databricksConfig *databricks.Config

	if cfg.IsDatabricks() {
		databricksConfig = &databricks.Config{}

		if cfg.TrackingURI == "databricks" {
			if cfg.DatabricksHost != "" {
				databricksConfig.Host = cfg.DatabricksHost
			}
		} else if profile := cfg.GetDatabricksProfile(); profile != "" {
			databricksConfig.Profile = profile
		} else {
			databricksConfig.Host = cfg.TrackingURI
		}

		// explicit token overrides the profile
		if cfg.DatabricksToken != "" {
			databricksConfig.Token = cfg.DatabricksToken
		}

		if databricksConfig.Host == "" && databricksConfig.Profile == "" {
			return nil, fmt.Errorf("Databricks host or profile is required when using Databricks MLflow. Set DATABRICKS_HOST environment variable, use a full Databricks URL as tracking URI, or specify a profile with databricks://{profile}")
		}
	} else {
		databricksConfig = &databricks.Config{
			Host: cfg.TrackingURI,
			// regular MLflow servers do not authenticate; the SDK still wants a token
			Token: "dummy-token-for-regular-mlflow",
		}
	}

	workspace, err := databricks.NewWorkspaceClient(databricksConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create MLflow client: %w", err)
	}

	c := &Client{
		client:       workspace,
		config:       cfg,
		httpClient:   &http.Client{},
		logger:       zap.NewNop(),
		artifactURIs: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("mlflow")

	if cfg.IsDatabricks() {
		apiClient, err := workspace.Config.NewApiClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Databricks API client: %w", err)
		}
		c.apiClient = apiClient
	}

	return c, nil
}

func (c *Client) rememberArtifactURI(runID, uri string) {
	if uri == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifactURIs[runID] = uri
}

func (c *Client) cachedArtifactURI(runID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uri, ok := c.artifactURIs[runID]
	return uri, ok
}
