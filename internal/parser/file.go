package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/imishinist/mlflow-recorder/internal/models"
)

// ParamsFromFile picks the decoder from the file extension.
func ParamsFromFile(path string) (map[string]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return ParseJSONParams(file)
	case ".yaml", ".yml":
		return ParseYAMLParams(file)
	default:
		return nil, fmt.Errorf("unsupported file format: %s (supported: .json, .yaml, .yml)", ext)
	}
}

// MetricsFromFile picks the decoder from the file extension.
func MetricsFromFile(path string) (*models.MetricsFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return ParseJSONMetrics(file)
	case ".yaml", ".yml":
		return ParseYAMLMetrics(file)
	default:
		return nil, fmt.Errorf("unsupported file format: %s (supported: .json, .yaml, .yml)", ext)
	}
}
