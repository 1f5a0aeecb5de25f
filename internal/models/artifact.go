package models

// ArtifactInfo is a single entry returned by the tracking service artifact listing.
type ArtifactInfo struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"is_dir"`
	FileSize int64  `json:"file_size,omitempty"`
}
