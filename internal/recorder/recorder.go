// Package recorder tracks the lifecycle of a single experiment run against
// a tracking backend: starting and ending the run, logging params, metrics
// and tags, and staging objects as artifacts.
package recorder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/imishinist/mlflow-recorder/internal/codec"
	"github.com/imishinist/mlflow-recorder/internal/models"
)

// Recorder is the contract every tracking backend binding satisfies.
//
// Status moves SCHEDULED -> RUNNING -> FINISHED|FAILED and never backwards.
// Implementations are not safe for concurrent use of one instance.
type Recorder interface {
	Info() Info
	SetName(name string) error

	StartRun(ctx context.Context) (*ActiveRun, error)
	EndRun(ctx context.Context, status models.RunStatus) error

	LogParams(ctx context.Context, params Mapping[any]) error
	LogMetrics(ctx context.Context, metrics Mapping[float64], step *int64) error
	SetTags(ctx context.Context, tags Mapping[any]) error
	DeleteTags(ctx context.Context, keys ...string) error

	SaveObjects(ctx context.Context, req SaveRequest) error
	LoadObject(ctx context.Context, name string) (codec.Result, error)
	ListArtifacts(ctx context.Context, artifactPath string) ([]ArtifactRef, error)
	ArtifactURI() (string, error)

	// Close releases local resources without ending the run.
	Close() error
}

// Pair is one named value of a Mapping.
type Pair[V any] struct {
	Key   string
	Value V
}

// Mapping is an ordered batch of named values. Keys are written in order.
type Mapping[V any] []Pair[V]

// P builds a Pair.
func P[V any](key string, value V) Pair[V] {
	return Pair[V]{Key: key, Value: value}
}

// FromMap converts m to a Mapping sorted by key.
func FromMap[V any](m map[string]V) Mapping[V] {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Mapping[V], 0, len(keys))
	for _, k := range keys {
		out = append(out, Pair[V]{Key: k, Value: m[k]})
	}
	return out
}

// Keys returns the keys in order.
func (m Mapping[V]) Keys() []string {
	keys := make([]string, len(m))
	for i, p := range m {
		keys[i] = p.Key
	}
	return keys
}

// SaveRequest selects one of two modes: upload LocalPath (file or
// directory) as-is, or serialize each of Objects into the staging area and
// upload the staged files. Setting both is an error.
type SaveRequest struct {
	LocalPath    string
	ArtifactPath string
	Objects      Mapping[any]
}

// ActiveRun describes a started run.
type ActiveRun struct {
	RunID        string
	ExperimentID string
	ArtifactURI  string
	StartTime    time.Time
}

// ArtifactRef is one entry of an artifact listing.
type ArtifactRef struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

// Info is a snapshot of a recorder's identity and lifecycle.
type Info struct {
	ID           string
	Name         string
	ExperimentID string
	Status       models.RunStatus
	StartTime    *time.Time
	EndTime      *time.Time
	ArtifactURI  string
}

func (i Info) String() string {
	return fmt.Sprintf("Recorder{id=%q name=%q experiment_id=%q status=%s start_time=%s end_time=%s}",
		i.ID, i.Name, i.ExperimentID, i.Status, formatTime(i.StartTime), formatTime(i.EndTime))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "<nil>"
	}
	return t.Format(time.DateTime)
}
