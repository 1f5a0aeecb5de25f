package recorder

import (
	"time"

	"go.uber.org/zap"
)

type options struct {
	logger      *zap.Logger
	stagingDir  string
	runID       string
	tags        map[string]string
	description string
	now         func() time.Time
}

// Option configures a TrackingRecorder.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStagingDir sets the parent directory of the staging area and of
// temporary download directories.
func WithStagingDir(dir string) Option {
	return func(o *options) {
		o.stagingDir = dir
	}
}

// WithRunID binds an existing run so StartRun resumes it.
func WithRunID(runID string) Option {
	return func(o *options) {
		o.runID = runID
	}
}

// WithTags sets tags attached when the run is created.
func WithTags(tags map[string]string) Option {
	return func(o *options) {
		o.tags = tags
	}
}

// WithDescription sets the run description attached when the run is created.
func WithDescription(description string) Option {
	return func(o *options) {
		o.description = description
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
