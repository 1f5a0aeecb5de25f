package recorder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/imishinist/mlflow-recorder/internal/codec"
	"github.com/imishinist/mlflow-recorder/internal/models"
	"github.com/imishinist/mlflow-recorder/internal/staging"
)

var _ Recorder = (*TrackingRecorder)(nil)

// TrackingRecorder binds the Recorder contract to a Tracker. Objects saved
// by name are serialized into a private staging area first; the area lives
// from construction until EndRun or Close.
type TrackingRecorder struct {
	id           string
	name         string
	experimentID string
	status       models.RunStatus
	startTime    *time.Time
	endTime      *time.Time
	artifactURI  string

	tags        map[string]string
	description string
	ended       bool
	closed      bool

	tracker    Tracker
	staging    *staging.Area
	stagingDir string
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a SCHEDULED recorder and its staging area.
func New(name, experimentID string, tracker Tracker, opts ...Option) (*TrackingRecorder, error) {
	if tracker == nil {
		return nil, fmt.Errorf("tracker must be provided")
	}

	o := options{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// a resumed run learns its experiment from the backend
	if experimentID == "" && o.runID == "" {
		return nil, fmt.Errorf("experiment ID must be provided")
	}

	area, err := staging.New(o.stagingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging area: %w", err)
	}

	r := &TrackingRecorder{
		id:           o.runID,
		name:         name,
		experimentID: experimentID,
		status:       models.RunStatusScheduled,
		tags:         o.tags,
		description:  o.description,
		tracker:      tracker,
		staging:      area,
		stagingDir:   o.stagingDir,
		logger:       o.logger.Named("recorder"),
		now:          o.now,
	}
	r.logger.Debug("staging area created", zap.String("path", area.Root()))
	return r, nil
}

func (r *TrackingRecorder) Info() Info {
	return Info{
		ID:           r.id,
		Name:         r.name,
		ExperimentID: r.experimentID,
		Status:       r.status,
		StartTime:    copyTime(r.startTime),
		EndTime:      copyTime(r.endTime),
		ArtifactURI:  r.artifactURI,
	}
}

func (r *TrackingRecorder) String() string {
	return r.Info().String()
}

// SetName renames the run. Only allowed before StartRun.
func (r *TrackingRecorder) SetName(name string) error {
	if r.status != models.RunStatusScheduled || r.ended {
		return &PreconditionError{Op: "set_name", Reason: "run name can only change before the run starts"}
	}
	r.name = name
	return nil
}

// StagingRoot returns the staging directory.
func (r *TrackingRecorder) StagingRoot() string {
	return r.staging.Root()
}

// StartRun creates the run on the backend, or resumes the bound run id.
// Calling it again while RUNNING returns the current run.
func (r *TrackingRecorder) StartRun(ctx context.Context) (*ActiveRun, error) {
	const op = "start_run"

	switch {
	case r.closed:
		return nil, &PreconditionError{Op: op, Reason: "recorder is closed"}
	case r.ended || r.status.Terminal():
		return nil, &PreconditionError{Op: op, Reason: fmt.Sprintf("run has already ended (status %s)", r.status)}
	case r.status == models.RunStatusRunning:
		return r.activeRun(), nil
	}

	cfg := &models.RunConfig{
		ExperimentID: &r.experimentID,
		Tags:         r.tags,
	}
	if r.id != "" {
		cfg.RunID = &r.id
	}
	if r.name != "" {
		cfg.RunName = &r.name
	}
	if r.description != "" {
		cfg.Description = &r.description
	}

	info, err := r.tracker.CreateOrResumeRun(ctx, cfg)
	if err != nil {
		return nil, &BackendError{Op: op, Err: err}
	}
	if info == nil || info.RunID == "" {
		return nil, &BackendError{Op: op, Err: errors.New("backend returned no run id")}
	}

	r.id = info.RunID
	r.artifactURI = info.ArtifactURI
	if r.experimentID == "" {
		r.experimentID = info.ExperimentID
	}
	if r.name == "" {
		r.name = info.RunName
	}
	start := r.clock()
	r.startTime = &start
	r.status = models.RunStatusRunning

	r.logger.Info("recorder started",
		zap.String("run_id", r.id),
		zap.String("experiment_id", r.experimentID),
		zap.String("artifact_uri", r.artifactURI),
	)
	return r.activeRun(), nil
}

// EndRun records the end time and, unless the run is still SCHEDULED,
// moves it to status. The staging area is released on every call,
// including calls that return an error.
func (r *TrackingRecorder) EndRun(ctx context.Context, status models.RunStatus) (err error) {
	const op = "end_run"

	defer func() {
		if releaseErr := r.staging.Release(); releaseErr != nil {
			err = multierr.Append(err, releaseErr)
		}
	}()

	if !status.Valid() {
		return fmt.Errorf("%s: %w: %q", op, ErrInvalidStatus, status)
	}
	if r.ended || r.status.Terminal() {
		return &PreconditionError{Op: op, Reason: fmt.Sprintf("run has already ended (status %s)", r.status)}
	}
	if r.status == models.RunStatusRunning && !status.Terminal() {
		return &PreconditionError{Op: op, Reason: fmt.Sprintf("a running run cannot end with status %s", status)}
	}

	if r.status == models.RunStatusRunning {
		if err := r.tracker.EndRun(ctx, r.id, status); err != nil {
			return &BackendError{Op: op, Err: err}
		}
	}

	end := r.clock()
	r.endTime = &end
	if r.status != models.RunStatusScheduled {
		r.status = status
	}
	r.ended = true

	r.logger.Info("recorder ended",
		zap.String("run_id", r.id),
		zap.String("experiment_id", r.experimentID),
		zap.Stringer("status", r.status),
	)
	return nil
}

// LogParams writes every param, continuing past failures. The returned
// error aggregates each failed key.
func (r *TrackingRecorder) LogParams(ctx context.Context, params Mapping[any]) error {
	const op = "log_params"
	if err := r.requireActive(op); err != nil {
		return err
	}

	var errs error
	for _, p := range params {
		if err := r.tracker.LogParam(ctx, r.id, p.Key, stringify(p.Value)); err != nil {
			errs = multierr.Append(errs, &BackendError{Op: op, Key: p.Key, Err: err})
		}
	}
	return errs
}

// LogMetrics writes every metric at the current time, continuing past failures.
func (r *TrackingRecorder) LogMetrics(ctx context.Context, metrics Mapping[float64], step *int64) error {
	const op = "log_metrics"
	if err := r.requireActive(op); err != nil {
		return err
	}

	now := r.now()
	var errs error
	for _, m := range metrics {
		if err := r.tracker.LogMetric(ctx, r.id, m.Key, m.Value, &now, step); err != nil {
			errs = multierr.Append(errs, &BackendError{Op: op, Key: m.Key, Err: err})
		}
	}
	return errs
}

// LogMetricSeries writes metrics that carry their own timestamp and step.
func (r *TrackingRecorder) LogMetricSeries(ctx context.Context, metrics []models.Metric) error {
	const op = "log_metrics"
	if err := r.requireActive(op); err != nil {
		return err
	}

	var errs error
	for _, m := range metrics {
		timestamp, step := m.Timestamp, m.Step
		if err := r.tracker.LogMetric(ctx, r.id, m.Key, m.Value, &timestamp, &step); err != nil {
			errs = multierr.Append(errs, &BackendError{Op: op, Key: m.Key, Err: err})
		}
	}
	return errs
}

func (r *TrackingRecorder) SetTags(ctx context.Context, tags Mapping[any]) error {
	const op = "set_tags"
	if err := r.requireActive(op); err != nil {
		return err
	}

	var errs error
	for _, t := range tags {
		if err := r.tracker.SetTag(ctx, r.id, t.Key, stringify(t.Value)); err != nil {
			errs = multierr.Append(errs, &BackendError{Op: op, Key: t.Key, Err: err})
		}
	}
	return errs
}

func (r *TrackingRecorder) DeleteTags(ctx context.Context, keys ...string) error {
	const op = "delete_tags"
	if err := r.requireActive(op); err != nil {
		return err
	}

	var errs error
	for _, key := range keys {
		if err := r.tracker.DeleteTag(ctx, r.id, key); err != nil {
			errs = multierr.Append(errs, &BackendError{Op: op, Key: key, Err: err})
		}
	}
	return errs
}

// SaveObjects uploads req.LocalPath, or stages and uploads req.Objects in
// order. Named objects stop at the first failure; objects uploaded before
// it stay uploaded and are listed in the returned *SaveError.
func (r *TrackingRecorder) SaveObjects(ctx context.Context, req SaveRequest) error {
	const op = "save_objects"
	if err := r.requireActive(op); err != nil {
		return err
	}
	if req.LocalPath != "" && len(req.Objects) > 0 {
		return fmt.Errorf("%s: %w: local path %q and %d named objects given together",
			op, ErrAmbiguousInvocation, req.LocalPath, len(req.Objects))
	}

	if req.LocalPath != "" {
		return r.saveLocalPath(ctx, req.LocalPath, req.ArtifactPath)
	}

	if r.staging.Released() {
		return &PreconditionError{Op: op, Reason: "staging area has been released"}
	}

	uploaded := make([]string, 0, len(req.Objects))
	for _, obj := range req.Objects {
		staged, err := r.staging.Save(obj.Key, obj.Value)
		if err != nil {
			return &SaveError{Name: obj.Key, Uploaded: uploaded, Err: err}
		}

		if err := r.tracker.LogArtifact(ctx, r.id, staged, req.ArtifactPath); err != nil {
			return &SaveError{Name: obj.Key, Uploaded: uploaded, Err: &BackendError{Op: op, Key: obj.Key, Err: err}}
		}
		uploaded = append(uploaded, obj.Key)

		r.logger.Debug("object saved",
			zap.String("run_id", r.id),
			zap.String("name", obj.Key),
			zap.String("artifact_path", req.ArtifactPath),
		)
	}
	return nil
}

func (r *TrackingRecorder) saveLocalPath(ctx context.Context, localPath, artifactPath string) error {
	const op = "save_objects"

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if info.IsDir() {
		err = r.tracker.LogArtifacts(ctx, r.id, localPath, artifactPath)
	} else {
		err = r.tracker.LogArtifact(ctx, r.id, localPath, artifactPath)
	}
	if err != nil {
		return &BackendError{Op: op, Key: localPath, Err: err}
	}
	return nil
}

// LoadObject downloads the named artifact and decodes it, falling back to
// UTF-8 text when it is not a structured object.
func (r *TrackingRecorder) LoadObject(ctx context.Context, name string) (codec.Result, error) {
	const op = "load_object"
	if err := r.requireActive(op); err != nil {
		return codec.Result{}, err
	}
	if err := validateArtifactName(name); err != nil {
		return codec.Result{}, &PreconditionError{Op: op, Reason: err.Error()}
	}

	dir, err := os.MkdirTemp(r.stagingDir, "recorder-download-*")
	if err != nil {
		return codec.Result{}, fmt.Errorf("%s: create download directory: %w", op, err)
	}
	defer os.RemoveAll(dir)

	local, err := r.tracker.DownloadArtifact(ctx, r.id, name, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return codec.Result{}, &NotFoundError{Op: op, Name: name, Err: err}
	}
	if err != nil {
		return codec.Result{}, &BackendError{Op: op, Key: name, Err: err}
	}

	data, err := os.ReadFile(local)
	if err != nil {
		return codec.Result{}, fmt.Errorf("%s %q: %w", op, name, err)
	}

	res, err := codec.Decode(data)
	if err != nil {
		return codec.Result{}, fmt.Errorf("%s %q: %w", op, name, err)
	}

	r.logger.Debug("object loaded",
		zap.String("run_id", r.id),
		zap.String("name", name),
		zap.Stringer("kind", res.Kind),
	)
	return res, nil
}

// ListArtifacts asks the backend every time; nothing is cached.
func (r *TrackingRecorder) ListArtifacts(ctx context.Context, artifactPath string) ([]ArtifactRef, error) {
	const op = "list_artifacts"
	if err := r.requireActive(op); err != nil {
		return nil, err
	}

	infos, err := r.tracker.ListArtifacts(ctx, r.id, artifactPath)
	if err != nil {
		return nil, &BackendError{Op: op, Key: artifactPath, Err: err}
	}

	refs := make([]ArtifactRef, 0, len(infos))
	for _, info := range infos {
		refs = append(refs, ArtifactRef{
			Name:  path.Base(info.Path),
			Path:  info.Path,
			IsDir: info.IsDir,
			Size:  info.FileSize,
		})
	}
	return refs, nil
}

func (r *TrackingRecorder) ArtifactURI() (string, error) {
	if r.artifactURI == "" {
		return "", &PreconditionError{Op: "get_artifact_uri", Reason: "run has not been started"}
	}
	return r.artifactURI, nil
}

// Close releases the staging area. The run itself is left as is; EndRun
// may still be called afterwards.
func (r *TrackingRecorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.staging.Release()
}

func (r *TrackingRecorder) requireActive(op string) error {
	switch {
	case r.closed:
		return &PreconditionError{Op: op, Reason: "recorder is closed"}
	case r.ended || r.status.Terminal():
		return &PreconditionError{Op: op, Reason: fmt.Sprintf("run has already ended (status %s)", r.status)}
	case r.status != models.RunStatusRunning || r.id == "":
		return &PreconditionError{Op: op, Reason: "run has not been started"}
	}
	return nil
}

func (r *TrackingRecorder) activeRun() *ActiveRun {
	return &ActiveRun{
		RunID:        r.id,
		ExperimentID: r.experimentID,
		ArtifactURI:  r.artifactURI,
		StartTime:    *r.startTime,
	}
}

// clock returns the current time at second precision.
func (r *TrackingRecorder) clock() time.Time {
	return r.now().Truncate(time.Second)
}

// validateArtifactName accepts slash-separated paths that stay inside the
// run's artifact root.
func validateArtifactName(name string) error {
	if name == "" {
		return errors.New("artifact name must not be empty")
	}
	if path.IsAbs(name) || filepath.IsAbs(name) || strings.Contains(name, `\`) {
		return fmt.Errorf("artifact name %q must be relative to the artifact root", name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("artifact name %q escapes the artifact root", name)
	}
	return nil
}

func stringify(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
