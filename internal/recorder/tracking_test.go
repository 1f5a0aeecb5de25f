package recorder

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imishinist/mlflow-recorder/internal/codec"
	"github.com/imishinist/mlflow-recorder/internal/models"
	"github.com/imishinist/mlflow-recorder/internal/recorder/recordertest"
)

var errUnavailable = errors.New("connection refused")

func newTestRecorder(t *testing.T, opts ...Option) (*TrackingRecorder, *recordertest.Tracker) {
	t.Helper()

	tracker := recordertest.NewTracker(t.TempDir())
	opts = append([]Option{WithStagingDir(t.TempDir())}, opts...)
	r, err := New("r1", "e1", tracker, opts...)
	require.NoError(t, err)
	return r, tracker
}

func startTestRecorder(t *testing.T, opts ...Option) (*TrackingRecorder, *recordertest.Tracker) {
	t.Helper()

	r, tracker := newTestRecorder(t, opts...)
	_, err := r.StartRun(context.Background())
	require.NoError(t, err)
	return r, tracker
}

func int64Ptr(v int64) *int64 {
	return &v
}

func TestRecorderScenario(t *testing.T) {
	ctx := context.Background()
	r, tracker := newTestRecorder(t)
	stagingRoot := r.StagingRoot()

	run, err := r.StartRun(ctx)
	require.NoError(t, err)

	info := r.Info()
	assert.Equal(t, models.RunStatusRunning, info.Status)
	assert.NotEmpty(t, info.ID)
	assert.NotEmpty(t, run.ArtifactURI)
	assert.Equal(t, info.ID, run.RunID)

	require.NoError(t, r.LogParams(ctx, Mapping[any]{P[any]("lr", 0.01)}))
	require.NoError(t, r.LogMetrics(ctx, Mapping[float64]{P("acc", 0.9)}, int64Ptr(1)))
	require.NoError(t, r.SaveObjects(ctx, SaveRequest{Objects: Mapping[any]{
		P[any]("model", map[string]any{"w": []int{1, 2, 3}}),
	}}))

	res, err := r.LoadObject(ctx, "model")
	require.NoError(t, err)
	assert.Equal(t, codec.KindBinary, res.Kind)
	assert.Equal(t, map[string]any{"w": []any{1.0, 2.0, 3.0}}, res.Value)

	require.NoError(t, r.EndRun(ctx, models.RunStatusFinished))

	info = r.Info()
	assert.Equal(t, models.RunStatusFinished, info.Status)
	assert.NotNil(t, info.EndTime)
	_, err = os.Stat(stagingRoot)
	assert.True(t, os.IsNotExist(err), "staging area should be removed")

	stored, ok := tracker.Run(info.ID)
	require.True(t, ok)
	assert.Equal(t, "0.01", stored.Params["lr"])
	require.Len(t, stored.Metrics, 1)
	assert.Equal(t, int64(1), stored.Metrics[0].Step)
	assert.Equal(t, string(models.RunStatusFinished), stored.Info.Status)
	assert.Equal(t, "r1", stored.Info.RunName)
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New("r1", "e1", nil)
	assert.ErrorContains(t, err, "tracker must be provided")

	_, err = New("r1", "", recordertest.NewTracker(t.TempDir()))
	assert.ErrorContains(t, err, "experiment ID must be provided")
}

func TestNewRecorderIsScheduled(t *testing.T) {
	r, tracker := newTestRecorder(t)

	info := r.Info()
	assert.Equal(t, models.RunStatusScheduled, info.Status)
	assert.Empty(t, info.ID)
	assert.Nil(t, info.StartTime)
	assert.Nil(t, info.EndTime)
	assert.Equal(t, "r1", info.Name)
	assert.Equal(t, "e1", info.ExperimentID)
	assert.Empty(t, tracker.Calls())

	_, err := os.Stat(r.StagingRoot())
	assert.NoError(t, err, "staging area is created at construction")
}

func TestOperationsBeforeStartFail(t *testing.T) {
	ctx := context.Background()
	r, tracker := newTestRecorder(t)

	tests := []struct {
		op   string
		call func() error
	}{
		{op: "log_params", call: func() error { return r.LogParams(ctx, Mapping[any]{P[any]("a", 1)}) }},
		{op: "log_metrics", call: func() error { return r.LogMetrics(ctx, Mapping[float64]{P("a", 1.0)}, nil) }},
		{op: "set_tags", call: func() error { return r.SetTags(ctx, Mapping[any]{P[any]("a", "b")}) }},
		{op: "delete_tags", call: func() error { return r.DeleteTags(ctx, "a") }},
		{op: "save_objects", call: func() error {
			return r.SaveObjects(ctx, SaveRequest{Objects: Mapping[any]{P[any]("a", 1)}})
		}},
		{op: "load_object", call: func() error { _, err := r.LoadObject(ctx, "a"); return err }},
		{op: "list_artifacts", call: func() error { _, err := r.ListArtifacts(ctx, ""); return err }},
		{op: "get_artifact_uri", call: func() error { _, err := r.ArtifactURI(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			err := tt.call()
			require.ErrorIs(t, err, ErrPrecondition)

			var pe *PreconditionError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.op, pe.Op)
			assert.Contains(t, err.Error(), tt.op)
		})
	}
	assert.Empty(t, tracker.Calls())
}

func TestStartRunIsIdempotentWhileRunning(t *testing.T) {
	ctx := context.Background()
	r, tracker := newTestRecorder(t)

	first, err := r.StartRun(ctx)
	require.NoError(t, err)
	second, err := r.StartRun(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, tracker.CallCount("create_run"))
}

func TestStartRunResumesBoundRun(t *testing.T) {
	ctx := context.Background()
	tracker := recordertest.NewTracker(t.TempDir())

	original, err := New("r1", "e1", tracker, WithStagingDir(t.TempDir()))
	require.NoError(t, err)
	run, err := original.StartRun(ctx)
	require.NoError(t, err)
	require.NoError(t, original.Close())

	resumed, err := New("", "e1", tracker, WithRunID(run.RunID), WithStagingDir(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, run.RunID, resumed.Info().ID)
	assert.Equal(t, models.RunStatusScheduled, resumed.Info().Status)

	again, err := resumed.StartRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, again.RunID)
	assert.Equal(t, run.ArtifactURI, again.ArtifactURI)
	assert.Equal(t, "r1", resumed.Info().Name)
	assert.Equal(t, 2, tracker.CallCount("create_run"))
}

func TestResumeLearnsExperimentFromBackend(t *testing.T) {
	ctx := context.Background()
	tracker := recordertest.NewTracker(t.TempDir())

	original, err := New("r1", "e7", tracker, WithStagingDir(t.TempDir()))
	require.NoError(t, err)
	run, err := original.StartRun(ctx)
	require.NoError(t, err)
	require.NoError(t, original.Close())

	resumed, err := New("", "", tracker, WithRunID(run.RunID), WithStagingDir(t.TempDir()))
	require.NoError(t, err)
	assert.Empty(t, resumed.Info().ExperimentID)

	_, err = resumed.StartRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e7", resumed.Info().ExperimentID)
	require.NoError(t, resumed.EndRun(ctx, models.RunStatusFinished))
}

func TestEndBeforeStartOnBoundRunSkipsBackend(t *testing.T) {
	ctx := context.Background()
	tracker := recordertest.NewTracker(t.TempDir())

	original, err := New("r1", "e1", tracker, WithStagingDir(t.TempDir()))
	require.NoError(t, err)
	run, err := original.StartRun(ctx)
	require.NoError(t, err)
	require.NoError(t, original.Close())

	bound, err := New("", "e1", tracker, WithRunID(run.RunID), WithStagingDir(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, bound.EndRun(ctx, models.RunStatusFinished))

	assert.Equal(t, models.RunStatusScheduled, bound.Info().Status)
	assert.NotNil(t, bound.Info().EndTime)
	assert.Zero(t, tracker.CallCount("end_run"))

	stored, _ := tracker.Run(run.RunID)
	assert.Equal(t, string(models.RunStatusRunning), stored.Info.Status)
}

func TestStartRunBackendFailure(t *testing.T) {
	r, tracker := newTestRecorder(t)
	tracker.FailOn = func(op, key string) error { return errUnavailable }

	_, err := r.StartRun(context.Background())
	require.ErrorIs(t, err, ErrBackendUnavailable)
	require.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, models.RunStatusScheduled, r.Info().Status)
	assert.Empty(t, r.Info().ID)
}

func TestStartTimeHasSecondPrecision(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 9, 30, 15, 987654321, time.UTC)
	r, _ := startTestRecorder(t, WithClock(func() time.Time { return fixed }))

	info := r.Info()
	require.NotNil(t, info.StartTime)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC), *info.StartTime)
	assert.Contains(t, info.String(), "2024-03-01 09:30:15")
}

func TestArtifactURIIsStable(t *testing.T) {
	r, _ := startTestRecorder(t)

	first, err := r.ArtifactURI()
	require.NoError(t, err)
	second, err := r.ArtifactURI()
	require.NoError(t, err)

	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestEndRunFromScheduledKeepsStatus(t *testing.T) {
	r, tracker := newTestRecorder(t)
	stagingRoot := r.StagingRoot()

	require.NoError(t, r.EndRun(context.Background(), models.RunStatusFinished))

	info := r.Info()
	assert.Equal(t, models.RunStatusScheduled, info.Status)
	assert.NotNil(t, info.EndTime)
	assert.Zero(t, tracker.CallCount("end_run"))

	_, err := os.Stat(stagingRoot)
	assert.True(t, os.IsNotExist(err))

	_, err = r.StartRun(context.Background())
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestEndRunFailed(t *testing.T) {
	r, tracker := startTestRecorder(t)

	require.NoError(t, r.EndRun(context.Background(), models.RunStatusFailed))
	assert.Equal(t, models.RunStatusFailed, r.Info().Status)

	stored, _ := tracker.Run(r.Info().ID)
	assert.Equal(t, string(models.RunStatusFailed), stored.Info.Status)
}

func TestEndRunTwiceFails(t *testing.T) {
	ctx := context.Background()
	r, _ := startTestRecorder(t)

	require.NoError(t, r.EndRun(ctx, models.RunStatusFinished))
	err := r.EndRun(ctx, models.RunStatusFailed)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, models.RunStatusFinished, r.Info().Status)
}

func TestEndRunRejectsBackwardTransition(t *testing.T) {
	ctx := context.Background()

	for _, status := range []models.RunStatus{models.RunStatusScheduled, models.RunStatusRunning} {
		t.Run(string(status), func(t *testing.T) {
			r, tracker := startTestRecorder(t)

			err := r.EndRun(ctx, status)
			assert.ErrorIs(t, err, ErrPrecondition)
			assert.Equal(t, models.RunStatusRunning, r.Info().Status)
			assert.Nil(t, r.Info().EndTime)
			assert.Zero(t, tracker.CallCount("end_run"))

			_, statErr := os.Stat(r.StagingRoot())
			assert.True(t, os.IsNotExist(statErr), "staging area is released on every EndRun call")
		})
	}
}

func TestEndRunInvalidStatus(t *testing.T) {
	r, _ := startTestRecorder(t)

	err := r.EndRun(context.Background(), models.RunStatus("KILLED"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, models.RunStatusRunning, r.Info().Status)
}

func TestEndRunBackendFailureLeavesStatus(t *testing.T) {
	r, tracker := startTestRecorder(t)
	tracker.FailOn = func(op, key string) error {
		if op == "end_run" {
			return errUnavailable
		}
		return nil
	}

	err := r.EndRun(context.Background(), models.RunStatusFinished)
	require.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, models.RunStatusRunning, r.Info().Status)
	assert.Nil(t, r.Info().EndTime)

	_, statErr := os.Stat(r.StagingRoot())
	assert.True(t, os.IsNotExist(statErr))

	err = r.SaveObjects(context.Background(), SaveRequest{Objects: Mapping[any]{P[any]("x", 1)}})
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestOperationsAfterEndFail(t *testing.T) {
	ctx := context.Background()
	r, _ := startTestRecorder(t)
	require.NoError(t, r.EndRun(ctx, models.RunStatusFinished))

	err := r.LogParams(ctx, Mapping[any]{P[any]("a", 1)})
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.ErrorContains(t, err, "log_params")

	_, err = r.StartRun(ctx)
	assert.ErrorIs(t, err, ErrPrecondition)

	uri, err := r.ArtifactURI()
	assert.NoError(t, err, "artifact root stays readable after the run ends")
	assert.NotEmpty(t, uri)
}

func TestLogParamsContinuesPastFailures(t *testing.T) {
	r, tracker := startTestRecorder(t)
	tracker.FailOn = func(op, key string) error {
		if op == "log_param" && key == "b" {
			return errUnavailable
		}
		return nil
	}

	err := r.LogParams(context.Background(), Mapping[any]{
		P[any]("a", 1),
		P[any]("b", 2),
		P[any]("c", true),
	})
	require.ErrorIs(t, err, ErrBackendUnavailable)

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "b", be.Key)

	stored, _ := tracker.Run(r.Info().ID)
	assert.Equal(t, map[string]string{"a": "1", "c": "true"}, stored.Params)
}

func TestLogParamsAggregatesEveryFailure(t *testing.T) {
	r, tracker := startTestRecorder(t)
	tracker.FailOn = func(op, key string) error {
		if op == "log_param" {
			return errUnavailable
		}
		return nil
	}

	err := r.LogParams(context.Background(), FromMap(map[string]any{"x": 1, "y": 2}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"x"`)
	assert.Contains(t, err.Error(), `"y"`)
	assert.Equal(t, 2, tracker.CallCount("log_param"))
}

func TestLogMetricsTimestampAndStep(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC)
	r, tracker := startTestRecorder(t, WithClock(func() time.Time { return fixed }))

	require.NoError(t, r.LogMetrics(context.Background(), Mapping[float64]{P("loss", 0.3), P("acc", 0.8)}, nil))

	stored, _ := tracker.Run(r.Info().ID)
	require.Len(t, stored.Metrics, 2)
	assert.Equal(t, "loss", stored.Metrics[0].Key)
	assert.Equal(t, "acc", stored.Metrics[1].Key)
	assert.Equal(t, fixed, stored.Metrics[0].Timestamp)
	assert.Equal(t, int64(0), stored.Metrics[0].Step)
}

func TestLogMetricSeries(t *testing.T) {
	r, tracker := startTestRecorder(t)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, r.LogMetricSeries(context.Background(), []models.Metric{
		{Key: "loss", Value: 0.5, Timestamp: ts, Step: 0},
		{Key: "loss", Value: 0.4, Timestamp: ts.Add(time.Minute), Step: 1},
	}))

	stored, _ := tracker.Run(r.Info().ID)
	require.Len(t, stored.Metrics, 2)
	assert.Equal(t, int64(1), stored.Metrics[1].Step)
	assert.Equal(t, ts.Add(time.Minute), stored.Metrics[1].Timestamp)
}

func TestSetAndDeleteTags(t *testing.T) {
	ctx := context.Background()
	r, tracker := startTestRecorder(t, WithTags(map[string]string{"team": "research"}))

	require.NoError(t, r.SetTags(ctx, Mapping[any]{P[any]("stage", "train"), P[any]("epoch", 3)}))
	require.NoError(t, r.DeleteTags(ctx, "stage", "missing"))

	stored, _ := tracker.Run(r.Info().ID)
	assert.Equal(t, map[string]string{"team": "research", "epoch": "3"}, stored.Tags)
}

func TestSaveObjectsAmbiguousInvocation(t *testing.T) {
	r, tracker := startTestRecorder(t)
	dir := t.TempDir()

	err := r.SaveObjects(context.Background(), SaveRequest{
		LocalPath: dir,
		Objects:   Mapping[any]{P[any]("model", map[string]any{"w": 1})},
	})
	require.ErrorIs(t, err, ErrAmbiguousInvocation)
	assert.Zero(t, tracker.CallCount("log_artifact"))
	assert.Zero(t, tracker.CallCount("log_artifacts"))

	refs, err := r.ListArtifacts(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestSaveObjectsLocalDirectory(t *testing.T) {
	ctx := context.Background()
	r, _ := startTestRecorder(t)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("beta"), 0o644))

	require.NoError(t, r.SaveObjects(ctx, SaveRequest{LocalPath: dir, ArtifactPath: "data"}))

	refs, err := r.ListArtifacts(ctx, "data")
	require.NoError(t, err)
	assert.Equal(t, []ArtifactRef{
		{Name: "a.txt", Path: "data/a.txt", Size: 5},
		{Name: "sub", Path: "data/sub", IsDir: true},
	}, refs)

	res, err := r.LoadObject(ctx, "data/sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, codec.KindText, res.Kind)
	assert.Equal(t, "beta", res.Value)
}

func TestSaveObjectsLocalFile(t *testing.T) {
	ctx := context.Background()
	r, _ := startTestRecorder(t)

	file := filepath.Join(t.TempDir(), "train.log")
	require.NoError(t, os.WriteFile(file, []byte("epoch 1 done\n"), 0o644))

	require.NoError(t, r.SaveObjects(ctx, SaveRequest{LocalPath: file}))

	res, err := r.LoadObject(ctx, "train.log")
	require.NoError(t, err)
	text, ok := res.Text()
	require.True(t, ok)
	assert.Equal(t, "epoch 1 done\n", text)
}

func TestSaveObjectsMissingLocalPath(t *testing.T) {
	r, tracker := startTestRecorder(t)

	err := r.SaveObjects(context.Background(), SaveRequest{LocalPath: filepath.Join(t.TempDir(), "missing")})
	assert.True(t, os.IsNotExist(errors.Unwrap(err)))
	assert.Zero(t, tracker.CallCount("log_artifact"))
}

func TestSaveObjectsSerializationFailureReportsPartialSuccess(t *testing.T) {
	ctx := context.Background()
	r, tracker := startTestRecorder(t)

	err := r.SaveObjects(ctx, SaveRequest{Objects: Mapping[any]{
		P[any]("first", "ok"),
		P[any]("broken", make(chan int)),
		P[any]("third", "never"),
	}})
	require.ErrorIs(t, err, ErrSerialization)

	var se *SaveError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "broken", se.Name)
	assert.Equal(t, []string{"first"}, se.Uploaded)
	assert.Equal(t, []string{"log_artifact first"}, filterCalls(tracker.Calls(), "log_artifact"))
}

func TestSaveObjectsUploadFailure(t *testing.T) {
	r, tracker := startTestRecorder(t)
	tracker.FailOn = func(op, key string) error {
		if op == "log_artifact" && key == "b" {
			return errUnavailable
		}
		return nil
	}

	err := r.SaveObjects(context.Background(), SaveRequest{Objects: Mapping[any]{P[any]("a", 1), P[any]("b", 2)}})
	require.ErrorIs(t, err, ErrBackendUnavailable)

	var se *SaveError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"a"}, se.Uploaded)
}

func TestSaveObjectsStagedFilesAccumulate(t *testing.T) {
	ctx := context.Background()
	r, _ := startTestRecorder(t)

	require.NoError(t, r.SaveObjects(ctx, SaveRequest{Objects: Mapping[any]{P[any]("a", 1)}}))
	require.NoError(t, r.SaveObjects(ctx, SaveRequest{Objects: Mapping[any]{P[any]("b", 2)}}))
	require.NoError(t, r.SaveObjects(ctx, SaveRequest{Objects: Mapping[any]{P[any]("a", 3)}}))

	entries, err := os.ReadDir(r.StagingRoot())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name())
	assert.Equal(t, "b", entries[1].Name())

	res, err := r.LoadObject(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.Value)
}

func TestSaveObjectsUnderArtifactPath(t *testing.T) {
	ctx := context.Background()
	r, _ := startTestRecorder(t)

	require.NoError(t, r.SaveObjects(ctx, SaveRequest{
		ArtifactPath: "preds",
		Objects:      Mapping[any]{P[any]("pred.pkl", []float64{0.1, 0.2})},
	}))

	res, err := r.LoadObject(ctx, "preds/pred.pkl")
	require.NoError(t, err)
	assert.Equal(t, []any{0.1, 0.2}, res.Value)
}

func TestLoadObjectUndecodable(t *testing.T) {
	ctx := context.Background()
	r, _ := startTestRecorder(t)

	file := filepath.Join(t.TempDir(), "weights.bin")
	require.NoError(t, os.WriteFile(file, []byte{0xff, 0xfe, 0x00, 0x81}, 0o644))
	require.NoError(t, r.SaveObjects(ctx, SaveRequest{LocalPath: file}))

	_, err := r.LoadObject(ctx, "weights.bin")
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestLoadObjectMissing(t *testing.T) {
	r, _ := startTestRecorder(t)

	_, err := r.LoadObject(context.Background(), "nope")
	require.ErrorIs(t, err, ErrArtifactNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NotErrorIs(t, err, ErrBackendUnavailable)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.Name)
}

func TestLoadObjectBackendFailureIsNotNotFound(t *testing.T) {
	r, tracker := startTestRecorder(t)
	tracker.FailOn = func(op, key string) error {
		if op == "download_artifact" {
			return errUnavailable
		}
		return nil
	}

	_, err := r.LoadObject(context.Background(), "model")
	require.ErrorIs(t, err, ErrBackendUnavailable)
	assert.NotErrorIs(t, err, ErrArtifactNotFound)
}

func TestLoadObjectRejectsNamesOutsideArtifactRoot(t *testing.T) {
	ctx := context.Background()
	r, tracker := startTestRecorder(t)

	for _, name := range []string{"", ".", "..", "../secret.txt", "a/../../secret.txt", "/etc/passwd", `..\secret.txt`} {
		_, err := r.LoadObject(ctx, name)
		assert.ErrorIs(t, err, ErrPrecondition, name)
	}
	assert.Zero(t, tracker.CallCount("download_artifact"))
}

func TestListArtifactsEmpty(t *testing.T) {
	r, _ := startTestRecorder(t)

	refs, err := r.ListArtifacts(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, refs)
	assert.Empty(t, refs)

	refs, err = r.ListArtifacts(context.Background(), "does/not/exist")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestListArtifactsIsNotCached(t *testing.T) {
	ctx := context.Background()
	r, tracker := startTestRecorder(t)

	refs, err := r.ListArtifacts(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, refs)

	require.NoError(t, r.SaveObjects(ctx, SaveRequest{Objects: Mapping[any]{P[any]("model", 1)}}))

	refs, err = r.ListArtifacts(ctx, "")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "model", refs[0].Name)
	assert.Equal(t, 2, tracker.CallCount("list_artifacts"))
}

func TestCloseReleasesStagingAndBlocksLogging(t *testing.T) {
	ctx := context.Background()
	r, tracker := startTestRecorder(t)
	stagingRoot := r.StagingRoot()

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := os.Stat(stagingRoot)
	assert.True(t, os.IsNotExist(err))

	err = r.LogParams(ctx, Mapping[any]{P[any]("a", 1)})
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.ErrorContains(t, err, "closed")

	require.NoError(t, r.EndRun(ctx, models.RunStatusFinished))
	assert.Equal(t, models.RunStatusFinished, r.Info().Status)
	assert.Equal(t, 1, tracker.CallCount("end_run"))
}

func TestSetName(t *testing.T) {
	r, tracker := newTestRecorder(t)

	require.NoError(t, r.SetName("renamed"))
	_, err := r.StartRun(context.Background())
	require.NoError(t, err)

	stored, _ := tracker.Run(r.Info().ID)
	assert.Equal(t, "renamed", stored.Info.RunName)

	assert.ErrorIs(t, r.SetName("late"), ErrPrecondition)
	assert.Equal(t, "renamed", r.Info().Name)
}

func TestRecordersDoNotShareStaging(t *testing.T) {
	ctx := context.Background()
	tracker := recordertest.NewTracker(t.TempDir())
	stagingDir := t.TempDir()

	const n = 8
	roots := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := New("r", "e1", tracker, WithStagingDir(stagingDir))
			if err != nil {
				errs[i] = err
				return
			}
			roots[i] = r.StagingRoot()
			errs[i] = WithRun(ctx, r, func(ctx context.Context, run *ActiveRun) error {
				return r.SaveObjects(ctx, SaveRequest{Objects: Mapping[any]{P[any]("model", i)}})
			})
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[roots[i]], "staging root reused: %s", roots[i])
		seen[roots[i]] = true
	}

	entries, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "every staging area is removed")
}

func filterCalls(calls []string, op string) []string {
	var out []string
	for _, c := range calls {
		if c == op || len(c) > len(op) && c[:len(op)+1] == op+" " {
			out = append(out, c)
		}
	}
	return out
}
