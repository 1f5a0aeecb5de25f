// Package recordertest provides an in-process Tracker backed by a local
// directory, for tests.
package recordertest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imishinist/mlflow-recorder/internal/models"
)

// Run is the tracker's record of one run.
type Run struct {
	Info    models.RunInfo
	Params  map[string]string
	Metrics []models.Metric
	Tags    map[string]string
}

// Tracker stores runs in memory and artifacts under Root. FailOn, when
// set, is consulted before every call; a non-nil result is returned as the
// call's error.
type Tracker struct {
	Root   string
	FailOn func(op, key string) error

	mu    sync.Mutex
	runs  map[string]*Run
	calls []string
}

// NewTracker creates a tracker storing artifacts under root.
func NewTracker(root string) *Tracker {
	return &Tracker{Root: root, runs: make(map[string]*Run)}
}

// Run returns a copy of the stored run.
func (t *Tracker) Run(runID string) (Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		return Run{}, false
	}
	c := *run
	c.Params = copyMap(run.Params)
	c.Tags = copyMap(run.Tags)
	c.Metrics = append([]models.Metric(nil), run.Metrics...)
	return c, true
}

// Calls returns the operations performed so far, formatted "op key".
func (t *Tracker) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// CallCount counts calls to op.
func (t *Tracker) CallCount(op string) int {
	n := 0
	for _, c := range t.Calls() {
		if c == op || strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

func (t *Tracker) CreateOrResumeRun(ctx context.Context, cfg *models.RunConfig) (*models.RunInfo, error) {
	if err := t.enter("create_run", ""); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if cfg.RunID != nil {
		run, ok := t.runs[*cfg.RunID]
		if !ok {
			return nil, fmt.Errorf("run %s not found", *cfg.RunID)
		}
		run.Info.Status = string(models.RunStatusRunning)
		run.Info.EndTime = nil
		info := run.Info
		return &info, nil
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	experimentID := ""
	if cfg.ExperimentID != nil {
		experimentID = *cfg.ExperimentID
	}
	name := "run-" + id[:8]
	if cfg.RunName != nil {
		name = *cfg.RunName
	}

	artifactDir := filepath.Join(t.Root, experimentID, id, "artifacts")
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, err
	}

	run := &Run{
		Info: models.RunInfo{
			RunID:        id,
			ExperimentID: experimentID,
			RunName:      name,
			Status:       string(models.RunStatusRunning),
			ArtifactURI:  "file://" + artifactDir,
			StartTime:    time.Now(),
			Tags:         copyMap(cfg.Tags),
		},
		Params: make(map[string]string),
		Tags:   copyMap(cfg.Tags),
	}
	if cfg.Description != nil {
		run.Info.Description = *cfg.Description
	}
	t.runs[id] = run

	info := run.Info
	return &info, nil
}

func (t *Tracker) EndRun(ctx context.Context, runID string, status models.RunStatus) error {
	return t.update("end_run", "", runID, func(run *Run) {
		end := time.Now()
		run.Info.Status = string(status)
		run.Info.EndTime = &end
	})
}

func (t *Tracker) LogParam(ctx context.Context, runID, key, value string) error {
	return t.update("log_param", key, runID, func(run *Run) {
		run.Params[key] = value
	})
}

func (t *Tracker) LogMetric(ctx context.Context, runID, key string, value float64, timestamp *time.Time, step *int64) error {
	return t.update("log_metric", key, runID, func(run *Run) {
		m := models.Metric{Key: key, Value: value}
		if timestamp != nil {
			m.Timestamp = *timestamp
		}
		if step != nil {
			m.Step = *step
		}
		run.Metrics = append(run.Metrics, m)
	})
}

func (t *Tracker) SetTag(ctx context.Context, runID, key, value string) error {
	return t.update("set_tag", key, runID, func(run *Run) {
		run.Tags[key] = value
	})
}

func (t *Tracker) DeleteTag(ctx context.Context, runID, key string) error {
	return t.update("delete_tag", key, runID, func(run *Run) {
		delete(run.Tags, key)
	})
}

func (t *Tracker) LogArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	if err := t.enter("log_artifact", filepath.Base(localPath)); err != nil {
		return err
	}
	root, err := t.artifactDir(runID)
	if err != nil {
		return err
	}
	dst := filepath.Join(root, filepath.FromSlash(artifactPath), filepath.Base(localPath))
	return copyFile(localPath, dst)
}

func (t *Tracker) LogArtifacts(ctx context.Context, runID, localDir, artifactPath string) error {
	if err := t.enter("log_artifacts", filepath.Base(localDir)); err != nil {
		return err
	}
	root, err := t.artifactDir(runID)
	if err != nil {
		return err
	}
	dstRoot := filepath.Join(root, filepath.FromSlash(artifactPath))

	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		return copyFile(p, filepath.Join(dstRoot, rel))
	})
}

func (t *Tracker) DownloadArtifact(ctx context.Context, runID, artifactPath, dstDir string) (string, error) {
	if err := t.enter("download_artifact", artifactPath); err != nil {
		return "", err
	}
	root, err := t.artifactDir(runID)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dstDir, path.Base(artifactPath))
	if err := copyFile(filepath.Join(root, filepath.FromSlash(artifactPath)), dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (t *Tracker) ListArtifacts(ctx context.Context, runID, artifactPath string) ([]models.ArtifactInfo, error) {
	if err := t.enter("list_artifacts", artifactPath); err != nil {
		return nil, err
	}
	root, err := t.artifactDir(runID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(artifactPath)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	infos := make([]models.ArtifactInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		ai := models.ArtifactInfo{Path: path.Join(artifactPath, entry.Name()), IsDir: entry.IsDir()}
		if !entry.IsDir() {
			ai.FileSize = info.Size()
		}
		infos = append(infos, ai)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func (t *Tracker) enter(op, key string) error {
	t.mu.Lock()
	call := op
	if key != "" {
		call += " " + key
	}
	t.calls = append(t.calls, call)
	failOn := t.FailOn
	t.mu.Unlock()

	if failOn != nil {
		return failOn(op, key)
	}
	return nil
}

func (t *Tracker) update(op, key, runID string, fn func(*Run)) error {
	if err := t.enter(op, key); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	fn(run)
	return nil
}

func (t *Tracker) artifactDir(runID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		return "", fmt.Errorf("run %s not found", runID)
	}
	return strings.TrimPrefix(run.Info.ArtifactURI, "file://"), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
