package recorder

import (
	"context"

	"go.uber.org/multierr"

	"github.com/imishinist/mlflow-recorder/internal/models"
)

// WithRun starts r, calls fn and ends the run: FINISHED when fn returns
// nil, FAILED when it returns an error or panics. The run is ended before
// a panic is re-raised. If the run cannot be started, r is closed.
func WithRun(ctx context.Context, r Recorder, fn func(ctx context.Context, run *ActiveRun) error) (err error) {
	run, err := r.StartRun(ctx)
	if err != nil {
		return multierr.Append(err, r.Close())
	}

	status := models.RunStatusFailed
	defer func() {
		p := recover()
		if endErr := r.EndRun(ctx, status); endErr != nil {
			err = multierr.Append(err, endErr)
		}
		if p != nil {
			panic(p)
		}
	}()

	if err := fn(ctx, run); err != nil {
		return err
	}
	status = models.RunStatusFinished
	return nil
}
