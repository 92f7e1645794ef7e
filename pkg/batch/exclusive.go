package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/hina0118/mailbatch/pkg/jobstate"
	"github.com/hina0118/mailbatch/pkg/progress"
)

// ErrAlreadyRunning reports a refused start because another run of the
// same job type is in flight.
var ErrAlreadyRunning = errors.New("job type is already running")

// RunExclusive runs r under the job type's guard.
//
// If the guard refuses the start, a zero-count Error event is emitted
// immediately and ErrAlreadyRunning is returned without touching the
// already-running job's state. Otherwise the guard's cancel flag becomes
// the run's cancellation predicate, the guard's last error is updated
// from the run outcome, and Finish is deferred so the job type is
// restartable on every exit path, including panics inside hooks.
func RunExclusive[I, O, C any](ctx context.Context, guard *jobstate.Guard, r *Runner[I, O, C], emitter progress.Emitter, inputs []I, jc C) (*Result[O], error) {
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if !guard.TryStart() {
		err := fmt.Errorf("%s: %w", r.task.Name(), ErrAlreadyRunning)
		_ = emitter.EmitError(ctx, &progress.ErrorRecord{
			TotalItems: len(inputs),
			Message:    err.Error(),
		})
		return nil, err
	}
	defer guard.Finish()

	res, err := r.Run(ctx, emitter, inputs, jc, guard.CancelRequested)
	if err != nil {
		guard.SetError(err.Error())
		return res, err
	}
	return res, nil
}
