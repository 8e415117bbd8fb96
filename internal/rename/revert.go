package rename

import (
	"context"
	"fmt"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// Reverter compensates the completed steps of a failed rename.
type Reverter struct {
	steps   [stepCount]step
	metrics *metrics
}

// PerformRevert applies the inverse of every step recorded in state. Inverses run in the order
// the steps were originally applied, not in reverse order. A failing filesystem inverse aborts
// the revert immediately. Cache and index inverse failures are logged only. A failing metadata
// inverse fails the revert and the index inverse is not attempted.
func (r *Reverter) PerformRevert(ctx context.Context, state SagaState, changeIDs []models.ChangeID, old, new models.ProjectName, pm ProgressMonitor) error {
	pm = orNoop(pm)
	logger := ctxlogrus.Extract(ctx).WithFields(map[string]interface{}{
		"old_project": old,
		"new_project": new,
	})

	for _, s := range r.steps {
		if !state.Has(s.kind) {
			continue
		}

		logger.WithField("step", s.kind).Info("reverting step")

		err := r.invert(ctx, s, changeIDs, old, new, pm)
		if err == nil {
			continue
		}

		switch s.onRevert {
		case abortRevert:
			logger.WithError(err).WithField("step", s.kind).Error("reverting step failed, aborting revert")
			return fmt.Errorf("revert %s step: %w", s.kind, err)
		case failAndSkipRest:
			logger.WithError(err).WithField("step", s.kind).Error("reverting step failed, skipping remaining steps")
			return fmt.Errorf("revert %s step: %w", s.kind, err)
		default:
			logger.WithError(err).WithField("step", s.kind).Warn("reverting step failed, ignoring")
		}
	}

	return nil
}

func (r *Reverter) invert(ctx context.Context, s step, changeIDs []models.ChangeID, old, new models.ProjectName, pm ProgressMonitor) error {
	timer := r.metrics.stepTimer(s.kind, "revert")
	defer timer()

	return s.inverse(ctx, changeIDs, old, new, pm)
}
