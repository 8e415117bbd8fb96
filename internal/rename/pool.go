package rename

import (
	"context"
	"fmt"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"gitlab.com/gitlab-org/rename-project/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// indexPool bounds the number of concurrent reindex operations. It is shared by all renames of
// a Renamer.
type indexPool struct {
	sem *semaphore.Weighted
}

func newIndexPool(threads int) *indexPool {
	if threads < 1 {
		threads = 1
	}
	return &indexPool{sem: semaphore.NewWeighted(int64(threads))}
}

// reindex indexes every change under project and waits for all of them. A failing change does
// not stop the others; the first failure is returned.
func (p *indexPool) reindex(ctx context.Context, index SearchIndex, changeIDs []models.ChangeID, project models.ProjectName, pm ProgressMonitor) error {
	var group errgroup.Group

	for _, id := range changeIDs {
		id := id

		if err := p.sem.Acquire(ctx, 1); err != nil {
			// only reachable with a cancelled context; wait for the workers already running
			_ = group.Wait()
			return fmt.Errorf("acquire index worker: %w", err)
		}

		group.Go(func() error {
			defer p.sem.Release(1)

			if err := index.Index(ctx, id, project); err != nil {
				ctxlogrus.Extract(ctx).WithError(err).WithField("change_id", id).Error("reindexing change failed")
				return fmt.Errorf("reindex change %d: %w", id, err)
			}

			pm.Update(1)
			return nil
		})
	}

	return group.Wait()
}
