package rename

import (
	"context"
	"fmt"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// mutation moves the data of a step from one project name to another.
type mutation func(ctx context.Context, changeIDs []models.ChangeID, from, to models.ProjectName, pm ProgressMonitor) error

// revertPolicy decides what a failing inverse mutation does to the rest of a revert.
type revertPolicy int

const (
	// abortRevert stops the revert and fails it.
	abortRevert revertPolicy = iota
	// ignoreFailure logs the failure and continues.
	ignoreFailure
	// failAndSkipRest logs the failure, skips the remaining inverses and fails the revert.
	failAndSkipRest
)

// step is one variant of the saga. Forward moves the data of the step from old to new, Inverse
// moves it back.
type step struct {
	kind     StepKind
	forward  mutation
	inverse  mutation
	onRevert revertPolicy
}

func swapped(m mutation) mutation {
	return func(ctx context.Context, changeIDs []models.ChangeID, from, to models.ProjectName, pm ProgressMonitor) error {
		return m(ctx, changeIDs, to, from, pm)
	}
}

// newSteps returns the saga steps indexed by their kind.
func (r *Renamer) newSteps() [stepCount]step {
	return [stepCount]step{
		Filesystem: {kind: Filesystem, forward: r.renameRepository, inverse: swapped(r.renameRepository), onRevert: abortRevert},
		Cache:      {kind: Cache, forward: r.updateCache, inverse: swapped(r.updateCache), onRevert: ignoreFailure},
		Metadata:   {kind: Metadata, forward: r.updateMetadata, inverse: swapped(r.updateMetadata), onRevert: failAndSkipRest},
		Index:      {kind: Index, forward: r.updateIndex, inverse: swapped(r.updateIndex), onRevert: ignoreFailure},
	}
}

func (r *Renamer) renameRepository(ctx context.Context, _ []models.ChangeID, from, to models.ProjectName, pm ProgressMonitor) error {
	pm.BeginTask("Renaming git repository", 0)
	defer pm.Close()

	if err := r.fs.Rename(ctx, from, to); err != nil {
		return err
	}

	ctxlogrus.Extract(ctx).WithField("new_project", to).Debug("renamed the git repository")
	return nil
}

func (r *Renamer) updateCache(ctx context.Context, _ []models.ChangeID, from, to models.ProjectName, _ ProgressMonitor) error {
	r.projects.Evict(from)
	if err := r.projects.Seed(ctx, to); err != nil {
		return err
	}

	ctxlogrus.Extract(ctx).WithField("new_project", to).Debug("updated project cache")
	return nil
}

// updateMetadata retargets the changes and then every watch entry, account by account. The
// watch rewrite stops at the first failing account: accounts handled before keep their new
// entries.
func (r *Renamer) updateMetadata(ctx context.Context, changeIDs []models.ChangeID, from, to models.ProjectName, pm ProgressMonitor) error {
	pm.BeginTask("Updating changes in the database", len(changeIDs))
	defer pm.Close()

	if err := r.metadata.Retarget(ctx, changeIDs, to); err != nil {
		return fmt.Errorf("retarget changes: %w", err)
	}
	pm.Update(len(changeIDs))

	accounts, err := r.metadata.WatchingAccounts(ctx, from)
	if err != nil {
		return fmt.Errorf("list watching accounts: %w", err)
	}

	for _, account := range accounts {
		if err := r.metadata.RewriteWatch(ctx, account, from, to); err != nil {
			ctxlogrus.Extract(ctx).WithError(err).WithField("account_id", account).Error("updating watch entry failed")
			return fmt.Errorf("rewrite watch entries of account %d: %w", account, err)
		}
	}

	ctxlogrus.Extract(ctx).WithField("old_project", from).Debug("updated the changes in the database")
	return nil
}

func (r *Renamer) updateIndex(ctx context.Context, changeIDs []models.ChangeID, _, to models.ProjectName, pm ProgressMonitor) error {
	pm.BeginTask("Reindexing changes", len(changeIDs))
	defer pm.Close()

	if err := r.pool.reindex(ctx, r.index, changeIDs, to, pm); err != nil {
		return err
	}

	ctxlogrus.Extract(ctx).WithField("new_project", to).Debug("updated the secondary index")
	return nil
}
