package rename

import (
	"context"

	"gitlab.com/gitlab-org/rename-project/internal/log"
	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// FilesystemStore moves project repositories on disk.
type FilesystemStore interface {
	Rename(ctx context.Context, from, to models.ProjectName) error
	Exists(ctx context.Context, name models.ProjectName) (bool, error)
}

// ProjectCache caches projects by name.
type ProjectCache interface {
	Evict(name models.ProjectName)
	Seed(ctx context.Context, name models.ProjectName) error
}

// ChangeProjectCache caches the owning project of changes.
type ChangeProjectCache interface {
	InvalidateAll(ids []models.ChangeID)
}

// MetadataStore records change ownership and account watch entries.
type MetadataStore interface {
	ChangeIDs(ctx context.Context, project models.ProjectName) ([]models.ChangeID, error)
	Retarget(ctx context.Context, ids []models.ChangeID, project models.ProjectName) error
	WatchingAccounts(ctx context.Context, project models.ProjectName) ([]models.AccountID, error)
	RewriteWatch(ctx context.Context, account models.AccountID, from, to models.ProjectName) error
}

// SearchIndex indexes changes by project.
type SearchIndex interface {
	Index(ctx context.Context, id models.ChangeID, project models.ProjectName) error
}

// Replicator propagates a completed rename to the replicas of this node.
type Replicator interface {
	Replicate(ctx context.Context, req Request, pm ProgressMonitor)
}

// Auditor records every rename attempt.
type Auditor interface {
	OnRename(user log.AuditUser, project string, options interface{}, renameErr error)
}

// Confirmer asks the caller whether to proceed with a rename touching many changes.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, question string) (bool, error)

// Confirm calls fn.
func (fn ConfirmerFunc) Confirm(ctx context.Context, question string) (bool, error) {
	return fn(ctx, question)
}

type noopChangeProjectCache struct{}

func (noopChangeProjectCache) InvalidateAll([]models.ChangeID) {}

type noopAuditor struct{}

func (noopAuditor) OnRename(log.AuditUser, string, interface{}, error) {}
