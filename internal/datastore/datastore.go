// Package datastore holds the durable change metadata: which project owns each change and which
// accounts watch which project.
package datastore

import (
	"context"
	"fmt"

	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// MetadataStore provides access to change ownership and account watch entries.
type MetadataStore interface {
	// ChangeIDs returns the ids of all changes owned by the project.
	ChangeIDs(ctx context.Context, project models.ProjectName) ([]models.ChangeID, error)
	// Retarget points every given change to the project.
	Retarget(ctx context.Context, ids []models.ChangeID, project models.ProjectName) error
	// OwningProject returns the project owning the change.
	OwningProject(ctx context.Context, id models.ChangeID) (models.ProjectName, error)
	// WatchingAccounts returns the accounts with at least one watch entry on the project.
	WatchingAccounts(ctx context.Context, project models.ProjectName) ([]models.AccountID, error)
	// RewriteWatch replaces every watch entry of the account on project from by an equivalent
	// entry on project to. The new entries are added before the old ones are removed.
	RewriteWatch(ctx context.Context, account models.AccountID, from, to models.ProjectName) error
	// Watches returns all watch entries of the account.
	Watches(ctx context.Context, account models.AccountID) ([]models.WatchEntry, error)
}

// ChangeNotFoundError is returned when a change is not known to the store.
type ChangeNotFoundError struct {
	ID models.ChangeID
}

// Is checks whether the other errors is of the same type.
func (err ChangeNotFoundError) Is(other error) bool {
	_, ok := other.(ChangeNotFoundError)
	return ok
}

// Error returns the errors message.
func (err ChangeNotFoundError) Error() string {
	return fmt.Sprintf("change %d does not exist", err.ID)
}
