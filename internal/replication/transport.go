package replication

import (
	"context"
	"fmt"

	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// Transport renames a project on a single replica.
type Transport interface {
	Rename(ctx context.Context, target Target, old, new models.ProjectName) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, target Target, old, new models.ProjectName) error

// Rename calls fn.
func (fn TransportFunc) Rename(ctx context.Context, target Target, old, new models.ProjectName) error {
	return fn(ctx, target, old, new)
}

// Failure is a rename which could not be propagated to a replica.
type Failure struct {
	URL   string
	Cause error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("replicate rename to %s: %v", f.URL, f.Cause)
}

// Unwrap returns the last error the replica failed with.
func (f *Failure) Unwrap() error {
	return f.Cause
}
