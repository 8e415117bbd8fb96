package rename

import (
	"context"
	"fmt"
	"regexp"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// Preconditions validates a rename request before anything is modified.
type Preconditions struct {
	fs              FilesystemStore
	rawPattern      string
	pattern         *regexp.Regexp
	defaultProjects map[models.ProjectName]struct{}
}

// NewPreconditions returns checks requiring new names to fully match pattern and refusing to
// rename any of defaultProjects.
func NewPreconditions(fs FilesystemStore, pattern string, defaultProjects []string) (*Preconditions, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("compile rename regex: %w", err)
	}

	defaults := make(map[models.ProjectName]struct{}, len(defaultProjects))
	for _, name := range defaultProjects {
		defaults[models.ProjectName(name)] = struct{}{}
	}

	return &Preconditions{fs: fs, rawPattern: pattern, pattern: re, defaultProjects: defaults}, nil
}

// Check returns nil when the request may be executed. In replica mode only the new name and the
// caller's permission are checked: the stores are owned by the node the rename originates from.
func (p *Preconditions) Check(ctx context.Context, req Request, replicaMode bool) error {
	if req.New == "" {
		return fmt.Errorf("%w: new name is required", ErrInvalidName)
	}

	if !p.pattern.MatchString(req.New.String()) {
		return fmt.Errorf("%w: name of the repo should match the expected regex: %s", ErrInvalidName, p.rawPattern)
	}

	if replicaMode {
		if !req.Admin {
			return ErrPermissionDenied
		}
		return nil
	}

	exists, err := p.fs.Exists(ctx, req.Old)
	if err != nil {
		return fmt.Errorf("check project %q: %w", req.Old, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, req.Old)
	}

	exists, err = p.fs.Exists(ctx, req.New)
	if err != nil {
		return fmt.Errorf("check project %q: %w", req.New, err)
	}
	if exists {
		return ErrDestinationExists
	}

	if _, ok := p.defaultProjects[req.Old]; ok {
		ctxlogrus.Extract(ctx).WithField("old_project", req.Old).Error("cannot rename a default project")
		return fmt.Errorf("%w: %s", ErrDefaultProject, req.Old)
	}

	ctxlogrus.Extract(ctx).Debug("rename preconditions check successful")
	return nil
}
