// Package storage implements the on-disk repository store. Every project owns one bare repository
// directory named "<project>.git" below the storage root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"gitlab.com/gitlab-org/rename-project/internal/models"
	"gitlab.com/gitlab-org/rename-project/internal/safe"
)

var (
	// ErrRepositoryNotFound is returned when the source repository does not exist.
	ErrRepositoryNotFound = errors.New("repository not found")
	// ErrRepositoryAlreadyExists is returned when the target repository exists already.
	ErrRepositoryAlreadyExists = errors.New("repository already exists")
)

// Store is the filesystem repository store.
type Store struct {
	locator Locator
}

// NewStore returns a Store rooted at root.
func NewStore(root string) *Store {
	return &Store{locator: NewLocator(root)}
}

// Locator returns the locator used by the store.
func (s *Store) Locator() Locator { return s.locator }

// Exists reports whether a repository exists for the project.
func (s *Store) Exists(_ context.Context, name models.ProjectName) (bool, error) {
	path, err := s.locator.GetPath(name)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// Create initializes an empty bare repository layout for the project.
func (s *Store) Create(_ context.Context, name models.ProjectName) error {
	path, err := s.locator.GetPath(name)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return ErrRepositoryAlreadyExists
	}

	for _, dir := range []string{"objects", "refs/heads", "refs/tags"} {
		if err := os.MkdirAll(filepath.Join(path, dir), 0o770); err != nil {
			return fmt.Errorf("create repository: %w", err)
		}
	}

	if err := os.WriteFile(filepath.Join(path, "HEAD"), []byte("ref: refs/heads/master\n"), 0o644); err != nil {
		return fmt.Errorf("create repository: %w", err)
	}

	return nil
}

// Rename moves the repository of project from to the location of project to. The destination is
// first created through the regular creation path to obtain its location, its placeholder contents
// are deleted and the source directory is moved into place with a single rename(2).
func (s *Store) Rename(ctx context.Context, from, to models.ProjectName) error {
	sourcePath, err := s.locator.GetRepoPath(from)
	if err != nil {
		return fmt.Errorf("source repository %q: %w", from, err)
	}

	targetPath, err := s.locator.GetPath(to)
	if err != nil {
		return fmt.Errorf("target repository %q: %w", to, err)
	}

	// Check up front whether the target path exists already. If it does, we can avoid going
	// into the critical section altogether.
	if _, err := os.Stat(targetPath); !os.IsNotExist(err) {
		return ErrRepositoryAlreadyExists
	}

	ctxlogrus.Extract(ctx).WithField("new_project", to).Debug("creating the new repository")
	if err := s.Create(ctx, to); err != nil {
		return fmt.Errorf("create target repository: %w", err)
	}

	// Only the absolute location was needed, the placeholder repository gets replaced.
	if err := os.RemoveAll(targetPath); err != nil {
		return fmt.Errorf("delete target placeholder: %w", err)
	}

	// We're locking both the source repository path and the target repository path for
	// concurrent modification. This is so that the source repo doesn't get moved somewhere else
	// meanwhile, and so that the target repo doesn't get created concurrently either.
	sourceLocker, err := safe.NewPathLocker(sourcePath)
	if err != nil {
		return fmt.Errorf("creating source repo locker: %w", err)
	}
	defer func() {
		if err := sourceLocker.Close(); err != nil {
			ctxlogrus.Extract(ctx).WithError(err).Error("closing source repo locker")
		}
	}()

	targetLocker, err := safe.NewPathLocker(targetPath)
	if err != nil {
		return fmt.Errorf("creating target repo locker: %w", err)
	}
	defer func() {
		if err := targetLocker.Close(); err != nil {
			ctxlogrus.Extract(ctx).WithError(err).Error("closing target repo locker")
		}
	}()

	if err := sourceLocker.Lock(); err != nil {
		return fmt.Errorf("locking source repo: %w", err)
	}
	if err := targetLocker.Lock(); err != nil {
		return fmt.Errorf("locking target repo: %w", err)
	}

	ctxlogrus.Extract(ctx).WithFields(map[string]interface{}{
		"old_project": from,
		"new_project": to,
	}).Debug("moving repository content")

	if err := moveNoReplace(sourcePath, targetPath); err != nil {
		return fmt.Errorf("moving repository into place: %w", err)
	}

	return nil
}

// Load resolves the project and its repository location.
func (s *Store) Load(_ context.Context, name models.ProjectName) (models.Project, error) {
	path, err := s.locator.GetRepoPath(name)
	if err != nil {
		return models.Project{}, fmt.Errorf("load project %q: %w", name, err)
	}

	return models.Project{Name: name, Path: path}, nil
}
