package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// RepositorySuffix is appended to a project name to form its repository directory.
const RepositorySuffix = ".git"

// ErrRelativePathEscapesRoot is returned for project names trying to traverse out of the storage.
var ErrRelativePathEscapesRoot = errors.New("relative path escapes root directory")

// ValidateRelativePath validates a relative path by joining it with rootDir and verifying the result
// is either rootDir or a path within rootDir. Returns clean relative path from rootDir to relativePath
// or an ErrRelativePathEscapesRoot if the resulting path is not contained within rootDir.
func ValidateRelativePath(rootDir, relativePath string) (string, error) {
	absPath := filepath.Join(rootDir, relativePath)
	if rootDir != absPath && !strings.HasPrefix(absPath, rootDir+string(os.PathSeparator)) {
		return "", ErrRelativePathEscapesRoot
	}

	return filepath.Rel(rootDir, absPath)
}

// IsRepository checks if the directory passed as first argument looks like a valid bare
// repository.
func IsRepository(dir string) bool {
	if dir == "" {
		return false
	}

	for _, element := range []string{"objects", "refs", "HEAD"} {
		if _, err := os.Stat(filepath.Join(dir, element)); err != nil {
			return false
		}
	}

	return true
}

// Locator maps project names to repository directories below a single storage root.
type Locator struct {
	root string
}

// NewLocator returns a Locator for the storage rooted at root.
func NewLocator(root string) Locator {
	return Locator{root: filepath.Clean(root)}
}

// Root returns the storage root.
func (l Locator) Root() string { return l.root }

// GetPath returns the repository path of the project. An error is returned when the name is empty
// or includes constructs trying to perform directory traversal.
func (l Locator) GetPath(name models.ProjectName) (string, error) {
	if name == "" {
		return "", errors.New("empty project name")
	}

	rel, err := ValidateRelativePath(l.root, name.String()+RepositorySuffix)
	if err != nil {
		return "", err
	}

	if rel == "." {
		return "", ErrRelativePathEscapesRoot
	}

	return filepath.Join(l.root, rel), nil
}

// GetRepoPath returns the repository path of the project and verifies it is an existing
// repository.
func (l Locator) GetRepoPath(name models.ProjectName) (string, error) {
	path, err := l.GetPath(name)
	if err != nil {
		return "", err
	}

	if !IsRepository(path) {
		return "", ErrRepositoryNotFound
	}

	return path, nil
}
