package rename

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidName is returned when the new project name is empty or doesn't match the
	// configured pattern.
	ErrInvalidName = errors.New("invalid project name")
	// ErrProjectNotFound is returned when the project to rename does not exist.
	ErrProjectNotFound = errors.New("project not found")
	// ErrDestinationExists is returned when a project with the new name exists already.
	ErrDestinationExists = errors.New("a project with this name already exists, choose a different name")
	// ErrDefaultProject is returned when renaming one of the default projects.
	ErrDefaultProject = errors.New("cannot rename a default project")
	// ErrPermissionDenied is returned when the caller may not rename the project.
	ErrPermissionDenied = errors.New("not allowed to rename project")
	// ErrTooManyChanges is returned when the project owns more changes than allowed.
	ErrTooManyChanges = errors.New("number of changes exceeds the allowed limit")
	// ErrCancelled is returned when the caller declined to rename a project with many changes.
	ErrCancelled = errors.New("rename cancelled due to number of changes exceeding warning limit")
)

// StepFailure is returned when a step of the saga failed and every completed step has been
// compensated.
type StepFailure struct {
	Step  StepKind
	Cause error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("%s step: %v", e.Step, e.Cause)
}

// Unwrap returns the cause.
func (e *StepFailure) Unwrap() error { return e.Cause }

// RevertFailure is returned when compensating a failed saga failed as well. The project is left
// in an inconsistent state which needs manual intervention.
type RevertFailure struct {
	OriginalCause error
	RevertCause   error
}

func (e *RevertFailure) Error() string {
	return fmt.Sprintf("revert failed: %v (original failure: %v)", e.RevertCause, e.OriginalCause)
}

// Unwrap returns both causes.
func (e *RevertFailure) Unwrap() []error { return []error{e.OriginalCause, e.RevertCause} }
