// Package rename coordinates the rename of a project across every store indexing it by name.
// A rename runs as a saga of four ordered steps; when a step fails, the steps which completed
// are compensated in the order they were applied.
package rename

import (
	"gitlab.com/gitlab-org/rename-project/internal/log"
	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// Request describes a single rename. It must not be modified once the rename started.
type Request struct {
	Old models.ProjectName
	New models.ProjectName
	// ContinueDespiteChangeVolume skips the confirmation asked for projects with many changes.
	ContinueDespiteChangeVolume bool
	// ReplicateOnly marks a rename received from another node. Only the repository is moved.
	ReplicateOnly bool
	// Admin is set when the caller administrates this node.
	Admin bool
	// User is the caller, recorded in the audit log.
	User log.AuditUser
}

// StepKind identifies a saga step. The order of the constants is the forward execution order.
type StepKind int

const (
	// Filesystem moves the repository directory.
	Filesystem StepKind = iota
	// Cache evicts the old project from the project cache and seeds the new one.
	Cache
	// Metadata retargets change ownership and account watch entries.
	Metadata
	// Index reindexes the changes under the new project.
	Index

	stepCount
)

func (k StepKind) String() string {
	switch k {
	case Filesystem:
		return "filesystem"
	case Cache:
		return "cache"
	case Metadata:
		return "metadata"
	case Index:
		return "index"
	default:
		return "unknown"
	}
}

// SagaState records the steps of one rename which completed successfully, in completion
// order. The zero value is the empty state. A SagaState is never mutated: With returns a copy.
type SagaState struct {
	completed []StepKind
}

// With returns a new state with kind appended.
func (s SagaState) With(kind StepKind) SagaState {
	completed := make([]StepKind, len(s.completed), len(s.completed)+1)
	copy(completed, s.completed)
	return SagaState{completed: append(completed, kind)}
}

// Completed returns the completed steps in completion order.
func (s SagaState) Completed() []StepKind {
	return append([]StepKind(nil), s.completed...)
}

// Has reports whether kind completed.
func (s SagaState) Has(kind StepKind) bool {
	for _, k := range s.completed {
		if k == kind {
			return true
		}
	}
	return false
}

// Last returns the most recently completed step.
func (s SagaState) Last() (StepKind, bool) {
	if len(s.completed) == 0 {
		return 0, false
	}
	return s.completed[len(s.completed)-1], true
}
