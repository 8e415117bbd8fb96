// Package models holds the identifiers shared by the rename saga and the stores it mutates.
package models

import (
	"fmt"
	"strconv"
)

// ProjectName is the opaque name of a project. It is the key used by every store: the on-disk
// repository location, the project cache, the metadata store and the search index.
type ProjectName string

// String returns the plain project name.
func (n ProjectName) String() string { return string(n) }

// ChangeID identifies a unit of work owned by a project.
type ChangeID int64

// String returns the decimal form of the change id.
func (id ChangeID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseChangeID parses the decimal form produced by ChangeID.String.
func ParseChangeID(s string) (ChangeID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse change id %q: %w", s, err)
	}
	return ChangeID(v), nil
}

// AccountID identifies a user account owning watch entries.
type AccountID int64

// WatchEntry is an account's subscription to notifications about a project. Filter is an
// optional query narrowing down the notified changes.
type WatchEntry struct {
	Account AccountID
	Project ProjectName
	Filter  string
	// NotifyTypes lists the notification kinds (e.g. "new_changes", "all_comments").
	NotifyTypes []string
}

// Clone returns a deep copy of the entry.
func (w WatchEntry) Clone() WatchEntry {
	clone := w
	clone.NotifyTypes = make([]string, len(w.NotifyTypes))
	copy(clone.NotifyTypes, w.NotifyTypes)
	return clone
}

// Project is the cached view of a project.
type Project struct {
	Name ProjectName
	// Path is the absolute location of the project's repository on disk.
	Path string
}
