package datastore

import (
	"context"
	"sort"
	"sync"

	"gitlab.com/gitlab-org/rename-project/internal/models"
)

type watchKey struct {
	account models.AccountID
	project models.ProjectName
	filter  string
}

// MemoryStore is an in-memory MetadataStore. It is used when no database is configured and in
// tests.
type MemoryStore struct {
	sync.RWMutex
	changes map[models.ChangeID]models.ProjectName
	watches map[watchKey][]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		changes: map[models.ChangeID]models.ProjectName{},
		watches: map[watchKey][]string{},
	}
}

// AddChange records the change as owned by the project.
func (s *MemoryStore) AddChange(_ context.Context, id models.ChangeID, project models.ProjectName) error {
	s.Lock()
	defer s.Unlock()
	s.changes[id] = project
	return nil
}

// AddWatch records the watch entry, replacing any entry with the same account, project and filter.
func (s *MemoryStore) AddWatch(_ context.Context, entry models.WatchEntry) error {
	s.Lock()
	defer s.Unlock()
	s.watches[watchKey{entry.Account, entry.Project, entry.Filter}] = entry.Clone().NotifyTypes
	return nil
}

// ChangeIDs returns the ids of the changes owned by the project in ascending order.
func (s *MemoryStore) ChangeIDs(_ context.Context, project models.ProjectName) ([]models.ChangeID, error) {
	s.RLock()
	defer s.RUnlock()

	var ids []models.ChangeID
	for id, owner := range s.changes {
		if owner == project {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Retarget points the changes to the project. Nothing is modified if any change is unknown.
func (s *MemoryStore) Retarget(_ context.Context, ids []models.ChangeID, project models.ProjectName) error {
	s.Lock()
	defer s.Unlock()

	for _, id := range ids {
		if _, ok := s.changes[id]; !ok {
			return ChangeNotFoundError{ID: id}
		}
	}

	for _, id := range ids {
		s.changes[id] = project
	}

	return nil
}

// OwningProject returns the project owning the change.
func (s *MemoryStore) OwningProject(_ context.Context, id models.ChangeID) (models.ProjectName, error) {
	s.RLock()
	defer s.RUnlock()

	project, ok := s.changes[id]
	if !ok {
		return "", ChangeNotFoundError{ID: id}
	}
	return project, nil
}

// WatchingAccounts returns the accounts watching the project in ascending order.
func (s *MemoryStore) WatchingAccounts(_ context.Context, project models.ProjectName) ([]models.AccountID, error) {
	s.RLock()
	defer s.RUnlock()

	seen := map[models.AccountID]struct{}{}
	var accounts []models.AccountID
	for key := range s.watches {
		if key.project != project {
			continue
		}
		if _, ok := seen[key.account]; ok {
			continue
		}
		seen[key.account] = struct{}{}
		accounts = append(accounts, key.account)
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts, nil
}

// RewriteWatch moves the account's watch entries from one project to the other.
func (s *MemoryStore) RewriteWatch(_ context.Context, account models.AccountID, from, to models.ProjectName) error {
	s.Lock()
	defer s.Unlock()

	var old []watchKey
	for key := range s.watches {
		if key.account == account && key.project == from {
			old = append(old, key)
		}
	}

	for _, key := range old {
		s.watches[watchKey{account, to, key.filter}] = s.watches[key]
	}
	for _, key := range old {
		delete(s.watches, key)
	}

	return nil
}

// Watches returns the watch entries of the account ordered by project and filter.
func (s *MemoryStore) Watches(_ context.Context, account models.AccountID) ([]models.WatchEntry, error) {
	s.RLock()
	defer s.RUnlock()

	var entries []models.WatchEntry
	for key, notifyTypes := range s.watches {
		if key.account != account {
			continue
		}
		entries = append(entries, models.WatchEntry{
			Account:     key.account,
			Project:     key.project,
			Filter:      key.filter,
			NotifyTypes: append([]string(nil), notifyTypes...),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Project != entries[j].Project {
			return entries[i].Project < entries[j].Project
		}
		return entries[i].Filter < entries[j].Filter
	})
	return entries, nil
}
