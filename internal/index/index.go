// Package index implements the change search index on top of an embedded Badger key/value
// store. Every change is stored under two keys: "c/<id>" holding the owning project and
// "p/<project>/<id>" allowing changes to be listed by project.
package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// BadgerIndex is the search index of changes.
type BadgerIndex struct {
	db *badger.DB
}

type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warningf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Open opens the index stored at cfg.Path. The index is kept in memory when no path is
// configured.
func Open(cfg config.Index, logger logrus.FieldLogger) (*BadgerIndex, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}

	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: logger.WithField("component", "index")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &BadgerIndex{db: db}, nil
}

func changeKey(id models.ChangeID) []byte {
	return []byte("c/" + id.String())
}

func projectPrefix(project models.ProjectName) []byte {
	return []byte("p/" + project.String() + "/")
}

func projectKey(project models.ProjectName, id models.ChangeID) []byte {
	return append(projectPrefix(project), id.String()...)
}

// Index (re)indexes the change under the project, dropping any entry it had under another
// project.
func (i *BadgerIndex) Index(_ context.Context, id models.ChangeID, project models.ProjectName) error {
	return i.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(changeKey(id))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("get change %d: %w", id, err)
		default:
			previous, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read change %d: %w", id, err)
			}
			if err := txn.Delete(projectKey(models.ProjectName(previous), id)); err != nil {
				return fmt.Errorf("delete change %d: %w", id, err)
			}
		}

		if err := txn.Set(changeKey(id), []byte(project)); err != nil {
			return fmt.Errorf("set change %d: %w", id, err)
		}
		return txn.Set(projectKey(project, id), nil)
	})
}

// Project returns the project the change is indexed under.
func (i *BadgerIndex) Project(_ context.Context, id models.ChangeID) (models.ProjectName, bool, error) {
	var project models.ProjectName
	err := i.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(changeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			project = models.ProjectName(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return project, true, nil
}

// Query returns the ids of all changes indexed under the project in ascending order.
func (i *BadgerIndex) Query(_ context.Context, project models.ProjectName) ([]models.ChangeID, error) {
	prefix := projectPrefix(project)

	var ids []models.ChangeID
	err := i.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw := bytes.TrimPrefix(it.Item().Key(), prefix)
			// changes of nested projects share the prefix
			if bytes.IndexByte(raw, '/') >= 0 {
				continue
			}

			id, err := strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return fmt.Errorf("parse key %q: %w", it.Item().Key(), err)
			}
			ids = append(ids, models.ChangeID(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// keys sort lexically, ids numerically
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

// Close closes the index.
func (i *BadgerIndex) Close() error {
	return i.db.Close()
}
