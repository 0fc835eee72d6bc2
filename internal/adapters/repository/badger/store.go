// Package badger provides an embedded, disk-backed run state store for
// single-host deployments that need crash-resumable runs without an
// external database.
package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
	"github.com/pvandervelde/cog-works-sub002/internal/core/runstate"
	"github.com/pvandervelde/cog-works-sub002/pkg/serialization"
)

const keyPrefix = "run/"

// Store implements usecases.StateStore over an embedded Badger database.
type Store struct {
	db         *badger.DB
	serializer *serialization.Serializer
}

// Open opens (or creates) the database at path. A nil serializer selects the
// production default.
func Open(path string, serializer *serialization.Serializer) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is noisy; callers log around us
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if serializer == nil {
		serializer = serialization.DefaultSerializer()
	}
	return &Store{db: db, serializer: serializer}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteState persists one run state snapshot inside a single transaction, so
// a crash mid-write never leaves a partially visible record.
func (s *Store) WriteState(_ context.Context, runID string, state *runstate.RunState) error {
	data, err := s.serializer.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize run state: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(runID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	return nil
}

// ReadState loads the last persisted snapshot for a run.
func (s *Store) ReadState(_ context.Context, runID string) (*runstate.RunState, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(runID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("run %s: %w", runID, pipeline.ErrRunNotFound)
		}
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}

	var state runstate.RunState
	if err := s.serializer.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("run %s: %w: %v", runID, pipeline.ErrStateCorrupted, err)
	}
	return &state, nil
}

// Delete removes a run's record, archiving a terminal run.
func (s *Store) Delete(_ context.Context, runID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(runKey(runID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete run state: %w", err)
	}
	return nil
}

// List returns the run identifiers currently stored.
func (s *Store) List(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return ids, nil
}

func runKey(runID string) []byte {
	return []byte(keyPrefix + runID)
}
