// Package memory provides a thread-safe in-memory run state store, used in
// tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
	"github.com/pvandervelde/cog-works-sub002/internal/core/runstate"
	"github.com/pvandervelde/cog-works-sub002/pkg/serialization"
)

// Store implements usecases.StateStore over an in-process map. Records go
// through the serializer so the bytes a run reads back are exactly what a
// durable store would return, write-then-read included.
// PRINCIPLES:
// - KISS: Simple map with proper concurrency
// - DIP: Implements the StateStore interface
type Store struct {
	mu         sync.RWMutex
	records    map[string][]byte
	serializer *serialization.Serializer
}

// NewStore creates an empty in-memory store. A nil serializer selects the
// production default (MessagePack + zstd).
func NewStore(serializer *serialization.Serializer) *Store {
	if serializer == nil {
		serializer = serialization.DefaultSerializer()
	}
	return &Store{
		records:    map[string][]byte{},
		serializer: serializer,
	}
}

// WriteState persists one run state snapshot, replacing any prior version.
func (s *Store) WriteState(_ context.Context, runID string, state *runstate.RunState) error {
	data, err := s.serializer.Marshal(state)
	if err != nil {
		return fmt.Errorf("state serialization failed: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[runID] = data
	return nil
}

// ReadState loads the last persisted snapshot for a run.
func (s *Store) ReadState(_ context.Context, runID string) (*runstate.RunState, error) {
	s.mu.RLock()
	data, ok := s.records[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, pipeline.ErrRunNotFound)
	}

	var state runstate.RunState
	if err := s.serializer.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("run %s: %w: %v", runID, pipeline.ErrStateCorrupted, err)
	}
	return &state, nil
}

// Delete removes a run's record, archiving a terminal run.
func (s *Store) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, runID)
	return nil
}

// List returns the run identifiers currently stored.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}
