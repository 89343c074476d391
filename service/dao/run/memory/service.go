// Package memory keeps runs in process memory; the default for embedded
// engines and tests.
package memory

import (
	"context"
	"sync"

	"github.com/gantryci/gantry/runtime/execution"
	"github.com/gantryci/gantry/service/dao"
	"github.com/gantryci/gantry/service/dao/criteria"
)

// Service implements an in-memory, thread-safe store for runs. Saving an
// already-known run merges the mutable fields into the stored instance so
// concurrent holders observe the update.
type Service struct {
	runs map[string]*execution.Run
	mux  sync.RWMutex
}

var _ dao.Service[string, execution.Run] = (*Service)(nil)

func New() *Service {
	return &Service{runs: map[string]*execution.Run{}}
}

func (s *Service) Save(_ context.Context, r *execution.Run) error {
	if r == nil {
		return dao.ErrNilEntity
	}
	if r.ID == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if existing, ok := s.runs[r.ID]; ok && existing != nil {
		existing.CopyFrom(r)
	} else {
		s.runs[r.ID] = r
	}
	return nil
}

func (s *Service) Load(_ context.Context, id string) (*execution.Run, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mux.RLock()
	r, ok := s.runs[id]
	s.mux.RUnlock()

	if !ok {
		return nil, dao.ErrNotFound
	}
	return r, nil
}

func (s *Service) Delete(_ context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if _, ok := s.runs[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.runs, id)
	return nil
}

func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*execution.Run, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	out := make([]*execution.Run, 0, len(s.runs))
	for _, r := range s.runs {
		if !criteria.FilterByState(r.State, parameters) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
