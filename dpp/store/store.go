// Copyright 2024 go-dataspace
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store is the process store (C2): creates, looks up, and atomically updates Process
// records, persisting every change through the journal before it becomes observable.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/productpass/orchestrator/dpp/errs"
	"github.com/productpass/orchestrator/dpp/journal"
	"github.com/productpass/orchestrator/dpp/model"
	"github.com/productpass/orchestrator/dpp/wire"
)

// Store is the in-memory process table backed by the journal.
type Store struct {
	j *journal.Journal

	mu        sync.Mutex
	processes map[string]*model.Process
	locks     map[string]*sync.Mutex
}

// New returns a Store backed by the given journal.
func New(j *journal.Journal) *Store {
	return &Store{
		j:         j,
		processes: make(map[string]*model.Process),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create allocates a new Process in CREATED state and persists it.
func (s *Store) Create(endpoint, bpn string) (*model.Process, error) {
	id := uuid.NewString()
	now := time.Now().UnixMilli()
	p := &model.Process{
		ID:         id,
		State:      model.ProcessStates.CREATED,
		CreatedAt:  now,
		ModifiedAt: now,
		Endpoint:   endpoint,
		BPN:        bpn,
		History:    map[string]model.History{},
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.j.WriteProcess(p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.processes[id] = p
	s.mu.Unlock()

	return p.Copy(), nil
}

// Get returns a snapshot of the Process for the given id.
func (s *Store) Get(id string) (*model.Process, error) {
	s.mu.Lock()
	p, ok := s.processes[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no such process %s", errs.ErrStorage, id)
	}
	return p.Copy(), nil
}

// mutate runs fn against the stored Process under its per-id lock, persists the in-memory
// update via the journal, and rolls the in-memory state back if persistence fails. This is the
// single composite pattern every save* operation below uses, per spec.md §4.2's invariant that
// a save is either wholly applied or wholly rolled back.
func (s *Store) mutate(id string, fn func(p *model.Process) error) (*model.Process, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	p, ok := s.processes[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no such process %s", errs.ErrStorage, id)
	}

	before := p.Copy()
	if err := fn(p); err != nil {
		return nil, err
	}
	p.ModifiedAt = time.Now().UnixMilli()

	if err := s.j.WriteProcess(p); err != nil {
		s.mu.Lock()
		s.processes[id] = before
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: rolled back update to process %s: %w", errs.ErrStorage, id, err)
	}
	return p.Copy(), nil
}

func historyKey(stepName string, isRegistry bool) string {
	if isRegistry {
		return "registry:" + stepName
	}
	return stepName
}

// SetStatus appends a History entry for the named step and makes it part of the Process record.
func (s *Store) SetStatus(id, stepName string, h model.History, isRegistry bool) (*model.Process, error) {
	return s.mutate(id, func(p *model.Process) error {
		entry, err := s.j.Append(id, stepName, h, isRegistry)
		if err != nil {
			return err
		}
		p.History[historyKey(stepName, isRegistry)] = entry
		return nil
	})
}

// SetState transitions the Process's own state field, enforcing the forward-only invariant and
// writing a History entry before the new state becomes observable (invariants 1 and 3).
func (s *Store) SetState(id string, to model.ProcessState, stepName string, h model.History, isRegistry bool) (*model.Process, error) {
	return s.mutate(id, func(p *model.Process) error {
		if !model.CanTransition(p.State, to) {
			return fmt.Errorf("%w: cannot move process %s from %s to %s", errs.ErrInvalidState, id, p.State, to)
		}
		entry, err := s.j.Append(id, stepName, h, isRegistry)
		if err != nil {
			return err
		}
		p.History[historyKey(stepName, isRegistry)] = entry
		p.State = to
		return nil
	})
}

// SaveNegotiationRequest records a `negotiation-request` history entry (status REQUESTED) whose
// id is idResponse's id: the processId as a placeholder, then the remote id once it arrives. The
// request body req itself is not persisted.
func (s *Store) SaveNegotiationRequest(
	id string, req wire.NegotiationRequest, idResponse wire.IdResponse, isRegistry bool,
) (*model.Process, error) {
	return s.SetStatus(id, "negotiation-request", model.History{ID: idResponse.ID, Status: "REQUESTED"}, isRegistry)
}

// SaveTransferRequest records a `transfer-request` history entry (status REQUESTED) whose id is
// idResponse's id. The request body req itself is not persisted.
func (s *Store) SaveTransferRequest(
	id string, req wire.TransferRequest, idResponse wire.IdResponse, isRegistry bool,
) (*model.Process, error) {
	return s.SetStatus(id, "transfer-request", model.History{ID: idResponse.ID, Status: "REQUESTED"}, isRegistry)
}

// SaveNegotiation persists the final (or in-progress) observed Negotiation state.
func (s *Store) SaveNegotiation(id string, n model.Negotiation, isRegistry bool) (*model.Process, error) {
	return s.SetStatus(id, "negotiation", model.History{ID: n.ID, Status: n.State.String()}, isRegistry)
}

// SaveTransfer persists the final (or in-progress) observed Transfer state.
func (s *Store) SaveTransfer(id string, t model.Transfer, isRegistry bool) (*model.Process, error) {
	return s.SetStatus(id, "transfer", model.History{ID: t.ID, Status: t.State.String()}, isRegistry)
}

// SaveJob replaces the JobHistory entry for the given search/endpoint id wholesale under the
// process's lock — resolving spec.md §9's jobs-map mutation question by never mutating a
// retained map reference, only ever swapping in a fresh map with the one key updated.
func (s *Store) SaveJob(id, searchID string, job model.JobHistory) (*model.Process, error) {
	return s.mutate(id, func(p *model.Process) error {
		fresh := make(map[string]model.JobHistory, len(p.Jobs)+1)
		for k, v := range p.Jobs {
			fresh[k] = v
		}
		fresh[searchID] = job
		p.Jobs = fresh
		return nil
	})
}
