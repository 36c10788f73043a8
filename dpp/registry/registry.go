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

// Package registry is the process data model (C3): the single process-wide in-memory registry
// mapping a processId to its current scheduling state and its live driver handle.
package registry

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/productpass/orchestrator/dpp/errs"
	"github.com/productpass/orchestrator/dpp/model"
	"github.com/productpass/orchestrator/logging"
)

const gcInterval = 5 * time.Minute

// DriverHandle is the live, non-serializable half of a registry entry: the means to cancel a
// running driver and learn when it has stopped. It cannot round-trip through the KV store, so
// it lives in a separate in-memory map keyed by processId.
type DriverHandle struct {
	Cancel context.CancelFunc
	Done   <-chan struct{}
}

// Registry is the process-wide live-process state index. `currentState` lives in an in-memory
// badger instance (gob-encoded, following the teacher's generic get/put helpers); driver
// handles live in a sync.Map alongside it.
type Registry struct {
	ctx context.Context
	db  *badger.DB

	handles sync.Map // processId -> DriverHandle

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Registry backed by an in-memory badger instance, and starts its background
// garbage-collection loop.
func New(ctx context.Context) (*Registry, error) {
	opt := badger.DefaultOptions("").WithInMemory(true)
	db, err := badger.Open(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open in-memory registry: %w", errs.ErrStorage, err)
	}
	r := &Registry{
		ctx:   ctx,
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
	go r.maintenance()
	return r, nil
}

// maintenance runs badger's own value-log garbage collection periodically, following the
// teacher's pattern for long-lived in-memory badger instances.
func (r *Registry) maintenance() {
	logger := logging.Extract(r.ctx)
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.db.RunValueLogGC(0.7); err != nil && err != badger.ErrNoRewrite {
				logger.Error("registry garbage collection did not complete cleanly", "err", err)
			}
		case <-r.ctx.Done():
			r.db.Close()
			return
		}
	}
}

func (r *Registry) lockFor(processID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[processID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[processID] = l
	}
	return l
}

func get(db *badger.DB, key []byte) (model.ProcessState, error) {
	var state model.ProcessState
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			dec := gob.NewDecoder(bytes.NewReader(val))
			return dec.Decode(&state)
		})
	})
	return state, err
}

func put(db *badger.DB, key []byte, state model.ProcessState) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return fmt.Errorf("could not encode registry state in gob: %w", err)
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf.Bytes())
	})
}

// Register adds processId to the registry in CREATED state. Registering an already-known
// process is idempotent.
func (r *Registry) Register(processID string) error {
	lock := r.lockFor(processID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := get(r.db, []byte(processID)); err == nil {
		return nil
	}
	if err := put(r.db, []byte(processID), model.ProcessStates.CREATED); err != nil {
		return fmt.Errorf("%w: could not register process %s: %w", errs.ErrStorage, processID, err)
	}
	return nil
}

// GetState returns the process's current scheduling state.
func (r *Registry) GetState(processID string) (model.ProcessState, error) {
	lock := r.lockFor(processID)
	lock.Lock()
	defer lock.Unlock()

	state, err := get(r.db, []byte(processID))
	if err != nil {
		return 0, fmt.Errorf("%w: no such process %s in registry", errs.ErrStorage, processID)
	}
	return state, nil
}

// SetState is the CAS-like transition guard described in spec.md §4.3: CREATED -> RUNNING ->
// NEGOTIATED -> COMPLETED is the only forward path, TERMINATED and FAILED are sinks; TERMINATED
// is reachable from any non-terminal state (invariant 1).
func (r *Registry) SetState(processID string, to model.ProcessState) error {
	lock := r.lockFor(processID)
	lock.Lock()
	defer lock.Unlock()

	from, err := get(r.db, []byte(processID))
	if err != nil {
		return fmt.Errorf("%w: no such process %s in registry", errs.ErrStorage, processID)
	}
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: cannot move process %s from %s to %s", errs.ErrInvalidState, processID, from, to)
	}
	if err := put(r.db, []byte(processID), to); err != nil {
		return fmt.Errorf("%w: could not persist state for process %s: %w", errs.ErrStorage, processID, err)
	}
	return nil
}

// Attach records the live driver handle for a process, replacing any previous one.
func (r *Registry) Attach(processID string, handle DriverHandle) {
	r.handles.Store(processID, handle)
}

// Detach removes the live driver handle, typically called by the driver itself on exit.
func (r *Registry) Detach(processID string) {
	r.handles.Delete(processID)
}

// SignalTerminate transitions the process to TERMINATED and, if a driver is currently attached,
// cancels its context so the next poll iteration observes the abort (spec.md §4.8/§8 property 5).
func (r *Registry) SignalTerminate(processID string) error {
	lock := r.lockFor(processID)
	lock.Lock()
	if err := put(r.db, []byte(processID), model.ProcessStates.TERMINATED); err != nil {
		lock.Unlock()
		return fmt.Errorf("%w: could not terminate process %s: %w", errs.ErrStorage, processID, err)
	}
	lock.Unlock()

	if v, ok := r.handles.Load(processID); ok {
		handle, ok := v.(DriverHandle)
		if ok && handle.Cancel != nil {
			handle.Cancel()
		}
	}
	return nil
}

// IsTerminated is the abort predicate drivers poll on every loop iteration.
func (r *Registry) IsTerminated(processID string) bool {
	state, err := r.GetState(processID)
	if err != nil {
		return false
	}
	return state == model.ProcessStates.TERMINATED
}
