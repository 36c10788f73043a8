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

// Package supervisor is the cancellation & timeout supervisor (C8): a manual Terminate API plus
// a background deadline-sweep loop that forces a process to TERMINATED when a step's optional
// per-step deadline elapses.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/productpass/orchestrator/dpp/model"
	"github.com/productpass/orchestrator/dpp/registry"
	"github.com/productpass/orchestrator/dpp/store"
	"github.com/productpass/orchestrator/logging"
)

const (
	sweepInterval  = 50 * time.Millisecond
	initialCap     = 64
	workerCapacity = 1
)

type deadline struct {
	ProcessID string
	StepName  string
	At        time.Time
}

// Supervisor drives spec.md §4.8's cancel/timeout behavior. Its manager/worker goroutine split
// is scaled down from the teacher's `dsp/statemachine.Reconciler`: one manager paces a
// `time.Ticker` over a `gammazero/deque` of pending deadlines, one worker performs the (cheap,
// non-I/O) state flip, since unlike the teacher's HTTP-reconciliation workers this job never
// blocks on the network.
type Supervisor struct {
	ctx      context.Context
	store    *store.Store
	registry *registry.Registry

	mu sync.Mutex
	q  *deque.Deque[deadline]
	c  chan deadline

	wg sync.WaitGroup
}

// New returns a Supervisor. Call Run to start its background sweep loop.
func New(ctx context.Context, s *store.Store, r *registry.Registry) *Supervisor {
	q := deque.New[deadline](initialCap)
	return &Supervisor{
		ctx:      ctx,
		store:    s,
		registry: r,
		q:        q,
		c:        make(chan deadline, workerCapacity),
	}
}

// Run starts the manager and worker goroutines. It does not block.
func (s *Supervisor) Run() {
	s.wg.Add(2)
	go s.manager()
	go s.worker()
}

// Wait blocks until the supervisor's goroutines have exited, which happens once its context is
// cancelled.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// ScheduleDeadline arms a per-step deadline for a process, per spec.md §4.8's "optional per-step
// deadlines enforced by wrapping the poll loop in a timeout". If the step completes before the
// deadline, the caller has no obligation to cancel it: an expired deadline for an already
// terminal process is a harmless no-op (the forced TERMINATED transition on a terminal process
// errors, is logged, and dropped).
func (s *Supervisor) ScheduleDeadline(processID, stepName string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.q.PushBack(deadline{ProcessID: processID, StepName: stepName, At: at})
}

// Terminate is the manual cancellation API spec.md §4.8 describes: it moves the process to
// TERMINATED in both the journal-backed store and the live registry, the latter cancelling the
// context of whatever driver is currently attached so its next poll iteration observes the
// abort.
func (s *Supervisor) Terminate(processID string) error {
	logger := logging.Extract(s.ctx)
	if _, err := s.store.SetState(
		processID, model.ProcessStates.TERMINATED, "terminate", model.History{Status: "TERMINATED"}, false,
	); err != nil {
		return err
	}
	if err := s.registry.SignalTerminate(processID); err != nil {
		logger.Error("could not signal registry termination", "processId", processID, "err", err)
		return err
	}
	return nil
}

func (s *Supervisor) manager() {
	defer s.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.q.Len() == 0 {
				s.mu.Unlock()
				continue
			}
			d := s.q.PopFront()
			s.mu.Unlock()

			if time.Now().Before(d.At) {
				s.mu.Lock()
				s.q.PushBack(d)
				s.mu.Unlock()
				continue
			}
			select {
			case s.c <- d:
			case <-s.ctx.Done():
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Supervisor) worker() {
	defer s.wg.Done()
	logger := logging.Extract(s.ctx)
	for {
		select {
		case d := <-s.c:
			if s.registry.IsTerminated(d.ProcessID) {
				continue
			}
			logger.Info("step deadline exceeded, forcing termination", "processId", d.ProcessID, "step", d.StepName)
			if _, err := s.store.SetState(
				d.ProcessID, model.ProcessStates.TERMINATED, "timeout", model.History{Status: "FAILED"}, false,
			); err != nil {
				logger.Error("could not persist timeout termination", "processId", d.ProcessID, "err", err)
				continue
			}
			if err := s.registry.SignalTerminate(d.ProcessID); err != nil {
				logger.Error("could not signal registry termination on timeout", "processId", d.ProcessID, "err", err)
			}
		case <-s.ctx.Done():
			return
		}
	}
}
