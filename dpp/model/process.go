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

// Package model contains the data model the orchestration engine owns: processes, their
// journal entries, and the remote negotiation/transfer state machines it observes.
package model

import (
	"fmt"
	"slices"
)

// ProcessState is the state of a Process, see the ProcessStates struct for the valid values.
type ProcessState uint8

const (
	processCreated ProcessState = iota
	processRunning
	processNegotiated
	processCompleted
	processFailed
	processTerminated
)

// ProcessStates namespaces the valid ProcessState values, following the same enum-as-struct
// idiom used throughout this codebase for its remote-observed state machines.
var ProcessStates = struct {
	CREATED    ProcessState
	RUNNING    ProcessState
	NEGOTIATED ProcessState
	COMPLETED  ProcessState
	FAILED     ProcessState
	TERMINATED ProcessState
}{processCreated, processRunning, processNegotiated, processCompleted, processFailed, processTerminated}

func (s ProcessState) String() string {
	switch s {
	case processCreated:
		return "CREATED"
	case processRunning:
		return "RUNNING"
	case processNegotiated:
		return "NEGOTIATED"
	case processCompleted:
		return "COMPLETED"
	case processFailed:
		return "FAILED"
	case processTerminated:
		return "TERMINATED"
	default:
		panic(fmt.Sprintf("unexpected model.ProcessState: %#v", s))
	}
}

// ParseProcessState parses a process state string, as would be needed when reloading the
// journal from disk.
func ParseProcessState(s string) (ProcessState, error) {
	switch s {
	case "CREATED":
		return ProcessStates.CREATED, nil
	case "RUNNING":
		return ProcessStates.RUNNING, nil
	case "NEGOTIATED":
		return ProcessStates.NEGOTIATED, nil
	case "COMPLETED":
		return ProcessStates.COMPLETED, nil
	case "FAILED":
		return ProcessStates.FAILED, nil
	case "TERMINATED":
		return ProcessStates.TERMINATED, nil
	default:
		return 0, fmt.Errorf("not a valid process state: %s", s)
	}
}

// IsTerminal returns whether the state is one the engine no longer schedules work for.
func (s ProcessState) IsTerminal() bool {
	return s == processCompleted || s == processFailed || s == processTerminated
}

// validProcessTransitions encodes invariant 1: forward-only, except that TERMINATED is
// reachable from any non-terminal state at any time.
var validProcessTransitions = map[ProcessState][]ProcessState{
	ProcessStates.CREATED:    {ProcessStates.RUNNING, ProcessStates.TERMINATED},
	ProcessStates.RUNNING:    {ProcessStates.NEGOTIATED, ProcessStates.FAILED, ProcessStates.TERMINATED},
	ProcessStates.NEGOTIATED: {ProcessStates.COMPLETED, ProcessStates.FAILED, ProcessStates.TERMINATED},
	ProcessStates.COMPLETED:  {},
	ProcessStates.FAILED:     {},
	ProcessStates.TERMINATED: {},
}

// CanTransition reports whether moving from `from` to `to` is a legal Process transition.
func CanTransition(from, to ProcessState) bool {
	if to == ProcessStates.TERMINATED && !from.IsTerminal() {
		return true
	}
	return slices.Contains(validProcessTransitions[from], to)
}

// JobHistory is per-registry-endpoint bookkeeping for the C7 fan-out path, supplementing the
// distilled spec with the shape original_source's Status.jobs map actually carries.
type JobHistory struct {
	ID         string   `json:"id"`
	ProcessID  string   `json:"processId"`
	TransferID string   `json:"transferId,omitempty"`
	ParentID   string   `json:"parentId,omitempty"`
	Children   []string `json:"children,omitempty"`
	Status     string   `json:"status"`
}

// Process is the unit of work the engine owns.
type Process struct {
	ID         string                `json:"id"`
	State      ProcessState          `json:"status"`
	CreatedAt  int64                 `json:"created"`
	ModifiedAt int64                 `json:"modified"`
	Endpoint   string                `json:"endpoint"`
	BPN        string                `json:"bpn"`
	Jobs       map[string]JobHistory `json:"jobs,omitempty"`
	History    map[string]History    `json:"history"`
	TreeState  string                `json:"treeState,omitempty"`
	Children   *bool                 `json:"children,omitempty"`
}

// History is one journaled event for a process step.
type History struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Started int64  `json:"started"`
	Updated int64  `json:"updated"`
}

// Copy returns a deep copy of the Process, so callers can read a snapshot without racing the
// store's writers.
func (p *Process) Copy() *Process {
	cp := *p
	cp.History = make(map[string]History, len(p.History))
	for k, v := range p.History {
		cp.History[k] = v
	}
	if p.Jobs != nil {
		cp.Jobs = make(map[string]JobHistory, len(p.Jobs))
		for k, v := range p.Jobs {
			cp.Jobs[k] = v
		}
	}
	if p.Children != nil {
		b := *p.Children
		cp.Children = &b
	}
	return &cp
}
