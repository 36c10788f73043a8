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

// Package journal is the durable per-process event log (C1): one directory per processId holding
// a process.json status file and a history/ directory of per-step event files.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/productpass/orchestrator/dpp/errs"
	"github.com/productpass/orchestrator/dpp/model"
)

const (
	processFile   = "process.json"
	historyDir    = "history"
	registryDir   = "registry"
	dirPerm       = 0o750
	filePerm      = 0o640
	tempFileGlob  = ".tmp-*"
)

// Journal is a filesystem-backed history journal rooted at a single directory.
type Journal struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Journal rooted at root. The directory is created if it doesn't exist.
func New(root string) (*Journal, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("%w: could not create journal root %s: %w", errs.ErrStorage, root, err)
	}
	return &Journal{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

// lockFor returns the per-processId mutex, creating it on first use. This mirrors the
// per-entity-id locking pattern used elsewhere in this codebase for serializing concurrent
// writers to the same logical record.
func (j *Journal) lockFor(processID string) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, ok := j.locks[processID]
	if !ok {
		l = &sync.Mutex{}
		j.locks[processID] = l
	}
	return l
}

func (j *Journal) processDir(processID string) string {
	return filepath.Join(j.root, processID)
}

func (j *Journal) stepPath(processID, stepName string, isRegistry bool) string {
	dir := historyDir
	if isRegistry {
		dir = filepath.Join(historyDir, registryDir)
	}
	return filepath.Join(j.processDir(processID), dir, stepName+".json")
}

// writeAtomic writes data to path by writing to a temp file in the same directory and renaming
// it into place, so concurrent readers never observe a partially-written file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("%w: could not create directory %s: %w", errs.ErrStorage, dir, err)
	}
	tmp, err := os.CreateTemp(dir, tempFileGlob)
	if err != nil {
		return fmt.Errorf("%w: could not create temp file in %s: %w", errs.ErrStorage, dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: could not write temp file %s: %w", errs.ErrStorage, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: could not close temp file %s: %w", errs.ErrStorage, tmpName, err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		return fmt.Errorf("%w: could not chmod temp file %s: %w", errs.ErrStorage, tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: could not rename %s to %s: %w", errs.ErrStorage, tmpName, path, err)
	}
	return nil
}

// Append writes a History entry for the given process/step. `started` is preserved from the
// first append for that stepName; `updated` is always set to the current instant.
func (j *Journal) Append(processID, stepName string, h model.History, isRegistry bool) (model.History, error) {
	lock := j.lockFor(processID)
	lock.Lock()
	defer lock.Unlock()

	path := j.stepPath(processID, stepName, isRegistry)
	now := time.Now().UnixMilli()

	existing, err := readHistory(path)
	switch {
	case err == nil:
		h.Started = existing.Started
	case os.IsNotExist(err):
		if h.Started == 0 {
			h.Started = now
		}
	default:
		return model.History{}, fmt.Errorf("%w: could not read existing entry %s: %w", errs.ErrStorage, path, err)
	}
	h.Updated = now

	data, err := json.Marshal(h)
	if err != nil {
		return model.History{}, fmt.Errorf("%w: could not marshal history entry: %w", errs.ErrStorage, err)
	}
	if err := writeAtomic(path, data); err != nil {
		return model.History{}, err
	}
	return h, nil
}

func readHistory(path string) (model.History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.History{}, err
	}
	var h model.History
	if err := json.Unmarshal(data, &h); err != nil {
		return model.History{}, fmt.Errorf("%w: could not unmarshal %s: %w", errs.ErrStorage, path, err)
	}
	return h, nil
}

// Read returns the History entry for a given process/step.
func (j *Journal) Read(processID, stepName string, isRegistry bool) (model.History, error) {
	lock := j.lockFor(processID)
	lock.Lock()
	defer lock.Unlock()

	h, err := readHistory(j.stepPath(processID, stepName, isRegistry))
	if err != nil {
		if os.IsNotExist(err) {
			return model.History{}, fmt.Errorf("%w: no such step %s/%s", errs.ErrStorage, processID, stepName)
		}
		return model.History{}, err
	}
	return h, nil
}

// ListSteps returns the step names recorded for a process, sorted for deterministic iteration.
func (j *Journal) ListSteps(processID string, isRegistry bool) ([]string, error) {
	lock := j.lockFor(processID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(j.processDir(processID), historyDir)
	if isRegistry {
		dir = filepath.Join(dir, registryDir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: could not list steps for %s: %w", errs.ErrStorage, processID, err)
	}
	steps := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		steps = append(steps, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(steps)
	return steps, nil
}

// Remove deletes the recorded step, if present. Removing an absent step is not an error.
func (j *Journal) Remove(processID, stepName string, isRegistry bool) error {
	lock := j.lockFor(processID)
	lock.Lock()
	defer lock.Unlock()

	path := j.stepPath(processID, stepName, isRegistry)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: could not remove %s: %w", errs.ErrStorage, path, err)
	}
	return nil
}

// WriteProcess persists the Process's status file. Callers hold the process store's lock for
// processID, so this does not take the journal's own per-process lock for process.json.
func (j *Journal) WriteProcess(p *model.Process) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: could not marshal process %s: %w", errs.ErrStorage, p.ID, err)
	}
	return writeAtomic(filepath.Join(j.processDir(p.ID), processFile), data)
}

// ReadProcess reads a previously-written process.json back into a Process.
func (j *Journal) ReadProcess(processID string) (*model.Process, error) {
	data, err := os.ReadFile(filepath.Join(j.processDir(processID), processFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no such process %s", errs.ErrStorage, processID)
		}
		return nil, fmt.Errorf("%w: could not read process %s: %w", errs.ErrStorage, processID, err)
	}
	var p model.Process
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: could not unmarshal process %s: %w", errs.ErrStorage, processID, err)
	}
	return &p, nil
}
