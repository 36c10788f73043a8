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

package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/productpass/orchestrator/dpp/errs"
	"github.com/productpass/orchestrator/dpp/model"
	"github.com/productpass/orchestrator/dpp/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r, err := registry.New(ctx)
	require.NoError(t, err)
	return r
}

func TestRegisterAndGetState(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register("proc-1"))

	state, err := r.GetState("proc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.CREATED, state)
}

func TestGetStateUnknownProcess(t *testing.T) {
	r := newRegistry(t)
	_, err := r.GetState("nope")
	assert.ErrorIs(t, err, errs.ErrStorage)
}

func TestSetStateForwardOnly(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register("proc-1"))

	require.NoError(t, r.SetState("proc-1", model.ProcessStates.RUNNING))
	err := r.SetState("proc-1", model.ProcessStates.COMPLETED)
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	require.NoError(t, r.SetState("proc-1", model.ProcessStates.NEGOTIATED))
	require.NoError(t, r.SetState("proc-1", model.ProcessStates.COMPLETED))
}

func TestSetStateTerminatedFromNonTerminalState(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register("proc-1"))
	require.NoError(t, r.SetState("proc-1", model.ProcessStates.RUNNING))
	require.NoError(t, r.SetState("proc-1", model.ProcessStates.TERMINATED))

	state, err := r.GetState("proc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.TERMINATED, state)
}

func TestSignalTerminateCancelsAttachedHandle(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register("proc-1"))

	driverCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.Attach("proc-1", registry.DriverHandle{Cancel: cancel, Done: done})

	require.NoError(t, r.SignalTerminate("proc-1"))

	select {
	case <-driverCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("driver context was not cancelled")
	}

	assert.True(t, r.IsTerminated("proc-1"))
}

func TestIsTerminatedFalseForUnknownProcess(t *testing.T) {
	r := newRegistry(t)
	assert.False(t, r.IsTerminated("nope"))
}

func TestDetachRemovesHandle(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register("proc-1"))

	_, cancel := context.WithCancel(context.Background())
	r.Attach("proc-1", registry.DriverHandle{Cancel: cancel, Done: make(chan struct{})})
	r.Detach("proc-1")

	// SignalTerminate must not panic or error when no handle is attached anymore.
	require.NoError(t, r.SignalTerminate("proc-1"))
}
