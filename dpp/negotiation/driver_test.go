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

package negotiation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/productpass/orchestrator/dpp/journal"
	"github.com/productpass/orchestrator/dpp/model"
	"github.com/productpass/orchestrator/dpp/negotiation"
	"github.com/productpass/orchestrator/dpp/protocol"
	"github.com/productpass/orchestrator/dpp/registry"
	"github.com/productpass/orchestrator/dpp/store"
	"github.com/productpass/orchestrator/odrl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDataset() odrl.Dataset {
	return odrl.Dataset{
		AssetID:  "urn:uuid:a1",
		Policies: []odrl.Policy{{PolicyClass: odrl.PolicyClass{ID: "pol-1"}}},
	}
}

func newHarness(t *testing.T, mux *http.ServeMux) (*store.Store, *registry.Registry, *negotiation.Driver, string) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	j, err := journal.New(t.TempDir())
	require.NoError(t, err)
	s := store.New(j)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reg, err := registry.New(ctx)
	require.NoError(t, err)

	client := protocol.New(protocol.Config{
		Endpoint:      srv.URL,
		Management:    "/management",
		Negotiation:   "/negotiation",
		PollInterval:  time.Millisecond,
		RetryDuration: time.Second,
	})

	p, err := s.Create(srv.URL, "BPNL000CONSUMER")
	require.NoError(t, err)
	require.NoError(t, reg.Register(p.ID))
	_, err = s.SetState(p.ID, model.ProcessStates.RUNNING, "scheduled", model.History{Status: "RUNNING"}, false)
	require.NoError(t, err)
	require.NoError(t, reg.SetState(p.ID, model.ProcessStates.RUNNING))

	return s, reg, negotiation.New(s, reg, client), p.ID
}

func TestDriverReachesNegotiatedOnSuccess(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/management/negotiation", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"@id": "neg-1"})
	})
	mux.HandleFunc("/management/negotiation/neg-1", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		state := "NEGOTIATING"
		if n >= 2 {
			state = "FINALIZED"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"edc:state": state})
	})

	s, reg, d, processID := newHarness(t, mux)

	result, err := d.Run(context.Background(), negotiation.Request{
		ProcessID:   processID,
		BPN:         "BPNL000CONSUMER",
		ProviderURL: "https://prov/api",
		Dataset:     testDataset(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.NegotiationStates.FINALIZED, result.State)

	p, err := s.Get(processID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.NEGOTIATED, p.State)

	state, err := reg.GetState(processID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.NEGOTIATED, state)
}

func TestDriverMarksProcessFailedOnNegotiationTermination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/negotiation", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"@id": "neg-1"})
	})
	mux.HandleFunc("/management/negotiation/neg-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"edc:state": "TERMINATED"})
	})

	s, reg, d, processID := newHarness(t, mux)

	_, err := d.Run(context.Background(), negotiation.Request{
		ProcessID:   processID,
		BPN:         "BPNL000CONSUMER",
		ProviderURL: "https://prov/api",
		Dataset:     testDataset(),
	})
	require.Error(t, err)

	p, err := s.Get(processID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.FAILED, p.State)
	assert.Equal(t, "FAILED", p.History["negotiation-failed"].Status)

	state, err := reg.GetState(processID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.FAILED, state)
}

func TestDriverWithNoPoliciesFailsImmediately(t *testing.T) {
	mux := http.NewServeMux()
	s, reg, d, processID := newHarness(t, mux)

	_, err := d.Run(context.Background(), negotiation.Request{
		ProcessID:   processID,
		BPN:         "BPNL000CONSUMER",
		ProviderURL: "https://prov/api",
		Dataset:     odrl.Dataset{AssetID: "urn:uuid:empty"},
	})
	require.Error(t, err)

	p, err := s.Get(processID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.FAILED, p.State)

	state, err := reg.GetState(processID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.FAILED, state)
}

func TestDriverWithInvalidPolicyFailsBeforeSendingRequest(t *testing.T) {
	mux := http.NewServeMux()
	var negotiationRequests atomic.Int32
	mux.HandleFunc("/management/negotiation", func(w http.ResponseWriter, r *http.Request) {
		negotiationRequests.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"@id": "neg-1"})
	})
	s, reg, d, processID := newHarness(t, mux)

	invalid := odrl.Dataset{
		AssetID: "urn:uuid:a1",
		Policies: []odrl.Policy{{PolicyClass: odrl.PolicyClass{
			ID: "pol-1",
			Permission: []odrl.Permission{{Action: "odrl:read"}},
		}}},
	}

	_, err := d.Run(context.Background(), negotiation.Request{
		ProcessID:   processID,
		BPN:         "BPNL000CONSUMER",
		ProviderURL: "https://prov/api",
		Dataset:     invalid,
	})
	require.Error(t, err)
	assert.Equal(t, int32(0), negotiationRequests.Load())

	p, err := s.Get(processID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.FAILED, p.State)

	state, err := reg.GetState(processID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.FAILED, state)
}

func TestDriverAbortsCleanlyOnTermination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/negotiation", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"@id": "neg-1"})
	})
	mux.HandleFunc("/management/negotiation/neg-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"edc:state": "NEGOTIATING"})
	})

	s, reg, d, processID := newHarness(t, mux)
	require.NoError(t, reg.SignalTerminate(processID))

	_, err := d.Run(context.Background(), negotiation.Request{
		ProcessID:   processID,
		BPN:         "BPNL000CONSUMER",
		ProviderURL: "https://prov/api",
		Dataset:     testDataset(),
	})
	require.Error(t, err)

	p, err := s.Get(processID)
	require.NoError(t, err)
	assert.NotEqual(t, model.ProcessStates.FAILED, p.State)
}
