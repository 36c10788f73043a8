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

package transfer_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/productpass/orchestrator/dpp/journal"
	"github.com/productpass/orchestrator/dpp/model"
	"github.com/productpass/orchestrator/dpp/protocol"
	"github.com/productpass/orchestrator/dpp/registry"
	"github.com/productpass/orchestrator/dpp/store"
	"github.com/productpass/orchestrator/dpp/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu    sync.Mutex
	bytes map[string][]byte
}

func newFakeSink() *fakeSink { return &fakeSink{bytes: map[string][]byte{}} }

func (f *fakeSink) Store(_ context.Context, processID string, artifact *protocol.Artifact) error {
	data, err := io.ReadAll(artifact.Body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bytes[processID] = data
	return nil
}

func newTransferHarness(t *testing.T, mux *http.ServeMux, sink transfer.ArtifactSink) (*store.Store, *registry.Registry, *transfer.Driver, string) {
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
		Transfer:      "/transfer",
		PollInterval:  time.Millisecond,
		RetryDuration: time.Second,
	})

	p, err := s.Create(srv.URL, "BPNL000CONSUMER")
	require.NoError(t, err)
	require.NoError(t, reg.Register(p.ID))
	_, err = s.SetState(p.ID, model.ProcessStates.RUNNING, "scheduled", model.History{Status: "RUNNING"}, false)
	require.NoError(t, err)
	require.NoError(t, reg.SetState(p.ID, model.ProcessStates.RUNNING))
	_, err = s.SetState(p.ID, model.ProcessStates.NEGOTIATED, "negotiation", model.History{Status: "FINALIZED"}, false)
	require.NoError(t, err)
	require.NoError(t, reg.SetState(p.ID, model.ProcessStates.NEGOTIATED))

	d := transfer.New(s, reg, client, sink, srv.URL+"/callback")
	return s, reg, d, p.ID
}

func TestDriverReachesCompletedAndFetchesArtifact(t *testing.T) {
	// dataAddress.endpoint must be absolute, so it is filled in only once the server's own URL
	// is known.
	var srvURL string
	mux2 := http.NewServeMux()
	mux2.HandleFunc("/management/transfer", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"@id": "xfer-1"})
	})
	mux2.HandleFunc("/management/transfer/xfer-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"edc:state":       "COMPLETED",
			"edc:dataAddress": map[string]string{"endpoint": srvURL + "/artifact", "authType": "none"},
		})
	})
	mux2.HandleFunc("/artifact", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("passport-document"))
	})

	srv := httptest.NewServer(mux2)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	j, err := journal.New(t.TempDir())
	require.NoError(t, err)
	s := store.New(j)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reg, err := registry.New(ctx)
	require.NoError(t, err)
	client := protocol.New(protocol.Config{
		Endpoint: srv.URL, Management: "/management", Transfer: "/transfer",
		PollInterval: time.Millisecond, RetryDuration: time.Second,
	})
	p, err := s.Create(srv.URL, "BPNL000CONSUMER")
	require.NoError(t, err)
	require.NoError(t, reg.Register(p.ID))
	_, err = s.SetState(p.ID, model.ProcessStates.RUNNING, "scheduled", model.History{Status: "RUNNING"}, false)
	require.NoError(t, err)
	require.NoError(t, reg.SetState(p.ID, model.ProcessStates.RUNNING))
	_, err = s.SetState(p.ID, model.ProcessStates.NEGOTIATED, "negotiation", model.History{Status: "FINALIZED"}, false)
	require.NoError(t, err)
	require.NoError(t, reg.SetState(p.ID, model.ProcessStates.NEGOTIATED))

	sink := newFakeSink()
	d := transfer.New(s, reg, client, sink, srv.URL+"/callback")

	result, err := d.Run(context.Background(), transfer.Request{
		ProcessID: p.ID, BPN: "BPNL000CONSUMER", ProviderURL: "https://prov/api",
		AssetID: "urn:uuid:a1", AgreementID: "agr-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransferStates.COMPLETED, result.State)

	proc, err := s.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.COMPLETED, proc.State)
	assert.Equal(t, "OK", proc.History["artifact-fetched"].Status)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "passport-document", string(sink.bytes[p.ID]))
}

func TestDriverMarksProcessFailedOnTransferError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/transfer", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"@id": "xfer-1"})
	})
	mux.HandleFunc("/management/transfer/xfer-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"edc:state": "ERROR"})
	})

	s, reg, d, processID := newTransferHarness(t, mux, nil)

	_, err := d.Run(context.Background(), transfer.Request{
		ProcessID: processID, BPN: "BPNL000CONSUMER", ProviderURL: "https://prov/api",
		AssetID: "urn:uuid:a1", AgreementID: "agr-1",
	})
	require.Error(t, err)

	p, err := s.Get(processID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.FAILED, p.State)
	assert.Equal(t, "FAILED", p.History["transfer-failed"].Status)

	state, err := reg.GetState(processID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.FAILED, state)
}

func TestDriverWithNilSinkSkipsArtifactFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/transfer", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"@id": "xfer-1"})
	})
	mux.HandleFunc("/management/transfer/xfer-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"edc:state":       "COMPLETED",
			"edc:dataAddress": map[string]string{"endpoint": "http://unused/artifact", "authType": "none"},
		})
	})

	s, _, d, processID := newTransferHarness(t, mux, nil)

	result, err := d.Run(context.Background(), transfer.Request{
		ProcessID: processID, BPN: "BPNL000CONSUMER", ProviderURL: "https://prov/api",
		AssetID: "urn:uuid:a1", AgreementID: "agr-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransferStates.COMPLETED, result.State)

	p, err := s.Get(processID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStates.COMPLETED, p.State)
	_, ok := p.History["artifact-fetched"]
	assert.False(t, ok)
}
