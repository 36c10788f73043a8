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

package protocol_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justinas/alice"
	"github.com/productpass/orchestrator/dpp/errs"
	"github.com/productpass/orchestrator/dpp/model"
	"github.com/productpass/orchestrator/dpp/protocol"
	"github.com/productpass/orchestrator/dpp/wire"
	"github.com/productpass/orchestrator/odrl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wireNegotiationRequest() wire.NegotiationRequest {
	policy := odrl.Policy{PolicyClass: odrl.PolicyClass{ID: "pol-1"}}
	return wire.NewNegotiationRequest("https://prov/api", "BPNL000TEST", "urn:uuid:a1", policy)
}

// requireAPIKey is test middleware built with alice, standing in for the counterparty's own
// auth filter and letting the test assert every request carried the configured X-Api-Key.
func requireAPIKey(t *testing.T, want string) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, want, r.Header.Get("X-Api-Key"))
			next.ServeHTTP(w, r)
		})
	}
}

func newTestClient(t *testing.T, mux *http.ServeMux) (*protocol.Client, *httptest.Server) {
	t.Helper()
	chain := alice.New(requireAPIKey(t, "test-key")).Then(mux)
	srv := httptest.NewServer(chain)
	t.Cleanup(srv.Close)

	c := protocol.New(protocol.Config{
		Endpoint:      srv.URL,
		Management:    "/management",
		Catalog:       "/catalog",
		Negotiation:   "/negotiation",
		Transfer:      "/transfer",
		APIKey:        "test-key",
		PollInterval:  time.Millisecond,
		RetryDuration: time.Second,
	})
	return c, srv
}

func TestParticipantID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/catalog", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"participantId": "BPNL000TEST"})
	})
	c, _ := newTestClient(t, mux)

	id, err := c.ParticipantID(context.Background(), "https://prov/api")
	require.NoError(t, err)
	assert.Equal(t, "BPNL000TEST", id)
}

func TestParticipantIDMissingFieldIsProtocolError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/catalog", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	})
	c, _ := newTestClient(t, mux)

	_, err := c.ParticipantID(context.Background(), "https://prov/api")
	assert.ErrorIs(t, err, errs.ErrProtocol)
}

func TestCatalogByFilterEmptyBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/catalog", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	c, _ := newTestClient(t, mux)

	catalog, err := c.CatalogByFilter(context.Background(), "https://prov/api", "key", "value")
	require.NoError(t, err)
	assert.Nil(t, catalog)
}

func TestFindOfferByAssetIDSingleObject(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/catalog", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"participantId": "BPNL000TEST",
			"contractOffers": {"assetId": "urn:uuid:a1", "odrl:hasPolicy": {"@id": "pol-1", "odrl:prohibition": []}}
		}`)
	})
	c, _ := newTestClient(t, mux)

	dataset, err := c.FindOfferByAssetID(context.Background(), "https://prov/api", "urn:uuid:a1")
	require.NoError(t, err)
	require.NotNil(t, dataset)
	assert.Equal(t, "urn:uuid:a1", dataset.AssetID)
	policy, ok := dataset.FirstPolicy()
	require.True(t, ok)
	assert.Equal(t, "pol-1", policy.ID())
}

func TestFindOfferByAssetIDListPicksMatchingEntry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/catalog", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"participantId": "BPNL000TEST",
			"contractOffers": [
				{"assetId": "urn:uuid:other", "odrl:hasPolicy": {"@id": "pol-x", "odrl:prohibition": []}},
				{"assetId": "urn:uuid:a1", "odrl:hasPolicy": {"@id": "pol-1", "odrl:prohibition": []}}
			]
		}`)
	})
	c, _ := newTestClient(t, mux)

	dataset, err := c.FindOfferByAssetID(context.Background(), "https://prov/api", "urn:uuid:a1")
	require.NoError(t, err)
	require.NotNil(t, dataset)
	assert.Equal(t, "urn:uuid:a1", dataset.AssetID)
}

func TestStartNegotiation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/negotiation", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"@id": "neg-1"})
	})
	c, _ := newTestClient(t, mux)

	resp, err := c.StartNegotiation(context.Background(), wireNegotiationRequest())
	require.NoError(t, err)
	assert.Equal(t, "neg-1", resp.ID)
}

func TestPollNegotiationReachesTerminalState(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/management/negotiation/neg-1", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		state := "NEGOTIATING"
		if n >= 3 {
			state = "CONFIRMED"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"edc:state": state})
	})
	c, _ := newTestClient(t, mux)

	result, err := c.PollNegotiation(context.Background(), "neg-1", func() bool { return false })
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Equal(t, model.NegotiationStates.CONFIRMED, result.State.State)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestPollNegotiationAbortsCleanly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/negotiation/neg-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"edc:state": "NEGOTIATING"})
	})
	c, _ := newTestClient(t, mux)

	result, err := c.PollNegotiation(context.Background(), "neg-1", func() bool { return true })
	require.NoError(t, err)
	assert.True(t, result.Aborted)
}

func TestPollNegotiationMissingStateIsProtocolError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/negotiation/neg-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	})
	c, _ := newTestClient(t, mux)

	_, err := c.PollNegotiation(context.Background(), "neg-1", func() bool { return false })
	assert.ErrorIs(t, err, errs.ErrProtocol)
}

func TestPollTransferReachesTerminalFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/transfer/t-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"edc:state": "TERMINATED"})
	})
	c, _ := newTestClient(t, mux)

	result, err := c.PollTransfer(context.Background(), "t-1", func() bool { return false })
	require.NoError(t, err)
	assert.Equal(t, model.TransferStates.TERMINATED, result.State.State)
	assert.True(t, result.State.State.IsTerminal())
	assert.False(t, result.State.State.IsSuccess())
}

func TestFetchArtifactBearerAuth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/artifact", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, "passport-bytes")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := protocol.New(protocol.Config{Endpoint: srv.URL})
	artifact, err := c.FetchArtifact(context.Background(), srv.URL+"/artifact", protocol.Auth{
		Type: protocol.AuthenticationBearer, Password: "secret-token",
	})
	require.NoError(t, err)
	defer artifact.Body.Close()

	data, err := io.ReadAll(artifact.Body)
	require.NoError(t, err)
	assert.Equal(t, "passport-bytes", string(data))
}

func TestFetchArtifactErrorStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/artifact", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := protocol.New(protocol.Config{Endpoint: srv.URL})
	_, err := c.FetchArtifact(context.Background(), srv.URL+"/artifact", protocol.Auth{})
	assert.ErrorIs(t, err, errs.ErrPeerUnreachable)
}
