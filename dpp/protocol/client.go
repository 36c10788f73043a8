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

// Package protocol is the stateless protocol client (C4): the only component that speaks HTTP
// to the counterparty's management plane.
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/productpass/orchestrator/dpp/errs"
	"github.com/productpass/orchestrator/dpp/wire"
	"github.com/productpass/orchestrator/logging"
	"github.com/productpass/orchestrator/odrl"
)

const (
	defaultRetryDuration = 2 * time.Minute
	participantIDField   = "participantId"
	dtrIDIRI             = "https://w3id.org/edc/v0.0.1/ns/id"
)

// Config carries the endpoints and credentials C4 needs, sourced from the engine's
// configuration (spec.md §6).
type Config struct {
	Endpoint       string
	Management     string
	Catalog        string
	Negotiation    string
	Transfer       string
	APIKey         string
	PollInterval   time.Duration
	RetryDuration  time.Duration
	HTTPClient     *http.Client
}

// Client is a stateless wrapper over the counterparty's management-plane HTTP surface.
type Client struct {
	cfg Config
}

// New returns a protocol Client. A zero PollInterval defaults to 200ms (spec.md §6); a zero
// RetryDuration defaults to 2 minutes, matching the teacher's httpreq package.
func New(cfg Config) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.RetryDuration <= 0 {
		cfg.RetryDuration = defaultRetryDuration
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{cfg: cfg}
}

func (c *Client) url(sub string) string {
	return c.cfg.Endpoint + c.cfg.Management + sub
}

// doJSON issues a JSON request with exponential backoff, following the teacher's
// httpreq.Request.Do: network errors and 5xx responses retry, 4xx responses are permanent
// failures. It returns the response body.
func (c *Client) doJSON(ctx context.Context, method, url string, body any) ([]byte, error) {
	logger := logging.Extract(ctx).With("method", method, "url", url)

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: could not marshal request body: %w", errs.ErrProtocol, err)
		}
		payload = bytes.NewReader(encoded)
	}

	type respBody struct {
		status int
		body   []byte
	}

	op := func() (respBody, error) {
		var reqBody io.Reader
		if payload != nil {
			encoded, _ := io.ReadAll(payload) //nolint:errcheck // payload is an in-memory reader, re-read each attempt
			reqBody = bytes.NewReader(encoded)
			payload = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return respBody{}, &backoff.PermanentError{Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", c.cfg.APIKey)

		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			return respBody{}, fmt.Errorf("%w: %w", errs.ErrPeerUnreachable, err)
		}
		defer resp.Body.Close()
		rBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return respBody{}, fmt.Errorf("%w: could not read response body: %w", errs.ErrPeerUnreachable, err)
		}

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			logger.Debug("permanent error, not retrying", "status_code", resp.StatusCode, "body", string(rBody))
			return respBody{}, &backoff.PermanentError{
				Err: fmt.Errorf("%w: status %d: %s", errs.ErrProtocol, resp.StatusCode, string(rBody)),
			}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return respBody{}, fmt.Errorf("%w: unexpected status %d", errs.ErrPeerUnreachable, resp.StatusCode)
		}
		return respBody{status: resp.StatusCode, body: rBody}, nil
	}

	notify := func(err error, d time.Duration) {
		logger.Error("request failed, retrying", "delay", d, "error", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.RetryDuration
	bctx := backoff.WithContext(b, ctx)
	result, err := backoff.RetryNotifyWithData(op, bctx, notify)
	if err != nil {
		return nil, err
	}
	return result.body, nil
}

// ParticipantID issues an empty catalog query and returns the counterparty's participant id.
func (c *Client) ParticipantID(ctx context.Context, providerURL string) (string, error) {
	req := wire.CatalogRequest{Context: map[string]string{"odrl": "http://www.w3.org/ns/odrl/2/"}, CounterPartyAddress: providerURL}
	body, err := c.doJSON(ctx, http.MethodPost, c.url(c.cfg.Catalog), req)
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty catalog response", errs.ErrPeerUnreachable)
	}
	var resp struct {
		ParticipantID string `json:"participantId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: could not parse catalog response: %w", errs.ErrProtocol, err)
	}
	if resp.ParticipantID == "" {
		return "", fmt.Errorf("%w: missing %s in catalog response", errs.ErrProtocol, participantIDField)
	}
	return resp.ParticipantID, nil
}

// CatalogByFilter POSTs a query with a single equality filter expression and returns the parsed
// Catalog, or nil if the provider returned an empty body.
func (c *Client) CatalogByFilter(ctx context.Context, providerURL, key, value string) (*wire.Catalog, error) {
	req := wire.NewCatalogRequest(providerURL, key, value)
	body, err := c.doJSON(ctx, http.MethodPost, c.url(c.cfg.Catalog), req)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil //nolint:nilnil // absence of a catalog is a valid, distinct outcome from an error
	}
	var catalog wire.Catalog
	if err := json.Unmarshal(body, &catalog); err != nil {
		return nil, fmt.Errorf("%w: could not parse catalog response: %w", errs.ErrProtocol, err)
	}
	return &catalog, nil
}

// FindOfferByAssetID looks up the catalog entry for a single assetId. It returns the offer whose
// assetId matches; when none matches and the catalog holds exactly one offer (a single object or
// a one-entry list, which Catalog does not tell apart), that offer is returned regardless.
func (c *Client) FindOfferByAssetID(ctx context.Context, providerURL, assetID string) (*odrl.Dataset, error) {
	catalog, err := c.CatalogByFilter(ctx, providerURL, dtrIDIRI, assetID)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		return nil, nil //nolint:nilnil // mirrors CatalogByFilter's "no catalog" outcome
	}
	for i := range catalog.ContractOffers {
		if catalog.ContractOffers[i].AssetID == assetID {
			return &catalog.ContractOffers[i], nil
		}
	}
	if len(catalog.ContractOffers) == 1 {
		return &catalog.ContractOffers[0], nil
	}
	return nil, nil //nolint:nilnil // no matching offer is a valid outcome, not an error
}

// StartNegotiation POSTs a NegotiationRequest and returns the remote-assigned id.
func (c *Client) StartNegotiation(ctx context.Context, req wire.NegotiationRequest) (wire.IdResponse, error) {
	body, err := c.doJSON(ctx, http.MethodPost, c.url(c.cfg.Negotiation), req)
	if err != nil {
		return wire.IdResponse{}, err
	}
	var resp wire.IdResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return wire.IdResponse{}, fmt.Errorf("%w: could not parse negotiation response: %w", errs.ErrProtocol, err)
	}
	return resp, nil
}

// StartTransfer POSTs a TransferRequest and returns the remote-assigned id.
func (c *Client) StartTransfer(ctx context.Context, req wire.TransferRequest) (wire.IdResponse, error) {
	body, err := c.doJSON(ctx, http.MethodPost, c.url(c.cfg.Transfer), req)
	if err != nil {
		return wire.IdResponse{}, err
	}
	var resp wire.IdResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return wire.IdResponse{}, fmt.Errorf("%w: could not parse transfer response: %w", errs.ErrProtocol, err)
	}
	return resp, nil
}

// get issues a single, non-retried GET — used by the poll loop below, which supplies its own
// outer retry-by-polling and must not also retry within a single iteration.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrProtocol, err)
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrPeerUnreachable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read response body: %w", errs.ErrPeerUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status %d", errs.ErrPeerUnreachable, resp.StatusCode)
	}
	return body, nil
}
