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

package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/productpass/orchestrator/dpp/errs"
	"github.com/productpass/orchestrator/dpp/model"
	"github.com/productpass/orchestrator/logging"
)

// PollResult is the tagged outcome of a poll loop: either the caller aborted before a terminal
// state was reached, or the loop observed a terminal state. Replaces the "return null to mean
// aborted" pattern spec.md §9 flags as a design hazard — callers can never confuse the two.
type PollResult[T any] struct {
	Aborted bool
	State   T
}

// pollLoop is the one routine shared by pollNegotiation and pollTransfer, parameterized on how
// to fetch the next observation and how to recognize a terminal state, per spec.md §9's design
// note against duplicating near-identical poll routines.
func pollLoop[T any](
	ctx context.Context,
	interval time.Duration,
	fetch func(ctx context.Context) (T, error),
	isTerminal func(T) bool,
	stateOf func(T) fmt.Stringer,
	abort func() bool,
) (PollResult[T], error) {
	logger := logging.Extract(ctx)
	var lastState string
	var lastChange time.Time

	for {
		state, err := fetch(ctx)
		if err != nil {
			return PollResult[T]{}, err
		}

		current := stateOf(state).String()
		if current != lastState {
			if !lastChange.IsZero() {
				logger.Debug("observed state change", "from", lastState, "to", current, "elapsed", time.Since(lastChange))
			}
			lastState = current
			lastChange = time.Now()
		}

		if isTerminal(state) {
			return PollResult[T]{State: state}, nil
		}

		if abort() {
			return PollResult[T]{Aborted: true}, nil
		}

		select {
		case <-ctx.Done():
			return PollResult[T]{}, fmt.Errorf("%w: %w", errs.ErrAborted, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// PollNegotiation polls .../negotiation/{id} until the remote negotiation reaches a terminal
// state, the abort predicate fires, or the context is cancelled.
func (c *Client) PollNegotiation(ctx context.Context, id string, abort func() bool) (PollResult[model.Negotiation], error) {
	fetch := func(ctx context.Context) (model.Negotiation, error) {
		body, err := c.get(ctx, c.url(c.cfg.Negotiation)+"/"+id)
		if err != nil {
			return model.Negotiation{}, err
		}
		var polled struct {
			State               string `json:"edc:state"`
			ContractAgreementID string `json:"edc:contractAgreementId"`
		}
		if err := json.Unmarshal(body, &polled); err != nil {
			return model.Negotiation{}, fmt.Errorf("%w: could not parse negotiation poll response: %w", errs.ErrProtocol, err)
		}
		if polled.State == "" {
			return model.Negotiation{}, fmt.Errorf("%w: missing edc:state in negotiation poll response", errs.ErrProtocol)
		}
		state, err := model.ParseNegotiationState(polled.State)
		if err != nil {
			return model.Negotiation{}, fmt.Errorf("%w: %w", errs.ErrProtocol, err)
		}
		return model.Negotiation{ID: id, State: state, ContractAgreementID: polled.ContractAgreementID}, nil
	}

	return pollLoop(
		ctx, c.cfg.PollInterval, fetch,
		func(n model.Negotiation) bool { return n.State.IsTerminal() },
		func(n model.Negotiation) fmt.Stringer { return n.State },
		abort,
	)
}

// PollTransfer polls .../transfer/{id} until the remote transfer reaches a terminal state, the
// abort predicate fires, or the context is cancelled.
func (c *Client) PollTransfer(ctx context.Context, id string, abort func() bool) (PollResult[model.Transfer], error) {
	fetch := func(ctx context.Context) (model.Transfer, error) {
		body, err := c.get(ctx, c.url(c.cfg.Transfer)+"/"+id)
		if err != nil {
			return model.Transfer{}, err
		}
		var polled struct {
			State       string `json:"edc:state"`
			DataAddress struct {
				Endpoint string `json:"endpoint"`
				AuthType string `json:"authType"`
				AuthCode string `json:"authCode"`
			} `json:"edc:dataAddress"`
		}
		if err := json.Unmarshal(body, &polled); err != nil {
			return model.Transfer{}, fmt.Errorf("%w: could not parse transfer poll response: %w", errs.ErrProtocol, err)
		}
		if polled.State == "" {
			return model.Transfer{}, fmt.Errorf("%w: missing edc:state in transfer poll response", errs.ErrProtocol)
		}
		state, err := model.ParseTransferState(polled.State)
		if err != nil {
			return model.Transfer{}, fmt.Errorf("%w: %w", errs.ErrProtocol, err)
		}
		return model.Transfer{
			ID:    id,
			State: state,
			DataAddress: model.DataAddress{
				Endpoint: polled.DataAddress.Endpoint,
				AuthType: polled.DataAddress.AuthType,
				AuthCode: polled.DataAddress.AuthCode,
			},
		}, nil
	}

	return pollLoop(
		ctx, c.cfg.PollInterval, fetch,
		func(t model.Transfer) bool { return t.State.IsTerminal() },
		func(t model.Transfer) fmt.Stringer { return t.State },
		abort,
	)
}
