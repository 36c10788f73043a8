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

// Package negotiation is the negotiation driver (C5): a free-standing worker task that builds
// an offer, starts a contract negotiation, polls it to a terminal state, and persists the
// outcome.
package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/productpass/orchestrator/dpp/errs"
	"github.com/productpass/orchestrator/dpp/model"
	"github.com/productpass/orchestrator/dpp/protocol"
	"github.com/productpass/orchestrator/dpp/registry"
	"github.com/productpass/orchestrator/dpp/store"
	"github.com/productpass/orchestrator/dpp/wire"
	"github.com/productpass/orchestrator/logging"
	"github.com/productpass/orchestrator/odrl"
)

// Driver runs one negotiation to completion. It captures its dependencies at construction
// rather than receiving a controller it calls back into, per spec.md §9's guidance to replace
// callbacks with explicit dependency objects.
type Driver struct {
	store    *store.Store
	registry *registry.Registry
	client   *protocol.Client
}

// New returns a negotiation Driver.
func New(s *store.Store, r *registry.Registry, c *protocol.Client) *Driver {
	return &Driver{store: s, registry: r, client: c}
}

// Request is the input tuple spec.md §4.5 describes.
type Request struct {
	ProcessID   string
	BPN         string
	ProviderURL string
	Dataset     odrl.Dataset
}

// Run drives one negotiation from offer construction to terminal persistence. It never returns
// an exception to a caller expecting a silent worker: failures are recorded in the journal and
// the process is transitioned before Run returns, per spec.md §7's propagation policy. The
// returned error is informational for the engine's own logging/tests.
func (d *Driver) Run(ctx context.Context, req Request) (model.Negotiation, error) {
	ctx, logger := logging.InjectLabels(ctx, "processId", req.ProcessID, "component", "negotiation")

	policy, ok := req.Dataset.FirstPolicy()
	if !ok {
		return model.Negotiation{}, d.fail(req.ProcessID, "", fmt.Errorf("%w: dataset %s has no policies", errs.ErrProtocol, req.Dataset.AssetID))
	}
	if err := odrl.Validate(policy); err != nil {
		return model.Negotiation{}, d.fail(req.ProcessID, "", fmt.Errorf("%w: offer policy %s failed validation: %w", errs.ErrProtocol, policy.ID(), err))
	}

	negReq := wire.NewNegotiationRequest(req.ProviderURL, req.BPN, req.Dataset.AssetID, policy)
	if _, err := d.store.SaveNegotiationRequest(req.ProcessID, negReq, wire.IdResponse{ID: req.ProcessID}, false); err != nil {
		return model.Negotiation{}, err
	}

	idResp, err := d.client.StartNegotiation(ctx, negReq)
	if err != nil {
		return model.Negotiation{}, d.fail(req.ProcessID, "", err)
	}
	if _, err := d.store.SaveNegotiationRequest(req.ProcessID, negReq, idResp, false); err != nil {
		return model.Negotiation{}, err
	}

	abort := func() bool { return d.registry.IsTerminated(req.ProcessID) }
	result, err := d.client.PollNegotiation(ctx, idResp.ID, abort)
	if err != nil {
		if errors.Is(err, errs.ErrAborted) {
			logger.Info("negotiation poll observed context cancellation")
			return model.Negotiation{}, errs.ErrAborted
		}
		return model.Negotiation{}, d.fail(req.ProcessID, idResp.ID, err)
	}
	if result.Aborted {
		logger.Info("negotiation aborted by user")
		return model.Negotiation{}, errs.ErrAborted
	}

	negotiation := result.State
	if !negotiation.State.IsSuccess() {
		logger.Info("negotiation reached terminal failure", "state", negotiation.State)
		if _, err := d.store.SetState(
			req.ProcessID, model.ProcessStates.FAILED, "negotiation-failed",
			model.History{ID: negotiation.ID, Status: "FAILED"}, false,
		); err != nil {
			return negotiation, err
		}
		if err := d.registry.SetState(req.ProcessID, model.ProcessStates.FAILED); err != nil {
			logger.Error("could not mark registry state FAILED", "err", err)
		}
		return negotiation, errs.ErrNegotiationFailed
	}

	logger.Info("negotiation succeeded", "state", negotiation.State, "contractAgreementId", negotiation.ContractAgreementID)
	if _, err := d.store.SetState(
		req.ProcessID, model.ProcessStates.NEGOTIATED, "negotiation",
		model.History{ID: negotiation.ID, Status: negotiation.State.String()}, false,
	); err != nil {
		return negotiation, err
	}
	if err := d.registry.SetState(req.ProcessID, model.ProcessStates.NEGOTIATED); err != nil {
		return negotiation, fmt.Errorf("%w: %w", errs.ErrInvalidState, err)
	}
	return negotiation, nil
}

func (d *Driver) fail(processID, negotiationID string, cause error) error {
	if _, err := d.store.SetState(
		processID, model.ProcessStates.FAILED, "negotiation-failed",
		model.History{ID: negotiationID, Status: "FAILED"}, false,
	); err != nil {
		return err
	}
	if err := d.registry.SetState(processID, model.ProcessStates.FAILED); err != nil {
		logging.Extract(context.Background()).Error("could not mark registry state FAILED", "err", err)
	}
	return cause
}
