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

package transfer

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
)

// Driver runs the main (non-registry) transfer to completion, per spec.md §4.6.
type Driver struct {
	store        *store.Store
	registry     *registry.Registry
	client       *protocol.Client
	sink         ArtifactSink
	callbackBase string
}

// New returns a transfer Driver. callbackBase is the configured receiverHttpEndpoint base the
// counterparty's data plane is told to call back on; sink may be nil, in which case a
// successful transfer is never followed by an artifact fetch.
func New(s *store.Store, r *registry.Registry, c *protocol.Client, sink ArtifactSink, callbackBase string) *Driver {
	return &Driver{store: s, registry: r, client: c, sink: sink, callbackBase: callbackBase}
}

// Request is the input tuple spec.md §4.6 describes.
type Request struct {
	ProcessID   string
	BPN         string
	ProviderURL string
	AssetID     string
	AgreementID string
}

// Run drives one transfer from request construction through terminal persistence and, on
// success, the artifact fetch.
func (d *Driver) Run(ctx context.Context, req Request) (model.Transfer, error) {
	ctx, logger := logging.InjectLabels(ctx, "processId", req.ProcessID, "component", "transfer")

	callbackURL := d.callbackBase + "/" + req.ProcessID
	xferReq := wire.NewTransferRequest(req.ProviderURL, req.BPN, req.AssetID, req.AgreementID, callbackURL)

	if _, err := d.store.SaveTransferRequest(req.ProcessID, xferReq, wire.IdResponse{ID: req.ProcessID}, false); err != nil {
		return model.Transfer{}, err
	}

	idResp, err := d.client.StartTransfer(ctx, xferReq)
	if err != nil {
		return model.Transfer{}, d.fail(req.ProcessID, "", err)
	}
	if _, err := d.store.SaveTransferRequest(req.ProcessID, xferReq, idResp, false); err != nil {
		return model.Transfer{}, err
	}

	abort := func() bool { return d.registry.IsTerminated(req.ProcessID) }
	result, err := d.client.PollTransfer(ctx, idResp.ID, abort)
	if err != nil {
		if errors.Is(err, errs.ErrAborted) {
			logger.Info("transfer poll observed context cancellation")
			return model.Transfer{}, errs.ErrAborted
		}
		return model.Transfer{}, d.fail(req.ProcessID, idResp.ID, err)
	}
	if result.Aborted {
		logger.Info("transfer aborted by user")
		return model.Transfer{}, errs.ErrAborted
	}

	xfer := result.State
	if !xfer.State.IsSuccess() {
		logger.Info("transfer reached terminal failure", "state", xfer.State)
		if _, err := d.store.SetState(
			req.ProcessID, model.ProcessStates.FAILED, "transfer-failed",
			model.History{ID: xfer.ID, Status: "FAILED"}, false,
		); err != nil {
			return xfer, err
		}
		if err := d.registry.SetState(req.ProcessID, model.ProcessStates.FAILED); err != nil {
			logger.Error("could not mark registry state FAILED", "err", err)
		}
		return xfer, errs.ErrTransferFailed
	}

	logger.Info("transfer succeeded", "state", xfer.State)
	if _, err := d.store.SetState(
		req.ProcessID, model.ProcessStates.COMPLETED, "transfer",
		model.History{ID: xfer.ID, Status: xfer.State.String()}, false,
	); err != nil {
		return xfer, err
	}
	if err := d.registry.SetState(req.ProcessID, model.ProcessStates.COMPLETED); err != nil {
		return xfer, fmt.Errorf("%w: %w", errs.ErrInvalidState, err)
	}

	d.fetchArtifact(ctx, req.ProcessID, "artifact-fetched", false, xfer)
	return xfer, nil
}

// fetchArtifact retrieves the transferred artifact and hands it to the configured sink. A fetch
// failure is recorded but does not reverse the already-COMPLETED/-reported transfer state: the
// transfer itself succeeded, only the downstream retrieval did not.
func (d *Driver) fetchArtifact(ctx context.Context, processID, stepName string, isRegistry bool, xfer model.Transfer) {
	logger := logging.Extract(ctx)
	if d.sink == nil || xfer.DataAddress.Endpoint == "" {
		return
	}
	artifact, err := d.client.FetchArtifact(ctx, xfer.DataAddress.Endpoint, authFromDataAddress(xfer.DataAddress))
	if err != nil {
		logger.Error("could not fetch artifact", "err", err)
		if _, serr := d.store.SetStatus(processID, stepName, model.History{ID: xfer.ID, Status: "ERROR"}, isRegistry); serr != nil {
			logger.Error("could not persist artifact fetch failure", "err", serr)
		}
		return
	}
	defer artifact.Body.Close()

	if err := d.sink.Store(ctx, processID, artifact); err != nil {
		logger.Error("artifact sink rejected artifact", "err", err)
		if _, serr := d.store.SetStatus(processID, stepName, model.History{ID: xfer.ID, Status: "ERROR"}, isRegistry); serr != nil {
			logger.Error("could not persist artifact fetch failure", "err", serr)
		}
		return
	}
	if _, err := d.store.SetStatus(processID, stepName, model.History{ID: xfer.ID, Status: "OK"}, isRegistry); err != nil {
		logger.Error("could not persist artifact fetch success", "err", err)
	}
}

func (d *Driver) fail(processID, transferID string, cause error) error {
	if _, err := d.store.SetState(
		processID, model.ProcessStates.FAILED, "transfer-failed",
		model.History{ID: transferID, Status: "FAILED"}, false,
	); err != nil {
		return err
	}
	if err := d.registry.SetState(processID, model.ProcessStates.FAILED); err != nil {
		logging.Extract(context.Background()).Error("could not mark registry state FAILED", "err", err)
	}
	return cause
}
