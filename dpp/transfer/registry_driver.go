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
	"github.com/productpass/orchestrator/dpp/wire"
	"github.com/productpass/orchestrator/logging"
)

// RegistryRequest is the input tuple spec.md §4.7 describes: a C6 Request plus the endpointId
// identifying which discovered registry endpoint this worker is fetching.
type RegistryRequest struct {
	Request
	EndpointID string
}

// RunRegistry drives one registry-endpoint transfer worker (C7). Unlike Run, it never moves the
// overall process state: other registry endpoints may still be in flight or yet to succeed, so
// only this endpoint's own JobHistory entry and isRegistry-namespaced history steps are written,
// per spec.md §4.7 and its S5 scenario ("process remains RUNNING/NEGOTIATED").
func (d *Driver) RunRegistry(ctx context.Context, req RegistryRequest) (model.Transfer, error) {
	ctx, logger := logging.InjectLabels(ctx, "processId", req.ProcessID, "endpointId", req.EndpointID, "component", "registry-transfer")

	stepPrefix := fmt.Sprintf("dtr-%s-transfer", req.EndpointID)
	job := model.JobHistory{ID: req.EndpointID, ProcessID: req.ProcessID, Status: "REQUESTED"}

	callbackURL := fmt.Sprintf("%s/%s/%s", d.callbackBase, req.ProcessID, req.EndpointID)
	xferReq := wire.NewTransferRequest(req.ProviderURL, req.BPN, req.AssetID, req.AgreementID, callbackURL)

	if _, err := d.store.SetStatus(req.ProcessID, stepPrefix+"-request", model.History{ID: req.ProcessID, Status: "REQUESTED"}, true); err != nil {
		return model.Transfer{}, err
	}
	if _, err := d.store.SaveJob(req.ProcessID, req.EndpointID, job); err != nil {
		return model.Transfer{}, err
	}

	idResp, err := d.client.StartTransfer(ctx, xferReq)
	if err != nil {
		return model.Transfer{}, d.incomplete(req.ProcessID, req.EndpointID, stepPrefix, job, "", err)
	}
	if _, err := d.store.SetStatus(req.ProcessID, stepPrefix+"-request", model.History{ID: idResp.ID, Status: "REQUESTED"}, true); err != nil {
		return model.Transfer{}, err
	}

	abort := func() bool { return d.registry.IsTerminated(req.ProcessID) }
	result, err := d.client.PollTransfer(ctx, idResp.ID, abort)
	if err != nil {
		if errors.Is(err, errs.ErrAborted) {
			logger.Info("registry transfer poll observed context cancellation")
			return model.Transfer{}, errs.ErrAborted
		}
		return model.Transfer{}, d.incomplete(req.ProcessID, req.EndpointID, stepPrefix, job, idResp.ID, err)
	}
	if result.Aborted {
		logger.Info("registry transfer aborted by user")
		return model.Transfer{}, errs.ErrAborted
	}

	xfer := result.State
	job.TransferID = xfer.ID
	if !xfer.State.IsSuccess() {
		logger.Info("registry transfer endpoint did not complete", "state", xfer.State)
		job.Status = "INCOMPLETE"
		if _, err := d.store.SaveJob(req.ProcessID, req.EndpointID, job); err != nil {
			return xfer, err
		}
		if _, err := d.store.SetStatus(
			req.ProcessID, stepPrefix+"-incomplete", model.History{ID: xfer.ID, Status: "INCOMPLETE"}, true,
		); err != nil {
			return xfer, err
		}
		return xfer, errs.ErrTransferFailed
	}

	logger.Info("registry transfer endpoint succeeded", "state", xfer.State)
	job.Status = "OK"
	if _, err := d.store.SaveJob(req.ProcessID, req.EndpointID, job); err != nil {
		return xfer, err
	}
	if _, err := d.store.SetStatus(req.ProcessID, stepPrefix, model.History{ID: xfer.ID, Status: "OK"}, true); err != nil {
		return xfer, err
	}

	d.fetchArtifact(ctx, req.ProcessID, stepPrefix+"-artifact-fetched", true, xfer)
	return xfer, nil
}

// incomplete records a registry transfer worker's failure without touching the overall process
// state, per spec.md §4.7's "instead of a hard FAILED" rule — the failure is scoped to this
// worker's own endpointId and its JobHistory entry.
func (d *Driver) incomplete(processID, endpointID, stepPrefix string, job model.JobHistory, transferID string, cause error) error {
	job.Status = "INCOMPLETE"
	if _, err := d.store.SaveJob(processID, endpointID, job); err != nil {
		return err
	}
	if _, err := d.store.SetStatus(
		processID, stepPrefix+"-incomplete", model.History{ID: transferID, Status: "INCOMPLETE"}, true,
	); err != nil {
		return err
	}
	return cause
}
