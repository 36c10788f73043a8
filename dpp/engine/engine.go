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

// Package engine wires C1-C8 together: given a process store, live registry, protocol client,
// and the negotiation/transfer drivers and supervisor built on top of them, it exposes the
// external surface a controller needs — start a process, terminate one, read its current state.
package engine

import (
	"context"
	"fmt"

	"github.com/productpass/orchestrator/dpp/errs"
	"github.com/productpass/orchestrator/dpp/journal"
	"github.com/productpass/orchestrator/dpp/model"
	"github.com/productpass/orchestrator/dpp/negotiation"
	"github.com/productpass/orchestrator/dpp/protocol"
	"github.com/productpass/orchestrator/dpp/registry"
	"github.com/productpass/orchestrator/dpp/store"
	"github.com/productpass/orchestrator/dpp/supervisor"
	"github.com/productpass/orchestrator/dpp/transfer"
	"github.com/productpass/orchestrator/logging"
)

// Engine is the orchestration engine: one instance serves every in-flight process.
type Engine struct {
	store      *store.Store
	registry   *registry.Registry
	client     *protocol.Client
	negotiator *negotiation.Driver
	transferor *transfer.Driver
	supervisor *supervisor.Supervisor
}

// New wires up an Engine. ctx governs the lifetime of its background goroutines (the registry's
// GC loop and the supervisor's sweep loop): cancelling it shuts the engine down. sink may be nil
// if the caller has no use for fetched artifacts; callbackBase is the externally reachable base
// URL the counterparty's data plane is told to call back on.
func New(ctx context.Context, root string, client *protocol.Client, sink transfer.ArtifactSink, callbackBase string) (*Engine, error) {
	j, err := journal.New(root)
	if err != nil {
		return nil, err
	}
	s := store.New(j)
	reg, err := registry.New(ctx)
	if err != nil {
		return nil, err
	}
	sup := supervisor.New(ctx, s, reg)
	sup.Run()

	return &Engine{
		store:      s,
		registry:   reg,
		client:     client,
		negotiator: negotiation.New(s, reg, client),
		transferor: transfer.New(s, reg, client, sink, callbackBase),
		supervisor: sup,
	}, nil
}

// CreateProcess creates and registers a new Process without starting the negotiation/transfer
// pipeline, for callers whose flow starts with a C7 registry-discovery fan-out rather than a
// direct asset negotiation (spec.md §1: "C7 is an alternate driver for the registry-discovery
// path").
func (e *Engine) CreateProcess(endpoint, bpn string) (string, error) {
	p, err := e.store.Create(endpoint, bpn)
	if err != nil {
		return "", err
	}
	if err := e.registry.Register(p.ID); err != nil {
		return "", err
	}
	return p.ID, nil
}

// StartProcess creates a new Process and launches its negotiation-then-transfer pipeline in the
// background, per spec.md §1's flow ("an external controller... asks C2 to create a Process...
// then schedules C5 (and, upon success, C6) through C3"). It returns as soon as the process is
// created and registered; the pipeline itself runs asynchronously.
func (e *Engine) StartProcess(ctx context.Context, endpoint, bpn, assetID string) (string, error) {
	p, err := e.store.Create(endpoint, bpn)
	if err != nil {
		return "", err
	}
	if err := e.registry.Register(p.ID); err != nil {
		return "", err
	}

	go e.run(ctx, p.ID, endpoint, bpn, assetID)
	return p.ID, nil
}

// run drives one process from RUNNING through negotiation and transfer. It is the "external
// controller" spec.md §1 describes as out of scope, reduced here to the minimum needed to chain
// C5 and C6 the way the flow requires.
func (e *Engine) run(ctx context.Context, processID, endpoint, bpn, assetID string) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	e.registry.Attach(processID, registry.DriverHandle{Cancel: cancel, Done: done})
	defer e.registry.Detach(processID)

	ctx, logger := logging.InjectLabels(ctx, "processId", processID, "component", "engine")

	if _, err := e.store.SetState(
		processID, model.ProcessStates.RUNNING, "scheduled", model.History{Status: "RUNNING"}, false,
	); err != nil {
		logger.Error("could not schedule process", "err", err)
		return
	}
	if err := e.registry.SetState(processID, model.ProcessStates.RUNNING); err != nil {
		logger.Error("could not schedule process in registry", "err", err)
		return
	}

	dataset, err := e.client.FindOfferByAssetID(ctx, endpoint, assetID)
	if err != nil {
		logger.Error("could not look up offer", "err", err)
		e.failScheduling(processID, err)
		return
	}
	if dataset == nil {
		logger.Error("no catalog offer found for asset", "assetId", assetID)
		e.failScheduling(processID, fmt.Errorf("%w: no offer found for asset %s", errs.ErrProtocol, assetID))
		return
	}

	negResult, err := e.negotiator.Run(ctx, negotiation.Request{
		ProcessID: processID, BPN: bpn, ProviderURL: endpoint, Dataset: *dataset,
	})
	if err != nil {
		logger.Info("negotiation did not reach a transferable state", "err", err)
		return
	}

	if _, err := e.transferor.Run(ctx, transfer.Request{
		ProcessID: processID, BPN: bpn, ProviderURL: endpoint,
		AssetID: assetID, AgreementID: negResult.ContractAgreementID,
	}); err != nil {
		logger.Info("transfer did not reach a terminal-success state", "err", err)
	}
}

// failScheduling marks a process FAILED before any driver has started, used when the catalog
// lookup itself fails.
func (e *Engine) failScheduling(processID string, cause error) {
	if _, err := e.store.SetState(
		processID, model.ProcessStates.FAILED, "catalog-lookup-failed", model.History{Status: "FAILED"}, false,
	); err != nil {
		return
	}
	_ = e.registry.SetState(processID, model.ProcessStates.FAILED)
	_ = cause
}

// RunRegistryTransfer runs one C7 registry-endpoint transfer worker to completion. Per spec.md
// §4.7, the caller is responsible for fanning this out once per discovered registry endpoint
// and for supplying a distinct EndpointID per call; a failed endpoint never fails the overall
// process (see dpp/transfer's RunRegistry).
func (e *Engine) RunRegistryTransfer(ctx context.Context, req transfer.RegistryRequest) (model.Transfer, error) {
	return e.transferor.RunRegistry(ctx, req)
}

// Terminate cancels a process, per C8's manual Terminate API.
func (e *Engine) Terminate(processID string) error {
	return e.supervisor.Terminate(processID)
}

// GetProcess returns a snapshot of a process's current state.
func (e *Engine) GetProcess(processID string) (*model.Process, error) {
	return e.store.Get(processID)
}
