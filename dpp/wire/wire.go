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

// Package wire contains the JSON request/response shapes exchanged with the counterparty's
// management-plane HTTP surface.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/productpass/orchestrator/odrl"
)

// odrlContext is the JSON-LD context every request envelope carries.
var odrlContext = map[string]string{"odrl": "http://www.w3.org/ns/odrl/2/"}

// FilterExpression is a single catalog query filter.
type FilterExpression struct {
	LeftOperand  string `json:"leftOperand"`
	Operator     string `json:"operator"`
	RightOperand string `json:"rightOperand"`
}

// QuerySpec wraps the filter expressions of a catalog request.
type QuerySpec struct {
	FilterExpression []FilterExpression `json:"filterExpression"`
}

// CatalogRequest is the body POSTed to the catalog endpoint.
type CatalogRequest struct {
	Context             map[string]string `json:"@context"`
	CounterPartyAddress string            `json:"counterPartyAddress"`
	QuerySpec           QuerySpec         `json:"querySpec"`
}

// NewCatalogRequest builds a catalog request with a single equality filter, the shape every
// catalog lookup in this engine uses.
func NewCatalogRequest(providerURL, key, value string) CatalogRequest {
	return CatalogRequest{
		Context:              odrlContext,
		CounterPartyAddress:  providerURL,
		QuerySpec: QuerySpec{
			FilterExpression: []FilterExpression{
				{LeftOperand: key, Operator: "=", RightOperand: value},
			},
		},
	}
}

// Catalog is the parsed response of a catalog query. ContractOffers may unmarshal from either a
// single object or a list on the wire, see UnmarshalJSON.
type Catalog struct {
	ParticipantID  string         `json:"participantId"`
	ContractOffers []odrl.Dataset `json:"-"`
}

// UnmarshalJSON accepts `contractOffers` as either a single Dataset object or a list, per
// spec.md §4.4's findOfferByAssetId note ("If the catalog's contractOffers is a single object...
// if it is a list...").
func (c *Catalog) UnmarshalJSON(data []byte) error {
	var single struct {
		ParticipantID  string      `json:"participantId"`
		ContractOffers odrl.Dataset `json:"contractOffers"`
	}
	var list struct {
		ParticipantID  string         `json:"participantId"`
		ContractOffers []odrl.Dataset `json:"contractOffers"`
	}
	if err := json.Unmarshal(data, &list); err == nil {
		c.ParticipantID = list.ParticipantID
		c.ContractOffers = list.ContractOffers
		return nil
	}
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("could not unmarshal Catalog: %w", err)
	}
	c.ParticipantID = single.ParticipantID
	if single.ContractOffers.AssetID != "" {
		c.ContractOffers = []odrl.Dataset{single.ContractOffers}
	}
	return nil
}

// OfferRequest is the embedded agreement proposal of a negotiation request.
type OfferRequest struct {
	OfferID string     `json:"offerId"`
	AssetID string     `json:"assetId"`
	Policy  odrl.Policy `json:"policy"`
}

// NegotiationRequest is the body POSTed to the negotiation endpoint.
type NegotiationRequest struct {
	Context              map[string]string `json:"@context"`
	CounterPartyAddress  string            `json:"counterPartyAddress"`
	CounterPartyID       string            `json:"counterPartyId"`
	Offer                OfferRequest      `json:"offer"`
}

// NewNegotiationRequest builds a NegotiationRequest from a chosen policy and dataset, per the
// rule that the policy's own id clears and becomes the proposal's offerId.
func NewNegotiationRequest(providerURL, bpn, assetID string, policy odrl.Policy) NegotiationRequest {
	return NegotiationRequest{
		Context:             odrlContext,
		CounterPartyAddress: providerURL,
		CounterPartyID:      bpn,
		Offer: OfferRequest{
			OfferID: policy.ID(),
			AssetID: assetID,
			Policy:  policy.WithoutID(),
		},
	}
}

// DataDestination describes where the data plane should push (or expose) the transferred data.
type DataDestination struct {
	Type string `json:"type"`
}

// TransferType describes the shape of the transferred payload.
type TransferType struct {
	ContentType string `json:"contentType"`
	IsFinite    bool   `json:"isFinite"`
}

// PrivateProperties carries the consumer's own callback endpoint.
type PrivateProperties struct {
	ReceiverHTTPEndpoint string `json:"receiverHttpEndpoint"`
}

// TransferRequest is the body POSTed to the transfer endpoint.
type TransferRequest struct {
	Context              map[string]string `json:"@context"`
	AssetID              string            `json:"assetId"`
	CounterPartyAddress  string            `json:"counterPartyAddress"`
	CounterPartyID       string            `json:"counterPartyId"`
	ContractID           string            `json:"contractId"`
	DataDestination      DataDestination   `json:"dataDestination"`
	ManagedResources     bool              `json:"managedResources"`
	PrivateProperties    PrivateProperties `json:"privateProperties"`
	Protocol             string            `json:"protocol"`
	TransferType         TransferType      `json:"transferType"`
}

const dataspaceProtocol = "dataspace-protocol-http"

// NewTransferRequest builds a TransferRequest per spec.md §4.6/§6.
func NewTransferRequest(providerURL, bpn, assetID, agreementID, callbackURL string) TransferRequest {
	return TransferRequest{
		Context:             odrlContext,
		AssetID:             assetID,
		CounterPartyAddress: providerURL,
		CounterPartyID:      bpn,
		ContractID:          agreementID,
		DataDestination:     DataDestination{Type: "HttpProxy"},
		ManagedResources:    false,
		PrivateProperties:   PrivateProperties{ReceiverHTTPEndpoint: callbackURL},
		Protocol:            dataspaceProtocol,
		TransferType:        TransferType{ContentType: "application/octet-stream", IsFinite: true},
	}
}

// IdResponse is the response to a negotiation or transfer create call, carrying the
// remote-assigned id.
type IdResponse struct {
	ID string `json:"@id"`
}

// PolledState is the shape shared by negotiation/transfer GET responses: an opaque state string.
type PolledState struct {
	State               string `json:"edc:state"`
	ContractAgreementID string `json:"edc:contractAgreementId,omitempty"`
}
