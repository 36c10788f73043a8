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

// Package odrl contains ODRL code
package odrl

import (
	"encoding/json"
	"fmt"
	"time"
)

//nolint:lll
// This is for now a partial port of this JSON schema:
// https://international-data-spaces-association.github.io/ids-specification/2024-1/negotiation/message/schema/contract-schema.json

// Offer is an ODRL offer.
type Offer struct {
	MessageOffer
}

// MessageOffer is an ODRL MessageOffer.
type MessageOffer struct {
	PolicyClass
	Type   string `json:"@type" validate:"required,eq=odrl:Offer"`
	Target string `json:"odrl:target" validate:"required"`
}

// PolicyClass is an ODRL PolicyClass.
type PolicyClass struct {
	AbstractPolicyRule
	ID          string       `json:"@id" validate:"required"`
	ProviderID  string       `json:"dspace:providerId,omitempty"` // Got from an example, not in standard.
	Profile     []Reference  `json:"odrl:profile,omitempty" validate:"dive"`
	Permission  []Permission `json:"odrl:permission,omitempty" validate:"dive"`
	Obligation  []Duty       `json:"odrl:obligation,omitempty" validate:"dive"`
	Prohibition []any        `json:"odrl:prohibition"` // Spec for this was missing but is required, even if empty.
}

// AbstractPolicyRule defines an ODRL abstract policy rule.
type AbstractPolicyRule struct {
	Assigner string `json:"odrl:assigner,omitempty"`
	Assignee string `json:"odrl:assignee,omitempty"`
}

// Reference is a reference.
type Reference struct {
	ID string `json:"@id,omitempty" validate:"required"`
}

// Permission is a permisson entry.
type Permission struct {
	AbstractPolicyRule
	Action     string       `json:"action" validate:"required,odrl_action"`
	Constraint []Constraint `json:"constraint,omitempty" validate:"gte=1,dive"`
	Duty       Duty         `json:"duty,omitempty"`
}

// Duty is an ODRL duty.
type Duty struct {
	AbstractPolicyRule
	ID         string       `json:"@id,omitempty"`
	Action     string       `json:"action,omitempty" validate:"required,odrl_action"`
	Constraint []Constraint `json:"constraint,omitempty" validate:"gte=1,dive"`
}

// Constraint is an ODRL constraint.
type Constraint struct {
	RightOperand          string    `json:"odrl:rightOperand"`
	RightOperandReference Reference `json:"odrl:rightOperandReference,omitempty"`
	LeftOperand           string    `json:"odrl:leftOperand" validate:"odrl_leftoperand"`
	Operator              string    `json:"odrl:operator" validate:"odrl_operator"`
}

// Agreement is an ODRL agreement.
type Agreement struct {
	PolicyClass
	Type      string    `json:"@type" validate:"required,eq=odrl:Agreement"`
	ID        string    `json:"@id" validate:"required"`
	Target    string    `json:"odrl:target" validate:"required"`
	Timestamp time.Time `json:"dspace:timestamp"`
}

// Policy is the terms a Dataset is offered under. The engine treats a Policy as opaque beyond
// its identifier: it is round-tripped verbatim into the agreement proposal sent to the
// counterparty.
type Policy struct {
	PolicyClass
}

// ID returns the policy's identifier, this becomes the offerId the counterparty is asked to
// confirm.
func (p Policy) ID() string { return p.PolicyClass.ID }

// WithoutID returns a copy of the policy with its identifier cleared, as required when embedding
// it as the agreement proposal in a negotiation request: the counterparty assigns the agreement
// its own identifier.
func (p Policy) WithoutID() Policy {
	cp := p
	cp.PolicyClass.ID = ""
	return cp
}

// Dataset is a catalog entry: one asset offered under one or more policies.
type Dataset struct {
	AssetID  string   `json:"assetId"`
	Policies []Policy `json:"-"`
}

// FirstPolicy returns the dataset's first policy. Per spec, the engine resolves any conflict
// between multiple policies on the same dataset by picking the first one.
func (d Dataset) FirstPolicy() (Policy, bool) {
	if len(d.Policies) == 0 {
		return Policy{}, false
	}
	return d.Policies[0], true
}

// UnmarshalJSON unmarshals a Dataset, accepting `odrl:hasPolicy` as either a single policy
// object or a list of policy objects, the same single-or-list ambiguity JSON-LD always leaves
// open for repeated properties.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	var single struct {
		AssetID string `json:"assetId"`
		Policy  Policy `json:"odrl:hasPolicy"`
	}
	if err := json.Unmarshal(data, &single); err == nil && single.Policy.PolicyClass.ID != "" {
		d.AssetID = single.AssetID
		d.Policies = []Policy{single.Policy}
		return nil
	}

	var list struct {
		AssetID string   `json:"assetId"`
		Policy  []Policy `json:"odrl:hasPolicy"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("could not unmarshal Dataset: %w", err)
	}
	d.AssetID = list.AssetID
	d.Policies = list.Policy
	return nil
}

// MarshalJSON marshals the Dataset's policies back out as a list under `odrl:hasPolicy`.
func (d Dataset) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AssetID string   `json:"assetId"`
		Policy  []Policy `json:"odrl:hasPolicy"`
	}{
		AssetID: d.AssetID,
		Policy:  d.Policies,
	})
}
