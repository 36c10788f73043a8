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

package model

import "fmt"

// NegotiationState mirrors the states the counterparty's contract negotiation state machine
// reports. The engine never drives this state machine directly, it only observes it by polling.
type NegotiationState uint8

const (
	negotiationRequested NegotiationState = iota
	negotiationNegotiating
	negotiationAgreed
	negotiationVerifying
	negotiationFinalized
	negotiationConfirmed
	negotiationTerminating
	negotiationTerminated
	negotiationError
)

// NegotiationStates namespaces the valid NegotiationState values.
var NegotiationStates = struct {
	REQUESTED   NegotiationState
	NEGOTIATING NegotiationState
	AGREED      NegotiationState
	VERIFYING   NegotiationState
	FINALIZED   NegotiationState
	CONFIRMED   NegotiationState
	TERMINATING NegotiationState
	TERMINATED  NegotiationState
	ERROR       NegotiationState
}{
	negotiationRequested, negotiationNegotiating, negotiationAgreed, negotiationVerifying,
	negotiationFinalized, negotiationConfirmed, negotiationTerminating, negotiationTerminated,
	negotiationError,
}

func (s NegotiationState) String() string {
	switch s {
	case negotiationRequested:
		return "REQUESTED"
	case negotiationNegotiating:
		return "NEGOTIATING"
	case negotiationAgreed:
		return "AGREED"
	case negotiationVerifying:
		return "VERIFYING"
	case negotiationFinalized:
		return "FINALIZED"
	case negotiationConfirmed:
		return "CONFIRMED"
	case negotiationTerminating:
		return "TERMINATING"
	case negotiationTerminated:
		return "TERMINATED"
	case negotiationError:
		return "ERROR"
	default:
		panic(fmt.Sprintf("unexpected model.NegotiationState: %#v", s))
	}
}

// ParseNegotiationState parses the `edc:state` value reported by the counterparty.
func ParseNegotiationState(s string) (NegotiationState, error) {
	for _, st := range []NegotiationState{
		negotiationRequested, negotiationNegotiating, negotiationAgreed, negotiationVerifying,
		negotiationFinalized, negotiationConfirmed, negotiationTerminating, negotiationTerminated,
		negotiationError,
	} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("not a valid negotiation state: %s", s)
}

// negotiationTerminalSuccess are the states at which the negotiation has produced a usable
// contract agreement.
var negotiationTerminalSuccess = map[NegotiationState]bool{
	NegotiationStates.CONFIRMED: true,
	NegotiationStates.FINALIZED: true,
}

// negotiationTerminalFailure are the states at which the negotiation will never produce a
// contract agreement.
var negotiationTerminalFailure = map[NegotiationState]bool{
	NegotiationStates.ERROR:       true,
	NegotiationStates.TERMINATED:  true,
	NegotiationStates.TERMINATING: true,
}

// IsTerminal reports whether the counterparty considers this negotiation done, one way or the
// other.
func (s NegotiationState) IsTerminal() bool {
	return negotiationTerminalSuccess[s] || negotiationTerminalFailure[s]
}

// IsSuccess reports whether the negotiation reached a state that yields a contract agreement.
func (s NegotiationState) IsSuccess() bool {
	return negotiationTerminalSuccess[s]
}

// Negotiation is the engine's local view of a contract negotiation in progress on the
// counterparty.
type Negotiation struct {
	ID                  string           `json:"id"`
	State               NegotiationState `json:"state"`
	ContractAgreementID string           `json:"contractAgreementId,omitempty"`
}
