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

// TransferState mirrors the states the counterparty's data transfer process reports. As with
// NegotiationState, the engine only ever observes this by polling.
type TransferState uint8

const (
	transferRequested TransferState = iota
	transferStarted
	transferCompleted
	transferVerified
	transferFinalized
	transferTerminating
	transferTerminated
	transferError
)

// TransferStates namespaces the valid TransferState values.
var TransferStates = struct {
	REQUESTED   TransferState
	STARTED     TransferState
	COMPLETED   TransferState
	VERIFIED    TransferState
	FINALIZED   TransferState
	TERMINATING TransferState
	TERMINATED  TransferState
	ERROR       TransferState
}{
	transferRequested, transferStarted, transferCompleted, transferVerified,
	transferFinalized, transferTerminating, transferTerminated, transferError,
}

func (s TransferState) String() string {
	switch s {
	case transferRequested:
		return "REQUESTED"
	case transferStarted:
		return "STARTED"
	case transferCompleted:
		return "COMPLETED"
	case transferVerified:
		return "VERIFIED"
	case transferFinalized:
		return "FINALIZED"
	case transferTerminating:
		return "TERMINATING"
	case transferTerminated:
		return "TERMINATED"
	case transferError:
		return "ERROR"
	default:
		panic(fmt.Sprintf("unexpected model.TransferState: %#v", s))
	}
}

// ParseTransferState parses the `edc:state` value reported by the counterparty.
func ParseTransferState(s string) (TransferState, error) {
	for _, st := range []TransferState{
		transferRequested, transferStarted, transferCompleted, transferVerified,
		transferFinalized, transferTerminating, transferTerminated, transferError,
	} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("not a valid transfer state: %s", s)
}

var transferTerminalSuccess = map[TransferState]bool{
	TransferStates.COMPLETED: true,
	TransferStates.VERIFIED:  true,
	TransferStates.FINALIZED: true,
}

var transferTerminalFailure = map[TransferState]bool{
	TransferStates.ERROR:       true,
	TransferStates.TERMINATED:  true,
	TransferStates.TERMINATING: true,
}

// IsTerminal reports whether the counterparty considers this transfer done, one way or the
// other.
func (s TransferState) IsTerminal() bool {
	return transferTerminalSuccess[s] || transferTerminalFailure[s]
}

// IsSuccess reports whether the transfer reached a state where the artifact is retrievable.
func (s TransferState) IsSuccess() bool {
	return transferTerminalSuccess[s]
}

// Transfer is the engine's local view of a data transfer process in progress on the
// counterparty.
type Transfer struct {
	ID          string        `json:"id"`
	State       TransferState `json:"state"`
	DataAddress DataAddress   `json:"dataAddress,omitempty"`
}

// DataAddress is the data-plane endpoint and credential the counterparty hands back once a
// transfer reaches STARTED, letting the consumer retrieve the transferred artifact directly.
type DataAddress struct {
	Endpoint string `json:"endpoint"`
	AuthType string `json:"authType"`
	AuthCode string `json:"authCode"`
}
