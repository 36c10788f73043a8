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

// Package errs contains the sentinel errors shared by every component of the orchestration
// engine, so callers can classify a failure with errors.Is instead of parsing strings.
package errs

import "errors"

var (
	// ErrConfigMissing signals a required configuration key is unset at startup or first use.
	ErrConfigMissing = errors.New("required configuration is missing")
	// ErrPeerUnreachable signals a network failure, or an empty body where one was required.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrProtocol signals a response was present but malformed.
	ErrProtocol = errors.New("protocol error")
	// ErrInvalidState signals an illegal state transition was attempted.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrStorage signals a journal append failed.
	ErrStorage = errors.New("storage error")
	// ErrNegotiationFailed signals the remote negotiation state machine reached terminal-failure.
	ErrNegotiationFailed = errors.New("negotiation failed")
	// ErrTransferFailed signals the remote transfer state machine reached terminal-failure.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrAborted signals a user-initiated termination was observed mid-poll.
	ErrAborted = errors.New("process aborted")
)
