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

// Package transfer holds the transfer driver (C6) and its registry-fetch variant (C7): worker
// tasks that build a transfer request, start it, poll it to a terminal state, and — on
// success — retrieve the resulting artifact.
package transfer

import (
	"context"
	"strings"

	"github.com/productpass/orchestrator/dpp/model"
	"github.com/productpass/orchestrator/dpp/protocol"
)

// ArtifactSink receives the bytes of a successfully transferred artifact. Storing, indexing, or
// otherwise interpreting passport content is out of scope for this engine — a caller supplies
// its own sink.
type ArtifactSink interface {
	Store(ctx context.Context, processID string, artifact *protocol.Artifact) error
}

// authFromDataAddress translates the counterparty's data-address credential hint into the
// Auth shape FetchArtifact expects.
func authFromDataAddress(da model.DataAddress) protocol.Auth {
	switch strings.ToLower(da.AuthType) {
	case "bearer":
		return protocol.Auth{Type: protocol.AuthenticationBearer, Password: da.AuthCode}
	case "basic":
		user, pass, found := strings.Cut(da.AuthCode, ":")
		if !found {
			return protocol.Auth{Type: protocol.AuthenticationBasic, Password: da.AuthCode}
		}
		return protocol.Auth{Type: protocol.AuthenticationBasic, Username: user, Password: pass}
	default:
		return protocol.Auth{Type: protocol.AuthenticationNone}
	}
}
