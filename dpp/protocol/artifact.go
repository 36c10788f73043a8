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

package protocol

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/productpass/orchestrator/dpp/errs"
)

// AuthenticationType selects how FetchArtifact authenticates against the one-shot data-plane
// endpoint, mirroring the three schemes the counterparty's data plane may hand back.
type AuthenticationType int

const (
	AuthenticationNone AuthenticationType = iota
	AuthenticationBasic
	AuthenticationBearer
)

// Auth carries the credentials for a one-shot artifact fetch.
type Auth struct {
	Type     AuthenticationType
	Username string
	Password string
}

func setAuth(req *http.Request, auth Auth) {
	switch auth.Type {
	case AuthenticationBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	case AuthenticationBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Password)
	case AuthenticationNone:
	default:
		panic(fmt.Sprintf("unexpected protocol.AuthenticationType: %#v", auth.Type))
	}
}

// FetchArtifact performs a one-shot GET against a data-plane endpoint and returns the response
// body as a stream, the passport-document fetch step named but left unspecified as a component
// by spec.md §1. Adapted from the teacher's CLI-only downloadFile/setAuth to a reusable client
// method that streams instead of writing straight to a file, since what happens to the bytes is
// the ArtifactSink collaborator's concern, not this client's.
func (c *Client) FetchArtifact(ctx context.Context, url string, auth Auth) (*Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: could not build artifact request: %w", errs.ErrProtocol, err)
	}
	setAuth(req, auth)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: could not fetch artifact at %s: %w", errs.ErrPeerUnreachable, url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status %d fetching artifact at %s", errs.ErrPeerUnreachable, resp.StatusCode, url)
	}
	return &Artifact{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}

// Artifact is the streamed passport document body FetchArtifact returns. Callers are
// responsible for closing Body.
type Artifact struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}
