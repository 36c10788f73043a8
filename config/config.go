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

// Package config binds the engine's viper-backed configuration keys (spec.md §6) to a typed
// Config, and builds the protocol.Config the engine's C4 client needs from it.
package config

import (
	"fmt"
	"time"

	"github.com/productpass/orchestrator/dpp/errs"
	"github.com/productpass/orchestrator/dpp/protocol"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/productpass/orchestrator/internal/cfg"
)

// Viper keys, namespaced under edc.* as spec.md §6 names them.
const (
	KeyEndpoint          = "edc.endpoint"
	KeyManagement        = "edc.management"
	KeyCatalog           = "edc.catalog"
	KeyNegotiation       = "edc.negotiation"
	KeyTransfer          = "edc.transfer"
	KeyReceiverEndpoint  = "edc.receiverEndpoint"
	KeyDelay             = "edc.delay"
	KeyAPIKey            = "edc.apiKey"
	KeyParticipantID     = "edc.participantId"
	KeyRegistryAssetType = "edc.registryAssetType"
)

const defaultDelayMS = 200

// Config is the engine's runtime configuration, populated from the viper keys bound in
// AddFlags.
type Config struct {
	Endpoint          string
	Management        string
	Catalog           string
	Negotiation       string
	Transfer          string
	ReceiverEndpoint  string
	Delay             time.Duration
	APIKey            string
	ParticipantID     string
	RegistryAssetType string
}

// AddFlags registers the engine's persistent flags on cmd and binds them to their viper keys,
// the way the teacher's internal/client/command.go wires its own flags through
// internal/cfg.AddPersistentFlag.
func AddFlags(cmd *cobra.Command) {
	cfg.AddPersistentFlag(cmd, KeyEndpoint, "edc-endpoint", "Base URL of the counterparty's connector.", "")
	cfg.AddPersistentFlag(cmd, KeyManagement, "edc-management", "Management API sub-path.", "/management")
	cfg.AddPersistentFlag(cmd, KeyCatalog, "edc-catalog", "Catalog request sub-path.", "/v3/catalog/request")
	cfg.AddPersistentFlag(cmd, KeyNegotiation, "edc-negotiation", "Contract negotiation sub-path.", "/v3/contractnegotiations")
	cfg.AddPersistentFlag(cmd, KeyTransfer, "edc-transfer", "Transfer process sub-path.", "/v3/transferprocesses")
	cfg.AddPersistentFlag(
		cmd, KeyReceiverEndpoint, "edc-receiver-endpoint",
		"Externally reachable base URL the counterparty's data plane calls back on.", "",
	)
	cfg.AddPersistentFlag(cmd, KeyDelay, "edc-delay", "Poll interval in milliseconds.", defaultDelayMS)
	cfg.AddPersistentFlag(cmd, KeyAPIKey, "edc-api-key", "X-Api-Key sent with every management-plane request.", "")
	cfg.AddPersistentFlag(cmd, KeyParticipantID, "edc-participant-id", "This connector's own BPN.", "")
	cfg.AddPersistentFlag(
		cmd, KeyRegistryAssetType, "edc-registry-asset-type",
		"Asset type used to filter the catalog when discovering registry endpoints.", "",
	)
}

// Load reads the bound viper keys into a Config, failing CONFIG_MISSING if any of the
// non-optional keys are unset.
func Load() (Config, error) {
	c := Config{
		Endpoint:          viper.GetString(KeyEndpoint),
		Management:        viper.GetString(KeyManagement),
		Catalog:           viper.GetString(KeyCatalog),
		Negotiation:       viper.GetString(KeyNegotiation),
		Transfer:          viper.GetString(KeyTransfer),
		ReceiverEndpoint:  viper.GetString(KeyReceiverEndpoint),
		Delay:             time.Duration(viper.GetInt(KeyDelay)) * time.Millisecond,
		APIKey:            viper.GetString(KeyAPIKey),
		ParticipantID:     viper.GetString(KeyParticipantID),
		RegistryAssetType: viper.GetString(KeyRegistryAssetType),
	}

	for key, value := range map[string]string{
		KeyEndpoint:      c.Endpoint,
		KeyAPIKey:        c.APIKey,
		KeyParticipantID: c.ParticipantID,
	} {
		if value == "" {
			return Config{}, fmt.Errorf("%w: %s is required", errs.ErrConfigMissing, key)
		}
	}
	return c, nil
}

// ProtocolConfig builds the protocol.Config C4 needs out of this Config.
func (c Config) ProtocolConfig() protocol.Config {
	return protocol.Config{
		Endpoint:    c.Endpoint,
		Management:  c.Management,
		Catalog:     c.Catalog,
		Negotiation: c.Negotiation,
		Transfer:    c.Transfer,
		APIKey:      c.APIKey,
		PollInterval: c.Delay,
	}
}
