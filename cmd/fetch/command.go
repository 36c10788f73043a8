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

// Package fetch implements the "fetch" subcommand: it drives one process to completion and
// blocks until it reaches a terminal state.
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/productpass/orchestrator/config"
	"github.com/productpass/orchestrator/dpp/engine"
	"github.com/productpass/orchestrator/dpp/protocol"
	"github.com/productpass/orchestrator/internal/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const pollInterval = 500 * time.Millisecond

var outDir string

func init() {
	Command.Flags().StringVarP(&outDir, "out", "o", ".", "directory to write the retrieved artifact to")
}

// Command is the "fetch" subcommand: run `dpp-orchestrator fetch <provider-url> <asset-id>`.
var Command = &cobra.Command{
	Use:   "fetch <provider-url> <asset-id>",
	Short: "Negotiate and transfer a single digital product passport document.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, ok := viper.Get("initCTX").(context.Context)
		if !ok {
			return fmt.Errorf("couldn't fetch initial context")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		client := protocol.New(cfg.ProtocolConfig())
		eng, err := engine.New(ctx, cmd.Flag("journal-dir").Value.String(), client, &fileSink{dir: outDir}, cfg.ReceiverEndpoint)
		if err != nil {
			return fmt.Errorf("could not start engine: %w", err)
		}

		providerURL, assetID := args[0], args[1]
		ui.Info(fmt.Sprintf("starting process for asset %s at %s", assetID, providerURL))
		processID, err := eng.StartProcess(ctx, providerURL, cfg.ParticipantID, assetID)
		if err != nil {
			return fmt.Errorf("could not start process: %w", err)
		}
		ui.Info("process " + processID)

		for {
			p, err := eng.GetProcess(processID)
			if err != nil {
				return fmt.Errorf("could not read process state: %w", err)
			}
			if p.State.IsTerminal() {
				if p.State.String() == "COMPLETED" {
					ui.Info("process " + processID + " completed")
					return nil
				}
				ui.Error("process " + processID + " ended in state " + p.State.String())
				return fmt.Errorf("process did not complete")
			}
			time.Sleep(pollInterval)
		}
	},
}

// fileSink writes fetched artifacts to a directory on disk, one file per process. It exists
// only to give the CLI something useful to do with a retrieved passport document; the vault
// and any real artifact store are out-of-scope external collaborators.
type fileSink struct {
	dir string
}

func (f *fileSink) Store(_ context.Context, processID string, artifact *protocol.Artifact) error {
	defer artifact.Body.Close()
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}
	out, err := os.Create(filepath.Join(f.dir, processID+".bin"))
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, artifact.Body)
	return err
}
