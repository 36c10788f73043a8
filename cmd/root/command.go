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

// Package root is the command-line entrypoint. It is a thin exerciser of the engine: the
// specification treats the CLI and its surrounding configuration loading as an out-of-scope
// external collaborator, so this package does no more than bind edc.* flags, build a logger,
// and hand control to the orchestration engine.
package root

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"

	"github.com/productpass/orchestrator/cmd/fetch"
	"github.com/productpass/orchestrator/config"
	"github.com/productpass/orchestrator/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	validLogLevels = []string{"debug", "info", "warn", "error"}

	rootCmd = &cobra.Command{
		Use:   "dpp-orchestrator",
		Short: "Consumer-side dataspace orchestration engine for digital product passports.",
		Long: `dpp-orchestrator drives contract negotiation and data transfer against a
dataspace connector's management plane to retrieve digital product passport documents.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logLevel := viper.GetString("logLevel")
			if !slices.Contains(validLogLevels, logLevel) {
				return fmt.Errorf("invalid log level %s, valid levels: %v", logLevel, validLogLevels)
			}
			ctx := context.Background()
			humanReadable := false
			if viper.GetBool("debug") {
				humanReadable = true
				logLevel = "debug"
			}
			ctx = logging.Inject(ctx, logging.New(logLevel, humanReadable))
			viper.Set("initCTX", ctx)
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	cobra.EnableTraverseRunHooks = true

	rootCmd.PersistentFlags().StringVarP(
		&cfgFile, "config", "c", "", "config file (default is /etc/dpp-orchestrator/config.toml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug mode")
	rootCmd.PersistentFlags().StringP(
		"log-level", "l", "info", fmt.Sprintf("set log level, valid levels: %v", validLogLevels))
	rootCmd.PersistentFlags().String("journal-dir", "./data", "directory the process journal is persisted under")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(err.Error())
	}
	if err := viper.BindPFlag("logLevel", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		panic(err.Error())
	}
	viper.SetDefault("debug", false)
	viper.SetDefault("logLevel", "info")

	config.AddFlags(rootCmd)
	rootCmd.AddCommand(fetch.Command)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("/etc/dpp-orchestrator")
		viper.SetConfigType("toml")
		viper.SetConfigName("config")
	}

	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		log.Println("using config file:", viper.ConfigFileUsed())
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
