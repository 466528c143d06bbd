// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"strings"

	"github.com/gcpkit/cloud-go/internal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SPANLOAD"

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string
	root := &cobra.Command{
		Use:   "spanload",
		Short: "Load generator for the Spanner session pool",
		Long: `spanload runs workers that commit InsertOrUpdate mutations through a
single Spanner client and exports the session pool statistics to Prometheus.

Settings are read from flags, then SPANLOAD_* environment variables, then the
file named by --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a config file (yaml, json or toml)")

	root.AddCommand(newRunCmd(v))
	root.AddCommand(newVersionCmd())
	return root
}

// initConfig wires the environment and the optional config file into v.
func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if cfgFile == "" {
		return nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config file error: %w", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "spanload %s\n", internal.Version)
		},
	}
}
