/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cmd implements the ouli CLI surface: record, replay, and stats.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/google/ouli/internal/fingerprint"
)

var (
	cfgFile string
	verbose bool
	logger  *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "ouli",
	Short: "ouli is a deterministic HTTP/WebSocket record-replay proxy",
	Long: `ouli records live HTTP and WebSocket traffic into content-addressed
recording files and replays it later without the original backend, by
fingerprinting each request into a hash chained to the one before it.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		fingerprint.VerifyChainHead()
		logger = newLogger(verbose)
	},
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Path to the TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (development-mode) logging")
}

func newLogger(verbose bool) *zap.SugaredLogger {
	var z *zap.Logger
	var err error
	if verbose {
		z, err = zap.NewDevelopment()
	} else {
		z, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return z.Sugar()
}
