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

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/google/ouli/internal/config"
	"github.com/google/ouli/internal/httpproxy"
	"github.com/google/ouli/internal/proxy"
	"github.com/google/ouli/internal/redact"
	"github.com/google/ouli/internal/replay"
)

var (
	replayRecordingDir string
	replayWarm         bool
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded HTTP responses",
	Long: `Replay mode serves recorded HTTP responses for matching requests.
It listens on the configured source ports and returns recorded responses
when it finds a matching request. Returns a 404 error if no matching
recording is found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.ReadConfig(cfgFile)
		if err != nil {
			return err
		}
		return runReplay(cfg, replayRecordingDir)
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayRecordingDir, "recording-dir", "recordings", "Directory containing recorded requests and responses")
	replayCmd.Flags().BoolVar(&replayWarm, "warm", false, "Eagerly load every recording in the directory before serving")
}

func runReplay(cfg *config.Config, recordingDir string) error {
	if _, err := os.Stat(recordingDir); os.IsNotExist(err) {
		return fmt.Errorf("recording directory does not exist: %s", recordingDir)
	}

	redactor, err := redact.NewRedactPatterns(cfg.Redaction.Secrets, cfg.Redaction.RegexPatterns)
	if err != nil {
		return fmt.Errorf("compiling redaction patterns: %w", err)
	}

	admission := proxy.NewAdmission(int64(cfg.Limits.MaxConnections))
	strategy := replay.Lazy
	if replayWarm {
		strategy = replay.Eager
	}

	var servers []*httpproxy.Server
	var dispatchers []*proxy.Dispatcher
	errCh := make(chan error, len(cfg.Endpoints))

	for _, ep := range cfg.Endpoints {
		endpointDir := filepath.Join(recordingDir, fmt.Sprintf("%s-%d", ep.TargetHost, ep.TargetPort))

		engine := replay.NewEngine(endpointDir, strategy, logger)
		if err := engine.Warm(); err != nil {
			return fmt.Errorf("warming replay cache for %s: %w", endpointDir, err)
		}

		dispatcher := proxy.NewReplayDispatcher(engine)
		server := httpproxy.NewServer(ep, dispatcher, admission, redactor, logger, endpointDir, cfg.Limits)
		servers = append(servers, server)
		dispatchers = append(dispatchers, dispatcher)

		go func(ep config.EndpointConfig) {
			if err := server.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("replay server for %s:%d: %w", ep.TargetHost, ep.TargetPort, err)
			}
		}(ep)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
		return gracefulShutdown(servers, dispatchers)
	}
}
