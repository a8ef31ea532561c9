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
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/google/ouli/internal/config"
	"github.com/google/ouli/internal/httpproxy"
	"github.com/google/ouli/internal/proxy"
	"github.com/google/ouli/internal/record"
	"github.com/google/ouli/internal/redact"
)

// shutdownTimeout bounds how long in-flight handlers get to finish once a
// shutdown signal arrives, before recordings are finalized regardless.
const shutdownTimeout = 5 * time.Second

var recordingDir string

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run ouli in record mode",
	Long: `Runs ouli in record mode: every configured endpoint forwards traffic
to its target and records the interaction to a .ouli recording file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.ReadConfig(cfgFile)
		if err != nil {
			return err
		}
		return runRecord(cfg, recordingDir)
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVar(&recordingDir, "recording-dir", "recordings", "Directory to store recorded requests and responses")
}

func runRecord(cfg *config.Config, recordingDir string) error {
	if err := os.MkdirAll(recordingDir, 0o755); err != nil {
		return fmt.Errorf("creating recording directory: %w", err)
	}

	redactor, err := redact.NewRedactPatterns(cfg.Redaction.Secrets, cfg.Redaction.RegexPatterns)
	if err != nil {
		return fmt.Errorf("compiling redaction patterns: %w", err)
	}

	admission := proxy.NewAdmission(int64(cfg.Limits.MaxConnections))

	var servers []*httpproxy.Server
	var dispatchers []*proxy.Dispatcher
	errCh := make(chan error, len(cfg.Endpoints))

	for _, ep := range cfg.Endpoints {
		endpointDir := filepath.Join(recordingDir, fmt.Sprintf("%s-%d", ep.TargetHost, ep.TargetPort))
		if err := os.MkdirAll(endpointDir, 0o755); err != nil {
			return fmt.Errorf("creating endpoint directory: %w", err)
		}

		engine := record.NewEngine(endpointDir, logger)
		dispatcher := proxy.NewRecordDispatcher(engine, httpproxy.NewUpstream(ep, cfg.Limits))
		server := httpproxy.NewServer(ep, dispatcher, admission, redactor, logger, endpointDir, cfg.Limits)
		servers = append(servers, server)
		dispatchers = append(dispatchers, dispatcher)

		go func(ep config.EndpointConfig) {
			if err := server.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("record server for %s:%d: %w", ep.TargetHost, ep.TargetPort, err)
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

// gracefulShutdown stops every server's acceptor, gives in-flight handlers
// up to shutdownTimeout to finish, and only then finalizes each dispatcher's
// recordings, so a recording is never closed out from under a request still
// being written.
func gracefulShutdown(servers []*httpproxy.Server, dispatchers []*proxy.Dispatcher) error {
	logger.Info("shutdown signal received, stopping acceptors")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s *httpproxy.Server) {
			defer wg.Done()
			if err := s.Shutdown(ctx); err != nil {
				logger.Warnw("server shutdown did not complete cleanly", "error", err)
			}
		}(s)
	}
	wg.Wait()

	logger.Info("finalizing recordings")
	for _, d := range dispatchers {
		if err := d.Finalize(); err != nil {
			logger.Errorw("finalize failed", "error", err)
		}
	}
	return nil
}
