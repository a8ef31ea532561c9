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

// Package httpproxy implements the net/http wire layer: a record-mode
// reverse proxy and a replay-mode server, both dispatching into
// internal/proxy.Dispatcher.
package httpproxy

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/google/ouli/internal/config"
	"github.com/google/ouli/internal/fingerprint"
	"github.com/google/ouli/internal/ouerr"
	"github.com/google/ouli/internal/proxy"
	"github.com/google/ouli/internal/redact"
	"github.com/google/ouli/internal/wsproxy"
)

// Server serves one configured endpoint, forwarding or replaying its
// traffic through dispatcher depending on the dispatcher's mode. Requests
// carrying an Upgrade: websocket header are handed off to wsproxy instead
// of being dispatched as ordinary HTTP interactions.
type Server struct {
	cfg          config.EndpointConfig
	dispatcher   *proxy.Dispatcher
	admission    *proxy.Admission
	redactor     *redact.Redact
	logger       *zap.SugaredLogger
	recordingDir string
	limits       config.LimitsConfig

	wsRecord *wsproxy.RecordProxy
	wsReplay *wsproxy.ReplayProxy

	srv *http.Server
}

// NewServer returns a Server that listens on cfg.SourcePort and dispatches
// through dispatcher, closing each new connection for which admission's
// CanAccept reports no free permit, and scrubbing request data with
// redactor before it reaches the dispatcher. The server acquires no permit
// itself, so its own connections do not count against admission's limit.
// recordingDir is where websocket chunk logs are written/read alongside the
// endpoint's .ouli recording file. limits bounds request header count and
// body size; requests exceeding it are rejected with a 413 before the
// dispatcher ever sees them.
func NewServer(cfg config.EndpointConfig, dispatcher *proxy.Dispatcher, admission *proxy.Admission, redactor *redact.Redact, logger *zap.SugaredLogger, recordingDir string, limits config.LimitsConfig) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{cfg: cfg, dispatcher: dispatcher, admission: admission, redactor: redactor, logger: logger, recordingDir: recordingDir, limits: effectiveLimits(limits)}
	switch dispatcher.Mode() {
	case proxy.ModeRecord:
		s.wsRecord = wsproxy.NewRecordProxy(cfg, logger)
	case proxy.ModeReplay:
		s.wsReplay = wsproxy.NewReplayProxy(redactor, logger)
	}
	return s
}

// ListenAndServe blocks serving this endpoint's HTTP traffic. It returns nil
// after a clean Shutdown.
func (s *Server) ListenAndServe() error {
	s.srv = &http.Server{
		Addr:      fmt.Sprintf(":%d", s.cfg.SourcePort),
		Handler:   http.HandlerFunc(s.handle),
		ConnState: s.connState,
	}
	s.logger.Infow("http server listening", "port", s.cfg.SourcePort, "target", fmt.Sprintf("%s:%d", s.cfg.TargetHost, s.cfg.TargetPort))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the acceptor and waits for in-flight handlers to finish,
// bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) connState(conn net.Conn, state http.ConnState) {
	if state == http.StateNew && s.admission != nil && !s.admission.CanAccept() {
		conn.Close()
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health != "" && r.URL.Path == s.cfg.Health {
		w.WriteHeader(http.StatusOK)
		return
	}

	req, err := requestFromHTTP(r, s.cfg.RedactRequestHeaders, s.redactor, s.limits)
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading request: %v", err), ouerr.HTTPStatus(err))
		return
	}

	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		s.handleWebsocket(w, r, req)
		return
	}

	resp, err := s.dispatcher.HandleRequest(sessionNameFromRequest(r), req)
	if err != nil {
		s.logger.Warnw("dispatch failed", "path", req.Path, "method", req.Method, "error", err)
		status := ouerr.HTTPStatus(err)
		var notFound *ouerr.RecordingNotFound
		if errors.As(err, &notFound) {
			http.Error(w, "no matching recording found for this request", status)
			return
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeResponse(w, resp)
}

// handleWebsocket hands an upgrade request off to wsproxy, logging chunks
// to a file named after the request's fingerprint hash, chained off the
// dispatcher's current shared chain state and sibling to this endpoint's
// .ouli recording.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request, req fingerprint.Request) {
	hash := fingerprint.Fingerprint(req, s.dispatcher.ChainState())
	logPath := filepath.Join(s.recordingDir, hex.EncodeToString(hash[:])+".ws")

	var err error
	switch {
	case s.wsRecord != nil:
		err = s.wsRecord.Handle(w, r, logPath)
	case s.wsReplay != nil:
		err = s.wsReplay.Handle(w, r, logPath)
	default:
		err = fmt.Errorf("httpproxy: no websocket handler configured")
	}
	if err != nil {
		s.logger.Warnw("websocket proxy failed", "path", req.Path, "error", err)
	}
}
