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

package wsproxy

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/google/ouli/internal/redact"
)

// ReplayProxy upgrades a client connection and replays a previously
// recorded chunk log against it: it sends the recorded client-bound chunks,
// verifies that the messages the client sends match the recorded
// upstream-bound chunks, and fails the connection on mismatch.
type ReplayProxy struct {
	redactor *redact.Redact
	logger   *zap.SugaredLogger
}

// NewReplayProxy returns a ReplayProxy that redacts recorded chunks with
// redactor before comparing them against live client messages.
func NewReplayProxy(redactor *redact.Redact, logger *zap.SugaredLogger) *ReplayProxy {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ReplayProxy{redactor: redactor, logger: logger}
}

// Handle upgrades req/w to a WebSocket and replays the chunk log at
// logPath against it.
func (p *ReplayProxy) Handle(w http.ResponseWriter, req *http.Request, logPath string) error {
	raw, err := os.ReadFile(logPath)
	if err != nil {
		return fmt.Errorf("wsproxy: reading log %s: %w", logPath, err)
	}
	chunks, err := decodeChunks(raw)
	if err != nil {
		return fmt.Errorf("wsproxy: parsing log %s: %w", logPath, err)
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return fmt.Errorf("wsproxy: upgrading client connection: %w", err)
	}
	defer conn.Close()

	for _, c := range chunks {
		switch c.dir {
		case toUpstream:
			_, buf, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("wsproxy: reading client message: %w", err)
			}
			got := p.redactor.String(string(buf))
			want := p.redactor.String(string(c.data))
			if got != want {
				writeMismatch(conn)
				return fmt.Errorf("wsproxy: client message did not match recording: got %q, want %q", got, want)
			}
		case toClient:
			if err := conn.WriteMessage(websocket.BinaryMessage, c.data); err != nil {
				return fmt.Errorf("wsproxy: writing client message: %w", err)
			}
		}
	}
	return nil
}

func writeMismatch(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "input chunk mismatch")
	conn.WriteMessage(websocket.CloseMessage, msg)
}
