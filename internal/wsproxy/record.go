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
	"crypto/tls"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/google/ouli/internal/config"
)

var excludedDialHeaders = map[string]bool{
	"Sec-Websocket-Version":    true,
	"Sec-Websocket-Key":        true,
	"Sec-Websocket-Extensions": true,
	"Connection":               true,
	"Upgrade":                  true,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RecordProxy upgrades a client connection, dials the upstream WebSocket
// endpoint, and pumps messages in both directions while logging each one
// to a chunked log file.
type RecordProxy struct {
	cfg    config.EndpointConfig
	logger *zap.SugaredLogger
}

// NewRecordProxy returns a RecordProxy forwarding to cfg's target.
func NewRecordProxy(cfg config.EndpointConfig, logger *zap.SugaredLogger) *RecordProxy {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RecordProxy{cfg: cfg, logger: logger}
}

// Handle upgrades req/w to a WebSocket, proxies it to the upstream target,
// and appends every message to logPath.
func (p *RecordProxy) Handle(w http.ResponseWriter, req *http.Request, logPath string) error {
	upstreamConn, err := p.dialUpstream(req)
	if err != nil {
		return fmt.Errorf("wsproxy: dialing upstream: %w", err)
	}
	defer upstreamConn.Close()

	clientConn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return fmt.Errorf("wsproxy: upgrading client connection: %w", err)
	}
	defer clientConn.Close()

	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("wsproxy: creating log file: %w", err)
	}
	defer logFile.Close()

	chunks := make(chan []byte)
	quit := make(chan struct{}, 2)

	go pump(clientConn, upstreamConn, toUpstream, chunks, quit, p.logger)
	go pump(upstreamConn, clientConn, toClient, chunks, quit, p.logger)

	done := 0
	for done < 2 {
		select {
		case buf := <-chunks:
			if _, err := logFile.Write(buf); err != nil {
				p.logger.Errorw("writing websocket log", "path", logPath, "error", err)
			}
		case <-quit:
			done++
		}
	}
	return nil
}

func (p *RecordProxy) dialUpstream(req *http.Request) (*websocket.Conn, error) {
	url := fmt.Sprintf("wss://%s:%d%s", p.cfg.TargetHost, p.cfg.TargetPort, req.URL.Path)
	if req.URL.RawQuery != "" {
		url += "?" + req.URL.RawQuery
	}

	headers := http.Header{}
	for k, v := range req.Header {
		if excludedDialHeaders[k] {
			continue
		}
		headers[k] = v
	}

	dialer := websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	conn, _, err := dialer.Dial(url, headers)
	return conn, err
}

// pump copies messages from src to dst, emitting each onto chunks tagged
// with dir before forwarding it, and signals quit on termination.
func pump(src, dst *websocket.Conn, dir direction, chunks chan<- []byte, quit chan<- struct{}, logger *zap.SugaredLogger) {
	for {
		msgType, buf, err := src.ReadMessage()
		if err != nil {
			if !websocket.IsUnexpectedCloseError(err) {
				logger.Debugw("websocket read ended", "error", err)
			}
			quit <- struct{}{}
			return
		}
		chunks <- encodeChunk(dir, buf)
		if err := dst.WriteMessage(msgType, buf); err != nil {
			logger.Warnw("websocket write failed", "error", err)
			quit <- struct{}{}
			return
		}
	}
}
