// Package record implements the recording engine: the component that turns
// a request/response pair into a fingerprinted, chained interaction and
// appends it to the right session's recording file.
package record

import (
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/google/ouli/internal/fingerprint"
	"github.com/google/ouli/internal/session"
	"github.com/google/ouli/internal/wire"
)

// DefaultSession is the session name used when a caller does not supply one
// (e.g. a request arrives with no X-Ouli-Test-Name header).
const DefaultSession = "default"

// Engine records HTTP/WebSocket interactions into per-test-name sessions.
type Engine struct {
	sessions *session.Manager
	logger   *zap.SugaredLogger
}

// NewEngine returns a recording engine that writes session files under
// recordingDir.
func NewEngine(recordingDir string, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		sessions: session.NewManager(recordingDir),
		logger:   logger,
	}
}

// RecordInteraction resolves testName (or DefaultSession), gets or creates
// its session, and appends the request/response as a chained interaction.
func (e *Engine) RecordInteraction(testName string, req fingerprint.Request, resp wire.Response) error {
	if testName == "" {
		testName = DefaultSession
	}

	s, err := e.sessions.GetOrCreate(testName)
	if err != nil {
		return err
	}

	requestData := wire.EncodeRequest(req)
	responseData := wire.EncodeResponse(resp)

	requestHash, _, err := s.Append(req, requestData, responseData)
	if err != nil {
		return err
	}

	e.logger.Debugw("recorded interaction",
		"session", testName,
		"hash", hex.EncodeToString(requestHash[:8]),
		"count", s.InteractionCount(),
	)

	return nil
}

// SessionCount reports how many sessions are currently active.
func (e *Engine) SessionCount() int {
	return e.sessions.SessionCount()
}

// FinalizeAll finalizes every active session, in the defined sequential
// order, and clears them so future recordings reopen fresh files.
func (e *Engine) FinalizeAll() error {
	e.logger.Info("finalizing all recording sessions")
	if err := e.sessions.FinalizeAll(); err != nil {
		return err
	}
	e.logger.Info("all sessions finalized")
	return nil
}
