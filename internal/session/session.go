// Package session manages the set of in-progress recording sessions keyed
// by test name, each owning its own storage writer and chain state.
package session

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/ouli/internal/fingerprint"
	"github.com/google/ouli/internal/ouerr"
	"github.com/google/ouli/internal/storage"
)

// MaxSessions bounds how many distinct test names a single Manager will
// track concurrently.
const MaxSessions = 1024

// Manager owns the keyed collection of recording sessions for one recording
// engine instance. It is not a process-wide singleton; each recording
// engine constructs its own.
type Manager struct {
	recordingDir string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a Manager that creates session recording files under
// recordingDir.
func NewManager(recordingDir string) *Manager {
	return &Manager{
		recordingDir: recordingDir,
		sessions:     make(map[string]*Session),
	}
}

// GetOrCreate returns the existing session for testName, or creates one if
// the session limit has not been reached. Concurrent callers racing to
// create the same name both see the same session (insert-if-absent).
func (m *Manager) GetOrCreate(testName string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[testName]; ok {
		return existing, nil
	}

	if len(m.sessions) >= MaxSessions {
		return nil, fmt.Errorf("session: limit reached: %d", MaxSessions)
	}

	if err := validateTestName(testName); err != nil {
		return nil, err
	}

	s, err := newSession(testName, m.recordingDir)
	if err != nil {
		return nil, err
	}

	m.sessions[testName] = s
	return s, nil
}

// SessionCount reports how many sessions are currently tracked.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// FinalizeAll finalizes every tracked session in sequence, then clears the
// manager so a future GetOrCreate re-opens fresh sessions under the same
// names.
func (m *Manager) FinalizeAll() error {
	m.mu.Lock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.Unlock()

	for _, s := range snapshot {
		if err := s.Finalize(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	return nil
}

// Session is a single named in-progress recording: its storage writer plus
// the per-session chain state, both guarded by one lock so the chain update
// and the append form a single critical section that never interleaves
// with another caller's on the same session.
type Session struct {
	testName  string
	createdAt time.Time

	mu                sync.Mutex // guards writer and chain together
	writer            *storage.Writer
	chain             *fingerprint.Chain
	interactionCount  uint64
}

func newSession(testName, recordingDir string) (*Session, error) {
	path := filepath.Join(recordingDir, testName+".ouli")
	recordingID := generateRecordingID(testName)

	writer, err := storage.Create(path, recordingID)
	if err != nil {
		return nil, err
	}

	return &Session{
		testName:  testName,
		createdAt: time.Now(),
		writer:    writer,
		chain:     fingerprint.NewChain(),
	}, nil
}

// TestName returns the session's name.
func (s *Session) TestName() string { return s.testName }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// InteractionCount reports how many interactions have been recorded into
// this session.
func (s *Session) InteractionCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interactionCount
}

// Age returns how long the session has existed.
func (s *Session) Age() time.Duration { return time.Since(s.createdAt) }

// Append computes this request's fingerprint against the session's current
// chain state, advances the chain, appends the interaction to storage, and
// returns the new request hash alongside the predecessor hash it was
// chained off. Holding a single session-wide lock across both the chain
// update and the storage append is what prevents another append on the
// same session from interleaving between the two.
func (s *Session) Append(req fingerprint.Request, requestData, responseData []byte) (requestHash, prevHash [32]byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return [32]byte{}, [32]byte{}, fmt.Errorf("session: %q already finalized", s.testName)
	}

	prevHash = s.chain.Previous()
	requestHash = s.chain.Process(req)

	if err := s.writer.AppendInteraction(requestHash, prevHash, requestData, responseData); err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	s.interactionCount++

	return requestHash, prevHash, nil
}

// Finalize closes out the session's writer with its final chain state. It
// is one-shot: calling it twice is a no-op the second time.
func (s *Session) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return nil
	}

	final := s.chain.Current()
	writer := s.writer
	s.writer = nil
	return writer.Finalize(final)
}

func validateTestName(name string) error {
	if name == "" {
		return &ouerr.InvalidTestName{Name: name, Reason: "test name cannot be empty"}
	}
	if len(name) > 255 {
		return &ouerr.InvalidTestName{Name: name, Reason: fmt.Sprintf("test name too long: %d > 255", len(name))}
	}
	if strings.ContainsAny(name, "/\\") {
		return &ouerr.InvalidTestName{Name: name, Reason: "test name cannot contain path separators"}
	}
	if strings.HasPrefix(name, ".") {
		return &ouerr.InvalidTestName{Name: name, Reason: "test name cannot start with a dot"}
	}
	if strings.ContainsRune(name, 0) {
		return &ouerr.InvalidTestName{Name: name, Reason: "test name cannot contain a null byte"}
	}
	if strings.Contains(name, "..") {
		return &ouerr.InvalidTestName{Name: name, Reason: `test name cannot contain ".."`}
	}
	return nil
}

func generateRecordingID(testName string) [32]byte {
	h := sha256.New()
	h.Write([]byte(testName))
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(time.Now().UnixNano()))
	h.Write(ts[:])
	var id [32]byte
	copy(id[:], h.Sum(nil))
	return id
}
