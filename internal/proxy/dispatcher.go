// Package proxy implements the mode-based dispatcher that sits between the
// HTTP/WebSocket wire layer and the core recording/replay engines, plus the
// connection-admission gate that bounds concurrent connections.
package proxy

import (
	"fmt"
	"sync"

	"github.com/google/ouli/internal/fingerprint"
	"github.com/google/ouli/internal/record"
	"github.com/google/ouli/internal/replay"
	"github.com/google/ouli/internal/wire"
)

// Mode selects whether a Dispatcher forwards live traffic and records it,
// or serves traffic from a previously recorded cache.
type Mode int

const (
	// ModeRecord forwards every request upstream and records the
	// interaction.
	ModeRecord Mode = iota
	// ModeReplay serves every request from the replay cache.
	ModeReplay
)

// Upstream forwards a request to the real backend. internal/httpproxy
// supplies the concrete implementation used at runtime.
type Upstream interface {
	Forward(req fingerprint.Request) (wire.Response, error)
}

// Dispatcher owns the proxy's mode, its engine (record XOR replay), and a
// chain state shared across requests on one dispatcher instance, guarded so
// concurrent requests observe a consistently advancing chain.
type Dispatcher struct {
	mode Mode

	recordEngine *record.Engine
	replayEngine *replay.Engine
	upstream     Upstream

	mu    sync.RWMutex
	chain [32]byte
}

// NewRecordDispatcher returns a dispatcher that forwards to upstream and
// records each interaction via engine.
func NewRecordDispatcher(engine *record.Engine, upstream Upstream) *Dispatcher {
	return &Dispatcher{
		mode:         ModeRecord,
		recordEngine: engine,
		upstream:     upstream,
		chain:        fingerprint.ChainHead,
	}
}

// NewReplayDispatcher returns a dispatcher that serves every request from
// engine's replay cache.
func NewReplayDispatcher(engine *replay.Engine) *Dispatcher {
	return &Dispatcher{
		mode:         ModeReplay,
		replayEngine: engine,
		chain:        fingerprint.ChainHead,
	}
}

// Mode reports whether this dispatcher is recording or replaying.
func (d *Dispatcher) Mode() Mode { return d.mode }

// HandleRequest forwards or replays req depending on mode, and returns the
// response the client should see.
//
// In record mode, the request is forwarded upstream unconditionally and the
// interaction recorded with no dependency on the dispatcher's own chain
// state — per-session chaining is owned by the recording engine's session,
// not by this shared field.
//
// In replay mode, the dispatcher reads its shared chain's current value
// under a read lock, asks the replay engine to look the request up chained
// off that value, and on success advances the shared chain under a write
// lock so later requests on this dispatcher see a consistently extending
// chain.
func (d *Dispatcher) HandleRequest(testName string, req fingerprint.Request) (wire.Response, error) {
	switch d.mode {
	case ModeRecord:
		return d.handleRecord(testName, req)
	case ModeReplay:
		return d.handleReplay(req)
	default:
		return wire.Response{}, fmt.Errorf("proxy: unknown mode %v", d.mode)
	}
}

func (d *Dispatcher) handleRecord(testName string, req fingerprint.Request) (wire.Response, error) {
	resp, err := d.upstream.Forward(req)
	if err != nil {
		return wire.Response{}, err
	}
	if err := d.recordEngine.RecordInteraction(testName, req, resp); err != nil {
		return wire.Response{}, err
	}
	return resp, nil
}

func (d *Dispatcher) handleReplay(req fingerprint.Request) (wire.Response, error) {
	d.mu.RLock()
	prevHash := d.chain
	d.mu.RUnlock()

	resp, err := d.replayEngine.ReplayRequest(req, prevHash)
	if err != nil {
		return wire.Response{}, err
	}

	newHash := fingerprint.Fingerprint(req, prevHash)
	d.mu.Lock()
	d.chain = newHash
	d.mu.Unlock()

	return resp, nil
}

// ResetChain returns the dispatcher's shared chain state to ChainHead, for
// a new top-level interaction sequence (e.g. a websocket reconnect).
func (d *Dispatcher) ResetChain() {
	d.mu.Lock()
	d.chain = fingerprint.ChainHead
	d.mu.Unlock()
}

// ChainState returns the dispatcher's current shared chain hash.
func (d *Dispatcher) ChainState() [32]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chain
}

// Finalize flushes the recording engine's sessions in record mode; it is a
// no-op in replay mode.
func (d *Dispatcher) Finalize() error {
	if d.mode == ModeRecord {
		return d.recordEngine.FinalizeAll()
	}
	return nil
}
