// Package fingerprint computes the deterministic request hash used to key
// recorded interactions and to chain requests within a session.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// Pair is an ordered key/value, used for both query parameters and headers.
type Pair struct {
	Key   string
	Value string
}

// Request is the wire-agnostic tuple the fingerprinter hashes. It is built
// by the HTTP/WebSocket wire layer and treated as immutable by the core.
type Request struct {
	Method  string
	Path    string
	Query   []Pair
	Headers []Pair
	Body    []byte
}

// ChainHead is the sentinel predecessor hash for the first request in a
// session: the fingerprint of an empty request (method "", path "/", no
// query, no headers, no body) chained off 32 zero bytes.
var ChainHead = [32]byte{
	0xb4, 0xd6, 0xe6, 0x0a, 0x9b, 0x97, 0xe7, 0xb9, 0x8c, 0x63, 0xdf, 0x93, 0x08, 0x72, 0x8c, 0x5c,
	0x88, 0xc0, 0xb4, 0x0c, 0x39, 0x80, 0x46, 0x77, 0x2c, 0x63, 0x44, 0x7b, 0x94, 0x60, 0x8b, 0x4d,
}

func writeLenPrefixed(h *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}

// Fingerprint computes the SHA-256 fingerprint of req chained off prev.
//
// The hash covers, in order: the uppercased method, the normalized path,
// the query pairs sorted by key, the header pairs sorted by lowercased
// name, the body, and finally the raw (unprefixed) predecessor hash. Every
// other field is length-prefixed with a 32-bit little-endian byte count so
// the encoding is unambiguous and reproducible across platforms.
func Fingerprint(req Request, prev [32]byte) [32]byte {
	var buf bytes.Buffer

	method := strings.ToUpper(req.Method)
	writeLenPrefixed(&buf, []byte(method))

	path := normalizePath(req.Path)
	writeLenPrefixed(&buf, []byte(path))

	query := make([]Pair, len(req.Query))
	copy(query, req.Query)
	sort.SliceStable(query, func(i, j int) bool { return query[i].Key < query[j].Key })
	for _, p := range query {
		writeLenPrefixed(&buf, []byte(p.Key))
		writeLenPrefixed(&buf, []byte(p.Value))
	}

	headers := make([]Pair, len(req.Headers))
	copy(headers, req.Headers)
	sort.SliceStable(headers, func(i, j int) bool {
		return strings.ToLower(headers[i].Key) < strings.ToLower(headers[j].Key)
	})
	for _, p := range headers {
		name := strings.ToLower(p.Key)
		value := strings.TrimSpace(p.Value)
		writeLenPrefixed(&buf, []byte(name))
		writeLenPrefixed(&buf, []byte(value))
	}

	writeLenPrefixed(&buf, req.Body)

	buf.Write(prev[:])

	return sha256.Sum256(buf.Bytes())
}

func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || !strings.HasPrefix(trimmed, "/") {
		return "/" + trimmed
	}
	return trimmed
}

// VerifyChainHead recomputes the empty-request fingerprint and panics if it
// does not match ChainHead. It must be called once at startup, before any
// recording or replay traffic is handled.
func VerifyChainHead() {
	empty := Request{Method: "", Path: "/"}
	var zero [32]byte
	got := Fingerprint(empty, zero)
	if got != ChainHead {
		panic(fmt.Sprintf("fingerprint: chain head mismatch: got %x, want %x", got, ChainHead))
	}
}

// Chain tracks the most recently computed hash for a session, i.e. the
// predecessor hash the next request must be chained off.
type Chain struct {
	current [32]byte
}

// NewChain returns a chain seeded at ChainHead.
func NewChain() *Chain {
	return &Chain{current: ChainHead}
}

// ChainFromHash returns a chain resumed at an already-known hash, e.g. when
// reopening a session whose chain state was persisted.
func ChainFromHash(hash [32]byte) *Chain {
	return &Chain{current: hash}
}

// Process fingerprints req against the chain's current hash, advances the
// chain to the result, and returns it.
func (c *Chain) Process(req Request) [32]byte {
	hash := Fingerprint(req, c.current)
	c.current = hash
	return hash
}

// Previous returns the hash the next Process call will chain off.
func (c *Chain) Previous() [32]byte {
	return c.current
}

// Current returns the chain's current hash (same value as Previous; named
// for call sites that read it as "the last hash produced" rather than "the
// next predecessor").
func (c *Chain) Current() [32]byte {
	return c.current
}

// Reset returns the chain to ChainHead.
func (c *Chain) Reset() {
	c.current = ChainHead
}
