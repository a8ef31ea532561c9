package storage

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/google/ouli/internal/ouerr"
)

// Reader provides read-only access to a finalized recording file. A file
// still being written carries no header CRC yet, so Open rejects it.
// Multiple readers may safely open the same path concurrently as long as no
// writer holds it.
type Reader struct {
	file   *os.File
	mapped mmap.MMap
	header FileHeader
	index  map[[32]byte]int // optional hash->slot index, built lazily
}

// Open maps path read-only, validates its header (magic, version, CRC), and
// returns a Reader positioned to serve Lookup/ReadRequest/ReadResponse.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	mapped, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("storage: map %s: %w", path, err)
	}

	if len(mapped) < HeaderSize {
		file.Close()
		return nil, &ouerr.InvalidFormat{Reason: "file too small to contain header"}
	}

	header := decodeHeader(mapped[:HeaderSize])
	if header.Magic != FileMagic {
		file.Close()
		return nil, &ouerr.InvalidFormat{Reason: "magic mismatch"}
	}
	if header.Version != FileVersion {
		file.Close()
		return nil, &ouerr.InvalidFormat{Reason: fmt.Sprintf("unsupported version %d", header.Version)}
	}

	computed := headerCRC(mapped[:HeaderSize])
	if header.HeaderCRC != computed {
		file.Close()
		return nil, &ouerr.CorruptedData{Offset: 0, Expected: header.HeaderCRC, Actual: computed}
	}

	return &Reader{file: file, mapped: mapped, header: header}, nil
}

// Close releases the mapping and underlying file descriptor.
func (r *Reader) Close() error {
	if err := r.mapped.Unmap(); err != nil {
		return err
	}
	return r.file.Close()
}

// InteractionCount returns how many interactions this recording holds.
func (r *Reader) InteractionCount() uint64 { return r.header.InteractionCount }

// RecordingID returns the recording's identity hash.
func (r *Reader) RecordingID() [32]byte { return r.header.RecordingID }

// FinalChainState returns the chain hash stored at finalize time.
func (r *Reader) FinalChainState() [32]byte { return r.header.FinalChainState }

func (r *Reader) entryAt(slot int) InteractionEntry {
	offset := HeaderSize + slot*IndexEntrySize
	return decodeEntry(r.mapped[offset : offset+IndexEntrySize])
}

// Lookup performs a linear scan of the index for the first entry whose
// request hash matches, returning (entry, true) on a hit. Linear scan is
// intentional: for typical test-recording sizes it is competitive with a
// hash table, and it keeps the on-disk format free of an auxiliary index.
// BuildIndex may be used by callers (e.g. eager cache warming of large
// recordings) to get O(1) lookups without changing this method's behavior.
func (r *Reader) Lookup(requestHash [32]byte) (InteractionEntry, bool) {
	if r.index != nil {
		slot, ok := r.index[requestHash]
		if !ok {
			return InteractionEntry{}, false
		}
		return r.entryAt(slot), true
	}

	count := int(r.header.InteractionCount)
	for i := 0; i < count; i++ {
		entry := r.entryAt(i)
		if entry.RequestHash == requestHash {
			return entry, true
		}
	}
	return InteractionEntry{}, false
}

// BuildIndex populates an in-memory hash->slot map so subsequent Lookup
// calls are O(1). It is optional and never required for correctness.
func (r *Reader) BuildIndex() {
	count := int(r.header.InteractionCount)
	index := make(map[[32]byte]int, count)
	for i := 0; i < count; i++ {
		entry := r.entryAt(i)
		index[entry.RequestHash] = i
	}
	r.index = index
}

// AllEntries returns every index entry in slot order.
func (r *Reader) AllEntries() []InteractionEntry {
	count := int(r.header.InteractionCount)
	entries := make([]InteractionEntry, count)
	for i := 0; i < count; i++ {
		entries[i] = r.entryAt(i)
	}
	return entries
}

// ReadRequest returns the request blob referenced by entry.
func (r *Reader) ReadRequest(entry InteractionEntry) ([]byte, error) {
	start := entry.RequestOffset
	end := start + uint64(entry.RequestSize)
	if end > uint64(len(r.mapped)) {
		return nil, &ouerr.InvalidFormat{Reason: fmt.Sprintf("request data extends beyond file: %d > %d", end, len(r.mapped))}
	}
	return r.mapped[start:end], nil
}

// ReadResponse returns the response blob referenced by entry.
func (r *Reader) ReadResponse(entry InteractionEntry) ([]byte, error) {
	start := entry.ResponseOffset
	end := start + uint64(entry.ResponseSize)
	if end > uint64(len(r.mapped)) {
		return nil, &ouerr.InvalidFormat{Reason: fmt.Sprintf("response data extends beyond file: %d > %d", end, len(r.mapped))}
	}
	return r.mapped[start:end], nil
}
