package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/edsrzf/mmap-go"
)

// Writer appends interactions to a single recording file. One writer owns
// one open file; concurrent writers on the same path are a user error this
// package does not defend against.
type Writer struct {
	file   *os.File
	mapped mmap.MMap
	header FileHeader
}

// Create opens path for writing, truncating any existing content, extends
// it to hold the header and full index, maps it, and writes a default
// header stamped with recordingID and the current time.
func Create(path string, recordingID [32]byte) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", path, err)
	}

	initialSize := int64(HeaderSize + IndexEntrySize*ChainDepthMax)
	if err := file.Truncate(initialSize); err != nil {
		file.Close()
		return nil, fmt.Errorf("storage: extend %s: %w", path, err)
	}

	mapped, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("storage: map %s: %w", path, err)
	}

	header := defaultHeader(recordingID, uint64(time.Now().UnixNano()))
	encoded := header.encode()
	copy(mapped[:HeaderSize], encoded[:])

	return &Writer{file: file, mapped: mapped, header: header}, nil
}

// AppendInteraction writes a new index entry and its request/response blobs
// to the recording. It fails once ChainDepthMax interactions have already
// been written.
func (w *Writer) AppendInteraction(requestHash, prevRequestHash [32]byte, requestData, responseData []byte) error {
	if w.header.InteractionCount >= ChainDepthMax {
		return fmt.Errorf("storage: recording full: max chain depth %d reached", ChainDepthMax)
	}

	dataOffset := w.header.DataOffsetField + w.header.DataBytesWritten
	needed := dataOffset + uint64(len(requestData)) + uint64(len(responseData))

	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("storage: stat during append: %w", err)
	}
	if needed > uint64(info.Size()) {
		if err := w.grow(needed + GrowthChunk); err != nil {
			return err
		}
	}

	entry := InteractionEntry{
		RequestHash:     requestHash,
		PrevRequestHash: prevRequestHash,
		RequestOffset:   dataOffset,
		ResponseOffset:  dataOffset + uint64(len(requestData)),
		Timestamp:       uint64(time.Now().UnixNano()),
		RequestSize:     uint32(len(requestData)),
		ResponseSize:    uint32(len(responseData)),
	}

	entryOffset := HeaderSize + int(w.header.InteractionCount)*IndexEntrySize
	encodedEntry := entry.encode()
	copy(w.mapped[entryOffset:entryOffset+IndexEntrySize], encodedEntry[:])

	copy(w.mapped[dataOffset:], requestData)
	copy(w.mapped[dataOffset+uint64(len(requestData)):], responseData)

	w.header.InteractionCount++
	w.header.DataBytesWritten += uint64(len(requestData)) + uint64(len(responseData))

	encodedHeader := w.header.encode()
	copy(w.mapped[:HeaderSize], encodedHeader[:])

	return nil
}

func (w *Writer) grow(size uint64) error {
	if err := w.mapped.Unmap(); err != nil {
		return fmt.Errorf("storage: unmap before grow: %w", err)
	}
	if err := w.file.Truncate(int64(size)); err != nil {
		return fmt.Errorf("storage: grow file: %w", err)
	}
	mapped, err := mmap.Map(w.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("storage: remap after grow: %w", err)
	}
	w.mapped = mapped
	return nil
}

// Finalize stores finalChainState, computes and writes the header CRC,
// flushes the mapping synchronously, and truncates the file to its exact
// final size. The writer must not be used after Finalize returns.
func (w *Writer) Finalize(finalChainState [32]byte) error {
	w.header.FinalChainState = finalChainState
	w.header.HeaderCRC = 0
	encoded := w.header.encode()
	copy(w.mapped[:HeaderSize], encoded[:])

	w.header.HeaderCRC = headerCRC(w.mapped[:HeaderSize])
	encoded = w.header.encode()
	copy(w.mapped[:HeaderSize], encoded[:])

	if err := w.mapped.Flush(); err != nil {
		return fmt.Errorf("storage: flush on finalize: %w", err)
	}
	if err := w.mapped.Unmap(); err != nil {
		return fmt.Errorf("storage: unmap on finalize: %w", err)
	}

	finalSize := int64(w.header.DataOffsetField + w.header.DataBytesWritten)
	if err := w.file.Truncate(finalSize); err != nil {
		return fmt.Errorf("storage: truncate on finalize: %w", err)
	}
	return w.file.Close()
}

// InteractionCount reports how many interactions have been appended so far.
func (w *Writer) InteractionCount() uint64 {
	return w.header.InteractionCount
}
