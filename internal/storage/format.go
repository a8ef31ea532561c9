// Package storage implements the on-disk recording file format: a
// 128-byte header, a fixed 65536-slot index, and an append-only data
// section, all memory-mapped for O(1) addressing.
package storage

import (
	"encoding/binary"
	"hash/crc32"
)

// FileMagic identifies an ouli recording file: "OULI" followed by the
// format's own 4-byte version tag.
var FileMagic = [8]byte{0x4F, 0x55, 0x4C, 0x49, 0x00, 0x01, 0x00, 0x00}

const (
	// FileVersion is the only version this package reads or writes.
	FileVersion = uint32(1)

	// HeaderSize is the fixed, 128-byte-aligned file header size.
	HeaderSize = 128

	// IndexEntrySize is the fixed, 128-byte-aligned per-interaction index
	// entry size.
	IndexEntrySize = 128

	// ChainDepthMax is the maximum number of interactions a single
	// recording file can hold; its index has exactly this many slots.
	ChainDepthMax = 65536

	// DataOffset is the fixed absolute offset where the data section
	// begins: immediately after the header and the full index.
	DataOffset = HeaderSize + IndexEntrySize*ChainDepthMax

	// GrowthChunk is the minimum amount a recording file is grown by
	// beyond its current need, to amortize remap cost.
	GrowthChunk = 1 << 20 // 1 MiB

	headerOffsetMagic            = 0
	headerOffsetVersion          = 8
	headerOffsetCRC              = 12
	headerOffsetRecordingID      = 16
	headerOffsetInteractionCount = 48
	headerOffsetDataOffset       = 56
	headerOffsetDataWritten      = 64
	headerOffsetCreatedAt        = 72
	headerOffsetFinalChainState  = 80
	headerOffsetReserved         = 112

	entryOffsetRequestHash  = 0
	entryOffsetPrevHash     = 32
	entryOffsetRequestOff   = 64
	entryOffsetResponseOff  = 72
	entryOffsetTimestamp    = 80
	entryOffsetRequestSize  = 88
	entryOffsetResponseSize = 92
)

// FileHeader is the in-memory representation of a recording file's 128-byte
// header.
type FileHeader struct {
	Magic             [8]byte
	Version           uint32
	HeaderCRC         uint32
	RecordingID       [32]byte
	InteractionCount  uint64
	DataOffsetField   uint64
	DataBytesWritten  uint64
	CreatedAt         uint64
	FinalChainState   [32]byte
}

func defaultHeader(recordingID [32]byte, createdAt uint64) FileHeader {
	return FileHeader{
		Magic:           FileMagic,
		Version:         FileVersion,
		RecordingID:     recordingID,
		DataOffsetField: DataOffset,
		CreatedAt:       createdAt,
	}
}

func (h FileHeader) encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[headerOffsetMagic:], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[headerOffsetVersion:], h.Version)
	binary.LittleEndian.PutUint32(buf[headerOffsetCRC:], h.HeaderCRC)
	copy(buf[headerOffsetRecordingID:], h.RecordingID[:])
	binary.LittleEndian.PutUint64(buf[headerOffsetInteractionCount:], h.InteractionCount)
	binary.LittleEndian.PutUint64(buf[headerOffsetDataOffset:], h.DataOffsetField)
	binary.LittleEndian.PutUint64(buf[headerOffsetDataWritten:], h.DataBytesWritten)
	binary.LittleEndian.PutUint64(buf[headerOffsetCreatedAt:], h.CreatedAt)
	copy(buf[headerOffsetFinalChainState:], h.FinalChainState[:])
	return buf
}

func decodeHeader(buf []byte) FileHeader {
	var h FileHeader
	copy(h.Magic[:], buf[headerOffsetMagic:headerOffsetMagic+8])
	h.Version = binary.LittleEndian.Uint32(buf[headerOffsetVersion:])
	h.HeaderCRC = binary.LittleEndian.Uint32(buf[headerOffsetCRC:])
	copy(h.RecordingID[:], buf[headerOffsetRecordingID:headerOffsetRecordingID+32])
	h.InteractionCount = binary.LittleEndian.Uint64(buf[headerOffsetInteractionCount:])
	h.DataOffsetField = binary.LittleEndian.Uint64(buf[headerOffsetDataOffset:])
	h.DataBytesWritten = binary.LittleEndian.Uint64(buf[headerOffsetDataWritten:])
	h.CreatedAt = binary.LittleEndian.Uint64(buf[headerOffsetCreatedAt:])
	copy(h.FinalChainState[:], buf[headerOffsetFinalChainState:headerOffsetFinalChainState+32])
	return h
}

// headerCRC computes the CRC-32 IEEE checksum over the header bytes that
// participate in integrity checking: bytes [0,12) (magic+version) and
// [16,HeaderSize) (everything after the CRC field itself).
func headerCRC(buf []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write(buf[0:12])
	h.Write(buf[16:HeaderSize])
	return h.Sum32()
}

// InteractionEntry is the in-memory representation of a single 128-byte
// index slot.
type InteractionEntry struct {
	RequestHash     [32]byte
	PrevRequestHash [32]byte
	RequestOffset   uint64
	ResponseOffset  uint64
	Timestamp       uint64
	RequestSize     uint32
	ResponseSize    uint32
}

func (e InteractionEntry) encode() [IndexEntrySize]byte {
	var buf [IndexEntrySize]byte
	copy(buf[entryOffsetRequestHash:], e.RequestHash[:])
	copy(buf[entryOffsetPrevHash:], e.PrevRequestHash[:])
	binary.LittleEndian.PutUint64(buf[entryOffsetRequestOff:], e.RequestOffset)
	binary.LittleEndian.PutUint64(buf[entryOffsetResponseOff:], e.ResponseOffset)
	binary.LittleEndian.PutUint64(buf[entryOffsetTimestamp:], e.Timestamp)
	binary.LittleEndian.PutUint32(buf[entryOffsetRequestSize:], e.RequestSize)
	binary.LittleEndian.PutUint32(buf[entryOffsetResponseSize:], e.ResponseSize)
	return buf
}

func decodeEntry(buf []byte) InteractionEntry {
	var e InteractionEntry
	copy(e.RequestHash[:], buf[entryOffsetRequestHash:entryOffsetRequestHash+32])
	copy(e.PrevRequestHash[:], buf[entryOffsetPrevHash:entryOffsetPrevHash+32])
	e.RequestOffset = binary.LittleEndian.Uint64(buf[entryOffsetRequestOff:])
	e.ResponseOffset = binary.LittleEndian.Uint64(buf[entryOffsetResponseOff:])
	e.Timestamp = binary.LittleEndian.Uint64(buf[entryOffsetTimestamp:])
	e.RequestSize = binary.LittleEndian.Uint32(buf[entryOffsetRequestSize:])
	e.ResponseSize = binary.LittleEndian.Uint32(buf[entryOffsetResponseSize:])
	return e
}
