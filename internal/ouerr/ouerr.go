// Package ouerr defines the typed error taxonomy the core packages return
// and the policy for mapping those errors onto HTTP status codes at the
// dispatcher boundary.
package ouerr

import (
	"errors"
	"fmt"
)

// InvalidFormat means a blob or header could not be parsed. Fatal to the
// file it was read from; during bulk cache warming it is logged and the
// offending recording is skipped.
type InvalidFormat struct {
	Reason string
}

func (e *InvalidFormat) Error() string { return "invalid format: " + e.Reason }

// CorruptedData means a header CRC did not match its recomputed value.
// Fatal to the file.
type CorruptedData struct {
	Offset   uint64
	Expected uint32
	Actual   uint32
}

func (e *CorruptedData) Error() string {
	return fmt.Sprintf("corrupted data at offset %d: expected crc %08x, got %08x", e.Offset, e.Expected, e.Actual)
}

// RecordingNotFound means a replay lookup missed. 404-class to the client.
type RecordingNotFound struct {
	Hash [32]byte
}

func (e *RecordingNotFound) Error() string {
	return fmt.Sprintf("recording not found for hash %x", e.Hash)
}

// FileNotFound means a named recording file does not exist on disk.
// 404-class to the client.
type FileNotFound struct {
	Path string
}

func (e *FileNotFound) Error() string { return "recording file not found: " + e.Path }

// DataTooLarge means a request or response exceeded a configured limit.
// 413-class to the client.
type DataTooLarge struct {
	Size  int
	Limit int
}

func (e *DataTooLarge) Error() string {
	return fmt.Sprintf("data too large: %d exceeds limit %d", e.Size, e.Limit)
}

// InvalidTestName means a session name failed validation. Rejected at
// recording entry, before any session is created.
type InvalidTestName struct {
	Name   string
	Reason string
}

func (e *InvalidTestName) Error() string {
	return fmt.Sprintf("invalid test name %q: %s", e.Name, e.Reason)
}

// ConfigError means configuration failed validation. Aborts at startup.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config error: " + e.Reason }

// HTTPStatus maps a core error onto the HTTP status the dispatcher should
// return to the client, per the disposition table: RecordingNotFound and
// FileNotFound are 404-class, DataTooLarge is 413-class, everything else
// is a 500.
func HTTPStatus(err error) int {
	var notFound *RecordingNotFound
	var fileNotFound *FileNotFound
	var tooLarge *DataTooLarge
	switch {
	case errors.As(err, &notFound), errors.As(err, &fileNotFound):
		return 404
	case errors.As(err, &tooLarge):
		return 413
	default:
		return 500
	}
}
