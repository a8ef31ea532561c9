// Package wire encodes and decodes the request/response blobs stored in the
// data section of a recording file. The layout is fixed by the recording
// format: method, path, query pairs, and header pairs are all 16-bit
// length-prefixed strings; bodies are 32-bit length-prefixed; a response's
// status code is a raw 16-bit value with no prefix.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/google/ouli/internal/fingerprint"
)

// Response is the wire-agnostic response tuple, mirroring fingerprint.Request
// on the response side.
type Response struct {
	Status  uint16
	Headers []fingerprint.Pair
	Body    []byte
}

func putString16(buf []byte, s string) []byte {
	var l [2]byte
	binary.LittleEndian.PutUint16(l[:], uint16(len(s)))
	buf = append(buf, l[:]...)
	return append(buf, s...)
}

func putBody32(buf []byte, body []byte) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(body)))
	buf = append(buf, l[:]...)
	return append(buf, body...)
}

// EncodeRequest serializes a request into the exact byte layout stored in a
// recording file's data section.
func EncodeRequest(req fingerprint.Request) []byte {
	buf := make([]byte, 0, 64+len(req.Body))
	buf = putString16(buf, req.Method)
	buf = putString16(buf, req.Path)

	var queryCount [2]byte
	binary.LittleEndian.PutUint16(queryCount[:], uint16(len(req.Query)))
	buf = append(buf, queryCount[:]...)
	for _, p := range req.Query {
		buf = putString16(buf, p.Key)
		buf = putString16(buf, p.Value)
	}

	var headerCount [2]byte
	binary.LittleEndian.PutUint16(headerCount[:], uint16(len(req.Headers)))
	buf = append(buf, headerCount[:]...)
	for _, p := range req.Headers {
		buf = putString16(buf, p.Key)
		buf = putString16(buf, p.Value)
	}

	buf = putBody32(buf, req.Body)
	return buf
}

// EncodeResponse serializes a response into the exact byte layout stored in
// a recording file's data section.
func EncodeResponse(resp Response) []byte {
	buf := make([]byte, 0, 32+len(resp.Body))
	var status [2]byte
	binary.LittleEndian.PutUint16(status[:], resp.Status)
	buf = append(buf, status[:]...)

	var headerCount [2]byte
	binary.LittleEndian.PutUint16(headerCount[:], uint16(len(resp.Headers)))
	buf = append(buf, headerCount[:]...)
	for _, p := range resp.Headers {
		buf = putString16(buf, p.Key)
		buf = putString16(buf, p.Value)
	}

	buf = putBody32(buf, resp.Body)
	return buf
}

type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) string16() (string, error) {
	if c.pos+2 > len(c.data) {
		return "", fmt.Errorf("wire: truncated length prefix at offset %d", c.pos)
	}
	n := int(binary.LittleEndian.Uint16(c.data[c.pos:]))
	c.pos += 2
	if c.pos+n > len(c.data) {
		return "", fmt.Errorf("wire: truncated string of length %d at offset %d", n, c.pos)
	}
	s := string(c.data[c.pos : c.pos+n])
	c.pos += n
	return s, nil
}

func (c *cursor) uint16() (uint16, error) {
	if c.pos+2 > len(c.data) {
		return 0, fmt.Errorf("wire: truncated uint16 at offset %d", c.pos)
	}
	v := binary.LittleEndian.Uint16(c.data[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *cursor) body32() ([]byte, error) {
	if c.pos+4 > len(c.data) {
		return nil, fmt.Errorf("wire: truncated body length at offset %d", c.pos)
	}
	n := int(binary.LittleEndian.Uint32(c.data[c.pos:]))
	c.pos += 4
	if c.pos+n > len(c.data) {
		return nil, fmt.Errorf("wire: truncated body of length %d at offset %d", n, c.pos)
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// DecodeRequest parses the byte layout produced by EncodeRequest.
func DecodeRequest(data []byte) (fingerprint.Request, error) {
	c := &cursor{data: data}
	var req fingerprint.Request

	method, err := c.string16()
	if err != nil {
		return req, err
	}
	path, err := c.string16()
	if err != nil {
		return req, err
	}

	queryCount, err := c.uint16()
	if err != nil {
		return req, err
	}
	query := make([]fingerprint.Pair, 0, queryCount)
	for i := 0; i < int(queryCount); i++ {
		k, err := c.string16()
		if err != nil {
			return req, err
		}
		v, err := c.string16()
		if err != nil {
			return req, err
		}
		query = append(query, fingerprint.Pair{Key: k, Value: v})
	}

	headerCount, err := c.uint16()
	if err != nil {
		return req, err
	}
	headers := make([]fingerprint.Pair, 0, headerCount)
	for i := 0; i < int(headerCount); i++ {
		k, err := c.string16()
		if err != nil {
			return req, err
		}
		v, err := c.string16()
		if err != nil {
			return req, err
		}
		headers = append(headers, fingerprint.Pair{Key: k, Value: v})
	}

	body, err := c.body32()
	if err != nil {
		return req, err
	}

	req.Method = method
	req.Path = path
	req.Query = query
	req.Headers = headers
	req.Body = append([]byte(nil), body...)
	return req, nil
}

// DecodeResponse parses the byte layout produced by EncodeResponse.
func DecodeResponse(data []byte) (Response, error) {
	c := &cursor{data: data}
	var resp Response

	status, err := c.uint16()
	if err != nil {
		return resp, err
	}

	headerCount, err := c.uint16()
	if err != nil {
		return resp, err
	}
	headers := make([]fingerprint.Pair, 0, headerCount)
	for i := 0; i < int(headerCount); i++ {
		k, err := c.string16()
		if err != nil {
			return resp, err
		}
		v, err := c.string16()
		if err != nil {
			return resp, err
		}
		headers = append(headers, fingerprint.Pair{Key: k, Value: v})
	}

	body, err := c.body32()
	if err != nil {
		return resp, err
	}

	resp.Status = status
	resp.Headers = headers
	resp.Body = append([]byte(nil), body...)
	return resp, nil
}
