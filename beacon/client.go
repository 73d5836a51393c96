package beacon

import (
	"encoding/binary"
	"fmt"
)

// Beacon log framing: a 4-byte return marker followed by a 2-byte big-endian
// length prefix, then the raw payload. The randomness payload sits at a fixed
// 6-byte offset and is exactly SeedSize bytes.
const (
	returnMarkerLen = 4
	lengthPrefixLen = 2
	logOverhead     = returnMarkerLen + lengthPrefixLen
)

// returnMarker tags a log record as a sub-call return value.
var returnMarker = [returnMarkerLen]byte{0x15, 0x1f, 0x7c, 0x75}

// EncodeSalt packs a match ID into the wire form the beacon expects: the ID
// as an 8-byte big-endian integer, wrapped in a 2-byte big-endian length
// prefix.
func EncodeSalt(matchID uint64) []byte {
	buf := make([]byte, lengthPrefixLen+8)
	binary.BigEndian.PutUint16(buf[:lengthPrefixLen], 8)
	binary.BigEndian.PutUint64(buf[lengthPrefixLen:], matchID)
	return buf
}

// DecodeSalt unwraps an encoded salt back to its raw bytes.
func DecodeSalt(encoded []byte) ([]byte, error) {
	if len(encoded) < lengthPrefixLen {
		return nil, fmt.Errorf("encoded salt too short: %d bytes", len(encoded))
	}
	n := int(binary.BigEndian.Uint16(encoded[:lengthPrefixLen]))
	if len(encoded) != lengthPrefixLen+n {
		return nil, fmt.Errorf("encoded salt length mismatch: prefix says %d, have %d bytes",
			n, len(encoded)-lengthPrefixLen)
	}
	return encoded[lengthPrefixLen:], nil
}

// DecodeLog extracts the 32-byte randomness payload from a beacon log record.
func DecodeLog(record []byte) ([]byte, error) {
	if len(record) < logOverhead+SeedSize {
		return nil, fmt.Errorf("malformed beacon log: %d bytes, need %d", len(record), logOverhead+SeedSize)
	}
	return record[logOverhead : logOverhead+SeedSize], nil
}

// WrapLog frames a randomness payload as a beacon log record. Beacon
// implementations use this to produce the format DecodeLog expects.
func WrapLog(payload []byte) []byte {
	record := make([]byte, logOverhead+len(payload))
	copy(record, returnMarker[:])
	binary.BigEndian.PutUint16(record[returnMarkerLen:logOverhead], uint16(len(payload)))
	copy(record[logOverhead:], payload)
	return record
}

// Client drives one randomness request end to end against a Service.
type Client struct {
	svc Service
}

// NewClient wraps svc.
func NewClient(svc Service) *Client {
	return &Client{svc: svc}
}

// Request fetches the 32-byte randomness for (committedRound, matchID).
// Service errors propagate verbatim; a malformed response is an error.
func (c *Client) Request(committedRound, matchID uint64) ([]byte, error) {
	record, err := c.svc.MustGet(committedRound, EncodeSalt(matchID))
	if err != nil {
		return nil, err
	}
	return DecodeLog(record)
}
