package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation marks malformed or out-of-order traffic
	ErrProtocolViolation = errors.New("protocol violation")

	ErrInvalidMagic   = fmt.Errorf("%w: invalid protocol magic", ErrProtocolViolation)
	ErrInvalidVersion = fmt.Errorf("%w: unsupported protocol version", ErrProtocolViolation)
	ErrInvalidHeader  = fmt.Errorf("%w: invalid header", ErrProtocolViolation)
	ErrTruncated      = fmt.Errorf("%w: truncated packet", ErrProtocolViolation)
	ErrTrailingData   = fmt.Errorf("%w: trailing data after packet body", ErrProtocolViolation)
	ErrUnexpectedType = fmt.Errorf("%w: unexpected packet type", ErrProtocolViolation)
	ErrInvalidField   = fmt.Errorf("%w: invalid field", ErrProtocolViolation)
)

// Header represents the packet header
type Header struct {
	Magic   uint32 // Magic number (0x5A54414C)
	Version uint16 // Protocol version
	Type    uint16 // Packet type
}

// Encode encodes the header to bytes
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)

	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Type)

	return buf
}

// Decode decodes the header from bytes
func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrInvalidHeader
	}

	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	h.Version = binary.BigEndian.Uint16(buf[4:6])
	h.Type = binary.BigEndian.Uint16(buf[6:8])

	return nil
}

// Validate validates the header
func (h *Header) Validate() error {
	if h.Magic != ProtocolMagic {
		return ErrInvalidMagic
	}

	if h.Version != ProtocolVersion {
		return ErrInvalidVersion
	}

	return nil
}
