package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// envelopeFixedSize is From + To + KeyLen + MsgLen
const envelopeFixedSize = PeerIDSize + PeerIDSize + 2 + 4

// Envelope is the routed unit of relay traffic. Message is opaque to the
// relay; Key is stable across retransmissions of the same logical message.
type Envelope struct {
	From    PeerID // zero when the sender is anonymized
	To      PeerID
	Key     []byte
	Message []byte
}

func (e *Envelope) Type() uint16 { return MsgTypeEnvelope }

// Size is the number of stored bytes the envelope is charged for
func (e *Envelope) Size() int64 {
	return int64(len(e.Message))
}

// KeyString returns the dedupe key in a form usable as a map key
func (e *Envelope) KeyString() string {
	return string(e.Key)
}

// Validate checks the fields the codec cannot represent
func (e *Envelope) Validate() error {
	if e.To.IsZero() {
		return fmt.Errorf("%w: envelope without recipient", ErrInvalidField)
	}
	if len(e.Key) == 0 || len(e.Key) > math.MaxUint16 {
		return fmt.Errorf("%w: dedupe key of %d bytes", ErrInvalidField, len(e.Key))
	}
	if uint64(len(e.Message)) > math.MaxUint32 {
		return fmt.Errorf("%w: message of %d bytes", ErrInvalidField, len(e.Message))
	}
	return nil
}

// Encode encodes the envelope body
func (e *Envelope) Encode() []byte {
	buf := make([]byte, envelopeFixedSize+len(e.Key)+len(e.Message))
	offset := 0

	copy(buf[offset:], e.From[:])
	offset += PeerIDSize

	copy(buf[offset:], e.To[:])
	offset += PeerIDSize

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(e.Key)))
	offset += 2

	copy(buf[offset:], e.Key)
	offset += len(e.Key)

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(e.Message)))
	offset += 4

	copy(buf[offset:], e.Message)

	return buf
}

// DecodeEnvelope decodes an envelope body. The result owns its byte slices.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	d := newDecoder(body)
	e := &Envelope{
		From: d.peerID(),
		To:   d.peerID(),
	}
	e.Key = d.bytes16()
	e.Message = d.bytes32()
	if err := d.finish(); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Message == nil {
		e.Message = []byte{}
	}
	return e, nil
}

// Equal reports field-wise equality
func (e *Envelope) Equal(o *Envelope) bool {
	return e.From == o.From && e.To == o.To &&
		bytes.Equal(e.Key, o.Key) && bytes.Equal(e.Message, o.Message)
}
