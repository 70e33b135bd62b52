package protocol

import "fmt"

// BlockWriter is the sending half of a framed transport
type BlockWriter interface {
	WriteSizedBlock(block []byte) error
}

// BlockReader is the receiving half of a framed transport
type BlockReader interface {
	ReadSizedBlock() ([]byte, error)
}

// Message is any packet body that knows its own type
type Message interface {
	Type() uint16
	Encode() []byte
}

// Packet is a decoded header plus raw body
type Packet struct {
	Header Header
	Body   []byte
}

// EncodePacket prepends a header for msgType to body
func EncodePacket(msgType uint16, body []byte) []byte {
	h := Header{Magic: ProtocolMagic, Version: ProtocolVersion, Type: msgType}
	buf := make([]byte, 0, HeaderSize+len(body))
	buf = append(buf, h.Encode()...)
	return append(buf, body...)
}

// DecodePacket splits one sized block into header and body
func DecodePacket(block []byte) (*Packet, error) {
	p := &Packet{}
	if err := p.Header.Decode(block); err != nil {
		return nil, err
	}
	if err := p.Header.Validate(); err != nil {
		return nil, err
	}
	p.Body = block[HeaderSize:]
	return p, nil
}

// Expect returns ErrUnexpectedType unless the packet has type t
func (p *Packet) Expect(t uint16) error {
	if p.Header.Type != t {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedType,
			MsgTypeName(p.Header.Type), MsgTypeName(t))
	}
	return nil
}

// WriteMessage frames m and writes it as one block
func WriteMessage(w BlockWriter, m Message) error {
	return w.WriteSizedBlock(EncodePacket(m.Type(), m.Encode()))
}

// ReadPacket reads one block and decodes its header
func ReadPacket(r BlockReader) (*Packet, error) {
	block, err := r.ReadSizedBlock()
	if err != nil {
		return nil, err
	}
	return DecodePacket(block)
}
