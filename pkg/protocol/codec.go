package protocol

import "encoding/binary"

// decoder reads big-endian fields from a packet body. The first short read
// latches ErrTruncated; later reads return zero values.
type decoder struct {
	buf []byte
	off int
	err error
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.off < n {
		d.err = ErrTruncated
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) uint8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) uint16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// bytes16 reads a u16 length followed by that many bytes (copied)
func (d *decoder) bytes16() []byte {
	n := d.uint16()
	return clone(d.take(int(n)))
}

// bytes32 reads a u32 length followed by that many bytes (copied)
func (d *decoder) bytes32() []byte {
	n := d.uint32()
	if uint64(n) > uint64(len(d.buf)) {
		d.err = ErrTruncated
		return nil
	}
	return clone(d.take(int(n)))
}

func (d *decoder) peerID() PeerID {
	var id PeerID
	copy(id[:], d.take(PeerIDSize))
	return id
}

// finish reports a truncation, or trailing garbage after the last field
func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return ErrTrailingData
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func putBytes16(buf []byte, b []byte) int {
	binary.BigEndian.PutUint16(buf, uint16(len(b)))
	copy(buf[2:], b)
	return 2 + len(b)
}

func putBytes32(buf []byte, b []byte) int {
	binary.BigEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[4:], b)
	return 4 + len(b)
}
