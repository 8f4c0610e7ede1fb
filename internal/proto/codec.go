package proto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Decoder reads little-endian primitives from a frame payload.
type Decoder struct {
	b []byte
	o int
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{b: b, o: 0}
}

func (d *Decoder) Remaining() int { return len(d.b) - d.o }

func (d *Decoder) ReadU8() (byte, error) {
	if d.Remaining() < 1 {
		return 0, fmt.Errorf("need 1 byte")
	}
	v := d.b[d.o]
	d.o++
	return v, nil
}

func (d *Decoder) ReadU16() (uint16, error) {
	if d.Remaining() < 2 {
		return 0, fmt.Errorf("need 2 bytes")
	}
	v := binary.LittleEndian.Uint16(d.b[d.o : d.o+2])
	d.o += 2
	return v, nil
}

// ReadCString reads bytes up to a zero terminator and consumes the
// terminator. The returned slice aliases the payload.
func (d *Decoder) ReadCString() ([]byte, error) {
	i := bytes.IndexByte(d.b[d.o:], 0)
	if i < 0 {
		return nil, fmt.Errorf("unterminated string")
	}
	v := d.b[d.o : d.o+i]
	d.o += i + 1
	return v, nil
}

// Rest returns the unread bytes and consumes them.
func (d *Decoder) Rest() []byte {
	v := d.b[d.o:]
	d.o = len(d.b)
	return v
}

// Encoder builds little-endian frame payloads.
type Encoder struct {
	b []byte
}

func NewEncoder(capacity int) *Encoder {
	if capacity < 0 {
		capacity = 0
	}
	return &Encoder{b: make([]byte, 0, capacity)}
}

func (e *Encoder) Bytes() []byte { return e.b }

func (e *Encoder) Len() int { return len(e.b) }

func (e *Encoder) WriteU32(v uint32) {
	e.b = AppendU32(e.b, v)
}

// WriteCString writes s followed by a zero byte. s must not contain zero
// bytes.
func (e *Encoder) WriteCString(s string) error {
	if i := bytes.IndexByte([]byte(s), 0); i >= 0 {
		return fmt.Errorf("string contains zero byte at %d", i)
	}
	e.b = append(e.b, s...)
	e.b = append(e.b, 0)
	return nil
}

// Fits reports whether the payload still fits in one frame.
func (e *Encoder) Fits() bool {
	return len(e.b) <= MaxPayload
}
