package proto

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"cbmbridge/internal/cbmerr"
)

const (
	HeaderSize = 3
	MaxFrame   = 255
	MaxPayload = MaxFrame - HeaderSize
)

// Frame is one unit on the link: [opcode][total length][channel][payload].
type Frame struct {
	Op      Opcode
	Channel byte
	Payload []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("%s ch=%d len=%d", f.Op, f.Channel, len(f.Payload))
}

// Reply returns a REPLY frame for channel ch carrying code and optional
// extra bytes.
func Reply(ch byte, code cbmerr.Code, extra ...byte) Frame {
	p := make([]byte, 0, 1+len(extra))
	p = append(p, byte(code))
	p = append(p, extra...)
	return Frame{Op: OpReply, Channel: ch, Payload: p}
}

// Code returns the error byte of a REPLY frame; an empty reply is FAULT.
func (f Frame) Code() cbmerr.Code {
	if len(f.Payload) == 0 {
		return cbmerr.Fault
	}
	return cbmerr.Code(f.Payload[0])
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Reader reads frames from the link, skipping SYNC fill bytes and
// resynchronising on bytes that cannot start a frame.
type Reader struct {
	br      *bufio.Reader
	dl      readDeadliner
	timeout time.Duration
	buf     [MaxPayload]byte

	// Skipped counts bytes dropped while looking for a frame start.
	Skipped int
}

func NewReader(r io.Reader) *Reader {
	fr := &Reader{br: bufio.NewReaderSize(r, 512)}
	fr.dl, _ = r.(readDeadliner)
	return fr
}

// SetTimeout sets the time one ReadFrame may wait; 0 waits forever. It
// only has an effect if the underlying reader supports read deadlines.
func (r *Reader) SetTimeout(d time.Duration) {
	r.timeout = d
}

// ReadFrame returns the next frame. The payload is only valid until the
// next call. A timeout is reported as a DRIVE_NOT_READY error.
func (r *Reader) ReadFrame() (Frame, error) {
	if r.dl != nil {
		var deadline time.Time
		if r.timeout > 0 {
			deadline = time.Now().Add(r.timeout)
		}
		if err := r.dl.SetReadDeadline(deadline); err != nil {
			return Frame{}, fmt.Errorf("set read deadline: %w", err)
		}
	}

	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return Frame{}, r.wrap(err)
		}
		op := Opcode(b)
		if op == OpSync {
			continue
		}
		if !op.Known() {
			r.Skipped++
			continue
		}
		ln, err := r.br.ReadByte()
		if err != nil {
			return Frame{}, r.wrap(err)
		}
		if ln < HeaderSize {
			r.Skipped += 2
			continue
		}
		ch, err := r.br.ReadByte()
		if err != nil {
			return Frame{}, r.wrap(err)
		}
		p := r.buf[:int(ln)-HeaderSize]
		if _, err := io.ReadFull(r.br, p); err != nil {
			return Frame{}, r.wrap(err)
		}
		return Frame{Op: op, Channel: ch, Payload: p}, nil
	}
}

func (r *Reader) wrap(err error) error {
	if isTimeout(err) {
		return cbmerr.Wrap(cbmerr.DriveNotReady, err)
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsTimeout reports whether err is a read timeout from ReadFrame.
func IsTimeout(err error) bool {
	return cbmerr.CodeOf(err) == cbmerr.DriveNotReady && isTimeout(err)
}

// Writer writes whole frames. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf [MaxFrame]byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// ErrPayloadTooLarge is returned for payloads beyond MaxPayload.
var ErrPayloadTooLarge = errors.New("proto: payload exceeds 252 bytes")

// WriteFrame sends f with a single Write call.
func (w *Writer) WriteFrame(f Frame) error {
	if len(f.Payload) > MaxPayload {
		return cbmerr.Wrap(cbmerr.Fault, ErrPayloadTooLarge)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	n := HeaderSize + len(f.Payload)
	w.buf[0] = byte(f.Op)
	w.buf[1] = byte(n)
	w.buf[2] = f.Channel
	copy(w.buf[HeaderSize:], f.Payload)
	_, err := w.w.Write(w.buf[:n])
	return err
}

// WriteSync sends n SYNC bytes, letting a receiver that lost track of
// frame boundaries find the next header.
func (w *Writer) WriteSync(n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for n > 0 {
		k := n
		if k > len(w.buf) {
			k = len(w.buf)
		}
		for i := 0; i < k; i++ {
			w.buf[i] = byte(OpSync)
		}
		if _, err := w.w.Write(w.buf[:k]); err != nil {
			return err
		}
		n -= k
	}
	return nil
}
