// Package device is the retro side of the bridge: it turns the OPEN,
// PRINT#, GET# and CLOSE calls a drive receives on the bus into request
// frames for the host, and keeps the drive's error channel.
package device

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/proto"
)

// Options are the runtime settings of the drive. The host may change them
// with SETOPT frames.
type Options struct {
	// Unit is the bus device number, 4..30.
	Unit byte
	// Advanced enables the extended wildcard syntax.
	Advanced bool
	// Timeout bounds the wait for one reply; 0 waits forever.
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{Unit: 8, Timeout: 5 * time.Second}
}

// Device talks to one host over a link. Its methods may be called from
// several goroutines; requests are serialized.
type Device struct {
	mu sync.Mutex

	r    *proto.Reader
	w    *proto.Writer
	opts Options

	// buf is shared by the name parser and the packet assembler.
	buf [proto.MaxPayload]byte
	ni  nameinfo.NameInfo

	channels map[byte]proto.ChannelState

	status     cbmerr.Code
	track, sec byte
	// statusText replaces the status line until it is read once, as
	// after T-RA.
	statusText []byte
}

// New creates a device speaking over rw. The link is not touched until
// the first request.
func New(rw io.ReadWriter, opts Options) *Device {
	if opts.Unit == 0 {
		opts.Unit = 8
	}
	d := &Device{
		r:        proto.NewReader(rw),
		w:        proto.NewWriter(rw),
		opts:     opts,
		channels: map[byte]proto.ChannelState{},
		status:   cbmerr.DOSVersion,
	}
	d.r.SetTimeout(opts.Timeout)
	return d
}

// Options returns the current runtime options.
func (d *Device) Options() Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts
}

// Status returns the error channel line "NN,TEXT,TT,SS" and resets it to
// 00, OK, the way reading channel 15 does on a drive.
func (d *Device) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.takeStatus()
}

func (d *Device) takeStatus() string {
	var s string
	if d.statusText != nil {
		s = string(d.statusText)
	} else {
		s = cbmerr.StatusLine(d.status, d.track, d.sec)
	}
	d.setStatus(cbmerr.OK, 0, 0)
	return s
}

func (d *Device) setStatus(c cbmerr.Code, t, s byte) {
	d.status, d.track, d.sec = c, t, s
	d.statusText = nil
}

// fail records err on the error channel and returns it.
func (d *Device) fail(err error) error {
	t, s := cbmerr.TSOf(err)
	d.setStatus(cbmerr.CodeOf(err), t, s)
	return err
}

// Log sends text to the host's log. Nothing is answered.
func (d *Device) Log(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := []byte(text)
	if len(p) > proto.MaxPayload {
		p = p[:proto.MaxPayload]
	}
	return d.w.WriteFrame(proto.Frame{Op: proto.OpTerm, Channel: proto.ChanTerm, Payload: p})
}

// SetCharset declares the character set the device uses for names.
func (d *Device) SetCharset(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := proto.Frame{Op: proto.OpCharset, Channel: proto.ChanCmd, Payload: append([]byte(name), 0)}
	_, err := d.call(f)
	return err
}

// Reset drops every channel on both sides. The host echoes the RESET.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reset()
}

func (d *Device) reset() error {
	clear(d.channels)
	if err := d.w.WriteFrame(proto.Frame{Op: proto.OpReset, Channel: proto.ChanCmd}); err != nil {
		return err
	}
	for {
		f, err := d.await(proto.ChanCmd)
		if err != nil {
			return d.fail(err)
		}
		if f.Op == proto.OpReset {
			break
		}
	}
	d.setStatus(cbmerr.DOSVersion, 0, 0)
	log.Debug("device reset")
	return nil
}

// call sends f and returns the REPLY on the same channel. Codes of 20
// and above come back as *cbmerr.Error; either way the reply sets the
// error channel.
func (d *Device) call(f proto.Frame) (proto.Frame, error) {
	if err := d.w.WriteFrame(f); err != nil {
		return proto.Frame{}, err
	}
	r, err := d.await(f.Channel)
	if err != nil {
		return proto.Frame{}, d.fail(err)
	}
	if r.Op != proto.OpReply {
		return r, d.fail(cbmerr.Errorf(cbmerr.Fault, "%s answered with %s", f.Op, r.Op))
	}
	return r, d.replyStatus(r)
}

// replyStatus copies a REPLY into the error channel.
func (d *Device) replyStatus(r proto.Frame) error {
	code := r.Code()
	var t, s byte
	if len(r.Payload) >= 3 {
		t, s = r.Payload[1], r.Payload[2]
	}
	d.setStatus(code, t, s)
	if code.Failed() {
		return cbmerr.WithTS(code, t, s)
	}
	return nil
}

// await reads frames until one arrives on ch. SETOPT frames are applied
// on the way; anything else is dropped.
func (d *Device) await(ch byte) (proto.Frame, error) {
	for {
		f, err := d.r.ReadFrame()
		if err != nil {
			return proto.Frame{}, err
		}
		switch {
		case f.Op == proto.OpSetOpt && f.Channel == proto.ChanSetOpt:
			o := string(f.Payload)
			if err := d.applyOption(o); err != nil {
				log.WithError(err).WithField("option", o).Warn("host option ignored")
			}
			continue
		case f.Channel != ch:
			log.WithFields(log.Fields{"op": f.Op.String(), "channel": f.Channel, "want": ch}).Debug("dropping stray frame")
			continue
		}
		f.Payload = append([]byte(nil), f.Payload...)
		return f, nil
	}
}

// applyOption handles an "X" option string. It reports whether the option
// is one the device knows.
func (d *Device) applyOption(o string) error {
	o = strings.ToUpper(strings.TrimSpace(o))
	switch {
	case o == "XW+":
		d.opts.Advanced = true
	case o == "XW-":
		d.opts.Advanced = false
	case strings.HasPrefix(o, "XU="):
		n, err := strconv.Atoi(o[3:])
		if err != nil || n < 4 || n > 30 {
			return cbmerr.Errorf(cbmerr.SyntaxInval, "unit %q", o[3:])
		}
		d.opts.Unit = byte(n)
	default:
		return errUnknownOption
	}
	return nil
}

var errUnknownOption = cbmerr.Errorf(cbmerr.SyntaxUnknown, "unknown option")

func (d *Device) String() string {
	return fmt.Sprintf("unit %d", d.Options().Unit)
}
