package device

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/proto"
)

// Open opens channel sa on name. Secondary address 0 enables "$" for the
// directory and 1 defaults to writing; 15 runs name as a command.
func (d *Device) Open(sa byte, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sa == proto.ChanCommand {
		if name == "" {
			return nil
		}
		return d.command(name)
	}
	if sa > proto.MaxChannel {
		return d.fail(cbmerr.Errorf(cbmerr.NoChannel, "channel %d", sa))
	}
	if len(name) == 0 {
		return d.fail(cbmerr.Errorf(cbmerr.SyntaxNoName, "open without a name"))
	}
	if len(name) > len(d.buf) {
		return d.fail(cbmerr.Errorf(cbmerr.SyntaxLong, "name is %d bytes", len(name)))
	}

	hint := nameinfo.ParseHint(0)
	if sa == 0 {
		hint = nameinfo.HintLoad
	}
	n := copy(d.buf[:], name)
	nameinfo.Parse(d.buf[:], n, hint, &d.ni)
	if d.ni.Cmd == nameinfo.CmdSyntax {
		return d.fail(cbmerr.Errorf(cbmerr.SyntaxUnknown, "cannot parse %q", name))
	}
	op := proto.OpenOpcode(d.ni.Cmd, d.ni.Access, sa)
	log.WithFields(log.Fields{"channel": sa, "op": op.String(), "request": d.ni.String()}).Debug("open")

	plen, err := nameinfo.AssembleInPlace(d.buf[:], &d.ni)
	if err != nil {
		return d.fail(cbmerr.Wrap(cbmerr.SyntaxLong, err))
	}

	st, err := d.channels[sa].Request(op)
	if err != nil {
		d.channels[sa] = proto.StateClosed
		return d.fail(err)
	}
	d.channels[sa] = st
	r, err := d.call(proto.Frame{Op: op, Channel: sa, Payload: d.buf[:plen]})
	d.channels[sa] = st.Reply(op, r.Op, r.Code())
	if err != nil {
		d.channels[sa] = proto.StateClosed
	}
	return err
}

// Read returns the next chunk of channel sa and whether it was the last.
// Directory channels return one listing record per call. Channel 15
// returns the status line.
func (d *Device) Read(sa byte) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sa == proto.ChanCommand {
		return []byte(d.takeStatus() + "\r"), true, nil
	}
	st := d.channels[sa]
	if _, err := st.Request(proto.OpRead); err != nil {
		return nil, true, d.fail(err)
	}
	if st == proto.StateDraining {
		return nil, true, nil
	}
	if err := d.w.WriteFrame(proto.Frame{Op: proto.OpRead, Channel: sa}); err != nil {
		return nil, true, err
	}
	f, err := d.await(sa)
	if err != nil {
		return nil, true, d.fail(err)
	}
	d.channels[sa] = st.Reply(proto.OpRead, f.Op, f.Code())
	switch f.Op {
	case proto.OpData:
		return f.Payload, false, nil
	case proto.OpDataEOF:
		return f.Payload, true, nil
	case proto.OpReply:
		if err := d.replyStatus(f); err != nil {
			return nil, true, err
		}
		return nil, true, nil
	}
	return nil, true, d.fail(cbmerr.Errorf(cbmerr.Fault, "READ answered with %s", f.Op))
}

// Write sends data on channel sa; last ends the file, which the host then
// closes. Each frame is acknowledged before the next is sent.
func (d *Device) Write(sa byte, data []byte, last bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sa == proto.ChanCommand {
		return d.command(string(data))
	}
	for {
		chunk := data
		if len(chunk) > proto.MaxPayload {
			chunk = chunk[:proto.MaxPayload]
		}
		data = data[len(chunk):]
		op := proto.OpWrite
		if last && len(data) == 0 {
			op = proto.OpWriteEOF
		}
		st, err := d.channels[sa].Request(op)
		if err != nil {
			return d.fail(err)
		}
		r, err := d.call(proto.Frame{Op: op, Channel: sa, Payload: chunk})
		d.channels[sa] = st.Reply(op, r.Op, r.Code())
		if err != nil || len(data) == 0 {
			return err
		}
	}
}

// Close closes channel sa. Closing channel 15 closes every channel.
func (d *Device) Close(sa byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sa != proto.ChanCommand {
		return d.close(sa)
	}
	var errs []error
	for ch, st := range d.channels {
		if st != proto.StateClosed {
			errs = append(errs, d.close(ch))
		}
	}
	return errors.Join(errs...)
}

func (d *Device) close(sa byte) error {
	st := d.channels[sa]
	delete(d.channels, sa)
	if st == proto.StateClosed {
		return nil
	}
	_, err := d.call(proto.Frame{Op: proto.OpClose, Channel: sa})
	return err
}

// ReadDir lists the directory the way LOAD"$..." would and returns its
// records: header, entries, free space.
func (d *Device) ReadDir(pattern string) ([]proto.DirEntry, error) {
	const sa = 0
	if err := d.Open(sa, "$"+pattern); err != nil {
		return nil, err
	}
	defer d.Close(sa)
	var out []proto.DirEntry
	for {
		rec, last, err := d.Read(sa)
		if err != nil {
			return out, err
		}
		if len(rec) > 0 {
			e, err := proto.DecodeDirEntry(rec)
			if err != nil {
				return out, cbmerr.Wrap(cbmerr.Fault, err)
			}
			out = append(out, e)
		}
		if last {
			return out, nil
		}
	}
}

// Channels returns the channels that are not closed.
func (d *Device) Channels() map[byte]proto.ChannelState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[byte]proto.ChannelState, len(d.channels))
	for ch, st := range d.channels {
		if st != proto.StateClosed {
			out[ch] = st
		}
	}
	return out
}
