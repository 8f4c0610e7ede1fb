package server

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/proto"
	"cbmbridge/internal/provider"
)

// blockSize is the size of a buffer channel, one disk sector.
const blockSize = 256

// channel is the host state of one open channel.
type channel struct {
	num   byte
	state proto.ChannelState
	kind  proto.Opcode
	name  string

	prov provider.Provider
	file provider.File
	mode provider.Mode

	// next is the chunk read ahead to tell DATA from DATA_EOF.
	next []byte

	// recLen is the record length of a REL file, 0 otherwise.
	recLen int

	// dir holds the encoded records of a directory listing not yet sent.
	dir [][]byte

	// buf is the sector buffer of a "#" channel.
	buf    []byte
	bufPos int
}

func (ch *channel) readable() bool {
	return ch.mode == provider.ModeRead || ch.mode == provider.ModeReadWrite
}

// dropReadAhead moves the file position back over the chunk read ahead.
func (ch *channel) dropReadAhead() error {
	if len(ch.next) == 0 {
		ch.next = nil
		return nil
	}
	n := int64(len(ch.next))
	ch.next = nil
	_, err := ch.file.Seek(-n, io.SeekCurrent)
	return err
}

func (ch *channel) close() error {
	if ch.file == nil {
		return nil
	}
	err := ch.file.Close()
	ch.file = nil
	ch.next = nil
	return err
}

func (s *Server) closeChannel(num byte) error {
	ch, ok := s.channels[num]
	if !ok {
		return nil
	}
	delete(s.channels, num)
	err := ch.close()
	if err != nil {
		log.WithFields(log.Fields{"channel": num, "name": ch.name}).WithError(err).Warn("close failed")
	}
	return err
}

func (s *Server) closeAllChannels() {
	for num := range s.channels {
		s.closeChannel(num)
	}
}

// respond sends f as the answer to req on ch and applies the resulting
// state change. A channel that ends up closed is released.
func (s *Server) respond(ch *channel, req proto.Opcode, f proto.Frame) error {
	code := cbmerr.OK
	if f.Op == proto.OpReply {
		code = f.Code()
	}
	ch.state = ch.state.Reply(req, f.Op, code)
	if ch.state == proto.StateClosed {
		s.closeChannel(ch.num)
	}
	return s.send(f)
}

// request checks op against the state of channel num. A nil channel with
// nil error means the request was already answered.
func (s *Server) request(num byte, op proto.Opcode, replyCh byte) (*channel, error) {
	ch := s.channels[num]
	st := proto.StateClosed
	if ch != nil {
		st = ch.state
	}
	next, err := st.Request(op)
	if err != nil {
		if errors.Is(err, proto.ErrProtocol) {
			log.WithFields(log.Fields{"channel": num, "op": op.String(), "state": st.String()}).Warn("protocol violation")
			s.closeChannel(num)
		}
		return nil, s.reply(replyCh, err)
	}
	if ch != nil {
		ch.state = next
	}
	return ch, nil
}

func openMode(op proto.Opcode) provider.Mode {
	switch op {
	case proto.OpOpenWR:
		return provider.ModeWrite
	case proto.OpOpenOW:
		return provider.ModeOverwrite
	case proto.OpOpenAP:
		return provider.ModeAppend
	case proto.OpOpenRW:
		return provider.ModeReadWrite
	}
	return provider.ModeRead
}

func (s *Server) opOpen(f proto.Frame) error {
	if f.Channel > proto.MaxChannel {
		return s.reply(f.Channel, cbmerr.Errorf(cbmerr.NoChannel, "channel %d is reserved", f.Channel))
	}
	if old := s.channels[f.Channel]; old != nil {
		if _, err := old.state.Request(f.Op); err != nil {
			s.closeChannel(f.Channel)
			return s.reply(f.Channel, err)
		}
	}
	s.closeChannel(f.Channel)

	ch := &channel{num: f.Channel, state: proto.StateOpening, kind: f.Op, mode: openMode(f.Op)}
	s.channels[f.Channel] = ch

	cmd, _, _ := proto.OpenKind(f.Op)
	var ni nameinfo.NameInfo
	if err := nameinfo.ParsePacket(cmd, f.Payload, &ni); err != nil {
		return s.respond(ch, f.Op, replyFrame(f.Channel, err))
	}
	ch.name = ni.Target.String()
	if s.cur != nil {
		s.cur.Info = ni.String()
	}

	var err error
	switch {
	case f.Op == proto.OpOpenDR:
		err = s.openDir(ch, &ni)
	case strings.HasPrefix(string(ni.Target.Name), "#"):
		ch.buf = make([]byte, blockSize)
		ch.mode = provider.ModeReadWrite
	default:
		err = s.openFile(ch, &ni)
	}
	if err != nil {
		return s.respond(ch, f.Op, replyFrame(f.Channel, err))
	}
	log.WithFields(log.Fields{"channel": f.Channel, "name": ch.name, "mode": ch.mode.String()}).Debug("opened")
	return s.respond(ch, f.Op, proto.Reply(f.Channel, cbmerr.OK))
}

func (s *Server) openFile(ch *channel, ni *nameinfo.NameInfo) error {
	p, _, err := s.drives.resolve(&ni.Target)
	if err != nil {
		return err
	}
	name := string(ni.Target.Name)
	if name == "" {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "no file name")
	}
	ft := ni.Pars.FileType
	if ch.mode == provider.ModeRead {
		if name, ft, err = s.resolveRead(p, name, ft); err != nil {
			return err
		}
	}

	file, err := p.Open(name, ch.mode, ft)
	if err != nil {
		return err
	}
	ch.prov = p
	ch.file = file
	if ft.IsRel() {
		ch.recLen = int(ni.Pars.RecordLen)
	}
	return nil
}

// fill reads up to one frame of data.
func fill(r io.Reader) ([]byte, error) {
	buf := make([]byte, proto.MaxPayload)
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return buf[:n], err
}

func (s *Server) opRead(f proto.Frame) error {
	ch, err := s.request(f.Channel, f.Op, f.Channel)
	if ch == nil {
		return err
	}
	data := func(p []byte, last bool) error {
		op := proto.OpData
		if last {
			op = proto.OpDataEOF
		}
		return s.respond(ch, f.Op, proto.Frame{Op: op, Channel: f.Channel, Payload: p})
	}

	switch {
	case ch.state == proto.StateDraining:
		return data(nil, true)

	case ch.kind == proto.OpOpenDR:
		if len(ch.dir) == 0 {
			return data(nil, true)
		}
		rec := ch.dir[0]
		ch.dir = ch.dir[1:]
		return data(rec, len(ch.dir) == 0)

	case ch.buf != nil:
		end := ch.bufPos + proto.MaxPayload
		if end > len(ch.buf) {
			end = len(ch.buf)
		}
		p := ch.buf[ch.bufPos:end]
		ch.bufPos = end
		return data(p, end == len(ch.buf))

	case !ch.readable():
		return s.respond(ch, f.Op, replyFrame(f.Channel, cbmerr.Errorf(cbmerr.NoPermission, "channel is open for writing")))

	case ch.recLen > 0:
		return s.readRecord(ch, f, data)
	}

	cur := ch.next
	if cur == nil {
		if cur, err = fill(ch.file); err != nil {
			return s.respond(ch, f.Op, replyFrame(f.Channel, err))
		}
	}
	ch.next = nil
	if len(cur) == proto.MaxPayload {
		if ch.next, err = fill(ch.file); err != nil {
			ch.next = nil
			return s.respond(ch, f.Op, replyFrame(f.Channel, err))
		}
	}
	return data(cur, len(ch.next) == 0)
}

// readRecord sends the rest of the current record; the last chunk of the
// record is DATA_EOF, as the drive ends a record read with EOI.
func (s *Server) readRecord(ch *channel, f proto.Frame, data func([]byte, bool) error) error {
	off, err := ch.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return s.respond(ch, f.Op, replyFrame(f.Channel, err))
	}
	left := ch.recLen - int(off%int64(ch.recLen))
	n := left
	if n > proto.MaxPayload {
		n = proto.MaxPayload
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(ch.file, buf)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return data(buf[:got], true)
	case err != nil:
		return s.respond(ch, f.Op, replyFrame(f.Channel, err))
	}
	return data(buf, n == left)
}

func (s *Server) opWrite(f proto.Frame) error {
	ch, err := s.request(f.Channel, f.Op, f.Channel)
	if ch == nil {
		return err
	}
	err = s.writeChannel(ch, f.Payload)
	if f.Op == proto.OpWriteEOF {
		if cerr := ch.close(); err == nil {
			err = cerr
		}
	}
	return s.respond(ch, f.Op, replyFrame(f.Channel, err))
}

func (s *Server) writeChannel(ch *channel, p []byte) error {
	switch {
	case ch.buf != nil:
		n := copy(ch.buf[ch.bufPos:], p)
		ch.bufPos += n
		if n < len(p) {
			return cbmerr.New(cbmerr.OverflowInRecord)
		}
		return nil
	case ch.kind == proto.OpOpenDR, !ch.mode.Writes():
		return cbmerr.Errorf(cbmerr.NoPermission, "channel is open for reading")
	}
	if err := ch.dropReadAhead(); err != nil {
		return err
	}

	var overflow bool
	if ch.recLen > 0 {
		off, err := ch.file.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		if room := ch.recLen - int(off%int64(ch.recLen)); len(p) > room {
			p, overflow = p[:room], true
		}
	}
	if _, err := ch.file.Write(p); err != nil {
		return err
	}
	if overflow {
		return cbmerr.New(cbmerr.OverflowInRecord)
	}
	return nil
}

func (s *Server) opSeek(f proto.Frame) error {
	ch, err := s.request(f.Channel, f.Op, f.Channel)
	if ch == nil {
		return err
	}
	if len(f.Payload) < 4 {
		return s.respond(ch, f.Op, replyFrame(f.Channel, cbmerr.Errorf(cbmerr.Fault, "SEEK needs 4 bytes")))
	}
	off := int64(binary.LittleEndian.Uint32(f.Payload))
	switch {
	case ch.buf != nil:
		if off >= blockSize {
			err = cbmerr.New(cbmerr.IllegalTS)
		} else {
			ch.bufPos = int(off)
		}
	case ch.file == nil:
		err = cbmerr.Errorf(cbmerr.NoPermission, "channel cannot seek")
	default:
		ch.next = nil
		_, err = ch.file.Seek(off, io.SeekStart)
	}
	return s.respond(ch, f.Op, replyFrame(f.Channel, err))
}

// opPosition handles the "P" command. It arrives on the command channel;
// the payload is [channel, record lo, record hi, byte, 0] with record and
// byte counted from 1.
func (s *Server) opPosition(f proto.Frame) error {
	if len(f.Payload) < 1 {
		return s.reply(f.Channel, cbmerr.Errorf(cbmerr.SyntaxNoName, "POSITION without channel"))
	}
	p := append([]byte(nil), f.Payload...)
	for len(p) < 4 {
		p = append(p, 0)
	}
	ch, err := s.request(p[0], f.Op, f.Channel)
	if ch == nil {
		return err
	}
	rec := int64(binary.LittleEndian.Uint16(p[1:3]))
	pos := int64(p[3])
	if rec == 0 {
		rec = 1
	}
	if pos == 0 {
		pos = 1
	}
	return s.reply(f.Channel, s.position(ch, rec, pos))
}

func (s *Server) position(ch *channel, rec, pos int64) error {
	if ch.recLen == 0 || ch.file == nil {
		return cbmerr.Errorf(cbmerr.FileTypeMismatch, "not a relative file with known record length")
	}
	reclen := int64(ch.recLen)
	if pos > reclen {
		return cbmerr.Errorf(cbmerr.OverflowInRecord, "byte %d beyond record length %d", pos, reclen)
	}
	ch.next = nil
	size, err := ch.file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if need := rec * reclen; need > size && ch.mode.Writes() {
		if err := extendRecords(ch.file, size, need, reclen); err != nil {
			return err
		}
	}
	_, err = ch.file.Seek((rec-1)*reclen+(pos-1), io.SeekStart)
	return err
}

// extendRecords grows a relative file from size to need bytes with empty
// records: 0xFF followed by zeros.
func extendRecords(w io.WriteSeeker, size, need, reclen int64) error {
	if _, err := w.Seek(size, io.SeekStart); err != nil {
		return err
	}
	// A partial last record is completed first.
	if rem := size % reclen; rem != 0 {
		if _, err := w.Write(make([]byte, reclen-rem)); err != nil {
			return err
		}
		size += reclen - rem
	}
	empty := make([]byte, reclen)
	empty[0] = 0xFF
	for ; size < need; size += reclen {
		if _, err := w.Write(empty); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) opClose(f proto.Frame) error {
	ch, ok := s.channels[f.Channel]
	if !ok {
		return s.reply(f.Channel, nil)
	}
	ch.state, _ = ch.state.Request(f.Op)
	err := s.closeChannel(f.Channel)
	return s.send(replyFrame(f.Channel, err))
}
