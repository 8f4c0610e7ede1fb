// Package server is the host half of the bridge. It reads request frames
// from the link, runs them against the storage providers the drives point
// at and writes the replies.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/config"
	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/proto"
	"cbmbridge/internal/provider"
)

// Server serves one link at a time. All request handling happens on the
// goroutine running Serve; only Logs and Stats may be called concurrently.
type Server struct {
	cfg  config.Config
	opts provider.Options

	drives *driveTable

	channels map[byte]*channel
	advanced bool
	charset  string

	w   *proto.Writer
	cur *LogEntry

	logs  *logHub
	stats *statsHub

	// now is the clock for GETDATIM and directory headers.
	now func() time.Time

	serveMu sync.Mutex
}

// New creates a server for cfg. Provider specs are resolved relative to
// opts.BaseDir; providers are opened on first use.
func New(cfg config.Config, opts provider.Options) *Server {
	return &Server{
		cfg:      cfg,
		opts:     opts,
		drives:   newDriveTable(cfg, opts),
		channels: map[byte]*channel{},
		advanced: cfg.Compat.AdvancedWildcards,
		charset:  cfg.Charset,
		logs:     newLogHub(cfg.LogRingSize),
		stats:    newStatsHub(),
		now:      time.Now,
	}
}

// Serve runs the request loop on rwc until ctx is cancelled, the device
// hangs up (nil error) or the link fails.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	s.serveMu.Lock()
	defer s.serveMu.Unlock()

	r := proto.NewReader(rwc)
	s.w = proto.NewWriter(rwc)
	defer s.closeAllChannels()

	stop := context.AfterFunc(ctx, func() { rwc.Close() })
	defer stop()

	if err := s.sendDeviceOptions(); err != nil {
		return s.linkError(ctx, err)
	}

	for {
		f, err := r.ReadFrame()
		if err != nil {
			if proto.IsTimeout(err) {
				continue
			}
			return s.linkError(ctx, err)
		}
		if err := s.handle(f); err != nil {
			return s.linkError(ctx, err)
		}
	}
}

func (s *Server) linkError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		log.Info("device disconnected")
		return nil
	}
	return fmt.Errorf("link: %w", err)
}

// Close closes every open channel and provider.
func (s *Server) Close() error {
	s.closeAllChannels()
	return s.drives.closeAll()
}

// Logs returns up to n recent requests, oldest first.
func (s *Server) Logs(n int) []LogEntry {
	return s.logs.snapshot(n)
}

// FilteredLogs returns the recent requests matching f.
func (s *Server) FilteredLogs(f LogFilter) []LogEntry {
	return s.logs.filtered(f)
}

// ClearLogs empties the request log.
func (s *Server) ClearLogs() {
	s.logs.clear()
}

// Stats returns a copy of the request counters.
func (s *Server) Stats() StatsSnapshot {
	return s.stats.snapshot()
}

// handle processes one request frame. Only a failure to write to the link
// is returned; everything else is answered on the wire.
func (s *Server) handle(f proto.Frame) error {
	start := time.Now()
	le := LogEntry{
		Time:     start,
		Channel:  f.Channel,
		Op:       byte(f.Op),
		OpName:   f.Op.String(),
		ReqBytes: proto.HeaderSize + len(f.Payload),
	}
	s.cur = &le
	defer func() {
		s.cur = nil
		le.DurationMs = time.Since(start).Milliseconds()
		le.CodeName = cbmerr.Code(le.Code).String()
		if s.cfg.LogRequests {
			s.logs.add(le)
		}
		s.stats.add(le.Op, le.Code, le.ReqBytes, le.RespBytes, le.DurationMs)
	}()

	fields := log.Fields{"op": f.Op.String(), "channel": f.Channel, "len": len(f.Payload)}
	log.WithFields(fields).Debug("request")
	traceFrame("in", f)

	switch {
	case f.Op == proto.OpTerm:
		log.WithField("source", "device").Info(asciiSanitize(strings.TrimRight(string(f.Payload), "\r\n")))
		return nil
	case f.Op == proto.OpReset:
		return s.opReset(f)
	case f.Op == proto.OpCharset:
		s.charset = string(cstring(f.Payload))
		le.Info = s.charset
		log.WithField("charset", s.charset).Info("device character set")
		return s.reply(f.Channel, nil)
	case f.Op == proto.OpSetOpt:
		return s.reply(f.Channel, s.applyOption(string(cstring(f.Payload))))
	case f.Op.IsOpen():
		return s.opOpen(f)
	case f.Op == proto.OpRead:
		return s.opRead(f)
	case f.Op == proto.OpWrite, f.Op == proto.OpWriteEOF:
		return s.opWrite(f)
	case f.Op == proto.OpSeek:
		return s.opSeek(f)
	case f.Op == proto.OpPosition:
		return s.opPosition(f)
	case f.Op == proto.OpClose:
		return s.opClose(f)
	case f.Op == proto.OpBlock:
		return s.opBlock(f)
	case f.Op == proto.OpGetDatim:
		return s.opGetDatim(f)
	case f.Op.HasNamePacket():
		return s.opCommand(f)
	}

	log.WithFields(fields).Warn("unexpected opcode")
	return s.reply(f.Channel, cbmerr.Errorf(cbmerr.Fault, "unexpected opcode %s", f.Op))
}

// send writes f and accounts for it in the current log entry.
func (s *Server) send(f proto.Frame) error {
	if s.cur != nil {
		s.cur.RespBytes += proto.HeaderSize + len(f.Payload)
		if f.Op == proto.OpReply {
			s.cur.Code = byte(f.Code())
		}
	}
	traceFrame("out", f)
	return s.w.WriteFrame(f)
}

// replyFrame builds the REPLY for err. Track and sector follow the code
// when the error carries them, and always for FILES SCRATCHED, where the
// track byte is the file count.
func replyFrame(ch byte, err error) proto.Frame {
	code := cbmerr.CodeOf(err)
	t, sec := cbmerr.TSOf(err)
	if t != 0 || sec != 0 || code == cbmerr.FilesScratched {
		return proto.Reply(ch, code, t, sec)
	}
	return proto.Reply(ch, code)
}

func (s *Server) reply(ch byte, err error) error {
	if err != nil {
		entry := log.WithFields(log.Fields{"channel": ch, "code": cbmerr.CodeOf(err).String()})
		if cbmerr.CodeOf(err) == cbmerr.Fault {
			entry.WithError(err).Warn("request failed")
		} else {
			entry.WithError(err).Debug("request failed")
		}
		if s.cur != nil && s.cur.Info == "" {
			s.cur.Info = err.Error()
		}
	}
	return s.send(replyFrame(ch, err))
}

// opReset drops all channel state, echoes the RESET and sends the device
// options again.
func (s *Server) opReset(f proto.Frame) error {
	s.closeAllChannels()
	s.advanced = s.cfg.Compat.AdvancedWildcards
	log.Info("device reset")
	if err := s.send(proto.Frame{Op: proto.OpReset, Channel: f.Channel}); err != nil {
		return err
	}
	return s.sendDeviceOptions()
}

func (s *Server) sendDeviceOptions() error {
	for _, o := range s.cfg.DeviceOptions {
		s.applyOption(o)
		if err := s.send(proto.Frame{Op: proto.OpSetOpt, Channel: proto.ChanSetOpt, Payload: []byte(o)}); err != nil {
			return err
		}
	}
	return nil
}

// applyOption handles the host side of an "X" option string. Options the
// host does not care about are accepted silently.
func (s *Server) applyOption(o string) error {
	o = strings.ToUpper(strings.TrimSpace(o))
	switch o {
	case "XW+":
		s.advanced = true
	case "XW-":
		s.advanced = false
	default:
		if !strings.HasPrefix(o, "X") {
			return cbmerr.Errorf(cbmerr.SyntaxUnknown, "option %q", o)
		}
	}
	return nil
}

func (s *Server) opGetDatim(f proto.Frame) error {
	dt := proto.DateTimeFromTime(s.now())
	return s.send(proto.Reply(f.Channel, cbmerr.OK, dt.AppendTo(nil)...))
}

// opCommand parses the filename packet of a DOS command and runs it.
func (s *Server) opCommand(f proto.Frame) error {
	var ni nameinfo.NameInfo
	if err := nameinfo.ParsePacket(nameinfo.Command(f.Op), f.Payload, &ni); err != nil {
		return s.reply(f.Channel, err)
	}
	if s.cur != nil {
		s.cur.Info = ni.String()
	}
	log.WithFields(log.Fields{"op": f.Op.String(), "request": ni.String()}).Debug("command")

	var err error
	switch f.Op {
	case proto.OpMove:
		err = s.cmdRename(&ni)
	case proto.OpDelete:
		err = s.cmdScratch(&ni)
	case proto.OpFormat:
		err = s.cmdNew(&ni)
	case proto.OpChkdsk:
		err = s.cmdValidate(&ni)
	case proto.OpRmdir:
		err = s.cmdRmdir(&ni)
	case proto.OpMkdir:
		err = s.cmdMkdir(&ni)
	case proto.OpChdir:
		err = s.cmdChdir(&ni)
	case proto.OpAssign:
		err = s.cmdAssign(&ni)
	case proto.OpCopy:
		err = s.cmdCopy(&ni)
	case proto.OpDuplicate:
		err = s.cmdDuplicate(&ni)
	case proto.OpInitialize:
		err = s.cmdInitialize(&ni)
	default:
		err = cbmerr.Errorf(cbmerr.Fault, "unexpected command %s", f.Op)
	}
	return s.reply(f.Channel, err)
}

// cstring returns b up to its first zero byte.
func cstring(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
