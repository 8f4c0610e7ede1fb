package server

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/proto"
	"cbmbridge/internal/provider"
)

// Block sub-operations, the letter after "B-" (U1 and U2 are sent as R
// and W).
const (
	blockRead    = 'R'
	blockWrite   = 'W'
	blockAlloc   = 'A'
	blockFree    = 'F'
	blockPointer = 'P'
)

// opBlock runs a sector command. The payload is
// [sub-op, drive, track, sector, channel]; the data goes through the
// buffer channel opened with "#". For B-P the track byte is the new
// buffer position.
func (s *Server) opBlock(f proto.Frame) error {
	if len(f.Payload) < 5 {
		return s.reply(f.Channel, cbmerr.Errorf(cbmerr.SyntaxInval, "BLOCK needs 5 bytes, have %d", len(f.Payload)))
	}
	sub, drive, track, sector, num := f.Payload[0], f.Payload[1], f.Payload[2], f.Payload[3], f.Payload[4]
	if s.cur != nil {
		s.cur.Info = string(rune(sub)) + " " + blockTS(track, sector)
	}

	needBuf := sub == blockRead || sub == blockWrite || sub == blockPointer
	var ch *channel
	if needBuf {
		ch = s.channels[num]
		if ch == nil || ch.buf == nil {
			return s.reply(f.Channel, cbmerr.Errorf(cbmerr.FileNotOpen, "channel %d has no buffer", num))
		}
	}
	if sub == blockPointer {
		ch.bufPos = int(track)
		return s.reply(f.Channel, nil)
	}

	dn := nameinfo.DriveAndName{Drive: drive}
	p, _, err := s.drives.resolve(&dn)
	if err != nil {
		return s.reply(f.Channel, err)
	}
	bd, ok := p.(provider.BlockDevice)
	if !ok {
		return s.reply(f.Channel, cbmerr.Errorf(cbmerr.NoPermission, "%s has no blocks", p.Label()))
	}

	switch sub {
	case blockRead:
		var data []byte
		if data, err = bd.ReadBlock(track, sector); err == nil {
			copy(ch.buf, data)
			ch.bufPos = 0
		}
	case blockWrite:
		err = bd.WriteBlock(track, sector, ch.buf)
		ch.bufPos = 0
	case blockAlloc:
		err = bd.AllocBlock(track, sector)
	case blockFree:
		err = bd.FreeBlock(track, sector)
	default:
		err = cbmerr.Errorf(cbmerr.SyntaxUnknown, "unknown block command %q", sub)
	}
	if err != nil {
		log.WithFields(log.Fields{"op": string(rune(sub)), "ts": blockTS(track, sector)}).WithError(err).Debug("block command failed")
		return s.reply(f.Channel, err)
	}
	return s.send(proto.Reply(f.Channel, cbmerr.OK, track, sector))
}

func blockTS(track, sector byte) string {
	return fmt.Sprintf("%d,%d", track, sector)
}
