package device

import (
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/proto"
)

// Command runs a DOS command as if it were written to channel 15.
func (d *Device) Command(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command(text)
}

func (d *Device) command(text string) error {
	if len(text) > len(d.buf) {
		return d.fail(cbmerr.Errorf(cbmerr.SyntaxLong, "command is %d bytes", len(text)))
	}
	if binaryPosition(text) {
		return d.positionCommand([]byte(text[1:]))
	}
	n := copy(d.buf[:], text)
	nameinfo.Parse(d.buf[:], n, nameinfo.HintCommand, &d.ni)
	// Text commands are read from text itself; Parse has cut it up in buf.
	_, mlen := nameinfo.FindCommand([]byte(text))
	rest := strings.TrimRight(text[mlen:], "\r")

	switch d.ni.Cmd {
	case nameinfo.CmdSyntax:
		return d.fail(cbmerr.Errorf(cbmerr.SyntaxUnknown, "unknown command %q", text))
	case nameinfo.CmdUX:
		return d.userCommand(rest)
	case nameinfo.CmdExt:
		return d.option(strings.TrimRight(text, "\r"))
	case nameinfo.CmdBlock:
		return d.blockCommand(strings.TrimPrefix(strings.TrimLeft(rest, " "), "-"))
	case nameinfo.CmdPosition:
		return d.positionCommand(d.ni.Target.Name)
	case nameinfo.CmdTime:
		return d.timeCommand(strings.TrimPrefix(strings.TrimLeft(rest, " "), "-"))
	}

	op, ok := proto.CommandOpcode(d.ni.Cmd)
	if !ok {
		return d.fail(cbmerr.Errorf(cbmerr.SyntaxUnknown, "%s is not sent to the host", d.ni.Cmd))
	}
	plen, err := nameinfo.AssembleInPlace(d.buf[:], &d.ni)
	if err != nil {
		return d.fail(cbmerr.Wrap(cbmerr.SyntaxLong, err))
	}
	log.WithFields(log.Fields{"op": op.String(), "request": d.ni.String()}).Debug("command")
	_, err = d.call(proto.Frame{Op: op, Channel: proto.ChanCommand, Payload: d.buf[:plen]})
	return err
}

// userCommand handles the U commands: U1/UA and U2/UB read and write a
// sector, UI and UJ reset the drive.
func (d *Device) userCommand(rest string) error {
	if rest == "" {
		return d.fail(cbmerr.Errorf(cbmerr.SyntaxUnknown, "U without a letter"))
	}
	switch upperByte(rest[0]) {
	case '1', 'A':
		return d.block(blockRead, rest[1:])
	case '2', 'B':
		return d.block(blockWrite, rest[1:])
	case 'I', '9', 'J', ':':
		if len(rest) > 1 && (rest[1] == '+' || rest[1] == '-') {
			// bus timing switch, nothing to do on this side
			d.setStatus(cbmerr.OK, 0, 0)
			return nil
		}
		return d.reset()
	}
	return d.fail(cbmerr.Errorf(cbmerr.SyntaxUnknown, "U%c", rest[0]))
}

// option applies an X command locally and passes it on to the host.
func (d *Device) option(text string) error {
	o := strings.ToUpper(strings.TrimSpace(text))
	if o == "X" {
		d.setStatus(cbmerr.OK, 0, 0)
		return nil
	}
	err := d.applyOption(o)
	switch {
	case err == errUnknownOption:
	case err != nil:
		return d.fail(err)
	case strings.HasPrefix(o, "XU="):
		d.setStatus(cbmerr.OK, 0, 0)
		return nil
	}
	_, err = d.call(proto.Frame{Op: proto.OpSetOpt, Channel: proto.ChanSetOpt, Payload: []byte(o)})
	return err
}

const (
	blockRead    = 'R'
	blockWrite   = 'W'
	blockAlloc   = 'A'
	blockFree    = 'F'
	blockPointer = 'P'
)

// blockCommand handles "B-x" with the letter first in rest.
func (d *Device) blockCommand(rest string) error {
	if rest == "" {
		return d.fail(cbmerr.Errorf(cbmerr.SyntaxUnknown, "B without a letter"))
	}
	sub := upperByte(rest[0])
	switch sub {
	case blockRead, blockWrite, blockAlloc, blockFree, blockPointer:
		return d.block(sub, rest[1:])
	}
	return d.fail(cbmerr.Errorf(cbmerr.SyntaxUnknown, "B-%c", rest[0]))
}

// block sends a BLOCK request. R and W take channel, drive, track and
// sector; A and F take drive, track and sector; P takes channel and
// position.
func (d *Device) block(sub byte, args string) error {
	want := 4
	switch sub {
	case blockAlloc, blockFree:
		want = 3
	case blockPointer:
		want = 2
	}
	nums, err := blockArgs(args, want)
	if err != nil {
		return d.fail(err)
	}
	var p [5]byte
	p[0] = sub
	switch sub {
	case blockRead, blockWrite:
		p[4], p[1], p[2], p[3] = nums[0], nums[1], nums[2], nums[3]
	case blockAlloc, blockFree:
		p[1], p[2], p[3] = nums[0], nums[1], nums[2]
	case blockPointer:
		p[4], p[2] = nums[0], nums[1]
	}
	_, err = d.call(proto.Frame{Op: proto.OpBlock, Channel: proto.ChanCommand, Payload: p[:]})
	return err
}

// blockArgs reads want numbers separated by blanks, commas or a colon.
func blockArgs(s string, want int) ([]byte, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == ':' || r == 0x1d
	})
	if len(fields) < want {
		return nil, cbmerr.Errorf(cbmerr.SyntaxInval, "need %d parameters, have %d", want, len(fields))
	}
	out := make([]byte, want)
	for i := range out {
		n, err := strconv.ParseUint(fields[i], 10, 8)
		if err != nil {
			return nil, cbmerr.Errorf(cbmerr.SyntaxInval, "parameter %q", fields[i])
		}
		out[i] = byte(n)
	}
	return out, nil
}

// binaryPosition reports whether text is the short "P" command. Its
// channel byte is usually 96+channel, a lower case letter, which would
// otherwise be read as the next letter of a mnemonic. Typed spellings of
// POSITION stay text: "position", "Pos" but not "P"+CHR$(111).
func binaryPosition(text string) bool {
	if len(text) < 2 || upperByte(text[0]) != 'P' {
		return false
	}
	c := text[1]
	switch {
	case c >= 'A' && c <= 'Z':
		return false
	case c < 'a' || c > 'z':
		return true
	}
	n := 1
	for n < len(text) && n <= len(positionTail) && text[n] >= 'a' && text[n] <= 'z' {
		n++
	}
	typed := text[0] == 'p' || n > 2
	return !typed || !strings.HasPrefix(positionTail, strings.ToUpper(text[1:n]))
}

// positionTail is POSITION without its first letter.
const positionTail = "OSITION"

// positionCommand sends "P" with its binary arguments: channel (as
// 96+channel), record low, record high, byte.
func (d *Device) positionCommand(args []byte) error {
	if len(args) == 0 {
		return d.fail(cbmerr.Errorf(cbmerr.SyntaxNoName, "P without a channel"))
	}
	var p [5]byte
	copy(p[:4], args)
	if p[0] >= 0x60 {
		p[0] &= 0x1f
	}
	_, err := d.call(proto.Frame{Op: proto.OpPosition, Channel: proto.ChanCommand, Payload: p[:]})
	return err
}

// timeCommand asks the host for the time and leaves it on the error
// channel. Supported forms: R-A (text), R-I (ISO 8601), R-D (decimal
// bytes) and R-B (BCD bytes).
func (d *Device) timeCommand(rest string) error {
	form := strings.ToUpper(rest)
	if len(form) < 2 || form[0] != 'R' {
		return d.fail(cbmerr.Errorf(cbmerr.SyntaxUnknown, "T-%s", rest))
	}
	switch form[1] {
	case 'A', 'I', 'D', 'B':
	default:
		return d.fail(cbmerr.Errorf(cbmerr.SyntaxUnknown, "T-%s", rest))
	}
	r, err := d.call(proto.Frame{Op: proto.OpGetDatim, Channel: proto.ChanCommand})
	if err != nil {
		return err
	}
	dt, err := proto.DecodeDateTime(r.Payload[1:])
	if err != nil {
		return d.fail(cbmerr.Wrap(cbmerr.Fault, err))
	}
	t := dt.Time(time.UTC)
	switch form[1] {
	case 'A':
		d.statusText = []byte(FormatTimeText(t))
	case 'I':
		d.statusText = []byte(FormatTimeISO(t))
	case 'D':
		d.statusText = timeBytes(t, func(v int) byte { return byte(v) })
	case 'B':
		d.statusText = timeBytes(t, func(v int) byte { return byte(v/10<<4 | v%10) })
	}
	return nil
}

// FormatTimeText renders t like "FRI. 10/16/26 02:30:00 PM".
func FormatTimeText(t time.Time) string {
	return strings.ToUpper(t.Format("Mon")) + ". " + strings.ToUpper(t.Format("01/02/06 03:04:05 PM"))
}

// FormatTimeISO renders t like "2026-10-16T14:30:00 FRI".
func FormatTimeISO(t time.Time) string {
	return t.Format("2006-01-02T15:04:05") + " " + strings.ToUpper(t.Format("Mon"))
}

// timeBytes is the 8 byte binary time: weekday, year, month, day, hour
// (1..12), minute, second, PM flag.
func timeBytes(t time.Time, enc func(int) byte) []byte {
	h := t.Hour() % 12
	if h == 0 {
		h = 12
	}
	pm := 0
	if t.Hour() >= 12 {
		pm = 1
	}
	return []byte{
		enc(int(t.Weekday())), enc(t.Year() % 100), enc(int(t.Month())), enc(t.Day()),
		enc(h), enc(t.Minute()), enc(t.Second()), enc(pm),
	}
}

func upperByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
