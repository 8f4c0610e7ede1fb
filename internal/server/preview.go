package server

import (
	"encoding/hex"
	"fmt"

	log "github.com/sirupsen/logrus"

	"cbmbridge/internal/proto"
)

// traceMaxBytes limits the payload shown per frame at trace level.
const traceMaxBytes = 64

// dumpBytes renders up to max bytes of b as a hex dump; max <= 0 means
// traceMaxBytes.
func dumpBytes(b []byte, max int) string {
	if max <= 0 {
		max = traceMaxBytes
	}
	if len(b) <= max {
		return hex.Dump(b)
	}
	return hex.Dump(b[:max]) + fmt.Sprintf("... %d more\n", len(b)-max)
}

// HumanBytes formats a byte count for people.
func HumanBytes(b uint64) string {
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	v := float64(b) / 1024
	for _, unit := range []string{"KiB", "MiB"} {
		if v < 1024 {
			return fmt.Sprintf("%.2f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.2f GiB", v)
}

// asciiSanitize makes device text safe for a log line. Shifted PETSCII
// letters become ASCII capitals, other bytes outside printable ASCII
// become dots.
func asciiSanitize(s string) string {
	out := []byte(s)
	for i, c := range out {
		switch {
		case c >= 0x20 && c <= 0x7e:
		case c >= 0xc1 && c <= 0xda:
			out[i] = c - 0x80
		default:
			out[i] = '.'
		}
	}
	return string(out)
}

// traceFrame dumps f at trace level.
func traceFrame(dir string, f proto.Frame) {
	if !log.IsLevelEnabled(log.TraceLevel) {
		return
	}
	log.WithFields(log.Fields{"dir": dir, "op": f.Op.String(), "channel": f.Channel, "len": len(f.Payload)}).
		Trace("frame\n" + dumpBytes(f.Payload, 0))
}
