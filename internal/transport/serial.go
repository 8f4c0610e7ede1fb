package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"
)

// serialOptions are the port settings for a link: 8N1, blocking reads of
// at least one byte.
func serialOptions(port string, baud int) serial.OpenOptions {
	if baud <= 0 {
		baud = 115200
	}
	return serial.OpenOptions{
		PortName:        port,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 1,
	}
}

func newSerial(port string, opts Options) (Source, error) {
	o := serialOptions(port, opts.Baud)
	return &dialSource{
		name: fmt.Sprintf("serial %s @%d", port, o.BaudRate),
		dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
			rwc, err := serial.Open(o)
			if err != nil {
				return nil, fmt.Errorf("serial.Open %s: %w", port, err)
			}
			if opts.Settle > 0 {
				log.WithField("port", port).Debugf("waiting %s for the adapter", opts.Settle)
				select {
				case <-time.After(opts.Settle):
				case <-ctx.Done():
					rwc.Close()
					return nil, ctx.Err()
				}
			}
			return rwc, nil
		},
	}, nil
}

func init() {
	Register("serial", newSerial)
}
