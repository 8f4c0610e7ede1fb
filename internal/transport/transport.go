// Package transport opens the link between the retro side and the host:
// a serial port, a telnet or TCP connection to a serial-over-network
// adapter, an incoming TCP connection or the process' own stdin/stdout.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"cbmbridge/internal/config"
)

// ErrDone is returned by Source.Next when the source can not produce
// another link, as stdio after its only session.
var ErrDone = errors.New("transport: no more links")

// Source hands out links. Dialing kinds dial again on every Next, so the
// caller reconnects by calling Next after a link failed; listen accepts
// the next device.
type Source interface {
	Next(ctx context.Context) (io.ReadWriteCloser, error)
	// String describes the source for log lines.
	String() string
	Close() error
}

// Options tune how links are opened.
type Options struct {
	Baud        int
	DialTimeout time.Duration
	// Settle is waited after opening a serial port. USB adapters that
	// pulse DTR reset the attached microcontroller on open.
	Settle time.Duration
}

// OptionsFromConfig derives transport options from the host config.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Baud:        cfg.Baud,
		DialTimeout: 10 * time.Second,
	}
}

// Constructor creates a source for the address part of a link spec.
type Constructor func(addr string, opts Options) (Source, error)

var kinds = map[string]Constructor{}

// Register makes a link kind available.
func Register(kind string, ctor Constructor) {
	kinds[strings.ToLower(kind)] = ctor
}

// Kinds returns the registered link kinds.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open creates the source a link spec such as "serial:/dev/ttyUSB0" or
// "telnet:adapter:2323" describes.
func Open(spec string, opts Options) (Source, error) {
	kind, addr, err := config.SplitLink(spec)
	if err != nil {
		return nil, err
	}
	ctor, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("link %q: kind %s not available", spec, kind)
	}
	return ctor(addr, opts)
}

// dialSource dials a fresh connection for every Next.
type dialSource struct {
	name string
	dial func(ctx context.Context) (io.ReadWriteCloser, error)
}

func (d *dialSource) Next(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.dial(ctx)
}

func (d *dialSource) String() string { return d.name }
func (d *dialSource) Close() error   { return nil }
