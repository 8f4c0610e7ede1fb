package transport

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/ziutek/telnet"
	log "github.com/sirupsen/logrus"
)

// newTelnet dials a serial-over-network adapter that speaks telnet, such
// as ser2net in telnet mode. The telnet layer escapes 0xFF bytes, which
// frames use freely.
func newTelnet(addr string, opts Options) (Source, error) {
	return &dialSource{
		name: "telnet " + addr,
		dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
			c, err := dialTCP(ctx, addr, opts)
			if err != nil {
				return nil, err
			}
			tc, err := telnet.NewConn(c)
			if err != nil {
				c.Close()
				return nil, fmt.Errorf("telnet %s: %w", addr, err)
			}
			return tc, nil
		},
	}, nil
}

// newTCP dials a raw TCP adapter.
func newTCP(addr string, opts Options) (Source, error) {
	return &dialSource{
		name: "tcp " + addr,
		dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
			return dialTCP(ctx, addr, opts)
		},
	}, nil
}

func dialTCP(ctx context.Context, addr string, opts Options) (net.Conn, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return c, nil
}

// listenSource waits for the device side to connect.
type listenSource struct {
	ln net.Listener
}

func newListen(addr string, opts Options) (Source, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	log.WithField("addr", ln.Addr().String()).Info("waiting for the device")
	return &listenSource{ln: ln}, nil
}

func (l *listenSource) Next(ctx context.Context) (io.ReadWriteCloser, error) {
	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()
	c, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	log.WithField("peer", c.RemoteAddr().String()).Info("device connected")
	return c, nil
}

func (l *listenSource) Addr() net.Addr { return l.ln.Addr() }
func (l *listenSource) String() string { return "listen " + l.ln.Addr().String() }
func (l *listenSource) Close() error   { return l.ln.Close() }

func init() {
	Register("telnet", newTelnet)
	Register("tcp", newTCP)
	Register("listen", newListen)
}
