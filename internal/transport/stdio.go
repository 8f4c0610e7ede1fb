package transport

import (
	"context"
	"io"
	"os"
	"sync"
)

// stdio is the process' stdin and stdout as one link, for running the
// host under socat or an emulator's pipe.
type stdio struct {
	io.Reader
	io.Writer
}

// Close leaves the descriptors open; the process owns them.
func (stdio) Close() error { return nil }

type stdioSource struct {
	mu   sync.Mutex
	used bool
	rwc  io.ReadWriteCloser
}

func newStdio(string, Options) (Source, error) {
	return &stdioSource{rwc: stdio{os.Stdin, os.Stdout}}, nil
}

// Next returns the link once; stdin can not be reopened.
func (s *stdioSource) Next(ctx context.Context) (io.ReadWriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.used {
		return nil, ErrDone
	}
	s.used = true
	return s.rwc, nil
}

func (s *stdioSource) String() string { return "stdio" }
func (s *stdioSource) Close() error   { return nil }

func init() {
	Register("stdio", newStdio)
}
