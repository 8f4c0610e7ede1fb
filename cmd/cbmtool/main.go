// Command cbmtool plays the device side of the bridge from a terminal.
// It talks to a running cbmbridge over any link, or starts one in process
// with --loopback.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pborman/getopt"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	"cbmbridge/internal/config"
	"cbmbridge/internal/device"
	"cbmbridge/internal/provider"
	"cbmbridge/internal/server"
	"cbmbridge/internal/transport"
	"cbmbridge/internal/version"
)

const prompt = "cbm> "

func main() {
	link := getopt.StringLong("link", 'l', "tcp:localhost:6464", "link to the host", "SPEC")
	baud := getopt.IntLong("baud", 'b', 115200, "serial baud rate", "RATE")
	loopback := getopt.StringLong("loopback", 0, "", "serve DIR in process instead of using a link", "DIR")
	configPath := getopt.StringLong("config", 'c', "", "host config for --loopback", "FILE")
	unit := getopt.IntLong("unit", 'u', 8, "device number", "N")
	advanced := getopt.BoolLong("advanced", 'a', "advanced wildcards")
	timeout := getopt.IntLong("timeout-ms", 't', 5000, "reply timeout", "MS")
	script := getopt.StringLong("exec", 'e', "", "run the lines of FILE, then exit", "FILE")
	verbose := getopt.CounterLong("verbose", 'v', "more logging")
	showVersion := getopt.BoolLong("version", 'V', "print version information and exit")
	help := getopt.BoolLong("help", 'h', "show this help")
	getopt.SetParameters("")
	getopt.Parse()

	if *help {
		getopt.PrintUsage(os.Stderr)
		return
	}
	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	log.SetOutput(os.Stderr)
	switch {
	case *verbose >= 2:
		log.SetLevel(log.TraceLevel)
	case *verbose == 1:
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}

	opts := device.Options{Unit: byte(*unit), Advanced: *advanced, Timeout: time.Duration(*timeout) * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		rwc io.ReadWriteCloser
		srv *server.Server
		err error
	)
	if *loopback != "" {
		rwc, srv, err = startLoopback(ctx, *configPath, *loopback)
	} else {
		rwc, err = dial(ctx, *link, *baud)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cbmtool: %s\n", err)
		os.Exit(1)
	}
	defer rwc.Close()
	if srv != nil {
		defer srv.Close()
	}

	sh := &shell{dev: device.New(rwc, opts), srv: srv, out: os.Stdout}
	if *script != "" {
		err = runScript(sh, *script)
	} else {
		err = interactive(sh)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cbmtool: %s\n", err)
		os.Exit(1)
	}
}

func dial(ctx context.Context, link string, baud int) (io.ReadWriteCloser, error) {
	src, err := transport.Open(link, transport.Options{Baud: baud, DialTimeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	rwc, err := src.Next(ctx)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	return rwc, nil
}

// startLoopback serves dir from an in-process host over a pipe.
func startLoopback(ctx context.Context, configPath, dir string) (io.ReadWriteCloser, *server.Server, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.Drives = map[string]string{"0": "fs:" + dir}
	// nobody reads the pushed options while the shell is idle
	cfg.DeviceOptions = nil
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	srv := server.New(cfg, provider.OptionsFromConfig(cfg, "."))
	dev, host := net.Pipe()
	go func() {
		if err := srv.Serve(ctx, host); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("loopback host stopped")
		}
	}()
	return dev, srv, nil
}

func runScript(sh *shell, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	sh.echo = true
	return sh.run(&scanLines{sc: bufio.NewScanner(fh)})
}

// interactive reads from a line editor on a terminal and from plain
// stdin otherwise.
func interactive(sh *shell) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return sh.run(&scanLines{sc: bufio.NewScanner(os.Stdin)})
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, oldState)

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, prompt)
	sh.out = t
	fmt.Fprintf(t, "%s, type :help\n", version.Get().String())
	return sh.run(t)
}

type scanLines struct {
	sc *bufio.Scanner
}

func (s *scanLines) ReadLine() (string, error) {
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}
