// Command cbmbridge is the host half of the bridge. It opens the link to
// the device and serves the configured drives until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pborman/getopt"
	log "github.com/sirupsen/logrus"

	"cbmbridge/internal/config"
	"cbmbridge/internal/provider"
	"cbmbridge/internal/server"
	"cbmbridge/internal/transport"
	"cbmbridge/internal/version"
)

// retryDelay is the pause between link attempts.
const retryDelay = 2 * time.Second

type flags struct {
	config   string
	link     string
	baud     int
	drives   []string
	readOnly bool
	verbose  int
	logFile  string
	settleMs int
	once     bool
	dir      string
}

func main() {
	configPath := getopt.StringLong("config", 'c', "", "path to the config file", "FILE")
	link := getopt.StringLong("link", 'l', "", "link to the device: serial:PORT, telnet:HOST:PORT, tcp:HOST:PORT, listen:ADDR or stdio", "SPEC")
	baud := getopt.IntLong("baud", 'b', 0, "serial baud rate", "RATE")
	drives := getopt.ListLong("drive", 'd', "bind a drive, e.g. 0=fs:./cbm-data or 8=d64:games.d64", "N=SPEC")
	readOnly := getopt.BoolLong("read-only", 'r', "reject every modifying request")
	verbose := getopt.CounterLong("verbose", 'v', "more logging; twice dumps every frame")
	logFile := getopt.StringLong("log-file", 0, "", "also write the log to FILE", "FILE")
	settle := getopt.IntLong("settle-ms", 0, 0, "wait after opening a serial port", "MS")
	once := getopt.BoolLong("once", '1', "exit when the device disconnects")
	showVersion := getopt.BoolLong("version", 'V', "print version information and exit")
	help := getopt.BoolLong("help", 'h', "show this help")
	getopt.SetParameters("[DIR]")
	getopt.Parse()

	if *help {
		getopt.PrintUsage(os.Stderr)
		return
	}
	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}
	args := getopt.Args()
	if len(args) > 1 {
		getopt.PrintUsage(os.Stderr)
		os.Exit(2)
	}
	f := flags{
		config:   *configPath,
		link:     *link,
		baud:     *baud,
		drives:   *drives,
		readOnly: *readOnly,
		verbose:  *verbose,
		logFile:  *logFile,
		settleMs: *settle,
		once:     *once,
	}
	if len(args) == 1 {
		f.dir = args[0]
	}
	if err := run(f); err != nil {
		log.WithError(err).Error("cbmbridge failed")
		os.Exit(1)
	}
}

func run(f flags) error {
	path := resolveConfigPath(f.config)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	if err := applyFlags(&cfg, f); err != nil {
		return err
	}
	if err := setupLogging(cfg, f.verbose, f.logFile); err != nil {
		return err
	}

	baseDir := "."
	if path != "" {
		baseDir = filepath.Dir(path)
	}
	log.WithField("version", version.Get().String()).Info("cbmbridge starting")
	if path != "" {
		log.WithField("config", path).Info("config loaded")
	}
	for _, n := range cfg.DriveNumbers() {
		log.WithFields(log.Fields{"drive": n, "spec": cfg.Drives[fmt.Sprint(n)]}).Info("drive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topts := transport.OptionsFromConfig(cfg)
	topts.Settle = time.Duration(f.settleMs) * time.Millisecond
	src, err := transport.Open(cfg.Link, topts)
	if err != nil {
		return err
	}
	defer src.Close()

	srv := server.New(cfg, provider.OptionsFromConfig(cfg, baseDir))
	defer srv.Close()
	return serveLoop(ctx, src, srv, f.once)
}

// serveLoop serves one link after the other until ctx ends. Dialing
// sources are redialed after a failure; stdio ends after one session.
func serveLoop(ctx context.Context, src transport.Source, srv *server.Server, once bool) error {
	for {
		rwc, err := src.Next(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, transport.ErrDone):
			return nil
		case err != nil:
			log.WithError(err).WithField("link", src.String()).Warnf("link not available, retrying in %s", retryDelay)
			if !sleepCtx(ctx, retryDelay) {
				return nil
			}
			continue
		}

		log.WithField("link", src.String()).Info("device link up")
		err = srv.Serve(ctx, rwc)
		rwc.Close()
		if ctx.Err() != nil {
			log.Info("shutting down")
			return nil
		}
		if err != nil {
			log.WithError(err).Warn("device link lost")
		}
		st := srv.Stats()
		log.WithFields(log.Fields{"requests": st.Requests, "errors": st.Errors}).Info("session ended")
		if once {
			return nil
		}
		if !sleepCtx(ctx, retryDelay) {
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// applyFlags lets the command line override the config file.
func applyFlags(cfg *config.Config, f flags) error {
	if f.link != "" {
		cfg.Link = f.link
	}
	if f.baud != 0 {
		cfg.Baud = f.baud
	}
	if f.readOnly {
		cfg.ReadOnly = true
	}
	if cfg.Drives == nil {
		cfg.Drives = map[string]string{}
	}
	if f.dir != "" {
		cfg.Drives["0"] = "fs:" + f.dir
	}
	for _, d := range f.drives {
		n, spec, ok := strings.Cut(d, "=")
		if !ok || n == "" || spec == "" {
			return fmt.Errorf("--drive %q: expected N=SPEC", d)
		}
		cfg.Drives[n] = spec
	}
	return cfg.Validate()
}

// resolveConfigPath picks the config file: the -c argument, else
// config/config.json next to the executable, else cbmbridge.json in the
// working directory. "" runs on defaults.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	candidates := []string{
		filepath.Join(exeDir(), "config", "config.json"),
		"cbmbridge.json",
	}
	for _, c := range candidates {
		if exists(c) {
			return c
		}
	}
	return ""
}

func exeDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

func exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func setupLogging(cfg config.Config, verbose int, logFile string) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch {
	case verbose >= 2:
		level = log.TraceLevel
	case verbose == 1 && level < log.DebugLevel:
		level = log.DebugLevel
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	// stdout may be the link, so the log never goes there
	if logFile == "" {
		log.SetOutput(os.Stderr)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return err
	}
	fh, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stderr, fh))
	return nil
}
