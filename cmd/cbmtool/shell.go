package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/prefixtree"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/device"
	"cbmbridge/internal/server"
)

// errQuit ends the shell loop.
var errQuit = errors.New("quit")

type command struct {
	name    string
	args    string
	help    string
	handler func(*shell, string) error
	// host commands need the in-process server of --loopback
	host bool
}

var (
	commands    []command
	commandTree *prefixtree.Tree
)

// The table is filled in init because :help ranges over it.
func init() {
	commands = []command{
		{name: "open", args: "SA NAME", help: "open a channel", handler: (*shell).onOpen},
		{name: "read", args: "SA", help: "read a channel to its end", handler: (*shell).onRead},
		{name: "write", args: "SA TEXT", help: "write text to a channel", handler: (*shell).onWrite},
		{name: "close", args: "SA", help: "close a channel, 15 closes all", handler: (*shell).onClose},
		{name: "put", args: "LOCAL NAME", help: "save a local file on the drive", handler: (*shell).onPut},
		{name: "get", args: "NAME LOCAL", help: "load a file from the drive", handler: (*shell).onGet},
		{name: "dir", args: "[PATTERN]", help: "show the directory", handler: (*shell).onDir},
		{name: "status", help: "read the error channel", handler: (*shell).onStatus},
		{name: "channels", help: "list open channels", handler: (*shell).onChannels},
		{name: "charset", args: "NAME", help: "ask the host to switch charset", handler: (*shell).onCharset},
		{name: "log", args: "TEXT", help: "send a line to the host log", handler: (*shell).onLog},
		{name: "reset", help: "reset the drive", handler: (*shell).onReset},
		{name: "stats", help: "host request counters", handler: (*shell).onStats, host: true},
		{name: "trace", args: "[errors] [N]", help: "last N host requests", handler: (*shell).onTrace, host: true},
		{name: "help", help: "this list", handler: (*shell).onHelp},
		{name: "quit", help: "leave", handler: (*shell).onQuit},
	}
	commandTree = newCommandTree(commands)
}

func newCommandTree(cmds []command) *prefixtree.Tree {
	t := prefixtree.New()
	for i := range cmds {
		t.Add(cmds[i].name, &cmds[i])
	}
	return t
}

// lineReader is a terminal or a plain input stream.
type lineReader interface {
	ReadLine() (string, error)
}

type shell struct {
	dev *device.Device
	srv *server.Server // nil unless the host runs in process
	out io.Writer
	// echo repeats script lines, so their output can be followed
	echo bool
}

// run executes lines until the input ends or :quit. Lines starting with a
// colon are shell commands, everything else goes to the drive's command
// channel.
func (s *shell) run(in lineReader) error {
	for {
		line, err := in.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if s.echo {
			fmt.Fprintf(s.out, "> %s\n", line)
		}
		if err := s.exec(line); err == errQuit {
			return nil
		}
	}
}

func (s *shell) exec(line string) error {
	if !strings.HasPrefix(line, ":") {
		var ce *cbmerr.Error
		if err := s.dev.Command(line); err != nil && !errors.As(err, &ce) {
			fmt.Fprintf(s.out, "error: %s\n", err)
		}
		fmt.Fprintln(s.out, s.dev.Status())
		return nil
	}

	name, args, _ := strings.Cut(line[1:], " ")
	v, err := commandTree.Find(strings.ToLower(name))
	switch {
	case err == prefixtree.ErrPrefixNotFound:
		fmt.Fprintln(s.out, "command not found.")
		return nil
	case err == prefixtree.ErrPrefixAmbiguous:
		fmt.Fprintln(s.out, "command ambiguous.")
		return nil
	case err != nil:
		fmt.Fprintf(s.out, "%v.\n", err)
		return nil
	}
	c := v.(*command)
	if c.host && s.srv == nil {
		fmt.Fprintf(s.out, ":%s needs --loopback.\n", c.name)
		return nil
	}
	err = c.handler(s, strings.TrimSpace(args))
	if err != nil && err != errQuit {
		s.printErr(err)
	}
	return err
}

// printErr shows a drive error the way the error channel reads, and
// clears the channel.
func (s *shell) printErr(err error) {
	var ce *cbmerr.Error
	if errors.As(err, &ce) {
		fmt.Fprintf(s.out, "?%s\n", s.dev.Status())
		return
	}
	fmt.Fprintf(s.out, "error: %s\n", err)
}

// channelArg splits "SA REST" and checks SA.
func channelArg(args string) (byte, string, error) {
	first, rest, _ := strings.Cut(args, " ")
	n, err := strconv.ParseUint(first, 10, 8)
	if err != nil {
		return 0, "", fmt.Errorf("channel %q: expected 0..15", first)
	}
	return byte(n), strings.TrimSpace(rest), nil
}

func (s *shell) onOpen(args string) error {
	sa, name, err := channelArg(args)
	if err != nil {
		return err
	}
	if err := s.dev.Open(sa, name); err != nil {
		return err
	}
	fmt.Fprintln(s.out, s.dev.Status())
	return nil
}

func (s *shell) readAll(sa byte) ([]byte, error) {
	var data []byte
	for {
		b, last, err := s.dev.Read(sa)
		if err != nil {
			return data, err
		}
		data = append(data, b...)
		if last {
			return data, nil
		}
	}
}

func (s *shell) onRead(args string) error {
	sa, _, err := channelArg(args)
	if err != nil {
		return err
	}
	data, err := s.readAll(sa)
	s.out.Write([]byte(printable(data)))
	if len(data) > 0 && data[len(data)-1] != '\r' && data[len(data)-1] != '\n' {
		fmt.Fprintln(s.out)
	}
	return err
}

func (s *shell) onWrite(args string) error {
	sa, text, err := channelArg(args)
	if err != nil {
		return err
	}
	return s.dev.Write(sa, []byte(text+"\r"), false)
}

func (s *shell) onClose(args string) error {
	sa, _, err := channelArg(args)
	if err != nil {
		return err
	}
	return s.dev.Close(sa)
}

func (s *shell) onPut(args string) error {
	local, name, ok := strings.Cut(args, " ")
	if !ok || name == "" {
		return errors.New("usage: :put LOCAL NAME")
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	if err := s.dev.Open(1, strings.TrimSpace(name)); err != nil {
		return err
	}
	if err := s.dev.Write(1, data, true); err != nil {
		s.dev.Close(1)
		return err
	}
	if err := s.dev.Close(1); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s saved\n", server.HumanBytes(uint64(len(data))))
	return nil
}

func (s *shell) onGet(args string) error {
	name, local, ok := strings.Cut(args, " ")
	if !ok || local == "" {
		return errors.New("usage: :get NAME LOCAL")
	}
	if err := s.dev.Open(0, name); err != nil {
		return err
	}
	data, err := s.readAll(0)
	s.dev.Close(0)
	if err != nil {
		return err
	}
	if err := os.WriteFile(strings.TrimSpace(local), data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s loaded\n", server.HumanBytes(uint64(len(data))))
	return nil
}

func (s *shell) onDir(args string) error {
	entries, err := s.dev.ReadDir(args)
	if err != nil {
		return err
	}
	for _, l := range device.ListingLines(entries) {
		fmt.Fprintln(s.out, l)
	}
	return nil
}

func (s *shell) onStatus(string) error {
	fmt.Fprintln(s.out, s.dev.Status())
	return nil
}

func (s *shell) onChannels(string) error {
	chans := s.dev.Channels()
	nums := make([]int, 0, len(chans))
	for n := range chans {
		nums = append(nums, int(n))
	}
	sort.Ints(nums)
	for _, n := range nums {
		fmt.Fprintf(s.out, "%3d %s\n", n, chans[byte(n)])
	}
	if len(nums) == 0 {
		fmt.Fprintln(s.out, "no open channels")
	}
	return nil
}

func (s *shell) onCharset(args string) error {
	if args == "" {
		return errors.New("usage: :charset NAME")
	}
	return s.dev.SetCharset(args)
}

func (s *shell) onLog(args string) error {
	return s.dev.Log(args)
}

func (s *shell) onReset(string) error {
	if err := s.dev.Reset(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, s.dev.Status())
	return nil
}

func (s *shell) onStats(string) error {
	st := s.srv.Stats()
	fmt.Fprintf(s.out, "uptime   %s\n", st.Uptime.Truncate(1e9))
	fmt.Fprintf(s.out, "requests %d (%d errors, avg %d ms)\n", st.Requests, st.Errors, st.AvgMs)
	fmt.Fprintf(s.out, "in       %s\n", server.HumanBytes(st.BytesIn))
	fmt.Fprintf(s.out, "out      %s\n", server.HumanBytes(st.BytesOut))
	ops := make([]string, 0, len(st.ByOp))
	for op := range st.ByOp {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Fprintf(s.out, "  %-10s %d\n", op, st.ByOp[op])
	}
	return nil
}

func (s *shell) onTrace(args string) error {
	f := server.LogFilter{Limit: 20}
	if rest, ok := strings.CutPrefix(args, "errors"); ok {
		f.OnlyErrors = true
		args = strings.TrimSpace(rest)
	}
	if args != "" {
		v, err := strconv.Atoi(args)
		if err != nil || v <= 0 {
			return fmt.Errorf("trace %q: expected a count", args)
		}
		f.Limit = v
	}
	for _, e := range s.srv.FilteredLogs(f) {
		fmt.Fprintln(s.out, e.String())
	}
	return nil
}

func (s *shell) onHelp(string) error {
	for _, c := range commands {
		if c.host && s.srv == nil {
			continue
		}
		fmt.Fprintf(s.out, "  :%-20s %s\n", strings.TrimSpace(c.name+" "+c.args), c.help)
	}
	fmt.Fprintln(s.out, "Other lines are sent as drive commands, e.g. S:OLD* or CD:GAMES.")
	return nil
}

func (s *shell) onQuit(string) error {
	return errQuit
}

// printable turns CBM line ends into newlines and hides control bytes.
func printable(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		switch {
		case c == '\r':
			sb.WriteByte('\n')
		case c >= 0x20 && c < 0x7f:
			sb.WriteByte(c)
		case c >= 0xc1 && c <= 0xda:
			// shifted PETSCII letters
			sb.WriteByte(c - 0x80)
		default:
			sb.WriteByte('.')
		}
	}
	return sb.String()
}
