package nameinfo

import (
	"strings"
	"testing"
)

func TestFindCommand(t *testing.T) {
	type TestCase struct {
		input string
		cmd   Command
		n     int
	}

	tests := []TestCase{
		{"$0", CmdDir, 1},
		{"S0:FOO", CmdScratch, 1},
		{"SCR0:FOO", CmdScratch, 3},
		{"SCRATCH", CmdScratch, 7},
		{"SCRATCHED", CmdScratch, 7},
		{"R0:A=B", CmdRename, 1},
		{"RD0:X", CmdRmdir, 2},
		{"RMDIR", CmdRmdir, 5},
		{"CD/", CmdCD, 2},
		{"CH", CmdCD, 2},
		{"MD0:X", CmdMkdir, 2},
		{"M", CmdMkdir, 1},
		{"U1", CmdUX, 1},
		{"UJ", CmdUX, 1},
		{"B-R", CmdBlock, 1},
		{"N0:DISK,ID", CmdNew, 1},
		{"V", CmdValidate, 1},
		{"X", CmdExt, 1},
		{"T-RA", CmdTime, 1},
		{"i", CmdInitialize, 1},
		{"INITIALIZ", CmdInitialize, 9},
		{"INITIALIZE", CmdInitialize, 10},
		{"INITIALIZE0", CmdInitialize, 10},
		{"initializer", CmdInitialize, 10},
		{"SX", CmdSyntax, 0},
		{"0:FOO", CmdSyntax, 0},
		{"", CmdSyntax, 0},
		{"?", CmdSyntax, 0},
	}

	for _, test := range tests {
		cmd, n := FindCommand([]byte(test.input))
		if cmd != test.cmd || n != test.n {
			t.Fatalf("%q: got %s/%d, want %s/%d", test.input, cmd, n, test.cmd, test.n)
		}
	}
}

// Every prefix of a mnemonic resolves to the first entry that either
// starts with the prefix or is itself a prefix of it.
func TestFindCommandPrefixes(t *testing.T) {
	for _, e := range cmdTable[numSentinels:] {
		for l := 1; l <= len(e.name); l++ {
			p := e.name[:l]

			var expect Command
			for _, o := range cmdTable[numSentinels:] {
				if strings.HasPrefix(o.name, p) || strings.HasPrefix(p, o.name) {
					expect = o.cmd
					break
				}
			}

			got, n := FindCommand([]byte(p))
			if got != expect {
				t.Fatalf("prefix %q of %s: got %s, want %s", p, e.name, got, expect)
			}
			if got == e.cmd && n != l {
				t.Fatalf("prefix %q consumed %d", p, n)
			}
		}
	}
}

func TestCommandName(t *testing.T) {
	type TestCase struct {
		cmd  Command
		name string
	}

	tests := []TestCase{
		{CmdNone, "-"},
		{CmdSyntax, "?"},
		{CmdOverwrite, "@"},
		{CmdDir, "$"},
		{CmdCD, "CD"},
		{CmdMkdir, "MD"},
		{CmdRmdir, "RD"},
		{CmdUX, "U"},
		{CmdTime, "TIME"},
		{Command(99), "-"},
	}

	for _, test := range tests {
		if got := CommandName(test.cmd); got != test.name {
			t.Fatalf("CommandName(%d): got %q, want %q", test.cmd, got, test.name)
		}
	}
}

func TestMnemonicLength(t *testing.T) {
	for _, e := range cmdTable {
		if len(e.name) > maxMnemonic {
			t.Fatalf("%s is longer than %d", e.name, maxMnemonic)
		}
	}
}
