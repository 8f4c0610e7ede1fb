package nameinfo

// maxMnemonic is the longest command name in the table.
const maxMnemonic = 10

type cmdEntry struct {
	name string
	cmd  Command
}

// numSentinels leading entries are only used by CommandName.
const numSentinels = 4

// cmdTable is searched in order, so an entry shadows every later entry
// that shares its prefix. Do not reorder.
var cmdTable = []cmdEntry{
	{"-", CmdNone},
	{"?", CmdSyntax},
	{"@", CmdOverwrite},
	{"$", CmdDir},
	{"INITIALIZE", CmdInitialize},
	{"RENAME", CmdRename},
	{"SCRATCH", CmdScratch},
	{"COPY", CmdCopy},
	{"CD", CmdCD},
	{"CHDIR", CmdCD},
	{"MD", CmdMkdir},
	{"MKDIR", CmdMkdir},
	{"RD", CmdRmdir},
	{"RMDIR", CmdRmdir},
	{"POSITION", CmdPosition},
	{"VALIDATE", CmdValidate},
	{"DUPLICATE", CmdDuplicate},
	{"NEW", CmdNew},
	{"BLOCK", CmdBlock},
	{"U", CmdUX},
	{"ASSIGN", CmdAssign},
	{"X", CmdExt},
	{"TIME", CmdTime},
}

func isAlpha(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// FindCommand looks up the command at the start of input and returns it
// with the number of bytes its mnemonic used. Any prefix of a command name
// selects the first table entry it fits. Input that matches no entry on at
// least one letter yields CmdSyntax and 0.
func FindCommand(input []byte) (Command, int) {
	if len(input) > 0 && input[0] == '$' {
		return CmdDir, 1
	}
	for _, e := range cmdTable[numSentinels:] {
		for j := 0; j <= maxMnemonic; j++ {
			if j == len(e.name) || j == len(input) || !isAlpha(input[j]) {
				if j == 0 {
					break
				}
				return e.cmd, j
			}
			if upper(input[j]) != e.name[j] {
				break
			}
		}
	}
	return CmdSyntax, 0
}

// CommandName returns the first mnemonic registered for cmd, or "-".
func CommandName(cmd Command) string {
	for _, e := range cmdTable {
		if e.cmd == cmd {
			return e.name
		}
	}
	return "-"
}
