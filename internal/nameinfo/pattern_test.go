package nameinfo

import "testing"

func TestComparePattern(t *testing.T) {
	type TestCase struct {
		name     string
		pattern  string
		advanced bool
		match    bool
	}

	tests := []TestCase{
		{"abc", "abc", false, true},
		{"abc", "*", false, true},
		{"", "*", false, true},
		{"abc", "a?c", false, true},
		{"abcd", "a?c", false, false},
		{"ab", "a?c", false, false},
		{"abc", "ab", false, false},
		{"ab", "abc", false, false},
		{"GAME.PRG", "G*", false, true},
		{"GAME.PRG", "G*.SEQ", false, true},
		{"GAME.PRG", "*.SEQ", false, true},
		{"GAME", "GAME\x00JUNK", false, true},

		{"GAME.PRG", "G*.PRG", true, true},
		{"GAME.PRG", "G*.SEQ", true, false},
		{"GAME.PRG", "*A*E*", true, true},
		{"GAME.PRG", "?AME*", true, true},
		{"GAME", "GAME*", true, true},
		{"GAME", "GA?", true, false},
		{"", "", true, true},
	}

	for _, test := range tests {
		got := ComparePattern([]byte(test.name), []byte(test.pattern), test.advanced)
		if got != test.match {
			t.Fatalf("ComparePattern(%q, %q, %v): got %v", test.name, test.pattern, test.advanced, got)
		}
	}
}

func TestComparePatternSelf(t *testing.T) {
	for _, s := range []string{"", "A", "HELLO WORLD", "1541.D64", "\xa0\xa0"} {
		if !ComparePattern([]byte(s), []byte(s), false) {
			t.Fatalf("%q does not match itself", s)
		}
		if !ComparePattern([]byte(s), []byte("*"), false) {
			t.Fatalf("%q does not match *", s)
		}
	}
}

func TestIsPattern(t *testing.T) {
	if !IsPattern([]byte("A*")) || !IsPattern([]byte("?")) {
		t.Fatalf("wildcards not detected")
	}
	if IsPattern([]byte("PLAIN")) || IsPattern([]byte("A\x00*")) {
		t.Fatalf("false positive")
	}
}
