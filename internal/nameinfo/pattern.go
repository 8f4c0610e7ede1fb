package nameinfo

// ComparePattern matches name against a CBM pattern. '?' matches exactly
// one byte and '*' matches the whole rest of the name; anything after a
// '*' is ignored. Both strings end at their first zero byte.
//
// With advanced set, '*' may also appear in the middle of a pattern and
// matches any run of bytes, so "A*.PRG" matches "ABC.PRG".
func ComparePattern(name, pattern []byte, advanced bool) bool {
	name = cstr(name)
	pattern = cstr(pattern)
	if advanced {
		return globMatch(name, pattern)
	}
	for i := 0; ; i++ {
		if i == len(pattern) {
			return i == len(name)
		}
		switch pattern[i] {
		case '*':
			return true
		case '?':
			if i >= len(name) {
				return false
			}
		default:
			if i >= len(name) || name[i] != pattern[i] {
				return false
			}
		}
	}
}

// globMatch is the classic single-backtrack wildcard match.
func globMatch(name, pattern []byte) bool {
	n, p := 0, 0
	starP, starN := -1, 0
	for n < len(name) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == name[n]):
			n++
			p++
		case p < len(pattern) && pattern[p] == '*':
			starP, starN = p, n
			p++
		case starP >= 0:
			starN++
			n = starN
			p = starP + 1
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// IsPattern reports whether s contains a wildcard.
func IsPattern(s []byte) bool {
	for _, c := range cstr(s) {
		if c == '*' || c == '?' {
			return true
		}
	}
	return false
}
