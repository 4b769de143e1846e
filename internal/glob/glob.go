// Package glob implements the Redis glob dialect used by KEYS, SCAN MATCH and
// PSUBSCRIBE: '*', '?', '[abc]', '[^a-z]' and backslash escapes.
package glob

// Match reports whether str matches pattern.
func Match(pattern, str string) bool {
	px, sx := 0, 0
	starPx, starSx := -1, 0

	for sx < len(str) {
		if px < len(pattern) {
			switch pattern[px] {
			case '*':
				starPx = px
				starSx = sx
				px++
				continue
			case '?':
				px++
				sx++
				continue
			case '[':
				if end, ok := matchClass(pattern, px, str[sx]); ok {
					px = end
					sx++
					continue
				}
			case '\\':
				if px+1 < len(pattern) && pattern[px+1] == str[sx] {
					px += 2
					sx++
					continue
				}
			default:
				if pattern[px] == str[sx] {
					px++
					sx++
					continue
				}
			}
		}
		if starPx == -1 {
			return false
		}
		// backtrack: let the last '*' swallow one more byte
		starSx++
		sx = starSx
		px = starPx + 1
	}

	for px < len(pattern) && pattern[px] == '*' {
		px++
	}
	return px == len(pattern)
}

// matchClass matches c against the bracket expression starting at
// pattern[start] == '['. It returns the index just past the closing bracket.
func matchClass(pattern string, start int, c byte) (int, bool) {
	i := start + 1
	negate := false
	if i < len(pattern) && pattern[i] == '^' {
		negate = true
		i++
	}

	matched := false
	for i < len(pattern) && pattern[i] != ']' {
		switch {
		case pattern[i] == '\\' && i+1 < len(pattern):
			if pattern[i+1] == c {
				matched = true
			}
			i += 2
		case i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']':
			lo, hi := pattern[i], pattern[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			i += 3
		default:
			if pattern[i] == c {
				matched = true
			}
			i++
		}
	}
	if i >= len(pattern) {
		// unterminated class: treat '[' as a literal
		return start + 1, c == '['
	}
	return i + 1, matched != negate
}

// IsPattern reports whether s contains glob metacharacters.
func IsPattern(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', '\\':
			return true
		}
	}
	return false
}
