package cache

// Match reports whether s matches the Redis glob pattern: '*' any run of
// bytes, '?' one byte, '[...]' a class with ranges and leading '^'
// negation, '\' escaping the next byte. '/' and '.' are ordinary bytes.
// Classes follow Redis stringmatch: the first ']' always closes the class
// (so "[]" is empty), an unclosed class runs to the end of the pattern, and
// a trailing '\' is a literal backslash.
func Match(pattern, s string) bool {
	p, i := 0, 0
	starP, starI := -1, 0

	for i < len(s) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				starP, starI = p, i
				p++
				continue
			case '?':
				p++
				i++
				continue
			case '[':
				if end, ok := matchClass(pattern, p, s[i]); ok {
					p = end
					i++
					continue
				}
			case '\\':
				lit, step := byte('\\'), 1
				if p+1 < len(pattern) {
					lit, step = pattern[p+1], 2
				}
				if lit == s[i] {
					p += step
					i++
					continue
				}
			default:
				if pattern[p] == s[i] {
					p++
					i++
					continue
				}
			}
		}
		if starP < 0 {
			return false
		}
		starI++
		p, i = starP+1, starI
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchClass evaluates the class starting at pattern[p] == '[' against c.
// It returns the index just past the class and whether c is in it.
func matchClass(pattern string, p int, c byte) (int, bool) {
	j := p + 1
	negate := j < len(pattern) && pattern[j] == '^'
	if negate {
		j++
	}
	matched := false
	for j < len(pattern) {
		switch {
		case pattern[j] == '\\' && j+1 < len(pattern):
			if pattern[j+1] == c {
				matched = true
			}
			j += 2
		case pattern[j] == ']':
			return j + 1, matched != negate
		case j+2 < len(pattern) && pattern[j+1] == '-':
			lo, hi := pattern[j], pattern[j+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			j += 3
		default:
			if pattern[j] == c {
				matched = true
			}
			j++
		}
	}
	return len(pattern), matched != negate
}
