package imapcore

// MatchPatterns reports whether name matches any pattern in patterns. An
// empty pattern list matches everything (LIST "" "" excepted — that is
// handled by the caller as the separator query before patterns ever
// reach here).
//
// Pattern grammar: literal bytes, '%' (zero or more bytes excluding '/'),
// '*' (zero or more bytes, including '/'). Matching is byte-wise and
// case-sensitive against the raw mailbox name.
func MatchPatterns(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if matchOne(p, name) {
			return true
		}
	}
	return false
}

// matchOne is a direct port of the reference backtracking matcher: scan
// the pattern left to right, and whenever a wildcard run is found,
// extract the literal tail up to the next wildcard (or pattern end) and
// search for it in the remaining name.
//
// The tail search resets its match counter to zero on any mismatched
// byte rather than re-trying at the next position inside the candidate
// window, so an occurrence of the tail that overlaps an abandoned
// partial match is missed ("*ab" does not match "aab"); every match it
// does report is a real occurrence of the tail. That behavior is
// carried over unchanged from the reference implementation rather than
// silently corrected (see DESIGN.md, "Open Question decisions").
func matchOne(pattern, name string) bool {
	p := []byte(pattern)
	n := []byte(name)
	pi := 0
	ni := 0

outer:
	for pi < len(p) {
		ch := p[pi]
		if ch == '%' || ch == '*' {
			start := pi
			end := pi
			pi++
			for pi < len(p) && p[pi] != '%' && p[pi] != '*' {
				end = pi
				pi++
			}
			if end > start {
				// Wildcard followed by a non-empty literal tail.
				matchBytes := p[start+1 : end+1]
				patternEOF := end == len(p)-1
				matchCount := 0
				skipStart := ni
				for {
					if ni >= len(n) {
						return false
					}
					c := n[ni]
					ni++
					if matchBytes[matchCount] == c {
						matchCount++
						if matchCount == len(matchBytes) {
							// '%' must not have skipped over a '/'.
							if ch == '%' {
								for _, s := range n[skipStart : ni-len(matchBytes)] {
									if s == '/' {
										return false
									}
								}
							}
							if !patternEOF {
								continue outer
							}
							if ni == len(n) {
								return true
							}
							// Must anchor at the end; reset and keep
							// scanning (matches the reference's
							// behavior, missed overlaps included).
							matchCount = 0
						}
					} else if matchCount > 0 {
						matchCount = 0
					}
				}
			}
			// Bare wildcard with no literal tail.
			if ch == '*' {
				return true
			}
			// Bare '%': consumes the rest only if it contains no '/'.
			for _, c := range n[ni:] {
				if c == '/' {
					return false
				}
			}
			return true
		}

		if ni >= len(n) || n[ni] != ch {
			return false
		}
		ni++
		pi++
	}

	return ni == len(n)
}
