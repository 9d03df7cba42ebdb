// Package version implements semantic version pattern matching used to
// resolve which deployed service variant answers a call.
//
// A pattern is a dot-separated sequence of segments. A standalone "*" segment
// matches exactly one arbitrary segment. A trailing segment with a non-empty
// prefix ending in "*" (e.g. "2*") is a suffix wildcard: it matches any
// version segment starting with that prefix and leaves all remaining version
// segments unconstrained. The pattern "*" matches every version. A pattern
// with no wildcard matches exactly one concrete version string.
package version

import (
	"strconv"
	"strings"

	"github.com/c360/servicekit/errors"
)

const wildcard = "*"

// Matches reports whether a concrete version satisfies a version pattern.
// Matching is case-sensitive.
func Matches(pattern, version string) bool {
	if pattern == wildcard {
		return true
	}
	if pattern == "" || version == "" {
		return false
	}

	patSegs := strings.Split(pattern, ".")
	verSegs := strings.Split(version, ".")

	last := patSegs[len(patSegs)-1]
	suffixWildcard := last != wildcard && strings.HasSuffix(last, wildcard)

	if suffixWildcard {
		// Pattern may be shorter than the version, never longer.
		if len(patSegs) > len(verSegs) {
			return false
		}
	} else if len(patSegs) != len(verSegs) {
		return false
	}

	for i, seg := range patSegs {
		switch {
		case seg == wildcard:
			// Matches any single segment
		case i == len(patSegs)-1 && suffixWildcard:
			prefix := strings.TrimSuffix(seg, wildcard)
			if !strings.HasPrefix(verSegs[i], prefix) {
				return false
			}
		default:
			if seg != verSegs[i] {
				return false
			}
		}
	}

	return true
}

// SelectBest returns the candidate version that best satisfies the pattern:
// the most specific match wins (fewest wildcard segments), ties are broken by
// dotted numeric ordering with the newest version winning. Returns
// ErrNoMatchingVersion when no candidate matches.
func SelectBest(pattern string, candidates []string) (string, error) {
	best := ""
	bestWildcards := -1

	for _, candidate := range candidates {
		if !Matches(pattern, candidate) {
			continue
		}

		wc := countWildcards(candidate)
		switch {
		case best == "":
			best, bestWildcards = candidate, wc
		case wc < bestWildcards:
			best, bestWildcards = candidate, wc
		case wc == bestWildcards && Compare(candidate, best) > 0:
			best = candidate
		}
	}

	if best == "" {
		return "", errors.Wrap(errors.ErrNoMatchingVersion, "version", "SelectBest",
			"pattern "+strconv.Quote(pattern))
	}
	return best, nil
}

// Compare orders two dotted version strings. It returns a negative value when
// a is older than b, zero when equal, positive when newer. Numeric segments
// compare numerically, non-numeric segments lexically, and a version with
// extra trailing segments is newer than its prefix.
func Compare(a, b string) int {
	aSegs := strings.Split(a, ".")
	bSegs := strings.Split(b, ".")

	for i := 0; i < len(aSegs) && i < len(bSegs); i++ {
		if c := compareSegment(aSegs[i], bSegs[i]); c != 0 {
			return c
		}
	}

	return len(aSegs) - len(bSegs)
}

// compareSegment compares one version segment numerically when both sides are
// integers, lexically otherwise.
func compareSegment(a, b string) int {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return an - bn
	}
	return strings.Compare(a, b)
}

func countWildcards(v string) int {
	n := 0
	for _, seg := range strings.Split(v, ".") {
		if strings.Contains(seg, wildcard) {
			n++
		}
	}
	return n
}
