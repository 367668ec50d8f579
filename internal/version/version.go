// Package version compares program and configuration version identifiers.
//
// Identifiers of the form x.y.z (optionally prefixed with "v") compare
// numerically by major, minor, then patch. Anything else falls back to an
// ordinal byte-wise string comparison.
package version

import (
	"strconv"
	"strings"
)

// Build is the running program version. Set at build time:
//
//	go build -ldflags "-X github.com/sweeney/bonsai-node/internal/version.Build=1.4.0"
var Build = "0.0.0-dev"

// Triple is a parsed x.y.z version.
type Triple struct {
	Major, Minor, Patch int
}

// Parse parses "x.y.z" or "vx.y.z". ok is false for anything else,
// including pre-release or build suffixes.
func Parse(v string) (t Triple, ok bool) {
	s := strings.TrimSpace(v)
	if len(s) > 0 && (s[0] == 'v' || s[0] == 'V') {
		s = s[1:]
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Triple{}, false
	}
	var nums [3]int
	for i, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return Triple{}, false
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Triple{}, false
		}
		nums[i] = n
	}
	return Triple{Major: nums[0], Minor: nums[1], Patch: nums[2]}, true
}

// Compare returns -1 if a < b, 0 if equal, +1 if a > b.
func Compare(a, b string) int {
	ta, okA := Parse(a)
	tb, okB := Parse(b)
	if okA && okB {
		switch {
		case ta.Major != tb.Major:
			return sign(ta.Major - tb.Major)
		case ta.Minor != tb.Minor:
			return sign(ta.Minor - tb.Minor)
		default:
			return sign(ta.Patch - tb.Patch)
		}
	}
	return strings.Compare(a, b)
}

// Newer reports whether candidate is strictly newer than current.
func Newer(candidate, current string) bool {
	return Compare(candidate, current) > 0
}

// placeholders are identifiers a misconfigured update source tends to serve.
var placeholders = map[string]bool{
	"latest":  true,
	"unknown": true,
	"dev":     true,
	"none":    true,
	"null":    true,
	"x.y.z":   true,
	"0":       true,
	"0.0":     true,
}

// Suspicious reports whether v is empty, all-zero, or a known placeholder.
// Checks against such versions are skipped so a broken manifest cannot make
// the device flap between releases.
func Suspicious(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	if s == "" || placeholders[s] {
		return true
	}
	if t, ok := Parse(s); ok && t == (Triple{}) {
		return true
	}
	return strings.HasSuffix(s, "-dev")
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
