package qos

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// EscapeRuleName makes name usable as a TBF rule name: every rune that is
// not a letter, digit or underscore becomes an underscore.
func EscapeRuleName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, name)
}

// VersionValue packs a Lustre version for ordering.
func VersionValue(major, minor, patch int) int {
	return major<<16 | minor<<8 | patch
}

// NewRuleSyntaxVersion is the first release whose nrs_tbf_rule accepts the
// "jobid={...} rate=N" form.
var NewRuleSyntaxVersion = VersionValue(2, 8, 54)

// Version is a Lustre release as printed in /proc/fs/lustre/version.
type Version struct {
	Major, Minor, Patch, Fix int
}

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)\.(\d+)$`)

// VersionCommand prints the running Lustre version.
const VersionCommand = "cat /proc/fs/lustre/version | grep lustre: | awk '{print $2}'"

// ParseVersion accepts exactly four dot separated integers.
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Version{}, fmt.Errorf("unexpected version string format: %q", s)
	}
	var parts [4]int
	for i := range parts {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Version{}, fmt.Errorf("unexpected version string format: %q: %w", s, err)
		}
		parts[i] = n
	}
	return Version{Major: parts[0], Minor: parts[1], Patch: parts[2], Fix: parts[3]}, nil
}

// Value returns VersionValue of the first three components.
func (v Version) Value() int {
	return VersionValue(v.Major, v.Minor, v.Patch)
}

// NewRuleSyntax reports whether the release uses the keyword rule syntax.
func (v Version) NewRuleSyntax() bool {
	return v.Value() >= NewRuleSyntaxVersion
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Patch, v.Fix)
}
