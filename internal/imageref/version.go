package imageref

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

var versionPattern = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(?:-([0-9A-Za-z.-]+))?(?:\+[0-9A-Za-z.-]+)?$`)

// Version is a tag matching v?MAJOR.MINOR.PATCH[-PRERELEASE][+BUILD].
// Build metadata is accepted but ignored.
type Version struct {
	Raw        string
	Major      uint64
	Minor      uint64
	Patch      uint64
	Prerelease string
}

// ParseVersion parses a tag. ok is false when the tag does not follow the grammar.
func ParseVersion(tag string) (Version, bool) {
	s := strings.TrimSpace(tag)
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, false
	}

	var nums [3]uint64
	for i := range nums {
		n, err := strconv.ParseUint(m[i+1], 10, 64)
		if err != nil {
			return Version{}, false
		}
		nums[i] = n
	}

	return Version{
		Raw:        s,
		Major:      nums[0],
		Minor:      nums[1],
		Patch:      nums[2],
		Prerelease: m[4],
	}, true
}

// Stable reports whether v has no prerelease component.
func (v Version) Stable() bool {
	return v.Prerelease == ""
}

// core is the canonical "vMAJOR.MINOR.PATCH" form understood by x/mod/semver.
func (v Version) core() string {
	return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or +1. Cores compare numerically; at equal cores a
// release outranks a prerelease and two prereleases compare lexicographically.
func Compare(a, b Version) int {
	if c := semver.Compare(a.core(), b.core()); c != 0 {
		return c
	}
	switch {
	case a.Prerelease == b.Prerelease:
		return 0
	case a.Prerelease == "":
		return 1
	case b.Prerelease == "":
		return -1
	default:
		return strings.Compare(a.Prerelease, b.Prerelease)
	}
}

// Latest is the outcome of comparing a running tag against a registry's tags.
type Latest struct {
	Tag             string
	UpdateAvailable bool
}

// ResolveLatest picks the highest stable version among tags and compares it
// with current. ok is false when current is not a stable version or when no
// stable version exists among tags.
func ResolveLatest(current string, tags []string) (Latest, bool) {
	cur, ok := ParseVersion(current)
	if !ok || !cur.Stable() {
		return Latest{}, false
	}

	var (
		best  Version
		found bool
	)
	for _, tag := range tags {
		v, ok := ParseVersion(tag)
		if !ok || !v.Stable() {
			continue
		}
		if !found || Compare(v, best) > 0 {
			best = v
			found = true
		}
	}
	if !found {
		return Latest{}, false
	}

	return Latest{
		Tag:             best.Raw,
		UpdateAvailable: Compare(best, cur) > 0,
	}, true
}
