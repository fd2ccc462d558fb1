package upgradeagent

import (
	"regexp"
	"strconv"
	"strings"
)

// versionTriple is a parsed software version, letter suffixes stripped
// ("17.9.4a" -> 17.9.4).
type versionTriple struct {
	Major, Minor, Patch int
}

var versionClean = regexp.MustCompile(`[^\d.]`)

// parseVersionTriple extracts major/minor/patch from a version string.
// Missing components default to zero; an empty string yields the zero triple.
func parseVersionTriple(raw string) versionTriple {
	cleaned := versionClean.ReplaceAllString(raw, "")
	parts := strings.Split(cleaned, ".")
	var v versionTriple
	if len(parts) > 0 {
		v.Major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		v.Minor, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		v.Patch, _ = strconv.Atoi(parts[2])
	}
	return v
}

func (v versionTriple) Equal(o versionTriple) bool {
	return v == o
}

// Less orders triples by major, then minor, then patch.
func (v versionTriple) Less(o versionTriple) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// upgradeRequired reports whether target is strictly newer than current.
func upgradeRequired(current, target versionTriple) bool {
	return current.Less(target)
}
