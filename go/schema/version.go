// Package schema implements C4: detection and crash-safe upgrade of the
// versioned mysql_innodb_cluster_metadata catalog schema.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a (major, minor, patch) schema version. The zero value
// (0.0.0) is the sentinel an in-progress upgrade sets schema_version to;
// per §8 it is never a stable resting value.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// IsZero reports whether v is the 0.0.0 upgrade-in-progress sentinel.
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0 && v.Patch == 0
}

func (v Version) cmp(o Version) int {
	switch {
	case v.Major != o.Major:
		return v.Major - o.Major
	case v.Minor != o.Minor:
		return v.Minor - o.Minor
	default:
		return v.Patch - o.Patch
	}
}

func (v Version) Less(o Version) bool { return v.cmp(o) < 0 }
func (v Version) Equal(o Version) bool { return v.cmp(o) == 0 }

// ParseVersion parses "major.minor.patch".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("schema: malformed version %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("schema: malformed version %q: %w", s, err)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// TargetVersion is the version this build of the catalog manager expects
// the schema to be at once fully upgraded.
var TargetVersion = Version{Major: 2, Minor: 1, Patch: 0}

// versionPath lists every intermediate version from the original schema
// up to TargetVersion, used to walk Step-by-Step during an upgrade. Real
// deployments accumulate one entry per released schema change; this
// module only needs to know the steps between the versions the backup
// handler registry understands.
var versionPath = []Version{
	{Major: 1, Minor: 0, Patch: 1},
	{Major: 2, Minor: 0, Patch: 0},
	{Major: 2, Minor: 1, Patch: 0},
}

// StepsFrom returns the ordered list of versions to pass through to reach
// TargetVersion from from, from's own position in versionPath excluded.
func StepsFrom(from Version) []Version {
	var out []Version
	started := false
	for _, v := range versionPath {
		if started {
			out = append(out, v)
			continue
		}
		if v.Equal(from) {
			started = true
		}
	}
	return out
}
