package versioning

import (
	"fmt"
	"regexp"
	"runtime"
	"strconv"
)

// APIVersion is the semantic version of the HTTP API and the page shim
// protocol spoken on /ws/page.
type APIVersion struct {
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
}

// String returns the version as a string (e.g., "1.2.3" or "1.2.3-beta")
func (v APIVersion) String() string {
	version := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		version += "-" + v.Prerelease
	}
	return version
}

// Compare returns -1, 0 or 1. A release sorts after its prereleases.
func (v APIVersion) Compare(other APIVersion) int {
	for _, d := range [][2]int{{v.Major, other.Major}, {v.Minor, other.Minor}, {v.Patch, other.Patch}} {
		switch {
		case d[0] < d[1]:
			return -1
		case d[0] > d[1]:
			return 1
		}
	}

	switch {
	case v.Prerelease == other.Prerelease:
		return 0
	case v.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	case v.Prerelease < other.Prerelease:
		return -1
	default:
		return 1
	}
}

var (
	V1_0_0 = APIVersion{Major: 1, Minor: 0, Patch: 0}
	V1_1_0 = APIVersion{Major: 1, Minor: 1, Patch: 0}
)

// CurrentVersion is the protocol this build speaks. 1.1 added shim mutation events.
var CurrentVersion = V1_1_0

var MinimumSupportedVersion = V1_0_0

var versionPattern = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:-([a-zA-Z0-9\-\.]+))?$`)

// ParseVersion accepts "1", "1.1", "1.1.0" and "v1.1.0-beta".
func ParseVersion(versionStr string) (APIVersion, error) {
	matches := versionPattern.FindStringSubmatch(versionStr)
	if matches == nil {
		return APIVersion{}, fmt.Errorf("invalid version format: %s", versionStr)
	}

	var parts [3]int
	for i := range parts {
		if matches[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			return APIVersion{}, fmt.Errorf("invalid version component %q: %w", matches[i+1], err)
		}
		parts[i] = n
	}
	return APIVersion{Major: parts[0], Minor: parts[1], Patch: parts[2], Prerelease: matches[4]}, nil
}

// IsVersionSupported reports whether a client speaking version can talk to
// this build.
func IsVersionSupported(version APIVersion) bool {
	return version.Compare(MinimumSupportedVersion) >= 0 && version.Major <= CurrentVersion.Major
}

// GetVersionRange returns the supported version range as a string
func GetVersionRange() string {
	return fmt.Sprintf("%s - %s", MinimumSupportedVersion.String(), CurrentVersion.String())
}

// Build metadata, set with -ldflags at release time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// BuildInfo is reported by `carelay version` and GET /api/version.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	API       string `json:"api_version"`
}

func Info() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		API:       CurrentVersion.String(),
	}
}
