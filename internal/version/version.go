package version

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// TimestampFormat is the layout of the timestamp embedded in auto-deploy versions.
const TimestampFormat = "200601021504"

var (
	versionPattern   = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(\.\d+)?(.*)$`)
	commitsPattern   = regexp.MustCompile(`^-([0-9a-f]{11,})\.([0-9a-f]{11,})$`)
	timestampPattern = regexp.MustCompile(`^\d{12}$`)
)

// MalformedVersionError is returned when a string is not an auto-deploy version.
type MalformedVersionError struct {
	Input string
}

func (e *MalformedVersionError) Error() string {
	return fmt.Sprintf("malformed auto-deploy version %q", e.Input)
}

// AutoDeployVersion is a decoded auto-deploy version string.
type AutoDeployVersion struct {
	Major           int
	Minor           int
	Patch           int
	Timestamp       string // YYYYMMDDHHMM, empty when the third component is a plain patch
	CoreCommit      string
	PackagingCommit string
}

// String serializes the version as MAJOR.MINOR.TIMESTAMP[-CORE.PACKAGING].
func (v AutoDeployVersion) String() string {
	third := v.Timestamp
	if third == "" {
		third = strconv.Itoa(v.Patch)
	}

	s := fmt.Sprintf("%d.%d.%s", v.Major, v.Minor, third)
	if v.CoreCommit != "" && v.PackagingCommit != "" {
		s += "-" + v.CoreCommit + "." + v.PackagingCommit
	}
	return s
}

// Normalized drops the commit suffix: MAJOR.MINOR.TIMESTAMP or MAJOR.MINOR.PATCH.
func (v AutoDeployVersion) Normalized() string {
	w := v
	w.CoreCommit, w.PackagingCommit = "", ""
	return w.String()
}

// Time parses the embedded timestamp. The zero time is returned when there is none.
func (v AutoDeployVersion) Time() time.Time {
	t, err := time.Parse(TimestampFormat, v.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// EncodeVersion returns MAJOR.MINOR.YYYYMMDDHHMM for the given moment in UTC.
//
// The result depends on the clock, so a run must compute it once and pass it
// along instead of calling this again.
func EncodeVersion(major, minor int, at time.Time) string {
	return fmt.Sprintf("%d.%d.%s", major, minor, at.UTC().Format(TimestampFormat))
}

// DecodeVersion parses an auto-deploy version.
func DecodeVersion(s string) (AutoDeployVersion, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return AutoDeployVersion{}, &MalformedVersionError{Input: s}
	}

	var (
		v   AutoDeployVersion
		err error
	)
	if v.Major, err = strconv.Atoi(m[1]); err != nil {
		return AutoDeployVersion{}, &MalformedVersionError{Input: s}
	}
	if v.Minor, err = strconv.Atoi(m[2]); err != nil {
		return AutoDeployVersion{}, &MalformedVersionError{Input: s}
	}

	if isTimestamp(m[3]) {
		v.Timestamp = m[3]
	} else {
		patch, err := strconv.Atoi(m[3])
		if err != nil {
			return AutoDeployVersion{}, &MalformedVersionError{Input: s}
		}
		v.Patch = patch
	}

	if c := commitsPattern.FindStringSubmatch(m[5]); c != nil {
		v.CoreCommit = c[1]
		v.PackagingCommit = c[2]
	}

	return v, nil
}

func isTimestamp(s string) bool {
	if !timestampPattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(TimestampFormat, s)
	return err == nil
}
