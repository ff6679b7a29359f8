package version

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	branchHourFormat = "2006010215"
	branchDayFormat  = "20060102"
)

// BranchPattern matches auto-deploy branch names, including legacy day-precision ones.
var BranchPattern = regexp.MustCompile(`^(?:security/)?(\d+)-(\d+)-auto-deploy-(\d{8}|\d{10})$`)

// MalformedBranchError is returned when a string is not an auto-deploy branch name.
type MalformedBranchError struct {
	Input string
	Err   error
}

func (e *MalformedBranchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed auto-deploy branch %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("malformed auto-deploy branch %q", e.Input)
}

func (e *MalformedBranchError) Unwrap() error {
	return e.Err
}

// Branch is a decoded auto-deploy branch name.
type Branch struct {
	Major int
	Minor int
	Time  time.Time // hour precision, UTC
}

// String re-encodes the branch name, always with hour precision.
func (b Branch) String() string {
	return fmt.Sprintf("%d-%d-auto-deploy-%s", b.Major, b.Minor, b.Time.UTC().Format(branchHourFormat))
}

// TimestampHour returns the YYYYMMDDHH part of the branch name.
func (b Branch) TimestampHour() string {
	return b.Time.UTC().Format(branchHourFormat)
}

// EncodeBranch returns the auto-deploy branch name for a version created at the given moment.
func EncodeBranch(major, minor int, at time.Time) string {
	return Branch{Major: major, Minor: minor, Time: at.UTC().Truncate(time.Hour)}.String()
}

// DecodeBranch parses an auto-deploy branch name.
func DecodeBranch(s string) (Branch, error) {
	m := BranchPattern.FindStringSubmatch(s)
	if m == nil {
		return Branch{}, &MalformedBranchError{Input: s}
	}

	layout := branchHourFormat
	if len(m[3]) == len(branchDayFormat) {
		// Branches created before hourly rotation only carry a date.
		layout = branchDayFormat
	}

	t, err := time.Parse(layout, m[3])
	if err != nil {
		return Branch{}, &MalformedBranchError{Input: s, Err: err}
	}

	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Branch{}, &MalformedBranchError{Input: s, Err: err}
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return Branch{}, &MalformedBranchError{Input: s, Err: err}
	}

	return Branch{Major: major, Minor: minor, Time: t}, nil
}
