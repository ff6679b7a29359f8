package version

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/Masterminds/semver/v3"
)

// AbbrevLength is the number of commit characters embedded in tag names.
const AbbrevLength = 11

// TagTemplate selects the tag naming scheme of a target repository.
type TagTemplate int

const (
	// TagCoordinator is "{release}".
	TagCoordinator TagTemplate = iota
	// TagPackaging is "{release}+{coreRef:11}.{packagingRef:11}".
	TagPackaging
	// TagImage is "{release}+{coreRef:11}".
	TagImage
)

func (t TagTemplate) refs() int {
	switch t {
	case TagPackaging:
		return 2
	case TagImage:
		return 1
	default:
		return 0
	}
}

// EncodeTag builds a tag name from a release tag and the refs the template needs.
//
// Every ref is cut to its first 11 characters. Refs must be commit ids; the
// caller is responsible for passing full or at least 11 character ids.
func EncodeTag(template TagTemplate, releaseTag string, refs ...string) (string, error) {
	if len(refs) != template.refs() {
		return "", fmt.Errorf("tag template %d takes %d refs, got %d", template, template.refs(), len(refs))
	}

	switch template {
	case TagPackaging:
		return fmt.Sprintf("%s+%s.%s", releaseTag, Abbrev(refs[0]), Abbrev(refs[1])), nil
	case TagImage:
		return fmt.Sprintf("%s+%s", releaseTag, Abbrev(refs[0])), nil
	default:
		return releaseTag, nil
	}
}

// Abbrev truncates a commit id to AbbrevLength characters.
func Abbrev(ref string) string {
	if len(ref) <= AbbrevLength {
		return ref
	}
	return ref[:AbbrevLength]
}

// ReleasePattern matches tagged releases such as 13.11.0, v13.11.0 or 13.11.0-rc42.
var ReleasePattern = regexp.MustCompile(`(v?)(\d+)\.(\d+)\.(\d+)(?:-rc?(\d+))?`)

// Release is a tagged (non auto-deploy) release version.
type Release struct {
	*semver.Version
	RC int
}

// ParseRelease extracts the first release version found in s.
func ParseRelease(s string) (Release, bool) {
	m := ReleasePattern.FindStringSubmatch(s)
	if m == nil {
		return Release{}, false
	}

	major, _ := strconv.ParseUint(m[2], 10, 64)
	minor, _ := strconv.ParseUint(m[3], 10, 64)
	patch, _ := strconv.ParseUint(m[4], 10, 64)

	var rc int
	pre := ""
	if m[5] != "" {
		rc, _ = strconv.Atoi(m[5])
		pre = "rc" + m[5]
	}

	return Release{Version: semver.New(major, minor, patch, pre, ""), RC: rc}, true
}

// Normalized returns MAJOR.MINOR.PATCH.
func (r Release) Normalized() string {
	return fmt.Sprintf("%d.%d.%d", r.Major(), r.Minor(), r.Patch())
}

// CoreTag is the tag name of this release in the core application, e.g. v13.11.0-rc42-ee.
func (r Release) CoreTag() string {
	if r.Prerelease() != "" {
		return fmt.Sprintf("v%s-%s-ee", r.Normalized(), r.Prerelease())
	}
	return fmt.Sprintf("v%s-ee", r.Normalized())
}

// PackagingTag is the tag name of this release in the packaging project, e.g. 13.11.0+rc42.ee.0.
func (r Release) PackagingTag() string {
	if r.Prerelease() != "" {
		return fmt.Sprintf("%s+%s.ee.0", r.Normalized(), r.Prerelease())
	}
	return fmt.Sprintf("%s+ee.0", r.Normalized())
}
