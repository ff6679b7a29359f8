package autodeploy

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

// specPattern matches a top-level spec of a Gemfile.lock, e.g. "    mail_room (0.10.0)".
var specPattern = regexp.MustCompile(`^    ([^\s(]+) \(([^)]+)\)$`)

// Gemfile holds the gem versions locked by a Gemfile.lock.
type Gemfile struct {
	specs [][2]string // name, version in file order
}

// ParseGemfile reads the specs sections of a Gemfile.lock. Dependencies of
// specs, which are indented further, are skipped.
func ParseGemfile(content string) *Gemfile {
	g := &Gemfile{}
	inSpecs := false

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.TrimSpace(line) == "specs:":
			inSpecs = true
		case line == "" || !strings.HasPrefix(line, " "):
			inSpecs = false
		case inSpecs:
			if m := specPattern.FindStringSubmatch(line); m != nil {
				g.specs = append(g.specs, [2]string{m[1], m[2]})
			}
		}
	}
	return g
}

// GemVersion returns the version of the first gem whose name matches pattern.
func (g *Gemfile) GemVersion(pattern *regexp.Regexp) (string, error) {
	for _, spec := range g.specs {
		if pattern.MatchString(spec[0]) {
			return spec[1], nil
		}
	}
	return "", fmt.Errorf("unable to find a version for gem %s", pattern)
}
