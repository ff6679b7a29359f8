package deployment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
	"github.com/reillywatson/autodeploy/internal/scm/scmtest"
)

func TestIntersectionFinder_Find(t *testing.T) {
	p := project.CoreApp
	fake := scmtest.NewFake()
	fake.SetHistory(p.AutoDeployPath(), "c5", "c5", "c4", "c3", "c2", "c1")
	fake.SetHistory(p.Canonical, p.DefaultBranch, "c9", "c3", "c2", "c1")

	got, ok := NewIntersectionFinder(fake).Find(context.Background(), p, "c5")

	assert.True(t, ok)
	assert.Equal(t, "c3", got)
}

func TestIntersectionFinder_NoOverlap(t *testing.T) {
	p := project.CoreApp
	fake := scmtest.NewFake()
	fake.SetHistory(p.AutoDeployPath(), "c5", "c5", "c4")
	fake.SetHistory(p.Canonical, p.DefaultBranch, "c9", "c8")

	got, ok := NewIntersectionFinder(fake).Find(context.Background(), p, "c5")

	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestIntersectionFinder_RespectsLimit(t *testing.T) {
	p := project.Packaging
	var private []string
	for i := 10; i > 0; i-- {
		private = append(private, fmt.Sprintf("p%d", i))
	}
	private = append(private, "shared")

	fake := scmtest.NewFake()
	fake.SetHistory(p.AutoDeployPath(), "tip", private...)
	fake.SetHistory(p.Canonical, p.DefaultBranch, "shared")

	finder := NewIntersectionFinder(fake)
	finder.Limit = 5

	_, ok := finder.Find(context.Background(), p, "tip")
	assert.False(t, ok)

	finder.Limit = DefaultIntersectionLimit
	got, ok := finder.Find(context.Background(), p, "tip")
	assert.True(t, ok)
	assert.Equal(t, "shared", got)
}

func TestIntersectionFinder_APIErrorIsNotFound(t *testing.T) {
	p := project.CoreApp
	fake := scmtest.NewFake()
	fake.SetHistory(p.AutoDeployPath(), "c5", "c5")
	fake.FailOn("ListCommits", p.Canonical, &scm.ResponseError{StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")})

	got, ok := NewIntersectionFinder(fake).Find(context.Background(), p, "c5")

	assert.False(t, ok)
	assert.Empty(t, got)
}
