package scm_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reillywatson/autodeploy/internal/retry"
	"github.com/reillywatson/autodeploy/internal/scm"
	"github.com/reillywatson/autodeploy/internal/scm/scmtest"
)

// flakyClient fails the first failures calls of Commit and CreateTag.
type flakyClient struct {
	*scmtest.Fake
	failures int
	err      error
	calls    int
}

func (c *flakyClient) Commit(ctx context.Context, repo, ref string) (*scm.Commit, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}
	return c.Fake.Commit(ctx, repo, ref)
}

func (c *flakyClient) CreateTag(ctx context.Context, repo, name, target, message string) (*scm.Tag, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}
	return c.Fake.CreateTag(ctx, repo, name, target, message)
}

func testPolicies() (retry.Policy, retry.Policy) {
	return retry.Policy{Name: "read", MaxRetries: 4, Base: time.Millisecond},
		retry.Policy{Name: "write", MaxRetries: 1, Base: time.Millisecond}
}

func TestRetryingClient_RetriesTransientReads(t *testing.T) {
	fake := scmtest.NewFake()
	fake.SetHistory("acme/app", "main", "abc1234567890")

	flaky := &flakyClient{
		Fake:     fake,
		failures: 3,
		err:      &scm.ResponseError{StatusCode: http.StatusServiceUnavailable, Err: errors.New("unavailable")},
	}
	read, write := testPolicies()
	client := scm.WithPolicies(flaky, read, write)

	commit, err := client.Commit(context.Background(), "acme/app", "main")
	require.NoError(t, err)
	assert.Equal(t, "abc1234567890", commit.ID)
	assert.Equal(t, 4, flaky.calls)
}

func TestRetryingClient_WritesHaveSmallerBudget(t *testing.T) {
	flaky := &flakyClient{
		Fake:     scmtest.NewFake(),
		failures: 3,
		err:      &scm.RateLimitError{Reset: time.Now(), Err: errors.New("slow down")},
	}
	read, write := testPolicies()
	client := scm.WithPolicies(flaky, read, write)

	_, err := client.CreateTag(context.Background(), "acme/app", "1.2.3", "main", "")
	require.Error(t, err)
	assert.Equal(t, 2, flaky.calls)
}

func TestRetryingClient_NotFoundIsNotRetried(t *testing.T) {
	flaky := &flakyClient{
		Fake:     scmtest.NewFake(),
		failures: 10,
		err:      scmtest.NotFound("missing"),
	}
	read, write := testPolicies()
	client := scm.WithPolicies(flaky, read, write)

	_, err := client.Commit(context.Background(), "acme/app", "main")
	assert.ErrorIs(t, err, scm.ErrNotFound)
	assert.Equal(t, 1, flaky.calls)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &scm.ResponseError{StatusCode: 500}, true},
		{"too many requests", &scm.ResponseError{StatusCode: 429}, true},
		{"not found", &scm.ResponseError{StatusCode: 404}, false},
		{"conflict", &scm.ResponseError{StatusCode: 422}, false},
		{"rate limit", &scm.RateLimitError{}, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scm.IsTransient(tt.err))
		})
	}
}
