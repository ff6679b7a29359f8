package scm

import (
	"context"

	"github.com/reillywatson/autodeploy/internal/retry"
)

// RetryingClient retries transient failures of the wrapped client. Lookups use
// the read policy, mutations the write policy.
type RetryingClient struct {
	client Client
	read   retry.Policy
	write  retry.Policy
}

var _ Client = (*RetryingClient)(nil)

// WithRetry wraps client with the default read and write policies.
func WithRetry(client Client) *RetryingClient {
	return WithPolicies(client, retry.Read, retry.Write)
}

// WithPolicies wraps client with explicit policies. Their predicates are
// replaced by IsTransient.
func WithPolicies(client Client, read, write retry.Policy) *RetryingClient {
	return &RetryingClient{
		client: client,
		read:   read.WithRetryable(IsTransient),
		write:  write.WithRetryable(IsTransient),
	}
}

func (c *RetryingClient) Commit(ctx context.Context, repo, ref string) (*Commit, error) {
	return retry.Value(ctx, c.read, func(ctx context.Context) (*Commit, error) {
		return c.client.Commit(ctx, repo, ref)
	})
}

func (c *RetryingClient) ListCommits(ctx context.Context, repo, ref string, page int) (*CommitPage, error) {
	return retry.Value(ctx, c.read, func(ctx context.Context) (*CommitPage, error) {
		return c.client.ListCommits(ctx, repo, ref, page)
	})
}

func (c *RetryingClient) FileContents(ctx context.Context, repo, path, ref string) (string, error) {
	return retry.Value(ctx, c.read, func(ctx context.Context) (string, error) {
		return c.client.FileContents(ctx, repo, path, ref)
	})
}

func (c *RetryingClient) CommitStatus(ctx context.Context, repo, ref string) (string, error) {
	return retry.Value(ctx, c.read, func(ctx context.Context) (string, error) {
		return c.client.CommitStatus(ctx, repo, ref)
	})
}

func (c *RetryingClient) CreateCommit(ctx context.Context, repo, branch, message string, actions []FileAction) (*Commit, error) {
	return retry.Value(ctx, c.write, func(ctx context.Context) (*Commit, error) {
		return c.client.CreateCommit(ctx, repo, branch, message, actions)
	})
}

func (c *RetryingClient) TagsAt(ctx context.Context, repo, ref, prefix string) ([]Ref, error) {
	return retry.Value(ctx, c.read, func(ctx context.Context) ([]Ref, error) {
		return c.client.TagsAt(ctx, repo, ref, prefix)
	})
}

func (c *RetryingClient) Tag(ctx context.Context, repo, name string) (*Tag, error) {
	return retry.Value(ctx, c.read, func(ctx context.Context) (*Tag, error) {
		return c.client.Tag(ctx, repo, name)
	})
}

func (c *RetryingClient) CreateTag(ctx context.Context, repo, name, target, message string) (*Tag, error) {
	return retry.Value(ctx, c.write, func(ctx context.Context) (*Tag, error) {
		return c.client.CreateTag(ctx, repo, name, target, message)
	})
}

func (c *RetryingClient) Tags(ctx context.Context, repo string, limit int) ([]Tag, error) {
	return retry.Value(ctx, c.read, func(ctx context.Context) ([]Tag, error) {
		return c.client.Tags(ctx, repo, limit)
	})
}

func (c *RetryingClient) Branches(ctx context.Context, repo string, page int) (*BranchPage, error) {
	return retry.Value(ctx, c.read, func(ctx context.Context) (*BranchPage, error) {
		return c.client.Branches(ctx, repo, page)
	})
}

func (c *RetryingClient) DeleteBranch(ctx context.Context, repo, name string) error {
	return retry.Do(ctx, c.write, func(ctx context.Context) error {
		return c.client.DeleteBranch(ctx, repo, name)
	})
}
