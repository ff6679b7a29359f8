package scm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-github/v39/github"
	"golang.org/x/oauth2"
)

const perPage = 100

var fullSHA = regexp.MustCompile(`^[0-9a-f]{40}$`)

// GitHubClient implements Client on top of the GitHub REST API.
type GitHubClient struct {
	client *github.Client
}

// NewGitHubClient creates a client authenticated with token. An empty baseURL
// talks to api.github.com.
func NewGitHubClient(token, baseURL string) (*GitHubClient, error) {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	client := github.NewClient(tc)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", baseURL, err)
		}
		client.BaseURL = u
	}

	return &GitHubClient{client: client}, nil
}

func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("repository %q is not in owner/name form", repo)
	}
	return owner, name, nil
}

// convertError maps go-github errors onto the package error types.
func convertError(err error) error {
	var rl *github.RateLimitError
	if errors.As(err, &rl) {
		return &RateLimitError{Reset: rl.Rate.Reset.Time, Err: err}
	}

	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return &RateLimitError{Reset: time.Now().Add(abuse.GetRetryAfter()), Err: err}
	}

	var resp *github.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil {
		return &ResponseError{StatusCode: resp.Response.StatusCode, Err: err}
	}

	return err
}

func toCommit(rc *github.RepositoryCommit) *Commit {
	return &Commit{
		ID:        rc.GetSHA(),
		Message:   rc.GetCommit().GetMessage(),
		CreatedAt: rc.GetCommit().GetCommitter().GetDate(),
		WebURL:    rc.GetHTMLURL(),
	}
}

func (c *GitHubClient) Commit(ctx context.Context, repo, ref string) (*Commit, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	commit, _, err := c.client.Repositories.GetCommit(ctx, owner, name, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commit %s: %w", ref, convertError(err))
	}

	return toCommit(commit), nil
}

func (c *GitHubClient) ListCommits(ctx context.Context, repo, ref string, page int) (*CommitPage, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	opts := &github.CommitsListOptions{
		SHA:         ref,
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}

	commits, resp, err := c.client.Repositories.ListCommits(ctx, owner, name, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commits for %s: %w", ref, convertError(err))
	}

	out := &CommitPage{NextPage: resp.NextPage}
	for _, rc := range commits {
		out.Commits = append(out.Commits, *toCommit(rc))
	}
	return out, nil
}

func (c *GitHubClient) FileContents(ctx context.Context, repo, path, ref string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	file, _, _, err := c.client.Repositories.GetContents(ctx, owner, name, strings.TrimPrefix(path, "/"),
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s at %s: %w", path, ref, convertError(err))
	}
	if file == nil {
		return "", fmt.Errorf("%s at %s is a directory", path, ref)
	}

	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s at %s: %w", path, ref, err)
	}
	return content, nil
}

// CreateCommit writes all actions to branch as a single commit through the
// git data API.
func (c *GitHubClient) CreateCommit(ctx context.Context, repo, branch, message string, actions []FileAction) (*Commit, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	head, _, err := c.client.Git.GetRef(ctx, owner, name, "heads/"+branch)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch branch %s: %w", branch, convertError(err))
	}

	parent, _, err := c.client.Git.GetCommit(ctx, owner, name, head.GetObject().GetSHA())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commit %s: %w", head.GetObject().GetSHA(), convertError(err))
	}

	entries := make([]*github.TreeEntry, 0, len(actions))
	for _, a := range actions {
		entries = append(entries, &github.TreeEntry{
			Path:    github.String(strings.TrimPrefix(a.Path, "/")),
			Mode:    github.String("100644"),
			Type:    github.String("blob"),
			Content: github.String(a.Content),
		})
	}

	tree, _, err := c.client.Git.CreateTree(ctx, owner, name, parent.GetTree().GetSHA(), entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree: %w", convertError(err))
	}

	commit, _, err := c.client.Git.CreateCommit(ctx, owner, name, &github.Commit{
		Message: github.String(message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: parent.SHA}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create commit: %w", convertError(err))
	}

	_, _, err = c.client.Git.UpdateRef(ctx, owner, name, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: commit.SHA},
	}, false)
	if err != nil {
		return nil, fmt.Errorf("failed to update branch %s: %w", branch, convertError(err))
	}

	return &Commit{
		ID:        commit.GetSHA(),
		Message:   commit.GetMessage(),
		CreatedAt: commit.GetCommitter().GetDate(),
		WebURL:    commit.GetHTMLURL(),
	}, nil
}

func (c *GitHubClient) CommitStatus(ctx context.Context, repo, ref string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	status, _, err := c.client.Repositories.GetCombinedStatus(ctx, owner, name, ref, &github.ListOptions{PerPage: perPage})
	if err != nil {
		return "", fmt.Errorf("failed to fetch status of %s: %w", ref, convertError(err))
	}
	return status.GetState(), nil
}

func (c *GitHubClient) resolve(ctx context.Context, owner, name, ref string) (string, error) {
	if fullSHA.MatchString(ref) {
		return ref, nil
	}

	sha, _, err := c.client.Repositories.GetCommitSHA1(ctx, owner, name, ref, "")
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, convertError(err))
	}
	return sha, nil
}

// TagsAt only considers tags named with prefix so the scan stays within one
// release line. Annotated tags are dereferenced to their commit.
func (c *GitHubClient) TagsAt(ctx context.Context, repo, ref, prefix string) ([]Ref, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	sha, err := c.resolve(ctx, owner, name, ref)
	if err != nil {
		return nil, err
	}

	var refs []Ref
	opts := &github.ReferenceListOptions{Ref: "tags/" + prefix, ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		tags, resp, err := c.client.Git.ListMatchingRefs(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tags: %w", convertError(err))
		}

		for _, tag := range tags {
			target := tag.GetObject().GetSHA()
			if tag.GetObject().GetType() == "tag" {
				annotated, _, err := c.client.Git.GetTag(ctx, owner, name, target)
				if err != nil {
					return nil, fmt.Errorf("failed to fetch tag object %s: %w", tag.GetRef(), convertError(err))
				}
				target = annotated.GetObject().GetSHA()
			}
			if target == sha {
				refs = append(refs, Ref{Name: strings.TrimPrefix(tag.GetRef(), "refs/tags/"), Type: RefTypeTag})
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return refs, nil
}

func (c *GitHubClient) Tag(ctx context.Context, repo, tagName string) (*Tag, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	ref, _, err := c.client.Git.GetRef(ctx, owner, name, "tags/"+tagName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tag %s: %w", tagName, convertError(err))
	}

	tag := &Tag{Name: tagName, Commit: Commit{ID: ref.GetObject().GetSHA()}}
	if ref.GetObject().GetType() != "tag" {
		return tag, nil
	}

	// Annotated tags point at a tag object, which in turn points at the commit.
	annotated, _, err := c.client.Git.GetTag(ctx, owner, name, ref.GetObject().GetSHA())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tag object %s: %w", tagName, convertError(err))
	}
	tag.Message = annotated.GetMessage()
	tag.Commit = Commit{ID: annotated.GetObject().GetSHA(), CreatedAt: annotated.GetTagger().GetDate()}

	return tag, nil
}

// CreateTag creates an annotated tag. target may be a branch name or a commit id.
func (c *GitHubClient) CreateTag(ctx context.Context, repo, tagName, target, message string) (*Tag, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	sha, err := c.resolve(ctx, owner, name, target)
	if err != nil {
		return nil, err
	}

	obj, _, err := c.client.Git.CreateTag(ctx, owner, name, &github.Tag{
		Tag:     github.String(tagName),
		Message: github.String(message),
		Object:  &github.GitObject{Type: github.String("commit"), SHA: github.String(sha)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tag %s: %w", tagName, convertError(err))
	}

	_, _, err = c.client.Git.CreateRef(ctx, owner, name, &github.Reference{
		Ref:    github.String("refs/tags/" + tagName),
		Object: &github.GitObject{SHA: obj.SHA},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ref for tag %s: %w", tagName, convertError(err))
	}

	return &Tag{Name: tagName, Message: message, Commit: Commit{ID: sha}}, nil
}

func (c *GitHubClient) Tags(ctx context.Context, repo string, limit int) ([]Tag, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var out []Tag
	opts := &github.ListOptions{PerPage: min(limit, perPage)}
	for len(out) < limit {
		tags, resp, err := c.client.Repositories.ListTags(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tags: %w", convertError(err))
		}

		for _, tag := range tags {
			if len(out) == limit {
				break
			}
			out = append(out, Tag{Name: tag.GetName(), Commit: Commit{ID: tag.GetCommit().GetSHA()}})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return out, nil
}

func (c *GitHubClient) Branches(ctx context.Context, repo string, page int) (*BranchPage, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	opts := &github.BranchListOptions{ListOptions: github.ListOptions{Page: page, PerPage: perPage}}
	branches, resp, err := c.client.Repositories.ListBranches(ctx, owner, name, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch branches: %w", convertError(err))
	}

	out := &BranchPage{NextPage: resp.NextPage}
	for _, b := range branches {
		out.Branches = append(out.Branches, Branch{
			Name:   b.GetName(),
			Commit: Commit{ID: b.GetCommit().GetSHA()},
		})
	}
	return out, nil
}

func (c *GitHubClient) DeleteBranch(ctx context.Context, repo, branch string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	if _, err := c.client.Git.DeleteRef(ctx, owner, name, "heads/"+branch); err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", branch, convertError(err))
	}
	return nil
}
