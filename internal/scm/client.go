// Package scm is the source-control collaborator used by the auto-deploy engine.
package scm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

var (
	// ErrNotFound is returned when a commit, tag, file or branch does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with existing state, for
	// example a tag that already exists.
	ErrConflict = errors.New("conflict")
)

// ResponseError is an unsuccessful API response.
type ResponseError struct {
	StatusCode int
	Err        error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("API returned status %d: %v", e.StatusCode, e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// Is maps status codes onto the package sentinels.
func (e *ResponseError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusUnprocessableEntity
	}
	return false
}

// RateLimitError is returned when the API asks the caller to slow down.
type RateLimitError struct {
	Reset time.Time
	Err   error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s: %v", e.Reset.Format(time.RFC3339), e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying: server errors, rate
// limits, timeouts and dropped connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}

	var resp *ResponseError
	if errors.As(err, &resp) {
		return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// IsNotFound is a shorthand for errors.Is(err, ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Commit is a single commit in a repository.
type Commit struct {
	ID        string    `json:"id"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	WebURL    string    `json:"web_url,omitempty"`
}

// CommitPage is one page of a commit listing.
type CommitPage struct {
	Commits []Commit
	// NextPage is 0 on the last page.
	NextPage int
}

// FileAction is a single file change in a commit.
type FileAction struct {
	Action  string // "create" or "update"
	Path    string
	Content string
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// StatusSuccess is the combined status of a commit whose checks all passed.
const StatusSuccess = "success"

// RefTypeTag marks a Ref that is a tag.
const RefTypeTag = "tag"

// Ref is a named ref pointing at a commit.
type Ref struct {
	Name string
	Type string
}

// Tag is a tag and the commit it points at.
type Tag struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
	Commit  Commit `json:"commit"`
}

// Branch is a branch and its tip.
type Branch struct {
	Name   string
	Commit Commit
}

// BranchPage is one page of a branch listing.
type BranchPage struct {
	Branches []Branch
	NextPage int
}

// Client is the set of source-control operations the engine needs.
//
// Repositories are addressed as "owner/name". Implementations return errors
// matching ErrNotFound for missing objects.
type Client interface {
	Commit(ctx context.Context, repo, ref string) (*Commit, error)
	ListCommits(ctx context.Context, repo, ref string, page int) (*CommitPage, error)
	FileContents(ctx context.Context, repo, path, ref string) (string, error)
	// CommitStatus is the combined CI state of ref: success, pending, failure or error.
	CommitStatus(ctx context.Context, repo, ref string) (string, error)
	CreateCommit(ctx context.Context, repo, branch, message string, actions []FileAction) (*Commit, error)
	// TagsAt lists the refs of type tag named with prefix that point at the
	// commit ref resolves to. An empty prefix matches every tag.
	TagsAt(ctx context.Context, repo, ref, prefix string) ([]Ref, error)
	Tag(ctx context.Context, repo, name string) (*Tag, error)
	CreateTag(ctx context.Context, repo, name, target, message string) (*Tag, error)
	// Tags returns up to limit tags, newest first.
	Tags(ctx context.Context, repo string, limit int) ([]Tag, error)
	Branches(ctx context.Context, repo string, page int) (*BranchPage, error)
	DeleteBranch(ctx context.Context, repo, name string) error
}
