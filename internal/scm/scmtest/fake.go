// Package scmtest provides an in-memory scm.Client for tests.
package scmtest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reillywatson/autodeploy/internal/scm"
)

// Call is a recorded client invocation.
type Call struct {
	Method string
	Repo   string
	Args   []string
}

type branch struct {
	history []scm.Commit // newest first
}

type repository struct {
	branches map[string]*branch
	files    map[string]map[string]string // ref -> path -> content
	tags     []scm.Tag                    // oldest first
	commits  []scm.FileAction
	statuses map[string]string // commit id -> combined status
}

// Fake is a goroutine-safe in-memory repository host.
type Fake struct {
	mu     sync.Mutex
	repos  map[string]*repository
	errs   map[string]error
	calls  []Call
	serial int
}

var _ scm.Client = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		repos: make(map[string]*repository),
		errs:  make(map[string]error),
	}
}

// NotFound builds the error the fake returns for missing objects.
func NotFound(format string, args ...interface{}) error {
	return &scm.ResponseError{StatusCode: http.StatusNotFound, Err: fmt.Errorf(format, args...)}
}

func (f *Fake) repo(name string) *repository {
	r, ok := f.repos[name]
	if !ok {
		r = &repository{
			branches: make(map[string]*branch),
			files:    make(map[string]map[string]string),
			statuses: make(map[string]string),
		}
		f.repos[name] = r
	}
	return r
}

// SetHistory replaces the history of ref in repo. ids are newest first.
func (f *Fake) SetHistory(repo, ref string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := &branch{}
	for _, id := range ids {
		b.history = append(b.history, scm.Commit{ID: id, CreatedAt: time.Unix(0, 0).UTC()})
	}
	f.repo(repo).branches[ref] = b
}

// SetFile stores content for path at ref.
func (f *Fake) SetFile(repo, ref, path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.repo(repo)
	if r.files[ref] == nil {
		r.files[ref] = make(map[string]string)
	}
	r.files[ref][strings.TrimPrefix(path, "/")] = content
}

// SetStatus sets the combined status of commit. Commits without one are pending.
func (f *Fake) SetStatus(repo, commit, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repo(repo).statuses[commit] = state
}

// AddTag adds a tag pointing at commit.
func (f *Fake) AddTag(repo, name, commit string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.repo(repo)
	r.tags = append(r.tags, scm.Tag{Name: name, Commit: scm.Commit{ID: commit}})
}

// FailOn makes every call to method return err. A repo of "" matches all repositories.
func (f *Fake) FailOn(method, repo string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method+"|"+repo] = err
}

// Calls returns the recorded calls to method.
func (f *Fake) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Committed returns the file actions of every commit created in repo.
func (f *Fake) Committed(repo string) []scm.FileAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scm.FileAction(nil), f.repo(repo).commits...)
}

// TagNames returns the names of all tags in repo, oldest first.
func (f *Fake) TagNames(repo string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, t := range f.repo(repo).tags {
		out = append(out, t.Name)
	}
	return out
}

func (f *Fake) record(method, repo string, args ...string) error {
	f.calls = append(f.calls, Call{Method: method, Repo: repo, Args: args})

	if err, ok := f.errs[method+"|"+repo]; ok {
		return err
	}
	return f.errs[method+"|"]
}

// resolve turns a branch name, full id or id prefix into a full commit id.
func (r *repository) resolve(ref string) (string, bool) {
	if b, ok := r.branches[ref]; ok && len(b.history) > 0 {
		return b.history[0].ID, true
	}
	for _, t := range r.tags {
		if t.Name == ref {
			return t.Commit.ID, true
		}
	}
	if len(ref) < 7 {
		return "", false
	}
	for _, name := range r.sortedBranches() {
		for _, c := range r.branches[name].history {
			if strings.HasPrefix(c.ID, ref) {
				return c.ID, true
			}
		}
	}
	return "", false
}

func (r *repository) sortedBranches() []string {
	names := make([]string, 0, len(r.branches))
	for name := range r.branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *repository) commit(id string) (scm.Commit, bool) {
	for _, b := range r.branches {
		for _, c := range b.history {
			if c.ID == id {
				return c, true
			}
		}
	}
	return scm.Commit{}, false
}

func (f *Fake) Commit(_ context.Context, repo, ref string) (*scm.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("Commit", repo, ref); err != nil {
		return nil, err
	}

	r := f.repo(repo)
	id, ok := r.resolve(ref)
	if !ok {
		return nil, NotFound("commit %s not found in %s", ref, repo)
	}
	c, ok := r.commit(id)
	if !ok {
		c = scm.Commit{ID: id}
	}
	return &c, nil
}

// ListCommits returns the whole history of ref as a single page.
func (f *Fake) ListCommits(_ context.Context, repo, ref string, page int) (*scm.CommitPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ListCommits", repo, ref, fmt.Sprint(page)); err != nil {
		return nil, err
	}

	b, ok := f.repo(repo).branches[ref]
	if !ok {
		return nil, NotFound("ref %s not found in %s", ref, repo)
	}
	if page > 1 {
		return &scm.CommitPage{}, nil
	}
	return &scm.CommitPage{Commits: append([]scm.Commit(nil), b.history...)}, nil
}

func (f *Fake) FileContents(_ context.Context, repo, path, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("FileContents", repo, path, ref); err != nil {
		return "", err
	}

	r := f.repo(repo)
	path = strings.TrimPrefix(path, "/")
	if content, ok := r.files[ref][path]; ok {
		return content, nil
	}

	// A commit id also sees the files of the branch it is the tip of.
	for _, name := range r.sortedBranches() {
		b := r.branches[name]
		if len(b.history) > 0 && b.history[0].ID == ref {
			if content, ok := r.files[name][path]; ok {
				return content, nil
			}
		}
	}
	return "", NotFound("file %s not found at %s in %s", path, ref, repo)
}

func (f *Fake) CommitStatus(_ context.Context, repo, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("CommitStatus", repo, ref); err != nil {
		return "", err
	}

	r := f.repo(repo)
	id, ok := r.resolve(ref)
	if !ok {
		return "", NotFound("ref %s not found in %s", ref, repo)
	}
	if state, ok := r.statuses[id]; ok {
		return state, nil
	}
	return "pending", nil
}

func (f *Fake) nextID(seed string) string {
	f.serial++
	sum := sha1.Sum([]byte(fmt.Sprintf("%s-%d", seed, f.serial)))
	return hex.EncodeToString(sum[:])
}

// CreateCommit applies actions to branch and advances its tip.
func (f *Fake) CreateCommit(_ context.Context, repo, branchName, message string, actions []scm.FileAction) (*scm.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("CreateCommit", repo, branchName, message); err != nil {
		return nil, err
	}

	r := f.repo(repo)
	b, ok := r.branches[branchName]
	if !ok {
		return nil, NotFound("branch %s not found in %s", branchName, repo)
	}

	if r.files[branchName] == nil {
		r.files[branchName] = make(map[string]string)
	}
	for _, a := range actions {
		r.files[branchName][strings.TrimPrefix(a.Path, "/")] = a.Content
	}
	r.commits = append(r.commits, actions...)

	c := scm.Commit{
		ID:        f.nextID(repo + branchName),
		Message:   message,
		CreatedAt: time.Now().UTC(),
		WebURL:    fmt.Sprintf("https://scm.example.com/%s/commit/%d", repo, f.serial),
	}
	b.history = append([]scm.Commit{c}, b.history...)
	return &c, nil
}

func (f *Fake) TagsAt(_ context.Context, repo, ref, prefix string) ([]scm.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("TagsAt", repo, ref, prefix); err != nil {
		return nil, err
	}

	r := f.repo(repo)
	id, ok := r.resolve(ref)
	if !ok {
		return nil, NotFound("ref %s not found in %s", ref, repo)
	}

	var refs []scm.Ref
	for _, t := range r.tags {
		if t.Commit.ID == id && strings.HasPrefix(t.Name, prefix) {
			refs = append(refs, scm.Ref{Name: t.Name, Type: scm.RefTypeTag})
		}
	}
	return refs, nil
}

func (f *Fake) Tag(_ context.Context, repo, name string) (*scm.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("Tag", repo, name); err != nil {
		return nil, err
	}

	for _, t := range f.repo(repo).tags {
		if t.Name == name {
			t := t
			return &t, nil
		}
	}
	return nil, NotFound("tag %s not found in %s", name, repo)
}

func (f *Fake) CreateTag(_ context.Context, repo, name, target, message string) (*scm.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("CreateTag", repo, name, target, message); err != nil {
		return nil, err
	}

	r := f.repo(repo)
	for _, t := range r.tags {
		if t.Name == name {
			return nil, &scm.ResponseError{StatusCode: http.StatusUnprocessableEntity, Err: fmt.Errorf("tag %s already exists", name)}
		}
	}

	id, ok := r.resolve(target)
	if !ok {
		id = target
	}
	tag := scm.Tag{Name: name, Message: message, Commit: scm.Commit{ID: id}}
	r.tags = append(r.tags, tag)
	return &tag, nil
}

// Tags returns tags newest first.
func (f *Fake) Tags(_ context.Context, repo string, limit int) ([]scm.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("Tags", repo, fmt.Sprint(limit)); err != nil {
		return nil, err
	}

	tags := f.repo(repo).tags
	var out []scm.Tag
	for i := len(tags) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, tags[i])
	}
	return out, nil
}

// Branches returns every branch of repo on page 1, sorted by name.
func (f *Fake) Branches(_ context.Context, repo string, page int) (*scm.BranchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("Branches", repo, fmt.Sprint(page)); err != nil {
		return nil, err
	}
	if page > 1 {
		return &scm.BranchPage{}, nil
	}

	r := f.repo(repo)
	out := &scm.BranchPage{}
	for _, name := range r.sortedBranches() {
		b := scm.Branch{Name: name}
		if h := r.branches[name].history; len(h) > 0 {
			b.Commit = h[0]
		}
		out.Branches = append(out.Branches, b)
	}
	return out, nil
}

func (f *Fake) DeleteBranch(_ context.Context, repo, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("DeleteBranch", repo, name); err != nil {
		return err
	}

	r := f.repo(repo)
	if _, ok := r.branches[name]; !ok {
		return NotFound("branch %s not found in %s", name, repo)
	}
	delete(r.branches, name)
	return nil
}

// HasBranch reports whether repo still has a branch called name.
func (f *Fake) HasBranch(repo, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.repo(repo).branches[name]
	return ok
}
