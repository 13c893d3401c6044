// Package forgetest provides an in-memory core.Forge for tests.
package forgetest

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-bounties/core"
)

type PostedComment struct {
	Repo   core.RepoRef
	Number int
	ID     int64
	Body   string
}

type Reaction struct {
	Repo      core.RepoRef
	CommentID int64
	Content   string
}

// Forge records every write and serves issues, pull requests and
// permission levels from maps keyed by number or login.
type Forge struct {
	mu sync.Mutex

	Issues       map[int]core.Issue
	PullRequests map[int]core.PullRequest
	Permissions  map[string]string
	Repositories map[int64][]core.RepoRef

	Comments  []PostedComment
	Edited    map[int64]string
	Deleted   []int64
	Reactions []Reaction

	// FailComments makes CreateComment return this error.
	FailComments error
	// FailReads makes GetIssue and GetPullRequest return this error.
	FailReads error

	nextCommentID int64
}

func New() *Forge {
	return &Forge{
		Issues:        map[int]core.Issue{},
		PullRequests:  map[int]core.PullRequest{},
		Permissions:   map[string]string{},
		Repositories:  map[int64][]core.RepoRef{},
		Edited:        map[int64]string{},
		nextCommentID: 1000,
	}
}

func (f *Forge) CreateComment(_ context.Context, repo core.RepoRef, number int, body string) (core.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailComments != nil {
		return core.Comment{}, f.FailComments
	}
	f.nextCommentID++
	comment := PostedComment{Repo: repo, Number: number, ID: f.nextCommentID, Body: body}
	f.Comments = append(f.Comments, comment)
	return core.Comment{ID: comment.ID, Body: body}, nil
}

func (f *Forge) EditComment(_ context.Context, _ core.RepoRef, commentID int64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Edited[commentID] = body
	return nil
}

func (f *Forge) DeleteComment(_ context.Context, _ core.RepoRef, commentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, commentID)
	return nil
}

func (f *Forge) CreateReaction(_ context.Context, repo core.RepoRef, commentID int64, reaction string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions = append(f.Reactions, Reaction{Repo: repo, CommentID: commentID, Content: reaction})
	return nil
}

func (f *Forge) GetPermissionLevel(_ context.Context, _ core.RepoRef, username string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if level, ok := f.Permissions[strings.ToLower(strings.TrimSpace(username))]; ok {
		return level, nil
	}
	return core.PermissionNone, nil
}

func (f *Forge) GetIssue(_ context.Context, _ core.RepoRef, number int) (core.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailReads != nil {
		return core.Issue{}, f.FailReads
	}
	if issue, ok := f.Issues[number]; ok {
		return issue, nil
	}
	if pr, ok := f.PullRequests[number]; ok {
		return core.Issue{Number: number, Title: pr.Title, Body: pr.Body, AuthorLogin: pr.AuthorLogin, IsPullRequest: true, State: pr.State}, nil
	}
	return core.Issue{}, core.NewNotFoundError("issue", "issue not found")
}

func (f *Forge) GetPullRequest(_ context.Context, _ core.RepoRef, number int) (core.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailReads != nil {
		return core.PullRequest{}, f.FailReads
	}
	if pr, ok := f.PullRequests[number]; ok {
		return pr, nil
	}
	return core.PullRequest{}, core.NewNotFoundError("pull_request", "pull request not found")
}

func (f *Forge) ListInstallationRepositories(_ context.Context, installationID int64) ([]core.RepoRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.RepoRef(nil), f.Repositories[installationID]...), nil
}

// CommentsOn returns the bodies posted on number, oldest first.
func (f *Forge) CommentsOn(number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, comment := range f.Comments {
		if comment.Number == number {
			out = append(out, comment.Body)
		}
	}
	return out
}

// LastComment returns the body of the newest comment on number.
func (f *Forge) LastComment(number int) string {
	bodies := f.CommentsOn(number)
	if len(bodies) == 0 {
		return ""
	}
	return bodies[len(bodies)-1]
}

func (f *Forge) ReactionsOn(commentID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, reaction := range f.Reactions {
		if reaction.CommentID == commentID {
			out = append(out, reaction.Content)
		}
	}
	return out
}

var _ core.Forge = (*Forge)(nil)
