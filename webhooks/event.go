package webhooks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-bounties/core"
)

type Kind string

const (
	KindIssueCommentCreated Kind = "issue-comment-created"
	KindPullRequestOpened   Kind = "pull-request-opened"
	KindPullRequestMerged   Kind = "pull-request-merged"
	KindIssueEdited         Kind = "issue-edited"
	KindIssueDeleted        Kind = "issue-deleted"
	KindInstallationCreated Kind = "installation-created"
	KindInstallationDeleted Kind = "installation-deleted"
	KindIgnored             Kind = "ignored"
)

type User struct {
	Login string
	ID    int64
}

type IssuePayload struct {
	Number        int
	Title         string
	Body          string
	State         string
	Author        User
	IsPullRequest bool
}

type CommentPayload struct {
	ID     int64
	Body   string
	Author User
}

type PullRequestPayload struct {
	Number  int
	Title   string
	Body    string
	Author  User
	HeadSHA string
	State   string
	Merged  bool
}

type InstallationPayload struct {
	ID           int64
	AccountLogin string
	Repositories []core.RepoRef
}

// Event is a classified delivery. Kind selects which payload members are
// populated:
//
//	issue-comment-created  Issue, Comment
//	pull-request-opened    PullRequest
//	pull-request-merged    PullRequest
//	issue-edited           Issue
//	issue-deleted          Issue
//	installation-*         Installation
type Event struct {
	Kind           Kind
	Name           string
	Action         string
	DeliveryID     string
	InstallationID int64
	Repo           core.RepoRef
	Sender         User

	Issue        *IssuePayload
	Comment      *CommentPayload
	PullRequest  *PullRequestPayload
	Installation *InstallationPayload
}

func (e Event) Ignored() bool {
	return e.Kind == KindIgnored || e.Kind == ""
}

// Fields returns structured log fields describing the event.
func (e Event) Fields() map[string]any {
	fields := map[string]any{
		"event_kind":  string(e.Kind),
		"event_name":  e.Name,
		"action":      e.Action,
		"delivery_id": e.DeliveryID,
	}
	if !e.Repo.IsZero() {
		fields["repo"] = e.Repo.FullName()
	}
	if e.Sender.Login != "" {
		fields["sender"] = e.Sender.Login
	}
	switch {
	case e.Issue != nil:
		fields["issue_number"] = e.Issue.Number
	case e.PullRequest != nil:
		fields["pr_number"] = e.PullRequest.Number
	case e.Installation != nil:
		fields["installation_id"] = e.Installation.ID
	}
	return fields
}

// Classify decodes a GitHub payload for eventName into an Event. Events and
// actions the bounty flow does not react to classify as KindIgnored; a body
// that cannot be decoded, or that lacks members its kind requires, returns an
// error.
func Classify(eventName string, body []byte) (Event, error) {
	name := strings.ToLower(strings.TrimSpace(eventName))
	event := Event{Kind: KindIgnored, Name: name}

	switch name {
	case "issue_comment", "pull_request", "issues", "installation":
	default:
		return event, nil
	}

	var payload ghPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return event, core.NewValidationError(fmt.Sprintf("malformed %s payload: %v", name, err), "body")
	}
	event.Action = strings.ToLower(strings.TrimSpace(payload.Action))
	event.Sender = toUser(payload.Sender)
	if payload.Installation != nil {
		event.InstallationID = payload.Installation.ID
	}

	kind := classifyKind(name, event.Action, payload)
	if kind == KindIgnored {
		return event, nil
	}

	switch kind {
	case KindInstallationCreated, KindInstallationDeleted:
		if payload.Installation == nil || payload.Installation.ID == 0 {
			return event, malformed(name, "installation")
		}
		installation := &InstallationPayload{
			ID:           payload.Installation.ID,
			AccountLogin: payload.Installation.Account.Login,
		}
		for _, repo := range payload.Repositories {
			ref, err := core.ParseRepoRef(repo.FullName)
			if err != nil {
				continue
			}
			installation.Repositories = append(installation.Repositories, ref)
		}
		event.Installation = installation
		event.Kind = kind
		return event, nil
	}

	if payload.Repository == nil {
		return event, malformed(name, "repository")
	}
	repo, err := core.ParseRepoRef(payload.Repository.FullName)
	if err != nil {
		return event, malformed(name, "repository.full_name")
	}
	event.Repo = repo

	switch kind {
	case KindIssueCommentCreated:
		if payload.Issue == nil || payload.Issue.Number <= 0 {
			return event, malformed(name, "issue")
		}
		if payload.Comment == nil {
			return event, malformed(name, "comment")
		}
		event.Issue = toIssue(payload.Issue)
		event.Comment = &CommentPayload{
			ID:     payload.Comment.ID,
			Body:   payload.Comment.Body,
			Author: toUser(payload.Comment.User),
		}
	case KindIssueEdited, KindIssueDeleted:
		if payload.Issue == nil || payload.Issue.Number <= 0 {
			return event, malformed(name, "issue")
		}
		event.Issue = toIssue(payload.Issue)
	case KindPullRequestOpened, KindPullRequestMerged:
		if payload.PullRequest == nil || payload.PullRequest.Number <= 0 {
			return event, malformed(name, "pull_request")
		}
		pr := payload.PullRequest
		event.PullRequest = &PullRequestPayload{
			Number:  pr.Number,
			Title:   pr.Title,
			Body:    pr.Body,
			Author:  toUser(pr.User),
			HeadSHA: pr.Head.SHA,
			State:   pr.State,
			Merged:  pr.Merged,
		}
	}
	event.Kind = kind
	return event, nil
}

func classifyKind(name string, action string, payload ghPayload) Kind {
	switch name {
	case "issue_comment":
		if action == "created" {
			return KindIssueCommentCreated
		}
	case "pull_request":
		switch action {
		case "opened", "reopened":
			return KindPullRequestOpened
		case "closed":
			if payload.PullRequest != nil && payload.PullRequest.Merged {
				return KindPullRequestMerged
			}
		}
	case "issues":
		switch action {
		case "edited":
			return KindIssueEdited
		case "deleted":
			return KindIssueDeleted
		}
	case "installation":
		switch action {
		case "created":
			return KindInstallationCreated
		case "deleted":
			return KindInstallationDeleted
		}
	}
	return KindIgnored
}

func toUser(user ghUser) User {
	return User{Login: strings.TrimSpace(user.Login), ID: user.ID}
}

func toIssue(issue *ghIssue) *IssuePayload {
	return &IssuePayload{
		Number:        issue.Number,
		Title:         issue.Title,
		Body:          issue.Body,
		State:         issue.State,
		Author:        toUser(issue.User),
		IsPullRequest: issue.PullRequest != nil,
	}
}

func malformed(eventName string, member string) error {
	return core.NewValidationError(fmt.Sprintf("%s payload is missing %s", eventName, member), member)
}
