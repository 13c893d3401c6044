package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type BountyStore interface {
	CreateBounty(ctx context.Context, bounty Bounty) (Bounty, error)
	GetBounty(ctx context.Context, id string) (Bounty, error)
	FindBountyByIssue(ctx context.Context, repo RepoRef, issueNumber int) (Bounty, error)
	// UpdateBounty fails with a stale state conflict when bounty.Version no
	// longer matches the stored row.
	UpdateBounty(ctx context.Context, bounty Bounty) (Bounty, error)
	// UpdateBountyState writes a bounty and the submissions a transition
	// changed in one unit of work, under the same version check.
	UpdateBountyState(ctx context.Context, bounty Bounty, submissions []Submission) (Bounty, error)
	DeleteBounty(ctx context.Context, id string) error
	ListBounties(ctx context.Context, filter BountyFilter) ([]Bounty, error)
}

type SubmissionStore interface {
	CreateSubmission(ctx context.Context, submission Submission) (Submission, error)
	GetSubmission(ctx context.Context, id string) (Submission, error)
	FindSubmissionByPR(ctx context.Context, bountyID string, prNumber int) (Submission, error)
	ListSubmissions(ctx context.Context, bountyID string) ([]Submission, error)
	UpdateSubmission(ctx context.Context, submission Submission) (Submission, error)
	DeleteSubmission(ctx context.Context, id string) error
}

type ContributorStore interface {
	GetContributorByLogin(ctx context.Context, login string) (Contributor, error)
	UpsertContributor(ctx context.Context, contributor Contributor) (Contributor, error)
}

type PayoutStore interface {
	// CompletePayout persists the bounty, submission, payout and transaction
	// rows of a successful transfer in one unit of work.
	CompletePayout(ctx context.Context, completion PayoutCompletion) (Payout, error)
	ListPayouts(ctx context.Context, bountyID string) ([]Payout, error)
	ListTransactions(ctx context.Context, bountyID string) ([]Transaction, error)
}

type InstallationStore interface {
	UpsertInstallation(ctx context.Context, installation Installation) (Installation, error)
	GetInstallation(ctx context.Context, installationID int64) (Installation, error)
}

type Store interface {
	BountyStore
	SubmissionStore
	ContributorStore
	PayoutStore
	InstallationStore
}

// CoordinationStore is the shared key/value store used for payout locks,
// the idempotency ledger and rate limit counters. A ttl <= 0 stores the key
// without expiry.
type CoordinationStore interface {
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	DeleteIfEquals(ctx context.Context, key string, value string) (bool, error)
	// TTL returns the remaining lifetime of key. ok is false when the key is
	// absent; a zero duration with ok=true means the key never expires.
	TTL(ctx context.Context, key string) (remaining time.Duration, ok bool, err error)
	// Incr increments a counter, applying ttl when the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type Issue struct {
	Number        int
	Title         string
	Body          string
	AuthorLogin   string
	IsPullRequest bool
	State         string
}

type PullRequest struct {
	Number      int
	Title       string
	Body        string
	AuthorLogin string
	AuthorID    int64
	HeadSHA     string
	State       string
	Merged      bool
}

type Comment struct {
	ID   int64
	Body string
}

// Forge is the issue tracker client.
type Forge interface {
	CreateComment(ctx context.Context, repo RepoRef, number int, body string) (Comment, error)
	EditComment(ctx context.Context, repo RepoRef, commentID int64, body string) error
	DeleteComment(ctx context.Context, repo RepoRef, commentID int64) error
	CreateReaction(ctx context.Context, repo RepoRef, commentID int64, reaction string) error
	GetPermissionLevel(ctx context.Context, repo RepoRef, username string) (string, error)
	GetIssue(ctx context.Context, repo RepoRef, number int) (Issue, error)
	GetPullRequest(ctx context.Context, repo RepoRef, number int) (PullRequest, error)
	ListInstallationRepositories(ctx context.Context, installationID int64) ([]RepoRef, error)
}

type TransferRequest struct {
	Amount         Money
	Destination    string
	ReferenceID    string
	IdempotencyKey string
}

type Transfer struct {
	ID string
}

type PaymentGateway interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
