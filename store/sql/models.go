package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
	"github.com/uptrace/bun"
)

type bountyRecord struct {
	bun.BaseModel `bun:"table:bounties,alias:b"`

	ID            string    `bun:"id,pk"`
	RepoOwner     string    `bun:"repo_owner,notnull"`
	RepoName      string    `bun:"repo_name,notnull"`
	RepoKey       string    `bun:"repo_key,notnull"`
	IssueNumber   *int      `bun:"issue_number"`
	IssueTitle    string    `bun:"issue_title,notnull"`
	IssueBody     string    `bun:"issue_body,notnull"`
	AmountMinor   int64     `bun:"amount_minor,notnull"`
	Currency      string    `bun:"currency,notnull"`
	Status        string    `bun:"status,notnull"`
	PaymentStatus string    `bun:"payment_status,notnull"`
	TransferID    *string   `bun:"transfer_id"`
	CommentID     *int64    `bun:"comment_id"`
	AssignedToID  *string   `bun:"assigned_to_id"`
	CreatorLogin  string    `bun:"creator_login,notnull"`
	Version       int64     `bun:"version,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type submissionRecord struct {
	bun.BaseModel `bun:"table:bounty_submissions,alias:bs"`

	ID               string     `bun:"id,pk"`
	BountyID         string     `bun:"bounty_id,notnull"`
	ContributorID    string     `bun:"contributor_id,notnull"`
	ContributorLogin string     `bun:"contributor_login,notnull"`
	PRNumber         int        `bun:"pr_number,notnull"`
	HeadSHA          string     `bun:"head_sha,notnull"`
	Description      string     `bun:"description,notnull"`
	Status           string     `bun:"status,notnull"`
	ReviewedAt       *time.Time `bun:"reviewed_at,nullzero"`
	PaidAt           *time.Time `bun:"paid_at,nullzero"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type contributorRecord struct {
	bun.BaseModel `bun:"table:contributors,alias:c"`

	ID              string    `bun:"id,pk"`
	Login           string    `bun:"login,notnull"`
	LoginKey        string    `bun:"login_key,notnull"`
	ForgeUserID     int64     `bun:"forge_user_id,notnull"`
	StripeAccountID string    `bun:"stripe_account_id,notnull"`
	PayoutsEnabled  bool      `bun:"payouts_enabled,notnull"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type payoutRecord struct {
	bun.BaseModel `bun:"table:bounty_payouts,alias:bp"`

	ID            string    `bun:"id,pk"`
	BountyID      string    `bun:"bounty_id,notnull"`
	SubmissionID  string    `bun:"submission_id,notnull"`
	ContributorID string    `bun:"contributor_id,notnull"`
	AmountMinor   int64     `bun:"amount_minor,notnull"`
	Currency      string    `bun:"currency,notnull"`
	TransferID    string    `bun:"transfer_id,notnull"`
	Status        string    `bun:"status,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type transactionRecord struct {
	bun.BaseModel `bun:"table:bounty_transactions,alias:bt"`

	ID          string    `bun:"id,pk"`
	BountyID    string    `bun:"bounty_id,notnull"`
	Kind        string    `bun:"kind,notnull"`
	AmountMinor int64     `bun:"amount_minor,notnull"`
	Currency    string    `bun:"currency,notnull"`
	Reference   string    `bun:"reference,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type installationRecord struct {
	bun.BaseModel `bun:"table:forge_installations,alias:fi"`

	ID             string    `bun:"id,pk"`
	InstallationID int64     `bun:"installation_id,notnull"`
	AccountLogin   string    `bun:"account_login,notnull"`
	Repositories   []string  `bun:"repositories,type:jsonb,notnull"`
	Status         string    `bun:"status,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type coordinationKeyRecord struct {
	bun.BaseModel `bun:"table:coordination_keys,alias:ck"`

	KeyName   string     `bun:"key_name,pk"`
	Value     string     `bun:"value,notnull"`
	ExpiresAt *time.Time `bun:"expires_at,nullzero"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:webhook_deliveries,alias:wd"`

	ID            string     `bun:"id,pk"`
	ClaimID       string     `bun:"claim_id,notnull"`
	ProviderID    string     `bun:"provider_id,notnull"`
	DeliveryID    string     `bun:"delivery_id,notnull"`
	EventName     string     `bun:"event_name,notnull"`
	Status        string     `bun:"status,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	LastError     string     `bun:"last_error,notnull"`
	LeaseUntil    *time.Time `bun:"lease_until,nullzero"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func repoKey(repo core.RepoRef) string {
	return strings.ToLower(strings.TrimSpace(repo.Owner)) + "/" + strings.ToLower(strings.TrimSpace(repo.Name))
}

func loginKey(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

func newBountyRecord(bounty core.Bounty) *bountyRecord {
	record := &bountyRecord{
		ID:            strings.TrimSpace(bounty.ID),
		RepoOwner:     strings.TrimSpace(bounty.Repo.Owner),
		RepoName:      strings.TrimSpace(bounty.Repo.Name),
		RepoKey:       repoKey(bounty.Repo),
		IssueTitle:    bounty.IssueTitle,
		IssueBody:     bounty.IssueBody,
		AmountMinor:   bounty.Amount.MinorUnits(),
		Currency:      bounty.Amount.Currency,
		Status:        string(bounty.Status),
		PaymentStatus: string(bounty.PaymentStatus),
		CreatorLogin:  bounty.CreatorLogin,
		Version:       bounty.Version,
		CreatedAt:     bounty.CreatedAt,
		UpdatedAt:     bounty.UpdatedAt,
	}
	if bounty.IssueNumber != nil {
		record.IssueNumber = core.IntPtr(*bounty.IssueNumber)
	}
	if bounty.TransferID != nil {
		record.TransferID = core.StringPtr(*bounty.TransferID)
	}
	if bounty.CommentID != nil {
		record.CommentID = core.Int64Ptr(*bounty.CommentID)
	}
	if bounty.AssignedToID != nil {
		record.AssignedToID = core.StringPtr(*bounty.AssignedToID)
	}
	return record
}

func (r *bountyRecord) toDomain() core.Bounty {
	if r == nil {
		return core.Bounty{}
	}
	bounty := core.Bounty{
		ID:            r.ID,
		Repo:          core.RepoRef{Owner: r.RepoOwner, Name: r.RepoName},
		IssueTitle:    r.IssueTitle,
		IssueBody:     r.IssueBody,
		Amount:        core.MoneyFromMinorUnits(r.AmountMinor, r.Currency),
		Status:        core.BountyStatus(r.Status),
		PaymentStatus: core.PaymentStatus(r.PaymentStatus),
		CreatorLogin:  r.CreatorLogin,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.IssueNumber != nil {
		bounty.IssueNumber = core.IntPtr(*r.IssueNumber)
	}
	if r.TransferID != nil {
		bounty.TransferID = core.StringPtr(*r.TransferID)
	}
	if r.CommentID != nil {
		bounty.CommentID = core.Int64Ptr(*r.CommentID)
	}
	if r.AssignedToID != nil {
		bounty.AssignedToID = core.StringPtr(*r.AssignedToID)
	}
	return bounty
}

func newSubmissionRecord(submission core.Submission) *submissionRecord {
	return &submissionRecord{
		ID:               strings.TrimSpace(submission.ID),
		BountyID:         strings.TrimSpace(submission.BountyID),
		ContributorID:    submission.ContributorID,
		ContributorLogin: submission.ContributorLogin,
		PRNumber:         submission.PRNumber,
		HeadSHA:          submission.HeadSHA,
		Description:      submission.Description,
		Status:           string(submission.Status),
		ReviewedAt:       copyTime(submission.ReviewedAt),
		PaidAt:           copyTime(submission.PaidAt),
		CreatedAt:        submission.CreatedAt,
		UpdatedAt:        submission.UpdatedAt,
	}
}

func (r *submissionRecord) toDomain() core.Submission {
	if r == nil {
		return core.Submission{}
	}
	return core.Submission{
		ID:               r.ID,
		BountyID:         r.BountyID,
		ContributorID:    r.ContributorID,
		ContributorLogin: r.ContributorLogin,
		PRNumber:         r.PRNumber,
		HeadSHA:          r.HeadSHA,
		Description:      r.Description,
		Status:           core.SubmissionStatus(r.Status),
		ReviewedAt:       copyTime(r.ReviewedAt),
		PaidAt:           copyTime(r.PaidAt),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

func (r *contributorRecord) toDomain() core.Contributor {
	if r == nil {
		return core.Contributor{}
	}
	return core.Contributor{
		ID:              r.ID,
		Login:           r.Login,
		ForgeUserID:     r.ForgeUserID,
		StripeAccountID: r.StripeAccountID,
		PayoutsEnabled:  r.PayoutsEnabled,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func (r *payoutRecord) toDomain() core.Payout {
	if r == nil {
		return core.Payout{}
	}
	return core.Payout{
		ID:            r.ID,
		BountyID:      r.BountyID,
		SubmissionID:  r.SubmissionID,
		ContributorID: r.ContributorID,
		Amount:        core.MoneyFromMinorUnits(r.AmountMinor, r.Currency),
		TransferID:    r.TransferID,
		Status:        core.PayoutStatus(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func (r *transactionRecord) toDomain() core.Transaction {
	if r == nil {
		return core.Transaction{}
	}
	return core.Transaction{
		ID:        r.ID,
		BountyID:  r.BountyID,
		Kind:      core.TransactionKind(r.Kind),
		Amount:    core.MoneyFromMinorUnits(r.AmountMinor, r.Currency),
		Reference: r.Reference,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func (r *installationRecord) toDomain() core.Installation {
	if r == nil {
		return core.Installation{}
	}
	return core.Installation{
		ID:             r.ID,
		InstallationID: r.InstallationID,
		AccountLogin:   r.AccountLogin,
		Repositories:   append([]string(nil), r.Repositories...),
		Status:         core.InstallationStatus(r.Status),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func copyTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	out := value.UTC()
	return &out
}
