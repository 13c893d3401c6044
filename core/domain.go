package core

import (
	"fmt"
	"strings"
	"time"
)

type BountyStatus string

const (
	BountyStatusDraft      BountyStatus = "draft"
	BountyStatusOpen       BountyStatus = "open"
	BountyStatusInProgress BountyStatus = "in_progress"
	BountyStatusCompleted  BountyStatus = "completed"
	BountyStatusCancelled  BountyStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusHeld     PaymentStatus = "held"
	PaymentStatusReleased PaymentStatus = "released"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "pending"
	SubmissionStatusApproved SubmissionStatus = "approved"
)

type PayoutStatus string

const PayoutStatusPaid PayoutStatus = "paid"

type TransactionKind string

const TransactionKindPayout TransactionKind = "payout"

type InstallationStatus string

const (
	InstallationStatusActive  InstallationStatus = "active"
	InstallationStatusDeleted InstallationStatus = "deleted"
)

// Permission levels reported by the forge collaborator lookup.
const (
	PermissionAdmin    = "admin"
	PermissionMaintain = "maintain"
	PermissionWrite    = "write"
	PermissionTriage   = "triage"
	PermissionRead     = "read"
	PermissionNone     = "none"
)

type RepoRef struct {
	Owner string
	Name  string
}

func ParseRepoRef(fullName string) (RepoRef, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(fullName), "/")
	ref := RepoRef{Owner: strings.TrimSpace(owner), Name: strings.TrimSpace(name)}
	if !ok {
		return RepoRef{}, fmt.Errorf("core: repository %q must be owner/name", fullName)
	}
	if err := ref.Validate(); err != nil {
		return RepoRef{}, err
	}
	return ref, nil
}

func (r RepoRef) Validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return fmt.Errorf("core: repository owner is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("core: repository name is required")
	}
	return nil
}

func (r RepoRef) FullName() string {
	if r.Owner == "" && r.Name == "" {
		return ""
	}
	return r.Owner + "/" + r.Name
}

func (r RepoRef) IsZero() bool {
	return strings.TrimSpace(r.Owner) == "" && strings.TrimSpace(r.Name) == ""
}

// Bounty is a monetary reward attached to one forge issue.
type Bounty struct {
	ID            string
	Repo          RepoRef
	IssueNumber   *int
	IssueTitle    string
	IssueBody     string
	Amount        Money
	Status        BountyStatus
	PaymentStatus PaymentStatus
	TransferID    *string
	CommentID     *int64
	AssignedToID  *string
	CreatorLogin  string

	// Version increments on every stored write. Updates must carry the
	// version they read.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOrphaned reports whether the forge linkage was cleared after the issue was deleted.
func (b Bounty) IsOrphaned() bool {
	return b.IssueNumber == nil
}

func (b Bounty) IsFunded() bool {
	return b.PaymentStatus == PaymentStatusHeld
}

func (b Bounty) IsReleased() bool {
	return b.PaymentStatus == PaymentStatusReleased
}

func (b Bounty) AcceptsSubmissions() bool {
	switch b.Status {
	case BountyStatusInProgress, BountyStatusCompleted, BountyStatusCancelled:
		return false
	default:
		return true
	}
}

func (b Bounty) IsTerminal() bool {
	return b.Status == BountyStatusCompleted || b.Status == BountyStatusCancelled
}

func (b Bounty) Issue() int {
	if b.IssueNumber == nil {
		return 0
	}
	return *b.IssueNumber
}

// CheckBountyInvariants validates the cross-field rules every persisted bounty must hold.
func CheckBountyInvariants(b Bounty) error {
	if b.PaymentStatus == PaymentStatusReleased {
		if b.TransferID == nil || strings.TrimSpace(*b.TransferID) == "" {
			return fmt.Errorf("core: bounty %q released without transfer id", b.ID)
		}
		if b.Status != BountyStatusCompleted {
			return fmt.Errorf("core: bounty %q released while status is %s", b.ID, b.Status)
		}
	}
	if b.AssignedToID != nil {
		switch b.Status {
		case BountyStatusInProgress, BountyStatusCompleted:
		default:
			return fmt.Errorf("core: bounty %q assigned while status is %s", b.ID, b.Status)
		}
	}
	return nil
}

// CheckBountyWrite guards a store update of current with next. The write must
// be based on the stored version, and a released payment never changes.
func CheckBountyWrite(current Bounty, next Bounty) error {
	if next.Version != current.Version {
		return NewStaleStateError(current.ID)
	}
	if current.IsReleased() && (!next.IsReleased() || !sameString(current.TransferID, next.TransferID)) {
		return NewConflictError(ReasonAlreadyReleased, "this bounty has already been paid out")
	}
	return nil
}

// ApplyRelease copies the payout fields of released onto the stored bounty,
// keeping any other field written since released was read.
func ApplyRelease(current Bounty, released Bounty) Bounty {
	next := current
	next.Status = released.Status
	next.PaymentStatus = released.PaymentStatus
	next.TransferID = released.TransferID
	next.AssignedToID = released.AssignedToID
	return next
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type Submission struct {
	ID               string
	BountyID         string
	ContributorID    string
	ContributorLogin string
	PRNumber         int
	HeadSHA          string
	Description      string
	Status           SubmissionStatus
	ReviewedAt       *time.Time
	PaidAt           *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Contributor is a forge user known to the platform. A contributor can
// receive payouts once a connected account is onboarded.
type Contributor struct {
	ID              string
	Login           string
	ForgeUserID     int64
	StripeAccountID string
	PayoutsEnabled  bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (c Contributor) PayoutCapable() bool {
	return c.PayoutsEnabled && strings.TrimSpace(c.StripeAccountID) != ""
}

type Payout struct {
	ID            string
	BountyID      string
	SubmissionID  string
	ContributorID string
	Amount        Money
	TransferID    string
	Status        PayoutStatus
	CreatedAt     time.Time
}

type Transaction struct {
	ID        string
	BountyID  string
	Kind      TransactionKind
	Amount    Money
	Reference string
	CreatedAt time.Time
}

type Installation struct {
	ID             string
	InstallationID int64
	AccountLogin   string
	Repositories   []string
	Status         InstallationStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PayoutCompletion is persisted atomically once a transfer succeeded.
type PayoutCompletion struct {
	Bounty      Bounty
	Submission  Submission
	Payout      Payout
	Transaction Transaction
}

type BountyFilter struct {
	Repo   RepoRef
	Status BountyStatus
	Limit  int
}

func IntPtr(value int) *int {
	return &value
}

func StringPtr(value string) *string {
	return &value
}

func Int64Ptr(value int64) *int64 {
	return &value
}
