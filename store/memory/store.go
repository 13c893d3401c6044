// Package memory provides an in-process core.Store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-bounties/core"
	"github.com/google/uuid"
)

type Store struct {
	mu            sync.RWMutex
	bounties      map[string]core.Bounty
	submissions   map[string]core.Submission
	contributors  map[string]core.Contributor
	payouts       map[string]core.Payout
	transactions  map[string]core.Transaction
	installations map[int64]core.Installation
	Now           func() time.Time
}

func NewStore() *Store {
	return &Store{
		bounties:      map[string]core.Bounty{},
		submissions:   map[string]core.Submission{},
		contributors:  map[string]core.Contributor{},
		payouts:       map[string]core.Payout{},
		transactions:  map[string]core.Transaction{},
		installations: map[int64]core.Installation{},
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Store) CreateBounty(_ context.Context, bounty core.Bounty) (core.Bounty, error) {
	if err := bounty.Repo.Validate(); err != nil {
		return core.Bounty{}, core.NewValidationError(err.Error(), "repo")
	}
	if err := core.CheckBountyInvariants(bounty); err != nil {
		return core.Bounty{}, core.NewValidationError(err.Error(), "bounty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bounty.ID == "" {
		bounty.ID = uuid.NewString()
	}
	if _, exists := s.bounties[bounty.ID]; exists {
		return core.Bounty{}, core.NewConflictError(core.ReasonAlreadyExists, "bounty id already exists")
	}
	if err := s.checkIssueUniqueLocked(bounty); err != nil {
		return core.Bounty{}, err
	}
	now := s.now()
	if bounty.CreatedAt.IsZero() {
		bounty.CreatedAt = now
	}
	bounty.UpdatedAt = now
	bounty.Version = 1
	s.bounties[bounty.ID] = cloneBounty(bounty)
	return cloneBounty(bounty), nil
}

func (s *Store) GetBounty(_ context.Context, id string) (core.Bounty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bounty, ok := s.bounties[strings.TrimSpace(id)]
	if !ok {
		return core.Bounty{}, core.NewNotFoundError("bounty", fmt.Sprintf("bounty %q not found", id))
	}
	return cloneBounty(bounty), nil
}

func (s *Store) FindBountyByIssue(_ context.Context, repo core.RepoRef, issueNumber int) (core.Bounty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, bounty := range s.bounties {
		if bounty.IsOrphaned() || bounty.Issue() != issueNumber {
			continue
		}
		if sameRepo(bounty.Repo, repo) {
			return cloneBounty(bounty), nil
		}
	}
	return core.Bounty{}, core.NewNotFoundError("bounty", fmt.Sprintf("no bounty for %s#%d", repo.FullName(), issueNumber))
}

func (s *Store) UpdateBounty(ctx context.Context, bounty core.Bounty) (core.Bounty, error) {
	return s.UpdateBountyState(ctx, bounty, nil)
}

func (s *Store) UpdateBountyState(_ context.Context, bounty core.Bounty, submissions []core.Submission) (core.Bounty, error) {
	if err := core.CheckBountyInvariants(bounty); err != nil {
		return core.Bounty{}, core.NewValidationError(err.Error(), "bounty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.bounties[bounty.ID]
	if !ok {
		return core.Bounty{}, core.NewNotFoundError("bounty", fmt.Sprintf("bounty %q not found", bounty.ID))
	}
	if err := core.CheckBountyWrite(existing, bounty); err != nil {
		return core.Bounty{}, err
	}
	if err := s.checkIssueUniqueLocked(bounty); err != nil {
		return core.Bounty{}, err
	}
	for _, submission := range submissions {
		current, ok := s.submissions[submission.ID]
		if !ok || current.BountyID != bounty.ID {
			return core.Bounty{}, core.NewNotFoundError("submission", fmt.Sprintf("submission %q not found", submission.ID))
		}
	}
	now := s.now()
	for _, submission := range submissions {
		submission.CreatedAt = s.submissions[submission.ID].CreatedAt
		submission.UpdatedAt = now
		s.submissions[submission.ID] = cloneSubmission(submission)
	}
	bounty.CreatedAt = existing.CreatedAt
	bounty.UpdatedAt = now
	bounty.Version = existing.Version + 1
	s.bounties[bounty.ID] = cloneBounty(bounty)
	return cloneBounty(bounty), nil
}

// DeleteBounty removes a bounty along with its submissions.
func (s *Store) DeleteBounty(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bounties[id]; !ok {
		return core.NewNotFoundError("bounty", fmt.Sprintf("bounty %q not found", id))
	}
	delete(s.bounties, id)
	for key, submission := range s.submissions {
		if submission.BountyID == id {
			delete(s.submissions, key)
		}
	}
	return nil
}

func (s *Store) ListBounties(_ context.Context, filter core.BountyFilter) ([]core.Bounty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Bounty, 0, len(s.bounties))
	for _, bounty := range s.bounties {
		if !filter.Repo.IsZero() && !sameRepo(bounty.Repo, filter.Repo) {
			continue
		}
		if filter.Status != "" && bounty.Status != filter.Status {
			continue
		}
		out = append(out, cloneBounty(bounty))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreateSubmission(_ context.Context, submission core.Submission) (core.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bounties[submission.BountyID]; !ok {
		return core.Submission{}, core.NewNotFoundError("bounty", fmt.Sprintf("bounty %q not found", submission.BountyID))
	}
	for _, existing := range s.submissions {
		if existing.BountyID == submission.BountyID && existing.PRNumber == submission.PRNumber {
			return core.Submission{}, core.NewConflictError(
				core.ReasonAlreadySubmitted,
				fmt.Sprintf("PR #%d is already submitted for this bounty", submission.PRNumber),
			)
		}
	}
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	now := s.now()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now
	s.submissions[submission.ID] = cloneSubmission(submission)
	return cloneSubmission(submission), nil
}

func (s *Store) GetSubmission(_ context.Context, id string) (core.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	submission, ok := s.submissions[id]
	if !ok {
		return core.Submission{}, core.NewNotFoundError("submission", fmt.Sprintf("submission %q not found", id))
	}
	return cloneSubmission(submission), nil
}

func (s *Store) FindSubmissionByPR(_ context.Context, bountyID string, prNumber int) (core.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, submission := range s.submissions {
		if submission.BountyID == bountyID && submission.PRNumber == prNumber {
			return cloneSubmission(submission), nil
		}
	}
	return core.Submission{}, core.NewNotFoundError("submission", fmt.Sprintf("no submission for PR #%d", prNumber))
}

func (s *Store) ListSubmissions(_ context.Context, bountyID string) ([]core.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.Submission{}
	for _, submission := range s.submissions {
		if submission.BountyID == bountyID {
			out = append(out, cloneSubmission(submission))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PRNumber < out[j].PRNumber })
	return out, nil
}

func (s *Store) UpdateSubmission(_ context.Context, submission core.Submission) (core.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.submissions[submission.ID]
	if !ok {
		return core.Submission{}, core.NewNotFoundError("submission", fmt.Sprintf("submission %q not found", submission.ID))
	}
	submission.CreatedAt = existing.CreatedAt
	submission.UpdatedAt = s.now()
	s.submissions[submission.ID] = cloneSubmission(submission)
	return cloneSubmission(submission), nil
}

func (s *Store) DeleteSubmission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[id]; !ok {
		return core.NewNotFoundError("submission", fmt.Sprintf("submission %q not found", id))
	}
	delete(s.submissions, id)
	return nil
}

func (s *Store) GetContributorByLogin(_ context.Context, login string) (core.Contributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contributor, ok := s.contributors[strings.ToLower(strings.TrimSpace(login))]
	if !ok {
		return core.Contributor{}, core.NewNotFoundError("contributor", fmt.Sprintf("contributor %q not found", login))
	}
	return contributor, nil
}

// UpsertContributor keys contributors by login. Payout account fields are
// only overwritten when the incoming record carries them.
func (s *Store) UpsertContributor(_ context.Context, contributor core.Contributor) (core.Contributor, error) {
	key := strings.ToLower(strings.TrimSpace(contributor.Login))
	if key == "" {
		return core.Contributor{}, core.NewValidationError("contributor login is required", "login")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.contributors[key]; ok {
		contributor.ID = existing.ID
		contributor.CreatedAt = existing.CreatedAt
		if contributor.ForgeUserID == 0 {
			contributor.ForgeUserID = existing.ForgeUserID
		}
		if contributor.StripeAccountID == "" {
			contributor.StripeAccountID = existing.StripeAccountID
			contributor.PayoutsEnabled = existing.PayoutsEnabled
		}
	} else {
		if contributor.ID == "" {
			contributor.ID = uuid.NewString()
		}
		contributor.CreatedAt = now
	}
	contributor.UpdatedAt = now
	s.contributors[key] = contributor
	return contributor, nil
}

// CompletePayout applies every row of a completed transfer or none of them.
func (s *Store) CompletePayout(_ context.Context, completion core.PayoutCompletion) (core.Payout, error) {
	if err := core.CheckBountyInvariants(completion.Bounty); err != nil {
		return core.Payout{}, core.NewValidationError(err.Error(), "bounty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.bounties[completion.Bounty.ID]
	if !ok {
		return core.Payout{}, core.NewNotFoundError("bounty", fmt.Sprintf("bounty %q not found", completion.Bounty.ID))
	}
	if current.IsReleased() {
		return core.Payout{}, core.NewConflictError(core.ReasonAlreadyReleased, "this bounty has already been paid out")
	}
	if _, ok := s.submissions[completion.Submission.ID]; !ok {
		return core.Payout{}, core.NewNotFoundError("submission", fmt.Sprintf("submission %q not found", completion.Submission.ID))
	}
	for _, payout := range s.payouts {
		if payout.BountyID == completion.Bounty.ID {
			return core.Payout{}, core.NewConflictError(core.ReasonAlreadyReleased, "a payout already exists for this bounty")
		}
	}

	now := s.now()
	payout := completion.Payout
	if payout.ID == "" {
		payout.ID = uuid.NewString()
	}
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = now
	}
	transaction := completion.Transaction
	if transaction.ID == "" {
		transaction.ID = uuid.NewString()
	}
	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = now
	}
	bounty := core.ApplyRelease(current, completion.Bounty)
	bounty.UpdatedAt = now
	bounty.Version = current.Version + 1
	submission := s.submissions[completion.Submission.ID]
	submission.PaidAt = completion.Submission.PaidAt
	submission.UpdatedAt = now

	s.bounties[bounty.ID] = cloneBounty(bounty)
	s.submissions[submission.ID] = cloneSubmission(submission)
	s.payouts[payout.ID] = payout
	s.transactions[transaction.ID] = transaction
	return payout, nil
}

func (s *Store) ListPayouts(_ context.Context, bountyID string) ([]core.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.Payout{}
	for _, payout := range s.payouts {
		if bountyID == "" || payout.BountyID == bountyID {
			out = append(out, payout)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListTransactions(_ context.Context, bountyID string) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.Transaction{}
	for _, transaction := range s.transactions {
		if bountyID == "" || transaction.BountyID == bountyID {
			out = append(out, transaction)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpsertInstallation(_ context.Context, installation core.Installation) (core.Installation, error) {
	if installation.InstallationID <= 0 {
		return core.Installation{}, core.NewValidationError("installation id is required", "installation_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.installations[installation.InstallationID]; ok {
		installation.ID = existing.ID
		installation.CreatedAt = existing.CreatedAt
	} else {
		if installation.ID == "" {
			installation.ID = uuid.NewString()
		}
		installation.CreatedAt = now
	}
	installation.UpdatedAt = now
	installation.Repositories = append([]string(nil), installation.Repositories...)
	s.installations[installation.InstallationID] = installation
	return installation, nil
}

func (s *Store) GetInstallation(_ context.Context, installationID int64) (core.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	installation, ok := s.installations[installationID]
	if !ok {
		return core.Installation{}, core.NewNotFoundError("installation", fmt.Sprintf("installation %d not found", installationID))
	}
	installation.Repositories = append([]string(nil), installation.Repositories...)
	return installation, nil
}

func (s *Store) checkIssueUniqueLocked(bounty core.Bounty) error {
	if bounty.IsOrphaned() {
		return nil
	}
	for id, existing := range s.bounties {
		if id == bounty.ID || existing.IsOrphaned() {
			continue
		}
		if existing.Issue() == bounty.Issue() && sameRepo(existing.Repo, bounty.Repo) {
			return core.NewConflictError(
				core.ReasonAlreadyExists,
				fmt.Sprintf("issue #%d already has a bounty", bounty.Issue()),
			)
		}
	}
	return nil
}

func sameRepo(a, b core.RepoRef) bool {
	return strings.EqualFold(a.Owner, b.Owner) && strings.EqualFold(a.Name, b.Name)
}

func cloneBounty(b core.Bounty) core.Bounty {
	out := b
	if b.IssueNumber != nil {
		out.IssueNumber = core.IntPtr(*b.IssueNumber)
	}
	if b.TransferID != nil {
		out.TransferID = core.StringPtr(*b.TransferID)
	}
	if b.CommentID != nil {
		out.CommentID = core.Int64Ptr(*b.CommentID)
	}
	if b.AssignedToID != nil {
		out.AssignedToID = core.StringPtr(*b.AssignedToID)
	}
	return out
}

func cloneSubmission(s core.Submission) core.Submission {
	out := s
	if s.ReviewedAt != nil {
		value := *s.ReviewedAt
		out.ReviewedAt = &value
	}
	if s.PaidAt != nil {
		value := *s.PaidAt
		out.PaidAt = &value
	}
	return out
}

var _ core.Store = (*Store)(nil)
