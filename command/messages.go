package command

import (
	"strings"

	"github.com/goliatone/go-bounties/core"
	gocmd "github.com/goliatone/go-command"
)

const TypePrefix = "bounties.command."

// Actor is the forge user who posted a command.
type Actor struct {
	Login string
	ID    int64
}

// Message is a parsed command together with where and by whom it was issued.
type Message struct {
	Command       Command
	Repo          core.RepoRef
	IssueNumber   int
	IsPullRequest bool
	CommentID     int64
	Actor         Actor
	Limits        core.MoneyLimits
}

func (m Message) Type() string {
	return TypePrefix + string(m.Command.Action)
}

func (m Message) Validate() error {
	if _, known := actions[string(m.Command.Action)]; !known {
		return commandValidationError("action", "unknown command")
	}
	if err := m.Repo.Validate(); err != nil {
		return commandWrapValidation(err, "repository is invalid")
	}
	if m.IssueNumber <= 0 {
		return commandValidationError("issue_number", "issue number is required")
	}
	if strings.TrimSpace(m.Actor.Login) == "" {
		return commandValidationError("actor", "actor login is required")
	}
	if m.Command.Invalid() {
		return commandValidationError(problemField(m.Command.Action), m.Command.Problem)
	}
	switch m.Command.Action {
	case ActionCreate:
		if m.Command.Amount == nil {
			return commandValidationError("amount", "amount is required")
		}
		return m.Limits.Validate(core.NewMoney(*m.Command.Amount, m.Command.Currency))
	case ActionMove:
		if m.Command.TargetIssue == nil {
			return commandValidationError("target_issue", "target issue number is required")
		}
		if *m.Command.TargetIssue == m.IssueNumber {
			return commandValidationError("target_issue", "target issue must differ from the current issue")
		}
	case ActionApprove, ActionUnapprove, ActionReapprove, ActionMerge, ActionUnsubmit:
		if m.Command.PRNumber == nil {
			return commandValidationError("pr_number", "pull request number is required")
		}
	}
	return nil
}

// Money returns the create command amount.
func (m Message) Money() core.Money {
	if m.Command.Amount == nil {
		return core.Money{}
	}
	return core.NewMoney(*m.Command.Amount, m.Command.Currency)
}

// ValidateMessage runs the message checks and then the go-command contract.
// Domain validation errors keep their text code.
func ValidateMessage(msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return gocmd.ValidateMessage(msg)
}

func problemField(action Action) string {
	switch action {
	case ActionCreate:
		return "amount"
	case ActionMove:
		return "target_issue"
	default:
		return "pr_number"
	}
}

var _ gocmd.Message = Message{}
