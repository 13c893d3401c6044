package command

import (
	"testing"

	"github.com/goliatone/go-bounties/core"
	goerrors "github.com/goliatone/go-errors"
)

func validMessage(body string) Message {
	return Message{
		Command:     *Parse(body),
		Repo:        core.RepoRef{Owner: "acme", Name: "widgets"},
		IssueNumber: 42,
		Actor:       Actor{Login: "maintainer"},
		Limits:      core.DefaultMoneyLimits(),
	}
}

func TestMessage_TypeFollowsAction(t *testing.T) {
	if got := validMessage("/approve 47").Type(); got != "bounties.command.approve" {
		t.Fatalf("unexpected type %q", got)
	}
}

func TestMessage_ValidateAmountLimits(t *testing.T) {
	if err := ValidateMessage(validMessage("/create 500 USD")); err != nil {
		t.Fatalf("expected valid create, got %v", err)
	}

	err := ValidateMessage(validMessage("/create 2000000 USD"))
	if err == nil {
		t.Fatalf("expected amount above limit to be rejected")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.ErrorValidationFailed {
		t.Fatalf("expected %q text code, got %q", core.ErrorValidationFailed, rich.TextCode)
	}

	if err := ValidateMessage(validMessage("/create 10 JPY")); err == nil {
		t.Fatalf("expected unsupported currency to be rejected")
	}
}

func TestMessage_ValidateRequiresContext(t *testing.T) {
	msg := validMessage("/approve 47")
	msg.Actor = Actor{}
	if err := msg.Validate(); err == nil {
		t.Fatalf("expected missing actor to fail")
	}

	msg = validMessage("/approve")
	if err := msg.Validate(); err == nil {
		t.Fatalf("expected approve without pr number to fail")
	}

	msg = validMessage("/move 42")
	if err := msg.Validate(); err == nil {
		t.Fatalf("expected move to the same issue to fail")
	}

	msg = validMessage("/approve soon")
	if err := msg.Validate(); !core.IsTextCode(err, core.ErrorValidationFailed) {
		t.Fatalf("expected parser problem to surface as validation error, got %v", err)
	}
}
