// Package command turns free-text comment bodies into structured bounty
// commands.
package command

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionCreate    Action = "create"
	ActionSubmit    Action = "submit"
	ActionUnsubmit  Action = "unsubmit"
	ActionApprove   Action = "approve"
	ActionUnapprove Action = "unapprove"
	ActionReapprove Action = "reapprove"
	ActionMerge     Action = "merge"
	ActionMove      Action = "move"
)

const DefaultBotUsername = "bountybot"

var actions = map[string]Action{
	"create":    ActionCreate,
	"submit":    ActionSubmit,
	"unsubmit":  ActionUnsubmit,
	"approve":   ActionApprove,
	"unapprove": ActionUnapprove,
	"reapprove": ActionReapprove,
	"merge":     ActionMerge,
	"move":      ActionMove,
}

// MaintainerOnly reports whether the action requires maintainer access.
func (a Action) MaintainerOnly() bool {
	switch a {
	case ActionCreate, ActionApprove, ActionUnapprove, ActionReapprove, ActionMerge, ActionMove:
		return true
	default:
		return false
	}
}

// Command is a parsed bot command. A non-empty Problem marks arguments the
// parser could not make sense of.
type Command struct {
	Action      Action
	Amount      *decimal.Decimal
	Currency    string
	PRNumber    *int
	TargetIssue *int
	Description string
	Raw         string
	Problem     string
}

func (c Command) Invalid() bool {
	return strings.TrimSpace(c.Problem) != ""
}

func (c Command) PR() int {
	if c.PRNumber == nil {
		return 0
	}
	return *c.PRNumber
}

var (
	slashPattern    = regexp.MustCompile(`^/([A-Za-z]+)\b(.*)$`)
	issueRefPattern = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)\s+#(\d+)\b`)
	currencySymbols = map[string]string{"$": "USD", "€": "EUR", "£": "GBP"}
)

type Parser struct {
	botUsername    string
	mentionPattern *regexp.Regexp
}

func NewParser(botUsername string) *Parser {
	botUsername = strings.TrimPrefix(strings.TrimSpace(botUsername), "@")
	if botUsername == "" {
		botUsername = DefaultBotUsername
	}
	return &Parser{
		botUsername:    botUsername,
		mentionPattern: regexp.MustCompile(`(?i)(?:^|\s)@` + regexp.QuoteMeta(botUsername) + `[\s,:]+/?([A-Za-z]+)\b(.*)$`),
	}
}

var defaultParser = NewParser(DefaultBotUsername)

// Parse extracts the first command in body using the default bot name.
func Parse(body string) *Command {
	return defaultParser.Parse(body)
}

// Parse returns the first recognised command in body, or nil when the text
// holds no command. It never panics on malformed input.
func (p *Parser) Parse(body string) *Command {
	if p == nil {
		p = defaultParser
	}
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ">") {
			continue
		}
		verb, rest, ok := p.match(line)
		if !ok {
			continue
		}
		action, known := actions[strings.ToLower(verb)]
		if !known {
			continue
		}
		cmd := parseArguments(action, strings.Fields(rest))
		cmd.Raw = line
		return &cmd
	}
	return nil
}

// ParseOnPullRequest parses a comment posted on a pull request; a missing PR
// number defaults to the pull request itself.
func (p *Parser) ParseOnPullRequest(body string, prNumber int) *Command {
	cmd := p.Parse(body)
	if cmd == nil || prNumber <= 0 {
		return cmd
	}
	switch cmd.Action {
	case ActionSubmit, ActionUnsubmit, ActionApprove, ActionUnapprove, ActionReapprove, ActionMerge:
		if cmd.PRNumber == nil {
			cmd.PRNumber = &prNumber
		}
	}
	return cmd
}

// SubmitMarker reports whether a pull request body claims a bounty, and for
// which issue. The issue is the submit argument or, failing that, a closing
// keyword reference such as "fixes #42".
func (p *Parser) SubmitMarker(body string) (int, string, bool) {
	cmd := p.Parse(body)
	if cmd == nil || cmd.Action != ActionSubmit {
		return 0, "", false
	}
	if cmd.PRNumber != nil {
		return *cmd.PRNumber, cmd.Description, true
	}
	if issue, ok := ReferencedIssue(body); ok {
		return issue, cmd.Description, true
	}
	return 0, "", false
}

// ReferencedIssue finds the first closing keyword issue reference in body.
func ReferencedIssue(body string) (int, bool) {
	match := issueRefPattern.FindStringSubmatch(body)
	if len(match) < 2 {
		return 0, false
	}
	number, err := strconv.Atoi(match[1])
	if err != nil || number <= 0 {
		return 0, false
	}
	return number, true
}

func (p *Parser) match(line string) (string, string, bool) {
	if match := slashPattern.FindStringSubmatch(line); len(match) == 3 {
		return match[1], match[2], true
	}
	if match := p.mentionPattern.FindStringSubmatch(line); len(match) == 3 {
		return match[1], match[2], true
	}
	return "", "", false
}

func parseArguments(action Action, args []string) Command {
	cmd := Command{Action: action}
	switch action {
	case ActionCreate:
		parseCreate(&cmd, args)
	case ActionSubmit:
		if len(args) > 0 {
			if number, ok := parseNumber(args[0]); ok {
				cmd.PRNumber = &number
				args = args[1:]
			}
		}
		cmd.Description = strings.TrimSpace(strings.Join(args, " "))
	case ActionMove:
		if len(args) == 0 {
			cmd.Problem = "target issue number is required"
			return cmd
		}
		number, ok := parseNumber(args[0])
		if !ok {
			cmd.Problem = "target issue number must be a positive integer"
			return cmd
		}
		cmd.TargetIssue = &number
	default:
		if len(args) == 0 {
			return cmd
		}
		number, ok := parseNumber(args[0])
		if !ok {
			cmd.Problem = "pull request number must be a positive integer"
			return cmd
		}
		cmd.PRNumber = &number
	}
	return cmd
}

func parseCreate(cmd *Command, args []string) {
	if len(args) == 0 {
		cmd.Problem = "amount is required"
		return
	}
	raw := strings.ReplaceAll(args[0], ",", "")
	for symbol, currency := range currencySymbols {
		if strings.HasPrefix(raw, symbol) {
			raw = strings.TrimPrefix(raw, symbol)
			cmd.Currency = currency
			break
		}
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		cmd.Problem = "amount must be a number"
		return
	}
	cmd.Amount = &amount
	if len(args) > 1 {
		cmd.Currency = strings.ToUpper(strings.TrimSpace(args[1]))
	}
	if cmd.Currency == "" {
		cmd.Problem = "currency is required"
	}
}

func parseNumber(raw string) (int, bool) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "#")
	number, err := strconv.Atoi(raw)
	if err != nil || number <= 0 {
		return 0, false
	}
	return number, true
}
