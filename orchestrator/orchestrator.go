// Package orchestrator routes classified webhook events through the command
// grammar, the permission gate, the state machines and the payment
// coordinator, and reports every outcome back on the forge.
package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/command"
	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/forge"
	"github.com/goliatone/go-bounties/lifecycle"
	"github.com/goliatone/go-bounties/notify"
	"github.com/goliatone/go-bounties/payment"
	"github.com/goliatone/go-bounties/ratelimit"
	"github.com/goliatone/go-bounties/webhooks"
	gocmd "github.com/goliatone/go-command"
	"github.com/google/uuid"
)

type PermissionChecker interface {
	HasMaintainerAccess(ctx context.Context, repo core.RepoRef, username string) bool
}

type RateLimiter interface {
	Enforce(ctx context.Context, identifier string, operation string) (ratelimit.Decision, error)
}

type PayoutReleaser interface {
	ReleasePayout(ctx context.Context, req payment.PayoutRequest) (payment.PayoutResult, error)
}

// Dependencies are the collaborators built once at process start. Store,
// Forge and Payments are required; a nil Permissions falls back to a gate over
// Forge and a nil Notifier posts directly on Forge.
type Dependencies struct {
	Store       core.Store
	Forge       core.Forge
	Permissions PermissionChecker
	Limiter     RateLimiter
	Payments    PayoutReleaser
	Notifier    notify.Notifier
}

type Config struct {
	BotUsername              string
	Limits                   core.MoneyLimits
	MaxPendingPerContributor int
}

// ConfigFrom reads the orchestrator settings out of the service config.
func ConfigFrom(cfg core.Config) Config {
	return Config{
		BotUsername:              cfg.BotUsername,
		Limits:                   cfg.MoneyLimits(),
		MaxPendingPerContributor: cfg.Submission.MaxPendingPerContributor,
	}
}

type Option func(*Orchestrator)

func WithLogger(logger core.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

type Orchestrator struct {
	store       core.Store
	forge       core.Forge
	permissions PermissionChecker
	limiter     RateLimiter
	payments    PayoutReleaser
	notifier    notify.Notifier
	parser      *command.Parser
	config      Config
	commanders  map[command.Action]gocmd.Commander[command.Message]

	logger   core.Logger
	metrics  core.MetricsRecorder
	observer core.Observer
	now      func() time.Time
	newID    func() string
}

func New(deps Dependencies, cfg Config, opts ...Option) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("orchestrator: store is required")
	}
	if deps.Forge == nil {
		return nil, fmt.Errorf("orchestrator: forge is required")
	}
	if deps.Payments == nil {
		return nil, fmt.Errorf("orchestrator: payment coordinator is required")
	}
	if cfg.Limits.Max.IsZero() && len(cfg.Limits.Currencies) == 0 {
		cfg.Limits = core.DefaultMoneyLimits()
	}
	if cfg.MaxPendingPerContributor <= 0 {
		cfg.MaxPendingPerContributor = lifecycle.DefaultMaxPendingPerContributor
	}
	cfg.BotUsername = strings.TrimPrefix(strings.TrimSpace(cfg.BotUsername), "@")
	if cfg.BotUsername == "" {
		cfg.BotUsername = command.DefaultBotUsername
	}

	o := &Orchestrator{
		store:       deps.Store,
		forge:       deps.Forge,
		permissions: deps.Permissions,
		limiter:     deps.Limiter,
		payments:    deps.Payments,
		notifier:    deps.Notifier,
		parser:      command.NewParser(cfg.BotUsername),
		config:      cfg,
		metrics:     core.NopMetricsRecorder{},
		now: func() time.Time {
			return time.Now().UTC()
		},
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.permissions == nil {
		o.permissions = forge.NewPermissionGate(deps.Forge, forge.WithPermissionLogger(o.logger))
	}
	if o.notifier == nil {
		o.notifier = notify.NewDirectNotifier(deps.Forge)
	}
	o.observer = core.Observer{Logger: o.logger, Metrics: o.metrics}
	o.commanders = map[command.Action]gocmd.Commander[command.Message]{
		command.ActionCreate:    NewCreateCommand(o),
		command.ActionSubmit:    NewSubmitCommand(o),
		command.ActionUnsubmit:  NewUnsubmitCommand(o),
		command.ActionApprove:   NewApproveCommand(o),
		command.ActionReapprove: NewReapproveCommand(o),
		command.ActionUnapprove: NewUnapproveCommand(o),
		command.ActionMerge:     NewMergeCommand(o),
		command.ActionMove:      NewMoveCommand(o),
	}
	return o, nil
}

// Handle dispatches one classified event. Rejections a user can act on are
// answered on the forge and reported as handled; only infrastructure faults
// are returned so the delivery can be retried.
func (o *Orchestrator) Handle(ctx context.Context, event webhooks.Event) (err error) {
	startedAt := time.Now()
	fields := event.Fields()
	defer func() {
		o.observer.Observe(ctx, startedAt, "event."+strings.ReplaceAll(string(event.Kind), "-", "_"), err, fields)
	}()

	err = o.route(ctx, event)
	if err != nil && core.IsTextCode(err, core.ErrorUpstreamFailed) {
		logFields := maps.Clone(fields)
		logFields["error"] = err.Error()
		core.LogWithLevel(ctx, o.logger, "warn", "webhook event not applied, upstream unavailable", logFields)
		return nil
	}
	return err
}

func (o *Orchestrator) route(ctx context.Context, event webhooks.Event) error {
	switch event.Kind {
	case webhooks.KindIssueCommentCreated:
		return o.handleComment(ctx, event)
	case webhooks.KindPullRequestOpened:
		return o.handlePullRequestOpened(ctx, event)
	case webhooks.KindPullRequestMerged:
		return o.handlePullRequestMerged(ctx, event)
	case webhooks.KindIssueEdited:
		return retryStale(func() error { return o.handleIssueEdited(ctx, event) })
	case webhooks.KindIssueDeleted:
		return retryStale(func() error { return o.handleIssueDeleted(ctx, event) })
	case webhooks.KindInstallationCreated:
		return o.handleInstallation(ctx, event, core.InstallationStatusActive)
	case webhooks.KindInstallationDeleted:
		return o.handleInstallation(ctx, event, core.InstallationStatusDeleted)
	case webhooks.KindIgnored, "":
		return nil
	default:
		core.LogWithLevel(ctx, o.logger, "warn", "unhandled webhook event kind", event.Fields())
		return nil
	}
}

func (o *Orchestrator) handleComment(ctx context.Context, event webhooks.Event) error {
	if event.Issue == nil || event.Comment == nil {
		return nil
	}
	if o.isBot(event.Comment.Author.Login) {
		return nil
	}
	var cmd *command.Command
	if event.Issue.IsPullRequest {
		cmd = o.parser.ParseOnPullRequest(event.Comment.Body, event.Issue.Number)
	} else {
		cmd = o.parser.Parse(event.Comment.Body)
	}
	if cmd == nil {
		return nil
	}
	return o.Dispatch(ctx, command.Message{
		Command:       *cmd,
		Repo:          event.Repo,
		IssueNumber:   event.Issue.Number,
		IsPullRequest: event.Issue.IsPullRequest,
		CommentID:     event.Comment.ID,
		Actor: command.Actor{
			Login: event.Comment.Author.Login,
			ID:    event.Comment.Author.ID,
		},
		Limits: o.config.Limits,
	})
}

// Dispatch runs a parsed command: rate limit, message validation, the
// maintainer gate, then the action's commander.
func (o *Orchestrator) Dispatch(ctx context.Context, msg command.Message) error {
	if msg.Limits.Max.IsZero() && len(msg.Limits.Currencies) == 0 {
		msg.Limits = o.config.Limits
	}
	err := o.execute(ctx, msg)
	return o.settle(ctx, msg, err)
}

func (o *Orchestrator) execute(ctx context.Context, msg command.Message) error {
	if err := o.throttle(ctx, msg); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Command.Action.MaintainerOnly() && !o.permissions.HasMaintainerAccess(ctx, msg.Repo, msg.Actor.Login) {
		return core.NewAuthorizationError(msg.Actor.Login, string(msg.Command.Action))
	}
	commander, ok := o.commanders[msg.Command.Action]
	if !ok {
		return core.NewValidationError(fmt.Sprintf("unknown command %q", msg.Command.Action), "action")
	}
	return retryStale(func() error { return commander.Execute(ctx, msg) })
}

func (o *Orchestrator) settle(ctx context.Context, msg command.Message, err error) error {
	if err == nil {
		o.react(ctx, msg.Repo, msg.CommentID, notify.ReactionAck)
		return nil
	}
	reply, ok := userFacing(err)
	if !ok {
		return err
	}
	core.LogWithLevel(ctx, o.logger, "info", "command rejected", map[string]any{
		"repo":         msg.Repo.FullName(),
		"issue_number": msg.IssueNumber,
		"action":       string(msg.Command.Action),
		"actor":        msg.Actor.Login,
		"text_code":    core.ErrorTextCode(err),
		"reason":       core.ErrorReason(err),
	})
	o.react(ctx, msg.Repo, msg.CommentID, notify.ReactionRejected)
	o.reply(ctx, msg.Repo, msg.IssueNumber, rejectedReply(msg.Command.Action, reply))
	return nil
}

// throttle applies the command budget to every actor and the creation budget
// to create commands. Limiter faults are logged and let the command through.
func (o *Orchestrator) throttle(ctx context.Context, msg command.Message) error {
	if o.limiter == nil {
		return nil
	}
	identifier := ratelimit.ResolveIdentifier(strings.ToLower(strings.TrimSpace(msg.Actor.Login)), "")
	operations := []string{ratelimit.OperationCommand}
	if msg.Command.Action == command.ActionCreate {
		operations = append(operations, ratelimit.OperationBountyCreate)
	}
	for _, operation := range operations {
		if _, err := o.limiter.Enforce(ctx, identifier, operation); err != nil {
			if isThrottled(err) {
				return err
			}
			core.LogWithLevel(ctx, o.logger, "warn", "rate limiter unavailable", map[string]any{
				"operation":  operation,
				"identifier": identifier,
				"error":      err.Error(),
			})
		}
	}
	return nil
}

func (o *Orchestrator) isBot(login string) bool {
	login = strings.TrimSpace(login)
	if login == "" {
		return false
	}
	return strings.EqualFold(login, o.config.BotUsername) || strings.EqualFold(login, o.config.BotUsername+"[bot]")
}

func (o *Orchestrator) reply(ctx context.Context, repo core.RepoRef, number int, body string) {
	if number <= 0 || strings.TrimSpace(body) == "" {
		return
	}
	if err := o.notifier.Comment(ctx, repo, number, body); err != nil {
		core.LogWithLevel(ctx, o.logger, "warn", "reply not delivered", map[string]any{
			"repo":         repo.FullName(),
			"issue_number": number,
			"error":        err.Error(),
		})
	}
}

func (o *Orchestrator) react(ctx context.Context, repo core.RepoRef, commentID int64, reaction string) {
	if commentID <= 0 {
		return
	}
	if err := o.notifier.React(ctx, repo, commentID, reaction); err != nil {
		core.LogWithLevel(ctx, o.logger, "warn", "reaction not delivered", map[string]any{
			"repo":       repo.FullName(),
			"comment_id": commentID,
			"error":      err.Error(),
		})
	}
}

func (o *Orchestrator) timestamp() time.Time {
	return o.now().UTC()
}
