package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goliatone/go-bounties/adapters/gologger"
	"github.com/goliatone/go-bounties/core"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func testDSN(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "bounties.db")
}

func dbArgs(dsn string, args ...string) []string {
	return append([]string{"--database-driver", "sqlite3", "--database-dsn", dsn, "--log-level", "error"}, args...)
}

func openTestApp(t *testing.T, dsn string) *app {
	t.Helper()
	ctx := context.Background()
	cfg, err := loadConfig(ctx, &rootOptions{databaseDriver: "sqlite3", databaseDSN: dsn})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	var logs bytes.Buffer
	a, err := openApp(ctx, cfg, gologger.NewJSONLogger(&logs, "error"))
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestMigrateCommandAppliesSchema(t *testing.T) {
	dsn := testDSN(t)
	out, err := runCLI(t, dbArgs(dsn, "migrate")...)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "migrations applied") {
		t.Fatalf("unexpected output %q", out)
	}

	a := openTestApp(t, dsn)
	if _, err := a.stores.Store().ListBounties(context.Background(), core.BountyFilter{}); err != nil {
		t.Fatalf("expected bounties table after migrate, got %v", err)
	}
}

func TestBountiesListRendersTable(t *testing.T) {
	dsn := testDSN(t)
	if _, err := runCLI(t, dbArgs(dsn, "migrate")...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	a := openTestApp(t, dsn)
	ctx := context.Background()
	repo := core.RepoRef{Owner: "acme", Name: "widgets"}
	for _, issue := range []int{42, 43} {
		if _, err := a.stores.Store().CreateBounty(ctx, core.Bounty{
			Repo:          repo,
			IssueNumber:   core.IntPtr(issue),
			IssueTitle:    "Fix it",
			Amount:        core.MoneyFromMinorUnits(25000, "USD"),
			Status:        core.BountyStatusOpen,
			PaymentStatus: core.PaymentStatusHeld,
			CreatorLogin:  "maintainer",
		}); err != nil {
			t.Fatalf("create bounty: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close app: %v", err)
	}

	out, err := runCLI(t, dbArgs(dsn, "bounties", "list", "--repo", "acme/widgets")...)
	if err != nil {
		t.Fatalf("bounties list: %v", err)
	}
	for _, want := range []string{"REPO", "acme/widgets", "#42", "#43", "250.00 USD"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}

	out, err = runCLI(t, dbArgs(dsn, "bounties", "list", "--status", "cancelled")...)
	if err != nil {
		t.Fatalf("bounties list: %v", err)
	}
	if strings.Contains(out, "acme/widgets") {
		t.Fatalf("expected no cancelled bounties, got:\n%s", out)
	}
}

func TestBountiesListRejectsMalformedRepo(t *testing.T) {
	dsn := testDSN(t)
	if _, err := runCLI(t, dbArgs(dsn, "bounties", "list", "--repo", "widgets")...); err == nil {
		t.Fatalf("expected malformed repo to fail")
	}
}

func TestContributorsLinkStoresPayoutAccount(t *testing.T) {
	dsn := testDSN(t)
	if _, err := runCLI(t, dbArgs(dsn, "migrate")...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	out, err := runCLI(t, dbArgs(dsn, "contributors", "link", "alice", "acct_alice")...)
	if err != nil {
		t.Fatalf("contributors link: %v", err)
	}
	if !strings.Contains(out, "payouts enabled: true") {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := runCLI(t, dbArgs(dsn, "contributors", "link", "bob", "acct_bob", "--disabled")...); err != nil {
		t.Fatalf("contributors link --disabled: %v", err)
	}

	a := openTestApp(t, dsn)
	ctx := context.Background()
	alice, err := a.stores.Store().GetContributorByLogin(ctx, "Alice")
	if err != nil {
		t.Fatalf("get alice: %v", err)
	}
	if !alice.PayoutCapable() || alice.StripeAccountID != "acct_alice" {
		t.Fatalf("expected alice to be payout capable, got %+v", alice)
	}
	bob, err := a.stores.Store().GetContributorByLogin(ctx, "bob")
	if err != nil {
		t.Fatalf("get bob: %v", err)
	}
	if bob.PayoutCapable() {
		t.Fatalf("expected bob to be linked with payouts disabled")
	}
}

func TestLoadConfigAppliesFlagOverrides(t *testing.T) {
	cfg, err := loadConfig(context.Background(), &rootOptions{
		httpAddr:       ":9999",
		databaseDriver: "sqlite3",
		databaseDSN:    "bounties.db",
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" || cfg.Database.DSN != "bounties.db" {
		t.Fatalf("expected flag overrides, got %+v %+v", cfg.HTTP, cfg.Database)
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		t.Fatalf("expected default webhook body limit, got %d", cfg.Webhook.MaxBodyBytes)
	}
}
