package sqlstore

import (
	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/payment"
)

var (
	_ core.Store             = (*Store)(nil)
	_ core.BountyStore       = (*BountyStore)(nil)
	_ core.SubmissionStore   = (*BountyStore)(nil)
	_ core.ContributorStore  = (*ContributorStore)(nil)
	_ core.PayoutStore       = (*PayoutStore)(nil)
	_ core.InstallationStore = (*InstallationStore)(nil)
	_ payment.Records        = (*Store)(nil)
)
