package webhooks

// Minimal GitHub webhook payload shapes. Only the fields the bounty flow
// reads are modelled; JSON names follow the GitHub webhook documentation.

type ghUser struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

type ghRepository struct {
	FullName string `json:"full_name"` // "owner/repo"
}

type ghIssue struct {
	Number      int                `json:"number"`
	Title       string             `json:"title"`
	Body        string             `json:"body"`
	User        ghUser             `json:"user"`
	State       string             `json:"state"`
	PullRequest *ghPullRequestLink `json:"pull_request,omitempty"`
}

// ghPullRequestLink is present on issues that are pull requests.
type ghPullRequestLink struct {
	URL string `json:"url"`
}

type ghComment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
	User ghUser `json:"user"`
}

type ghBranch struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type ghPullRequest struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	User   ghUser   `json:"user"`
	Head   ghBranch `json:"head"`
	State  string   `json:"state"`
	Merged bool     `json:"merged"`
}

type ghInstallationRef struct {
	ID      int64  `json:"id"`
	Account ghUser `json:"account"`
}

// ghPayload is the union of the event payloads handled here; each event
// only fills the members it carries.
type ghPayload struct {
	Action       string             `json:"action"`
	Repository   *ghRepository      `json:"repository,omitempty"`
	Issue        *ghIssue           `json:"issue,omitempty"`
	Comment      *ghComment         `json:"comment,omitempty"`
	PullRequest  *ghPullRequest     `json:"pull_request,omitempty"`
	Installation *ghInstallationRef `json:"installation,omitempty"`
	Repositories []ghRepository     `json:"repositories,omitempty"`
	Sender       ghUser             `json:"sender"`
}
