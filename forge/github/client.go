// Package github implements the forge client against the GitHub REST API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
	"golang.org/x/oauth2"
)

const (
	apiVersion     = "2022-11-28"
	defaultBaseURL = "https://api.github.com"
	maxBodyBytes   = 10 << 20
	pageSize       = 100
)

// Config selects exactly one authentication mode: a static Token, or App
// credentials (AppID, PrivateKey and InstallationID).
type Config struct {
	BaseURL        string
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKey     []byte
	HTTPClient     *http.Client
	Logger         core.Logger
	Now            func() time.Time
}

type Client struct {
	baseURL    string
	base       *http.Client
	httpClient *http.Client
	app        *appCredentials
	logger     core.Logger
}

func NewClient(config Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
	}
	base := config.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}

	hasApp := config.AppID != 0 || len(config.PrivateKey) > 0 || config.InstallationID != 0
	hasToken := strings.TrimSpace(config.Token) != ""
	if hasApp && hasToken {
		return nil, fmt.Errorf("github: cannot configure both App auth and token auth")
	}
	if !hasApp && !hasToken {
		return nil, fmt.Errorf("github: no authentication configured")
	}

	client := &Client{baseURL: baseURL, base: base, logger: config.Logger}
	var source oauth2.TokenSource
	if hasApp {
		if config.AppID == 0 || config.InstallationID == 0 || len(config.PrivateKey) == 0 {
			return nil, fmt.Errorf("github: App auth requires app id, installation id and private key")
		}
		app, err := newAppCredentials(config.AppID, config.PrivateKey, baseURL, base, config.Now)
		if err != nil {
			return nil, err
		}
		client.app = app
		source = app.installationSource(config.InstallationID)
	} else {
		source = oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: strings.TrimSpace(config.Token),
			TokenType:   "Bearer",
		})
	}
	client.httpClient = authenticatedClient(base, source)
	return client, nil
}

func authenticatedClient(base *http.Client, source oauth2.TokenSource) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{Source: source, Base: base.Transport},
		Timeout:   base.Timeout,
	}
}

type commentPayload struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

type userPayload struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

type issuePayload struct {
	Number      int             `json:"number"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	State       string          `json:"state"`
	User        userPayload     `json:"user"`
	PullRequest json.RawMessage `json:"pull_request,omitempty"`
}

type pullRequestPayload struct {
	Number int         `json:"number"`
	Title  string      `json:"title"`
	Body   string      `json:"body"`
	State  string      `json:"state"`
	Merged bool        `json:"merged"`
	User   userPayload `json:"user"`
	Head   struct {
		SHA string `json:"sha"`
	} `json:"head"`
}

type repositoryPayload struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (c *Client) CreateComment(ctx context.Context, repo core.RepoRef, number int, body string) (core.Comment, error) {
	var result commentPayload
	path := repoPath(repo) + "/issues/" + strconv.Itoa(number) + "/comments"
	if err := c.send(ctx, c.httpClient, http.MethodPost, path, map[string]string{"body": body}, &result, "comment"); err != nil {
		return core.Comment{}, err
	}
	return core.Comment{ID: result.ID, Body: result.Body}, nil
}

func (c *Client) EditComment(ctx context.Context, repo core.RepoRef, commentID int64, body string) error {
	path := repoPath(repo) + "/issues/comments/" + strconv.FormatInt(commentID, 10)
	return c.send(ctx, c.httpClient, http.MethodPatch, path, map[string]string{"body": body}, nil, "comment")
}

func (c *Client) DeleteComment(ctx context.Context, repo core.RepoRef, commentID int64) error {
	path := repoPath(repo) + "/issues/comments/" + strconv.FormatInt(commentID, 10)
	return c.send(ctx, c.httpClient, http.MethodDelete, path, nil, nil, "comment")
}

func (c *Client) CreateReaction(ctx context.Context, repo core.RepoRef, commentID int64, reaction string) error {
	path := repoPath(repo) + "/issues/comments/" + strconv.FormatInt(commentID, 10) + "/reactions"
	return c.send(ctx, c.httpClient, http.MethodPost, path, map[string]string{"content": reaction}, nil, "comment")
}

// GetPermissionLevel returns the collaborator permission of username. A
// user who is not a collaborator reports "none".
func (c *Client) GetPermissionLevel(ctx context.Context, repo core.RepoRef, username string) (string, error) {
	var result struct {
		Permission string `json:"permission"`
	}
	path := repoPath(repo) + "/collaborators/" + url.PathEscape(strings.TrimSpace(username)) + "/permission"
	if err := c.send(ctx, c.httpClient, http.MethodGet, path, nil, &result, "collaborator"); err != nil {
		if core.IsNotFound(err) {
			return core.PermissionNone, nil
		}
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(result.Permission)), nil
}

func (c *Client) GetIssue(ctx context.Context, repo core.RepoRef, number int) (core.Issue, error) {
	var result issuePayload
	if err := c.send(ctx, c.httpClient, http.MethodGet, repoPath(repo)+"/issues/"+strconv.Itoa(number), nil, &result, "issue"); err != nil {
		return core.Issue{}, err
	}
	return core.Issue{
		Number:        result.Number,
		Title:         result.Title,
		Body:          result.Body,
		AuthorLogin:   result.User.Login,
		IsPullRequest: len(result.PullRequest) > 0 && string(result.PullRequest) != "null",
		State:         result.State,
	}, nil
}

func (c *Client) GetPullRequest(ctx context.Context, repo core.RepoRef, number int) (core.PullRequest, error) {
	var result pullRequestPayload
	if err := c.send(ctx, c.httpClient, http.MethodGet, repoPath(repo)+"/pulls/"+strconv.Itoa(number), nil, &result, "pull_request"); err != nil {
		return core.PullRequest{}, err
	}
	return core.PullRequest{
		Number:      result.Number,
		Title:       result.Title,
		Body:        result.Body,
		AuthorLogin: result.User.Login,
		AuthorID:    result.User.ID,
		HeadSHA:     result.Head.SHA,
		State:       result.State,
		Merged:      result.Merged,
	}, nil
}

// ListInstallationRepositories lists the repositories an installation can
// access. With App auth a token is minted for installationID; with token
// auth the configured token must itself be an installation token.
func (c *Client) ListInstallationRepositories(ctx context.Context, installationID int64) ([]core.RepoRef, error) {
	httpClient := c.httpClient
	if c.app != nil && installationID > 0 {
		httpClient = authenticatedClient(c.base, c.app.installationSource(installationID))
	}
	var repos []core.RepoRef
	for page := 1; ; page++ {
		var result struct {
			TotalCount   int                 `json:"total_count"`
			Repositories []repositoryPayload `json:"repositories"`
		}
		path := fmt.Sprintf("/installation/repositories?per_page=%d&page=%d", pageSize, page)
		if err := c.send(ctx, httpClient, http.MethodGet, path, nil, &result, "installation"); err != nil {
			return nil, err
		}
		for _, repo := range result.Repositories {
			ref := core.RepoRef{Owner: repo.Owner.Login, Name: repo.Name}
			if ref.Validate() != nil {
				parsed, err := core.ParseRepoRef(repo.FullName)
				if err != nil {
					continue
				}
				ref = parsed
			}
			repos = append(repos, ref)
		}
		if len(result.Repositories) < pageSize || len(repos) >= result.TotalCount {
			return repos, nil
		}
	}
}

func (c *Client) send(
	ctx context.Context,
	httpClient *http.Client,
	method string,
	path string,
	requestBody any,
	result any,
	resource string,
) error {
	var reader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("github: encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("github: creating request: %w", err)
	}
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", apiVersion)
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := httpClient.Do(request)
	if err != nil {
		return core.NewUpstreamError(err, "github", fmt.Sprintf("github %s %s failed", method, path))
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes))
	if err != nil {
		return core.NewUpstreamError(err, "github", "reading github response failed")
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := parseAPIError(response.StatusCode, body)
		core.LogWithLevel(ctx, c.logger, "warn", "github request failed", map[string]any{
			"method":      method,
			"path":        path,
			"status_code": response.StatusCode,
			"error":       apiErr.Message,
		})
		if response.StatusCode == http.StatusNotFound {
			return core.NewNotFoundError(resource, apiErr.Error())
		}
		return core.NewUpstreamError(apiErr, "github", fmt.Sprintf("github %s %s failed", method, path))
	}
	if result == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return core.NewUpstreamError(err, "github", "decoding github response failed")
	}
	return nil
}

func repoPath(repo core.RepoRef) string {
	return "/repos/" + url.PathEscape(strings.TrimSpace(repo.Owner)) + "/" + url.PathEscape(strings.TrimSpace(repo.Name))
}

var _ core.Forge = (*Client)(nil)
