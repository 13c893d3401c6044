package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// tokenRotationMargin refreshes installation tokens before they expire
// mid-request.
const tokenRotationMargin = 5 * time.Minute

type appCredentials struct {
	appID      int64
	privateKey *rsa.PrivateKey
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func newAppCredentials(
	appID int64,
	privateKeyPEM []byte,
	baseURL string,
	httpClient *http.Client,
	now func() time.Time,
) (*appCredentials, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("github: parsing private key: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &appCredentials{
		appID:      appID,
		privateKey: key,
		baseURL:    baseURL,
		httpClient: httpClient,
		now:        now,
	}, nil
}

// AppJWT signs the short-lived RS256 token used to mint installation tokens.
func (a *appCredentials) AppJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(a.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("github: signing app jwt: %w", err)
	}
	return signed, nil
}

func (a *appCredentials) installationSource(installationID int64) oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, &installationTokenSource{
		app:            a,
		installationID: installationID,
	}, tokenRotationMargin)
}

type installationTokenSource struct {
	app            *appCredentials
	installationID int64
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	signed, err := s.app.AppJWT()
	if err != nil {
		return nil, err
	}
	endpoint := s.app.baseURL + "/app/installations/" + strconv.FormatInt(s.installationID, 10) + "/access_tokens"
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("github: creating token exchange request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+signed)
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", apiVersion)

	response, err := s.app.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("github: token exchange request: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("github: reading token exchange response: %w", err)
	}
	if response.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("github: token exchange: %w", parseAPIError(response.StatusCode, body))
	}
	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("github: decoding token exchange response: %w", err)
	}
	if result.Token == "" {
		return nil, fmt.Errorf("github: token exchange returned empty token")
	}
	return &oauth2.Token{
		AccessToken: result.Token,
		TokenType:   "Bearer",
		Expiry:      result.ExpiresAt,
	}, nil
}
