package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goliatone/go-bounties/core"
)

type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

// DeliveryIDExtractor returns the forge delivery id, or "" when the request
// carries none.
type DeliveryIDExtractor func(req Request) string

type ProviderWebhookTemplate struct {
	ProviderID string
	Verifier   Verifier
	Extractor  DeliveryIDExtractor
}

// HeaderHMACVerifier checks an HMAC-SHA256 signature of the raw body carried
// in a request header.
type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req Request) error {
	header := strings.TrimSpace(req.Header(v.Header))
	if header == "" {
		return core.NewValidationError(
			fmt.Sprintf("%s signature header is required", strings.TrimSpace(v.Header)),
			strings.TrimSpace(v.Header),
		)
	}
	if !v.VerifySignature(header, req.Body) {
		return core.NewAuthenticityError("webhook signature verification failed")
	}
	return nil
}

// VerifySignature reports whether header is a valid signature of body. It
// never panics and has no side effects.
func (v HeaderHMACVerifier) VerifySignature(header string, body []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return false
	}
	header = strings.TrimSpace(header)
	if prefix := strings.TrimSpace(v.Prefix); prefix != "" {
		if !strings.HasPrefix(header, prefix) {
			return false
		}
		header = strings.TrimPrefix(header, prefix)
	}
	if header == "" {
		return false
	}

	var (
		decoded []byte
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(header)
	default:
		decoded, err = hex.DecodeString(header)
	}
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)
	if len(decoded) != len(expected) {
		return false
	}
	return hmac.Equal(decoded, expected)
}

func HeaderDeliveryIDExtractor(headers ...string) DeliveryIDExtractor {
	keys := append([]string(nil), headers...)
	return func(req Request) string {
		for _, key := range keys {
			if value := strings.TrimSpace(req.Header(key)); value != "" {
				return value
			}
		}
		return ""
	}
}

// SignGitHubPayload renders the X-Hub-Signature-256 value for body.
func SignGitHubPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func NewGitHubWebhookTemplate(secret string) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: "github",
		Verifier: HeaderHMACVerifier{
			Header:   HeaderSignature,
			Prefix:   "sha256=",
			Secret:   strings.TrimSpace(secret),
			Encoding: "hex",
		},
		Extractor: HeaderDeliveryIDExtractor(HeaderDelivery),
	}
}
