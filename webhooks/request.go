package webhooks

import "strings"

const (
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"
	HeaderSignature = "X-Hub-Signature-256"
)

// Request is a raw inbound delivery. Body must be the exact bytes received.
type Request struct {
	Headers map[string]string
	Body    []byte
}

func (r Request) Header(key string) string {
	return headerValue(r.Headers, key)
}

func (r Request) EventName() string {
	return strings.ToLower(r.Header(HeaderEvent))
}

type Result struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
