package dialect

import (
	"net/http"
	"strings"

	"frugal/internal/catalog"
	"frugal/internal/version"
)

// Gateway client-identification headers. The aggregator uses these to
// attribute traffic in its dashboard.
const (
	gatewayReferer = "https://github.com/frugal-proxy/frugal"
	gatewayTitle   = "frugal"
)

// ApplyHeaders sets the auth and content headers an upstream dialect expects.
func ApplyHeaders(h http.Header, dialect catalog.Dialect, apiKey string, viaGateway bool) {
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", version.UserAgent())
	switch dialect {
	case catalog.DialectAnthropic:
		h.Set("x-api-key", apiKey)
		h.Set("anthropic-version", "2023-06-01")
	case catalog.DialectGemini:
		h.Set("x-goog-api-key", apiKey)
	default:
		h.Set("Authorization", "Bearer "+apiKey)
		if viaGateway {
			h.Set("HTTP-Referer", gatewayReferer)
			h.Set("X-Title", gatewayTitle)
		}
	}
}

// UpstreamURL builds the endpoint URL for a chat request. modelID is the full
// <provider>/<name> id; the generate-content dialect embeds the bare name in
// the path and maps the stream flag to an SSE query parameter.
func UpstreamURL(baseURL string, dialect catalog.Dialect, modelID string, stream bool) string {
	base := strings.TrimRight(baseURL, "/")
	switch dialect {
	case catalog.DialectAnthropic:
		return base + "/v1/messages"
	case catalog.DialectGemini:
		name := modelID
		if idx := strings.Index(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		if stream {
			return base + "/v1beta/models/" + name + ":streamGenerateContent?alt=sse"
		}
		return base + "/v1beta/models/" + name + ":generateContent"
	default:
		return base + "/chat/completions"
	}
}
