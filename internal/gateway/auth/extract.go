package auth

import (
	"net/http"
	"strings"
)

// KeyPrefix is the prefix gateway API keys are issued with. A bare
// Authorization value carrying it is accepted without the Bearer scheme.
const KeyPrefix = "gcp_"

// APIKeyHeader is the dedicated key header accepted as a fallback.
const APIKeyHeader = "X-API-Key"

// extractors are tried in priority order; the first match wins.
var extractors = []func(r *http.Request) (string, bool){
	fromBearer,
	fromRawAuthorization,
	fromAPIKeyHeader,
}

// ExtractCredential pulls the caller's credential out of the request.
func ExtractCredential(r *http.Request) (string, bool) {
	for _, extract := range extractors {
		if credential, ok := extract(r); ok {
			return credential, true
		}
	}
	return "", false
}

func fromBearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	credential := strings.TrimSpace(parts[1])
	return credential, credential != ""
}

func fromRawAuthorization(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, KeyPrefix) {
		return header, true
	}
	return "", false
}

func fromAPIKeyHeader(r *http.Request) (string, bool) {
	credential := strings.TrimSpace(r.Header.Get(APIKeyHeader))
	return credential, credential != ""
}
