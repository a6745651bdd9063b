package proxy

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
)

// gitSmartHTTPPattern restricts the github service's injected credential to
// git's smart-HTTP transport only (§4.1 "github" service policy).
var gitSmartHTTPPattern = regexp.MustCompile(`^/.+/.+(\.git)?/(info/refs|git-upload-pack|git-receive-pack)$`)

// AnthropicService builds the "anthropic" registry entry (§4.1) from a fixed
// apiKey; if empty, every request is rejected with the configured
// missing-variable message.
func AnthropicService(upstreamBase, apiKey string) *Service {
	return AnthropicServiceFunc(upstreamBase, func() string { return apiKey })
}

// AnthropicServiceFunc builds the "anthropic" registry entry with apiKey
// read fresh on every request via getSecret, rather than captured once at
// registry-construction time — §5's "upstream API secrets are read from
// environment per request (not cached) so that an operator swap takes
// effect without restart."
func AnthropicServiceFunc(upstreamBase string, getSecret func() string) *Service {
	return &Service{
		Target: upstreamBase,
		Validate: func(r *http.Request) string {
			return r.Header.Get("x-api-key")
		},
		Transform: func(req *http.Request, _ Context) (*http.Request, *http.Response) {
			apiKey := getSecret()
			if apiKey == "" {
				return nil, missingSecretResponse("ANTHROPIC_API_KEY")
			}
			req.Header.Set("x-api-key", apiKey)
			return req, nil
		},
	}
}

// GitHubService builds the "github" registry entry (§4.1) from a fixed pat.
func GitHubService(upstreamBase, pat string) *Service {
	return GitHubServiceFunc(upstreamBase, func() string { return pat })
}

// GitHubServiceFunc builds the "github" registry entry with the PAT read
// fresh on every request via getSecret (§5, same rationale as
// AnthropicServiceFunc). The path restriction to git's smart-HTTP endpoints
// is enforced inside Transform so the 400 response carries the
// injected-credential service's shape rather than the generic path-parse
// error.
func GitHubServiceFunc(upstreamBase string, getSecret func() string) *Service {
	return &Service{
		Target: upstreamBase,
		Validate: func(r *http.Request) string {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
				return auth[len(prefix):]
			}
			return ""
		},
		Transform: func(req *http.Request, _ Context) (*http.Request, *http.Response) {
			if !gitSmartHTTPPattern.MatchString(req.URL.Path) {
				return nil, jsonResponse(http.StatusBadRequest, map[string]string{
					"error": "path is not a git smart-HTTP endpoint",
					"code":  CodePathInvalid,
				})
			}
			pat := getSecret()
			if pat == "" {
				return nil, missingSecretResponse("GITHUB_TOKEN")
			}
			basic := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + pat))
			req.Header.Set("Authorization", "Basic "+basic)
			req.Header.Set("User-Agent", "Sandbox-Git-Proxy")
			return req, nil
		},
	}
}

func missingSecretResponse(varName string) *http.Response {
	return jsonResponse(http.StatusInternalServerError, map[string]string{
		"error": fmt.Sprintf("missing required environment variable %s", varName),
		"code":  "PROXY_MISCONFIGURED",
	})
}

func jsonResponse(status int, body map[string]string) *http.Response {
	b, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(b)),
	}
}
