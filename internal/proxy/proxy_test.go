package proxy

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattzcarey/sandbox-mcp/internal/ctlerrors"
	"github.com/mattzcarey/sandbox-mcp/internal/token"
)

func TestParsePathValid(t *testing.T) {
	p, err := ParsePath("/proxy", "/proxy/anthropic/v1/messages")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Service)
	assert.Equal(t, "/v1/messages", p.TargetPath)
}

func TestParsePathServiceOnlyNoTrailingSlash(t *testing.T) {
	p, err := ParsePath("/proxy", "/proxy/anthropic")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Service)
	assert.Equal(t, "/", p.TargetPath)
}

func TestParsePathRejectsMissingService(t *testing.T) {
	_, err := ParsePath("/proxy", "/proxy/")
	require.Error(t, err)
	ce, ok := ctlerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, CodePathInvalid, ce.Code())
}

func TestParsePathRejectsWrongMount(t *testing.T) {
	_, err := ParsePath("/proxy", "/other/anthropic/foo")
	assert.Error(t, err)
}

// TestParsePathIsTotal is grounded on §8's path-parse totality property:
// ParsePath must never panic and must always return either a valid
// {service, path} or a PROXY_PATH_INVALID error, for arbitrary input.
func TestParsePathIsTotal(t *testing.T) {
	props := gopter.NewProperties(nil)
	props.Property("never panics; either succeeds with non-empty service or returns PathInvalid", prop.ForAll(
		func(path string) bool {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("ParsePath panicked: %v", r)
				}
			}()
			p, err := ParsePath("/proxy", path)
			if err != nil {
				ce, ok := ctlerrors.As(err)
				return ok && ce.Code() == CodePathInvalid
			}
			return p.Service != "" && len(p.TargetPath) > 0 && p.TargetPath[0] == '/'
		},
		gen.AnyString(),
	))
	props.TestingRun(t)
}

func TestBuildTargetURLPreservesBasePathAndQuery(t *testing.T) {
	u, err := buildTargetURL("https://api.example.com/v1", "/messages", "foo=bar")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/messages?foo=bar", u.String())
}

func TestGitSmartHTTPAllowList(t *testing.T) {
	allowed := []string{
		"/org/repo.git/info/refs",
		"/org/repo/git-upload-pack",
		"/org/repo.git/git-receive-pack",
	}
	for _, p := range allowed {
		assert.True(t, gitSmartHTTPPattern.MatchString(p), p)
	}
	denied := []string{
		"/org/repo/contents",
		"/info/refs",
		"/org/repo.git/info/refs/extra",
	}
	for _, p := range denied {
		assert.False(t, gitSmartHTTPPattern.MatchString(p), p)
	}
}

func TestRewriteHostForSandboxLocalhost(t *testing.T) {
	out := RewriteHostForSandbox("localhost:3000", "http://localhost:3000/proxy/anthropic")
	assert.Equal(t, "http://host.docker.internal:3000/proxy/anthropic", out)
}

func TestRewriteHostForSandboxProductionNoop(t *testing.T) {
	in := "https://control-plane.example.com/proxy/anthropic"
	out := RewriteHostForSandbox("control-plane.example.com", in)
	assert.Equal(t, in, out)
}

func TestEngineAnthropicServiceInjectsAPIKey(t *testing.T) {
	var gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	secret := "proxy-secret"
	tok, err := token.Create(token.CreateParams{Secret: secret, SandboxID: "sb1", ExpiresIn: "1h"})
	require.NoError(t, err)

	engine := New(Options{
		MountPath: "/proxy",
		Secret:    secret,
		Registry: Registry{
			"anthropic": AnthropicService(upstream.URL, "real-anthropic-key"),
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/proxy/anthropic/v1/messages", nil)
	req.Header.Set("x-api-key", tok)
	rw := httptest.NewRecorder()
	engine.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "real-anthropic-key", gotKey)
}

func TestEngineRejectsMissingToken(t *testing.T) {
	engine := New(Options{
		MountPath: "/proxy",
		Secret:    "s",
		Registry:  Registry{"anthropic": AnthropicService("http://upstream", "key")},
	})
	req := httptest.NewRequest(http.MethodGet, "/proxy/anthropic/v1/messages", nil)
	rw := httptest.NewRecorder()
	engine.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestEngineUnknownService(t *testing.T) {
	engine := New(Options{MountPath: "/proxy", Secret: "s", Registry: Registry{}})
	req := httptest.NewRequest(http.MethodGet, "/proxy/nope/foo", nil)
	rw := httptest.NewRecorder()
	engine.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestEngineGitHubServiceInjectsBasicAuth(t *testing.T) {
	var gotAuth, gotUA string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	secret := "proxy-secret"
	tok, err := token.Create(token.CreateParams{Secret: secret, SandboxID: "sb1", ExpiresIn: "1h"})
	require.NoError(t, err)

	engine := New(Options{
		MountPath: "/proxy",
		Secret:    secret,
		Registry: Registry{
			"github": GitHubService(upstream.URL, "ghp_real"),
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/proxy/github/org/repo.git/info/refs", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rw := httptest.NewRecorder()
	engine.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("x-access-token:ghp_real"))
	assert.Equal(t, want, gotAuth)
	assert.Equal(t, "Sandbox-Git-Proxy", gotUA)
}

func TestEngineGitHubServiceRejectsNonGitPath(t *testing.T) {
	secret := "proxy-secret"
	tok, err := token.Create(token.CreateParams{Secret: secret, SandboxID: "sb1", ExpiresIn: "1h"})
	require.NoError(t, err)

	engine := New(Options{
		MountPath: "/proxy",
		Secret:    secret,
		Registry:  Registry{"github": GitHubService("http://upstream", "pat")},
	})

	req := httptest.NewRequest(http.MethodGet, "/proxy/github/arbitrary/api/path", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rw := httptest.NewRecorder()
	engine.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}
