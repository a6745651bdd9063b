package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattzcarey/sandbox-mcp/internal/config"
	"github.com/mattzcarey/sandbox-mcp/internal/dispatcher"
	"github.com/mattzcarey/sandbox-mcp/internal/objectstore/memory"
	"github.com/mattzcarey/sandbox-mcp/internal/proxy"
	runpkg "github.com/mattzcarey/sandbox-mcp/internal/run"
	"github.com/mattzcarey/sandbox-mcp/internal/sandbox"
	"github.com/mattzcarey/sandbox-mcp/internal/session"
	"github.com/mattzcarey/sandbox-mcp/internal/telemetry"
	"github.com/mattzcarey/sandbox-mcp/internal/workflow/inmem"
)

func TestRequireBearerRejectsMissingHeader(t *testing.T) {
	h := requireBearer("secret", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireBearerRejectsWrongToken(t *testing.T) {
	h := requireBearer("secret", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	h(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireBearerAcceptsMatchingToken(t *testing.T) {
	called := false
	h := requireBearer("secret", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	h(rr, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSessionRedirectHandlerNotFound(t *testing.T) {
	sessions := session.New(memory.New())
	h := sessionRedirectHandler(sessions)

	req := httptest.NewRequest(http.MethodGet, "/session/missing", nil)
	req.SetPathValue("id", "missing")
	rr := httptest.NewRecorder()
	h(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessionRedirectHandlerRedirectsWithCookieAndOrigin(t *testing.T) {
	sessions := session.New(memory.New())
	sess := &session.Session{
		SessionID:     "abc12345",
		SandboxID:     "abc12345",
		Status:        session.StatusActive,
		WorkspacePath: "/workspace/repo",
		Repository:    &session.Repository{URL: "https://github.com/example/repo"},
	}
	require.NoError(t, sessions.PutSession(t.Context(), sess))

	h := sessionRedirectHandler(sessions)
	req := httptest.NewRequest(http.MethodGet, "/session/abc12345", nil)
	req.Host = "ctl.example.com"
	req.SetPathValue("id", "abc12345")
	rr := httptest.NewRecorder()
	h(rr, req)

	assert.Equal(t, http.StatusFound, rr.Code)
	loc := rr.Header().Get("Location")
	assert.Contains(t, loc, "url=http%3A%2F%2Fctl.example.com")

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)
	assert.Equal(t, "abc12345", cookies[0].Value)
}

func TestCatchAllHandlerServesInfoJSONWithoutCookie(t *testing.T) {
	h := catchAllHandler(sandbox.NewFakeAdapter(), telemetry.NewNoopLogger())
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "sandbox-mcp")
}

func TestCatchAllHandlerProxiesWithCookie(t *testing.T) {
	adapter := sandbox.NewFakeAdapter()
	h := catchAllHandler(adapter, telemetry.NewNoopLogger())

	req := httptest.NewRequest(http.MethodGet, "/workspace/file.txt", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess-1"})
	rr := httptest.NewRecorder()

	// FakeHandle.ExposePort returns a deterministic "fake-sandbox.local" URL
	// the real net/http transport cannot dial in a unit test. The handler's
	// own failures are JSON error bodies; reaching the reverse proxy instead
	// yields its bare 502 with an empty body once the dial fails.
	h(rr, req)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestBuildMuxRoutesHealthWithoutAuth(t *testing.T) {
	cfg := config.Config{AuthToken: "secret", ProxyJWTSecret: "jwtsecret"}
	sessions := session.New(memory.New())
	runs := runpkg.New(memory.New())
	eng := inmem.New()
	disp := dispatcher.New(dispatcher.Config{DefaultModel: "claude-sonnet-4-5"}, dispatcher.Dependencies{
		Sessions: sessions,
		Runs:     runs,
		Engine:   eng,
		Logger:   telemetry.NewNoopLogger(),
		Metrics:  telemetry.NewNoopMetrics(),
	})
	proxyEngine := proxy.New(proxy.Options{
		MountPath: "/proxy",
		Registry:  proxy.Registry{},
		Secret:    cfg.ProxyJWTSecret,
		Limiter:   proxy.NewLimiter(10, 20),
	})
	mux := buildMux(cfg, disp, proxyEngine, sessions, sandbox.NewFakeAdapter(), telemetry.NewNoopLogger())

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestBuildMuxMCPRequiresAuth(t *testing.T) {
	cfg := config.Config{AuthToken: "secret", ProxyJWTSecret: "jwtsecret"}
	sessions := session.New(memory.New())
	runs := runpkg.New(memory.New())
	eng := inmem.New()
	disp := dispatcher.New(dispatcher.Config{DefaultModel: "claude-sonnet-4-5"}, dispatcher.Dependencies{
		Sessions: sessions,
		Runs:     runs,
		Engine:   eng,
		Logger:   telemetry.NewNoopLogger(),
		Metrics:  telemetry.NewNoopMetrics(),
	})
	proxyEngine := proxy.New(proxy.Options{
		MountPath: "/proxy",
		Registry:  proxy.Registry{},
		Secret:    cfg.ProxyJWTSecret,
		Limiter:   proxy.NewLimiter(10, 20),
	})
	mux := buildMux(cfg, disp, proxyEngine, sessions, sandbox.NewFakeAdapter(), telemetry.NewNoopLogger())

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
