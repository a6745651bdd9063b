// Package proxy implements the authenticating reverse Proxy Engine (§4.1,
// component E): path parsing, per-service token verification and credential
// injection, request forwarding, and the docker-host rewrite for local dev.
//
// Shaped after the teacher pack's bureau-foundation-bureau/proxy package
// (Handler.HandleHTTPProxy's service-name/path-split routing, credential
// injection via a registered per-service transform) simplified to this
// spec's single HTTP reverse-proxy surface — bureau's proxy also serves a
// CLI/streaming JSON-RPC surface and a Matrix-specific policy layer that
// have no counterpart here.
package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/mattzcarey/sandbox-mcp/internal/ctlerrors"
	"github.com/mattzcarey/sandbox-mcp/internal/token"
)

// Error codes (§4.1 "All proxy errors serialize as JSON {error, code}").
const (
	CodePathInvalid     = "PROXY_PATH_INVALID"
	CodeServiceNotFound = "PROXY_SERVICE_NOT_FOUND"
	CodeTokenMissing    = "PROXY_TOKEN_MISSING"
	CodeTokenExpired    = "PROXY_TOKEN_EXPIRED"
	CodeTokenInvalid    = "PROXY_TOKEN_INVALID"
	CodeTargetError     = "PROXY_TARGET_ERROR"
)

// ParsedPath is the result of parsing a proxy-mounted request path.
type ParsedPath struct {
	Service    string
	TargetPath string
}

// ParsePath validates path against `{mountPath}/{service}/{targetPath?}`
// (§4.1 "Mount and path grammar"). mountPath is normalized to have no
// trailing slash before matching.
func ParsePath(mountPath, path string) (ParsedPath, error) {
	mount := strings.TrimSuffix(mountPath, "/")
	if !strings.HasPrefix(path, mount) {
		return ParsedPath{}, ctlerrors.New(ctlerrors.KindValidation, CodePathInvalid, "path does not match mount")
	}
	remainder := path[len(mount):]
	if !strings.HasPrefix(remainder, "/") {
		return ParsedPath{}, ctlerrors.New(ctlerrors.KindValidation, CodePathInvalid, "path missing service segment")
	}
	remainder = remainder[1:]
	if remainder == "" {
		return ParsedPath{}, ctlerrors.New(ctlerrors.KindValidation, CodePathInvalid, "path missing service segment")
	}
	parts := strings.SplitN(remainder, "/", 2)
	service := parts[0]
	if service == "" {
		return ParsedPath{}, ctlerrors.New(ctlerrors.KindValidation, CodePathInvalid, "path missing service segment")
	}
	targetPath := "/"
	if len(parts) == 2 {
		targetPath = "/" + parts[1]
	}
	return ParsedPath{Service: service, TargetPath: targetPath}, nil
}

// Context carries per-request state a service's Transform needs.
type Context struct {
	Claims token.Claims
}

// Service is a proxy service registry entry (§4.1 "Service registry").
type Service struct {
	// Target is the upstream base URL. Must not be empty.
	Target string
	// Validate extracts the proxy token from the inbound request. Returns
	// "" if absent.
	Validate func(r *http.Request) string
	// Transform injects real credentials into the outbound request. It may
	// instead return a non-nil *http.Response to short-circuit (used for
	// misconfiguration, e.g. a missing upstream secret).
	Transform func(req *http.Request, ctx Context) (*http.Request, *http.Response)
}

// Registry maps service names to their policy.
type Registry map[string]*Service

// Engine is the Proxy Engine (§4.1 component E).
type Engine struct {
	mountPath string
	registry  Registry
	verifier  func(token string) (token.Claims, error)
	client    *http.Client
	limiter   *Limiter
}

// Options configures a new Engine.
type Options struct {
	MountPath string
	Registry  Registry
	// Secret is the HS256 signing secret used to verify proxy tokens.
	Secret string
	Client  *http.Client
	Limiter *Limiter
}

// New constructs a Proxy Engine.
func New(opts Options) *Engine {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Engine{
		mountPath: strings.TrimSuffix(opts.MountPath, "/"),
		registry:  opts.Registry,
		client:    client,
		limiter:   opts.Limiter,
		verifier: func(tok string) (token.Claims, error) {
			return token.Verify(token.VerifyParams{Secret: opts.Secret, Token: tok})
		},
	}
}

// ServeHTTP implements the §4.1 request pipeline.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parsed, err := ParsePath(e.mountPath, r.URL.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	svc, ok := e.registry[parsed.Service]
	if !ok {
		names := make([]string, 0, len(e.registry))
		for name := range e.registry {
			names = append(names, name)
		}
		writeError(w, http.StatusNotFound, ctlerrors.Newf(ctlerrors.KindProxy, CodeServiceNotFound,
			"unknown service %q; available: %s", parsed.Service, strings.Join(names, ", ")))
		return
	}

	if e.limiter != nil && !e.limiter.Allow(parsed.Service) {
		writeError(w, http.StatusTooManyRequests, ctlerrors.New(ctlerrors.KindProxy, "PROXY_RATE_LIMITED", "rate limit exceeded"))
		return
	}

	tok := svc.Validate(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, ctlerrors.New(ctlerrors.KindProxy, CodeTokenMissing, "missing proxy token"))
		return
	}

	claims, err := e.verifier(tok)
	if err != nil {
		if verr, ok := err.(*token.VerifyError); ok && verr.Kind == token.KindExpired {
			writeError(w, http.StatusUnauthorized, ctlerrors.New(ctlerrors.KindProxy, CodeTokenExpired, "proxy token expired"))
			return
		}
		writeError(w, http.StatusUnauthorized, ctlerrors.New(ctlerrors.KindProxy, CodeTokenInvalid, err.Error()))
		return
	}

	targetURL, err := buildTargetURL(svc.Target, parsed.TargetPath, r.URL.RawQuery)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ctlerrors.Wrap(ctlerrors.KindInternal, "PROXY_TARGET_ERROR", "build target url", err))
		return
	}

	outReq, err := buildForwardRequest(r, targetURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ctlerrors.Wrap(ctlerrors.KindInternal, "PROXY_TARGET_ERROR", "build forward request", err))
		return
	}

	outReq, shortCircuit := svc.Transform(outReq, Context{Claims: claims})
	if shortCircuit != nil {
		forwardResponse(w, shortCircuit)
		return
	}

	resp, err := e.client.Do(outReq)
	if err != nil {
		writeError(w, http.StatusBadGateway, ctlerrors.Newf(ctlerrors.KindProxy, CodeTargetError, "contacting %s: %v", svc.Target, err))
		return
	}
	defer resp.Body.Close()
	forwardResponse(w, resp)
}

// buildTargetURL resolves targetPath (with rawQuery) relative to base,
// ensuring base ends with "/" and targetPath's leading "/" is stripped so
// the upstream base path survives (§4.1 step 4).
func buildTargetURL(base, targetPath, rawQuery string) (*url.URL, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse target base %q: %w", base, err)
	}
	if !strings.HasSuffix(baseURL.Path, "/") {
		baseURL.Path += "/"
	}
	rel, err := url.Parse(strings.TrimPrefix(targetPath, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse target path %q: %w", targetPath, err)
	}
	resolved := baseURL.ResolveReference(rel)
	resolved.RawQuery = rawQuery
	return resolved, nil
}

// buildForwardRequest copies method, headers, and body from r onto a request
// addressed at target. GET/HEAD carry a null body (§4.1 step 5).
func buildForwardRequest(r *http.Request, target *url.URL) (*http.Request, error) {
	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	out.Header = r.Header.Clone()
	return out, nil
}

func forwardResponse(w http.ResponseWriter, resp *http.Response) {
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != nil {
		_, _ = io.Copy(w, resp.Body)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	code := "PROXY_ERROR"
	if ce, ok := ctlerrors.As(err); ok {
		code = ce.Code()
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": code})
}

// localHostPattern matches request hosts the proxy considers "local
// development" per §4.1's host-rewriting rule.
var localHostPattern = regexp.MustCompile(`^(localhost|127\.0\.0\.1)(:\d+)?$`)

// RewriteHostForSandbox rewrites proxyURL's host to the Docker-equivalent
// (host.docker.internal) when reached from localhost/127.0.0.1, so a URL
// handed to a sandbox container resolves back to the control plane. It is a
// no-op for any other host (§4.1 "Host rewriting for local development").
func RewriteHostForSandbox(requestHost, proxyURL string) string {
	if !localHostPattern.MatchString(requestHost) {
		return proxyURL
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return proxyURL
	}
	host := "host.docker.internal"
	if port := u.Port(); port != "" {
		host = host + ":" + port
	}
	u.Host = host
	return u.String()
}
