// Command sandbox-mcp runs the control plane: the authenticating reverse
// proxy, session/run stores, the task-execution workflow, and the
// run_task/get_result/list_runs tool dispatch surface, all behind one HTTP
// listener.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	temporalclient "go.temporal.io/sdk/client"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mattzcarey/sandbox-mcp/internal/agentio"
	"github.com/mattzcarey/sandbox-mcp/internal/config"
	"github.com/mattzcarey/sandbox-mcp/internal/ctlerrors"
	"github.com/mattzcarey/sandbox-mcp/internal/dispatcher"
	"github.com/mattzcarey/sandbox-mcp/internal/objectstore"
	"github.com/mattzcarey/sandbox-mcp/internal/objectstore/memory"
	objmongo "github.com/mattzcarey/sandbox-mcp/internal/objectstore/mongo"
	objredis "github.com/mattzcarey/sandbox-mcp/internal/objectstore/redis"
	"github.com/mattzcarey/sandbox-mcp/internal/proxy"
	runpkg "github.com/mattzcarey/sandbox-mcp/internal/run"
	"github.com/mattzcarey/sandbox-mcp/internal/sandbox"
	"github.com/mattzcarey/sandbox-mcp/internal/session"
	"github.com/mattzcarey/sandbox-mcp/internal/taskworkflow"
	"github.com/mattzcarey/sandbox-mcp/internal/telemetry"
	"github.com/mattzcarey/sandbox-mcp/internal/workflow"
	"github.com/mattzcarey/sandbox-mcp/internal/workflow/inmem"
	"github.com/mattzcarey/sandbox-mcp/internal/workflow/temporalengine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	objects, closeObjects, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}
	defer closeObjects()

	sessions := session.New(objects)
	runs := runpkg.New(objects)

	// The sandbox runtime is an external collaborator this control plane
	// never implements itself (internal/sandbox's own package doc); no
	// concrete provisioner SDK is named anywhere in the retrieved pack for
	// this spec, so the fake in-memory adapter stands in as the pluggable
	// default until a real one is wired in for a given deployment.
	sandboxes := sandbox.NewFakeAdapter()

	eng, stopEngine, err := buildWorkflowEngine(cfg)
	if err != nil {
		return fmt.Errorf("build workflow engine: %w", err)
	}
	defer stopEngine()

	if err := taskworkflow.Register(eng, taskworkflow.Dependencies{
		Sessions:       sessions,
		Runs:           runs,
		Sandboxes:      sandboxes,
		Objects:        objects,
		NewAgentClient: func(baseURL string) agentio.AgentClient { return agentio.NewHTTPClient(baseURL) },
		Logger:         logger,
	}); err != nil {
		return fmt.Errorf("register task workflow: %w", err)
	}

	sweeper := runpkg.NewSweeper(runs, cfg.SweepInterval, cfg.SweepGrace, logger)
	go sweeper.Run(ctx)

	disp := dispatcher.New(dispatcher.Config{
		BaseURL:           cfg.BaseURL,
		ContainerProxyURL: cfg.ContainerProxyURL,
		TokenSecret:       cfg.ProxyJWTSecret,
		DefaultModel:      cfg.DefaultModel,
	}, dispatcher.Dependencies{
		Sessions: sessions,
		Runs:     runs,
		Engine:   eng,
		Logger:   logger,
		Metrics:  metrics,
	})

	proxyEngine := proxy.New(proxy.Options{
		MountPath: "/proxy",
		Registry:  buildProxyRegistry(cfg),
		Secret:    cfg.ProxyJWTSecret,
		Limiter:   proxy.NewLimiter(cfg.ProxyRateLimitRPS, cfg.ProxyRateLimitBurst),
	})

	mux := buildMux(cfg, disp, proxyEngine, sessions, sandboxes, logger)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("sandbox-mcp listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildObjectStore constructs the objectstore.Store named by
// cfg.ObjectStoreBackend, returning a cleanup func that closes any
// underlying client connection.
func buildObjectStore(ctx context.Context, cfg config.Config) (objectstore.Store, func(), error) {
	switch cfg.ObjectStoreBackend {
	case "memory":
		return memory.New(), func() {}, nil
	case "mongo":
		client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		store, err := objmongo.New(objmongo.Options{
			Client:     client,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
		})
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("build mongo store: %w", err)
		}
		return store, func() { _ = client.Disconnect(context.Background()) }, nil
	case "redis":
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		store, err := objredis.New(objredis.Options{Client: client})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("build redis store: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown object store backend %q", cfg.ObjectStoreBackend)
	}
}

// buildWorkflowEngine constructs the workflow.Engine named by
// cfg.WorkflowEngine.
func buildWorkflowEngine(cfg config.Config) (workflow.Engine, func(), error) {
	switch cfg.WorkflowEngine {
	case "inmem":
		return inmem.New(), func() {}, nil
	case "temporal":
		client, err := temporalclient.NewLazyClient(temporalclient.Options{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create temporal client: %w", err)
		}
		eng, err := temporalengine.New(temporalengine.Options{
			Client:    client,
			TaskQueue: cfg.TemporalTaskQueue,
		})
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("build temporal engine: %w", err)
		}
		return eng, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown workflow engine %q", cfg.WorkflowEngine)
	}
}

// buildProxyRegistry wires the two upstream services (§4.1), reading their
// real secrets fresh from the environment on every proxied request.
func buildProxyRegistry(cfg config.Config) proxy.Registry {
	return proxy.Registry{
		"anthropic": proxy.AnthropicServiceFunc(cfg.AnthropicBaseURL, func() string { return os.Getenv("ANTHROPIC_API_KEY") }),
		"github":    proxy.GitHubServiceFunc(cfg.GitHubBaseURL, func() string { return os.Getenv("GITHUB_TOKEN") }),
	}
}

const sessionCookieName = "opencode_session_id"

func buildMux(cfg config.Config, disp *dispatcher.Dispatcher, proxyEngine *proxy.Engine, sessions *session.Store, sandboxes sandbox.Adapter, logger telemetry.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/mcp", requireBearer(cfg.AuthToken, mcpHandler(disp)))
	mux.HandleFunc("/mcp/", requireBearer(cfg.AuthToken, mcpHandler(disp)))

	mux.HandleFunc("/proxy/", proxyEngine.ServeHTTP)

	mux.HandleFunc("GET /session/{id}", sessionRedirectHandler(sessions))

	mux.HandleFunc("/", catchAllHandler(sandboxes, logger))

	return mux
}

// requireBearer enforces the AUTH_TOKEN bearer on the /mcp surface (§6:
// "401 on missing/mismatch"), comparing in constant time so response
// latency cannot be used to guess the token byte by byte.
func requireBearer(authToken string, next http.HandlerFunc) http.HandlerFunc {
	const prefix = "Bearer "
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		got := auth[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(got), []byte(authToken)) != 1 {
			writeJSONError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next(w, r)
	}
}

// rpcRequest/rpcResponse are the JSON-RPC 2.0 envelope the tool protocol
// travels in (§4.4/§6: "JSON-RPC tool protocol").
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func mcpHandler(disp *dispatcher.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeRPCError(w, nil, -32700, "parse error: "+err.Error())
			return
		}
		if req.Method != "tools/call" {
			writeRPCError(w, req.ID, -32601, fmt.Sprintf("method %q not found", req.Method))
			return
		}
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeRPCError(w, req.ID, -32602, "invalid params: "+err.Error())
			return
		}
		requestID := requestIDFor(req.ID)
		out, _ := disp.Dispatch(r.Context(), requestID, params.Name, params.Arguments)
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: out})
	}
}

func requestIDFor(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func sessionRedirectHandler(sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		sess, err := sessions.GetSession(r.Context(), id)
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, err)
			return
		}
		if sess == nil {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", id))
			return
		}

		origin := requestOrigin(r)
		encodedWorkspace := base64.RawURLEncoding.EncodeToString([]byte(sess.WorkspacePath))
		target := "/" + encodedWorkspace + "/session"
		if sess.OpencodeSessionID != "" {
			target += "/" + sess.OpencodeSessionID
		}
		target += "?url=" + url.QueryEscape(origin)

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    sess.SessionID,
			Path:     "/",
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// catchAllHandler serves the informational default JSON when no session
// cookie is present, and otherwise reverse-proxies to the sandbox's exposed
// coding-agent port (§6: "Any other path with the session cookie present is
// reverse-proxied to the sandbox").
func catchAllHandler(sandboxes sandbox.Adapter, logger telemetry.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"service": telemetry.Service,
				"endpoints": []string{
					"GET /health",
					"POST /mcp",
					"ANY /proxy/{service}/...",
					"GET /session/{id}",
				},
			})
			return
		}

		handle, err := sandboxes.Handle(r.Context(), cookie.Value)
		if err != nil {
			logger.Warn(r.Context(), "catch-all: acquire sandbox handle failed", "sessionId", cookie.Value, "error", err.Error())
			writeJSONError(w, http.StatusBadGateway, "sandbox unavailable")
			return
		}
		exposedURL, err := handle.ExposePort(r.Context(), agentio.AgentPort)
		if err != nil {
			logger.Warn(r.Context(), "catch-all: expose port failed", "sessionId", cookie.Value, "error", err.Error())
			writeJSONError(w, http.StatusBadGateway, "sandbox unavailable")
			return
		}
		target, err := url.Parse(exposedURL)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "invalid sandbox url")
			return
		}

		rp := &httputil.ReverseProxy{
			Director: func(req *http.Request) {
				req.URL.Scheme = target.Scheme
				req.URL.Host = target.Host
				// Path, query, and headers are preserved from the original request.
			},
		}
		rp.ServeHTTP(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": "ERROR"})
}

// writeErrorResponse extracts a structured code from err when it carries one
// (mirrors internal/proxy's writeError), falling back to a generic code
// otherwise.
func writeErrorResponse(w http.ResponseWriter, status int, err error) {
	code := "ERROR"
	if ce, ok := ctlerrors.As(err); ok {
		code = ce.Code()
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}
