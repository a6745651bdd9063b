package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/mattzcarey/sandbox-mcp/internal/ctlerrors"
	"github.com/mattzcarey/sandbox-mcp/internal/objectstore"
	"github.com/mattzcarey/sandbox-mcp/internal/storekey"
)

// restoreThreshold is the size above which the restore archive is streamed
// through exec in base64 chunks rather than a single WriteFile call (§4.3
// step 2: "base64-chunk through exec if >100KB").
const restoreThreshold = 100 * 1024

// PrepareParams are the inputs to EnsureSandboxReady.
type PrepareParams struct {
	SessionID         string
	ContainerProxyURL string
	ProxyToken        string
	RepositoryURL     string
	Branch            string
	GitUserEmail      string
	GitUserName       string
}

// PrepareResult is the §4.3 step 2 output.
type PrepareResult struct {
	WorkspacePath   string
	RestoredBackup  bool
	ClonedRepo      bool
	ConfiguredProxy bool
}

// EnsureSandboxReady performs the idempotent sandbox preparation sequence
// (§4.3 step 2). Every check-then-act pair is safe to run repeatedly: a
// second call against an already-prepared sandbox skips the proxy setup,
// the backup restore and the clone, but still runs "git fetch" (and the
// branch checkout, when a branch is given) in the existing clone.
func EnsureSandboxReady(ctx context.Context, h Handle, objects objectstore.Store, p PrepareParams) (PrepareResult, error) {
	var result PrepareResult

	configured, err := ensureProxyConfigured(ctx, h, p)
	if err != nil {
		return result, err
	}
	result.ConfiguredProxy = configured

	restored, err := ensureAgentStateRestored(ctx, h, objects, p.SessionID)
	if err != nil {
		return result, err
	}
	result.RestoredBackup = restored

	workspacePath, cloned, err := ensureRepoReady(ctx, h, p.RepositoryURL, p.Branch)
	if err != nil {
		return result, err
	}
	result.WorkspacePath = workspacePath
	result.ClonedRepo = cloned

	return result, nil
}

func ensureProxyConfigured(ctx context.Context, h Handle, p PrepareParams) (bool, error) {
	const envPath = "/workspace/.env"
	exists, err := h.FileExists(ctx, envPath)
	if err != nil {
		return false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "check .env", err)
	}
	alreadyConfigured := false
	if exists {
		rc, err := h.ReadFile(ctx, envPath)
		if err != nil {
			return false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "read .env", err)
		}
		body, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "read .env", err)
		}
		alreadyConfigured = strings.Contains(string(body), "ANTHROPIC_BASE_URL")
	}
	if alreadyConfigured {
		return false, nil
	}

	lines := fmt.Sprintf("\nANTHROPIC_BASE_URL=%s/proxy/anthropic\nANTHROPIC_API_KEY=%s\n",
		p.ContainerProxyURL, p.ProxyToken)
	appendCmd := []string{"sh", "-c", fmt.Sprintf("cat >> %s", envPath)}
	if _, err := h.Exec(ctx, appendCmd, ExecOptions{Stdin: strings.NewReader(lines)}); err != nil {
		return false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "append .env", err)
	}

	gitHeader := fmt.Sprintf("Authorization: Bearer %s", p.ProxyToken)
	rewriteTarget := fmt.Sprintf("%s/proxy/github/", p.ContainerProxyURL)
	gitCommands := [][]string{
		{"git", "config", "--global", fmt.Sprintf("url.%s.insteadOf", rewriteTarget), "https://github.com/"},
		{"git", "config", "--global", "http.https://github.com/.extraheader", gitHeader},
		{"git", "config", "--global", "user.email", p.GitUserEmail},
		{"git", "config", "--global", "user.name", p.GitUserName},
	}
	for _, cmd := range gitCommands {
		if _, err := h.Exec(ctx, cmd, ExecOptions{}); err != nil {
			return false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "configure git", err)
		}
	}
	return true, nil
}

func ensureAgentStateRestored(ctx context.Context, h Handle, objects objectstore.Store, sessionID string) (bool, error) {
	const stateDir = "~/.local/share/opencode/storage"
	exists, err := h.FileExists(ctx, stateDir)
	if err != nil {
		return false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "check agent state dir", err)
	}
	if exists {
		return false, nil
	}

	obj, err := objects.Get(ctx, storekey.SessionBackup(sessionID))
	if err != nil {
		if err == objectstore.ErrNotFound {
			return false, nil
		}
		return false, ctlerrors.Wrap(ctlerrors.KindStorageRead, "STORAGE_READ_ERROR", "read backup archive", err)
	}

	const archivePath = "/tmp/opencode-storage.tar.gz"
	if err := streamIntoSandbox(ctx, h, archivePath, obj.Body); err != nil {
		return false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "stream restore archive", err)
	}
	untar := []string{"sh", "-c", fmt.Sprintf("mkdir -p ~/.local/share/opencode && tar -xzf %s -C ~/.local/share/opencode", archivePath)}
	if _, err := h.Exec(ctx, untar, ExecOptions{}); err != nil {
		return false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "untar restore archive", err)
	}
	return true, nil
}

// streamIntoSandbox writes body into the sandbox at path. Bodies larger than
// restoreThreshold are base64-chunked through exec rather than a single
// WriteFile call (§4.3 step 2), since the RPC transport to the sandbox may
// not support arbitrarily large single writes.
func streamIntoSandbox(ctx context.Context, h Handle, path string, body []byte) error {
	if len(body) <= restoreThreshold {
		return h.WriteFile(ctx, path, strings.NewReader(string(body)))
	}
	const chunkSize = 64 * 1024
	first := true
	for start := 0; start < len(body); start += chunkSize {
		end := start + chunkSize
		if end > len(body) {
			end = len(body)
		}
		encoded := base64.StdEncoding.EncodeToString(body[start:end])
		redirect := ">>"
		if first {
			redirect = ">"
			first = false
		}
		cmd := []string{"sh", "-c", fmt.Sprintf("base64 -d %s %s", redirect, path)}
		if _, err := h.Exec(ctx, cmd, ExecOptions{Stdin: strings.NewReader(encoded)}); err != nil {
			return err
		}
	}
	return nil
}

func ensureRepoReady(ctx context.Context, h Handle, repositoryURL, branch string) (string, bool, error) {
	if repositoryURL == "" {
		return "/workspace", false, nil
	}
	repoName := repoNameFromURL(repositoryURL)
	workspacePath := "/workspace/" + repoName

	exists, err := h.FileExists(ctx, workspacePath+"/.git")
	if err != nil {
		return "", false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "check repo clone", err)
	}

	if !exists {
		defaultBranch := "main"
		cmd := []string{"git", "clone", "--branch", defaultBranch, repositoryURL, workspacePath}
		if _, err := h.Exec(ctx, cmd, ExecOptions{}); err != nil {
			return "", false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "clone repo", err)
		}
		if branch != "" && branch != defaultBranch {
			if _, err := h.Exec(ctx, []string{"git", "checkout", branch}, ExecOptions{Dir: workspacePath}); err != nil {
				return "", false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "checkout branch", err)
			}
		}
		return workspacePath, true, nil
	}

	if _, err := h.Exec(ctx, []string{"git", "fetch"}, ExecOptions{Dir: workspacePath}); err != nil {
		return "", false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "fetch repo", err)
	}
	if branch != "" {
		if _, err := h.Exec(ctx, []string{"git", "checkout", branch}, ExecOptions{Dir: workspacePath}); err != nil {
			return "", false, ctlerrors.Wrap(ctlerrors.KindInternal, "SANDBOX_PREPARE_ERROR", "checkout branch", err)
		}
	}
	return workspacePath, false, nil
}

func repoNameFromURL(repositoryURL string) string {
	trimmed := strings.TrimSuffix(repositoryURL, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}
