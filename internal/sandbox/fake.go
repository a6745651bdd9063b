package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// FakeHandle is an in-memory Handle implementation used by tests throughout
// the codebase, following Hyper-Int-OrcaBot's MockLauncher idiom (a small
// in-memory stand-in for the remote resource, with exported Fail* knobs and
// test-only inspection helpers rather than a full mock-generator).
type FakeHandle struct {
	mu    sync.Mutex
	files map[string][]byte

	// Commands records every Exec/StartProcess invocation in order, for
	// assertions on what the preparation sequence actually ran.
	Commands [][]string

	// FailExec, if set, is returned by every Exec call instead of running it.
	FailExec error
}

// NewFakeHandle returns a FakeHandle with no files.
func NewFakeHandle() *FakeHandle {
	return &FakeHandle{files: make(map[string][]byte)}
}

// SeedFile pre-populates a file as if it already existed in the sandbox.
func (f *FakeHandle) SeedFile(path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), content...)
}

// Exec implements Handle. It simulates the effects of append-to-file via
// "cat >>" with stdin, the backup-restore untar script, and "git clone"
// (which creates <dest>/.git); every other command, including the base64
// chunk writes, is only recorded.
func (f *FakeHandle) Exec(_ context.Context, cmd []string, opts ExecOptions) (ExecResult, error) {
	f.mu.Lock()
	f.Commands = append(f.Commands, cmd)
	f.mu.Unlock()

	if f.FailExec != nil {
		return ExecResult{}, f.FailExec
	}

	if len(cmd) == 3 && cmd[0] == "sh" && cmd[1] == "-c" {
		script := cmd[2]
		if path, ok := parseAppendScript(script); ok && opts.Stdin != nil {
			body, err := io.ReadAll(opts.Stdin)
			if err != nil {
				return ExecResult{}, err
			}
			f.mu.Lock()
			f.files[path] = append(f.files[path], body...)
			f.mu.Unlock()
			return ExecResult{ExitCode: 0}, nil
		}
		if destDir, ok := parseUntarScript(script); ok {
			f.mu.Lock()
			f.files[destDir+"/storage"] = []byte{}
			f.mu.Unlock()
			return ExecResult{ExitCode: 0}, nil
		}
	}
	if len(cmd) >= 3 && cmd[0] == "git" && cmd[1] == "clone" {
		f.mu.Lock()
		f.files[cmd[len(cmd)-1]+"/.git"] = []byte{}
		f.mu.Unlock()
	}
	return ExecResult{ExitCode: 0}, nil
}

func parseAppendScript(script string) (string, bool) {
	const prefix = "cat >> "
	if len(script) > len(prefix) && script[:len(prefix)] == prefix {
		return script[len(prefix):], true
	}
	return "", false
}

// parseUntarScript recognizes ensureAgentStateRestored's
// "mkdir -p <dir> && tar -xzf <archive> -C <dir>" script and returns <dir>,
// the extraction target, so Exec can simulate the archive having landed —
// real tar would populate <dir>/storage from the backup's contents, which is
// exactly what ensureAgentStateRestored checks for on its next call.
func parseUntarScript(script string) (string, bool) {
	if !strings.Contains(script, "tar -xzf") {
		return "", false
	}
	const marker = " -C "
	idx := strings.Index(script, marker)
	if idx == -1 {
		return "", false
	}
	rest := strings.TrimSpace(script[idx+len(marker):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// ReadFile implements Handle.
func (f *FakeHandle) ReadFile(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("fake sandbox: %s: %w", path, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// WriteFile implements Handle.
func (f *FakeHandle) WriteFile(_ context.Context, path string, content io.Reader) error {
	body, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = body
	return nil
}

// FileExists implements Handle.
func (f *FakeHandle) FileExists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok, nil
}

// StartProcess implements Handle. The fake never actually starts anything;
// it returns a no-op Process and records the call like Exec.
func (f *FakeHandle) StartProcess(_ context.Context, cmd []string, _ ExecOptions) (Process, error) {
	f.mu.Lock()
	f.Commands = append(f.Commands, cmd)
	f.mu.Unlock()
	return noopProcess{}, nil
}

// ExposePort implements Handle with a deterministic fake URL.
func (f *FakeHandle) ExposePort(_ context.Context, port int) (string, error) {
	return fmt.Sprintf("https://fake-sandbox.local:%d", port), nil
}

type noopProcess struct{}

func (noopProcess) Close(context.Context) error { return nil }

var _ Handle = (*FakeHandle)(nil)

// FakeAdapter vends a FakeHandle per sandbox id, creating one on first
// access. Tests that need to inspect a specific sandbox's state after a
// workflow run look it up by id via Handles.
type FakeAdapter struct {
	mu      sync.Mutex
	Handles map[string]*FakeHandle
}

// NewFakeAdapter returns an adapter with no sandboxes yet provisioned.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{Handles: make(map[string]*FakeHandle)}
}

// Handle implements Adapter, returning the same FakeHandle for repeat calls
// with the same sandboxID, and creating a fresh one on first use.
func (a *FakeAdapter) Handle(_ context.Context, sandboxID string) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.Handles[sandboxID]
	if !ok {
		h = NewFakeHandle()
		a.Handles[sandboxID] = h
	}
	return h, nil
}

var _ Adapter = (*FakeAdapter)(nil)
