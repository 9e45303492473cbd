package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// StdioConfig configures a subprocess transport. The provider runs as a
// child process and exchanges newline-delimited JSON-RPC on stdin/stdout.
type StdioConfig struct {
	Command string
	Args    []string

	// Env entries ("KEY=VALUE") are appended to the parent environment.
	Env []string

	Logger *slog.Logger
}

// StdioTransport talks to a tool provider subprocess. One message per line;
// the mutex serializes calls since the pipe pair is inherently sequential.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
}

// NewStdioTransport launches the provider subprocess and returns the
// transport. The caller owns the process lifetime via Close.
func NewStdioTransport(cfg StdioConfig) (*StdioTransport, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start provider %s: %w", cfg.Command, err)
	}

	t := &StdioTransport{
		config: cfg,
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReaderSize(stdout, 1<<20),
	}
	go t.drainStderr(stderr)

	logger.Info("tool provider subprocess started",
		"command", cfg.Command,
		"pid", cmd.Process.Pid,
	)
	return t, nil
}

// drainStderr keeps the subprocess from blocking on a full stderr pipe.
// Lines are surfaced at debug level; they are not part of the protocol.
func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("tool provider stderr", "line", scanner.Text())
	}
}

type lineResult struct {
	line []byte
	err  error
}

// Send writes one request line and reads lines until a response with the
// matching ID arrives. Reads happen on a goroutine so cancellation can
// interrupt a blocked read; on cancellation the subprocess is torn down,
// there is no way to abandon a single in-flight call on a shared pipe.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil {
		return nil, fmt.Errorf("provider subprocess not running")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.teardown()
		return nil, fmt.Errorf("write to provider stdin: %w", err)
	}

	for {
		ch := make(chan lineResult, 1)
		go func() {
			line, readErr := t.reader.ReadBytes('\n')
			ch <- lineResult{line: line, err: readErr}
		}()

		select {
		case <-ctx.Done():
			t.teardown()
			return nil, ctx.Err()
		case res := <-ch:
			if res.err != nil {
				t.teardown()
				return nil, fmt.Errorf("read from provider stdout: %w", res.err)
			}

			var resp Response
			if err := json.Unmarshal(res.line, &resp); err != nil {
				t.logger.Debug("skipping non-JSON provider output", "line", string(res.line))
				continue
			}
			if resp.ID == req.ID {
				return &resp, nil
			}
			// Server-initiated notifications and stale responses are
			// skipped until the matching ID shows up.
			t.logger.Debug("skipping unmatched provider message", "id", resp.ID)
		}
	}
}

// Notify writes one notification line. Nothing is read back.
func (t *StdioTransport) Notify(ctx context.Context, notif *Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil {
		return fmt.Errorf("provider subprocess not running")
	}

	data, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.teardown()
		return fmt.Errorf("write notification to provider stdin: %w", err)
	}
	return nil
}

// Close stops the subprocess, waiting briefly for a clean exit before
// killing it.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	pid := t.cmd.Process.Pid
	if t.stdin != nil {
		t.stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	select {
	case err := <-done:
		t.cmd = nil
		return err
	case <-time.After(5 * time.Second):
		t.logger.Warn("tool provider did not exit, killing", "pid", pid)
		_ = t.cmd.Process.Kill()
		<-done
		t.cmd = nil
		return nil
	}
}

// teardown kills the subprocess after a pipe failure. Caller holds t.mu.
func (t *StdioTransport) teardown() {
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		_ = t.cmd.Wait()
	}
	t.cmd = nil
	t.stdin = nil
	t.reader = nil
}
