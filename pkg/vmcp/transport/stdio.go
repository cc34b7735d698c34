// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpmesh/pkg/logger"
	"github.com/stacklok/mcpmesh/pkg/vmcp"
)

// stdioScanBufferSize bounds a single newline-delimited message (10 MB).
const stdioScanBufferSize = 10 * 1024 * 1024

// Stdio is a transport that spawns a child process and exchanges
// newline-delimited JSON-RPC messages over its stdin/stdout. Stderr lines
// are forwarded to the connection's log sink. The child exits on stdin EOF.
type Stdio struct {
	command string
	args    []string
	env     map[string]string
	cwd     string
	logSink func(line string)

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[string]chan *transport.JSONRPCResponse

	notifyMu sync.RWMutex
	notify   func(mcp.JSONRPCNotification)

	closeOnce sync.Once
	closed    chan struct{}
	onClose   func()

	started bool
}

// NewStdio creates a STDIO transport for the given command. logSink receives
// the child's stderr lines; pass nil to log them at debug level.
func NewStdio(spec *vmcp.StdioCommand, logSink func(line string)) *Stdio {
	if logSink == nil {
		logSink = func(line string) { logger.Debugf("stdio child stderr: %s", line) }
	}
	return &Stdio{
		command: spec.Command,
		args:    spec.Args,
		env:     spec.Env,
		cwd:     spec.Cwd,
		logSink: logSink,
		pending: make(map[string]chan *transport.JSONRPCResponse),
		closed:  make(chan struct{}),
	}
}

// SetOnClose registers a hook invoked exactly once when the transport
// reaches its terminal closed state (explicit Close or child exit).
func (t *Stdio) SetOnClose(hook func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = hook
}

// Start spawns the child process and begins receiving. It returns once the
// process is running; it does not wait for the MCP handshake.
func (t *Stdio) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("stdio transport already started")
	}
	select {
	case <-t.closed:
		return vmcp.ErrTransportClosed
	default:
	}

	cmd := exec.Command(t.command, t.args...)
	cmd.Dir = t.cwd
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn %s: %w", t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.started = true

	go t.readLoop(stdout)
	go t.stderrLoop(stderr)
	go func() {
		// Reap the child and drive the terminal close event when it exits
		// on its own.
		_ = cmd.Wait()
		t.terminate()
	}()

	return nil
}

// SendRequest writes one request line and blocks until the matching
// response arrives, the context is done, or the transport closes.
func (t *Stdio) SendRequest(ctx context.Context, request transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	key := request.ID.String()
	ch := make(chan *transport.JSONRPCResponse, 1)

	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		return nil, vmcp.ErrTransportClosed
	default:
	}
	if !t.started {
		t.mu.Unlock()
		return nil, fmt.Errorf("stdio transport not started")
	}
	t.pending[key] = ch
	// Outgoing messages preserve submission order: the write happens under
	// the same lock that registered the waiter.
	_, err = t.stdin.Write(append(data, '\n'))
	t.mu.Unlock()

	if err != nil {
		t.removePending(key)
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.removePending(key)
		return nil, ctx.Err()
	case <-t.closed:
		return nil, vmcp.ErrTransportClosed
	}
}

// SendNotification writes one notification line without waiting.
func (t *Stdio) SendNotification(_ context.Context, notification mcp.JSONRPCNotification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return vmcp.ErrTransportClosed
	default:
	}
	if !t.started {
		return fmt.Errorf("stdio transport not started")
	}
	_, err = t.stdin.Write(append(data, '\n'))
	return err
}

// SetNotificationHandler sets the single consumer for incoming
// notifications. Notifications before the handler is set are discarded.
func (t *Stdio) SetNotificationHandler(handler func(notification mcp.JSONRPCNotification)) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	t.notify = handler
}

// Close terminates the child process and releases resources. Idempotent.
func (t *Stdio) Close() error {
	t.terminate()
	return nil
}

// GetSessionId implements transport.Interface; stdio has no session ids.
func (*Stdio) GetSessionId() string {
	return ""
}

func (t *Stdio) terminate() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		close(t.closed)
		// All in-flight requests fail with the same terminal error; waiters
		// observe the closed channel.
		t.pending = make(map[string]chan *transport.JSONRPCResponse)
		hook := t.onClose
		t.mu.Unlock()

		if hook != nil {
			hook()
		}
	})
}

func (t *Stdio) removePending(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, key)
}

// readLoop routes stdout lines to waiters and the notification handler.
// Responses are correlated by id, not by order.
func (t *Stdio) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), stdioScanBufferSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.dispatch(line)
	}
	t.terminate()
}

func (t *Stdio) dispatch(line []byte) {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		logger.Warnf("Dropping malformed stdio message: %v", err)
		return
	}

	if probe.Method != "" && probe.ID == nil {
		var notification mcp.JSONRPCNotification
		if err := json.Unmarshal(line, &notification); err != nil {
			logger.Warnf("Dropping malformed stdio notification: %v", err)
			return
		}
		t.notifyMu.RLock()
		handler := t.notify
		t.notifyMu.RUnlock()
		if handler != nil {
			handler(notification)
		}
		return
	}

	var response transport.JSONRPCResponse
	if err := json.Unmarshal(line, &response); err != nil {
		logger.Warnf("Dropping malformed stdio response: %v", err)
		return
	}

	key := response.ID.String()
	t.mu.Lock()
	ch, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()

	if ok {
		ch <- &response
	} else {
		logger.Debugf("Dropping stdio response with unknown id %s", key)
	}
}

func (t *Stdio) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), stdioScanBufferSize)
	for scanner.Scan() {
		t.logSink(scanner.Text())
	}
}
