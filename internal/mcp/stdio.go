package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/toolbridge-ai/toolbridge/internal/logging"
)

// StdioChannel speaks newline-delimited JSON-RPC to a child process over
// its stdin/stdout.
type StdioChannel struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	corr    *Correlator
	writeMu sync.Mutex
	closed  atomic.Bool
	onClose func(error)
	log     zerolog.Logger
}

// newStdioChannel spawns the configured command and starts the read loop.
// On mobile runtimes it fails with ErrPlatformUnsupported before any
// spawn attempt.
func newStdioChannel(def *ServerDefinition, corr *Correlator, onClose func(error)) (*StdioChannel, error) {
	if !spawnSupported() {
		return nil, fmt.Errorf("%w: stdio transport requested on %s", ErrPlatformUnsupported, runtime.GOOS)
	}

	cmd := exec.Command(def.Command, def.Arguments...)
	cmd.Env = os.Environ()
	for k, v := range def.Environment {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessSpawn, err)
	}

	if err := startProcess(cmd); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrProcessSpawn, def.Command, err)
	}

	t := &StdioChannel{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		corr:    corr,
		onClose: onClose,
		log:     logging.Component("transport.stdio").With().Str("server", def.ID).Logger(),
	}

	go t.readLoop()

	return t, nil
}

// readLoop reads one JSON object per line until the process closes its
// output, then fails every pending request.
func (t *StdioChannel) readLoop() {
	for {
		line, err := t.stdout.ReadBytes('\n')
		if err != nil {
			t.fail(fmt.Errorf("%w: server process closed its output: %v", ErrTransport, err))
			return
		}

		var resp JSONRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			t.log.Debug().Err(err).Msg("skipping unparseable line")
			continue
		}

		dispatchResponse(t.corr, &resp)
	}
}

// Send writes one request line and awaits the correlated response.
func (t *StdioChannel) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("%w: channel closed", ErrTransport)
	}

	id := t.corr.NextID()
	ch := t.corr.Register(id, registerTimeout(ctx))

	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := t.writeMessage(req); err != nil {
		t.corr.Reject(id, err)
		out := <-ch
		return nil, out.Err
	}

	return awaitOutcome(ctx, t.corr, id, ch)
}

// Notify writes one notification line (no id, no response expected).
func (t *StdioChannel) Notify(ctx context.Context, method string, params any) error {
	if t.closed.Load() {
		return fmt.Errorf("%w: channel closed", ErrTransport)
	}
	return t.writeMessage(JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params})
}

// writeMessage serializes and writes one newline-terminated frame.
// Writes to the single underlying stream are serialized.
func (t *StdioChannel) writeMessage(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// fail marks the channel dead after an unexpected error, drains pending
// requests, and notifies the owner. First caller wins.
func (t *StdioChannel) fail(err error) {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.log.Warn().Err(err).Msg("stdio channel died")
	t.corr.RejectAll(err)
	if t.onClose != nil {
		t.onClose(err)
	}
}

// Close kills the child process and fails all pending requests. A close
// initiated here does not count as unexpected death.
func (t *StdioChannel) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		t.corr.RejectAll(fmt.Errorf("%w: channel closed", ErrTransport))
	}

	t.stdin.Close()
	if t.cmd.Process != nil {
		err := t.cmd.Process.Kill()
		go t.cmd.Wait() // reap
		return err
	}
	return nil
}
