// Package processtool runs and tracks background processes, optionally
// attached to a pseudo-terminal.
package processtool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/shlex"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultMaxOutput = 1 << 20

var ErrNotFound = errors.New("process not found")

// outputBuffer is the shared stdout/stderr sink. Output past max is dropped.
type outputBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *outputBuffer) snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String(), b.truncated
}

type process struct {
	id        string
	command   string
	cmd       *exec.Cmd
	out       *outputBuffer
	createdAt time.Time
	done      chan struct{}

	mu       sync.Mutex
	tty      *os.File
	stdin    io.WriteCloser
	exitCode int
}

type StartOptions struct {
	Command string
	// Argv, when set, is executed instead of splitting Command.
	Argv    []string
	Workdir string
	// Env entries are KEY=VALUE and extend the gateway's environment.
	Env []string
	Pty bool
}

type StartResult struct {
	SessionID string `json:"sessionId"`
	PID       int    `json:"pid"`
	Command   string `json:"command"`
	Pty       bool   `json:"pty,omitempty"`
}

type Info struct {
	SessionID string    `json:"sessionId"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Status    string    `json:"status"`
	ExitCode  *int      `json:"exitCode,omitempty"`
	Pty       bool      `json:"pty"`
	CreatedAt time.Time `json:"createdAt"`
}

type LogResult struct {
	SessionID string `json:"sessionId"`
	Offset    int    `json:"offset"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
	Status    string `json:"status"`
}

type Manager struct {
	mu        sync.Mutex
	procs     map[string]*process
	maxOutput int
	log       zerolog.Logger
}

type Option func(*Manager)

func WithMaxOutput(n int) Option {
	return func(m *Manager) { m.maxOutput = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		procs:     make(map[string]*process),
		maxOutput: DefaultMaxOutput,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Start(opts StartOptions) (StartResult, error) {
	argv := opts.Argv
	if len(argv) == 0 {
		var err error
		if argv, err = shlex.Split(opts.Command); err != nil {
			return StartResult{}, fmt.Errorf("parse command: %w", err)
		}
	}
	if len(argv) == 0 {
		return StartResult{}, errors.New("command is required")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Workdir
	cmd.WaitDelay = time.Second
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	p := &process{
		id:        uuid.NewString(),
		command:   opts.Command,
		cmd:       cmd,
		out:       &outputBuffer{max: m.maxOutput},
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}

	if opts.Pty {
		tty, err := pty.Start(cmd)
		if err != nil {
			return StartResult{}, fmt.Errorf("pty start failed: %w", err)
		}
		p.tty = tty
		go io.Copy(p.out, tty)
	} else {
		cmd.Stdout = p.out
		cmd.Stderr = p.out
		var err error
		p.stdin, err = cmd.StdinPipe()
		if err != nil {
			return StartResult{}, fmt.Errorf("create stdin pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return StartResult{}, fmt.Errorf("start failed: %w", err)
		}
	}

	m.mu.Lock()
	m.procs[p.id] = p
	m.mu.Unlock()

	m.log.Info().Str("session", p.id).Int("pid", cmd.Process.Pid).Bool("pty", opts.Pty).
		Str("command", argv[0]).Msg("process started")

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitCode = cmd.ProcessState.ExitCode()
		p.mu.Unlock()
		close(p.done)
		m.log.Info().Str("session", p.id).Int("exit_code", p.exitCode).AnErr("wait", err).Msg("process ended")
	}()

	return StartResult{SessionID: p.id, PID: cmd.Process.Pid, Command: opts.Command, Pty: opts.Pty}, nil
}

func (m *Manager) get(id string) (*process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

func (p *process) status() (string, *int) {
	select {
	case <-p.done:
		p.mu.Lock()
		code := p.exitCode
		p.mu.Unlock()
		return "exited", &code
	default:
		return "running", nil
	}
}

// List returns tracked processes, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	procs := make([]*process, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	sort.Slice(procs, func(i, j int) bool { return procs[i].createdAt.Before(procs[j].createdAt) })
	out := make([]Info, 0, len(procs))
	for _, p := range procs {
		status, code := p.status()
		out = append(out, Info{
			SessionID: p.id,
			PID:       p.cmd.Process.Pid,
			Command:   p.command,
			Status:    status,
			ExitCode:  code,
			Pty:       p.tty != nil,
			CreatedAt: p.createdAt,
		})
	}
	return out
}

// Log returns buffered output starting at byte offset, at most limit bytes
// when limit is positive.
func (m *Manager) Log(id string, offset, limit int) (LogResult, error) {
	p, err := m.get(id)
	if err != nil {
		return LogResult{}, err
	}
	content, dropped := p.out.snapshot()
	if offset < 0 {
		offset = 0
	}
	if offset > len(content) {
		offset = len(content)
	}
	rest := content[offset:]
	out := rest
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	status, _ := p.status()
	return LogResult{
		SessionID: id,
		Offset:    offset,
		Content:   out,
		Truncated: dropped || len(out) < len(rest),
		Status:    status,
	}, nil
}

// Write sends data to the process's stdin or terminal. eof closes it.
func (m *Manager) Write(id, data string, eof bool) (int, error) {
	p, err := m.get(id)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var w io.WriteCloser
	switch {
	case p.tty != nil:
		w = p.tty
	case p.stdin != nil:
		w = p.stdin
	default:
		return 0, errors.New("stdin not available")
	}
	n := 0
	if data != "" {
		if n, err = w.Write([]byte(data)); err != nil {
			return n, fmt.Errorf("write failed: %w", err)
		}
	}
	if eof {
		if p.tty != nil {
			// A terminal sees EOF as Ctrl-D rather than a closed fd.
			_, err = p.tty.Write([]byte{4})
		} else {
			err = p.stdin.Close()
			p.stdin = nil
		}
		if err != nil {
			return n, fmt.Errorf("close stdin: %w", err)
		}
	}
	return n, nil
}

// Wait blocks until the process exits or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (int, error) {
	p, err := m.get(id)
	if err != nil {
		return 0, err
	}
	select {
	case <-p.done:
		_, code := p.status()
		return *code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Kill stops the process and forgets it.
func (m *Manager) Kill(id string) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.stdin != nil {
		p.stdin.Close()
		p.stdin = nil
	}
	p.mu.Unlock()

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill failed: %w", err)
	}
	<-p.done
	if p.tty != nil {
		p.tty.Close()
	}

	m.mu.Lock()
	delete(m.procs, id)
	m.mu.Unlock()
	m.log.Info().Str("session", id).Msg("process killed")
	return nil
}

// Close kills every tracked process.
func (m *Manager) Close() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.procs))
	for id := range m.procs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Kill(id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
