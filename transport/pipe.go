package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const defaultPipeGrace = 5 * time.Second

// Pipe is the subordinate-process transport. Open spawns the configured
// command and frames messages as newline-delimited payloads on its standard
// input and output. Close terminates the process, waiting up to the grace
// timeout before killing it.
type Pipe struct {
	cfg PipeConfig
	log *slog.Logger

	mu     sync.Mutex
	sendMu sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	exited chan struct{}
	open   bool
	closed bool

	// injected reader/writer for in-process use; when set, Open spawns
	// nothing.
	injR io.Reader
	injW io.Writer
}

// NewPipe constructs the pipe transport. The process is not spawned until
// Open.
func NewPipe(cfg PipeConfig) *Pipe {
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = defaultPipeGrace
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipe{cfg: cfg, log: log}
}

// NewPipeIO constructs a pipe transport over an existing reader/writer pair
// instead of a spawned process. Used for in-process peers and tests.
func NewPipeIO(r io.Reader, w io.Writer, opts ...func(*PipeConfig)) *Pipe {
	cfg := PipeConfig{GraceTimeout: defaultPipeGrace}
	for _, opt := range opts {
		opt(&cfg)
	}
	p := NewPipe(cfg)
	p.injR = r
	p.injW = w
	return p
}

func (p *Pipe) Kind() Kind { return KindPipe }

func (p *Pipe) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return fmt.Errorf("pipe transport: already open")
	}

	if p.injR != nil {
		p.reader = bufio.NewReader(p.injR)
		p.open = true
		p.closed = false
		return nil
	}

	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("pipe transport: stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe transport: stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("pipe transport: stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("pipe transport: start %q: %w", p.cfg.Command, err)
	}

	// Surface the subordinate's stderr through our logger so operator
	// diagnostics from the peer are not lost.
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			p.log.Warn("pipe.stderr", slog.String("line", sc.Text()))
		}
	}()

	// Reap the process as soon as it exits so Probe sees the death even
	// when no read is in flight. Wait also closes the pipes, which unblocks
	// any reader still waiting on a dead peer.
	exited := make(chan struct{})
	go func() {
		if err := cmd.Wait(); err != nil {
			p.log.Debug("pipe.exit", slog.String("err", err.Error()))
		}
		close(exited)
	}()

	p.cmd = cmd
	p.stdin = stdin
	p.reader = bufio.NewReader(stdout)
	p.exited = exited
	p.open = true
	p.closed = false
	p.log.Debug("pipe.open.ok", slog.String("command", p.cfg.Command), slog.Int("pid", cmd.Process.Pid))
	return nil
}

func (p *Pipe) Send(ctx context.Context, frame []byte) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		if p.closed {
			return ErrClosed
		}
		return ErrNotConnected
	}
	w := p.injW
	if w == nil {
		w = p.stdin
	}
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	// One frame per line; a frame containing a newline would corrupt the
	// framing of everything after it.
	if bytes.IndexByte(frame, '\n') >= 0 {
		return fmt.Errorf("pipe transport: frame contains newline")
	}

	// The delimiter goes into a fresh buffer: appending to frame directly
	// can grow into the caller's backing array.
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("pipe transport: send: %w (%w)", err, ErrPeerGone)
	}
	return nil
}

func (p *Pipe) Receive(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		if p.closed {
			return nil, ErrClosed
		}
		return nil, ErrNotConnected
	}
	r := p.reader
	p.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := r.ReadBytes('\n')
		if err != nil {
			if len(bytes.TrimSpace(line)) > 0 {
				// A partial line at EOF is still one full frame if the peer
				// omitted the final newline before exiting.
				return bytes.TrimSpace(line), nil
			}
			if err == io.EOF {
				return nil, fmt.Errorf("pipe transport: peer output closed: %w", ErrPeerGone)
			}
			return nil, fmt.Errorf("pipe transport: receive: %w", err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

// Probe reports whether the subordinate process is still running.
func (p *Pipe) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return ErrNotConnected
	}
	if p.cmd == nil {
		// Injected IO has no process to probe.
		return nil
	}
	select {
	case <-p.exited:
		return fmt.Errorf("pipe transport: process exited: %w", ErrPeerGone)
	default:
	}
	// Signal 0 performs the existence check without delivering anything.
	if err := p.cmd.Process.Signal(syscall.Signal(0)); err != nil {
		return fmt.Errorf("pipe transport: process unreachable: %w", ErrPeerGone)
	}
	return nil
}

func (p *Pipe) Close() error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil
	}
	p.open = false
	p.closed = true
	cmd := p.cmd
	stdin := p.stdin
	exited := p.exited
	p.cmd = nil
	p.stdin = nil
	p.exited = nil
	p.mu.Unlock()

	if cmd == nil {
		if c, ok := p.injW.(io.Closer); ok {
			_ = c.Close()
		}
		if c, ok := p.injR.(io.Closer); ok {
			_ = c.Close()
		}
		return nil
	}

	// Closing stdin is the shutdown signal; well-behaved peers exit on EOF.
	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case <-exited:
		return nil
	case <-time.After(p.cfg.GraceTimeout):
		p.log.Warn("pipe.close.kill", slog.Duration("grace", p.cfg.GraceTimeout))
		_ = cmd.Process.Kill()
		<-exited
		return nil
	}
}
