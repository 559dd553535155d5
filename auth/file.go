package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileProvider reads the bearer token from a file and keeps the cached value
// current as the file rotates. Rotation via rename (the common pattern for
// projected credentials) is handled by watching the parent directory.
type FileProvider struct {
	path string
	log  *slog.Logger

	mu    sync.Mutex
	token string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// FileOption customizes a FileProvider.
type FileOption func(*FileProvider)

// WithFileLogger sets the logger used for watch events.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(p *FileProvider) {
		if l != nil {
			p.log = l
		}
	}
}

// NewFileProvider reads the initial token and starts watching for changes.
// Close releases the watcher.
func NewFileProvider(path string, opts ...FileOption) (*FileProvider, error) {
	p := &FileProvider{path: path, log: slog.Default(), done: make(chan struct{})}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("token watcher: %w", err)
	}
	// Watch the directory rather than the file: rotation replaces the inode
	// and a file watch would go stale after the first rename.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("token watcher: %w", err)
	}
	p.watcher = w

	go p.watch()
	return p, nil
}

func (p *FileProvider) reload() error {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(b))

	p.mu.Lock()
	p.token = tok
	p.mu.Unlock()
	return nil
}

func (p *FileProvider) watch() {
	target := filepath.Clean(p.path)
	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := p.reload(); err != nil {
				p.log.Warn("auth.token_file.reload.fail", slog.String("path", p.path), slog.String("err", err.Error()))
				continue
			}
			p.log.Debug("auth.token_file.reload.ok", slog.String("path", p.path))
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn("auth.token_file.watch.err", slog.String("err", err.Error()))
		}
	}
}

func (p *FileProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return "", ErrNoToken
	}
	return p.token, nil
}

// Close stops the watcher.
func (p *FileProvider) Close() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	close(p.done)
	return p.watcher.Close()
}
