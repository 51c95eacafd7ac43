// Package file provides routing fragments from a YAML or JSON file,
// optionally re-read whenever the file changes.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/logging"
	"github.com/wudi/verkehr/internal/provider"
)

const defaultDebounce = 500 * time.Millisecond

// Provider merges one file.
type Provider struct {
	path     string
	watch    bool
	debounce time.Duration

	mu     sync.Mutex
	merger provider.Merger
}

func New(cfg config.FileProviderConfig) *Provider {
	return &Provider{
		path:     cfg.Path,
		watch:    cfg.Watch,
		debounce: defaultDebounce,
	}
}

// SetDebounce sets the debounce duration for file changes
func (p *Provider) SetDebounce(d time.Duration) {
	p.debounce = d
}

func (p *Provider) Name() string { return "file" }

// Provide merges the file once and, when watching, again after every
// burst of writes. A file that fails to load at startup is an error; later
// failures are logged and the previous config stays in effect.
func (p *Provider) Provide(ctx context.Context, m provider.Merger) error {
	p.mu.Lock()
	p.merger = m
	p.mu.Unlock()

	if err := p.Reload(); err != nil {
		return err
	}
	if !p.watch {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file provider: %w", err)
	}
	defer w.Close()
	// the directory, so editors that replace the file are seen
	if err := w.Add(filepath.Dir(p.path)); err != nil {
		return fmt.Errorf("file provider: watch %s: %w", p.path, err)
	}
	logging.Info("watching routing file", zap.String("path", p.path))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(p.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(p.debounce, p.reloadLogged)
			} else {
				timer.Reset(p.debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.Error("routing file watcher error", zap.String("path", p.path), zap.Error(err))
		}
	}
}

// Reload reads and merges the file now. SIGHUP lands here.
func (p *Provider) Reload() error {
	p.mu.Lock()
	m := p.merger
	p.mu.Unlock()
	if m == nil {
		return fmt.Errorf("file provider: not started")
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("file provider: %w", err)
	}
	v, err := provider.Apply(m, p.Name(), p.path, data)
	if err != nil {
		return err
	}
	logging.Info("routing file merged", zap.String("path", p.path), zap.Uint64("version", v))
	return nil
}

func (p *Provider) reloadLogged() {
	if err := p.Reload(); err != nil {
		logging.Error("failed to reload routing file", zap.String("path", p.path), zap.Error(err))
	}
}
