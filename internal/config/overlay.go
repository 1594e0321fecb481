package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"invitebot/pkg/logx"
)

// Overlay is the hot-reloadable subset of configuration. All fields are
// optional; a zero field means "keep the env-derived value".
type Overlay struct {
	LogLevel string `json:"log_level,omitempty"`
	// DefaultExpire is a Go duration string (e.g. "5m", "300s").
	DefaultExpire string  `json:"default_expire,omitempty"`
	OwnerIDs      []int64 `json:"owner_ids,omitempty"`
}

// Manager watches the overlay file and publishes validated parses to
// subscribers. Partial editor writes are absorbed by a debounce, and
// unchanged content is not republished.
type Manager struct {
	path string

	mu      sync.RWMutex
	overlay *Overlay

	subsMu sync.Mutex
	subs   []chan *Overlay

	log       logx.Logger
	validator func(ctx context.Context, ov *Overlay) error

	lastHash uint64
}

func NewManager(path string, log logx.Logger) *Manager {
	return &Manager{path: path, log: log}
}

// SetValidator installs a validation hook run before commit/publish.
func (m *Manager) SetValidator(fn func(ctx context.Context, ov *Overlay) error) {
	m.validator = fn
}

func (m *Manager) Parse() (*Overlay, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return nil, err
	}

	var ov Overlay
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ov); err != nil {
		return nil, err
	}
	// Reject trailing tokens (e.g. concatenated documents).
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid overlay: trailing data")
		}
		return nil, err
	}
	if raw := strings.TrimSpace(ov.DefaultExpire); raw != "" {
		d, err := ParseDurationField("default_expire", raw)
		if err != nil {
			return nil, err
		}
		if err := ValidateDefaultExpire(d); err != nil {
			return nil, err
		}
	}
	return &ov, nil
}

// Load parses and commits the overlay once, at startup.
func (m *Manager) Load() (*Overlay, error) {
	ov, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(ov)
	return ov, nil
}

func (m *Manager) commit(ov *Overlay) {
	m.mu.Lock()
	m.overlay = ov
	m.lastHash = hashOverlay(ov)
	m.mu.Unlock()
}

func (m *Manager) Get() *Overlay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overlay
}

func (m *Manager) Subscribe(buffer int) chan *Overlay {
	ch := make(chan *Overlay, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Overlay) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(ov *Overlay) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		select {
		case ch <- ov:
		default:
			// Drop the oldest queued overlay, then push the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ov:
			default:
				m.log.Debug("overlay update dropped (subscriber slow)")
			}
		}
	}
}

// Watch blocks until ctx is done, reloading the overlay on file changes.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			ov, err := m.Parse()
			if err != nil {
				m.log.Warn("overlay parse failed", logx.String("path", m.path), logx.Err(err))
				return
			}

			h := hashOverlay(ov)
			m.mu.RLock()
			unchanged := h != 0 && h == m.lastHash
			m.mu.RUnlock()
			if unchanged {
				m.log.Debug("overlay unchanged; skipping publish", logx.String("path", m.path))
				return
			}

			if m.validator != nil {
				vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err := m.validator(vctx, ov)
				cancel()
				if err != nil {
					m.log.Warn("overlay rejected", logx.String("path", m.path), logx.Err(err))
					return
				}
			}

			m.commit(ov)
			m.publish(ov)
			m.log.Info("overlay reloaded", logx.String("path", m.path))
		})
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			m.log.Warn("overlay watch init failed", logx.Err(err), logx.String("dir", dir))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
				continue
			}
		}

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if werr != nil {
					m.log.Warn("overlay watch error", logx.Err(werr), logx.String("dir", dir))
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("overlay watcher stopped; restarting", logx.String("dir", dir))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func hashOverlay(ov *Overlay) uint64 {
	if ov == nil {
		return 0
	}
	b, err := json.Marshal(ov)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
