// Package settings persists per-chat configuration, currently the invite
// link expire override set by group admins. Values are cached in memory and
// written through to SQLite, so a redeploy keeps admin choices while invite
// records themselves stay memory-only.
package settings

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"invitebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	// MinExpire and MaxExpire bound /setexpire (1-60 minutes).
	MinExpire = time.Minute
	MaxExpire = time.Hour
)

// ErrOutOfRange is returned for expire values outside [MinExpire, MaxExpire].
var ErrOutOfRange = fmt.Errorf("expire time must be between %d and %d minutes", int(MinExpire.Minutes()), int(MaxExpire.Minutes()))

type Store struct {
	db  *sql.DB
	log logx.Logger

	mu    sync.RWMutex
	def   time.Duration
	cache map[int64]time.Duration
}

// Open initializes the store at path and loads all overrides into the cache.
func Open(path string, defaultExpire time.Duration, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("settings path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	s := &Store{db: db, log: log, def: defaultExpire, cache: map[int64]time.Duration{}}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadCache(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) loadCache(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, expire_seconds FROM chat_settings`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var chatID, secs int64
		if err := rows.Scan(&chatID, &secs); err != nil {
			return err
		}
		s.cache[chatID] = time.Duration(secs) * time.Second
	}
	return rows.Err()
}

// ExpireFor returns the chat's expire override, or the process default.
// Read at issuance time only; changing it never affects already-issued links.
func (s *Store) ExpireFor(ctx context.Context, chatID int64) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.cache[chatID]; ok {
		return d
	}
	return s.def
}

// SetExpire stores a per-chat override. The cache is updated even when the
// write-through fails, so the running process honors the admin's choice.
func (s *Store) SetExpire(ctx context.Context, chatID int64, d time.Duration) error {
	if d < MinExpire || d > MaxExpire {
		return ErrOutOfRange
	}

	s.mu.Lock()
	s.cache[chatID] = d
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_settings(chat_id, expire_seconds, updated_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET expire_seconds=excluded.expire_seconds, updated_at=excluded.updated_at`,
		chatID, int64(d.Seconds()), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		s.log.Warn("settings write-through failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return err
	}
	return nil
}

// SetDefault hot-applies a new fallback expire duration (config reload).
func (s *Store) SetDefault(d time.Duration) {
	s.mu.Lock()
	s.def = d
	s.mu.Unlock()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
