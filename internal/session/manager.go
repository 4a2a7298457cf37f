// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jeranaias/privia/internal/api"
	"github.com/jeranaias/privia/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DirName is the per-user directory holding client state.
	DirName = ".privia"

	// FileName is the credentials file inside DirName.
	FileName = "credentials.json"

	// filePerm keeps the bearer token readable by the owner only.
	filePerm = 0600

	// DefaultDebounce coalesces the burst of events one atomic write causes.
	DefaultDebounce = 100 * time.Millisecond
)

// ErrSignedOut is returned when an operation needs stored credentials.
var ErrSignedOut = errors.New("not signed in")

// =============================================================================
// CREDENTIALS
// =============================================================================

// Credentials is the persisted sign-in state.
type Credentials struct {
	Token   string           `json:"token"`
	Profile *api.UserProfile `json:"profile,omitempty"`
	SavedAt time.Time        `json:"saved_at"`
}

// SignedIn reports whether a token is present.
func (c Credentials) SignedIn() bool {
	return strings.TrimSpace(c.Token) != ""
}

// DefaultPath returns ~/.privia/credentials.json, or a path relative to the
// working directory when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DirName, FileName)
	}
	return filepath.Join(home, DirName, FileName)
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the credentials file. It is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	path   string
	creds  Credentials
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces time.Now for SavedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Open creates a Manager for path and loads it. A missing file means signed
// out and is not an error.
func Open(path string, opts ...Option) (*Manager, error) {
	m := &Manager{
		path:   path,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Path returns the credentials file path.
func (m *Manager) Path() string {
	return m.path
}

// Token returns the stored bearer token, or "" when signed out.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds.Token
}

// Profile returns the stored user profile.
func (m *Manager) Profile() (api.UserProfile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds.Profile == nil {
		return api.UserProfile{}, false
	}
	return *m.creds.Profile, true
}

// Credentials returns a copy of the stored credentials.
func (m *Manager) Credentials() Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyCredentials(m.creds)
}

// SignedIn reports whether a token is stored.
func (m *Manager) SignedIn() bool {
	return m.Credentials().SignedIn()
}

// Save stores token and profile together.
func (m *Manager) Save(token string, profile *api.UserProfile) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("save credentials: %w", ErrSignedOut)
	}

	creds := Credentials{Token: token, SavedAt: m.now().UTC()}
	if profile != nil {
		p := *profile
		creds.Profile = &p
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := util.AtomicWriteFile(m.path, data, filePerm); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	m.creds = creds
	m.logger.Debug("credentials saved", zap.String("path", m.path))
	return nil
}

// SetProfile replaces the stored profile and keeps the token.
func (m *Manager) SetProfile(profile api.UserProfile) error {
	token := m.Token()
	if token == "" {
		return fmt.Errorf("set profile: %w", ErrSignedOut)
	}
	return m.Save(token, &profile)
}

// Clear signs out by removing the credentials file. Token and profile go
// in the same operation.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear credentials: %w", err)
	}
	m.creds = Credentials{}
	m.logger.Debug("credentials cleared", zap.String("path", m.path))
	return nil
}

// Reload re-reads the credentials file.
func (m *Manager) Reload() error {
	creds, err := readCredentials(m.path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
	return nil
}

func readCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return creds, nil
}

func copyCredentials(c Credentials) Credentials {
	if c.Profile != nil {
		p := *c.Profile
		c.Profile = &p
	}
	return c
}

// =============================================================================
// WATCHING
// =============================================================================

// Watch reloads the credentials whenever another process changes the file
// and calls onChange with the new value. The parent directory is watched,
// since an atomic write replaces the file rather than modifying it. Watch
// returns once the watcher is running; it stops when ctx is done.
func (m *Manager) Watch(ctx context.Context, onChange func(Credentials)) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("watch credentials: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch credentials: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch credentials: %w", err)
	}

	go m.processEvents(ctx, watcher, onChange)
	return nil
}

func (m *Manager) processEvents(ctx context.Context, watcher *fsnotify.Watcher, onChange func(Credentials)) {
	defer watcher.Close()

	target := filepath.Clean(m.path)
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// PERFORMANCE: one write is a create plus a rename; reload once.
			if timer == nil {
				timer = time.NewTimer(DefaultDebounce)
			} else {
				timer.Reset(DefaultDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			m.applyExternalChange(onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("credentials watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) applyExternalChange(onChange func(Credentials)) {
	before := m.Credentials()
	if err := m.Reload(); err != nil {
		m.logger.Warn("reloading credentials failed", zap.Error(err))
		return
	}
	after := m.Credentials()
	if before.Token == after.Token && before.SavedAt.Equal(after.SavedAt) {
		return
	}
	if onChange != nil {
		onChange(after)
	}
}
