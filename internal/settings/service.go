package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// treeTTL bounds how stale a cached tree may get when rows are edited
// outside this process. Updates through the service invalidate immediately.
const treeTTL = time.Minute

// Listener receives the full tree after every committed update or reset.
type Listener func(Settings)

// Service loads, caches, validates and persists the settings tree.
type Service struct {
	repo   repository.SettingRepository
	logger *slog.Logger

	mu       sync.RWMutex
	tree     Settings
	loadedAt time.Time

	subMu     sync.RWMutex
	listeners map[int]Listener
	nextSubID int
}

// NewService creates a settings service over the given repository.
func NewService(repo repository.SettingRepository) *Service {
	return &Service{
		repo:      repo,
		logger:    slog.Default().With(slog.String("component", "settings")),
		listeners: make(map[int]Listener),
	}
}

// EnsureIdentity persists a device UUID on first start so SSDP advertises a
// stable identity across restarts. Existing rows are left alone.
func (s *Service) EnsureIdentity(ctx context.Context) error {
	const key = "ssdp.deviceUuid"

	row, err := s.repo.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("checking device uuid: %w", err)
	}
	if row != nil && row.Value != "" {
		return nil
	}
	if legacy, err := s.repo.Get(ctx, legacyPrefix+key); err != nil {
		return fmt.Errorf("checking legacy device uuid: %w", err)
	} else if legacy != nil && legacy.Value != "" {
		return nil
	}

	setting := models.EncodeSetting(key, uuid.NewString())
	setting.Description = "Generated SSDP device identity"
	if err := s.repo.Upsert(ctx, &setting); err != nil {
		return fmt.Errorf("persisting device uuid: %w", err)
	}
	s.Invalidate()
	s.logger.Info("Generated device uuid", slog.String("uuid", setting.Value))
	return nil
}

// Load returns the settings tree, rebuilding it from the database when the
// cached copy is older than a minute. The returned tree is the caller's to
// mutate.
func (s *Service) Load(ctx context.Context) (Settings, error) {
	s.mu.RLock()
	if s.tree != nil && time.Since(s.loadedAt) < treeTTL {
		tree := s.tree
		s.mu.RUnlock()
		return tree.Clone(), nil
	}
	s.mu.RUnlock()
	return s.reload(ctx)
}

func (s *Service) reload(ctx context.Context) (Settings, error) {
	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings rows: %w", err)
	}

	tree := Defaults()
	overlay(tree, rows)

	s.mu.Lock()
	s.tree = tree
	s.loadedAt = time.Now()
	s.mu.Unlock()

	return tree.Clone(), nil
}

// Invalidate drops the cached tree so the next Load hits the database.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.tree = nil
	s.mu.Unlock()
}

// Get returns the value at a dotted path, or def when the path is absent or
// the database is unreachable. Read paths never propagate storage errors.
func (s *Service) Get(ctx context.Context, path string, def any) any {
	tree, err := s.Load(ctx)
	if err != nil {
		s.logger.Warn("Settings load failed, using default",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if value, ok := Defaults().Get(path); ok {
			return value
		}
		return def
	}
	value, ok := tree.Get(path)
	if !ok {
		return def
	}
	return value
}

// GetInt returns the integer at path, coercing the float64 representation
// numbers take after JSON decoding.
func (s *Service) GetInt(ctx context.Context, path string, def int) int {
	if n, ok := toInt(s.Get(ctx, path, def)); ok {
		return n
	}
	return def
}

// GetString returns the string at path.
func (s *Service) GetString(ctx context.Context, path string, def string) string {
	if v, ok := s.Get(ctx, path, def).(string); ok {
		return v
	}
	return def
}

// GetBool returns the boolean at path.
func (s *Service) GetBool(ctx context.Context, path string, def bool) bool {
	if v, ok := s.Get(ctx, path, def).(bool); ok {
		return v
	}
	return def
}

// GetDuration interprets the number at path in the given unit.
func (s *Service) GetDuration(ctx context.Context, path string, unit time.Duration, def time.Duration) time.Duration {
	if n, ok := toInt(s.Get(ctx, path, nil)); ok && n > 0 {
		return time.Duration(n) * unit
	}
	return def
}

// Update validates the partial tree, persists every leaf in one transaction,
// reloads, notifies listeners and returns the new tree. A row written under
// the legacy prefix for the same path is removed, so the canonical spelling
// takes over from here on.
func (s *Service) Update(ctx context.Context, partial map[string]any) (Settings, error) {
	flat := Flatten(partial)
	if len(flat) == 0 {
		return s.Load(ctx)
	}
	if err := validateAll(flat); err != nil {
		return nil, err
	}

	err := s.repo.Transaction(ctx, func(tx repository.SettingRepository) error {
		rows := make([]*models.Setting, 0, len(flat))
		for _, path := range sortedPaths(flat) {
			row := models.EncodeSetting(path, flat[path])
			rows = append(rows, &row)
		}
		if err := tx.UpsertBatch(ctx, rows); err != nil {
			return err
		}
		for _, path := range sortedPaths(flat) {
			if err := tx.Delete(ctx, legacyPrefix+path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persisting settings update: %w", err)
	}

	s.Invalidate()
	tree, err := s.reload(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Settings updated", slog.Int("paths", len(flat)))
	s.notify(tree)
	return tree, nil
}

// Reset removes persisted overrides and returns the resulting tree. An empty
// category resets everything; otherwise only that top-level branch reverts
// to defaults. The generated device UUID survives a reset so Plex keeps
// recognising the tuner.
func (s *Service) Reset(ctx context.Context, category string) (Settings, error) {
	prefixes := []string{""}
	if category != "" {
		if _, ok := Defaults()[category]; !ok {
			return nil, models.ErrValidation{Field: "category", Message: fmt.Sprintf("unknown category %q", category)}
		}
		prefixes = []string{category + ".", legacyPrefix + category + "."}
	}

	uuidRow, err := s.repo.Get(ctx, "ssdp.deviceUuid")
	if err != nil {
		return nil, fmt.Errorf("resetting settings: %w", err)
	}

	var removed int64
	for _, prefix := range prefixes {
		n, err := s.repo.DeleteByPrefix(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("resetting settings: %w", err)
		}
		removed += n
	}

	if uuidRow != nil && uuidRow.Value != "" {
		if err := s.repo.Upsert(ctx, uuidRow); err != nil {
			return nil, fmt.Errorf("restoring device uuid: %w", err)
		}
	}

	s.Invalidate()
	tree, err := s.reload(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Settings reset",
		slog.String("category", category),
		slog.Int64("rows_removed", removed))
	s.notify(tree)
	return tree, nil
}

// Subscribe registers a listener for committed updates and returns an
// unsubscribe function. Listeners run synchronously on the updating
// goroutine and receive their own copy of the tree.
func (s *Service) Subscribe(fn Listener) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.listeners[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.listeners, id)
		s.subMu.Unlock()
	}
}

func (s *Service) notify(tree Settings) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.listeners {
		fn(tree.Clone())
	}
}
