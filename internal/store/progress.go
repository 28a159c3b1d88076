package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

// PGProgressStore keeps one checkpoint row per sync domain in sync_progress.
type PGProgressStore struct {
	db     DBTX
	logger *zap.Logger
}

// NewPGProgressStore creates a Postgres checkpoint store.
func NewPGProgressStore(db DBTX, logger *zap.Logger) *PGProgressStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGProgressStore{db: db, logger: logger}
}

// Save upserts the checkpoint in a single statement, so a crash leaves either the old
// or the new record.
func (s *PGProgressStore) Save(ctx context.Context, p model.SyncProgress) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_progress (domain, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (domain)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW();
	`, p.Domain, payload)
	if err != nil {
		s.logger.Error("store.pg.save_progress_failed", zap.String("domain", p.Domain), zap.Error(err))
		return err
	}
	return nil
}

// Load returns the checkpoint for domain, or nil when none exists.
func (s *PGProgressStore) Load(ctx context.Context, domain string) (*model.SyncProgress, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM sync_progress WHERE domain = $1;`, domain).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress %s: %w", domain, err)
	}
	var p model.SyncProgress
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode progress %s: %w", domain, err)
	}
	return &p, nil
}

// Delete removes the checkpoint for domain. Deleting a missing record is not an error.
func (s *PGProgressStore) Delete(ctx context.Context, domain string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sync_progress WHERE domain = $1;`, domain); err != nil {
		s.logger.Error("store.pg.delete_progress_failed", zap.String("domain", domain), zap.Error(err))
		return err
	}
	return nil
}

// List returns every stored checkpoint ordered by domain.
func (s *PGProgressStore) List(ctx context.Context) ([]model.SyncProgress, error) {
	rows, err := s.db.Query(ctx, `SELECT payload FROM sync_progress ORDER BY domain;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SyncProgress
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p model.SyncProgress
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProgressBackend is the durable side of a HybridProgressStore.
type ProgressBackend interface {
	Save(ctx context.Context, p model.SyncProgress) error
	Load(ctx context.Context, domain string) (*model.SyncProgress, error)
	Delete(ctx context.Context, domain string) error
	List(ctx context.Context) ([]model.SyncProgress, error)
}

// HybridProgressStore is a Redis-first, Postgres-backed checkpoint store. The backend
// is authoritative. The cached copy is dropped before every backend write, and Redis
// is only read for domains whose cache this store has itself brought in line with the
// backend. A Redis failure never fails a write.
type HybridProgressStore struct {
	redis   *redis.Client
	backend ProgressBackend
	ttl     time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	trusted map[string]bool
}

// NewHybridProgressStore wraps backend with a Redis cache.
func NewHybridProgressStore(rdb *redis.Client, backend ProgressBackend, ttl time.Duration, logger *zap.Logger) *HybridProgressStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &HybridProgressStore{
		redis:   rdb,
		backend: backend,
		ttl:     ttl,
		logger:  logger,
		trusted: make(map[string]bool),
	}
}

func progressKey(domain string) string {
	return "sync:progress:" + domain
}

// Save implements the checkpoint store contract.
func (s *HybridProgressStore) Save(ctx context.Context, p model.SyncProgress) error {
	s.evict(ctx, p.Domain)
	if err := s.backend.Save(ctx, p); err != nil {
		return err
	}
	s.cache(ctx, p)
	return nil
}

// Load reads Redis first and falls back to the backend, repopulating the cache.
func (s *HybridProgressStore) Load(ctx context.Context, domain string) (*model.SyncProgress, error) {
	if s.isTrusted(domain) {
		var cached model.SyncProgress
		err := s.GetJSON(ctx, progressKey(domain), &cached)
		switch {
		case err == nil:
			return &cached, nil
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("store.redis.read_progress_failed", zap.String("domain", domain), zap.Error(err))
		}
	}

	p, err := s.backend.Load(ctx, domain)
	if err != nil {
		return nil, err
	}
	if p == nil {
		s.evict(ctx, domain)
		return nil, nil
	}
	s.cache(ctx, *p)
	return p, nil
}

// Delete removes the checkpoint from both tiers.
func (s *HybridProgressStore) Delete(ctx context.Context, domain string) error {
	s.evict(ctx, domain)
	if err := s.backend.Delete(ctx, domain); err != nil {
		return err
	}
	s.evict(ctx, domain)
	return nil
}

// cache writes p to Redis. On failure the key is dropped and, if that fails too, Load
// bypasses Redis for the domain.
func (s *HybridProgressStore) cache(ctx context.Context, p model.SyncProgress) {
	if err := s.SetJSON(ctx, progressKey(p.Domain), p, s.ttl); err != nil {
		s.logger.Warn("store.redis.cache_progress_failed", zap.String("domain", p.Domain), zap.Error(err))
		s.evict(ctx, p.Domain)
		return
	}
	s.setTrusted(p.Domain, true)
}

// evict drops the cached checkpoint. A failed delete leaves the domain untrusted.
func (s *HybridProgressStore) evict(ctx context.Context, domain string) {
	if err := s.redis.Del(ctx, progressKey(domain)).Err(); err != nil {
		s.logger.Warn("store.redis.delete_progress_failed", zap.String("domain", domain), zap.Error(err))
		s.setTrusted(domain, false)
		return
	}
	s.setTrusted(domain, true)
}

func (s *HybridProgressStore) isTrusted(domain string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trusted[domain]
}

func (s *HybridProgressStore) setTrusted(domain string, v bool) {
	s.mu.Lock()
	if v {
		s.trusted[domain] = true
	} else {
		delete(s.trusted, domain)
	}
	s.mu.Unlock()
}

// List always reads the backend.
func (s *HybridProgressStore) List(ctx context.Context) ([]model.SyncProgress, error) {
	return s.backend.List(ctx)
}

// SetJSON stores value under key with ttl.
func (s *HybridProgressStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

// GetJSON decodes the value under key into dest; redis.Nil when absent.
func (s *HybridProgressStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}
