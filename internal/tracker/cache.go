package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vincentbai/sitetrace-agent/internal/blob"
	"github.com/vincentbai/sitetrace-agent/internal/codec"
	"github.com/vincentbai/sitetrace-agent/internal/metrics"
	"github.com/vincentbai/sitetrace-agent/internal/models"
)

const DefaultCacheLimit = 100

// Cache is the client-side encrypted history of session snapshots. It holds
// at most one snapshot per session id, the latest one, and keeps the most
// recent sessions up to its limit.
type Cache struct {
	backend blob.Backend
	codec   *codec.Codec
	limit   int
	logger  *zap.Logger

	mu sync.Mutex
}

func NewCache(backend blob.Backend, c *codec.Codec, limit int, logger *zap.Logger) *Cache {
	if limit <= 0 {
		limit = DefaultCacheLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{backend: backend, codec: c, limit: limit, logger: logger}
}

// Merge replaces any cached snapshot with the same id and appends session.
func (c *Cache) Merge(ctx context.Context, session models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	history, err := c.load(ctx)
	if err != nil {
		return err
	}

	kept := history[:0]
	for _, s := range history {
		if s.SessionID != session.SessionID {
			kept = append(kept, s)
		}
	}
	kept = append(kept, session)
	if over := len(kept) - c.limit; over > 0 {
		kept = kept[over:]
	}

	token, err := c.codec.Encrypt(kept)
	if err != nil {
		return fmt.Errorf("tracker: encode cache: %w", err)
	}
	if err := c.backend.Save(ctx, []byte(token)); err != nil {
		return fmt.Errorf("tracker: save cache: %w", err)
	}
	return nil
}

// Load returns the cached snapshots, oldest first. An undecodable cache
// reads as empty.
func (c *Cache) Load(ctx context.Context) ([]models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

func (c *Cache) load(ctx context.Context) ([]models.Session, error) {
	raw, err := c.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracker: load cache: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []models.Session{}, nil
	}

	var history []models.Session
	if err := c.codec.Decrypt(string(raw), &history); err != nil {
		if errors.Is(err, codec.ErrDecode) {
			metrics.DecodeFailures.WithLabelValues("cache").Inc()
			c.logger.Warn("unable to decode snapshot cache, starting fresh", zap.Error(err))
			return []models.Session{}, nil
		}
		return nil, err
	}
	if history == nil {
		history = []models.Session{}
	}
	return history, nil
}
