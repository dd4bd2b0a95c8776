package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

const (
	defaultMaterialTTL = 5 * time.Minute
	materialKeyPrefix  = "material:"
)

// MaterialStore loads study materials.
type MaterialStore interface {
	GetMaterial(ctx context.Context, id string) (*repo.Material, error)
}

// JSONCache is the subset of the Redis wrapper used for material metadata.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedMaterials caches material metadata in front of the store. Only metadata is
// cached; purchase state is always read from the store.
type CachedMaterials struct {
	store  MaterialStore
	cache  JSONCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedMaterials wraps store. A nil cache disables caching.
func NewCachedMaterials(store MaterialStore, cache JSONCache, ttl time.Duration, logger *slog.Logger) *CachedMaterials {
	if ttl <= 0 {
		ttl = defaultMaterialTTL
	}
	return &CachedMaterials{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "material_cache"),
	}
}

// GetMaterial returns the material, preferring the cache. Cache failures fall back to the store.
func (c *CachedMaterials) GetMaterial(ctx context.Context, id string) (*repo.Material, error) {
	key := materialKeyPrefix + id
	if c.cache != nil {
		var cached repo.Material
		found, err := c.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			c.logger.Warn("material cache read failed", "error", err, "material_id", id)
		} else if found {
			return &cached, nil
		}
	}

	m, err := c.store.GetMaterial(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, key, m, c.ttl); err != nil {
			c.logger.Warn("material cache write failed", "error", err, "material_id", id)
		}
	}
	return m, nil
}

// Invalidate drops the cached copy of a material.
func (c *CachedMaterials) Invalidate(ctx context.Context, id string) error {
	if c.cache == nil {
		return nil
	}
	if err := c.cache.Delete(ctx, materialKeyPrefix+id); err != nil {
		return fmt.Errorf("invalidate material %s: %w", id, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
