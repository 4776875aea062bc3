package menusync

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/boilerfuel/menu_backend/models"
	"gorm.io/gorm"
)

// NutritionCache holds the last known nutrition per (name, facility), loaded once per run.
// It is read-only after load, so a run never observes its own writes.
type NutritionCache struct {
	entries map[string]models.Nutrition
	hits    atomic.Int64
	misses  atomic.Int64
}

func EmptyNutritionCache() *NutritionCache {
	return &NutritionCache{entries: map[string]models.Nutrition{}}
}

// LoadNutritionCache seeds the cache from the catalog. Rows with all-zero nutrition are
// placeholders and are not loaded. Facilities are folded to their display name, so rows
// stored under an alias seed the same key.
func LoadNutritionCache(ctx context.Context, db *gorm.DB, registry *models.FacilityRegistry) (*NutritionCache, error) {
	var foods []models.Food
	err := db.WithContext(ctx).
		Model(&models.Food{}).
		Select("id", "name", "dining_court", "calories", "macros", "updated_at").
		Order("updated_at desc").
		Order("id desc").
		Find(&foods).Error
	if err != nil {
		return nil, err
	}

	c := EmptyNutritionCache()
	for _, f := range foods {
		nut := f.Nutrition()
		if nut.IsZero() {
			continue
		}
		key := models.NutritionKey(f.Name, registry.CanonicalName(f.DiningCourt))
		if _, ok := c.entries[key]; ok {
			continue
		}
		c.entries[key] = nut
	}
	return c, nil
}

// Get looks up by item name and facility display name. Safe for concurrent use.
func (c *NutritionCache) Get(name, facility string) (models.Nutrition, bool) {
	if c == nil {
		return models.Nutrition{}, false
	}
	nut, ok := c.entries[models.NutritionKey(name, facility)]
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return nut, ok
}

func (c *NutritionCache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

func (c *NutritionCache) Hits() int {
	if c == nil {
		return 0
	}
	return int(c.hits.Load())
}

func (c *NutritionCache) Misses() int {
	if c == nil {
		return 0
	}
	return int(c.misses.Load())
}

// DetailCache stores parsed item-detail nutrition by upstream item id across runs.
type DetailCache interface {
	Get(ctx context.Context, itemID string) (models.Nutrition, bool)
	Set(ctx context.Context, itemID string, n models.Nutrition)
}

// redisDetailCache is a no-op when Redis is not connected.
type redisDetailCache struct {
	ttl time.Duration
}

// NewRedisDetailCache returns a Redis-backed DetailCache; lifespan from MENU_DETAIL_CACHE_HOURS (default 24).
func NewRedisDetailCache() DetailCache {
	return &redisDetailCache{ttl: time.Duration(config.IntFromEnv("MENU_DETAIL_CACHE_HOURS", 24)) * time.Hour}
}

func detailCacheKey(itemID string) string {
	return "MenuItemNutrition:" + strings.TrimSpace(itemID)
}

func (r *redisDetailCache) Get(ctx context.Context, itemID string) (models.Nutrition, bool) {
	var nut models.Nutrition
	ok, err := config.GetRedisObject(detailCacheKey(itemID), &nut)
	if err != nil {
		config.LogError(config.GetLogger(), "menusync", "redisDetailCache.Get", "read detail cache", itemID, err)
		return models.Nutrition{}, false
	}
	return nut, ok
}

func (r *redisDetailCache) Set(ctx context.Context, itemID string, n models.Nutrition) {
	if n.IsZero() {
		return
	}
	if err := config.SetRedisObject(detailCacheKey(itemID), n, r.ttl); err != nil {
		config.LogError(config.GetLogger(), "menusync", "redisDetailCache.Set", "write detail cache", itemID, err)
	}
}
