package masterdata

import (
	"context"
	"strings"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/cache"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/permissions"
)

// CachedCatalog fronts a Store with TTL caches. Absent rules and locations
// are cached as nil; errors are not cached.
type CachedCatalog struct {
	store *Store

	rules           *cache.LRU[string, *permissions.Rule]
	roles           *cache.LRU[string, permissions.Role]
	locations       *cache.LRU[string, map[string]string]
	classifications *cache.LRU[string, actions.Classification]
	settings        *cache.LRU[string, actions.WorkflowSettings]
}

// NewCachedCatalog creates a CachedCatalog over store.
func NewCachedCatalog(store *Store, cfg *cache.CacheConfig) *CachedCatalog {
	if cfg == nil {
		cfg = cache.DefaultCacheConfig()
	}
	return &CachedCatalog{
		store:           store,
		rules:           cache.New[string, *permissions.Rule](cfg.MaxSize, cfg.TTL),
		roles:           cache.New[string, permissions.Role](cfg.MaxSize, cfg.TTL),
		locations:       cache.New[string, map[string]string](cfg.MaxSize, cfg.TTL),
		classifications: cache.New[string, actions.Classification](cfg.MaxSize, cfg.TTL),
		settings:        cache.New[string, actions.WorkflowSettings](1, cfg.TTL),
	}
}

// PermissionRule implements permissions.Catalog.
func (c *CachedCatalog) PermissionRule(ctx context.Context, typeID string, status actions.Status) (*permissions.Rule, error) {
	return c.rules.GetOrLoad(RuleID(typeID, string(status)), func() (*permissions.Rule, error) {
		return c.store.PermissionRule(ctx, typeID, status)
	})
}

// Roles implements permissions.Catalog. Only ids missing from the cache are
// loaded.
func (c *CachedCatalog) Roles(ctx context.Context, ids []string) (map[string]permissions.Role, error) {
	out := make(map[string]permissions.Role, len(ids))
	var missing []string
	for _, id := range ids {
		if r, ok := c.roles.Get(id); ok {
			out[id] = r
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	loaded, err := c.store.Roles(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, r := range loaded {
		c.roles.Set(id, r)
		out[id] = r
	}
	return out, nil
}

// LocationResponsibles implements permissions.Catalog.
func (c *CachedCatalog) LocationResponsibles(ctx context.Context, locationID string) (map[string]string, error) {
	return c.locations.GetOrLoad(locationID, func() (map[string]string, error) {
		return c.store.LocationResponsibles(ctx, locationID)
	})
}

// ClassificationNames implements actions.MasterData.
func (c *CachedCatalog) ClassificationNames(ctx context.Context, typeID, categoryID, subcategoryID string) (actions.Classification, error) {
	key := strings.Join([]string{typeID, categoryID, subcategoryID}, "/")
	return c.classifications.GetOrLoad(key, func() (actions.Classification, error) {
		return c.store.ClassificationNames(ctx, typeID, categoryID, subcategoryID)
	})
}

// WorkflowSettings implements actions.MasterData.
func (c *CachedCatalog) WorkflowSettings(ctx context.Context) (actions.WorkflowSettings, error) {
	return c.settings.GetOrLoad(WorkflowSettingsID, func() (actions.WorkflowSettings, error) {
		return c.store.WorkflowSettings(ctx)
	})
}

// Invalidate drops every cached entry.
func (c *CachedCatalog) Invalidate() {
	c.rules.InvalidateAll()
	c.roles.InvalidateAll()
	c.locations.InvalidateAll()
	c.classifications.InvalidateAll()
	c.settings.InvalidateAll()
}
