package tariffs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// CatalogSource reads the service catalogue and tariff price lists.
type CatalogSource interface {
	ServiceGroups(ctx context.Context, serviceIDs []int64) ([]ServiceGroup, error)
	PriceList(ctx context.Context, tariffID int64) ([]PriceEntry, error)
	ServiceIDByTitle(ctx context.Context, title string) (int64, error)
}

// MatcherConfig names the catalogue titles of the special services.
type MatcherConfig struct {
	BloodServiceTitle string
	SmearServiceTitle string
}

// Matcher maps ordered services onto price entries of tariff variants.
type Matcher struct {
	source CatalogSource
	cache  *Cache
	cfg    MatcherConfig
	group  singleflight.Group
}

// NewMatcher builds a Matcher. cache may be nil.
func NewMatcher(source CatalogSource, cache *Cache, cfg MatcherConfig) *Matcher {
	return &Matcher{source: source, cache: cache, cfg: cfg}
}

// GroupsOf returns the distinct groups owning serviceIDs in first-seen order.
// Unknown and ungrouped services contribute nothing.
func (m *Matcher) GroupsOf(ctx context.Context, serviceIDs []int64) ([]int64, error) {
	if len(serviceIDs) == 0 {
		return nil, nil
	}
	rows, err := m.source.ServiceGroups(ctx, serviceIDs)
	if err != nil {
		return nil, fmt.Errorf("tariffs: service groups: %w", err)
	}
	owner := make(map[int64]int64, len(rows))
	for _, row := range rows {
		owner[row.ServiceID] = row.GroupID
	}
	groups := make([]int64, 0, len(rows))
	seen := make(map[int64]struct{}, len(rows))
	for _, id := range serviceIDs {
		g := owner[id]
		if g == 0 {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}
	return groups, nil
}

// PriceEntry returns the first entry for groupID inside the tariff variant.
// A zero tariffID never matches.
func (m *Matcher) PriceEntry(ctx context.Context, tariffID, groupID int64) (PriceEntry, bool, error) {
	if tariffID == 0 || groupID == 0 {
		return PriceEntry{}, false, nil
	}
	entries, err := m.PriceList(ctx, tariffID)
	if err != nil {
		return PriceEntry{}, false, err
	}
	for _, e := range entries {
		if e.ServiceGroupID == groupID {
			return e, true, nil
		}
	}
	return PriceEntry{}, false, nil
}

// PriceList returns the entries of a tariff variant in insertion order,
// through the cache when one is configured.
func (m *Matcher) PriceList(ctx context.Context, tariffID int64) ([]PriceEntry, error) {
	id := strconv.FormatInt(tariffID, 10)
	key, err := m.cache.BuildKey(ctx, "tariffs", "prices", id)
	if err != nil {
		return nil, fmt.Errorf("tariffs: price list key: %w", err)
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		var entries []PriceEntry
		err := m.cache.FetchJSON(ctx, key, &entries, func(ctx context.Context) (any, error) {
			return m.source.PriceList(ctx, tariffID)
		})
		return entries, err
	})
	if err != nil {
		return nil, fmt.Errorf("tariffs: price list %d: %w", tariffID, err)
	}
	return v.([]PriceEntry), nil
}

// SpecialServices resolves the blood-draw and smear-draw service ids.
func (m *Matcher) SpecialServices(ctx context.Context) (SpecialServices, error) {
	key, err := m.cache.BuildKey(ctx, "tariffs", "special-services")
	if err != nil {
		return SpecialServices{}, fmt.Errorf("tariffs: special services key: %w", err)
	}
	var out SpecialServices
	err = m.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		blood, err := m.serviceID(ctx, m.cfg.BloodServiceTitle)
		if err != nil {
			return nil, err
		}
		smear, err := m.serviceID(ctx, m.cfg.SmearServiceTitle)
		if err != nil {
			return nil, err
		}
		return SpecialServices{BloodID: blood, SmearID: smear}, nil
	})
	if err != nil {
		return SpecialServices{}, fmt.Errorf("tariffs: special services: %w", err)
	}
	return out, nil
}

// Refresh drops every cached price list.
func (m *Matcher) Refresh(ctx context.Context) (int64, error) {
	return m.cache.Bump(ctx)
}

func (m *Matcher) serviceID(ctx context.Context, title string) (int64, error) {
	if title == "" {
		return 0, nil
	}
	id, err := m.source.ServiceIDByTitle(ctx, title)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return id, err
}
