package indicator

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// fingerprint uniquely identifies a memoized computation: dataset,
// indicator kind, parameters, and the dataset position it was computed
// up to.
func fingerprint(datasetID string, kind Kind, params Params, upToIndex int) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|", datasetID, kind, upToIndex)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, params[k])
	}
	return b.String()
}

// Cache memoizes Series by fingerprint using an LRU, invoking an
// injected Calculator on a miss so custom indicator implementations can
// be swapped in without a polymorphic registry.
type Cache struct {
	calc  Calculator
	inner *lru.Cache[string, Series]
}

// NewCache constructs a Cache holding up to capacity entries, evaluated
// against calc on a miss.
func NewCache(capacity int, calc Calculator) (*Cache, error) {
	inner, err := lru.New[string, Series](capacity)
	if err != nil {
		return nil, fmt.Errorf("new indicator cache: %w", err)
	}
	return &Cache{calc: calc, inner: inner}, nil
}

// Get returns the memoized series for (datasetID, kind, params) up to
// upToIndex, computing and caching it on a miss.
func (c *Cache) Get(datasetID string, kind Kind, params Params, upToIndex int) (Series, error) {
	key := fingerprint(datasetID, kind, params, upToIndex)

	if series, ok := c.inner.Get(key); ok {
		return series, nil
	}

	series, err := c.calc(kind, params, upToIndex)
	if err != nil {
		return nil, err
	}

	c.inner.Add(key, series)
	return series, nil
}

// Len returns the number of memoized entries currently cached.
func (c *Cache) Len() int {
	return c.inner.Len()
}

// Purge evicts every memoized entry.
func (c *Cache) Purge() {
	c.inner.Purge()
}
