package linkage

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"smr/internal/metrics"
	"smr/internal/models"
	"smr/internal/repository"
)

const allArtistsKey = "all"

// Directory is the read side of the canonical artist directory
type Directory interface {
	Lookup(ctx context.Context, normalized string) ([]models.Artist, error)
	All(ctx context.Context) ([]models.Artist, error)
}

// CachedDirectory fronts the artist repository with a TTL cache. The directory
// is read-mostly, so stale entries only live for one TTL.
type CachedDirectory struct {
	artists repository.ArtistRepository
	cache   *cache.Cache
	metrics *metrics.Metrics
}

// NewCachedDirectory caches lookups for ttl. A zero ttl defaults to five minutes.
func NewCachedDirectory(artists repository.ArtistRepository, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{
		artists: artists,
		cache:   cache.New(ttl, 2*ttl),
		metrics: metrics.Default(),
	}
}

func (d *CachedDirectory) Lookup(ctx context.Context, normalized string) ([]models.Artist, error) {
	key := "n:" + normalized
	if v, ok := d.cache.Get(key); ok {
		d.metrics.DirectoryLookups.WithLabelValues("hit").Inc()
		return v.([]models.Artist), nil
	}
	d.metrics.DirectoryLookups.WithLabelValues("miss").Inc()

	artists, err := d.artists.FindByNormalizedName(ctx, normalized)
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(key, artists)
	return artists, nil
}

func (d *CachedDirectory) All(ctx context.Context) ([]models.Artist, error) {
	if v, ok := d.cache.Get(allArtistsKey); ok {
		return v.([]models.Artist), nil
	}
	artists, err := d.artists.All(ctx)
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(allArtistsKey, artists)
	return artists, nil
}

// Invalidate drops every cached entry, e.g. after the directory is reseeded
func (d *CachedDirectory) Invalidate() {
	d.cache.Flush()
}
