package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// rungCacheTTL bounds how long a cached observations_at_rung answer is
// trusted before a read falls through to the backing store again.
const rungCacheTTL = 30 * time.Second

// RungCache is a read-through Redis cache in front of a persistent Store's
// ObservationsAtRung queries, the pruning layer's hottest read path:
// JSON-marshaled entries with a short TTL, treating redis.Nil and any
// transient error as a miss.
type RungCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRungCache dials addr and verifies connectivity with Ping.
func NewRungCache(addr, password string, db int) (*RungCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: connecting to redis: %v", ErrIO, err)
	}
	return &RungCache{client: client, prefix: "scout:rung:", ttl: rungCacheTTL}, nil
}

func (c *RungCache) key(studyID string, bracket, rung int) string {
	return fmt.Sprintf("%s%s:%d:%d", c.prefix, studyID, bracket, rung)
}

// Get returns the cached peer list, or (nil, false) on a cache miss.
func (c *RungCache) Get(ctx context.Context, studyID string, bracket, rung int) ([]PeerScore, bool) {
	data, err := c.client.Get(ctx, c.key(studyID, bracket, rung)).Bytes()
	if err != nil {
		return nil, false // redis.Nil or any transient error: fall through to the store
	}
	var peers []PeerScore
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil, false
	}
	return peers, true
}

// Set populates the cache after a store read.
func (c *RungCache) Set(ctx context.Context, studyID string, bracket, rung int, peers []PeerScore) {
	data, err := json.Marshal(peers)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(studyID, bracket, rung), data, c.ttl).Err()
}

// Invalidate drops the cached entry for one (study, bracket, rung), called
// whenever AddObservation or UpdateTrial touches that rung.
func (c *RungCache) Invalidate(ctx context.Context, studyID string, bracket, rung int) {
	_ = c.client.Del(ctx, c.key(studyID, bracket, rung)).Err()
}

// Close releases the underlying connection pool.
func (c *RungCache) Close() error { return c.client.Close() }

// CachedStore wraps a persistent Store with a RungCache for
// ObservationsAtRung, invalidating on every write that could change a
// rung's peer set.
type CachedStore struct {
	Store
	cache *RungCache
}

// WithRungCache wraps backing with cache, intercepting only the calls the
// cache can serve or must invalidate.
func WithRungCache(backing Store, cache *RungCache) *CachedStore {
	return &CachedStore{Store: backing, cache: cache}
}

func (c *CachedStore) ObservationsAtRung(ctx context.Context, studyID string, bracket, rung int) ([]PeerScore, error) {
	if peers, ok := c.cache.Get(ctx, studyID, bracket, rung); ok {
		return peers, nil
	}
	peers, err := c.Store.ObservationsAtRung(ctx, studyID, bracket, rung)
	if err != nil {
		return nil, err
	}
	c.cache.Set(ctx, studyID, bracket, rung, peers)
	return peers, nil
}

func (c *CachedStore) AddObservation(ctx context.Context, o Observation) error {
	if err := c.Store.AddObservation(ctx, o); err != nil {
		return err
	}
	c.cache.Invalidate(ctx, studyIDForTrial(ctx, c.Store, o.TrialID), o.Bracket, o.Rung)
	return nil
}

func (c *CachedStore) UpdateTrial(ctx context.Context, trialID string, patch TrialPatch) error {
	if err := c.Store.UpdateTrial(ctx, trialID, patch); err != nil {
		return err
	}
	if len(patch.IntermediateValues) == 0 {
		return nil
	}
	tr, err := c.Store.FetchTrial(ctx, trialID)
	if err != nil {
		return nil // best-effort invalidation; the update itself already succeeded
	}
	for rung := range patch.IntermediateValues {
		c.cache.Invalidate(ctx, tr.StudyID, tr.Bracket, rung)
	}
	return nil
}

func studyIDForTrial(ctx context.Context, s Store, trialID string) string {
	tr, err := s.FetchTrial(ctx, trialID)
	if err != nil {
		return ""
	}
	return tr.StudyID
}

var _ Store = (*CachedStore)(nil)
