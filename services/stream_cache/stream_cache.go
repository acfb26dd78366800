package stream_cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"github.com/webtor-io/media-relay/services/expiry"
)

const (
	capacityFlag = "stream-cache-capacity"
	ttlFlag      = "stream-cache-ttl"
)

const (
	DefaultCapacity = 50
	DefaultTTL      = time.Hour
)

func RegisterFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.IntFlag{
			Name:   capacityFlag,
			Usage:  "max number of resolved stream urls kept in memory",
			Value:  DefaultCapacity,
			EnvVar: "STREAM_CACHE_CAPACITY",
		},
		cli.DurationFlag{
			Name:   ttlFlag,
			Usage:  "max lifetime of a resolved stream url",
			Value:  DefaultTTL,
			EnvVar: "STREAM_CACHE_TTL",
		},
	)
}

// Entry is a resolved stream url. Entries are never mutated, Put replaces them.
type Entry struct {
	Key         string
	SourceURL   string
	ContentType string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e *Entry) ValidAt(t time.Time) bool {
	return t.Before(e.ExpiresAt)
}

// Cache keeps resolved stream urls in least-recently-used order. Expired
// entries are dropped lazily when they are read; there is no background sweep.
type Cache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *Entry]
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

func New(c *cli.Context) (*Cache, error) {
	return NewCache(c.Int(capacityFlag), c.Duration(ttlFlag))
}

func NewCache(capacity int, ttl time.Duration) (*Cache, error) {
	if capacity <= 0 {
		return nil, errors.Errorf("wrong stream cache capacity %v", capacity)
	}
	if ttl <= 0 {
		return nil, errors.Errorf("wrong stream cache ttl %v", ttl)
	}
	l, err := simplelru.NewLRU[string, *Entry](capacity, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create lru")
	}
	log.WithFields(log.Fields{
		"capacity": capacity,
		"ttl":      ttl,
	}).Info("stream cache initialized")
	return &Cache{
		lru:      l,
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// WithClock replaces the time source, used by tests.
func (s *Cache) WithClock(now func() time.Time) *Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Get returns a valid entry and marks it as most recently used.
// An expired entry is removed and reported as a miss.
func (s *Cache) Get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lru.Peek(key)
	if !ok {
		return nil, false
	}
	if !e.ValidAt(s.now()) {
		s.lru.Remove(key)
		log.WithFields(log.Fields{
			"media_id":   key,
			"expires_at": e.ExpiresAt,
		}).Debug("stream cache entry expired")
		return nil, false
	}
	s.lru.Get(key)
	return e, true
}

// Put stores sourceURL under key. The entry lives until the earlier of
// now+ttl and the expiry embedded in sourceURL.
func (s *Cache) Put(key, sourceURL, contentType string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e := &Entry{
		Key:         key,
		SourceURL:   sourceURL,
		ContentType: contentType,
		CreatedAt:   now,
		ExpiresAt:   s.expiresAt(now, sourceURL),
	}
	if !s.lru.Contains(key) && s.lru.Len() >= s.capacity {
		if k, _, ok := s.lru.RemoveOldest(); ok {
			log.WithField("media_id", k).Debug("stream cache entry evicted")
		}
	}
	s.lru.Add(key, e)
	return e
}

func (s *Cache) expiresAt(now time.Time, sourceURL string) time.Time {
	exp := now.Add(s.ttl)
	if t, ok := expiry.Extract(sourceURL); ok && t.Before(exp) {
		return t
	}
	return exp
}

func (s *Cache) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Keys returns cached keys from least to most recently used.
func (s *Cache) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Keys()
}

func (s *Cache) Capacity() int {
	return s.capacity
}

func (s *Cache) TTL() time.Duration {
	return s.ttl
}
