package media

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"github.com/webtor-io/media-relay/services/relay"
	"github.com/webtor-io/media-relay/services/resolver"
	co "github.com/webtor-io/media-relay/services/resolver/common"
	"github.com/webtor-io/media-relay/services/stream_cache"
	"golang.org/x/sync/singleflight"
)

const (
	resolveCoalesceFlag = "resolve-coalesce"
)

func RegisterFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.BoolTFlag{
			Name:   resolveCoalesceFlag,
			Usage:  "share one resolution between concurrent requests for the same media id",
			EnvVar: "RESOLVE_COALESCE",
		},
	)
}

// ErrNotFound is returned when no strategy could resolve a source
var ErrNotFound = resolver.ErrNotFound

type Resolver interface {
	Resolve(ctx context.Context, id string) (*co.Result, error)
}

type Relay interface {
	Open(ctx context.Context, r *relay.Request) (*relay.Stream, error)
}

// Media ties the stream cache, the resolution chain and the relay together
type Media struct {
	cache    *stream_cache.Cache
	resolver Resolver
	relay    Relay
	coalesce bool
	sg       singleflight.Group
}

func New(c *cli.Context, cache *stream_cache.Cache, r Resolver, rl Relay) *Media {
	return NewMedia(cache, r, rl, c.BoolT(resolveCoalesceFlag))
}

func NewMedia(cache *stream_cache.Cache, r Resolver, rl Relay, coalesce bool) *Media {
	return &Media{
		cache:    cache,
		resolver: r,
		relay:    rl,
		coalesce: coalesce,
	}
}

// Resolve returns a cached source for id, running the resolution chain on miss.
// Nothing is cached when the chain is exhausted.
func (s *Media) Resolve(ctx context.Context, id string) (*stream_cache.Entry, bool, error) {
	if e, ok := s.cache.Get(id); ok {
		log.WithField("media_id", id).Debug("stream cache hit")
		return e, true, nil
	}
	if !s.coalesce {
		e, err := s.resolve(ctx, id)
		return e, false, err
	}
	ch := s.sg.DoChan(id, func() (any, error) {
		// shared between callers, so one caller leaving must not abort the others
		return s.resolve(context.WithoutCancel(ctx), id)
	})
	select {
	case <-ctx.Done():
		return nil, false, errors.Wrap(ctx.Err(), "resolution interrupted")
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		return r.Val.(*stream_cache.Entry), false, nil
	}
}

func (s *Media) resolve(ctx context.Context, id string) (*stream_cache.Entry, error) {
	// another request may have finished while this one waited
	if e, ok := s.cache.Get(id); ok {
		return e, nil
	}
	res, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	e := s.cache.Put(id, res.URL, res.ContentType)
	log.WithFields(log.Fields{
		"media_id":   id,
		"strategy":   res.Strategy,
		"expires_at": e.ExpiresAt,
	}).Info("stream cached")
	return e, nil
}

// Open resolves id and opens the upstream stream. A relay failure leaves the
// cache entry in place.
func (s *Media) Open(ctx context.Context, id string, rangeHeader string) (*relay.Stream, error) {
	e, hit, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := s.relay.Open(ctx, &relay.Request{
		URL:         e.SourceURL,
		ContentType: e.ContentType,
		Range:       rangeHeader,
	})
	if err != nil {
		f := log.Fields{
			"media_id":  id,
			"cache_hit": hit,
		}
		var se *relay.StatusError
		if errors.As(err, &se) {
			f["status_code"] = se.StatusCode
		}
		log.WithError(err).WithFields(f).Warn("failed to open upstream stream")
		return nil, errors.Wrapf(err, "failed to relay %v", id)
	}
	return st, nil
}
