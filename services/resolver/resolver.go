package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	co "github.com/webtor-io/media-relay/services/resolver/common"
)

// ErrNotFound is returned when every strategy failed to produce a source
var ErrNotFound = errors.New("no source available")

// ExhaustedError carries the failed attempts of a resolution
type ExhaustedError struct {
	ID       string
	Attempts []co.Attempt
}

func (e *ExhaustedError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("%v: %v", a.Strategy, a.Err))
	}
	return fmt.Sprintf("%v for %v (%v)", ErrNotFound, e.ID, strings.Join(reasons, "; "))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrNotFound
}

// Resolver tries strategies in priority order and stops at the first success
type Resolver struct {
	strategies []co.Strategy
}

func New(strategies ...co.Strategy) *Resolver {
	return &Resolver{
		strategies: strategies,
	}
}

func (s *Resolver) Strategies() []co.Strategy {
	return s.strategies
}

// Resolve returns the first source produced by a strategy. Strategy errors
// are logged and skipped; only exhaustion or caller cancellation is returned.
func (s *Resolver) Resolve(ctx context.Context, id string) (*co.Result, error) {
	attempts := make([]co.Attempt, 0, len(s.strategies))
	for _, st := range s.strategies {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "resolution interrupted")
		}
		res, err := s.attempt(ctx, st, id)
		attempts = append(attempts, co.Attempt{
			Strategy: st.Name(),
			Result:   res,
			Err:      err,
		})
		if err != nil {
			log.WithError(err).
				WithField("media_id", id).
				WithField("strategy", st.Name()).
				Warn("strategy failed to resolve source")
			continue
		}
		log.WithFields(log.Fields{
			"media_id":     id,
			"strategy":     st.Name(),
			"content_type": res.ContentType,
			"attempts":     len(attempts),
		}).Info("resolved source")
		return res, nil
	}
	err := &ExhaustedError{
		ID:       id,
		Attempts: attempts,
	}
	log.WithError(err).WithField("media_id", id).Warn("all strategies exhausted")
	return nil, err
}

func (s *Resolver) attempt(ctx context.Context, st co.Strategy, id string) (res *co.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = errors.Errorf("strategy panicked: %v", r)
		}
	}()
	res, err = st.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if res == nil || res.URL == "" {
		return nil, errors.New("empty result")
	}
	if res.ContentType == "" {
		res.ContentType = co.DefaultContentType
	}
	if res.Strategy == "" {
		res.Strategy = st.Name()
	}
	return res, nil
}
