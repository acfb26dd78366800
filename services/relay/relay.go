package relay

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"github.com/webtor-io/media-relay/services/common"
)

const (
	relayHeaderTimeoutFlag = "relay-header-timeout"
	relayChunkSizeFlag     = "relay-chunk-size"
)

const DefaultChunkSize = 32 * 1024

func RegisterFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.DurationFlag{
			Name:   relayHeaderTimeoutFlag,
			Usage:  "time to wait for upstream response headers",
			Value:  15 * time.Second,
			EnvVar: "RELAY_HEADER_TIMEOUT",
		},
		cli.IntFlag{
			Name:   relayChunkSizeFlag,
			Usage:  "relay chunk size in bytes",
			Value:  DefaultChunkSize,
			EnvVar: "RELAY_CHUNK_SIZE",
		},
	)
}

// Request describes an upstream fetch
type Request struct {
	URL string
	// ContentType overrides the upstream content type when set
	ContentType string
	// Range is forwarded upstream as is
	Range  string
	Accept string
	// FallbackURL is tried once when URL answers 404
	FallbackURL string
}

// StatusError is returned when upstream answers with a non-success status
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// Relay opens upstream byte streams with browser-like headers
type Relay struct {
	cl        *http.Client
	headers   *common.BrowserHeaders
	chunkSize int
}

func New(c *cli.Context) *Relay {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = c.Duration(relayHeaderTimeoutFlag)
	// bytes are relayed as is, Content-Length must match them
	tr.DisableCompression = true
	return NewRelay(&http.Client{Transport: tr}, common.NewBrowserHeaders(c), c.Int(relayChunkSizeFlag))
}

func NewRelay(cl *http.Client, headers *common.BrowserHeaders, chunkSize int) *Relay {
	if headers == nil {
		headers = common.DefaultBrowserHeaders()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Relay{
		cl:        cl,
		headers:   headers,
		chunkSize: chunkSize,
	}
}

// Open connects to upstream and returns a stream positioned at the first byte.
// The caller owns the stream and must either drain Chunks or Close it.
func (s *Relay) Open(ctx context.Context, r *Request) (*Stream, error) {
	resp, err := s.do(ctx, r, r.URL)
	if err != nil {
		return nil, err
	}
	u := r.URL
	if resp.StatusCode == http.StatusNotFound && r.FallbackURL != "" {
		_ = resp.Body.Close()
		log.WithFields(log.Fields{
			"url":          r.URL,
			"fallback_url": r.FallbackURL,
		}).Info("upstream not found, trying fallback")
		resp, err = s.do(ctx, r, r.FallbackURL)
		if err != nil {
			return nil, err
		}
		u = r.FallbackURL
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		_ = resp.Body.Close()
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			URL:        u,
		}
	}
	ct := r.ContentType
	if ct == "" {
		ct = resp.Header.Get("Content-Type")
	}
	return &Stream{
		URL:           u,
		StatusCode:    resp.StatusCode,
		ContentType:   ct,
		ContentLength: resp.ContentLength,
		ContentRange:  resp.Header.Get("Content-Range"),
		AcceptRanges:  resp.Header.Get("Accept-Ranges"),
		body:          resp.Body,
		chunkSize:     s.chunkSize,
	}, nil
}

func (s *Relay) do(ctx context.Context, r *Request, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	s.headers.Apply(req.Header, r.Accept)
	if r.Range != "" {
		req.Header.Set("Range", r.Range)
	}
	resp, err := s.cl.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute request")
	}
	return resp, nil
}

// Stream is an open upstream response consumed chunk by chunk
type Stream struct {
	URL           string
	StatusCode    int
	ContentType   string
	ContentLength int64
	ContentRange  string
	AcceptRanges  string

	body      io.ReadCloser
	chunkSize int
	read      int64
	closeOnce sync.Once
	closeErr  error
}

// Chunks yields upstream bytes as they arrive. The yielded slice is reused
// between iterations. The upstream connection is released when the sequence
// ends, fails or the consumer stops pulling. A read error is yielded once and
// ends the sequence; nothing is retried after bytes were delivered.
func (s *Stream) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		defer func() {
			_ = s.Close()
		}()
		buf := make([]byte, s.chunkSize)
		for {
			n, err := s.body.Read(buf)
			if n > 0 {
				s.read += int64(n)
				if !yield(buf[:n], nil) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, errors.Wrap(err, "upstream read failed"))
				return
			}
		}
	}
}

// BytesRead returns the number of bytes pulled from upstream so far
func (s *Stream) BytesRead() int64 {
	return s.read
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

const (
	maxResThumbnail = "maxresdefault.jpg"
	sdThumbnail     = "sddefault.jpg"
)

// LowerResolutionURL returns the standard definition variant of a
// maximal-resolution thumbnail url.
func LowerResolutionURL(u string) (string, bool) {
	if !strings.Contains(u, maxResThumbnail) {
		return "", false
	}
	return strings.Replace(u, maxResThumbnail, sdThumbnail, 1), true
}
