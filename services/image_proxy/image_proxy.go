package image_proxy

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"github.com/webtor-io/media-relay/services/relay"
)

const (
	imageCacheSizeFlag = "image-cache-size"
	imageCacheTTLFlag  = "image-cache-ttl"
	imageTimeoutFlag   = "image-timeout"
	imageMaxSizeFlag   = "image-max-size"
)

const (
	DefaultCacheSize = 200
	DefaultCacheTTL  = time.Hour
	DefaultTimeout   = 5 * time.Second
	DefaultMaxSize   = 10 * 1024 * 1024
	DefaultType      = "image/jpeg"
	imageAccept      = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
	maxWidth         = 4096
)

// MaxPixels bounds the decoded size of an image that gets resized
const MaxPixels = 40 * 1000 * 1000

func RegisterFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.IntFlag{
			Name:   imageCacheSizeFlag,
			Usage:  "number of proxied images kept in memory",
			Value:  DefaultCacheSize,
			EnvVar: "IMAGE_CACHE_SIZE",
		},
		cli.DurationFlag{
			Name:   imageCacheTTLFlag,
			Usage:  "proxied image cache ttl",
			Value:  DefaultCacheTTL,
			EnvVar: "IMAGE_CACHE_TTL",
		},
		cli.DurationFlag{
			Name:   imageTimeoutFlag,
			Usage:  "proxied image fetch timeout",
			Value:  DefaultTimeout,
			EnvVar: "IMAGE_TIMEOUT",
		},
		cli.Int64Flag{
			Name:   imageMaxSizeFlag,
			Usage:  "max proxied image size in bytes",
			Value:  DefaultMaxSize,
			EnvVar: "IMAGE_MAX_SIZE",
		},
	)
}

// Placeholder is served instead of an image that could not be fetched
var Placeholder = []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="160" height="160" viewBox="0 0 160 160">` +
	`<defs><linearGradient id="grad" x1="0%" y1="0%" x2="100%" y2="100%">` +
	`<stop offset="0%" style="stop-color:rgb(6,182,212);stop-opacity:0.2"/>` +
	`<stop offset="100%" style="stop-color:rgb(59,130,246);stop-opacity:0.2"/>` +
	`</linearGradient></defs>` +
	`<rect width="160" height="160" fill="url(#grad)"/>` +
	`<text x="80" y="80" font-family="Arial" font-size="48" fill="rgba(255,255,255,0.3)" text-anchor="middle" dominant-baseline="middle">&#9835;</text>` +
	`</svg>`)

const PlaceholderType = "image/svg+xml"

type Fetcher interface {
	Open(ctx context.Context, r *relay.Request) (*relay.Stream, error)
}

type Image struct {
	Data        []byte
	ContentType string
}

type ImageProxy struct {
	fetcher Fetcher
	cache   *expirable.LRU[string, *Image]
	timeout time.Duration
	maxSize int64
}

func New(c *cli.Context, f Fetcher) *ImageProxy {
	return NewImageProxy(f, c.Int(imageCacheSizeFlag), c.Duration(imageCacheTTLFlag),
		c.Duration(imageTimeoutFlag), c.Int64(imageMaxSizeFlag))
}

func NewImageProxy(f Fetcher, size int, ttl time.Duration, timeout time.Duration, maxSize int64) *ImageProxy {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &ImageProxy{
		fetcher: f,
		cache:   expirable.NewLRU[string, *Image](size, nil, ttl),
		timeout: timeout,
		maxSize: maxSize,
	}
}

// Get returns the image at u, optionally scaled down to width w.
// The second result reports a cache hit.
func (s *ImageProxy) Get(ctx context.Context, u string, w int) (*Image, bool, error) {
	if err := validate(u); err != nil {
		return nil, false, err
	}
	if w < 0 || w > maxWidth {
		return nil, false, errors.Errorf("invalid width %d", w)
	}
	key := cacheKey(u, w)
	if im, ok := s.cache.Get(key); ok {
		return im, true, nil
	}
	im, err := s.fetch(ctx, u)
	if err != nil {
		return nil, false, err
	}
	if w > 0 {
		im, err = resize(im, w)
		if err != nil {
			return nil, false, err
		}
	}
	s.cache.Add(key, im)
	log.WithFields(log.Fields{
		"url":          u,
		"width":        w,
		"content_type": im.ContentType,
		"size":         humanize.Bytes(uint64(len(im.Data))),
	}).Debug("image cached")
	return im, false, nil
}

func (s *ImageProxy) Len() int {
	return s.cache.Len()
}

func (s *ImageProxy) fetch(ctx context.Context, u string) (*Image, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	r := &relay.Request{
		URL:    u,
		Accept: imageAccept,
	}
	if fb, ok := relay.LowerResolutionURL(u); ok {
		r.FallbackURL = fb
	}
	st, err := s.fetcher.Open(ctx, r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch image %v", u)
	}
	defer func(st *relay.Stream) {
		_ = st.Close()
	}(st)
	var buf bytes.Buffer
	for chunk, err := range st.Chunks() {
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read image %v", u)
		}
		if int64(buf.Len()+len(chunk)) > s.maxSize {
			return nil, errors.Errorf("image %v exceeds %v", u, humanize.Bytes(uint64(s.maxSize)))
		}
		buf.Write(chunk)
	}
	if buf.Len() == 0 {
		return nil, errors.Errorf("empty image %v", u)
	}
	return &Image{
		Data:        buf.Bytes(),
		ContentType: contentType(st.URL, st.ContentType),
	}, nil
}

func resize(im *Image, w int) (*Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(im.Data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image config")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, errors.Errorf("image of %dx%d pixels exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels)
	}
	if cfg.Width <= w {
		return im, nil
	}
	src, err := imaging.Decode(bytes.NewReader(im.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}
	dst := imaging.Resize(src, w, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, errors.Wrap(err, "failed to encode image")
	}
	return &Image{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
	}, nil
}

var extTypes = map[string]string{
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// contentType keeps the upstream type unless it is missing or generic,
// then falls back to the url extension.
func contentType(u string, upstream string) string {
	if upstream != "" && !strings.HasPrefix(upstream, "application/octet-stream") {
		return upstream
	}
	p := u
	if pu, err := url.Parse(u); err == nil {
		p = pu.Path
	}
	if t, ok := extTypes[strings.ToLower(path.Ext(p))]; ok {
		return t
	}
	return DefaultType
}

func validate(u string) error {
	if u == "" {
		return errors.New("empty image url")
	}
	pu, err := url.Parse(u)
	if err != nil {
		return errors.Wrap(err, "failed to parse image url")
	}
	if pu.Scheme != "http" && pu.Scheme != "https" {
		return errors.Errorf("unsupported image url scheme %q", pu.Scheme)
	}
	if pu.Host == "" {
		return errors.New("image url without host")
	}
	return nil
}

func cacheKey(u string, w int) string {
	if w == 0 {
		return u
	}
	return fmt.Sprintf("%s#w=%d", u, w)
}
