package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	ytdlpPathFlag    = "ytdlp-path"
	ytdlpTimeoutFlag = "ytdlp-timeout"
	ytdlpPageURLFlag = "ytdlp-page-url"
	ytdlpFormatFlag  = "ytdlp-format"
)

func RegisterFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.StringFlag{
			Name:   ytdlpPathFlag,
			Usage:  "path to yt-dlp binary",
			Value:  "yt-dlp",
			EnvVar: "YTDLP_PATH",
		},
		cli.DurationFlag{
			Name:   ytdlpTimeoutFlag,
			Usage:  "yt-dlp extraction timeout",
			Value:  30 * time.Second,
			EnvVar: "YTDLP_TIMEOUT",
		},
		cli.StringFlag{
			Name:   ytdlpPageURLFlag,
			Usage:  "media page url template, %s is replaced with media id",
			Value:  "https://music.youtube.com/watch?v=%s",
			EnvVar: "YTDLP_PAGE_URL",
		},
		cli.StringFlag{
			Name:   ytdlpFormatFlag,
			Usage:  "yt-dlp format selector",
			Value:  "bestaudio/best",
			EnvVar: "YTDLP_FORMAT",
		},
	)
}

// Info is the part of yt-dlp json output used for playback
type Info struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Ext      string  `json:"ext"`
	FormatID string  `json:"format_id"`
	ACodec   string  `json:"acodec"`
	Protocol string  `json:"protocol"`
	Duration float64 `json:"duration"`
}

type Options struct {
	Format  string
	Timeout time.Duration
}

// DownloadError is reported when yt-dlp itself refuses the page
type DownloadError struct {
	Message string
}

func (e *DownloadError) Error() string {
	return "download error: " + e.Message
}

// Runner executes a command and returns its stdout and stderr
type Runner func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Extractor runs yt-dlp to get a direct media url from a page
type Extractor struct {
	path    string
	pageURL string
	opts    *Options
	run     Runner
}

func New(c *cli.Context) *Extractor {
	e := NewExtractor(c.String(ytdlpPathFlag), c.String(ytdlpPageURLFlag), &Options{
		Format:  c.String(ytdlpFormatFlag),
		Timeout: c.Duration(ytdlpTimeoutFlag),
	})
	log.Infof("yt-dlp extractor %v", e.path)
	return e
}

func NewExtractor(path, pageURL string, opts *Options) *Extractor {
	return &Extractor{
		path:    path,
		pageURL: pageURL,
		opts:    opts,
		run:     execRunner,
	}
}

func (s *Extractor) WithRunner(r Runner) *Extractor {
	s.run = r
	return s
}

// PageURL returns the canonical page url for a media id
func (s *Extractor) PageURL(id string) string {
	return fmt.Sprintf(s.pageURL, id)
}

func (s *Extractor) DefaultOptions() *Options {
	return s.opts
}

// Extract asks yt-dlp for the format selected by opts on pageURL
func (s *Extractor) Extract(ctx context.Context, pageURL string, opts *Options) (*Info, error) {
	if opts == nil {
		opts = s.opts
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	args := []string{
		"--dump-json",
		"--no-playlist",
		"--no-warnings",
		"--skip-download",
	}
	if opts.Format != "" {
		args = append(args, "-f", opts.Format)
	}
	if opts.Timeout > 0 {
		args = append(args, "--socket-timeout", fmt.Sprintf("%d", int(opts.Timeout.Seconds())))
	}
	// ends option parsing so a page url starting with "-" stays positional
	args = append(args, "--", pageURL)

	stdout, stderr, err := s.run(ctx, s.path, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "yt-dlp interrupted")
		}
		if msg := downloadErrorMessage(stderr); msg != "" {
			return nil, &DownloadError{Message: msg}
		}
		return nil, errors.Wrap(err, "failed to run yt-dlp")
	}

	var info Info
	if err := json.Unmarshal(stdout, &info); err != nil {
		return nil, errors.Wrap(err, "failed to decode yt-dlp output")
	}
	if info.URL == "" {
		return nil, errors.New("yt-dlp returned no url")
	}
	return &info, nil
}

func downloadErrorMessage(stderr []byte) string {
	for _, line := range strings.Split(string(stderr), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	return ""
}
