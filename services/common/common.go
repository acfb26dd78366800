package common

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/urfave/cli"
)

var MediaIDR = regexp.MustCompile("^[A-Za-z0-9_-]{1,64}$")

var (
	UserAgentFlag = "user-agent"
	RefererFlag   = "referer"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultReferer   = "https://music.youtube.com/"
)

func RegisterFlags(f []cli.Flag) []cli.Flag {
	f = append(f,
		cli.StringFlag{
			Name:   UserAgentFlag,
			Usage:  "user agent sent upstream",
			Value:  DefaultUserAgent,
			EnvVar: "USER_AGENT",
		},
		cli.StringFlag{
			Name:   RefererFlag,
			Usage:  "referer sent upstream",
			Value:  DefaultReferer,
			EnvVar: "REFERER",
		},
	)

	return f
}

// BrowserHeaders are the request headers that make upstream fetches look
// like they come from the provider's own web player.
type BrowserHeaders struct {
	UserAgent string
	Referer   string
}

func NewBrowserHeaders(c *cli.Context) *BrowserHeaders {
	return &BrowserHeaders{
		UserAgent: c.String(UserAgentFlag),
		Referer:   c.String(RefererFlag),
	}
}

func DefaultBrowserHeaders() *BrowserHeaders {
	return &BrowserHeaders{
		UserAgent: DefaultUserAgent,
		Referer:   DefaultReferer,
	}
}

func (s *BrowserHeaders) Apply(h http.Header, accept string) {
	h.Set("User-Agent", s.UserAgent)
	if s.Referer != "" {
		h.Set("Referer", s.Referer)
		h.Set("Origin", strings.TrimRight(s.Referer, "/"))
	}
	if accept == "" {
		accept = "*/*"
	}
	h.Set("Accept", accept)
	h.Set("Accept-Language", "en-US,en;q=0.9")
}

func IsValidMediaID(id string) bool {
	return MediaIDR.MatchString(id)
}
