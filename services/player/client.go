package player

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"github.com/webtor-io/media-relay/services/common"
)

const (
	playerApiUrlFlag        = "player-api-url"
	playerApiKeyFlag        = "player-api-key"
	playerClientNameFlag    = "player-client-name"
	playerClientVersionFlag = "player-client-version"
	playerTimeoutFlag       = "player-timeout"
	oauthJSONFlag           = "oauth-json"
	oauthFileFlag           = "oauth-file"
)

func RegisterFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.StringFlag{
			Name:   playerApiUrlFlag,
			Usage:  "player api base url",
			Value:  "https://music.youtube.com/youtubei/v1",
			EnvVar: "PLAYER_API_URL",
		},
		cli.StringFlag{
			Name:   playerApiKeyFlag,
			Usage:  "player api key",
			EnvVar: "PLAYER_API_KEY",
		},
		cli.StringFlag{
			Name:   playerClientNameFlag,
			Usage:  "player api client name",
			Value:  "WEB_REMIX",
			EnvVar: "PLAYER_CLIENT_NAME",
		},
		cli.StringFlag{
			Name:   playerClientVersionFlag,
			Usage:  "player api client version",
			Value:  "1.20240918.01.00",
			EnvVar: "PLAYER_CLIENT_VERSION",
		},
		cli.DurationFlag{
			Name:   playerTimeoutFlag,
			Usage:  "player api request timeout",
			Value:  10 * time.Second,
			EnvVar: "PLAYER_TIMEOUT",
		},
		cli.StringFlag{
			Name:   oauthJSONFlag,
			Usage:  "oauth credentials json",
			EnvVar: "OAUTH_JSON",
		},
		cli.StringFlag{
			Name:   oauthFileFlag,
			Usage:  "oauth credentials file",
			Value:  "oauth.json",
			EnvVar: "OAUTH_FILE",
		},
	)
}

// StatusError is returned when the player api answers with a non-200 status
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("player api returned status %d", e.StatusCode)
}

// Client queries the player endpoint of the metadata source
type Client struct {
	cl            *http.Client
	url           string
	key           string
	clientName    string
	clientVersion string
	timeout       time.Duration
	token         *Token
	headers       *common.BrowserHeaders
}

type Config struct {
	URL           string
	Key           string
	ClientName    string
	ClientVersion string
	Timeout       time.Duration
	Token         *Token
	Headers       *common.BrowserHeaders
}

func New(c *cli.Context, cl *http.Client) (*Client, error) {
	token, err := LoadToken(c.String(oauthJSONFlag), c.String(oauthFileFlag))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load oauth credentials")
	}
	if token == nil {
		log.Warn("oauth credentials not found, using public mode")
	} else {
		log.Info("using oauth credentials for player api")
	}
	u := c.String(playerApiUrlFlag)
	log.Infof("player api endpoint %v", u)
	return NewClient(cl, &Config{
		URL:           u,
		Key:           c.String(playerApiKeyFlag),
		ClientName:    c.String(playerClientNameFlag),
		ClientVersion: c.String(playerClientVersionFlag),
		Timeout:       c.Duration(playerTimeoutFlag),
		Token:         token,
		Headers:       common.NewBrowserHeaders(c),
	}), nil
}

func NewClient(cl *http.Client, cfg *Config) *Client {
	h := cfg.Headers
	if h == nil {
		h = common.DefaultBrowserHeaders()
	}
	return &Client{
		cl:            cl,
		url:           cfg.URL,
		key:           cfg.Key,
		clientName:    cfg.ClientName,
		clientVersion: cfg.ClientVersion,
		timeout:       cfg.Timeout,
		token:         cfg.Token,
		headers:       h,
	}
}

func (s *Client) Authenticated() bool {
	return s.token != nil
}

// GetPlayer fetches player data for videoID. An authenticated request
// rejected with 403 is retried once in public mode.
func (s *Client) GetPlayer(ctx context.Context, videoID string) (*PlayerResponse, error) {
	resp, err := s.getPlayer(ctx, videoID, s.token)
	if err == nil || s.token == nil {
		return resp, err
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
		return nil, err
	}
	log.WithField("media_id", videoID).Warn("oauth request forbidden, retrying in public mode")
	return s.getPlayer(ctx, videoID, nil)
}

func (s *Client) getPlayer(ctx context.Context, videoID string, token *Token) (*PlayerResponse, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	data, err := json.Marshal(&playerRequest{
		VideoID: videoID,
		Context: requestContext{
			Client: requestClient{
				ClientName:    s.clientName,
				ClientVersion: s.clientVersion,
				HL:            "en",
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal player request")
	}

	q := url.Values{}
	q.Set("prettyPrint", "false")
	if s.key != "" {
		q.Set("key", s.key)
	}
	reqURL := fmt.Sprintf("%s/player?%s", s.url, q.Encode())

	req, err := http.NewRequestWithContext(ctx, "POST", reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	s.headers.Apply(req.Header, "application/json")
	req.Header.Set("Content-Type", "application/json")
	if token != nil {
		req.Header.Set("Authorization", token.Header())
	}

	resp, err := s.cl.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute request")
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var pr PlayerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, errors.Wrap(err, "failed to decode player response")
	}
	if pr.PlayabilityStatus.Status != "" && pr.PlayabilityStatus.Status != "OK" {
		return nil, errors.Errorf("media is not playable: %v %v", pr.PlayabilityStatus.Status, pr.PlayabilityStatus.Reason)
	}
	return &pr, nil
}
