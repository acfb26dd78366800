package player

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Token holds OAuth credentials used to authenticate player requests
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

func (t *Token) Header() string {
	tt := t.TokenType
	if tt == "" {
		tt = "Bearer"
	}
	return tt + " " + t.AccessToken
}

// LoadToken reads credentials from raw json first and from file second.
// It returns nil without error when neither is present.
func LoadToken(raw string, file string) (*Token, error) {
	var data []byte
	if raw != "" {
		data = []byte(raw)
	} else if file != "" {
		b, err := os.ReadFile(file)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read oauth file %v", file)
		}
		data = b
	} else {
		return nil, nil
	}
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "failed to parse oauth json")
	}
	if t.AccessToken == "" {
		return nil, errors.New("oauth json has no access_token")
	}
	return &t, nil
}
