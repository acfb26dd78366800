package strategies

import (
	"context"

	"github.com/pkg/errors"
	co "github.com/webtor-io/media-relay/services/resolver/common"
	"github.com/webtor-io/media-relay/services/ytdlp"
)

// Extractor extracts a playable format from a media page
type Extractor interface {
	PageURL(id string) string
	Extract(ctx context.Context, pageURL string, opts *ytdlp.Options) (*ytdlp.Info, error)
}

// Ytdlp takes the best audio format picked by yt-dlp
type Ytdlp struct {
	ex   Extractor
	opts *ytdlp.Options
}

var _ co.Strategy = (*Ytdlp)(nil)

func NewYtdlp(ex Extractor, opts *ytdlp.Options) *Ytdlp {
	return &Ytdlp{
		ex:   ex,
		opts: opts,
	}
}

func (s *Ytdlp) Name() string {
	return "ytdlp"
}

func (s *Ytdlp) Resolve(ctx context.Context, id string) (*co.Result, error) {
	info, err := s.ex.Extract(ctx, s.ex.PageURL(id), s.opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to extract formats")
	}
	return &co.Result{
		URL:         info.URL,
		ContentType: co.ContentTypeFromExt(info.Ext),
		Strategy:    s.Name(),
	}, nil
}
