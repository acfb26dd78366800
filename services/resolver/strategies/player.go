package strategies

import (
	"context"
	"mime"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/webtor-io/lazymap"
	"github.com/webtor-io/media-relay/services/player"
	co "github.com/webtor-io/media-relay/services/resolver/common"
)

// CodecPreference lists codec families from most to least preferred.
// Declared bitrates are not comparable across variants, so they are not used.
var CodecPreference = []string{"opus", "mp4a"}

// PlayerSource provides player data for a media id
type PlayerSource interface {
	GetPlayer(ctx context.Context, videoID string) (*player.PlayerResponse, error)
}

// Player picks an audio format from the embedded streaming data of the player api
type Player struct {
	source      PlayerSource
	playerCache lazymap.LazyMap[*player.PlayerResponse]
}

// Compile-time check to ensure Player implements Strategy interface
var _ co.Strategy = (*Player)(nil)

func NewPlayer(source PlayerSource) *Player {
	return &Player{
		source: source,
		playerCache: lazymap.New[*player.PlayerResponse](&lazymap.Config{
			Expire:      30 * time.Second,
			ErrorExpire: 10 * time.Second,
		}),
	}
}

func (s *Player) Name() string {
	return "player"
}

func (s *Player) Resolve(ctx context.Context, id string) (*co.Result, error) {
	// memoised result is shared with later callers
	pctx := context.WithoutCancel(ctx)
	pr, err := s.playerCache.Get(id, func() (*player.PlayerResponse, error) {
		return s.source.GetPlayer(pctx, id)
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.playerCache.Drop(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get player data")
	}
	if pr == nil || pr.StreamingData == nil {
		return nil, errors.New("no streaming data")
	}
	formats := make([]player.Format, 0, len(pr.StreamingData.AdaptiveFormats)+len(pr.StreamingData.Formats))
	formats = append(formats, pr.StreamingData.AdaptiveFormats...)
	formats = append(formats, pr.StreamingData.Formats...)

	f, ok := SelectAudioFormat(formats)
	if !ok {
		return nil, errors.Errorf("no audio formats among %d formats", len(formats))
	}
	log.WithFields(log.Fields{
		"media_id":  id,
		"itag":      f.Itag,
		"mime_type": f.MimeType,
	}).Debug("selected audio format")
	return &co.Result{
		URL:         f.URL,
		ContentType: co.ContentTypeFromMime(f.MimeType),
		Strategy:    s.Name(),
	}, nil
}

// SelectAudioFormat keeps audio-only formats with a direct url and returns
// the first one of the most preferred codec family, or the first audio format.
func SelectAudioFormat(formats []player.Format) (*player.Format, bool) {
	var audio []*player.Format
	for i := range formats {
		f := &formats[i]
		if f.URL == "" || !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		audio = append(audio, f)
	}
	if len(audio) == 0 {
		return nil, false
	}
	for _, family := range CodecPreference {
		for _, f := range audio {
			if codecFamily(f.MimeType) == family {
				return f, true
			}
		}
	}
	return audio[0], true
}

func codecFamily(mimeType string) string {
	mt, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ""
	}
	codecs := strings.ToLower(params["codecs"])
	switch {
	case strings.Contains(codecs, "opus"):
		return "opus"
	case strings.Contains(codecs, "mp4a"):
		return "mp4a"
	case codecs == "" && mt == "audio/mp4":
		return "mp4a"
	}
	return codecs
}
