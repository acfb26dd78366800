package stream

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"
	"github.com/webtor-io/media-relay/services/common"
	"github.com/webtor-io/media-relay/services/relay"
	"github.com/webtor-io/media-relay/services/resolver"
	co "github.com/webtor-io/media-relay/services/resolver/common"
)

type Opener interface {
	Open(ctx context.Context, id string, rangeHeader string) (*relay.Stream, error)
}

type Handler struct {
	m Opener
}

func RegisterHandler(r *gin.Engine, m Opener) {
	h := &Handler{
		m: m,
	}
	gr := r.Group("/media")
	gr.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders:  []string{"Range"},
		ExposeHeaders: []string{"Content-Length", "Content-Range", "Accept-Ranges"},
	}))
	gr.GET("/:id/stream", h.stream)
	gr.HEAD("/:id/stream", h.stream)
}

func (s *Handler) stream(c *gin.Context) {
	id := c.Param("id")
	if !common.IsValidMediaID(id) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid media id"})
		return
	}
	reqID := uuid.NewV4().String()
	l := log.WithFields(log.Fields{
		"media_id":   id,
		"request_id": reqID,
	})
	st, err := s.m.Open(c.Request.Context(), id, c.GetHeader("Range"))
	if errors.Is(err, resolver.ErrNotFound) {
		l.WithError(err).Warn("media not found")
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "media not found"})
		return
	} else if err != nil {
		f := log.Fields{}
		var se *relay.StatusError
		if errors.As(err, &se) {
			f["status_code"] = se.StatusCode
		}
		l.WithError(err).WithFields(f).Error("failed to open media stream")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to stream media"})
		return
	}
	defer func(st *relay.Stream) {
		_ = st.Close()
	}(st)

	ct := st.ContentType
	if ct == "" {
		ct = co.DefaultContentType
	}
	h := c.Writer.Header()
	h.Set("Content-Type", ct)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "no-cache")
	if st.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(st.ContentLength, 10))
	}
	status := http.StatusOK
	if st.StatusCode == http.StatusPartialContent {
		status = http.StatusPartialContent
		if st.ContentRange != "" {
			h.Set("Content-Range", st.ContentRange)
		}
	}
	c.Status(status)
	if c.Request.Method == http.MethodHead {
		c.Writer.WriteHeaderNow()
		return
	}

	var written int64
	for chunk, err := range st.Chunks() {
		if err != nil {
			// headers are already sent, the client sees a truncated body
			l.WithError(err).
				WithField("written", humanize.Bytes(uint64(written))).
				Warn("upstream failed mid-stream")
			return
		}
		n, err := c.Writer.Write(chunk)
		written += int64(n)
		if err != nil {
			l.WithError(err).
				WithField("written", humanize.Bytes(uint64(written))).
				Debug("client went away")
			return
		}
		c.Writer.Flush()
	}
	l.WithFields(log.Fields{
		"status":  status,
		"written": humanize.Bytes(uint64(written)),
	}).Info("media streamed")
}
