package image_proxy

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	ip "github.com/webtor-io/media-relay/services/image_proxy"
)

type Getter interface {
	Get(ctx context.Context, u string, w int) (*ip.Image, bool, error)
}

type Handler struct {
	ip Getter
}

func RegisterHandler(r *gin.Engine, g Getter) {
	h := &Handler{
		ip: g,
	}
	gr := r.Group("/api")
	gr.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	gr.GET("/image-proxy", h.get)
}

func (s *Handler) get(c *gin.Context) {
	u := c.Query("url")
	if u == "" {
		s.placeholder(c)
		return
	}
	w := 0
	if ws := c.Query("w"); ws != "" {
		var err error
		w, err = strconv.Atoi(ws)
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
	}
	im, hit, err := s.ip.Get(c.Request.Context(), u, w)
	if err != nil {
		log.WithError(err).WithField("url", u).Warn("failed to proxy image")
		s.placeholder(c)
		return
	}
	s.setHeaders(c)
	if hit {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.Data(http.StatusOK, im.ContentType, im.Data)
}

func (s *Handler) setHeaders(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=86400")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Vary", "Origin")
}

func (s *Handler) placeholder(c *gin.Context) {
	s.setHeaders(c)
	c.Data(http.StatusOK, ip.PlaceholderType, ip.Placeholder)
}
