package image_proxy

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webtor-io/media-relay/services/relay"
)

func newTestProxy(server *httptest.Server) *ImageProxy {
	return NewImageProxy(relay.NewRelay(server.Client(), nil, 0), DefaultCacheSize, DefaultCacheTTL, DefaultTimeout, 1024*1024)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageProxy_Get_CachesImage(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.True(t, strings.HasPrefix(r.Header.Get("Accept"), "image/"))
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	p := newTestProxy(server)
	u := server.URL + "/vi/abc/hqdefault.jpg"

	im, hit, err := p.Get(context.Background(), u, 0)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "image/jpeg", im.ContentType)
	assert.Equal(t, "jpeg-bytes", string(im.Data))

	im, hit, err = p.Get(context.Background(), u, 0)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "jpeg-bytes", string(im.Data))
	assert.Equal(t, int32(1), calls.Load())
}

func TestImageProxy_Get_FallsBackToLowerResolution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "maxresdefault.jpg") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("sd"))
	}))
	defer server.Close()

	im, _, err := newTestProxy(server).Get(context.Background(), server.URL+"/vi/abc/maxresdefault.jpg", 0)
	require.NoError(t, err)
	assert.Equal(t, "sd", string(im.Data))
}

func TestImageProxy_Get_DeducesContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("data"))
	}))
	defer server.Close()

	p := newTestProxy(server)
	for _, tc := range []struct {
		path string
		want string
	}{
		{"/a.png", "image/png"},
		{"/a.WEBP", "image/webp"},
		{"/a.gif?x=1", "image/gif"},
		{"/a", "image/jpeg"},
	} {
		im, _, err := p.Get(context.Background(), server.URL+tc.path, 0)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.want, im.ContentType, tc.path)
	}
}

func TestImageProxy_Get_Resizes(t *testing.T) {
	src := testPNG(t, 64, 32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(src)
	}))
	defer server.Close()

	p := newTestProxy(server)
	u := server.URL + "/a.png"

	im, _, err := p.Get(context.Background(), u, 16)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", im.ContentType)
	dec, err := imaging.Decode(bytes.NewReader(im.Data))
	require.NoError(t, err)
	assert.Equal(t, 16, dec.Bounds().Dx())
	assert.Equal(t, 8, dec.Bounds().Dy())

	orig, hit, err := p.Get(context.Background(), u, 0)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "image/png", orig.ContentType)

	wide, _, err := p.Get(context.Background(), u, 128)
	require.NoError(t, err)
	assert.Equal(t, src, wide.Data)
	assert.Equal(t, 3, p.Len())
}

func TestImageProxy_Get_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/big":
			_, _ = w.Write(bytes.Repeat([]byte("x"), 2*1024*1024))
		case "/empty":
			w.Header().Set("Content-Type", "image/png")
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte("late"))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer server.Close()

	p := NewImageProxy(relay.NewRelay(server.Client(), nil, 0), DefaultCacheSize, DefaultCacheTTL, 50*time.Millisecond, 1024*1024)
	for _, u := range []string{
		"",
		"ftp://example.com/a.png",
		"/relative.png",
		server.URL + "/forbidden",
		server.URL + "/big",
		server.URL + "/empty",
		server.URL + "/slow",
	} {
		_, _, err := p.Get(context.Background(), u, 0)
		assert.Error(t, err, u)
	}
	_, _, err := p.Get(context.Background(), server.URL+"/a.png", -1)
	assert.Error(t, err)
	assert.Equal(t, 0, p.Len())
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/webp", contentType("https://x/a.jpg", "image/webp"))
	assert.Equal(t, "image/png", contentType("https://x/a.png", ""))
	assert.Equal(t, "image/jpeg", contentType("https://x/a.bin", "application/octet-stream"))
}

// pngHeader returns a png signature and IHDR chunk declaring w x h RGBA pixels
// with no image data behind it.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8
	ihdr[9] = 6
	chunk := append([]byte("IHDR"), ihdr...)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestImageProxy_Get_RejectsOversizedPixels(t *testing.T) {
	src := pngHeader(30000, 30000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(src)
	}))
	defer server.Close()

	p := newTestProxy(server)
	u := server.URL + "/huge.png"

	_, _, err := p.Get(context.Background(), u, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
	assert.Equal(t, 0, p.Len())

	im, _, err := p.Get(context.Background(), u, 0)
	require.NoError(t, err)
	assert.Equal(t, src, im.Data)
}
