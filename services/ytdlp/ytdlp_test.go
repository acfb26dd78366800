package ytdlp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExtractor_Extract(t *testing.T) {
	var gotArgs []string
	e := NewExtractor("yt-dlp", "https://music.youtube.com/watch?v=%s", &Options{
		Format:  "bestaudio/best",
		Timeout: 10 * time.Second,
	}).WithRunner(func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		if name != "yt-dlp" {
			t.Errorf("unexpected binary %q", name)
		}
		gotArgs = args
		return []byte(`{"id":"abc123","url":"https://example.com/a.webm","ext":"webm","acodec":"opus","duration":215.5}`), nil, nil
	})

	info, err := e.Extract(context.Background(), e.PageURL("abc123"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.URL != "https://example.com/a.webm" || info.Ext != "webm" || info.Duration != 215.5 {
		t.Errorf("unexpected info %+v", info)
	}
	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "-f bestaudio/best") {
		t.Errorf("format selector missing from args: %v", joined)
	}
	if gotArgs[len(gotArgs)-1] != "https://music.youtube.com/watch?v=abc123" {
		t.Errorf("unexpected page url %q", gotArgs[len(gotArgs)-1])
	}
}

func TestExtractor_Extract_PageURLAfterOptionTerminator(t *testing.T) {
	var gotArgs []string
	e := NewExtractor("yt-dlp", "%s", &Options{}).WithRunner(func(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
		gotArgs = args
		return []byte(`{"url":"https://example.com/a.webm"}`), nil, nil
	})

	if _, err := e.Extract(context.Background(), e.PageURL("-oexec"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n := len(gotArgs)
	if n < 2 || gotArgs[n-2] != "--" || gotArgs[n-1] != "-oexec" {
		t.Errorf("expected page url after option terminator, got %v", gotArgs)
	}
}

func TestExtractor_Extract_DownloadError(t *testing.T) {
	e := NewExtractor("yt-dlp", "%s", &Options{}).
		WithRunner(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
			return nil, []byte("WARNING: something\nERROR: [youtube] abc123: Video unavailable\n"), errors.New("exit status 1")
		})

	_, err := e.Extract(context.Background(), "abc123", nil)

	var de *DownloadError
	if !errors.As(err, &de) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if de.Message != "[youtube] abc123: Video unavailable" {
		t.Errorf("unexpected message %q", de.Message)
	}
}

func TestExtractor_Extract_GenericError(t *testing.T) {
	e := NewExtractor("yt-dlp", "%s", &Options{}).
		WithRunner(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
			return nil, nil, errors.New("executable file not found")
		})

	_, err := e.Extract(context.Background(), "abc123", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var de *DownloadError
	if errors.As(err, &de) {
		t.Errorf("did not expect DownloadError")
	}
}

func TestExtractor_Extract_NoURL(t *testing.T) {
	e := NewExtractor("yt-dlp", "%s", &Options{}).
		WithRunner(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
			return []byte(`{"id":"abc123","ext":"webm"}`), nil, nil
		})

	if _, err := e.Extract(context.Background(), "abc123", nil); err == nil {
		t.Fatal("expected error for missing url")
	}
}
