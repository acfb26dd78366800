package common

import (
	"context"
)

// DefaultContentType is used when the chosen format does not tell its type
const DefaultContentType = "audio/mpeg"

// Strategy is one way of turning a media id into a playable url
type Strategy interface {
	// Name returns the strategy name for logging purposes
	Name() string
	// Resolve returns a playable source for the media id
	Resolve(ctx context.Context, id string) (*Result, error)
}

// Result represents a resolved source
type Result struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Strategy    string `json:"strategy"`
}

// Attempt is the outcome of one strategy during a single resolution
type Attempt struct {
	Strategy string
	Result   *Result
	Err      error
}
