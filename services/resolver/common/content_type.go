package common

import (
	"mime"
	"strings"
)

var extContentTypes = map[string]string{
	"webm": "audio/webm",
	"weba": "audio/webm",
	"m4a":  "audio/mp4",
	"mp4":  "audio/mp4",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"opus": "audio/ogg",
	"aac":  "audio/aac",
	"flac": "audio/flac",
	"wav":  "audio/wav",
}

// ContentTypeFromMime strips parameters from a format mime type
func ContentTypeFromMime(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil || mt == "" {
		return DefaultContentType
	}
	return mt
}

// ContentTypeFromExt maps a container extension to a content type
func ContentTypeFromExt(ext string) string {
	if ct, ok := extContentTypes[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return ct
	}
	return DefaultContentType
}
