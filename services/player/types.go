package player

// PlayerResponse is the subset of the player endpoint response the service reads
type PlayerResponse struct {
	PlayabilityStatus PlayabilityStatus `json:"playabilityStatus"`
	StreamingData     *StreamingData    `json:"streamingData,omitempty"`
	VideoDetails      *VideoDetails     `json:"videoDetails,omitempty"`
}

type PlayabilityStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type StreamingData struct {
	ExpiresInSeconds string   `json:"expiresInSeconds,omitempty"`
	Formats          []Format `json:"formats,omitempty"`
	AdaptiveFormats  []Format `json:"adaptiveFormats,omitempty"`
}

// Format describes a single encoded variant of the media
type Format struct {
	Itag            int    `json:"itag"`
	URL             string `json:"url,omitempty"`
	SignatureCipher string `json:"signatureCipher,omitempty"`
	MimeType        string `json:"mimeType"`
	Bitrate         int    `json:"bitrate"`
	AverageBitrate  int    `json:"averageBitrate,omitempty"`
	ContentLength   string `json:"contentLength,omitempty"`
	AudioQuality    string `json:"audioQuality,omitempty"`
}

type VideoDetails struct {
	VideoID       string `json:"videoId"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	LengthSeconds string `json:"lengthSeconds"`
}

type playerRequest struct {
	VideoID string         `json:"videoId"`
	Context requestContext `json:"context"`
}

type requestContext struct {
	Client requestClient `json:"client"`
}

type requestClient struct {
	ClientName    string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`
	HL            string `json:"hl"`
}
