package models

import "time"

// Logo is an image reference for a station. The binary payload is not part
// of the catalog; see LogoPayload.
type Logo struct {
	Channel string   `json:"channel"`
	Feed    *string  `json:"feed,omitempty"`
	Tags    []string `json:"tags"`
	Width   *float64 `json:"width,omitempty"`
	Height  *float64 `json:"height,omitempty"`
	Format  *string  `json:"format,omitempty"`
	URL     string   `json:"url"`

	Station *Station `json:"-"`
}

// ChannelKey returns the id of the station the logo belongs to.
func (l *Logo) ChannelKey() string { return l.Channel }

// LogoPayload is the cached binary image for a logo URL.
type LogoPayload struct {
	URL         string    `json:"url"`
	Data        []byte    `json:"data"`
	ContentType string    `json:"content_type"`
	FetchedAt   time.Time `json:"fetched_at"`
}
