package models

// Stream is a playback URL. Channel may be null in the catalog, in which case
// the stream cannot be attributed to any station.
type Stream struct {
	Channel   *string `json:"channel"`
	Feed      *string `json:"feed,omitempty"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Referrer  *string `json:"referrer,omitempty"`
	UserAgent *string `json:"user_agent,omitempty"`
	Quality   *string `json:"quality,omitempty"`

	Station *Station `json:"-"`
}

// ChannelKey returns the owning station id, or "" when the stream has none.
func (s *Stream) ChannelKey() string {
	if s.Channel == nil {
		return ""
	}
	return *s.Channel
}
