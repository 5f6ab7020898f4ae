package models

// Guide points at an EPG source for a station.
type Guide struct {
	Channel  *string `json:"channel"`
	Feed     *string `json:"feed,omitempty"`
	Site     *string `json:"site,omitempty"`
	SiteID   *string `json:"site_id,omitempty"`
	SiteName *string `json:"site_name,omitempty"`
	Lang     *string `json:"lang,omitempty"`

	Station *Station `json:"-"`
}

// ChannelKey returns the owning station id, or "".
func (g *Guide) ChannelKey() string {
	if g.Channel == nil {
		return ""
	}
	return *g.Channel
}
