package models

// Feed is a broadcast variant of a station (main or alternative, per area).
type Feed struct {
	Channel       string   `json:"channel"`
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	AltNames      []string `json:"alt_names"`
	IsMain        bool     `json:"is_main"`
	BroadcastArea []string `json:"broadcast_area"`
	Timezones     []string `json:"timezones"`
	Languages     []string `json:"languages"`
	Format        string   `json:"format"`

	// Station is a non-owning back-reference set during linking.
	Station *Station `json:"-"`
}

// ChannelKey returns the id of the station the feed belongs to.
func (f *Feed) ChannelKey() string { return f.Channel }
