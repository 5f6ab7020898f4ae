package models

// Station is a television channel from the catalog's channels endpoint.
// It exclusively owns its feeds, logos, streams and guides; the reference
// entities (country, regions, ...) are shared with other stations.
type Station struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	AltNames   []string `json:"alt_names"`
	Network    *string  `json:"network,omitempty"`
	Owners     []string `json:"owners"`
	Country    string   `json:"country"`
	Categories []string `json:"categories"`
	IsNSFW     bool     `json:"is_nsfw"`
	Launched   *string  `json:"launched,omitempty"`
	Closed     *string  `json:"closed,omitempty"`
	ReplacedBy *string  `json:"replaced_by,omitempty"`
	Website    *string  `json:"website,omitempty"`

	// Favourite is owned locally and never read from the catalog.
	Favourite bool `json:"-"`

	Feeds   []*Feed   `json:"feeds,omitempty"`
	Logos   []*Logo   `json:"logos,omitempty"`
	Streams []*Stream `json:"streams,omitempty"`
	Guides  []*Guide  `json:"guides,omitempty"`

	CountryRef   *Country       `json:"country_ref,omitempty"`
	Regions      []*Region      `json:"regions,omitempty"`
	Timezones    []*Timezone    `json:"timezones,omitempty"`
	CategoryRefs []*Category    `json:"category_refs,omitempty"`
	LanguageRefs []*Language    `json:"language_refs,omitempty"`
	Subdivisions []*Subdivision `json:"subdivisions,omitempty"`
	Cities       []*City        `json:"cities,omitempty"`
}

// ResetLinks clears every owned collection and association so the station can
// be linked again from scratch.
func (s *Station) ResetLinks() {
	s.Feeds = nil
	s.Logos = nil
	s.Streams = nil
	s.Guides = nil
	s.CountryRef = nil
	s.Regions = nil
	s.Timezones = nil
	s.CategoryRefs = nil
	s.LanguageRefs = nil
	s.Subdivisions = nil
	s.Cities = nil
}

// Playable reports whether the station has at least one linked stream.
func (s *Station) Playable() bool {
	return len(s.Streams) > 0
}

// AttachOwned points the back-reference of every owned record at s. Used after
// a station has been decoded from a format that does not carry the pointers.
func (s *Station) AttachOwned() {
	for _, f := range s.Feeds {
		f.Station = s
	}
	for _, l := range s.Logos {
		l.Station = s
	}
	for _, sm := range s.Streams {
		sm.Station = s
	}
	for _, g := range s.Guides {
		g.Station = s
	}
}
