package models

// Category is a content category (news, sports, ...).
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Language is keyed by its ISO 639-3 code.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Country is keyed by its ISO 3166-1 alpha-2 code. TotalStations is computed
// during import and is not part of the catalog.
type Country struct {
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	Languages     []string `json:"languages"`
	Flag          string   `json:"flag"`
	TotalStations int      `json:"total_stations"`
}

// Region groups countries (e.g. "EUR", "MENA").
type Region struct {
	Code      string   `json:"code"`
	Name      string   `json:"name"`
	Countries []string `json:"countries"`
}

// Timezone is keyed by its IANA id.
type Timezone struct {
	ID        string   `json:"id"`
	UTCOffset string   `json:"utc_offset"`
	Countries []string `json:"countries"`
}

// Subdivision is an ISO 3166-2 subdivision.
type Subdivision struct {
	Country string  `json:"country"`
	Name    string  `json:"name"`
	Code    string  `json:"code"`
	Parent  *string `json:"parent,omitempty"`
}

// City is keyed by its UN/LOCODE-style code.
type City struct {
	Country     string  `json:"country"`
	Subdivision *string `json:"subdivision,omitempty"`
	Name        string  `json:"name"`
	Code        string  `json:"code"`
	WikidataID  string  `json:"wikidata_id"`
}
