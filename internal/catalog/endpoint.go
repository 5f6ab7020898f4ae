package catalog

import "regexp"

// Endpoint names one JSON collection of the catalog API.
type Endpoint string

// Catalog endpoints.
const (
	Channels     Endpoint = "channels"
	Feeds        Endpoint = "feeds"
	Logos        Endpoint = "logos"
	Streams      Endpoint = "streams"
	Countries    Endpoint = "countries"
	Regions      Endpoint = "regions"
	Timezones    Endpoint = "timezones"
	Categories   Endpoint = "categories"
	Languages    Endpoint = "languages"
	Subdivisions Endpoint = "subdivisions"
	Cities       Endpoint = "cities"
	Guides       Endpoint = "guides"
)

// DefaultEndpoints are fetched on every import.
var DefaultEndpoints = []Endpoint{Channels, Feeds, Logos, Streams, Countries, Regions, Timezones}

// OptionalEndpoints are part of the schema but disabled unless enabled in config.
var OptionalEndpoints = []Endpoint{Categories, Languages, Subdivisions, Cities, Guides}

var reEndpoint = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Valid reports whether e can be used as a path segment.
func (e Endpoint) Valid() bool {
	return reEndpoint.MatchString(string(e))
}

// Optional reports whether e is disabled by default.
func (e Endpoint) Optional() bool {
	for _, o := range OptionalEndpoints {
		if o == e {
			return true
		}
	}
	return false
}

// ParseEndpoint returns the known endpoint named s.
func ParseEndpoint(s string) (Endpoint, bool) {
	for _, e := range DefaultEndpoints {
		if string(e) == s {
			return e, true
		}
	}
	for _, e := range OptionalEndpoints {
		if string(e) == s {
			return e, true
		}
	}
	return "", false
}
