package linker

import (
	"strings"

	"github.com/voyagen/stationvault/internal/models"
)

// LanguageResolver picks the languages a station is associated with. The
// catalog does not state station languages directly, so every implementation
// is a guess.
type LanguageResolver interface {
	Resolve(s *models.Station, languages []*models.Language) []*models.Language
}

// LanguageResolverFunc adapts a function to LanguageResolver.
type LanguageResolverFunc func(s *models.Station, languages []*models.Language) []*models.Language

// Resolve calls f.
func (f LanguageResolverFunc) Resolve(s *models.Station, languages []*models.Language) []*models.Language {
	return f(s, languages)
}

// HeuristicLanguages is a best-effort resolver: a language matches when one of
// the station's alternate names equals its code, or one of the owners equals
// its name. The associations it produces are not authoritative.
type HeuristicLanguages struct {
	// FoldCase compares case-insensitively.
	FoldCase bool
}

// Resolve implements LanguageResolver.
func (h HeuristicLanguages) Resolve(s *models.Station, languages []*models.Language) []*models.Language {
	if len(s.AltNames) == 0 && len(s.Owners) == 0 {
		return nil
	}
	norm := func(v string) string {
		if h.FoldCase {
			return strings.ToLower(v)
		}
		return v
	}
	alt := make(map[string]struct{}, len(s.AltNames))
	for _, a := range s.AltNames {
		alt[norm(a)] = struct{}{}
	}
	owners := make(map[string]struct{}, len(s.Owners))
	for _, o := range s.Owners {
		owners[norm(o)] = struct{}{}
	}
	var out []*models.Language
	for _, l := range languages {
		_, byCode := alt[norm(l.Code)]
		_, byName := owners[norm(l.Name)]
		if byCode || byName {
			out = append(out, l)
		}
	}
	return out
}

// FeedLanguages resolves languages from the station's linked feeds, which do
// carry language codes. It is the authoritative alternative to
// HeuristicLanguages when feeds are fetched.
type FeedLanguages struct{}

// Resolve implements LanguageResolver.
func (FeedLanguages) Resolve(s *models.Station, languages []*models.Language) []*models.Language {
	want := make(map[string]struct{})
	for _, f := range s.Feeds {
		for _, code := range f.Languages {
			want[code] = struct{}{}
		}
	}
	if len(want) == 0 {
		return nil
	}
	var out []*models.Language
	for _, l := range languages {
		if _, ok := want[l.Code]; ok {
			out = append(out, l)
		}
	}
	return out
}
