// Package logo resolves the image shown for a station.
package logo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"github.com/voyagen/stationvault/internal/models"
)

// Source tells where an Image came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
)

// Image is a displayable station logo.
type Image struct {
	URL         string
	Data        []byte
	ContentType string
	Source      Source
}

// Provider returns the image for a station. It never fails; problems yield
// the fallback image.
type Provider interface {
	StationImage(ctx context.Context, st *models.Station) Image
}

// PayloadCache persists fetched images by URL. store.Store satisfies it.
type PayloadCache interface {
	GetLogoPayload(ctx context.Context, url string) (*models.LogoPayload, error)
	PutLogoPayload(ctx context.Context, p *models.LogoPayload) error
}

const (
	defaultMaxBytes   = 2 << 20
	defaultFailureTTL = 10 * time.Minute
	defaultTimeout    = 15 * time.Second
	defaultMemEntries = 256
	maxFailedEntries  = 4096
)

// Service implements Provider. Lookups go memory, then PayloadCache, then
// HTTP; concurrent lookups of one URL share a single fetch.
type Service struct {
	cache      PayloadCache
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	failureTTL time.Duration
	memEntries int
	log        *zap.Logger

	group singleflight.Group
	// mem holds recently served images; the full set lives in cache.
	mem *lru.Cache[string, Image]
	// failed is nil when failures are not remembered.
	failed *expirable.LRU[string, struct{}]
}

// Option configures a Service.
type Option func(*Service)

func WithHTTPClient(hc *http.Client) Option { return func(s *Service) { s.httpClient = hc } }
func WithUserAgent(ua string) Option       { return func(s *Service) { s.userAgent = ua } }
func WithLogger(log *zap.Logger) Option    { return func(s *Service) { s.log = log } }

// WithMaxBytes caps the size of a downloaded image.
func WithMaxBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithFailureTTL sets how long a failed URL is answered with the fallback
// before it is tried again. Zero retries on every request.
func WithFailureTTL(d time.Duration) Option {
	return func(s *Service) { s.failureTTL = d }
}

// WithMemoryEntries bounds the number of images kept in process memory.
func WithMemoryEntries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.memEntries = n
		}
	}
}

// NewService creates a logo service. cache may be nil.
func NewService(cache PayloadCache, opts ...Option) *Service {
	s := &Service{
		cache:      cache,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  "StationVault/1.0",
		maxBytes:   defaultMaxBytes,
		failureTTL: defaultFailureTTL,
		memEntries: defaultMemEntries,
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.mem, _ = lru.New[string, Image](s.memEntries) // size is always positive
	if s.failureTTL > 0 {
		s.failed = expirable.NewLRU[string, struct{}](maxFailedEntries, nil, s.failureTTL)
	}
	return s
}

// StationImage returns the first logo of st, or the fallback when st has no
// logos or the image cannot be obtained.
func (s *Service) StationImage(ctx context.Context, st *models.Station) Image {
	if st == nil || len(st.Logos) == 0 || st.Logos[0].URL == "" {
		return Fallback()
	}
	url := st.Logos[0].URL

	if img, ok := s.mem.Get(url); ok {
		return img
	}
	if s.failed != nil {
		if _, failed := s.failed.Get(url); failed {
			return Fallback()
		}
	}

	// Shared fetches must not die with the first caller's request.
	detached := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(url, func() (any, error) {
		return s.load(detached, url)
	})
	if err != nil {
		s.log.Warn("logo unavailable, using fallback",
			zap.String("station", st.ID), zap.String("url", url), zap.Error(err))
		if s.failed != nil {
			s.failed.Add(url, struct{}{})
		}
		return Fallback()
	}
	return v.(Image)
}

func (s *Service) load(ctx context.Context, url string) (Image, error) {
	if s.cache != nil {
		p, err := s.cache.GetLogoPayload(ctx, url)
		if err == nil {
			if ct, verr := Validate(p.Data); verr == nil {
				img := Image{URL: url, Data: p.Data, ContentType: ct, Source: SourceCache}
				s.remember(img)
				return img, nil
			}
			s.log.Warn("cached logo is not an image, refetching", zap.String("url", url))
		}
	}

	data, err := s.download(ctx, url)
	if err != nil {
		return Image{}, err
	}
	ct, err := Validate(data)
	if err != nil {
		return Image{}, err
	}
	if s.cache != nil {
		p := &models.LogoPayload{URL: url, Data: data, ContentType: ct, FetchedAt: time.Now().UTC()}
		if err := s.cache.PutLogoPayload(ctx, p); err != nil {
			s.log.Warn("logo payload not cached", zap.String("url", url), zap.Error(err))
		}
	}
	img := Image{URL: url, Data: data, ContentType: ct, Source: SourceNetwork}
	s.remember(img)
	return img, nil
}

func (s *Service) remember(img Image) {
	s.mem.Add(img.URL, img)
	if s.failed != nil {
		s.failed.Remove(img.URL)
	}
}

func (s *Service) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("logo request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("logo fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("logo fetch: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("logo read: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("logo exceeds %d bytes", s.maxBytes)
	}
	return data, nil
}

// ErrNotImage is returned by Validate for unrecognised payloads.
var ErrNotImage = errors.New("payload is not a supported image")

// Validate checks that data decodes as PNG, JPEG, GIF, WebP or looks like an
// SVG document, and returns its content type.
func Validate(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNotImage
	}
	if isSVG(data) {
		return "image/svg+xml", nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", ErrNotImage
	}
	return "image/" + format, nil
}

func isSVG(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	head = bytes.ToLower(bytes.TrimSpace(head))
	if !bytes.HasPrefix(head, []byte("<")) {
		return false
	}
	return bytes.Contains(head, []byte("<svg"))
}
