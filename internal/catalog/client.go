package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voyagen/stationvault/internal/models"
)

const (
	// DefaultBaseURL is the public iptv-org API.
	DefaultBaseURL   = "https://iptv-org.github.io/api"
	defaultUserAgent = "StationVault/1.0"
	defaultTimeout   = 60 * time.Second
)

// Client fetches and decodes one catalog endpoint per call. It never retries.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	timeout    time.Duration
	log        *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client. A client
// passed with WithHTTPClient keeps its own timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a catalog client. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	own := &http.Client{Timeout: defaultTimeout}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  defaultUserAgent,
		httpClient: own,
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == own && c.timeout > 0 {
		own.Timeout = c.timeout
	}
	return c
}

// BaseURL returns the catalog root the client fetches from.
func (c *Client) BaseURL() string { return c.baseURL }

// endpointURL builds <base>/<endpoint>.json.
func (c *Client) endpointURL(e Endpoint) (string, error) {
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q", ErrBadEndpoint, e)
	}
	u, err := url.Parse(c.baseURL + "/" + string(e) + ".json")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrBadEndpoint, u.Scheme)
	}
	return u.String(), nil
}

// Fetch performs one GET of endpoint e and decodes the JSON array body into []T.
func Fetch[T any](ctx context.Context, c *Client, e Endpoint) ([]T, error) {
	u, err := c.endpointURL(e)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEndpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Endpoint: e, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Endpoint: e, Code: resp.StatusCode, Kind: KindForStatus(resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Endpoint: e, Err: err}
	}
	var records []T
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &DecodeError{Endpoint: e, Err: err}
	}
	if records == nil {
		// A literal null body is not an array.
		return nil, &DecodeError{Endpoint: e, Err: fmt.Errorf("expected JSON array, got %q", truncate(body, 32))}
	}

	c.log.Debug("catalog fetched",
		zap.String("endpoint", string(e)),
		zap.Int("records", len(records)),
		zap.Int("bytes", len(body)),
		zap.Duration("took", time.Since(start)),
	)
	return records, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

// fetchRecords fetches e and drops null array elements.
func fetchRecords[T any](ctx context.Context, c *Client, e Endpoint) ([]*T, error) {
	records, err := Fetch[*T](ctx, c, e)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, r := range records {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// Stations fetches the channels endpoint.
func (c *Client) Stations(ctx context.Context) ([]*models.Station, error) {
	stations, err := fetchRecords[models.Station](ctx, c, Channels)
	if err != nil {
		return nil, err
	}
	for _, s := range stations {
		s.Favourite = false
	}
	return stations, nil
}

// Feeds fetches the feeds endpoint.
func (c *Client) Feeds(ctx context.Context) ([]*models.Feed, error) {
	return fetchRecords[models.Feed](ctx, c, Feeds)
}

// Logos fetches the logos endpoint.
func (c *Client) Logos(ctx context.Context) ([]*models.Logo, error) {
	return fetchRecords[models.Logo](ctx, c, Logos)
}

// Streams fetches the streams endpoint.
func (c *Client) Streams(ctx context.Context) ([]*models.Stream, error) {
	return fetchRecords[models.Stream](ctx, c, Streams)
}

// Guides fetches the guides endpoint.
func (c *Client) Guides(ctx context.Context) ([]*models.Guide, error) {
	return fetchRecords[models.Guide](ctx, c, Guides)
}

// Countries fetches the countries endpoint.
func (c *Client) Countries(ctx context.Context) ([]*models.Country, error) {
	return fetchRecords[models.Country](ctx, c, Countries)
}

// Regions fetches the regions endpoint.
func (c *Client) Regions(ctx context.Context) ([]*models.Region, error) {
	return fetchRecords[models.Region](ctx, c, Regions)
}

// Timezones fetches the timezones endpoint.
func (c *Client) Timezones(ctx context.Context) ([]*models.Timezone, error) {
	return fetchRecords[models.Timezone](ctx, c, Timezones)
}

// Categories fetches the categories endpoint.
func (c *Client) Categories(ctx context.Context) ([]*models.Category, error) {
	return fetchRecords[models.Category](ctx, c, Categories)
}

// Languages fetches the languages endpoint.
func (c *Client) Languages(ctx context.Context) ([]*models.Language, error) {
	return fetchRecords[models.Language](ctx, c, Languages)
}

// Subdivisions fetches the subdivisions endpoint.
func (c *Client) Subdivisions(ctx context.Context) ([]*models.Subdivision, error) {
	return fetchRecords[models.Subdivision](ctx, c, Subdivisions)
}

// Cities fetches the cities endpoint.
func (c *Client) Cities(ctx context.Context) ([]*models.City, error) {
	return fetchRecords[models.City](ctx, c, Cities)
}
