package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, routes map[string]func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func body(s string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(s))
	}
}

func TestStations_DecodesOptionalFields(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter){
		"/channels.json": body(`[
			{"id":"bbc_one","name":"BBC One","alt_names":["BBC 1"],"network":"BBC","owners":["BBC"],
			 "country":"GB","categories":["general"],"is_nsfw":false,"website":"https://bbc.co.uk","unknown":42},
			{"id":"minimal","name":"Minimal","country":"FR"},
			null
		]`),
	})
	c := New(srv.URL)

	stations, err := c.Stations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 2)

	assert.Equal(t, "bbc_one", stations[0].ID)
	require.NotNil(t, stations[0].Network)
	assert.Equal(t, "BBC", *stations[0].Network)
	assert.Equal(t, []string{"general"}, stations[0].Categories)
	assert.False(t, stations[0].Favourite)

	assert.Equal(t, "minimal", stations[1].ID)
	assert.Nil(t, stations[1].Network)
	assert.Nil(t, stations[1].Website)
	assert.Empty(t, stations[1].AltNames)
}

func TestStreams_NullChannel(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter){
		"/streams.json": body(`[{"channel":null,"title":"x","url":"http://a"},{"channel":"bbc_one","title":"y","url":"http://b","quality":"720p"}]`),
	})
	streams, err := New(srv.URL).Streams(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Nil(t, streams[0].Channel)
	assert.Equal(t, "", streams[0].ChannelKey())
	assert.Equal(t, "bbc_one", streams[1].ChannelKey())
	require.NotNil(t, streams[1].Quality)
	assert.Equal(t, "720p", *streams[1].Quality)
}

func TestFetch_EmptyArray(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter){
		"/regions.json": body(`[]`),
	})
	regions, err := New(srv.URL).Regions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestFetch_StatusErrors(t *testing.T) {
	cases := []struct {
		code     int
		kind     StatusKind
		sentinel error
	}{
		{http.StatusUnauthorized, KindUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, KindForbidden, ErrForbidden},
		{http.StatusNotFound, KindNotFound, ErrNotFound},
		{http.StatusTooManyRequests, KindRateLimited, ErrRateLimited},
		{http.StatusTeapot, KindClientError, ErrClientError},
		{http.StatusBadGateway, KindServerError, ErrServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			srv := newTestServer(t, map[string]func(http.ResponseWriter){
				"/feeds.json": func(w http.ResponseWriter) { w.WriteHeader(tc.code) },
			})
			_, err := New(srv.URL).Feeds(context.Background())
			require.Error(t, err)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tc.code, se.Code)
			assert.Equal(t, tc.kind, se.Kind)
			assert.Equal(t, Feeds, se.Endpoint)
			assert.ErrorIs(t, err, tc.sentinel)
		})
	}
}

func TestFetch_DecodeFailure(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter){
		"/logos.json":     body(`{"not":"an array"}`),
		"/countries.json": body(`null`),
	})
	c := New(srv.URL)

	_, err := c.Logos(context.Background())
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, Logos, de.Endpoint)

	_, err = c.Countries(context.Background())
	require.True(t, errors.As(err, &de))
	assert.False(t, Retryable(err))
}

func TestFetch_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Timezones(context.Background())
	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.True(t, Retryable(err))
}

func TestFetch_BadEndpoint(t *testing.T) {
	c := New("https://example.invalid/api")
	_, err := Fetch[map[string]any](context.Background(), c, Endpoint("../etc"))
	assert.ErrorIs(t, err, ErrBadEndpoint)

	c = New("ftp://example.invalid")
	_, err = c.Stations(context.Background())
	assert.ErrorIs(t, err, ErrBadEndpoint)
}

func TestFetch_SendsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithUserAgent("test-agent/2")).Cities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-agent/2", got)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&StatusError{Code: 503, Kind: KindServerError}))
	assert.True(t, Retryable(&StatusError{Code: 429, Kind: KindRateLimited}))
	assert.False(t, Retryable(&StatusError{Code: 404, Kind: KindNotFound}))
	assert.False(t, Retryable(ErrBadEndpoint))
}

func TestParseEndpoint(t *testing.T) {
	e, ok := ParseEndpoint("guides")
	require.True(t, ok)
	assert.True(t, e.Optional())

	e, ok = ParseEndpoint("channels")
	require.True(t, ok)
	assert.False(t, e.Optional())

	_, ok = ParseEndpoint("nope")
	assert.False(t, ok)
}

func TestNew_TimeoutLeavesCallerClientAlone(t *testing.T) {
	shared := &http.Client{Timeout: time.Second}
	c := New("", WithHTTPClient(shared), WithTimeout(5*time.Second))
	assert.Same(t, shared, c.httpClient)
	assert.Equal(t, time.Second, shared.Timeout)

	own := New("", WithTimeout(5*time.Second))
	assert.Equal(t, 5*time.Second, own.httpClient.Timeout)
	assert.Equal(t, defaultTimeout, New("").httpClient.Timeout)
}

func TestNew_BaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New("").BaseURL())
	assert.Equal(t, "http://mirror.local/api", New("http://mirror.local/api/").BaseURL())
}
