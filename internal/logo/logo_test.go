package logo

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/stationvault/internal/models"
	"github.com/voyagen/stationvault/internal/store"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stationWithLogo(url string) *models.Station {
	st := &models.Station{ID: "tf1", Name: "TF1"}
	st.Logos = []*models.Logo{{Channel: "tf1", URL: url, Station: st}}
	return st
}

func imageServer(t *testing.T, body []byte, status int, delay time.Duration) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(delay)
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestStationImage_NoLogosUsesFallbackWithoutNetwork(t *testing.T) {
	noNetwork := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected request to %s", r.URL)
		return nil, http.ErrHandlerTimeout
	})}
	svc := NewService(store.NewMemory(), WithHTTPClient(noNetwork))

	img := svc.StationImage(context.Background(), &models.Station{ID: "bare"})
	assert.Equal(t, SourceFallback, img.Source)
	assert.Equal(t, "image/png", img.ContentType)
	assert.NotEmpty(t, img.Data)

	assert.Equal(t, SourceFallback, svc.StationImage(context.Background(), nil).Source)
}

func TestStationImage_FetchesAndCaches(t *testing.T) {
	data := pngBytes(t)
	srv, hits := imageServer(t, data, http.StatusOK, 0)
	mem := store.NewMemory()
	st := stationWithLogo(srv.URL + "/tf1.png")

	svc := NewService(mem)
	img := svc.StationImage(context.Background(), st)
	assert.Equal(t, SourceNetwork, img.Source)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, data, img.Data)

	// Second call is served from memory.
	assert.Equal(t, SourceNetwork, svc.StationImage(context.Background(), st).Source)
	assert.Equal(t, int32(1), hits.Load())

	// A fresh service finds the payload in the store.
	again := NewService(mem).StationImage(context.Background(), st)
	assert.Equal(t, SourceCache, again.Source)
	assert.Equal(t, data, again.Data)
	assert.Equal(t, int32(1), hits.Load())
}

func TestStationImage_ConcurrentRequestsShareOneFetch(t *testing.T) {
	srv, hits := imageServer(t, pngBytes(t), http.StatusOK, 50*time.Millisecond)
	svc := NewService(nil)
	st := stationWithLogo(srv.URL + "/logo.png")

	var wg sync.WaitGroup
	results := make([]Image, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.StationImage(context.Background(), st)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, img := range results {
		assert.Equal(t, SourceNetwork, img.Source)
	}
}

func TestStationImage_FailuresFallBack(t *testing.T) {
	cases := map[string]struct {
		body   []byte
		status int
	}{
		"not found":  {[]byte("nope"), http.StatusNotFound},
		"not image":  {[]byte("<html>hello</html>"), http.StatusOK},
		"empty body": {nil, http.StatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv, hits := imageServer(t, tc.body, tc.status, 0)
			svc := NewService(store.NewMemory())
			st := stationWithLogo(srv.URL + "/x.png")

			assert.Equal(t, SourceFallback, svc.StationImage(context.Background(), st).Source)
			// Negative cache: no second request.
			assert.Equal(t, SourceFallback, svc.StationImage(context.Background(), st).Source)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestStationImage_FailureRetriedAfterTTL(t *testing.T) {
	srv, hits := imageServer(t, nil, http.StatusInternalServerError, 0)
	svc := NewService(nil, WithFailureTTL(0))
	st := stationWithLogo(srv.URL + "/x.png")

	svc.StationImage(context.Background(), st)
	svc.StationImage(context.Background(), st)
	assert.Equal(t, int32(2), hits.Load())
}

func TestStationImage_TooLarge(t *testing.T) {
	srv, _ := imageServer(t, pngBytes(t), http.StatusOK, 0)
	svc := NewService(nil, WithMaxBytes(8))
	img := svc.StationImage(context.Background(), stationWithLogo(srv.URL+"/big.png"))
	assert.Equal(t, SourceFallback, img.Source)
}

func TestValidate(t *testing.T) {
	ct, err := Validate(pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	ct, err = Validate([]byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"></svg>`))
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", ct)

	_, err = Validate([]byte("plain text"))
	assert.ErrorIs(t, err, ErrNotImage)
	_, err = Validate(nil)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestFallbackIsValidPNG(t *testing.T) {
	img := Fallback()
	ct, err := Validate(img.Data)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, SourceFallback, img.Source)
}

func TestStationImage_MemoryIsBounded(t *testing.T) {
	srv, hits := imageServer(t, pngBytes(t), http.StatusOK, 0)
	svc := NewService(nil, WithMemoryEntries(2))

	for _, name := range []string{"a", "b", "c"} {
		svc.StationImage(context.Background(), stationWithLogo(srv.URL+"/"+name+".png"))
	}
	assert.Equal(t, 2, svc.mem.Len())
	assert.Equal(t, int32(3), hits.Load())

	// "a" was evicted and is fetched again; "c" is still held.
	svc.StationImage(context.Background(), stationWithLogo(srv.URL+"/a.png"))
	svc.StationImage(context.Background(), stationWithLogo(srv.URL+"/c.png"))
	assert.Equal(t, int32(4), hits.Load())
}

func TestStationImage_FailuresExpire(t *testing.T) {
	srv, hits := imageServer(t, nil, http.StatusNotFound, 0)
	svc := NewService(nil, WithFailureTTL(30*time.Millisecond))
	st := stationWithLogo(srv.URL + "/gone.png")

	svc.StationImage(context.Background(), st)
	assert.True(t, svc.failed.Contains(st.Logos[0].URL))

	assert.Eventually(t, func() bool {
		return !svc.failed.Contains(st.Logos[0].URL)
	}, time.Second, 10*time.Millisecond)

	svc.StationImage(context.Background(), st)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFallbackDataIsPrivateToCaller(t *testing.T) {
	first := Fallback()
	first.Data[0] ^= 0xff
	_, err := Validate(Fallback().Data)
	assert.NoError(t, err)
}
