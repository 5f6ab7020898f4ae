package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/stationvault/internal/catalog"
	"github.com/voyagen/stationvault/internal/models"
	"github.com/voyagen/stationvault/internal/store"
)

func strp(s string) *string { return &s }

// fakeFetcher serves a small catalog. Errors queued per endpoint are
// returned, one per call, before the data.
type fakeFetcher struct {
	mu    sync.Mutex
	errs  map[catalog.Endpoint][]error
	calls map[catalog.Endpoint]int
	gate  chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{errs: map[catalog.Endpoint][]error{}, calls: map[catalog.Endpoint]int{}}
}

func (f *fakeFetcher) fail(e catalog.Endpoint, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[e] = append(f.errs[e], errs...)
}

func (f *fakeFetcher) callCount(e catalog.Endpoint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[e]
}

func (f *fakeFetcher) hit(ctx context.Context, e catalog.Endpoint) error {
	f.mu.Lock()
	f.calls[e]++
	gate := f.gate
	var err error
	if q := f.errs[e]; len(q) > 0 {
		err, f.errs[e] = q[0], q[1:]
	}
	f.mu.Unlock()
	if gate != nil && e == catalog.Channels {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeFetcher) Stations(ctx context.Context) ([]*models.Station, error) {
	if err := f.hit(ctx, catalog.Channels); err != nil {
		return nil, err
	}
	return []*models.Station{
		{ID: "bbc_one", Name: "BBC One", Country: "GB", Categories: []string{"general"}},
		{ID: "itv", Name: "ITV", Country: "GB"},
		{ID: "tf1", Name: "TF1", Country: "FR"},
		{ID: "silent", Name: "Silent", Country: "FR"},
	}, nil
}

func (f *fakeFetcher) Feeds(ctx context.Context) ([]*models.Feed, error) {
	if err := f.hit(ctx, catalog.Feeds); err != nil {
		return nil, err
	}
	return []*models.Feed{{Channel: "tf1", ID: "HD", Languages: []string{"fra"}}}, nil
}

func (f *fakeFetcher) Logos(ctx context.Context) ([]*models.Logo, error) {
	if err := f.hit(ctx, catalog.Logos); err != nil {
		return nil, err
	}
	return []*models.Logo{{Channel: "bbc_one", URL: "http://logo/bbc.png"}}, nil
}

func (f *fakeFetcher) Streams(ctx context.Context) ([]*models.Stream, error) {
	if err := f.hit(ctx, catalog.Streams); err != nil {
		return nil, err
	}
	return []*models.Stream{
		{Channel: strp("bbc_one"), URL: "http://s/1"},
		{Channel: strp("bbc_one"), URL: "http://s/2"},
		{Channel: strp("itv"), URL: "http://s/3"},
		{Channel: strp("tf1"), URL: "http://s/4"},
		{Channel: nil, URL: "http://s/orphan"},
	}, nil
}

func (f *fakeFetcher) Guides(ctx context.Context) ([]*models.Guide, error) {
	return nil, f.hit(ctx, catalog.Guides)
}

func (f *fakeFetcher) Countries(ctx context.Context) ([]*models.Country, error) {
	if err := f.hit(ctx, catalog.Countries); err != nil {
		return nil, err
	}
	return []*models.Country{{Code: "GB", Name: "United Kingdom"}, {Code: "FR", Name: "France"}}, nil
}

func (f *fakeFetcher) Regions(ctx context.Context) ([]*models.Region, error) {
	if err := f.hit(ctx, catalog.Regions); err != nil {
		return nil, err
	}
	return []*models.Region{{Code: "EUR", Countries: []string{"GB", "FR"}}}, nil
}

func (f *fakeFetcher) Timezones(ctx context.Context) ([]*models.Timezone, error) {
	if err := f.hit(ctx, catalog.Timezones); err != nil {
		return nil, err
	}
	return []*models.Timezone{{ID: "Europe/Paris", Countries: []string{"FR"}}}, nil
}

func (f *fakeFetcher) Categories(ctx context.Context) ([]*models.Category, error) {
	if err := f.hit(ctx, catalog.Categories); err != nil {
		return nil, err
	}
	return []*models.Category{{ID: "general", Name: "General"}}, nil
}

func (f *fakeFetcher) Languages(ctx context.Context) ([]*models.Language, error) {
	if err := f.hit(ctx, catalog.Languages); err != nil {
		return nil, err
	}
	return []*models.Language{{Code: "fra", Name: "French"}}, nil
}

func (f *fakeFetcher) Subdivisions(ctx context.Context) ([]*models.Subdivision, error) {
	return nil, f.hit(ctx, catalog.Subdivisions)
}

func (f *fakeFetcher) Cities(ctx context.Context) ([]*models.City, error) {
	return nil, f.hit(ctx, catalog.Cities)
}

func serverError(e catalog.Endpoint) error {
	return &catalog.StatusError{Endpoint: e, Code: 503, Kind: catalog.KindServerError}
}

func TestImporter_RunCommitsGraph(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	var (
		mu     sync.Mutex
		events []Event
	)
	im := NewImporter(newFakeFetcher(), mem, WithObserver(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	rep, err := im.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Run.Stations)
	assert.Equal(t, 4, rep.Run.Streams)
	assert.Equal(t, 1, rep.Stats.Pruned)
	assert.Equal(t, 4, rep.Fetched[catalog.Channels])

	st := im.Status()
	assert.Equal(t, models.ImportDone, st.State)
	assert.Empty(t, st.Error)
	require.NotNil(t, st.FinishedAt)

	n, err := mem.CountStations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	last, err := mem.LastImport(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ImportDone, last.State)

	kinds := map[EventKind]int{}
	var states []models.ImportState
	for _, ev := range events {
		kinds[ev.Kind]++
		if ev.Kind == EventState {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, len(catalog.DefaultEndpoints), kinds[EventFetched])
	assert.Equal(t, 1, kinds[EventPersistStarted])
	assert.Equal(t, 1, kinds[EventPersistFinished])
	assert.NotZero(t, kinds[EventLinkProgress])
	assert.Equal(t, []models.ImportState{
		models.ImportFetching, models.ImportLinking, models.ImportPersisting, models.ImportDone,
	}, states)
}

func TestImporter_FailureLeavesGraphUntouched(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFakeFetcher()
	im := NewImporter(f, mem, WithRetries(0, time.Millisecond))

	_, err := im.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, mem.SetFavourite(ctx, "tf1", true))

	f.fail(catalog.Streams, &catalog.StatusError{Endpoint: catalog.Streams, Code: 404, Kind: catalog.KindNotFound})
	_, err = im.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	st := im.Status()
	assert.Equal(t, models.ImportFailed, st.State)
	assert.NotEmpty(t, st.Error)

	n, err := mem.CountStations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	tf1, err := mem.GetStation(ctx, "tf1")
	require.NoError(t, err)
	assert.True(t, tf1.Favourite)

	last, err := mem.LastImport(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ImportFailed, last.State)
	assert.NotEmpty(t, last.Error)
}

func TestImporter_RetriesRetryableErrors(t *testing.T) {
	f := newFakeFetcher()
	f.fail(catalog.Streams, serverError(catalog.Streams), &catalog.NetworkError{Endpoint: catalog.Streams, Err: errors.New("reset")})
	im := NewImporter(f, store.NewMemory(), WithRetries(2, time.Millisecond))

	_, err := im.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, f.callCount(catalog.Streams))
}

func TestImporter_RetriesExhausted(t *testing.T) {
	f := newFakeFetcher()
	f.fail(catalog.Countries, serverError(catalog.Countries), serverError(catalog.Countries), serverError(catalog.Countries))
	im := NewImporter(f, store.NewMemory(), WithRetries(1, time.Millisecond))

	_, err := im.Run(context.Background())
	assert.ErrorIs(t, err, catalog.ErrServerError)
	assert.Equal(t, 2, f.callCount(catalog.Countries))
	assert.Equal(t, models.ImportFailed, im.Status().State)
}

func TestImporter_DecodeErrorsAreNotRetried(t *testing.T) {
	f := newFakeFetcher()
	f.fail(catalog.Feeds, &catalog.DecodeError{Endpoint: catalog.Feeds, Err: errors.New("bad json")})
	im := NewImporter(f, store.NewMemory(), WithRetries(3, time.Millisecond))

	_, err := im.Run(context.Background())
	var decErr *catalog.DecodeError
	assert.ErrorAs(t, err, &decErr)
	assert.Equal(t, 1, f.callCount(catalog.Feeds))
}

func TestImporter_RejectsConcurrentRuns(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{})
	im := NewImporter(f, store.NewMemory())

	require.NoError(t, im.Start(context.Background()))
	assert.True(t, im.Running())

	_, err := im.Run(context.Background())
	assert.ErrorIs(t, err, ErrImportInProgress)
	_, err = im.Trigger(context.Background(), "test")
	assert.ErrorIs(t, err, ErrImportInProgress)

	close(f.gate)
	require.Eventually(t, func() bool { return im.Status().State == models.ImportDone }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !im.Running() }, 2*time.Second, 5*time.Millisecond)

	_, err = im.Run(context.Background())
	assert.NoError(t, err)
}

func TestImporter_CancelledRunPersistsNothing(t *testing.T) {
	mem := store.NewMemory()
	im := NewImporter(newFakeFetcher(), mem)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := im.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.ImportFailed, im.Status().State)

	n, err := mem.CountStations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImporter_ReimportKeepsFavourites(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	im := NewImporter(newFakeFetcher(), mem)

	_, err := im.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, mem.SetFavourite(ctx, "itv", true))

	for i := 0; i < 2; i++ {
		_, err = im.Run(ctx)
		require.NoError(t, err)
		itv, err := mem.GetStation(ctx, "itv")
		require.NoError(t, err)
		assert.True(t, itv.Favourite)
		bbc, err := mem.GetStation(ctx, "bbc_one")
		require.NoError(t, err)
		assert.False(t, bbc.Favourite)
	}
}

func TestImporter_OptionalEndpointsLinkExtensions(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFakeFetcher()
	eps := append(append([]catalog.Endpoint(nil), catalog.DefaultEndpoints...), catalog.Categories, catalog.Languages)
	im := NewImporter(f, mem, WithEndpoints(eps))

	rep, err := im.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Fetched[catalog.Categories])
	assert.Zero(t, f.callCount(catalog.Cities))

	bbc, err := mem.GetStation(ctx, "bbc_one")
	require.NoError(t, err)
	require.Len(t, bbc.CategoryRefs, 1)
	assert.Equal(t, "general", bbc.CategoryRefs[0].ID)

	tf1, err := mem.GetStation(ctx, "tf1")
	require.NoError(t, err)
	require.Len(t, tf1.LanguageRefs, 1)
	assert.Equal(t, "fra", tf1.LanguageRefs[0].Code)
}

func TestImporter_TriggerWithoutRedisStartsInBackground(t *testing.T) {
	mem := store.NewMemory()
	im := NewImporter(newFakeFetcher(), mem)

	queued, err := im.Trigger(context.Background(), "test")
	require.NoError(t, err)
	assert.False(t, queued)
	require.Eventually(t, func() bool { return im.Status().State == models.ImportDone }, 2*time.Second, 5*time.Millisecond)

	n, err := mem.CountStations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestImporter_PendingWithoutQueue(t *testing.T) {
	im := NewImporter(newFakeFetcher(), store.NewMemory())
	n, err := im.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, im.Status().State.Terminal())
}
