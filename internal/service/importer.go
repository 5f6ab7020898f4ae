// Package service runs catalog imports: fetch every endpoint, link the
// collections into a station graph, and commit it to the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voyagen/stationvault/internal/cache"
	"github.com/voyagen/stationvault/internal/catalog"
	"github.com/voyagen/stationvault/internal/linker"
	"github.com/voyagen/stationvault/internal/models"
	"github.com/voyagen/stationvault/internal/store"
)

// ErrImportInProgress is returned when another import is running.
var ErrImportInProgress = errors.New("import already in progress")

// Fetcher reads catalog collections. *catalog.Client satisfies it.
type Fetcher interface {
	Stations(ctx context.Context) ([]*models.Station, error)
	Feeds(ctx context.Context) ([]*models.Feed, error)
	Logos(ctx context.Context) ([]*models.Logo, error)
	Streams(ctx context.Context) ([]*models.Stream, error)
	Guides(ctx context.Context) ([]*models.Guide, error)
	Countries(ctx context.Context) ([]*models.Country, error)
	Regions(ctx context.Context) ([]*models.Region, error)
	Timezones(ctx context.Context) ([]*models.Timezone, error)
	Categories(ctx context.Context) ([]*models.Category, error)
	Languages(ctx context.Context) ([]*models.Language, error)
	Subdivisions(ctx context.Context) ([]*models.Subdivision, error)
	Cities(ctx context.Context) ([]*models.City, error)
}

var _ Fetcher = (*catalog.Client)(nil)

const (
	defaultConcurrency = 4
	defaultMaxRetries  = 2
	defaultRetryDelay  = 500 * time.Millisecond
	defaultLockTTL     = 30 * time.Minute
)

// Status is a snapshot of the importer state.
type Status struct {
	State      models.ImportState       `json:"state"`
	Error      string                   `json:"error,omitempty"`
	StartedAt  *time.Time               `json:"started_at,omitempty"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
	Fetched    map[catalog.Endpoint]int `json:"fetched,omitempty"`
	Stats      *linker.Stats            `json:"stats,omitempty"`
}

// Report is the result of a successful run.
type Report struct {
	Run     models.ImportRun
	Fetched map[catalog.Endpoint]int
	Stats   linker.Stats
}

// Importer sequences fetch, link and persist. At most one run is active per
// process, and per deployment when a Redis lock is configured.
type Importer struct {
	fetcher Fetcher
	store   store.Store
	log     *zap.Logger

	endpoints         []catalog.Endpoint
	concurrency       int
	maxRetries        int
	retryDelay        time.Duration
	languageHeuristic bool
	observer          Observer

	redis   *cache.Redis
	lockKey string
	lockTTL time.Duration
	queue   string
	bg      context.Context

	active   atomic.Bool
	mu       sync.RWMutex
	status   Status
	observMu sync.Mutex
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithEndpoints sets the endpoints fetched on each run.
func WithEndpoints(eps []catalog.Endpoint) ImporterOption {
	return func(im *Importer) {
		if len(eps) > 0 {
			im.endpoints = eps
		}
	}
}

// WithConcurrency limits the number of endpoints fetched at once.
func WithConcurrency(n int) ImporterOption {
	return func(im *Importer) {
		if n > 0 {
			im.concurrency = n
		}
	}
}

// WithRetries sets how often a retryable endpoint failure is retried and the
// base delay of the exponential backoff.
func WithRetries(n int, baseDelay time.Duration) ImporterOption {
	return func(im *Importer) {
		if n >= 0 {
			im.maxRetries = n
		}
		if baseDelay > 0 {
			im.retryDelay = baseDelay
		}
	}
}

// WithLanguageHeuristic links languages by matching alternate names and
// owners instead of feed language codes.
func WithLanguageHeuristic(on bool) ImporterOption {
	return func(im *Importer) { im.languageHeuristic = on }
}

// WithObserver receives progress events.
func WithObserver(o Observer) ImporterOption {
	return func(im *Importer) { im.observer = o }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ImporterOption {
	return func(im *Importer) { im.log = log }
}

// WithRedis guards runs with a Redis lock and routes Trigger through the
// import job queue.
func WithRedis(r *cache.Redis, queue string) ImporterOption {
	return func(im *Importer) {
		im.redis = r
		if queue != "" {
			im.queue = queue
		}
	}
}

// WithBackground sets the context of runs started by Start.
func WithBackground(ctx context.Context) ImporterOption {
	return func(im *Importer) { im.bg = ctx }
}

// NewImporter creates an Importer.
func NewImporter(f Fetcher, s store.Store, opts ...ImporterOption) *Importer {
	im := &Importer{
		fetcher:     f,
		store:       s,
		log:         zap.NewNop(),
		endpoints:   catalog.DefaultEndpoints,
		concurrency: defaultConcurrency,
		maxRetries:  defaultMaxRetries,
		retryDelay:  defaultRetryDelay,
		lockKey:     cache.ImportLockKey,
		lockTTL:     defaultLockTTL,
		queue:       cache.DefaultQueue,
		bg:          context.Background(),
		status:      Status{State: models.ImportIdle},
	}
	for _, o := range opts {
		o(im)
	}
	return im
}

// Status returns a copy of the current state.
func (im *Importer) Status() Status {
	im.mu.RLock()
	defer im.mu.RUnlock()
	st := im.status
	if st.Fetched != nil {
		st.Fetched = make(map[catalog.Endpoint]int, len(im.status.Fetched))
		for k, v := range im.status.Fetched {
			st.Fetched[k] = v
		}
	}
	return st
}

// Running reports whether a run is in flight in this process.
func (im *Importer) Running() bool {
	return im.active.Load()
}

// Run performs one import and blocks until it finishes. It returns
// ErrImportInProgress without side effects if another run is active.
func (im *Importer) Run(ctx context.Context) (*Report, error) {
	release, err := im.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return im.run(ctx)
}

// Start claims the run slot and performs the import in the background.
func (im *Importer) Start(ctx context.Context) error {
	release, err := im.acquire(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer release()
		if _, err := im.run(im.bg); err != nil {
			im.log.Warn("background import failed", zap.Error(err))
		}
	}()
	return nil
}

// Trigger requests an import. With Redis configured the request is queued
// for a worker; otherwise the run starts in the background. queued reports
// which path was taken.
func (im *Importer) Trigger(ctx context.Context, requestedBy string) (queued bool, err error) {
	if im.redis == nil {
		return false, im.Start(ctx)
	}
	if im.Running() || cache.IsLocked(ctx, im.redis, im.lockKey) {
		return false, ErrImportInProgress
	}
	job := cache.ImportJob{RequestedAt: time.Now().UTC(), RequestedBy: requestedBy}
	if err := cache.Enqueue(ctx, im.redis, im.queue, job); err != nil {
		return false, fmt.Errorf("enqueue import: %w", err)
	}
	return true, nil
}

// Pending returns the number of queued import jobs. It is always zero
// without Redis.
func (im *Importer) Pending(ctx context.Context) (int64, error) {
	if im.redis == nil {
		return 0, nil
	}
	n, err := cache.Pending(ctx, im.redis, im.queue)
	if err != nil {
		return 0, fmt.Errorf("import queue length: %w", err)
	}
	return n, nil
}

func (im *Importer) acquire(ctx context.Context) (func(), error) {
	if !im.active.CompareAndSwap(false, true) {
		return nil, ErrImportInProgress
	}
	release := func() { im.active.Store(false) }
	if im.redis == nil {
		return release, nil
	}
	unlock, err := cache.TryLock(ctx, im.redis, im.lockKey, im.lockTTL)
	if err != nil {
		release()
		if errors.Is(err, cache.ErrLocked) {
			return nil, ErrImportInProgress
		}
		return nil, err
	}
	return func() {
		unlock()
		release()
	}, nil
}

func (im *Importer) run(ctx context.Context) (*Report, error) {
	started := time.Now().UTC()
	im.mu.Lock()
	im.status = Status{State: models.ImportFetching, StartedAt: &started}
	im.mu.Unlock()
	im.emit(Event{Kind: EventState, State: models.ImportFetching})
	im.log.Info("import started", zap.Int("endpoints", len(im.endpoints)))

	in, fetched, err := im.fetchAll(ctx)
	if err != nil {
		return nil, im.fail(started, fmt.Errorf("fetch: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return nil, im.fail(started, err)
	}

	im.transition(models.ImportLinking)
	g := linker.Link(in, im.linkOptions())
	im.mu.Lock()
	stats := g.Stats
	im.status.Stats = &stats
	im.mu.Unlock()
	im.log.Info("catalog linked",
		zap.Int("stations", g.Stats.Stations),
		zap.Int("pruned", g.Stats.Pruned),
		zap.Int("streams", g.Stats.StreamsLinked),
		zap.Int("streams_dropped", g.Stats.StreamsDropped+g.Stats.StreamsNoChannel),
	)

	if err := ctx.Err(); err != nil {
		return nil, im.fail(started, err)
	}

	im.transition(models.ImportPersisting)
	im.emit(Event{Kind: EventPersistStarted, Total: len(g.Stations)})
	if err := im.store.CommitGraph(ctx, g); err != nil {
		return nil, im.fail(started, fmt.Errorf("commit: %w", err))
	}
	im.emit(Event{Kind: EventPersistFinished, Total: len(g.Stations)})

	finished := time.Now().UTC()
	run := models.ImportRun{
		State:      models.ImportDone,
		StartedAt:  started,
		FinishedAt: &finished,
		Stations:   len(g.Stations),
		Streams:    g.Stats.StreamsLinked,
		Countries:  len(g.Countries),
	}
	im.record(ctx, &run)

	im.mu.Lock()
	im.status.State = models.ImportDone
	im.status.FinishedAt = &finished
	im.mu.Unlock()
	im.emit(Event{Kind: EventState, State: models.ImportDone})
	im.log.Info("import finished",
		zap.Int("stations", run.Stations),
		zap.Duration("took", finished.Sub(started)),
	)
	return &Report{Run: run, Fetched: fetched, Stats: g.Stats}, nil
}

// fetchAll materializes every endpoint. The first failure cancels the rest.
func (im *Importer) fetchAll(ctx context.Context) (linker.Input, map[catalog.Endpoint]int, error) {
	var (
		in      linker.Input
		countMu sync.Mutex
		fetched = make(map[catalog.Endpoint]int, len(im.endpoints))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)
	for _, e := range im.endpoints {
		g.Go(func() error {
			n, err := im.fetchWithRetry(gctx, e, &in)
			if err != nil {
				return err
			}
			countMu.Lock()
			fetched[e] = n
			countMu.Unlock()

			im.mu.Lock()
			if im.status.Fetched == nil {
				im.status.Fetched = make(map[catalog.Endpoint]int)
			}
			im.status.Fetched[e] = n
			im.mu.Unlock()
			im.emit(Event{Kind: EventFetched, Endpoint: e, Count: n})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return linker.Input{}, nil, err
	}
	return in, fetched, nil
}

func (im *Importer) fetchWithRetry(ctx context.Context, e catalog.Endpoint, in *linker.Input) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= im.maxRetries; attempt++ {
		if attempt > 0 {
			delay := im.retryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			im.log.Debug("retrying endpoint", zap.String("endpoint", string(e)), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := im.fetchInto(ctx, e, in)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if !catalog.Retryable(err) || ctx.Err() != nil {
			return 0, err
		}
		im.log.Warn("endpoint fetch failed", zap.String("endpoint", string(e)), zap.Int("attempt", attempt), zap.Error(err))
	}
	return 0, lastErr
}

// fetchInto stores the collection of e in its own field of in, so concurrent
// calls for different endpoints never share memory.
func (im *Importer) fetchInto(ctx context.Context, e catalog.Endpoint, in *linker.Input) (int, error) {
	f := im.fetcher
	switch e {
	case catalog.Channels:
		return assign(ctx, &in.Stations, f.Stations)
	case catalog.Feeds:
		return assign(ctx, &in.Feeds, f.Feeds)
	case catalog.Logos:
		return assign(ctx, &in.Logos, f.Logos)
	case catalog.Streams:
		return assign(ctx, &in.Streams, f.Streams)
	case catalog.Guides:
		return assign(ctx, &in.Guides, f.Guides)
	case catalog.Countries:
		return assign(ctx, &in.Countries, f.Countries)
	case catalog.Regions:
		return assign(ctx, &in.Regions, f.Regions)
	case catalog.Timezones:
		return assign(ctx, &in.Timezones, f.Timezones)
	case catalog.Categories:
		return assign(ctx, &in.Categories, f.Categories)
	case catalog.Languages:
		return assign(ctx, &in.Languages, f.Languages)
	case catalog.Subdivisions:
		return assign(ctx, &in.Subdivisions, f.Subdivisions)
	case catalog.Cities:
		return assign(ctx, &in.Cities, f.Cities)
	}
	return 0, fmt.Errorf("%w: %q", catalog.ErrBadEndpoint, e)
}

func assign[T any](ctx context.Context, dst *[]*T, fetch func(context.Context) ([]*T, error)) (int, error) {
	v, err := fetch(ctx)
	if err != nil {
		return 0, err
	}
	*dst = v
	return len(v), nil
}

func (im *Importer) linkOptions() linker.Options {
	opts := linker.Options{
		Progress: func(done, total int) {
			im.emit(Event{Kind: EventLinkProgress, Done: done, Total: total})
		},
	}
	for _, e := range im.endpoints {
		switch e {
		case catalog.Categories:
			opts.LinkCategories = true
		case catalog.Subdivisions:
			opts.LinkSubdivisions = true
		case catalog.Cities:
			opts.LinkCities = true
		case catalog.Languages:
			if im.languageHeuristic {
				opts.Languages = linker.HeuristicLanguages{FoldCase: true}
			} else {
				opts.Languages = linker.FeedLanguages{}
			}
		}
	}
	return opts
}

func (im *Importer) transition(s models.ImportState) {
	im.mu.Lock()
	im.status.State = s
	im.mu.Unlock()
	im.emit(Event{Kind: EventState, State: s})
}

// fail moves to Failed and records the run. The stored graph is untouched.
func (im *Importer) fail(started time.Time, err error) error {
	finished := time.Now().UTC()
	im.mu.Lock()
	im.status.State = models.ImportFailed
	im.status.Error = err.Error()
	im.status.FinishedAt = &finished
	im.mu.Unlock()
	im.emit(Event{Kind: EventState, State: models.ImportFailed, Err: err})
	im.log.Error("import failed", zap.Error(err))

	im.record(context.Background(), &models.ImportRun{
		State:      models.ImportFailed,
		Error:      err.Error(),
		StartedAt:  started,
		FinishedAt: &finished,
	})
	return err
}

func (im *Importer) record(ctx context.Context, run *models.ImportRun) {
	if err := im.store.RecordImport(context.WithoutCancel(ctx), run); err != nil {
		im.log.Warn("import run not recorded", zap.Error(err))
	}
}
