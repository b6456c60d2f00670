package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdex/internal/events"
	"docdex/internal/model"
	"docdex/internal/pipeline"
	"docdex/internal/scraper"
	"docdex/internal/store/memory"
)

type fakePage struct {
	links  []string
	status model.FetchStatus
	err    error
}

// fakeStrategy claims every URL and serves canned pages. A non-nil gate
// blocks every ProcessItem call until the gate closes or the context is
// cancelled, which lets tests hold a job in RUNNING.
type fakeStrategy struct {
	mu    sync.Mutex
	pages map[string]fakePage
	gate  chan struct{}
	seen  []string
}

func (f *fakeStrategy) Name() string          { return "fake" }
func (f *fakeStrategy) CanHandle(string) bool { return true }
func (f *fakeStrategy) Cleanup() error        { return nil }

func (f *fakeStrategy) ProcessItem(ctx context.Context, item model.QueueItem, opts model.ScraperOptions) (*scraper.ItemResult, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, model.CancelledError(ctx.Err())
		}
	}

	f.mu.Lock()
	f.seen = append(f.seen, item.URL)
	page, ok := f.pages[item.URL]
	f.mu.Unlock()

	if !ok {
		return &scraper.ItemResult{URL: item.URL, Status: model.FetchNotFound}, nil
	}
	if page.err != nil {
		return nil, page.err
	}

	res := &scraper.ItemResult{
		URL:    item.URL,
		ETag:   "etag-" + item.URL,
		Links:  page.links,
		Status: model.FetchSuccess,
	}
	if page.status != "" {
		res.Status = page.status
	}
	if res.Status == model.FetchSuccess {
		res.Content = &pipeline.Result{
			Title:       "title " + item.URL,
			ContentType: "text/html",
			TextContent: "body of " + item.URL,
			Links:       page.links,
			Chunks: []model.Chunk{
				{Types: []model.ChunkType{model.ChunkText}, Content: "body of " + item.URL},
			},
		}
	}
	return res, nil
}

func (f *fakeStrategy) seenURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func newTestManager(t *testing.T, fake *fakeStrategy, concurrency int) (*Manager, *memory.Store, *events.Bus) {
	t.Helper()
	st := memory.New()
	bus := events.NewBus()
	sc := scraper.New(scraper.NewStrategyRegistry(fake))
	mgr := NewManager(st, bus, NewWorker(st, sc), concurrency)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(mgr.Stop)
	return mgr, st, bus
}

func baseOptions(url, library, version string) model.ScraperOptions {
	opts := model.DefaultScraperOptions()
	opts.URL = url
	opts.Library = library
	opts.Version = version
	opts.MaxDepth = 1
	return opts
}

func TestEnqueueValidation(t *testing.T) {
	mgr, _, _ := newTestManager(t, &fakeStrategy{}, 1)

	_, err := mgr.Enqueue(context.Background(), baseOptions("", "lib", ""))
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = mgr.Enqueue(context.Background(), baseOptions("https://e/", "", ""))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestJobRunsToCompletion(t *testing.T) {
	fake := &fakeStrategy{pages: map[string]fakePage{
		"https://docs.example.com/":      {links: []string{"https://docs.example.com/guide"}},
		"https://docs.example.com/guide": {},
	}}
	mgr, st, bus := newTestManager(t, fake, 1)

	var mu sync.Mutex
	var statuses []model.JobStatus
	libraryChanged := false
	bus.On(events.TypeJobStatusChange, func(payload any) {
		mu.Lock()
		statuses = append(statuses, payload.(*model.Job).Status)
		mu.Unlock()
	})
	bus.On(events.TypeLibraryChange, func(any) {
		mu.Lock()
		libraryChanged = true
		mu.Unlock()
	})

	job, err := mgr.Enqueue(context.Background(), baseOptions("https://docs.example.com/", "Example", "1.0"))
	require.NoError(t, err)
	assert.Equal(t, "example", job.Library, "identity is normalized")

	require.NoError(t, mgr.Wait(context.Background(), job.ID))

	got, err := mgr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.Progress)
	assert.Equal(t, 2, got.Progress.PagesScraped)

	v, err := st.FindVersion(context.Background(), "example", "1.0")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, v.Status)
	pages, err := st.GetPagesByVersionID(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Len(t, pages, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, statuses, model.StatusQueued)
	assert.Contains(t, statuses, model.StatusRunning)
	assert.Contains(t, statuses, model.StatusCompleted)
	assert.True(t, libraryChanged)
}

func TestEnqueueCancelsPriorJobForSameIdentity(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeStrategy{
		pages: map[string]fakePage{"https://e/": {}},
		gate:  gate,
	}
	mgr, _, _ := newTestManager(t, fake, 2)

	first, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "lib", "1.0"))
	require.NoError(t, err)

	// The first job is now blocked inside ProcessItem. Enqueueing the
	// same identity must cancel it and only then queue the new job.
	second, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "LIB", "1.0"))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	got, err := mgr.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	close(gate)
	require.NoError(t, mgr.Wait(context.Background(), second.ID))

	got, err = mgr.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
}

func TestEnqueueDifferentIdentitiesRunIndependently(t *testing.T) {
	fake := &fakeStrategy{pages: map[string]fakePage{"https://e/": {}}}
	mgr, _, _ := newTestManager(t, fake, 2)

	a, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "lib", "1.0"))
	require.NoError(t, err)
	b, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "lib", "2.0"))
	require.NoError(t, err)

	require.NoError(t, mgr.Wait(context.Background(), a.ID))
	require.NoError(t, mgr.Wait(context.Background(), b.ID))
}

func TestCancelQueuedJobFinishesImmediately(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeStrategy{
		pages: map[string]fakePage{"https://e/": {}},
		gate:  gate,
	}
	mgr, _, _ := newTestManager(t, fake, 1)

	running, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "a", ""))
	require.NoError(t, err)
	queued, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "b", ""))
	require.NoError(t, err)

	status, err := mgr.Cancel(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, status)

	err = mgr.Wait(context.Background(), queued.ID)
	assert.ErrorIs(t, err, model.ErrCancelled)

	close(gate)
	require.NoError(t, mgr.Wait(context.Background(), running.ID))

	// Cancelling a terminal job is a no-op reporting the final status.
	status, err = mgr.Cancel(running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, status)
}

func TestCancelRunningJob(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeStrategy{
		pages: map[string]fakePage{"https://e/": {}},
		gate:  gate,
	}
	mgr, st, _ := newTestManager(t, fake, 1)

	job, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "lib", ""))
	require.NoError(t, err)

	status, err := mgr.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelling, status)

	err = mgr.Wait(context.Background(), job.ID)
	assert.ErrorIs(t, err, model.ErrCancelled)

	got, err := mgr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	v, err := st.FindVersion(context.Background(), "lib", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, v.Status)
}

func TestFailedJobReportsError(t *testing.T) {
	fake := &fakeStrategy{pages: map[string]fakePage{
		"https://e/": {err: assert.AnError},
	}}
	mgr, st, _ := newTestManager(t, fake, 1)

	opts := baseOptions("https://e/", "lib", "")
	opts.IgnoreErrors = false
	job, err := mgr.Enqueue(context.Background(), opts)
	require.NoError(t, err)

	err = mgr.Wait(context.Background(), job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), assert.AnError.Error())

	got, err := mgr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)

	v, err := st.FindVersion(context.Background(), "lib", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, v.Status)
	assert.NotEmpty(t, v.ErrorMessage)
}

func TestRefreshUsesConditionalQueue(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	// Seed a completed version with two stored pages.
	require.NoError(t, st.AddScrapeResult(ctx, "lib", "", 0, &model.ScrapeResult{URL: "https://e/u1", ETag: "e1"}))
	require.NoError(t, st.AddScrapeResult(ctx, "lib", "", 1, &model.ScrapeResult{URL: "https://e/u2", ETag: "e2"}))
	v, err := st.FindVersion(ctx, "lib", "")
	require.NoError(t, err)
	seedOpts := model.DefaultScraperOptions()
	seedOpts.URL = "https://e/u1"
	seedOpts.Library = "lib"
	require.NoError(t, st.SaveVersionMeta(ctx, v.ID, seedOpts.URL, seedOpts))
	require.NoError(t, st.UpdateVersionStatus(ctx, v.ID, model.StatusCompleted, ""))

	pages, err := st.GetPagesByVersionID(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	// u1 is unchanged, u2 is gone upstream.
	fake := &fakeStrategy{pages: map[string]fakePage{
		"https://e/u1": {status: model.FetchNotModified},
	}}
	bus := events.NewBus()
	sc := scraper.New(scraper.NewStrategyRegistry(fake))
	mgr := NewManager(st, bus, NewWorker(st, sc), 1)
	require.NoError(t, mgr.Start(ctx))
	t.Cleanup(mgr.Stop)

	job, err := mgr.Refresh(ctx, "lib", "")
	require.NoError(t, err)
	assert.True(t, job.Options.IsRefresh)
	require.NoError(t, mgr.Wait(ctx, job.ID))

	after, err := st.GetPagesByVersionID(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, after, 1, "the vanished page is deleted, the unchanged one kept")
	assert.Equal(t, "https://e/u1", after[0].URL)

	assert.ElementsMatch(t, []string{"https://e/u1", "https://e/u2"}, fake.seenURLs())
}

func TestRefreshOfNonCompletedVersionDoesFullRescrape(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	id, err := st.EnsureLibraryAndVersion(ctx, "lib", "")
	require.NoError(t, err)
	opts := model.DefaultScraperOptions()
	opts.URL = "https://e/"
	opts.Library = "lib"
	require.NoError(t, st.SaveVersionMeta(ctx, id, opts.URL, opts))
	require.NoError(t, st.UpdateVersionStatus(ctx, id, model.StatusFailed, "boom"))

	fake := &fakeStrategy{pages: map[string]fakePage{"https://e/": {}}}
	bus := events.NewBus()
	sc := scraper.New(scraper.NewStrategyRegistry(fake))
	mgr := NewManager(st, bus, NewWorker(st, sc), 1)
	require.NoError(t, mgr.Start(ctx))
	t.Cleanup(mgr.Stop)

	job, err := mgr.Refresh(ctx, "lib", "")
	require.NoError(t, err)
	assert.False(t, job.Options.IsRefresh, "failed versions are fully re-scraped")
	require.NoError(t, mgr.Wait(ctx, job.ID))

	pages, err := st.GetPagesByVersionID(ctx, id)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestRefreshCompletedVersionWithoutPages(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	id, err := st.EnsureLibraryAndVersion(ctx, "lib", "")
	require.NoError(t, err)
	opts := model.DefaultScraperOptions()
	opts.URL = "https://e/"
	opts.Library = "lib"
	require.NoError(t, st.SaveVersionMeta(ctx, id, opts.URL, opts))
	require.NoError(t, st.UpdateVersionStatus(ctx, id, model.StatusCompleted, ""))

	bus := events.NewBus()
	sc := scraper.New(scraper.NewStrategyRegistry(&fakeStrategy{}))
	mgr := NewManager(st, bus, NewWorker(st, sc), 1)
	require.NoError(t, mgr.Start(ctx))
	t.Cleanup(mgr.Stop)

	_, err = mgr.Refresh(ctx, "lib", "")
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "no pages found")
}

func TestListFiltersByStatus(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeStrategy{
		pages: map[string]fakePage{"https://e/": {}},
		gate:  gate,
	}
	mgr, _, _ := newTestManager(t, fake, 1)

	running, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "a", ""))
	require.NoError(t, err)
	queued, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "b", ""))
	require.NoError(t, err)

	queuedOnly := mgr.List(model.StatusQueued)
	require.Len(t, queuedOnly, 1)
	assert.Equal(t, queued.ID, queuedOnly[0].ID)

	runningOnly := mgr.List(model.StatusRunning)
	require.Len(t, runningOnly, 1)
	assert.Equal(t, running.ID, runningOnly[0].ID)

	assert.Len(t, mgr.List(), 2)

	close(gate)
	require.NoError(t, mgr.Wait(context.Background(), running.ID))
	require.NoError(t, mgr.Wait(context.Background(), queued.ID))
}

func TestCallbacksMirrorBusEvents(t *testing.T) {
	fake := &fakeStrategy{pages: map[string]fakePage{"https://e/": {}}}
	mgr, _, _ := newTestManager(t, fake, 1)

	var mu sync.Mutex
	var statuses []model.JobStatus
	var progress []int
	mgr.SetCallbacks(Callbacks{
		OnJobStatusChange: func(job *model.Job) {
			mu.Lock()
			statuses = append(statuses, job.Status)
			mu.Unlock()
		},
		OnJobProgress: func(job *model.Job, p model.ProgressSnapshot) {
			mu.Lock()
			progress = append(progress, p.PagesScraped)
			mu.Unlock()
		},
	})

	job, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "lib", ""))
	require.NoError(t, err)
	require.NoError(t, mgr.Wait(context.Background(), job.ID))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, statuses, model.StatusQueued)
	assert.Contains(t, statuses, model.StatusCompleted)
	assert.Equal(t, []int{1}, progress)
}

func TestRefreshUnknownVersion(t *testing.T) {
	mgr, _, _ := newTestManager(t, &fakeStrategy{}, 1)
	_, err := mgr.Refresh(context.Background(), "nope", "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStartRecoversPersistedJobs(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	// A crash left one version RUNNING and one QUEUED.
	crashedOpts := model.DefaultScraperOptions()
	crashedOpts.URL = "https://e/a"
	crashedOpts.Library = "a"
	crashedID, err := st.EnsureLibraryAndVersion(ctx, "a", "")
	require.NoError(t, err)
	require.NoError(t, st.SaveVersionMeta(ctx, crashedID, crashedOpts.URL, crashedOpts))
	require.NoError(t, st.UpdateVersionStatus(ctx, crashedID, model.StatusRunning, ""))

	queuedOpts := model.DefaultScraperOptions()
	queuedOpts.URL = "https://e/b"
	queuedOpts.Library = "b"
	queuedID, err := st.EnsureLibraryAndVersion(ctx, "b", "")
	require.NoError(t, err)
	require.NoError(t, st.SaveVersionMeta(ctx, queuedID, queuedOpts.URL, queuedOpts))

	fake := &fakeStrategy{pages: map[string]fakePage{
		"https://e/a": {},
		"https://e/b": {},
	}}
	bus := events.NewBus()
	sc := scraper.New(scraper.NewStrategyRegistry(fake))
	mgr := NewManager(st, bus, NewWorker(st, sc), 2)
	require.NoError(t, mgr.Start(ctx))
	t.Cleanup(mgr.Stop)

	jobs := mgr.List()
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		require.NoError(t, mgr.Wait(ctx, job.ID))
	}

	for _, id := range []int64{crashedID, queuedID} {
		v, err := st.GetVersionByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, v.Status)
	}
}

func TestClearCompleted(t *testing.T) {
	fake := &fakeStrategy{pages: map[string]fakePage{"https://e/": {}}}
	mgr, _, bus := newTestManager(t, fake, 1)

	listChanges := 0
	var mu sync.Mutex
	bus.On(events.TypeJobListChange, func(any) {
		mu.Lock()
		listChanges++
		mu.Unlock()
	})

	job, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "lib", ""))
	require.NoError(t, err)
	require.NoError(t, mgr.Wait(context.Background(), job.ID))

	assert.Equal(t, 1, mgr.ClearCompleted())
	_, err = mgr.Get(job.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, listChanges, "one for enqueue, one for clear")
}

func TestProgressEventsCarrySnapshots(t *testing.T) {
	fake := &fakeStrategy{pages: map[string]fakePage{
		"https://e/":  {links: []string{"https://e/b"}},
		"https://e/b": {},
	}}
	mgr, _, bus := newTestManager(t, fake, 1)

	var mu sync.Mutex
	var snapshots []model.ProgressSnapshot
	bus.On(events.TypeJobProgress, func(payload any) {
		mu.Lock()
		snapshots = append(snapshots, payload.(events.JobProgress).Progress)
		mu.Unlock()
	})

	job, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "lib", ""))
	require.NoError(t, err)
	require.NoError(t, mgr.Wait(context.Background(), job.ID))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snapshots, 2)
	assert.Equal(t, 1, snapshots[0].PagesScraped)
	assert.Equal(t, 2, snapshots[1].PagesScraped)
}

func TestWaitHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeStrategy{
		pages: map[string]fakePage{"https://e/": {}},
		gate:  gate,
	}
	mgr, _, _ := newTestManager(t, fake, 1)

	job, err := mgr.Enqueue(context.Background(), baseOptions("https://e/", "lib", ""))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = mgr.Wait(ctx, job.ID)
	assert.ErrorIs(t, err, model.ErrCancelled)

	close(gate)
	require.NoError(t, mgr.Wait(context.Background(), job.ID))
}
