package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"docdex/internal/events"
	"docdex/internal/logging"
	"docdex/internal/model"
	"docdex/internal/store"
)

// DefaultConcurrency bounds how many jobs run at once.
const DefaultConcurrency = 3

type identity struct {
	library string
	version string
}

// Callbacks mirror the bus for in-process embedders that prefer direct
// function calls over subscriptions. All fields are optional.
type Callbacks struct {
	OnJobStatusChange func(job *model.Job)
	OnJobProgress     func(job *model.Job, p model.ProgressSnapshot)
	OnJobError        func(jobID uuid.UUID, err error)
}

// Manager owns the job map and every status transition. Jobs are
// dispatched FIFO against a bounded worker pool; per (library, version)
// identity at most one non-terminal job exists at any time.
type Manager struct {
	store       store.Store
	bus         *events.Bus
	worker      *Worker
	concurrency int
	logger      log.Logger

	mu        sync.Mutex
	callbacks Callbacks
	jobs      map[uuid.UUID]*model.Job
	order     []uuid.UUID // enqueue order of still-queued jobs
	running   int
	cancels   map[uuid.UUID]context.CancelFunc
	done      map[uuid.UUID]chan struct{}

	baseCtx   context.Context
	baseStop  context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
}

func NewManager(st store.Store, bus *events.Bus, worker *Worker, concurrency int) *Manager {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Manager{
		store:       st,
		bus:         bus,
		worker:      worker,
		concurrency: concurrency,
		logger:      logging.Component("jobs.manager"),
		jobs:        map[uuid.UUID]*model.Job{},
		cancels:     map[uuid.UUID]context.CancelFunc{},
		done:        map[uuid.UUID]chan struct{}{},
	}
}

// Start recovers persisted state and begins dispatching. Versions left
// RUNNING by a crash are demoted to QUEUED and re-enqueued in their
// original creation order.
func (m *Manager) Start(ctx context.Context) error {
	var startErr error
	m.startOnce.Do(func() {
		m.baseCtx, m.baseStop = context.WithCancel(context.Background())

		crashed, err := m.store.GetVersionsByStatus(ctx, model.StatusRunning)
		if err != nil {
			startErr = err
			return
		}
		for _, v := range crashed {
			if err := m.store.UpdateVersionStatus(ctx, v.ID, model.StatusQueued, ""); err != nil {
				m.logger.Error().Err(err).Int64("version_id", v.ID).Msg("Crash recovery demotion failed")
			}
		}

		queued, err := m.store.GetVersionsByStatus(ctx, model.StatusQueued)
		if err != nil {
			startErr = err
			return
		}
		m.mu.Lock()
		for _, v := range queued {
			job := m.hydrate(v)
			m.jobs[job.ID] = job
			m.order = append(m.order, job.ID)
			m.done[job.ID] = make(chan struct{})
		}
		m.dispatchLocked()
		m.mu.Unlock()

		m.logger.Info().Int("recovered", len(queued)).Int("concurrency", m.concurrency).Msg("Job manager started")
	})
	return startErr
}

// hydrate rebuilds an in-memory job from a persisted version row.
func (m *Manager) hydrate(v store.Version) *model.Job {
	opts := model.DefaultScraperOptions()
	if v.Options != nil {
		opts = *v.Options
	}
	if opts.URL == "" {
		opts.URL = v.SourceURL
	}
	opts.Library = v.Library
	opts.Version = v.Name

	return &model.Job{
		ID:        uuid.New(),
		Library:   v.Library,
		Version:   v.Name,
		Status:    model.StatusQueued,
		CreatedAt: v.CreatedAt,
		SourceURL: v.SourceURL,
		Options:   opts,
		VersionID: v.ID,
	}
}

// Stop cancels all running jobs and waits for them to unwind.
func (m *Manager) Stop() {
	if m.baseStop != nil {
		m.baseStop()
	}
	m.wg.Wait()
}

// Enqueue validates, enforces identity exclusivity and queues a job.
// An existing non-terminal job for the same identity is cancelled and
// awaited before the new job is created.
func (m *Manager) Enqueue(ctx context.Context, opts model.ScraperOptions) (*model.Job, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", model.ErrValidation)
	}
	if strings.TrimSpace(opts.Library) == "" {
		return nil, fmt.Errorf("%w: library is required", model.ErrValidation)
	}
	opts = opts.Normalized()

	lib, ver := model.NormalizeIdentity(opts.Library, opts.Version)
	id := identity{lib, ver}

	versionID, err := m.store.EnsureLibraryAndVersion(ctx, lib, ver)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveVersionMeta(ctx, versionID, opts.URL, opts); err != nil {
		m.logger.Error().Err(err).Int64("version_id", versionID).Msg("Persisting job options failed")
	}

	// One non-terminal job per identity: cancel the prior job and wait
	// for it to unwind before queueing the replacement.
	for {
		m.mu.Lock()
		prior := m.findActiveLocked(id)
		if prior == nil {
			break // still holding the lock
		}
		doneCh := m.done[prior.ID]
		var priorSnapshot *model.Job
		if !prior.Status.IsTerminal() {
			m.cancelLocked(prior)
			priorSnapshot = prior.Clone()
		}
		m.mu.Unlock()

		if priorSnapshot != nil {
			m.notifyStatus(priorSnapshot)
		}
		select {
		case <-doneCh:
		case <-ctx.Done():
			return nil, model.CancelledError(ctx.Err())
		}
	}

	job := &model.Job{
		ID:        uuid.New(),
		Library:   lib,
		Version:   ver,
		Status:    model.StatusQueued,
		CreatedAt: time.Now(),
		SourceURL: opts.URL,
		Options:   opts,
		VersionID: versionID,
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.done[job.ID] = make(chan struct{})

	m.mirrorStatusLocked(job)
	snapshot := job.Clone()
	m.dispatchLocked()
	m.mu.Unlock()

	m.notifyStatus(snapshot)
	m.emit(events.TypeJobListChange, nil)
	return snapshot, nil
}

// Refresh enqueues a conditional re-ingest of an already stored
// version, seeding the crawl with persisted urls, etags and depths.
func (m *Manager) Refresh(ctx context.Context, library, version string) (*model.Job, error) {
	lib, ver := model.NormalizeIdentity(library, version)

	v, err := m.store.FindVersion(ctx, lib, ver)
	if err != nil {
		return nil, err
	}

	opts := model.DefaultScraperOptions()
	if v.Options != nil {
		opts = *v.Options
	}
	if opts.URL == "" {
		opts.URL = v.SourceURL
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: version %s@%s has no source url to refresh", model.ErrValidation, lib, ver)
	}
	opts.Library = lib
	opts.Version = ver

	// Only a completed version has a trustworthy page inventory. Anything
	// else gets a full re-scrape with the stored options.
	if v.Status != model.StatusCompleted {
		return m.Enqueue(ctx, opts)
	}

	pages, err := m.store.GetPagesByVersionID(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no pages found for %s@%s", model.ErrNotFound, lib, ver)
	}

	opts.IsRefresh = true
	// Unlimited budget: a refresh must be able to revisit every stored
	// page even when the original crawl hit its cap.
	opts.MaxPages = 0

	queue := make([]model.QueueItem, 0, len(pages))
	for _, p := range pages {
		queue = append(queue, model.QueueItem{URL: p.URL, Depth: p.Depth, PageID: p.ID, ETag: p.ETag})
	}
	opts.InitialQueue = queue

	return m.Enqueue(ctx, opts)
}

// Cancel requests cancellation. Terminal jobs are a no-op returning the
// current status; queued jobs finish immediately; running jobs move to
// CANCELLING until the worker observes the signal.
func (m *Manager) Cancel(jobID uuid.UUID) (model.JobStatus, error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: job %s", model.ErrNotFound, jobID)
	}
	if job.Status.IsTerminal() {
		status := job.Status
		m.mu.Unlock()
		return status, nil
	}

	m.cancelLocked(job)
	status := job.Status
	snapshot := job.Clone()
	m.mu.Unlock()

	m.notifyStatus(snapshot)
	return status, nil
}

// cancelLocked performs the cancellation transition. Queued jobs go
// terminal on the spot; running jobs only get the signal.
func (m *Manager) cancelLocked(job *model.Job) {
	switch job.Status {
	case model.StatusQueued:
		m.removeFromOrderLocked(job.ID)
		m.finishLocked(job, model.StatusCancelled, "cancelled before start")
	case model.StatusRunning:
		job.Status = model.StatusCancelling
		m.mirrorStatusLocked(job)
		if cancel, ok := m.cancels[job.ID]; ok {
			cancel()
		}
	}
}

// Get returns a snapshot of one job.
func (m *Manager) Get(jobID uuid.UUID) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", model.ErrNotFound, jobID)
	}
	return job.Clone(), nil
}

// List returns snapshots of known jobs in creation order, optionally
// filtered to the given statuses.
func (m *Manager) List(statuses ...model.JobStatus) []*model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if len(statuses) > 0 && !statusIn(job.Status, statuses) {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ClearCompleted drops terminal jobs from the in-memory map.
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	removed := 0
	for id, job := range m.jobs {
		if job.Status.IsTerminal() {
			delete(m.jobs, id)
			delete(m.done, id)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.emit(events.TypeJobListChange, nil)
	}
	return removed
}

// Wait blocks until the job reaches a terminal status. COMPLETED
// resolves nil; FAILED returns the job's error message; CANCELLED
// returns a cancellation error.
func (m *Manager) Wait(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: job %s", model.ErrNotFound, jobID)
	}
	doneCh := m.done[jobID]
	m.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		return model.CancelledError(ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok = m.jobs[jobID]
	if !ok {
		// Cleared between completion and this read; it was terminal.
		return nil
	}
	switch job.Status {
	case model.StatusCompleted:
		return nil
	case model.StatusFailed:
		return fmt.Errorf("job failed: %s", job.Error)
	default:
		return fmt.Errorf("%w: job was cancelled", model.ErrCancelled)
	}
}

func (m *Manager) findActiveLocked(id identity) *model.Job {
	for _, job := range m.jobs {
		if job.Status.IsTerminal() {
			continue
		}
		if job.Library == id.library && job.Version == id.version {
			return job
		}
	}
	return nil
}

// dispatchLocked fills free worker slots from the FIFO queue. Callers
// hold the mutex.
func (m *Manager) dispatchLocked() {
	if m.baseCtx == nil {
		return // not started yet; Start drains the queue
	}
	for m.running < m.concurrency && len(m.order) > 0 {
		jobID := m.order[0]
		m.order = m.order[1:]

		job, ok := m.jobs[jobID]
		if !ok || job.Status != model.StatusQueued {
			continue
		}

		now := time.Now()
		job.Status = model.StatusRunning
		job.StartedAt = &now
		m.mirrorStatusLocked(job)

		jobCtx, cancel := context.WithCancel(m.baseCtx)
		m.cancels[jobID] = cancel
		m.running++

		snapshot := job.Clone()
		m.wg.Add(1)
		go m.runJob(jobCtx, jobID, snapshot)
	}
}

func (m *Manager) runJob(ctx context.Context, jobID uuid.UUID, job *model.Job) {
	defer m.wg.Done()

	m.notifyStatus(job)
	m.logger.Info().Str("job", jobID.String()).Str("library", job.Library).Str("version", job.Version).Msg("Job started")

	err := m.worker.Execute(ctx, job, m.progressFor(jobID), func(pageErr error) {
		m.logger.Warn().Err(pageErr).Str("job", jobID.String()).Msg("Page error")
		m.notifyError(jobID, pageErr)
	})

	m.mu.Lock()
	current := m.jobs[jobID]
	completed := false
	switch {
	case err == nil && current.Status != model.StatusCancelling:
		m.finishLocked(current, model.StatusCompleted, "")
		completed = true
	case model.IsCancelled(err) || current.Status == model.StatusCancelling:
		m.finishLocked(current, model.StatusCancelled, "")
	default:
		m.finishLocked(current, model.StatusFailed, err.Error())
	}
	snapshot := current.Clone()

	if cancel, ok := m.cancels[jobID]; ok {
		cancel()
		delete(m.cancels, jobID)
	}
	m.running--
	m.dispatchLocked()
	m.mu.Unlock()

	m.notifyStatus(snapshot)
	if completed {
		m.emit(events.TypeLibraryChange, nil)
	}
	m.logger.Info().Str("job", jobID.String()).Str("status", string(snapshot.Status)).Msg("Job finished")
}

// finishLocked applies a terminal transition and wakes waiters.
func (m *Manager) finishLocked(job *model.Job, status model.JobStatus, errMsg string) {
	now := time.Now()
	job.Status = status
	job.FinishedAt = &now
	job.Error = errMsg
	m.mirrorStatusLocked(job)

	if ch, ok := m.done[job.ID]; ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

func (m *Manager) progressFor(jobID uuid.UUID) func(model.ProgressSnapshot) {
	return func(p model.ProgressSnapshot) {
		m.mu.Lock()
		job, ok := m.jobs[jobID]
		if !ok {
			m.mu.Unlock()
			return
		}
		progress := p
		job.Progress = &progress
		if err := m.store.UpdateVersionProgress(context.Background(), job.VersionID, p.PagesScraped, p.TotalPages); err != nil {
			m.logger.Warn().Err(err).Str("job", jobID.String()).Msg("Progress mirror failed")
		}
		snapshot := job.Clone()
		cb := m.callbacks.OnJobProgress
		m.mu.Unlock()

		m.emit(events.TypeJobProgress, events.JobProgress{Job: snapshot, Progress: p})
		if cb != nil {
			cb(snapshot, p)
		}
	}
}

// mirrorStatusLocked persists a status transition. Store errors are
// logged but never change in-memory state.
func (m *Manager) mirrorStatusLocked(job *model.Job) {
	if err := m.store.UpdateVersionStatus(context.Background(), job.VersionID, persistedStatus(job.Status), job.Error); err != nil {
		m.logger.Error().Err(err).Str("job", job.ID.String()).Str("status", string(job.Status)).Msg("Status mirror failed")
	}
}

// persistedStatus maps the in-memory lifecycle onto stored status
// strings: CANCELLING is transient and persists as RUNNING.
func persistedStatus(s model.JobStatus) model.JobStatus {
	if s == model.StatusCancelling {
		return model.StatusRunning
	}
	return s
}

func statusIn(s model.JobStatus, set []model.JobStatus) bool {
	for _, st := range set {
		if s == st {
			return true
		}
	}
	return false
}

func (m *Manager) removeFromOrderLocked(jobID uuid.UUID) {
	for i, id := range m.order {
		if id == jobID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Manager) emit(t events.Type, payload any) {
	if m.bus != nil {
		m.bus.Emit(t, payload)
	}
}

// SetCallbacks registers direct callbacks invoked alongside bus events.
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	m.callbacks = cb
	m.mu.Unlock()
}

func (m *Manager) notifyStatus(job *model.Job) {
	m.emit(events.TypeJobStatusChange, job)
	m.mu.Lock()
	cb := m.callbacks.OnJobStatusChange
	m.mu.Unlock()
	if cb != nil {
		cb(job)
	}
}

func (m *Manager) notifyError(jobID uuid.UUID, err error) {
	m.mu.Lock()
	cb := m.callbacks.OnJobError
	m.mu.Unlock()
	if cb != nil {
		cb(jobID, err)
	}
}
