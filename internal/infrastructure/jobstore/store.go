package jobstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fplsage/fpl-sage/internal/domain/analysis"
	"github.com/fplsage/fpl-sage/internal/platform/id"
	"github.com/fplsage/fpl-sage/internal/platform/logging"
)

const (
	// subscriberQueueSize bounds each progress subscriber. A slow
	// consumer loses its oldest events, never blocks the publisher.
	subscriberQueueSize = 32

	defaultRetention  = 24 * time.Hour
	reaperInterval    = time.Minute
	createMaxAttempts = 5
)

// Subscription is one consumer's view of a job's event stream. Events
// arrive on C; the zero-value channel close signals nothing, terminal
// events do.
type Subscription struct {
	C     chan analysis.Event
	jobID string
}

type entry struct {
	mu     sync.Mutex
	job    analysis.Job
	subs   map[*Subscription]struct{}
	cancel context.CancelFunc
}

// Store holds analysis jobs in memory for the lifetime of the process.
// Jobs are ephemeral coordination state, not records: a restart drops
// them all and clients simply resubmit.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*entry
	ids       id.Generator
	retention time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

func NewStore(ids id.Generator, retention time.Duration, logger *logging.Logger) *Store {
	if ids == nil {
		ids = id.NewRandomGenerator()
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Store{
		jobs:      make(map[string]*entry, 64),
		ids:       ids,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Create registers a new queued job and returns its snapshot.
func (s *Store) Create(teamID int64, gameweek int, overrides *analysis.Overrides) (analysis.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < createMaxAttempts; attempt++ {
		jobID, err := s.ids.NewID()
		if err != nil {
			return analysis.Job{}, fmt.Errorf("generate job id: %w", err)
		}
		if _, exists := s.jobs[jobID]; exists {
			continue
		}

		job := analysis.Job{
			ID:        jobID,
			TeamID:    teamID,
			Gameweek:  gameweek,
			Status:    analysis.StatusQueued,
			CreatedAt: s.now().UTC(),
			Overrides: overrides,
		}
		s.jobs[jobID] = &entry{
			job:  job,
			subs: make(map[*Subscription]struct{}, 2),
		}
		return job, nil
	}

	return analysis.Job{}, fmt.Errorf("job id space exhausted after %d attempts", createMaxAttempts)
}

// BindCancel attaches the run context's cancel func so Cancel and
// CancelActive (process shutdown) can interrupt the background task.
func (s *Store) BindCancel(jobID string, cancel context.CancelFunc) {
	e := s.entry(jobID)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
}

// Get returns a read-only snapshot of the job.
func (s *Store) Get(jobID string) (analysis.Job, bool) {
	e := s.entry(jobID)
	if e == nil {
		return analysis.Job{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, true
}

// Update applies fn to the job under its lock and returns the new
// snapshot. Terminal jobs are frozen: attempted writes are logged and
// discarded.
func (s *Store) Update(jobID string, fn func(*analysis.Job)) (analysis.Job, bool) {
	e := s.entry(jobID)
	if e == nil {
		return analysis.Job{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status.Terminal() {
		s.logger.Warn("ignoring update to terminal job", "job_id", jobID, "status", string(e.job.Status))
		return e.job, true
	}

	prev := e.job.Status
	fn(&e.job)

	if e.job.Status != prev && !legalTransition(prev, e.job.Status) {
		s.logger.Warn("illegal job status transition rejected",
			"job_id", jobID,
			"from", string(prev),
			"to", string(e.job.Status),
		)
		e.job.Status = prev
	}
	if e.job.Status.Terminal() && e.job.FinishedAt == nil {
		now := s.now().UTC()
		e.job.FinishedAt = &now
	}

	return e.job, true
}

// Cancel transitions a non-terminal job to cancelled, fires its run
// context and notifies subscribers. Returns the final snapshot and
// whether this call performed the cancellation.
func (s *Store) Cancel(jobID string) (analysis.Job, bool, bool) {
	e := s.entry(jobID)
	if e == nil {
		return analysis.Job{}, false, false
	}

	e.mu.Lock()
	if e.job.Status.Terminal() {
		job := e.job
		e.mu.Unlock()
		return job, true, false
	}

	now := s.now().UTC()
	e.job.Status = analysis.StatusCancelled
	e.job.FinishedAt = &now
	cancel := e.cancel
	job := e.job
	subs := snapshotSubs(e.subs)
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	deliver(subs, analysis.Event{Type: analysis.EventCancelled, Message: "analysis cancelled"})
	return job, true, true
}

// CancelActive cancels every non-terminal job and returns how many it
// cancelled. Called on shutdown so in-flight runs stop promptly instead
// of racing the process exit.
func (s *Store) CancelActive() int {
	s.mu.RLock()
	ids := make([]string, 0, len(s.jobs))
	for jobID, e := range s.jobs {
		e.mu.Lock()
		active := !e.job.Status.Terminal()
		e.mu.Unlock()
		if active {
			ids = append(ids, jobID)
		}
	}
	s.mu.RUnlock()

	cancelled := 0
	for _, jobID := range ids {
		if _, _, did := s.Cancel(jobID); did {
			cancelled++
		}
	}
	return cancelled
}

// Subscribe attaches a bounded event queue to the job. The caller must
// Unsubscribe when done.
func (s *Store) Subscribe(jobID string) (*Subscription, bool) {
	e := s.entry(jobID)
	if e == nil {
		return nil, false
	}

	sub := &Subscription{
		C:     make(chan analysis.Event, subscriberQueueSize),
		jobID: jobID,
	}
	e.mu.Lock()
	e.subs[sub] = struct{}{}
	e.mu.Unlock()
	return sub, true
}

func (s *Store) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	e := s.entry(sub.jobID)
	if e == nil {
		return
	}
	e.mu.Lock()
	delete(e.subs, sub)
	e.mu.Unlock()
}

// Publish fans an event out to every subscriber. Full queues drop
// their oldest event to make room; the publisher never blocks.
func (s *Store) Publish(jobID string, event analysis.Event) {
	e := s.entry(jobID)
	if e == nil {
		return
	}
	e.mu.Lock()
	subs := snapshotSubs(e.subs)
	e.mu.Unlock()
	deliver(subs, event)
}

// Run reaps terminal jobs past the retention window until ctx ends.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

func (s *Store) reap() {
	cutoff := s.now().UTC().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	for jobID, e := range s.jobs {
		e.mu.Lock()
		expired := e.job.Status.Terminal() && e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(s.jobs, jobID)
		}
	}
}

func (s *Store) entry(jobID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[jobID]
}

func snapshotSubs(subs map[*Subscription]struct{}) []*Subscription {
	out := make([]*Subscription, 0, len(subs))
	for sub := range subs {
		out = append(out, sub)
	}
	return out
}

func deliver(subs []*Subscription, event analysis.Event) {
	for _, sub := range subs {
		for {
			select {
			case sub.C <- event:
			default:
				// Queue full: evict the oldest event and retry.
				select {
				case <-sub.C:
				default:
				}
				continue
			}
			break
		}
	}
}

func legalTransition(from, to analysis.JobStatus) bool {
	switch from {
	case analysis.StatusQueued:
		return to == analysis.StatusRunning || to == analysis.StatusFailed || to == analysis.StatusCancelled
	case analysis.StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}
