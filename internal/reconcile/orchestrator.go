// Package reconcile merges fresh backend snapshots into the local data
// mirrors. Every trigger — mount, manual refresh button, push event, job
// terminal transition — funnels into one Refresh operation that is safe
// under concurrent invocation: the backend is authoritative and the
// mirrors are full-replace, last-write-wins.
package reconcile

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"trackscan/internal/api"
	"trackscan/internal/push"
	"trackscan/internal/scan"
)

// Mode selects the user-visible behavior of one refresh.
type Mode int

const (
	// ModeInitial is the first load on mount: blocking loading state.
	ModeInitial Mode = iota
	// ModeBackground updates silently; it never shows a loading state
	// and never surfaces its own failures.
	ModeBackground
	// ModeManual is a user-clicked refresh: blocking, errors surfaced.
	ModeManual
)

func (m Mode) foreground() bool { return m != ModeBackground }

// API is the slice of the backend client the orchestrator needs.
type API interface {
	ListLogs(ctx context.Context) ([]scan.LogEntry, error)
	ListJobs(ctx context.Context) ([]scan.Job, error)
}

// Hooks deliver orchestrator events. Any field may be nil.
type Hooks struct {
	OnLoading func(loading bool)                         // foreground modes only
	OnError   func(msg string)                           // retryable banner, foreground only; "" clears
	OnData    func(logs []scan.LogEntry, jobs []scan.Job) // after every applied refresh
	Logout    func()                                     // auth failure; pass a session guard
}

// Orchestrator owns the log and job mirrors.
type Orchestrator struct {
	api   API
	hooks Hooks
	log   zerolog.Logger

	ticket atomic.Uint64 // issued per refresh; stale results lose

	mu      sync.Mutex
	applied uint64
	logs    []scan.LogEntry
	jobs    []scan.Job
	sub     push.Subscription
	subDone chan struct{}
}

// New creates an Orchestrator.
func New(apiClient API, hooks Hooks, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		api:   apiClient,
		hooks: hooks,
		log:   log.With().Str("component", "reconcile").Logger(),
	}
}

// Logs returns the current log mirror, newest scan first.
func (o *Orchestrator) Logs() []scan.LogEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]scan.LogEntry, len(o.logs))
	copy(out, o.logs)
	return out
}

// Jobs returns the current job mirror, newest first.
func (o *Orchestrator) Jobs() []scan.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]scan.Job, len(o.jobs))
	copy(out, o.jobs)
	return out
}

// Refresh fetches the log and job lists concurrently and replaces the
// mirrors. Overlapping calls are allowed; whichever fetch completes last
// with the newest ticket wins.
func (o *Orchestrator) Refresh(ctx context.Context, mode Mode) error {
	ticket := o.ticket.Add(1)

	if mode.foreground() {
		o.setLoading(true)
		o.setError("")
		defer o.setLoading(false)
	}

	var (
		wg      sync.WaitGroup
		logs    []scan.LogEntry
		jobs    []scan.Job
		logsErr error
		jobsErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		logs, logsErr = o.api.ListLogs(ctx)
	}()
	go func() {
		defer wg.Done()
		jobs, jobsErr = o.api.ListJobs(ctx)
	}()
	wg.Wait()

	if err := firstError(logsErr, jobsErr); err != nil {
		if api.IsAuth(err) {
			// The logout itself is the user-visible consequence; no
			// separate banner.
			if o.hooks.Logout != nil {
				o.hooks.Logout()
			}
			return err
		}
		if mode.foreground() {
			o.setError("Failed to refresh scan data: " + err.Error())
		} else {
			o.log.Warn().Err(err).Msg("background refresh failed")
		}
		return err
	}

	sort.SliceStable(logs, func(i, j int) bool { return logs[i].ScannedAt.After(logs[j].ScannedAt) })
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })

	o.mu.Lock()
	if ticket < o.applied {
		// A newer refresh already landed; keep its data.
		o.mu.Unlock()
		return nil
	}
	o.applied = ticket
	o.logs = logs
	o.jobs = jobs
	o.mu.Unlock()

	if o.hooks.OnData != nil {
		o.hooks.OnData(o.Logs(), o.Jobs())
	}
	return nil
}

// Attach adopts a push subscription, closing any previous one so the
// session never holds two. Each received event triggers a background
// refresh.
func (o *Orchestrator) Attach(ctx context.Context, sub push.Subscription) {
	o.mu.Lock()
	prev, prevDone := o.sub, o.subDone
	done := make(chan struct{})
	o.sub, o.subDone = sub, done
	o.mu.Unlock()

	if prev != nil {
		prev.Close()
		<-prevDone
	}

	go func() {
		defer close(done)
		for range sub.Events() {
			// The envelope only says "something changed"; both event
			// types resolve to the same silent refetch.
			if err := o.Refresh(ctx, ModeBackground); err != nil {
				if api.IsAuth(err) {
					return
				}
			}
		}
		o.log.Debug().Msg("push subscription drained")
	}()
}

// Detach closes the current push subscription, if any. Must be called on
// unmount and logout.
func (o *Orchestrator) Detach() {
	o.mu.Lock()
	sub, done := o.sub, o.subDone
	o.sub, o.subDone = nil, nil
	o.mu.Unlock()

	if sub != nil {
		sub.Close()
		<-done
	}
}

func (o *Orchestrator) setLoading(v bool) {
	if o.hooks.OnLoading != nil {
		o.hooks.OnLoading(v)
	}
}

func (o *Orchestrator) setError(msg string) {
	if o.hooks.OnError != nil {
		o.hooks.OnError(msg)
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// NewLogoutGuard wraps a logout function so that concurrent auth
// failures reported by any component produce exactly one logout side
// effect for the session.
func NewLogoutGuard(fn func()) func() {
	var once sync.Once
	return func() { once.Do(fn) }
}
