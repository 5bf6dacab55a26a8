// Package scanjob tracks one batch scan job through its lifecycle on the
// client side: status polling, pause/resume/abort, recovery after credit
// exhaustion, and resumption across restarts. The tracker owns the active
// job pointer and the pending poll timer as a single unit; nothing else
// may touch them.
package scanjob

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trackscan/internal/api"
	"trackscan/internal/scan"
)

// DefaultPollInterval is the delay between status fetches while the
// backend is actively working through items.
const DefaultPollInterval = 5 * time.Second

// JobAPI is the slice of the backend client the tracker depends on.
type JobAPI interface {
	JobStatus(ctx context.Context, jobID string) (*scan.Job, error)
	PauseJob(ctx context.Context, jobID string) (*scan.Job, error)
	ResumeJob(ctx context.Context, jobID string) (*scan.Job, error)
	AbortJob(ctx context.Context, jobID string) (*scan.Job, error)
	ActiveJob(ctx context.Context) (*scan.Job, error)
}

// Hooks deliver tracker events to the embedding surface. Any field may be
// nil. Callbacks are invoked without internal locks held.
type Hooks struct {
	// OnJob fires on every local mirror update.
	OnJob func(job scan.Job)
	// OnBanner surfaces a user-visible message. persistent banners stay
	// until explicitly cleared (credit exhaustion); others are
	// dismissible.
	OnBanner func(msg string, persistent bool)
	// OnClearBanner removes any displayed banner (e.g. on resume).
	OnClearBanner func()
	// OnTerminal fires once when the tracked job reaches a terminal
	// status; the embedder triggers a background log refresh from it.
	OnTerminal func()
	// Logout is called on authentication failures. Callers pass a
	// session-level guard so repeated failures produce one logout.
	Logout func()
}

// Tracker mirrors one active batch job.
type Tracker struct {
	api      JobAPI
	hooks    Hooks
	log      zerolog.Logger
	interval time.Duration

	mu      sync.Mutex
	job     *scan.Job
	timer   *time.Timer
	gen     int // bumped whenever the loop stops; stale timers check it
	started time.Time
	closed  bool
}

// New creates a Tracker. interval <= 0 selects DefaultPollInterval.
func New(apiClient JobAPI, hooks Hooks, interval time.Duration, log zerolog.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{
		api:      apiClient,
		hooks:    hooks,
		log:      log.With().Str("component", "scanjob").Logger(),
		interval: interval,
	}
}

// Active returns a copy of the tracked job, or nil when none is active.
func (t *Tracker) Active() *scan.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil {
		return nil
	}
	cp := *t.job
	return &cp
}

// Track adopts a freshly created job and starts the poll loop for any
// status the backend can still advance on its own. A job adopted while
// queued or mid-upload is polled too: the stop decision belongs to the
// fetched status, not the adopted one.
func (t *Tracker) Track(job *scan.Job) {
	if job == nil {
		return
	}
	t.mu.Lock()
	cp := *job
	t.job = &cp
	t.started = time.Now()
	if cp.Status.InFlight() {
		t.scheduleLocked()
	}
	t.mu.Unlock()

	t.notifyJob(cp)
}

// Update merges an externally delivered snapshot (push channel) into the
// mirror for the job already being tracked. It goes through the same
// clamp-and-reschedule path as a polled snapshot; adopting a different
// job goes through Track.
func (t *Tracker) Update(job *scan.Job) {
	if job == nil {
		return
	}
	t.mu.Lock()
	if t.closed || t.job == nil || t.job.ID != job.ID {
		t.mu.Unlock()
		return
	}
	gen := t.gen
	t.mu.Unlock()

	t.apply(gen, job)
}

// Restore asks the backend for an in-flight job on mount, so a restart
// never silently drops a running batch. Actively processing jobs resume
// polling; paused or credit-stalled jobs surface their banner instead.
func (t *Tracker) Restore(ctx context.Context) error {
	job, err := t.api.ActiveJob(ctx)
	if err != nil {
		if api.IsAuth(err) {
			t.logout()
			return err
		}
		return err
	}
	if job == nil {
		return nil
	}

	t.log.Info().Str("job", job.ID).Str("status", string(job.Status)).Msg("restored active job")
	t.Track(job)

	switch job.Status {
	case scan.JobFailedCreditsExhausted:
		t.banner(creditsBannerText(job), true)
	case scan.JobPaused:
		t.banner("Scan job is paused. Resume it to continue processing.", false)
	}
	return nil
}

// Pause optimistically marks the job paused and halts the poll loop; the
// backend's answer is reconciled by the next status fetch.
func (t *Tracker) Pause(ctx context.Context) {
	t.mu.Lock()
	if t.job == nil || !t.job.Status.Pausable() {
		t.mu.Unlock()
		return
	}
	jobID := t.job.ID
	t.job.Status = scan.JobPaused
	t.stopLoopLocked()
	cp := *t.job
	t.mu.Unlock()

	t.notifyJob(cp)
	if _, err := t.api.PauseJob(ctx, jobID); err != nil {
		t.controlError("pause", err)
	}
}

// Resume clears any banner, optimistically marks the job processing, and
// restarts the poll loop. Offered for paused and credit-exhausted jobs.
func (t *Tracker) Resume(ctx context.Context) {
	t.mu.Lock()
	if t.job == nil || !t.job.Status.Resumable() {
		t.mu.Unlock()
		return
	}
	jobID := t.job.ID
	t.job.Status = scan.JobProcessingItems
	t.scheduleLocked()
	cp := *t.job
	t.mu.Unlock()

	if t.hooks.OnClearBanner != nil {
		t.hooks.OnClearBanner()
	}
	t.notifyJob(cp)
	if _, err := t.api.ResumeJob(ctx, jobID); err != nil {
		t.controlError("resume", err)
	}
}

// Abort stops the job. The server does the actual stopping; locally the
// job is treated as terminal immediately.
func (t *Tracker) Abort(ctx context.Context) {
	t.mu.Lock()
	if t.job == nil || t.job.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	jobID := t.job.ID
	t.job.Status = scan.JobAborted
	cp := *t.job
	t.clearLocked()
	t.mu.Unlock()

	t.notifyJob(cp)
	if _, err := t.api.AbortJob(ctx, jobID); err != nil && api.IsAuth(err) {
		t.logout()
		return
	}
	if t.hooks.OnTerminal != nil {
		t.hooks.OnTerminal()
	}
}

// Remaining estimates time left from throughput so far. Only meaningful
// for uploaded-file batches; URL batches have no local start reference.
// ok is false while the estimate is unknown.
func (t *Tracker) Remaining() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil || t.job.Type != scan.JobFileBatch {
		return 0, false
	}
	processed := t.job.ItemsProcessed
	total := t.job.TotalItems
	if processed <= 0 || total <= 0 {
		return 0, false
	}
	elapsed := time.Since(t.started)
	perItem := elapsed / time.Duration(processed)
	return perItem * time.Duration(total-processed), true
}

// Stop halts polling and drops the active job. Used on session teardown.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.closed = true
	t.clearLocked()
	t.mu.Unlock()
}

// scheduleLocked arms the poll timer. Caller holds t.mu.
func (t *Tracker) scheduleLocked() {
	if t.closed {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.interval, func() { t.poll(gen) })
}

// stopLoopLocked halts polling but keeps the job mirror (pause, credit
// exhaustion). Caller holds t.mu.
func (t *Tracker) stopLoopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// clearLocked drops the active job pointer and the poll timer together;
// they are one unit of state. Caller holds t.mu.
func (t *Tracker) clearLocked() {
	t.stopLoopLocked()
	t.job = nil
}

// poll is one iteration of the status loop. The next poll is scheduled
// only after this one resolves, so at most one fetch per job is ever in
// flight.
func (t *Tracker) poll(gen int) {
	t.mu.Lock()
	if t.closed || gen != t.gen || t.job == nil {
		t.mu.Unlock()
		return
	}
	jobID := t.job.ID
	t.mu.Unlock()

	snapshot, err := t.api.JobStatus(context.Background(), jobID)
	if err != nil {
		if api.IsAuth(err) {
			t.logout()
			return
		}
		// Stop the loop; retrying indefinitely without user action would
		// hide a broken backend. The user can resume or refresh.
		t.mu.Lock()
		if gen == t.gen {
			t.stopLoopLocked()
		}
		t.mu.Unlock()
		t.banner("Lost contact with the scan service: "+err.Error(), false)
		return
	}

	t.apply(gen, snapshot)
}

// apply merges an authoritative snapshot into the mirror and decides
// whether the loop continues.
func (t *Tracker) apply(gen int, snapshot *scan.Job) {
	t.mu.Lock()
	if t.closed || gen != t.gen || t.job == nil || t.job.ID != snapshot.ID {
		t.mu.Unlock()
		return
	}

	merged := *snapshot
	// The backend guarantees monotonic progress; clamp defensively so a
	// stale read can never walk the counter backwards.
	if merged.ItemsProcessed < t.job.ItemsProcessed {
		merged.ItemsProcessed = t.job.ItemsProcessed
	}
	t.job = &merged
	cp := merged

	var terminal bool
	var persistentBanner string
	switch {
	case merged.Status == scan.JobFailedCreditsExhausted:
		t.stopLoopLocked()
		persistentBanner = creditsBannerText(&merged)
	case merged.Status.Terminal():
		terminal = true
		t.clearLocked()
	case merged.Status.InFlight():
		t.scheduleLocked()
	default:
		// paused: nothing to poll until the user acts or a push event
		// arrives.
		t.stopLoopLocked()
	}
	t.mu.Unlock()

	t.notifyJob(cp)
	if persistentBanner != "" {
		t.banner(persistentBanner, true)
	}
	if terminal {
		t.log.Info().Str("job", cp.ID).Str("status", string(cp.Status)).Msg("job finished")
		if t.hooks.OnTerminal != nil {
			t.hooks.OnTerminal()
		}
	}
}

// controlError handles a failed pause/resume call: auth failures force
// logout, everything else becomes a dismissible message.
func (t *Tracker) controlError(action string, err error) {
	if api.IsAuth(err) {
		t.logout()
		return
	}
	t.log.Warn().Err(err).Str("action", action).Msg("job control call failed")
	t.banner("Failed to "+action+" the job: "+err.Error(), false)
}

func (t *Tracker) notifyJob(job scan.Job) {
	if t.hooks.OnJob != nil {
		t.hooks.OnJob(job)
	}
}

func (t *Tracker) banner(msg string, persistent bool) {
	if t.hooks.OnBanner != nil {
		t.hooks.OnBanner(msg, persistent)
	}
}

func (t *Tracker) logout() {
	if t.hooks.Logout != nil {
		t.hooks.Logout()
	}
}

func creditsBannerText(job *scan.Job) string {
	msg := "Scan credits exhausted. Refill your recognition quota, then resume the job."
	if job.LastError != "" {
		msg = "Scan credits exhausted: " + job.LastError + " Refill your quota, then resume the job."
	}
	return msg
}
