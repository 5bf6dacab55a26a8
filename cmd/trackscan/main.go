package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trackscan/internal/api"
	"trackscan/internal/config"
	"trackscan/internal/intake"
	"trackscan/internal/logger"
	"trackscan/internal/progress"
	"trackscan/internal/push"
	"trackscan/internal/reconcile"
	"trackscan/internal/scan"
	"trackscan/internal/scanjob"
	"trackscan/internal/shutdown"
	"trackscan/internal/snippet"
	"trackscan/internal/streams"
)

func main() {
	args, err := parseArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		os.Exit(1)
	}
	cfg := args.cfg

	sh := shutdown.New()
	sh.Listen()

	logOpts := logger.Options{Verbose: cfg.Verbose}
	if !cfg.Verbose {
		logDir := config.GetDefaultLogPath()
		if err := os.MkdirAll(logDir, 0755); err == nil {
			logOpts.FilePath = filepath.Join(logDir, fmt.Sprintf("trackscan_%s.log", time.Now().Format("2006-01-02_15-04-05")))
		}
	}
	log, err := logger.New(logOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if cfg.Verbose && args.configPath != "" {
		log.Debug().Str("path", args.configPath).Msg("loaded configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("configuration error")
		os.Exit(1)
	}
	if cfg.AuthToken == "" {
		log.Error().Msg("no auth token: set auth_token, pass --token, or export TRACKSCAN_TOKEN")
		os.Exit(1)
	}

	client := api.New(cfg.APIBaseURL, cfg.AuthToken, time.Duration(cfg.RequestTimeout)*time.Second, log.Component("api"))

	if err := run(sh, args, client, log); err != nil {
		log.Error().Err(err).Msg("scan failed")
		os.Exit(1)
	}
}

func run(sh *shutdown.Handler, args cliArgs, client *api.Client, log *logger.Logger) error {
	ctx := sh.Context()
	cfg := args.cfg

	var counts *streams.Client
	if cfg.StreamStatsURL != "" {
		counts = streams.New(cfg.StreamStatsURL)
	}

	switch {
	case args.history:
		return showHistory(ctx, client, counts, log)
	case args.abort:
		return abortActive(ctx, client)
	case args.sourceURL != "":
		return scanURL(sh, cfg, client, counts, log, args.sourceURL)
	case len(args.files) > 0:
		return scanFiles(sh, cfg, client, counts, log, args.files)
	}
	return fmt.Errorf("nothing to scan: pass audio files or a playlist URL")
}

// showHistory prints the scan log mirror the way the dashboard would show
// it: newest first, jobs after entries.
func showHistory(ctx context.Context, client *api.Client, counts *streams.Client, log *logger.Logger) error {
	var (
		gotLogs []scan.LogEntry
		gotJobs []scan.Job
	)
	orch := reconcile.New(client, reconcile.Hooks{
		OnError: func(msg string) {
			if msg != "" {
				log.Warn().Msg(msg)
			}
		},
		OnData: func(logs []scan.LogEntry, jobs []scan.Job) {
			gotLogs, gotJobs = logs, jobs
		},
		Logout: reconcile.NewLogoutGuard(func() {
			log.Error().Msg("session expired, please sign in again")
		}),
	}, log.Component("reconcile"))

	if err := orch.Refresh(ctx, reconcile.ModeInitial); err != nil {
		return err
	}

	if len(gotLogs) == 0 {
		fmt.Println("No scans yet.")
	}
	for i := range gotLogs {
		printEntry(ctx, &gotLogs[i], counts)
	}
	for i := range gotJobs {
		j := &gotJobs[i]
		fmt.Printf("job %s  %-12s %-22s %s\n", j.ID, j.Type, j.Status, j.Progress())
	}
	return nil
}

func abortActive(ctx context.Context, client *api.Client) error {
	job, err := client.ActiveJob(ctx)
	if err != nil {
		return err
	}
	if job == nil {
		fmt.Println("No active job.")
		return nil
	}
	if _, err := client.AbortJob(ctx, job.ID); err != nil {
		return err
	}
	fmt.Printf("Aborted job %s.\n", job.ID)
	return nil
}

// scanURL submits a YouTube or Spotify link. Playlists come back as a job
// to track; single tracks resolve synchronously.
func scanURL(sh *shutdown.Handler, cfg config.Config, client *api.Client, counts *streams.Client, log *logger.Logger, url string) error {
	ctx := sh.Context()

	if err := ensureNoActiveJob(ctx, client); err != nil {
		return err
	}

	result, err := client.CreateJob(ctx, api.JobInput{Type: jobTypeForURL(url), SourceURL: url})
	if err != nil {
		return err
	}
	if result.Single != nil {
		printEntry(ctx, result.Single, counts)
		return nil
	}
	return trackJob(sh, cfg, client, counts, log, result.Job)
}

// scanFiles extracts snippets locally and either resolves a single source
// synchronously or uploads a file batch job.
func scanFiles(sh *shutdown.Handler, cfg config.Config, client *api.Client, counts *streams.Client, log *logger.Logger, paths []string) error {
	ctx := sh.Context()

	sel := snippet.DefaultConfig()
	sel.TargetDuration = cfg.SegmentDuration
	sel.MinDuration = cfg.MinClipSeconds
	sel.TargetRate = cfg.TargetSampleRate
	sel.TargetChannels = cfg.TargetChannels

	ctrl := intake.New(intake.Config{
		MaxFileBytes: int64(cfg.MaxUploadMB) << 20,
		Segments:     cfg.Segments,
		Selector:     sel,
	}, log.Component("intake"))
	defer ctrl.Close()

	for _, rej := range ctrl.AddPaths(paths) {
		log.Warn().Str("file", rej.Name).Str("reason", rej.Reason).Msg("file skipped")
	}

	pending := ctrl.Pending()
	if len(pending) == 0 {
		return fmt.Errorf("no usable audio in the given files")
	}

	// Best-effort dedup against scan history; a failed listing never
	// blocks the scan.
	if history, err := client.ListLogs(ctx); err == nil {
		var skipped int
		pending, skipped = intake.FilterScanned(pending, history)
		if skipped > 0 {
			log.Info().Int("skipped", skipped).Msg("already-scanned files skipped")
		}
		if len(pending) == 0 {
			fmt.Println("All given files were already scanned.")
			return nil
		}
	} else {
		log.Debug().Err(err).Msg("history fetch failed, skipping dedup")
	}

	sources := map[string]bool{}
	for _, p := range pending {
		sources[p.SourceName] = true
	}
	if len(sources) == 1 {
		return scanSingle(ctx, client, counts, log, pending)
	}
	return scanBatch(sh, cfg, client, counts, log, pending)
}

// scanSingle submits one source's snippets in order until a segment
// matches or all come back empty.
func scanSingle(ctx context.Context, client *api.Client, counts *streams.Client, log *logger.Logger, pending []intake.PendingFile) error {
	for _, p := range pending {
		log.Debug().Str("snippet", p.Name).Int("segment", p.SegmentIndex).Msg("submitting snippet")
		matches, err := client.SubmitSnippet(ctx, p.Name, p.Data)
		if err != nil {
			if api.IsKind(err, api.KindNoResult) {
				continue
			}
			return err
		}
		fmt.Printf("%s: %d match(es)\n", p.SourceName, len(matches))
		printMatches(ctx, matches, counts)
		return nil
	}
	fmt.Println("No matches found.")
	return nil
}

// scanBatch creates a file batch job, uploads every snippet, seals the
// upload, and tracks the job to completion.
func scanBatch(sh *shutdown.Handler, cfg config.Config, client *api.Client, counts *streams.Client, log *logger.Logger, pending []intake.PendingFile) error {
	ctx := sh.Context()

	if err := ensureNoActiveJob(ctx, client); err != nil {
		return err
	}

	names := make([]string, len(pending))
	for i, p := range pending {
		names[i] = p.Name
	}

	result, err := client.CreateJob(ctx, api.JobInput{Type: scan.JobFileBatch, SnippetNames: names})
	if err != nil {
		return err
	}
	job := result.Job
	if job == nil {
		return fmt.Errorf("backend did not return a batch job")
	}

	for _, p := range pending {
		log.Debug().Str("snippet", p.Name).Msg("uploading")
		if err := client.UploadJobFile(ctx, job.ID, p.Name, p.Data); err != nil {
			return fmt.Errorf("upload of %s failed: %w", p.Name, err)
		}
	}
	job, err = client.CompleteUpload(ctx, job.ID)
	if err != nil {
		return err
	}

	return trackJob(sh, cfg, client, counts, log, job)
}

// trackJob follows a batch job to a terminal status, mirroring updates
// into a progress bar, then prints the job's log entries.
func trackJob(sh *shutdown.Handler, cfg config.Config, client *api.Client, counts *streams.Client, log *logger.Logger, job *scan.Job) error {
	ctx := sh.Context()

	done := make(chan struct{})
	var (
		bar     *progress.Bar
		tracker *scanjob.Tracker
		last    scan.Job
	)

	logout := reconcile.NewLogoutGuard(func() {
		log.Error().Msg("session expired, please sign in again")
		sh.Shutdown()
	})

	hooks := scanjob.Hooks{
		OnJob: func(j scan.Job) {
			last = j
			if cfg.Verbose || j.Type != scan.JobFileBatch {
				log.Info().Str("status", string(j.Status)).Str("progress", j.Progress()).Msg("job update")
				return
			}
			if bar == nil && j.TotalItems > 0 {
				bar = progress.New(j.TotalItems)
			}
			if bar != nil {
				eta, _ := tracker.Remaining()
				bar.Set(j.ItemsProcessed, eta)
			}
		},
		OnBanner: func(msg string, persistent bool) {
			if persistent {
				log.Error().Msg(msg)
				return
			}
			log.Warn().Msg(msg)
		},
		OnClearBanner: func() {},
		OnTerminal:    func() { close(done) },
		Logout:        logout,
	}
	tracker = scanjob.New(client, hooks, time.Duration(cfg.PollInterval)*time.Second, log.Component("scanjob"))
	defer tracker.Stop()

	// Push channel: job updates arrive out of band and tighten the poll
	// mirror between intervals.
	if cfg.PushURL != "" {
		orch := reconcile.New(client, reconcile.Hooks{
			OnData: func(_ []scan.LogEntry, jobs []scan.Job) {
				for i := range jobs {
					if jobs[i].ID == job.ID {
						tracker.Update(&jobs[i])
						return
					}
				}
			},
			Logout: logout,
		}, log.Component("reconcile"))

		sub, err := push.Dial(ctx, cfg.PushURL, cfg.AuthToken, log.Component("push"))
		if err != nil {
			log.Warn().Err(err).Msg("push channel unavailable, polling only")
		} else {
			orch.Attach(ctx, sub)
			defer orch.Detach()
		}
	}

	tracker.Track(job)

	select {
	case <-done:
	case <-ctx.Done():
		return nil
	}
	if bar != nil {
		bar.Finish()
	}

	fmt.Printf("Job %s: %s (%s, %d with matches, %d failed)\n",
		last.ID, last.Status, last.Progress(), last.ItemsWithMatches, last.ItemsFailed)
	if last.LastError != "" {
		log.Warn().Str("error", last.LastError).Msg("job reported an error")
	}

	entries, err := client.ListLogs(ctx)
	if err != nil {
		return fmt.Errorf("job finished but fetching results failed: %w", err)
	}
	for i := range entries {
		if entries[i].JobID == job.ID {
			printEntry(ctx, &entries[i], counts)
		}
	}
	return nil
}

func ensureNoActiveJob(ctx context.Context, client *api.Client) error {
	active, err := client.ActiveJob(ctx)
	if err != nil {
		return err
	}
	if active != nil {
		return fmt.Errorf("job %s is still %s; wait for it or pass --abort", active.ID, active.Status)
	}
	return nil
}

func jobTypeForURL(url string) scan.JobType {
	if strings.Contains(url, "spotify.com") {
		return scan.JobSpotifyPlaylist
	}
	return scan.JobYouTubeBatch
}

func printEntry(ctx context.Context, entry *scan.LogEntry, counts *streams.Client) {
	name := entry.FileName
	if name == "" {
		name = entry.SourceURL
	}
	fmt.Printf("%s  [%s] %s\n", entry.ScannedAt.Format("2006-01-02 15:04"), entry.Status, name)
	printMatches(ctx, entry.Matches, counts)
}

func printMatches(ctx context.Context, matches []scan.Match, counts *streams.Client) {
	for i := range matches {
		m := &matches[i]
		enrichCounts(ctx, m, counts)

		fmt.Printf("  %3d%%  %s — %s", m.Confidence, m.Artist, m.Title)
		if m.Album != "" {
			fmt.Printf(" (%s)", m.Album)
		}
		fmt.Println()
		if url := m.SpotifyURL(); url != "" {
			fmt.Printf("        %s", url)
			if m.SpotifyStreams != nil {
				fmt.Printf("  (%d streams)", *m.SpotifyStreams)
			}
			fmt.Println()
		}
		if url := m.YouTubeURL(); url != "" {
			fmt.Printf("        %s", url)
			if m.YouTubeViews != nil {
				fmt.Printf("  (%d views)", *m.YouTubeViews)
			}
			fmt.Println()
		}
	}
}

// enrichCounts fills missing stream counts from the stats service. Purely
// cosmetic, so failures are swallowed.
func enrichCounts(ctx context.Context, m *scan.Match, counts *streams.Client) {
	if counts == nil || m.SpotifyTrackID == "" {
		return
	}
	if m.SpotifyStreams != nil && m.YouTubeViews != nil {
		return
	}
	c, err := counts.TrackCounts(ctx, m.SpotifyTrackID)
	if err != nil {
		return
	}
	if m.SpotifyStreams == nil {
		m.SpotifyStreams = c.SpotifyStreams
	}
	if m.YouTubeViews == nil {
		m.YouTubeViews = c.YouTubeViews
	}
}
