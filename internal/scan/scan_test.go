package scan

import "testing"

func TestJobStatusPredicates(t *testing.T) {
	tests := []struct {
		status    JobStatus
		terminal  bool
		active    bool
		resumable bool
		inFlight  bool
	}{
		{JobPendingSetup, false, false, false, true},
		{JobPendingUpload, false, false, false, true},
		{JobUploadingFiles, false, false, false, true},
		{JobQueued, false, false, false, true},
		{JobFetchingItems, false, true, false, true},
		{JobProcessingItems, false, true, false, true},
		{JobPaused, false, false, true, false},
		{JobCompleted, true, false, false, false},
		{JobCompletedWithErrors, true, false, false, false},
		{JobAborted, true, false, false, false},
		{JobFailedUpstreamAPI, true, false, false, false},
		{JobFailedSetup, true, false, false, false},
		{JobFailedIncompleteUpload, true, false, false, false},
		{JobFailedOther, true, false, false, false},
		// Credit exhaustion is recoverable, so deliberately not terminal.
		{JobFailedCreditsExhausted, false, false, true, false},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.Active(); got != tt.active {
			t.Errorf("%s.Active() = %v, want %v", tt.status, got, tt.active)
		}
		if got := tt.status.Resumable(); got != tt.resumable {
			t.Errorf("%s.Resumable() = %v, want %v", tt.status, got, tt.resumable)
		}
		if got := tt.status.Pausable(); got != tt.active {
			t.Errorf("%s.Pausable() = %v, want %v", tt.status, got, tt.active)
		}
		if got := tt.status.InFlight(); got != tt.inFlight {
			t.Errorf("%s.InFlight() = %v, want %v", tt.status, got, tt.inFlight)
		}
	}
}

func TestLogStatusTerminal(t *testing.T) {
	terminal := []LogStatus{LogMatchesFound, LogNoMatchesFound, LogError, LogManuallyAdded, LogAborted}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []LogStatus{LogPending, LogProcessing} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestJobProgress(t *testing.T) {
	j := &Job{ItemsProcessed: 3, TotalItems: 10}
	if got := j.Progress(); got != "3/10" {
		t.Errorf("Progress() = %q, want 3/10", got)
	}

	// Total is legitimately unknown while items are being fetched.
	j = &Job{ItemsProcessed: 3}
	if got := j.Progress(); got != "3" {
		t.Errorf("Progress() = %q, want 3", got)
	}
}

func TestMatchURLs(t *testing.T) {
	m := Match{SpotifyTrackID: "sp1", YouTubeVideoID: "yt1"}
	if got := m.SpotifyURL(); got != "https://open.spotify.com/track/sp1" {
		t.Errorf("SpotifyURL() = %q", got)
	}
	if got := m.YouTubeURL(); got != "https://www.youtube.com/watch?v=yt1" {
		t.Errorf("YouTubeURL() = %q", got)
	}

	empty := Match{}
	if empty.SpotifyURL() != "" || empty.YouTubeURL() != "" {
		t.Error("missing ids must yield empty URLs")
	}
}
