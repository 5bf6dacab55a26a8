// Package scan defines the domain model shared by the client core: log
// entries, recognition matches, and batch scan jobs. The backend owns the
// storage for all of these; the client only mirrors them.
package scan

import (
	"fmt"
	"time"
)

// Origin describes where a log entry's audio came from.
type Origin string

const (
	OriginFileUpload          Origin = "file_upload"
	OriginYouTubeVideo        Origin = "youtube_video"
	OriginYouTubeBatchItem    Origin = "youtube_batch_item"
	OriginSpotifyTrack        Origin = "spotify_track"
	OriginSpotifyPlaylistItem Origin = "spotify_playlist_item"
)

// LogStatus is the per-entry scan outcome.
type LogStatus string

const (
	LogPending        LogStatus = "pending"
	LogProcessing     LogStatus = "processing"
	LogMatchesFound   LogStatus = "matches_found"
	LogNoMatchesFound LogStatus = "no_matches_found"
	LogError          LogStatus = "error_processing"
	LogManuallyAdded  LogStatus = "manually_added"
	LogAborted        LogStatus = "aborted"
)

// Terminal reports whether no further automatic transition occurs for
// this entry without explicit user action.
func (s LogStatus) Terminal() bool {
	switch s {
	case LogMatchesFound, LogNoMatchesFound, LogError, LogManuallyAdded, LogAborted:
		return true
	}
	return false
}

// Match is one candidate recognition result. Cross-platform identifiers
// are best-effort and may be absent; stream counts are filled in lazily
// by a separate service and are nil until then.
type Match struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Album           string `json:"album,omitempty"`
	ReleaseDate     string `json:"release_date,omitempty"`
	Confidence      int    `json:"confidence"` // 0-100 inclusive
	SpotifyTrackID  string `json:"spotify_track_id,omitempty"`
	SpotifyArtistID string `json:"spotify_artist_id,omitempty"`
	YouTubeVideoID  string `json:"youtube_video_id,omitempty"`

	SpotifyStreams *int64 `json:"spotify_streams,omitempty"`
	YouTubeViews   *int64 `json:"youtube_views,omitempty"`
}

// SpotifyURL returns a track link, or "" when no Spotify id is known.
func (m Match) SpotifyURL() string {
	if m.SpotifyTrackID == "" {
		return ""
	}
	return "https://open.spotify.com/track/" + m.SpotifyTrackID
}

// YouTubeURL returns a video link, or "" when no YouTube id is known.
func (m Match) YouTubeURL() string {
	if m.YouTubeVideoID == "" {
		return ""
	}
	return "https://www.youtube.com/watch?v=" + m.YouTubeVideoID
}

// LogEntry is one durable record of "this input produced these matches".
// Exactly one of the source descriptor groups is populated, per Origin.
// Matches keep the recognition service's ranking order and are empty iff
// the status is a no-match or error variant.
type LogEntry struct {
	ID     string    `json:"id"`
	Origin Origin    `json:"origin"`
	Status LogStatus `json:"status"`

	FileName       string `json:"file_name,omitempty"`
	FileSize       int64  `json:"file_size,omitempty"`
	SourceURL      string `json:"source_url,omitempty"`
	VideoID        string `json:"video_id,omitempty"`
	SpotifyTrackID string `json:"spotify_track_id,omitempty"`

	Matches []Match `json:"matches,omitempty"`

	JobID     string    `json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ScannedAt time.Time `json:"scanned_at"`
}

// JobType describes the kind of batch operation.
type JobType string

const (
	JobYouTubeBatch    JobType = "youtube_batch"
	JobSpotifyPlaylist JobType = "spotify_playlist"
	JobFileBatch       JobType = "file_batch"
)

// JobStatus is the batch job lifecycle state.
type JobStatus string

const (
	JobPendingSetup           JobStatus = "pending_setup"
	JobPendingUpload          JobStatus = "pending_upload"
	JobUploadingFiles         JobStatus = "uploading_files"
	JobQueued                 JobStatus = "queued"
	JobFetchingItems          JobStatus = "fetching_items"
	JobProcessingItems        JobStatus = "processing_items"
	JobPaused                 JobStatus = "paused"
	JobCompleted              JobStatus = "completed"
	JobCompletedWithErrors    JobStatus = "completed_with_errors"
	JobFailedCreditsExhausted JobStatus = "failed_credits_exhausted"
	JobFailedUpstreamAPI      JobStatus = "failed_upstream_api"
	JobFailedSetup            JobStatus = "failed_setup"
	JobFailedIncompleteUpload JobStatus = "failed_incomplete_upload"
	JobFailedOther            JobStatus = "failed_other"
	JobAborted                JobStatus = "aborted"
)

// Terminal reports whether the job can no longer change on its own.
// failed_credits_exhausted is not terminal: the job stays resumable after
// the user refills their quota.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCompletedWithErrors, JobAborted,
		JobFailedUpstreamAPI, JobFailedSetup, JobFailedIncompleteUpload, JobFailedOther:
		return true
	}
	return false
}

// Active reports whether the backend is still working through items, i.e.
// whether the status poll loop should keep running.
func (s JobStatus) Active() bool {
	return s == JobFetchingItems || s == JobProcessingItems
}

// InFlight reports whether the backend may still move the job forward
// without user action, i.e. whether a status poll is worth issuing.
// Paused and credit-stalled jobs wait on the user instead.
func (s JobStatus) InFlight() bool {
	return !s.Terminal() && s != JobPaused && s != JobFailedCreditsExhausted
}

// Pausable reports whether a pause request may be issued.
func (s JobStatus) Pausable() bool { return s.Active() }

// Resumable reports whether a resume request may be issued.
func (s JobStatus) Resumable() bool {
	return s == JobPaused || s == JobFailedCreditsExhausted
}

// ItemRef identifies the most recently processed batch item, for progress
// display only.
type ItemRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Job is one logical batch operation in flight on the backend.
type Job struct {
	ID     string    `json:"id"`
	Type   JobType   `json:"type"`
	Status JobStatus `json:"status"`

	TotalItems       int  `json:"total_items"`
	ItemsProcessed   int  `json:"items_processed"`
	ItemsWithMatches int  `json:"items_with_matches"`
	ItemsFailed      int  `json:"items_failed"`
	PendingItemCount *int `json:"pending_item_count,omitempty"`

	LastError         string   `json:"last_error,omitempty"`
	LastProcessedItem *ItemRef `json:"last_processed_item,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Progress renders an "n/m" counter, or "n" while the total is unknown
// (totalItems may legitimately be 0 during fetching_items).
func (j *Job) Progress() string {
	if j.TotalItems <= 0 {
		return fmt.Sprintf("%d", j.ItemsProcessed)
	}
	return fmt.Sprintf("%d/%d", j.ItemsProcessed, j.TotalItems)
}
