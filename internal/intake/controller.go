// Package intake validates user-selected audio files, slices them into
// snippet segments, and accumulates a deduplicated pending-selection set
// ready for submission. All failures here are per-file and non-fatal: one
// bad file never stops the rest of the batch.
package intake

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.senan.xyz/taglib"

	"trackscan/internal/audio"
	"trackscan/internal/scan"
	"trackscan/internal/snippet"
)

// DefaultMaxFileBytes is the pre-processing size ceiling per source file.
const DefaultMaxFileBytes = 50 << 20

var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".opus": true,
	".wav":  true,
	".aac":  true,
	".ogg":  true,
}

// File is one raw user-selected input.
type File struct {
	Name string
	Data []byte
}

// Rejection records why a single file was dropped. Reported to the user,
// never propagated as an error.
type Rejection struct {
	Name   string
	Reason string
	Err    error
}

func (r Rejection) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", r.Name, r.Reason, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Name, r.Reason)
}

// PendingFile is one ready-to-submit snippet, tied back to its source for
// history deduplication.
type PendingFile struct {
	Name         string
	Data         []byte
	SourceName   string
	SourceSize   int64
	SegmentIndex int
	StartOffset  float64
}

// Size returns the snippet byte length.
func (p PendingFile) Size() int64 { return int64(len(p.Data)) }

// Config tunes the controller.
type Config struct {
	MaxFileBytes int64          // source size ceiling; DefaultMaxFileBytes when 0
	Segments     int            // segments requested per file, 1-3
	Selector     snippet.Config // passed through to the segment selector
}

// Controller owns the decode context and the pending set for one intake
// view. Close must be called when the view is torn down.
type Controller struct {
	cfg      Config
	decoder  *audio.Context
	selector *snippet.Selector
	log      zerolog.Logger

	mu      sync.Mutex
	pending []PendingFile
	queued  map[string]bool // name + size dedup of pending snippets
}

// New creates a Controller with its own decode context.
func New(cfg Config, log zerolog.Logger) *Controller {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.Segments < 1 {
		cfg.Segments = 1
	} else if cfg.Segments > 3 {
		cfg.Segments = 3
	}
	return &Controller{
		cfg:      cfg,
		decoder:  audio.NewContext(),
		selector: snippet.New(cfg.Selector, nil),
		log:      log.With().Str("component", "intake").Logger(),
	}
}

// Close releases the decode context. Further Add calls will reject every
// file.
func (c *Controller) Close() error {
	return c.decoder.Close()
}

// AddFiles validates and processes the given files, appending produced
// snippets to the pending set. Files are processed concurrently but
// accepted snippets are appended in input order, so the resulting list is
// deterministic for a given input slice.
func (c *Controller) AddFiles(files []File) []Rejection {
	type outcome struct {
		segments  []snippet.Segment
		rejection *Rejection
		source    File
	}

	outcomes := make([]outcome, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(i int, f File) {
			defer wg.Done()
			segs, rej := c.processFile(f)
			outcomes[i] = outcome{segments: segs, rejection: rej, source: f}
		}(i, f)
	}
	wg.Wait()

	var rejections []Rejection
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range outcomes {
		if o.rejection != nil {
			rejections = append(rejections, *o.rejection)
			continue
		}
		for _, seg := range o.segments {
			c.appendLocked(o.source, seg)
		}
	}
	return rejections
}

// AddPaths reads files from disk. Each path is probed with taglib first,
// so obviously non-audio or sub-second files are rejected without loading
// their bytes.
func (c *Controller) AddPaths(paths []string) []Rejection {
	files := make([]File, 0, len(paths))
	var rejections []Rejection
	for _, path := range paths {
		name := filepath.Base(path)

		props, err := taglib.ReadProperties(path)
		if err != nil {
			rejections = append(rejections, Rejection{Name: name, Reason: "not a readable audio file", Err: err})
			continue
		}
		minDur := c.selectorMinDuration()
		if props.Length.Seconds() < minDur {
			rejections = append(rejections, Rejection{
				Name:   name,
				Reason: fmt.Sprintf("too short (%.1fs, minimum %.0fs)", props.Length.Seconds(), minDur),
			})
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			rejections = append(rejections, Rejection{Name: name, Reason: "failed to read file", Err: err})
			continue
		}
		files = append(files, File{Name: name, Data: data})
	}

	return append(rejections, c.AddFiles(files)...)
}

// Pending returns a copy of the current pending snippet list.
func (c *Controller) Pending() []PendingFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingFile, len(c.pending))
	copy(out, c.pending)
	return out
}

// Clear drops the pending set.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.queued = nil
}

// processFile runs the per-file validate → decode → segment pipeline.
func (c *Controller) processFile(f File) ([]snippet.Segment, *Rejection) {
	if !isAudioName(f.Name, f.Data) {
		return nil, &Rejection{Name: f.Name, Reason: "not an audio file"}
	}
	if int64(len(f.Data)) > c.cfg.MaxFileBytes {
		return nil, &Rejection{
			Name:   f.Name,
			Reason: fmt.Sprintf("exceeds the %dMB size limit", c.cfg.MaxFileBytes>>20),
		}
	}

	buf, err := c.decoder.Decode(f.Name, f.Data)
	if err != nil {
		return nil, &Rejection{Name: f.Name, Reason: "failed to decode audio", Err: err}
	}

	segments, err := c.selector.Select(buf, f.Name, c.cfg.Segments)
	if err != nil {
		return nil, &Rejection{Name: f.Name, Reason: "no usable segments", Err: err}
	}
	c.log.Debug().Str("file", f.Name).Int("segments", len(segments)).Msg("file accepted")
	return segments, nil
}

// appendLocked adds one snippet unless an identical (name, size) snippet
// is already queued.
func (c *Controller) appendLocked(source File, seg snippet.Segment) {
	key := fmt.Sprintf("%s|%d", seg.Name, len(seg.Data))
	if c.queued == nil {
		c.queued = make(map[string]bool)
	}
	if c.queued[key] {
		return
	}
	c.queued[key] = true
	c.pending = append(c.pending, PendingFile{
		Name:         seg.Name,
		Data:         seg.Data,
		SourceName:   source.Name,
		SourceSize:   int64(len(source.Data)),
		SegmentIndex: seg.Index,
		StartOffset:  seg.Start,
	})
}

func (c *Controller) selectorMinDuration() float64 {
	if c.cfg.Selector.MinDuration > 0 {
		return c.cfg.Selector.MinDuration
	}
	return snippet.DefaultConfig().MinDuration
}

// isAudioName accepts files whose extension is a known audio type, or
// whose leading bytes carry an audio signature when the extension is
// unknown.
func isAudioName(name string, data []byte) bool {
	if audioExtensions[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	if len(data) >= 4 && string(data[:4]) == "RIFF" {
		return true
	}
	if len(data) >= 3 && string(data[:3]) == "ID3" {
		return true
	}
	return false
}

// FilterScanned removes pending snippets whose source file (by original
// name and size) matches an already-scanned history entry, returning the
// kept list and how many were excluded. Best-effort client-side heuristic
// only: the backend remains the source of truth for real duplicates.
func FilterScanned(pending []PendingFile, history []scan.LogEntry) (kept []PendingFile, skipped int) {
	seen := make(map[string]bool, len(history))
	for _, entry := range history {
		if entry.Status != scan.LogMatchesFound && entry.Status != scan.LogNoMatchesFound {
			continue
		}
		if entry.FileName != "" {
			seen[fmt.Sprintf("%s|%d", entry.FileName, entry.FileSize)] = true
		}
	}

	for _, p := range pending {
		if seen[fmt.Sprintf("%s|%d", p.SourceName, p.SourceSize)] {
			skipped++
			continue
		}
		kept = append(kept, p)
	}
	return kept, skipped
}
