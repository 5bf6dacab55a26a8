// Package snippet picks representative sub-clips from a decoded audio
// source and packages each as a named WAV blob ready for recognition
// submission.
package snippet

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"trackscan/internal/audio"
)

// Config tunes segment extraction. Zero values fall back to defaults.
type Config struct {
	TargetDuration float64 // seconds per segment
	MinDuration    float64 // sources shorter than this are rejected outright
	TargetRate     int     // output sample rate
	TargetChannels int     // output channel count
	MaxAttempts    int     // offset re-rolls before giving up on a segment
}

// DefaultConfig returns the standard extraction parameters: ~20 second
// clips, mono 16 kHz output.
func DefaultConfig() Config {
	return Config{
		TargetDuration: 20,
		MinDuration:    1,
		TargetRate:     16000,
		TargetChannels: 1,
		MaxAttempts:    10,
	}
}

// Thresholds derived from the target duration: a second segment is only
// worth extracting when the source comfortably exceeds one clip, a third
// when it exceeds two and a half.
const (
	secondSegmentFactor = 1.5
	thirdSegmentFactor  = 2.5
	minDistanceFactor   = 0.75
)

// Segment is one extracted clip, encoded and named.
type Segment struct {
	Name  string
	Index int     // 1-based position in the extraction order
	Start float64 // offset into the source, seconds
	Data  []byte  // WAV blob
}

// Size returns the encoded byte length.
func (s Segment) Size() int64 { return int64(len(s.Data)) }

// Selector extracts up to three segments per source.
type Selector struct {
	cfg Config
	rng *rand.Rand
}

// New creates a Selector. rng may be nil, in which case offsets are drawn
// from the global source; tests inject a seeded generator.
func New(cfg Config, rng *rand.Rand) *Selector {
	def := DefaultConfig()
	if cfg.TargetDuration <= 0 {
		cfg.TargetDuration = def.TargetDuration
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = def.MinDuration
	}
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = def.TargetRate
	}
	if cfg.TargetChannels <= 0 {
		cfg.TargetChannels = def.TargetChannels
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &Selector{cfg: cfg, rng: rng}
}

// Select extracts up to count segments (clamped to 1..3) from src.
//
// The first segment always starts at t=0; later segments get randomized
// start offsets kept at least 0.75× the target duration away from every
// earlier segment. Producing fewer segments than requested is a normal
// outcome, not an error. An error is returned only when the source is too
// short to yield even the first segment, or when that segment cannot be
// encoded.
func (s *Selector) Select(src *audio.Buffer, sourceName string, count int) ([]Segment, error) {
	if count < 1 {
		count = 1
	} else if count > 3 {
		count = 3
	}

	total := src.Duration()
	if total < s.cfg.MinDuration {
		return nil, fmt.Errorf("source %q is %.2fs, below the %.0fs minimum", sourceName, total, s.cfg.MinDuration)
	}

	first, err := s.render(src, sourceName, 1, 0)
	if err != nil {
		return nil, err
	}
	segments := []Segment{first}

	if count >= 2 && total > secondSegmentFactor*s.cfg.TargetDuration {
		if seg, ok := s.renderRandom(src, sourceName, 2, total, segments); ok {
			segments = append(segments, seg)
		}
	}
	if count >= 3 && total > thirdSegmentFactor*s.cfg.TargetDuration {
		if seg, ok := s.renderRandom(src, sourceName, 3, total, segments); ok {
			segments = append(segments, seg)
		}
	}

	return segments, nil
}

// renderRandom rolls a start offset within the usable range until it is
// far enough from every prior segment, then renders it. Returns ok=false
// when no valid offset was found within the attempt budget or the encode
// failed; both mean the segment is skipped, not that the file failed.
func (s *Selector) renderRandom(src *audio.Buffer, sourceName string, index int, total float64, prior []Segment) (Segment, bool) {
	usable := total - s.cfg.TargetDuration
	if usable <= 0 {
		return Segment{}, false
	}
	minDist := minDistanceFactor * s.cfg.TargetDuration

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		offset := s.random() * usable
		if !farEnough(offset, prior, minDist) {
			continue
		}
		seg, err := s.render(src, sourceName, index, offset)
		if err != nil {
			return Segment{}, false
		}
		return seg, true
	}
	return Segment{}, false
}

func (s *Selector) render(src *audio.Buffer, sourceName string, index int, offset float64) (Segment, error) {
	buf, err := audio.Render(src, offset, s.cfg.TargetDuration, s.cfg.TargetRate, s.cfg.TargetChannels)
	if err != nil {
		return Segment{}, fmt.Errorf("failed to render segment %d of %q: %w", index, sourceName, err)
	}
	data, err := audio.EncodeWAV(buf)
	if err != nil {
		return Segment{}, fmt.Errorf("failed to encode segment %d of %q: %w", index, sourceName, err)
	}
	return Segment{
		Name:  segmentName(sourceName, index, offset),
		Index: index,
		Start: offset,
		Data:  data,
	}, nil
}

func (s *Selector) random() float64 {
	if s.rng != nil {
		return s.rng.Float64()
	}
	return rand.Float64()
}

func farEnough(offset float64, prior []Segment, minDist float64) bool {
	for _, p := range prior {
		if math.Abs(offset-p.Start) < minDist {
			return false
		}
	}
	return true
}

// segmentName builds a collision-resistant name: source base name, segment
// index, rounded start offset, and a short random suffix so that segments
// of identically named sources can be queued together.
func segmentName(sourceName string, index int, offset float64) string {
	base := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))
	if base == "" {
		base = "clip"
	}
	return fmt.Sprintf("%s.seg%d.t%ds.%s.wav", base, index, int(math.Round(offset)), uuid.NewString()[:8])
}
