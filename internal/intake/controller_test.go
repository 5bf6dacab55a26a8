package intake

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"trackscan/internal/audio"
	"trackscan/internal/scan"
	"trackscan/internal/snippet"
)

func testController(t *testing.T) *Controller {
	t.Helper()
	ctrl := New(Config{
		Segments: 3,
		Selector: snippet.Config{
			TargetDuration: 2,
			MinDuration:    0.5,
			TargetRate:     8000,
			TargetChannels: 1,
			MaxAttempts:    10,
		},
	}, zerolog.Nop())
	t.Cleanup(func() { ctrl.Close() })
	return ctrl
}

// wavFile encodes a sine tone of the given length as a WAV input file.
func wavFile(t *testing.T, name string, seconds float64) File {
	t.Helper()
	frames := int(seconds * 8000)
	plane := make([]float64, frames)
	for i := range plane {
		plane[i] = 0.3 * math.Sin(2*math.Pi*440*float64(i)/8000)
	}
	data, err := audio.EncodeWAV(&audio.Buffer{SampleRate: 8000, Channels: [][]float64{plane}})
	if err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	return File{Name: name, Data: data}
}

func TestAddFilesAccepts(t *testing.T) {
	ctrl := testController(t)

	rejections := ctrl.AddFiles([]File{wavFile(t, "tone.wav", 1)})
	if len(rejections) != 0 {
		t.Fatalf("unexpected rejections: %v", rejections)
	}

	pending := ctrl.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1 (source too short for extra segments)", len(pending))
	}
	p := pending[0]
	if p.SourceName != "tone.wav" {
		t.Errorf("source = %q, want tone.wav", p.SourceName)
	}
	if p.SegmentIndex != 1 || p.StartOffset != 0 {
		t.Errorf("segment = (%d, %.1f), want (1, 0)", p.SegmentIndex, p.StartOffset)
	}
	if p.Size() == 0 {
		t.Error("snippet has no data")
	}
}

func TestAddFilesRejectsNonAudio(t *testing.T) {
	ctrl := testController(t)

	rejections := ctrl.AddFiles([]File{{Name: "notes.txt", Data: []byte("plain text")}})
	if len(rejections) != 1 {
		t.Fatalf("rejections = %d, want 1", len(rejections))
	}
	if rejections[0].Reason != "not an audio file" {
		t.Errorf("reason = %q", rejections[0].Reason)
	}
	if len(ctrl.Pending()) != 0 {
		t.Error("rejected file produced pending snippets")
	}
}

func TestAddFilesRejectsOversized(t *testing.T) {
	ctrl := New(Config{MaxFileBytes: 16, Segments: 1}, zerolog.Nop())
	defer ctrl.Close()

	f := wavFile(t, "big.wav", 1)
	rejections := ctrl.AddFiles([]File{f})
	if len(rejections) != 1 {
		t.Fatalf("rejections = %d, want 1", len(rejections))
	}
	if !strings.Contains(rejections[0].Reason, "size limit") {
		t.Errorf("reason = %q, want size limit mention", rejections[0].Reason)
	}
}

func TestAddFilesRejectsUndecodable(t *testing.T) {
	ctrl := testController(t)

	rejections := ctrl.AddFiles([]File{{Name: "broken.mp3", Data: []byte("garbage bytes here")}})
	if len(rejections) != 1 {
		t.Fatalf("rejections = %d, want 1", len(rejections))
	}
	if rejections[0].Reason != "failed to decode audio" {
		t.Errorf("reason = %q", rejections[0].Reason)
	}
}

func TestAddFilesMixedBatchKeepsGood(t *testing.T) {
	ctrl := testController(t)

	rejections := ctrl.AddFiles([]File{
		wavFile(t, "one.wav", 1),
		{Name: "bad.txt", Data: []byte("nope")},
		wavFile(t, "two.wav", 1),
	})
	if len(rejections) != 1 {
		t.Fatalf("rejections = %d, want 1", len(rejections))
	}

	pending := ctrl.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	// Concurrent processing must not reorder the accepted list.
	if pending[0].SourceName != "one.wav" || pending[1].SourceName != "two.wav" {
		t.Errorf("order = [%s, %s], want [one.wav, two.wav]", pending[0].SourceName, pending[1].SourceName)
	}
}

func TestAddFilesAfterClose(t *testing.T) {
	ctrl := testController(t)
	ctrl.Close()

	rejections := ctrl.AddFiles([]File{wavFile(t, "late.wav", 1)})
	if len(rejections) != 1 {
		t.Fatalf("rejections = %d, want 1", len(rejections))
	}
	if !errors.Is(rejections[0].Err, audio.ErrDecoderClosed) {
		t.Errorf("err = %v, want ErrDecoderClosed", rejections[0].Err)
	}
}

func TestClear(t *testing.T) {
	ctrl := testController(t)
	ctrl.AddFiles([]File{wavFile(t, "tone.wav", 1)})
	ctrl.Clear()
	if len(ctrl.Pending()) != 0 {
		t.Error("pending set survived Clear")
	}
}

func TestFilterScanned(t *testing.T) {
	pending := []PendingFile{
		{Name: "a.seg1.wav", SourceName: "a.mp3", SourceSize: 100},
		{Name: "b.seg1.wav", SourceName: "b.mp3", SourceSize: 200},
		{Name: "c.seg1.wav", SourceName: "c.mp3", SourceSize: 300},
	}
	history := []scan.LogEntry{
		{FileName: "a.mp3", FileSize: 100, Status: scan.LogMatchesFound},
		{FileName: "b.mp3", FileSize: 200, Status: scan.LogError}, // errored scans don't count
		{FileName: "c.mp3", FileSize: 999, Status: scan.LogNoMatchesFound},
	}

	kept, skipped := FilterScanned(pending, history)
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if len(kept) != 2 {
		t.Fatalf("kept = %d, want 2", len(kept))
	}
	if kept[0].SourceName != "b.mp3" || kept[1].SourceName != "c.mp3" {
		t.Errorf("kept = [%s, %s], want [b.mp3, c.mp3]", kept[0].SourceName, kept[1].SourceName)
	}
}

func TestIsAudioName(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{"song.mp3", "", true},
		{"song.FLAC", "", true},
		{"song.txt", "", false},
		{"song.bin", "RIFFxxxx", true},
		{"song.bin", "ID3x", true},
		{"song.bin", "zzzz", false},
	}
	for _, tt := range tests {
		if got := isAudioName(tt.name, []byte(tt.data)); got != tt.want {
			t.Errorf("isAudioName(%q, %q) = %v, want %v", tt.name, tt.data, got, tt.want)
		}
	}
}
