package audio

import (
	"errors"
	"math"
	"testing"
)

// sine builds a test tone with the given length in seconds.
func sine(rate, channels int, seconds float64, freq float64) *Buffer {
	frames := int(seconds * float64(rate))
	buf := &Buffer{SampleRate: rate, Channels: make([][]float64, channels)}
	for c := 0; c < channels; c++ {
		plane := make([]float64, frames)
		for i := range plane {
			plane[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
		}
		buf.Channels[c] = plane
	}
	return buf
}

func TestFramesShortestPlane(t *testing.T) {
	buf := &Buffer{
		SampleRate: 44100,
		Channels:   [][]float64{make([]float64, 100), make([]float64, 90)},
	}
	if got := buf.Frames(); got != 90 {
		t.Errorf("Frames() = %d, want 90", got)
	}
}

func TestDuration(t *testing.T) {
	buf := sine(44100, 1, 2.0, 440)
	if got := buf.Duration(); math.Abs(got-2.0) > 0.001 {
		t.Errorf("Duration() = %f, want 2.0", got)
	}

	empty := &Buffer{}
	if got := empty.Duration(); got != 0 {
		t.Errorf("empty Duration() = %f, want 0", got)
	}
}

func TestRenderResampleAndDownmix(t *testing.T) {
	src := sine(44100, 2, 3.0, 440)

	out, err := Render(src, 0, 1.0, 16000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.SampleRate != 16000 {
		t.Errorf("rate = %d, want 16000", out.SampleRate)
	}
	if len(out.Channels) != 1 {
		t.Fatalf("channels = %d, want 1", len(out.Channels))
	}
	// ceil(44100 * 16000/44100) = 16000 frames for a one second cut
	if got := out.Frames(); got != 16000 {
		t.Errorf("frames = %d, want 16000", got)
	}
}

func TestRenderUpmix(t *testing.T) {
	src := sine(16000, 1, 1.0, 440)
	out, err := Render(src, 0, 1.0, 16000, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(out.Channels))
	}
	for i := range out.Channels[0] {
		if out.Channels[0][i] != out.Channels[1][i] {
			t.Fatalf("upmixed channels differ at frame %d", i)
		}
	}
}

func TestRenderTruncatesAtSourceEnd(t *testing.T) {
	src := sine(16000, 1, 2.0, 440)
	out, err := Render(src, 1.5, 1.0, 16000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.Duration(); math.Abs(got-0.5) > 0.01 {
		t.Errorf("duration = %f, want 0.5", got)
	}
}

func TestRenderPastEnd(t *testing.T) {
	src := sine(16000, 1, 1.0, 440)
	out, err := Render(src, 5, 1.0, 16000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.Frames(); got != 0 {
		t.Errorf("frames = %d, want 0", got)
	}
}

func TestRenderNoChannels(t *testing.T) {
	_, err := Render(&Buffer{SampleRate: 16000}, 0, 1, 16000, 1)
	if !errors.Is(err, ErrNoChannels) {
		t.Errorf("expected ErrNoChannels, got %v", err)
	}
}

func TestDownmixAverages(t *testing.T) {
	src := &Buffer{
		SampleRate: 16000,
		Channels: [][]float64{
			{0.5, 0.5, 0.5},
			{-0.5, -0.5, -0.5},
		},
	}
	out, err := Render(src, 0, 1, 16000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, s := range out.Channels[0] {
		if math.Abs(s) > 1e-9 {
			t.Fatalf("frame %d = %f, want 0 (average of +0.5 and -0.5)", i, s)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := sine(16000, 1, 0.5, 440)

	data, err := EncodeWAV(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("encode produced no bytes")
	}

	out, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SampleRate != src.SampleRate {
		t.Errorf("rate = %d, want %d", out.SampleRate, src.SampleRate)
	}
	if out.Frames() != src.Frames() {
		t.Fatalf("frames = %d, want %d", out.Frames(), src.Frames())
	}

	// 16-bit quantization error is at most one step
	const tol = 1.0 / 32767
	for i := range src.Channels[0] {
		diff := math.Abs(out.Channels[0][i] - src.Channels[0][i])
		if diff > 2*tol {
			t.Fatalf("frame %d: got %f, want %f (diff %g)", i, out.Channels[0][i], src.Channels[0][i], diff)
		}
	}
}

func TestEncodeClampsOutOfRange(t *testing.T) {
	src := &Buffer{
		SampleRate: 16000,
		Channels:   [][]float64{{2.0, -3.0, 0.0}},
	}
	data, err := EncodeWAV(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Channels[0][0] < 0.99 {
		t.Errorf("over-range sample = %f, want ~1.0", out.Channels[0][0])
	}
	if out.Channels[0][1] > -0.99 {
		t.Errorf("under-range sample = %f, want ~-1.0", out.Channels[0][1])
	}
}

func TestEncodeNoChannels(t *testing.T) {
	_, err := EncodeWAV(&Buffer{SampleRate: 16000})
	if !errors.Is(err, ErrNoChannels) {
		t.Errorf("expected ErrNoChannels, got %v", err)
	}
}

func TestEncodeUnequalPlanes(t *testing.T) {
	src := &Buffer{
		SampleRate: 16000,
		Channels:   [][]float64{make([]float64, 100), make([]float64, 80)},
	}
	data, err := EncodeWAV(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Frames() != 80 {
		t.Errorf("frames = %d, want 80 (shortest plane)", out.Frames())
	}
}
