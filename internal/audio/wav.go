package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// EncodeWAV converts a buffer into a 16-bit signed little-endian PCM WAV
// blob at the buffer's own sample rate and channel count. Samples are
// clamped to [-1, 1] before integer conversion. Channel planes of unequal
// length are written up to the shortest plane.
func EncodeWAV(buf *Buffer) ([]byte, error) {
	if len(buf.Channels) == 0 {
		return nil, ErrNoChannels
	}
	if buf.SampleRate <= 0 {
		return nil, errors.New("buffer sample rate must be positive")
	}

	channels := len(buf.Channels)
	frames := buf.Frames()

	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			data[i*channels+c] = sampleToInt16(buf.Channels[c][i])
		}
	}

	w := &memWriteSeeker{}
	enc := wav.NewEncoder(w, buf.SampleRate, wavBitDepth, channels, 1)
	ibuf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(ibuf); err != nil {
		return nil, fmt.Errorf("failed to write PCM data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV header: %w", err)
	}
	return w.buf, nil
}

// DecodeWAV parses a WAV blob back into a planar buffer.
func DecodeWAV(data []byte) (*Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}

	ibuf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}
	if ibuf.Format == nil || ibuf.Format.NumChannels == 0 {
		return nil, ErrNoChannels
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = wavBitDepth
	}
	scale := 1 / float64(int(1)<<(bitDepth-1))

	channels := ibuf.Format.NumChannels
	frames := len(ibuf.Data) / channels
	out := &Buffer{SampleRate: ibuf.Format.SampleRate, Channels: make([][]float64, channels)}
	for c := 0; c < channels; c++ {
		plane := make([]float64, frames)
		for i := 0; i < frames; i++ {
			plane[i] = float64(ibuf.Data[i*channels+c]) * scale
		}
		out.Channels[c] = plane
	}
	return out, nil
}

func sampleToInt16(s float64) int {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int(math.Round(s * 32767))
}

// memWriteSeeker is an in-memory io.WriteSeeker. The wav encoder seeks
// back to patch header sizes after writing the payload, so a plain
// bytes.Buffer is not enough.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if need := m.pos + len(p); need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = m.pos + int(offset)
	case io.SeekEnd:
		next = len(m.buf) + int(offset)
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	m.pos = next
	return int64(next), nil
}
