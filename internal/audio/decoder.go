package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hajimehoshi/go-mp3"
)

// ErrDecoderClosed is returned when a decode is attempted after Close.
var ErrDecoderClosed = errors.New("audio decoder context is closed")

// ErrUnsupportedFormat indicates the payload is not a format we can decode.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decoder turns an encoded audio stream into planar PCM.
type Decoder interface {
	Decode(r io.Reader) (*Buffer, error)
}

// Context is the shared decode resource for one intake session. It is
// cheap to create but must be explicitly closed when its owning view goes
// away; decodes after Close fail rather than leaking work.
type Context struct {
	mu     sync.Mutex
	closed bool
}

// NewContext creates a decoder context.
func NewContext() *Context {
	return &Context{}
}

// Close releases the context. Safe to call more than once.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Decode sniffs the payload format and decodes it. The file name is used
// only as an extension fallback when the magic bytes are ambiguous.
func (c *Context) Decode(name string, data []byte) (*Buffer, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrDecoderClosed
	}
	c.mu.Unlock()

	dec := decoderFor(name, data)
	if dec == nil {
		return nil, ErrUnsupportedFormat
	}
	return dec.Decode(bytes.NewReader(data))
}

func decoderFor(name string, data []byte) Decoder {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("RIFF")):
		return WAVDecoder{}
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")):
		return MP3Decoder{}
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return MP3Decoder{}
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return WAVDecoder{}
	case ".mp3":
		return MP3Decoder{}
	}
	return nil
}

// MP3Decoder decodes MPEG audio via go-mp3, which always yields 16-bit
// stereo at the stream's native rate.
type MP3Decoder struct{}

func (MP3Decoder) Decode(r io.Reader) (*Buffer, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 stream: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3 stream: %w", err)
	}

	frames := len(pcm) / 4 // 2 channels × 2 bytes
	left := make([]float64, frames)
	right := make([]float64, frames)
	for i := 0; i < frames; i++ {
		left[i] = float64(int16(uint16(pcm[i*4])|uint16(pcm[i*4+1])<<8)) / 32768
		right[i] = float64(int16(uint16(pcm[i*4+2])|uint16(pcm[i*4+3])<<8)) / 32768
	}

	return &Buffer{
		SampleRate: dec.SampleRate(),
		Channels:   [][]float64{left, right},
	}, nil
}

// WAVDecoder decodes PCM WAV containers.
type WAVDecoder struct{}

func (WAVDecoder) Decode(r io.Reader) (*Buffer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV stream: %w", err)
	}
	return DecodeWAV(data)
}
