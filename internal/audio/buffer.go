// Package audio contains the PCM primitives the snippet pipeline is built
// on: a planar float buffer, a render operation (slice + mix + resample),
// a lossless WAV encoder, and decoders for the supported input formats.
package audio

import (
	"errors"
	"math"
)

// ErrNoChannels indicates a buffer with no channel data.
var ErrNoChannels = errors.New("audio buffer has no channels")

// Buffer is decoded PCM audio: one float64 plane per channel, samples
// conceptually in [-1, 1]. Values outside that range are clamped at encode
// time, not here.
type Buffer struct {
	SampleRate int
	Channels   [][]float64
}

// Frames returns the frame count of the shortest channel plane. Planes
// should all be the same length; the minimum is used so that a malformed
// buffer can never cause an out-of-bounds read downstream.
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	n := len(b.Channels[0])
	for _, ch := range b.Channels[1:] {
		if len(ch) < n {
			n = len(ch)
		}
	}
	return n
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Render extracts [start, start+duration) seconds from src and converts it
// to the target sample rate and channel count. start and duration are in
// seconds; the result is truncated when the source ends early. Pure
// transform, src is never modified.
func Render(src *Buffer, start, duration float64, targetRate, targetChannels int) (*Buffer, error) {
	if len(src.Channels) == 0 {
		return nil, ErrNoChannels
	}
	if targetRate <= 0 || targetChannels <= 0 {
		return nil, errors.New("target rate and channels must be positive")
	}

	srcFrames := src.Frames()
	from := int(start * float64(src.SampleRate))
	if from < 0 {
		from = 0
	}
	if from > srcFrames {
		from = srcFrames
	}
	to := from + int(duration*float64(src.SampleRate))
	if to > srcFrames {
		to = srcFrames
	}

	window := &Buffer{SampleRate: src.SampleRate, Channels: make([][]float64, len(src.Channels))}
	for i, ch := range src.Channels {
		hi := to
		if hi > len(ch) {
			hi = len(ch)
		}
		lo := from
		if lo > hi {
			lo = hi
		}
		window.Channels[i] = ch[lo:hi]
	}

	mixed := mixChannels(window, targetChannels)
	return resample(mixed, targetRate), nil
}

// mixChannels converts the buffer to the requested channel count. Downmix
// averages all source channels; upmix duplicates the first.
func mixChannels(src *Buffer, targetChannels int) *Buffer {
	if len(src.Channels) == targetChannels {
		return src
	}

	frames := src.Frames()
	out := &Buffer{SampleRate: src.SampleRate, Channels: make([][]float64, targetChannels)}

	if targetChannels == 1 {
		mono := make([]float64, frames)
		for _, ch := range src.Channels {
			for i := 0; i < frames; i++ {
				mono[i] += ch[i]
			}
		}
		scale := 1 / float64(len(src.Channels))
		for i := range mono {
			mono[i] *= scale
		}
		out.Channels[0] = mono
		return out
	}

	for c := 0; c < targetChannels; c++ {
		if c < len(src.Channels) {
			out.Channels[c] = src.Channels[c][:frames]
		} else {
			out.Channels[c] = src.Channels[0][:frames]
		}
	}
	return out
}

// resample converts the buffer to targetRate using linear interpolation.
// Output frame count is ceil(duration × targetRate) so that a requested
// clip duration survives the rate change to within one frame.
func resample(src *Buffer, targetRate int) *Buffer {
	if src.SampleRate == targetRate {
		return src
	}

	srcFrames := src.Frames()
	outFrames := int(math.Ceil(float64(srcFrames) * float64(targetRate) / float64(src.SampleRate)))
	ratio := float64(src.SampleRate) / float64(targetRate)

	out := &Buffer{SampleRate: targetRate, Channels: make([][]float64, len(src.Channels))}
	for c, ch := range src.Channels {
		plane := make([]float64, outFrames)
		for i := 0; i < outFrames; i++ {
			pos := float64(i) * ratio
			j := int(pos)
			if j >= srcFrames-1 {
				plane[i] = ch[srcFrames-1]
				continue
			}
			frac := pos - float64(j)
			plane[i] = ch[j]*(1-frac) + ch[j+1]*frac
		}
		out.Channels[c] = plane
	}
	return out
}
