// Package sound synthesises the new-call alert tone and plays it.
package sound

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

// ToneSpec describes a sine tone with a linear attack and release.
type ToneSpec struct {
	Frequency  float64
	Duration   time.Duration
	Ramp       time.Duration // attack and release length
	Volume     float64       // 0..1
	SampleRate int
}

// AlertTone is the short beep played for a new call.
var AlertTone = ToneSpec{
	Frequency:  800,
	Duration:   500 * time.Millisecond,
	Ramp:       100 * time.Millisecond,
	Volume:     0.3,
	SampleRate: 44100,
}

func (s ToneSpec) validate() error {
	if s.Frequency <= 0 || s.SampleRate <= 0 || s.Duration <= 0 {
		return fmt.Errorf("tone needs positive frequency, sample rate and duration")
	}
	if s.Volume < 0 || s.Volume > 1 {
		return fmt.Errorf("tone volume %.2f out of range 0..1", s.Volume)
	}
	if 2*s.Ramp > s.Duration {
		return fmt.Errorf("tone ramp %s too long for duration %s", s.Ramp, s.Duration)
	}
	return nil
}

// Samples returns the 16-bit PCM samples of the tone.
func (s ToneSpec) Samples() ([]int16, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	n := int(float64(s.SampleRate) * s.Duration.Seconds())
	ramp := int(float64(s.SampleRate) * s.Ramp.Seconds())
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		envelope := 1.0
		switch {
		case ramp > 0 && i < ramp:
			envelope = float64(i) / float64(ramp)
		case ramp > 0 && i >= n-ramp:
			envelope = float64(n-i) / float64(ramp)
		}
		v := math.Sin(2 * math.Pi * s.Frequency * float64(i) / float64(s.SampleRate))
		out[i] = int16(32767 * s.Volume * envelope * v)
	}
	return out, nil
}

// WriteWAV writes the tone as a mono 16-bit little-endian WAV file.
func (s ToneSpec) WriteWAV(w io.Writer) error {
	samples, err := s.Samples()
	if err != nil {
		return err
	}
	dataSize := uint32(len(samples) * 2)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))             // fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))              // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))              // mono
	binary.Write(&buf, binary.LittleEndian, uint32(s.SampleRate))   // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(s.SampleRate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))              // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))             // bits per sample
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	binary.Write(&buf, binary.LittleEndian, samples)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	return nil
}
