package audio

import (
	"math"
	"time"
)

// Aligner cuts a byte stream into 16-bit aligned pieces, holding back a
// trailing odd byte until the next write.
type Aligner struct {
	carry    byte
	hasCarry bool
}

// Align returns the aligned prefix of carry+p. The returned slice does not
// alias p.
func (a *Aligner) Align(p []byte) []byte {
	total := len(p)
	if a.hasCarry {
		total++
	}
	out := make([]byte, 0, total)
	if a.hasCarry {
		out = append(out, a.carry)
		a.hasCarry = false
	}
	out = append(out, p...)
	if len(out)%2 != 0 {
		a.carry = out[len(out)-1]
		a.hasCarry = true
		out = out[:len(out)-1]
	}
	return out
}

// Pending reports whether an unpaired byte is held back.
func (a *Aligner) Pending() bool { return a.hasCarry }

// Tone renders a sine wave with a short fade in and out.
func Tone(sampleRate int, d time.Duration, freq float64, amplitude float64) []int {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	if n <= 0 {
		return nil
	}
	if amplitude <= 0 || amplitude > 1 {
		amplitude = 0.3
	}
	fade := sampleRate / 100
	samples := make([]int, n)
	for i := range samples {
		gain := amplitude
		if fade > 0 {
			if i < fade {
				gain *= float64(i) / float64(fade)
			} else if n-i < fade {
				gain *= float64(n-i) / float64(fade)
			}
		}
		v := math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
		samples[i] = int(v * gain * math.MaxInt16)
	}
	return samples
}
