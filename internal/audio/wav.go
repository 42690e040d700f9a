package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// BitDepth is the only sample width produced by the synthesizers.
const BitDepth = 16

const wavPCMFormat = 1

var ErrUnalignedPCM = errors.New("pcm payload not aligned to 16-bit samples")

// Info describes a decoded WAV file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Samples    int
	Duration   time.Duration
}

// EncodeWAV wraps raw PCM s16le bytes in a WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrUnalignedPCM
	}
	return EncodeSamples(PCMToSamples(pcm), sampleRate, channels)
}

// EncodeSamples writes 16-bit samples as a WAV file.
func EncodeSamples(samples []int, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid wav format: rate=%d channels=%d", sampleRate, channels)
	}
	out := &memWriteSeeker{}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: BitDepth,
	}
	enc := wav.NewEncoder(out, sampleRate, BitDepth, channels, wavPCMFormat)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.Bytes(), nil
}

// DecodeWAV validates a WAV file and returns its format and samples.
func DecodeWAV(data []byte) (Info, []int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Info{}, nil, errors.New("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Info{}, nil, fmt.Errorf("read wav samples: %w", err)
	}
	info := Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Samples:    len(buf.Data),
	}
	if info.SampleRate > 0 && info.Channels > 0 {
		frames := info.Samples / info.Channels
		info.Duration = time.Duration(frames) * time.Second / time.Duration(info.SampleRate)
	}
	return info, buf.Data, nil
}

// PCMToSamples converts s16le bytes to integer samples. A trailing odd byte is ignored.
func PCMToSamples(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}

// memWriteSeeker is the in-memory io.WriteSeeker the wav encoder needs to
// patch header sizes after the data chunk is written.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	m.pos = int(next)
	return next, nil
}

func (m *memWriteSeeker) Bytes() []byte { return m.buf }
