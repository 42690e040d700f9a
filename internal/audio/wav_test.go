package audio

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80, 0xff, 0x7f}
	data, err := EncodeWAV(pcm, 22050, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
	}
	if len(data) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(data))
	}

	info, samples, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.SampleRate != 22050 || info.Channels != 1 || info.BitDepth != 16 {
		t.Fatalf("unexpected format: %+v", info)
	}
	want := []int{1, -1, -32768, 32767}
	if len(samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(samples))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("sample %d: want %d got %d", i, want[i], samples[i])
		}
	}
}

func TestEncodeWAVRejectsOddPCM(t *testing.T) {
	if _, err := EncodeWAV([]byte{1, 2, 3}, 22050, 1); err != ErrUnalignedPCM {
		t.Fatalf("expected ErrUnalignedPCM, got %v", err)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("definitely not audio")); err == nil {
		t.Fatal("expected error for invalid wav")
	}
}

func TestToneDuration(t *testing.T) {
	samples := Tone(24000, 250*time.Millisecond, 220, 0.2)
	if len(samples) != 6000 {
		t.Fatalf("expected 6000 samples, got %d", len(samples))
	}
	data, err := EncodeSamples(samples, 24000, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	info, _, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Duration != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", info.Duration)
	}
}

func TestAligner(t *testing.T) {
	var a Aligner
	var out []byte
	for _, piece := range [][]byte{{1, 2, 3}, {4}, {5, 6, 7}, {}} {
		got := a.Align(piece)
		if len(got)%2 != 0 {
			t.Fatalf("aligned piece has odd length %d", len(got))
		}
		out = append(out, got...)
	}
	if !bytes.Equal(out, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("unexpected aligned stream %v", out)
	}
	if !a.Pending() {
		t.Fatal("expected trailing byte to be pending")
	}
}
