package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

// Chunk is one piece of generated audio. PCM always holds whole 16-bit samples.
type Chunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
}

// Synthesize starts inference for text. Chunks arrive in generation order; the
// chunk channel closes when the binary exits, and at most one error follows.
func (v *Voice) Synthesize(ctx context.Context, text string) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(chunks)

		args := append([]string{}, v.cmd[1:]...)
		args = append(args, "--model", v.modelPath, "--output-raw")
		cmd := exec.CommandContext(ctx, v.cmd[0], args...)
		cmd.Stdin = strings.NewReader(text)
		if v.env != nil {
			cmd.Env = v.env
		}
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- fmt.Errorf("start piper: %w", err)
			return
		}

		var aligner audio.Aligner
		buf := make([]byte, v.chunkBytes)
		sequence := 0
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 {
				if pcm := aligner.Align(buf[:n]); len(pcm) > 0 {
					chunk := Chunk{Sequence: sequence, SampleRate: v.sampleRate, Channels: Channels, PCM: pcm}
					select {
					case chunks <- chunk:
						sequence++
					case <-ctx.Done():
						_ = cmd.Wait()
						errs <- ctx.Err()
						return
					}
				}
			}
			if readErr != nil {
				if !errors.Is(readErr, io.EOF) {
					_ = cmd.Wait()
					errs <- fmt.Errorf("read piper output: %w", readErr)
					return
				}
				break
			}
		}

		if err := cmd.Wait(); err != nil {
			errs <- fmt.Errorf("piper failed: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
	}()
	return chunks, errs
}

type flusher interface {
	Flush() error
}

// Stream writes every chunk to w as it is produced, flushing w between
// chunks when it buffers. It returns the number of PCM bytes written.
func (v *Voice) Stream(ctx context.Context, text string, w io.Writer) (int64, error) {
	chunks, errs := v.Synthesize(ctx, text)
	var written int64
	for chunk := range chunks {
		n, err := w.Write(chunk.PCM)
		written += int64(n)
		if err == nil {
			if f, ok := w.(flusher); ok {
				err = f.Flush()
			}
		}
		if err != nil {
			drain(chunks)
			<-errs
			return written, fmt.Errorf("write audio: %w", err)
		}
	}
	if err := <-errs; err != nil {
		return written, err
	}
	return written, nil
}

// Collect gathers the whole utterance into one PCM buffer.
func (v *Voice) Collect(ctx context.Context, text string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := v.Stream(ctx, text, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drain(chunks <-chan Chunk) {
	for range chunks {
	}
}
