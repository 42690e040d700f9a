// Package piper drives the single-voice streaming synthesizer. A Voice is
// loaded once per invocation and produces raw PCM s16le mono audio in chunks
// as the inference binary generates them.
package piper

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/mattn/go-shellwords"
)

// Channels is fixed; piper voices are mono.
const Channels = 1

var ErrModelNotFound = errors.New("voice model not found")

// Voice is a loaded streaming voice model.
type Voice struct {
	cmd        []string
	modelPath  string
	sampleRate int
	chunkBytes int
	env        []string
}

type modelConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
}

// Load resolves the inference binary and the model at modelPath. The
// companion <model>.json, when present, supplies the sample rate.
func Load(cfg config.StreamingConfig, modelPath string) (*Voice, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: empty path", ErrModelNotFound)
	}
	info, err := os.Stat(modelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
		}
		return nil, fmt.Errorf("stat voice model: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("voice model %s is a directory", modelPath)
	}

	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.PiperBinary)
	if err != nil {
		return nil, fmt.Errorf("parse piper command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("piper command empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("piper binary: %w", err)
	}

	sampleRate := cfg.SampleRate
	if rate, err := readSampleRate(modelPath + ".json"); err != nil {
		return nil, err
	} else if rate > 0 {
		sampleRate = rate
	}

	chunkBytes := cfg.ChunkBytes
	if chunkBytes < 2 {
		chunkBytes = 4096
	}

	v := &Voice{
		cmd:        args,
		modelPath:  modelPath,
		sampleRate: sampleRate,
		chunkBytes: chunkBytes,
	}
	if cfg.LibPath != "" {
		v.env = append(os.Environ(), "LD_LIBRARY_PATH="+cfg.LibPath)
	}
	return v, nil
}

func readSampleRate(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read voice config: %w", err)
	}
	var mc modelConfig
	if err := json.Unmarshal(data, &mc); err != nil {
		return 0, fmt.Errorf("parse voice config %s: %w", path, err)
	}
	return mc.Audio.SampleRate, nil
}

// SampleRate reports the PCM rate of the voice's output.
func (v *Voice) SampleRate() int { return v.sampleRate }

// ModelPath returns the path the voice was loaded from.
func (v *Voice) ModelPath() string { return v.modelPath }
