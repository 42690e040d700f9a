// Command synthesize reads text on stdin and writes raw PCM s16le mono audio
// to stdout as the voice model produces it.
//
//	echo "hello" | synthesize ./models/en_US-amy-medium.onnx | aplay -r 22050 -f S16_LE
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/piper"
)

const usage = "Usage: synthesize <model_path>"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		fmt.Fprintln(stderr, usage)
		return 1
	}
	modelPath := args[0]

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	data, err := io.ReadAll(stdin)
	if err != nil {
		logger.Error("failed to read text", slog.String("error", err.Error()))
		return 1
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0
	}

	cfg, err := config.Load(os.Getenv("LOQA_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		return 1
	}

	voice, err := piper.Load(cfg.Streaming, modelPath)
	if err != nil {
		logger.Error("failed to load voice", slog.String("model", modelPath), slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := bufio.NewWriter(stdout)
	if _, err := voice.Stream(ctx, text, out); err != nil {
		logger.Error("synthesis failed", slog.String("model", modelPath), slog.String("error", err.Error()))
		return 1
	}
	return 0
}
