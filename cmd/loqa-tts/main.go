// Command loqa-tts is the caller side of the synthesis sidecar.
//
//	loqa-tts say -engine xtts -out hello.wav "Hello there"
//	loqa-tts health
//	loqa-tts speakers
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/busapi"
	"github.com/loqalabs/loqa-voice/internal/client"
	"github.com/loqalabs/loqa-voice/internal/config"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "expected 'say', 'health', 'speakers' or 'version'")
		return 2
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	switch args[0] {
	case "say":
		return runSay(ctx, args[1:], stdin, stdout, stderr, logger)
	case "health":
		return runHealth(ctx, args[1:], stdout, stderr)
	case "speakers":
		return runSpeakers(ctx, args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
		return 0
	}
	fmt.Fprintf(stderr, "unknown command %q\n", args[0])
	return 2
}

type commonFlags struct {
	configPath string
	sidecarURL string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", os.Getenv("LOQA_CONFIG"), "Path to configuration file")
	fs.StringVar(&c.sidecarURL, "url", "", "Sidecar base URL (overrides client.sidecar_url)")
}

func (c *commonFlags) load() (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return cfg, err
	}
	if c.sidecarURL != "" {
		cfg.Client.SidecarURL = c.sidecarURL
	}
	return cfg, nil
}

func runSay(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, logger *slog.Logger) int {
	var (
		common     commonFlags
		engineName string
		outPath    string
		natsURL    string
	)
	fs := flag.NewFlagSet("say", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common.register(fs)
	fs.StringVar(&engineName, "engine", "", "Engine: piper or xtts (defaults to client.default_engine)")
	fs.StringVar(&outPath, "out", "-", "Where to write the WAV file, - for stdout")
	fs.StringVar(&natsURL, "nats", "", "Reach the sidecar over NATS at this URL instead of HTTP")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		fmt.Fprintln(stderr, "nothing to say")
		return 2
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if engineName == "" {
		engineName = cfg.Client.DefaultEngine
	}
	engine := client.ParseEngine(engineName)

	var remote client.Remote = client.NewSidecar(cfg.Client)
	if natsURL != "" {
		busCfg := cfg.Bus
		busCfg.Servers = []string{natsURL}
		conn, err := bus.Connect(ctx, busCfg, "loqa-tts-cli", logger)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer conn.Close()
		remote = client.NewBusRemote(busapi.NewRequester(conn.Conn()), cfg.Client.Language)
	}

	var local client.Local
	if cfg.Client.PiperModelPath != "" {
		streaming, err := client.NewStreaming(cfg.Streaming, cfg.Client.PiperModelPath)
		if err != nil {
			logger.Warn("streaming voice unavailable", slog.String("error", err.Error()))
		} else {
			local = streaming
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Client.RequestTimeoutMS)*time.Millisecond)
	defer cancel()
	wav, used, err := client.NewManager(remote, local, logger).Speak(reqCtx, text, engine)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if outPath == "-" {
		if _, err := stdout.Write(wav); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	} else if err := os.WriteFile(outPath, wav, 0o644); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stderr, "%d bytes via %s\n", len(wav), used.DisplayName())
	return 0
}

func runHealth(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var common commonFlags
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := common.load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	health, err := client.NewSidecar(cfg.Client).Health(ctx)
	var statusErr *client.StatusError
	if err != nil && !errors.As(err, &statusErr) {
		fmt.Fprintln(stderr, err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(health)
	if health.Status != "ok" {
		return 1
	}
	return 0
}

func runSpeakers(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var common commonFlags
	fs := flag.NewFlagSet("speakers", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := common.load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	speakers, err := client.NewSidecar(cfg.Client).Speakers(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	for _, sp := range speakers {
		fmt.Fprintln(stdout, sp)
	}
	return 0
}
