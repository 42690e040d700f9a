package tts

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrWorkerExited is returned once the worker process is gone.
var ErrWorkerExited = errors.New("tts worker exited")

// WorkerOptions describe how to start an inference worker process.
type WorkerOptions struct {
	Command     []string
	ModelID     string
	Device      string
	LoadTimeout time.Duration
	Env         []string
}

type workerMessage struct {
	ID         uint64 `json:"id"`
	Op         string `json:"op"`
	Model      string `json:"model,omitempty"`
	Device     string `json:"device,omitempty"`
	Text       string `json:"text,omitempty"`
	Language   string `json:"language,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
	SpeakerWAV string `json:"speaker_wav,omitempty"`
}

type workerReply struct {
	ID          uint64   `json:"id"`
	Op          string   `json:"op"`
	Speakers    []string `json:"speakers"`
	AudioBase64 string   `json:"audio_base64"`
	Error       string   `json:"error"`
}

// workerModel talks newline-delimited JSON to a long-lived worker process that
// holds the real model in memory.
type workerModel struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	replies  chan workerReply
	closing  chan struct{}
	stopOnce sync.Once
	stderrWG sync.WaitGroup
	done     chan struct{}
	waitErr  error
	speakers []string
	log      *slog.Logger

	mu     sync.Mutex
	nextID uint64
}

// StartWorker launches the worker and blocks until it reports the model loaded.
func StartWorker(ctx context.Context, opts WorkerOptions, log *slog.Logger) (Model, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("tts worker command empty")
	}
	logger := log.With(slog.String("component", "tts-worker"))

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Env = append(os.Environ(), opts.Env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tts worker: %w", err)
	}

	w := &workerModel{
		cmd:     cmd,
		stdin:   stdin,
		replies: make(chan workerReply),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		log:     logger,
	}
	w.stderrWG.Add(1)
	go w.forwardStderr(stderr)
	go w.readLoop(stdout)

	loadCtx := ctx
	if opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, opts.LoadTimeout)
		defer cancel()
	}
	reply, err := w.roundTrip(loadCtx, workerMessage{Op: "load", Model: opts.ModelID, Device: opts.Device})
	if err != nil {
		w.abort()
		return nil, fmt.Errorf("load worker model: %w", err)
	}
	if reply.Error != "" {
		w.abort()
		return nil, errors.New(reply.Error)
	}
	if reply.Op != "ready" {
		w.abort()
		return nil, fmt.Errorf("unexpected worker reply %q to load", reply.Op)
	}
	w.speakers = append([]string{}, reply.Speakers...)
	return w, nil
}

func (w *workerModel) Speakers() []string { return w.speakers }

func (w *workerModel) Synthesize(ctx context.Context, req ModelRequest) ([]byte, error) {
	reply, err := w.roundTrip(ctx, workerMessage{
		Op:         "synthesize",
		Text:       req.Text,
		Language:   req.Language,
		Speaker:    req.Speaker,
		SpeakerWAV: req.Reference,
	})
	if err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	audio, err := base64.StdEncoding.DecodeString(reply.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode worker audio: %w", err)
	}
	return audio, nil
}

// Close asks the worker to exit and kills it if it does not within five seconds.
func (w *workerModel) Close() error {
	w.stopOnce.Do(func() { close(w.closing) })
	w.mu.Lock()
	_ = w.send(workerMessage{Op: "shutdown"})
	_ = w.stdin.Close()
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		w.kill()
		<-w.done
	}
	var exitErr *exec.ExitError
	if w.waitErr != nil && !errors.As(w.waitErr, &exitErr) {
		return w.waitErr
	}
	return nil
}

func (w *workerModel) roundTrip(ctx context.Context, msg workerMessage) (workerReply, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	msg.ID = w.nextID
	if err := w.send(msg); err != nil {
		return workerReply{}, err
	}
	for {
		select {
		case reply := <-w.replies:
			if reply.ID != msg.ID {
				// Late answer to an abandoned request.
				continue
			}
			return reply, nil
		case <-w.done:
			if w.waitErr != nil {
				return workerReply{}, fmt.Errorf("%w: %v", ErrWorkerExited, w.waitErr)
			}
			return workerReply{}, ErrWorkerExited
		case <-ctx.Done():
			return workerReply{}, ctx.Err()
		}
	}
}

func (w *workerModel) send(msg workerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.stdin.Write(data); err != nil {
		return fmt.Errorf("write to tts worker: %w", err)
	}
	return nil
}

func (w *workerModel) readLoop(stdout io.Reader) {
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 1 {
			var reply workerReply
			if jsonErr := json.Unmarshal(line, &reply); jsonErr != nil || reply.ID == 0 {
				w.log.Debug("worker output", slog.String("line", string(trimNewline(line))))
			} else {
				select {
				case w.replies <- reply:
				case <-w.closing:
				}
			}
		}
		if err != nil {
			break
		}
	}
	w.stderrWG.Wait()
	w.waitErr = w.cmd.Wait()
	close(w.done)
}

func (w *workerModel) forwardStderr(stderr io.Reader) {
	defer w.stderrWG.Done()
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		w.log.Info("worker log", slog.String("line", scanner.Text()))
	}
}

func (w *workerModel) abort() {
	w.stopOnce.Do(func() { close(w.closing) })
	w.kill()
}

func (w *workerModel) kill() {
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

func trimNewline(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
