package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Capabilities advertised by a synthesis node.
var Capabilities = []string{
	protocol.SubjectSynthesize,
	protocol.SubjectSpeakers,
	protocol.SubjectHealth,
}

// Source reports the state published in announcements and heartbeats.
type Source interface {
	Health() tts.Health
	ListSpeakers() []string
}

// Announcer publishes this node and its readiness on the bus.
type Announcer struct {
	cfg    config.NodeConfig
	src    Source
	bus    *bus.Client
	log    *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	lastReady bool
}

// NewAnnouncer announces the node and starts the heartbeat loop. The node
// re-announces whenever readiness flips so late subscribers learn it.
func NewAnnouncer(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, src Source, log *slog.Logger) (*Announcer, error) {
	if cfg.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("heartbeat interval must be positive")
	}
	ctx, cancel := context.WithCancel(ctx)
	a := &Announcer{
		cfg:    cfg,
		src:    src,
		bus:    busClient,
		log:    log.With(slog.String("component", "capability-announcer")),
		cancel: cancel,
	}

	if err := a.initMetrics(); err != nil {
		a.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := a.announce(); err != nil {
		a.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	a.wg.Add(1)
	go a.runHeartbeat(ctx)
	return a, nil
}

// Close stops the heartbeat loop.
func (a *Announcer) Close() {
	if a == nil {
		return
	}
	a.cancel()
	a.wg.Wait()
}

func (a *Announcer) runHeartbeat(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(time.Duration(a.cfg.HeartbeatInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.publishHeartbeat(); err != nil {
				a.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Announcer) announce() error {
	h := a.src.Health()
	msg := protocol.NodeAnnouncement{
		NodeID:       a.cfg.ID,
		Role:         a.cfg.Role,
		Capabilities: Capabilities,
		Model:        h.Model,
		Ready:        h.Ready,
		Timestamp:    time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.lastReady = h.Ready
	a.mu.Unlock()
	return a.bus.Conn().Publish(protocol.SubjectNodeAnnounce, payload)
}

func (a *Announcer) publishHeartbeat() error {
	h := a.src.Health()

	a.mu.Lock()
	flipped := h.Ready != a.lastReady
	a.mu.Unlock()
	if flipped {
		if err := a.announce(); err != nil {
			return err
		}
	}

	msg := protocol.NodeHeartbeat{
		NodeID:    a.cfg.ID,
		State:     h.Status,
		Ready:     h.Ready,
		Model:     h.Model,
		Speaker:   h.Speaker,
		Speakers:  len(a.src.ListSpeakers()),
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return a.bus.Conn().Publish(protocol.HeartbeatSubject(a.cfg.ID), payload)
}

func (a *Announcer) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-voice/capability")
	gauge, err := meter.Int64ObservableGauge("loqa.tts.ready", metric.WithDescription("1 when the model is loaded and serving"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		var v int64
		if a.src.Health().Ready {
			v = 1
		}
		obs.ObserveInt64(gauge, v)
		return nil
	}, gauge)
	return err
}
