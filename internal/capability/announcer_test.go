package capability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/nats-io/nats.go"
)

type fakeSource struct {
	ready atomic.Bool
}

func (f *fakeSource) Health() tts.Health {
	if f.ready.Load() {
		return tts.Health{Status: "ok", Model: "xtts-v2", Speaker: "Claribel Dervla", Ready: true}
	}
	return tts.Health{Status: "loading", Model: "xtts-v2", Speaker: "Claribel Dervla"}
}

func (f *fakeSource) ListSpeakers() []string {
	if f.ready.Load() {
		return []string{"Claribel Dervla", "Gracie Wise"}
	}
	return []string{}
}

func connect(t *testing.T) *bus.Client {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Bus
	cfg.Embedded = true
	cfg.Port = -1
	cfg.StoreDir = ""
	srv, err := natsserver.Start(cfg, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	cfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, "announcer-test", log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestAnnouncerPublishesPresence(t *testing.T) {
	client := connect(t)
	announces := make(chan *nats.Msg, 8)
	heartbeats := make(chan *nats.Msg, 64)
	if _, err := client.Conn().ChanSubscribe(protocol.SubjectNodeAnnounce, announces); err != nil {
		t.Fatalf("subscribe announce: %v", err)
	}
	if _, err := client.Conn().ChanSubscribe(protocol.HeartbeatSubject("tts-test"), heartbeats); err != nil {
		t.Fatalf("subscribe heartbeat: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	src := &fakeSource{}
	cfg := config.NodeConfig{ID: "tts-test", Role: "tts", HeartbeatInterval: 20}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := NewAnnouncer(context.Background(), cfg, client, src, log)
	if err != nil {
		t.Fatalf("new announcer: %v", err)
	}
	defer a.Close()

	first := receiveAnnouncement(t, announces)
	if first.NodeID != "tts-test" || first.Ready || len(first.Capabilities) != 3 {
		t.Fatalf("unexpected announcement %+v", first)
	}

	var hb protocol.NodeHeartbeat
	select {
	case msg := <-heartbeats:
		if err := json.Unmarshal(msg.Data, &hb); err != nil {
			t.Fatalf("decode heartbeat: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
	if hb.State != "loading" || hb.Ready {
		t.Fatalf("unexpected heartbeat %+v", hb)
	}

	src.ready.Store(true)
	again := receiveAnnouncement(t, announces)
	if !again.Ready {
		t.Fatalf("expected ready re-announcement, got %+v", again)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-heartbeats:
			if err := json.Unmarshal(msg.Data, &hb); err != nil {
				t.Fatalf("decode heartbeat: %v", err)
			}
			if hb.Ready {
				if hb.State != "ok" || hb.Speakers != 2 {
					t.Fatalf("unexpected ready heartbeat %+v", hb)
				}
				return
			}
		case <-deadline:
			t.Fatal("no ready heartbeat received")
		}
	}
}

func receiveAnnouncement(t *testing.T, ch chan *nats.Msg) protocol.NodeAnnouncement {
	t.Helper()
	select {
	case msg := <-ch:
		var ann protocol.NodeAnnouncement
		if err := json.Unmarshal(msg.Data, &ann); err != nil {
			t.Fatalf("decode announcement: %v", err)
		}
		return ann
	case <-time.After(2 * time.Second):
		t.Fatal("no announcement received")
	}
	return protocol.NodeAnnouncement{}
}

func TestAnnouncerRejectsZeroInterval(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewAnnouncer(context.Background(), config.NodeConfig{ID: "x"}, nil, &fakeSource{}, log); err == nil {
		t.Fatal("expected error for zero heartbeat interval")
	}
}
