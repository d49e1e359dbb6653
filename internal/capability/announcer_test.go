package capability

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-asr/internal/bus"
	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/natsserver"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T) config.BusConfig {
	t.Helper()
	cfg := config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir(), ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	cfg.Servers = []string{srv.ClientURL()}
	return cfg
}

func connect(t *testing.T, cfg config.BusConfig) *bus.Client {
	t.Helper()
	client, err := bus.Connect(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestAnnouncerAdvertisesReadiness(t *testing.T) {
	busCfg := startBus(t)
	var ready atomic.Bool
	status := func() []Capability {
		return []Capability{{
			Name:       Transcribe,
			Attributes: map[string]string{"engine": "mock", "ready": strconv.FormatBool(ready.Load())},
		}}
	}

	nodeCfg := config.NodeConfig{ID: "asr-a", Role: "stt", HeartbeatInterval: 50, HeartbeatTimeout: 500}
	local, err := NewAnnouncer(context.Background(), nodeCfg, connect(t, busCfg), status, newLogger())
	if err != nil {
		t.Fatalf("new announcer: %v", err)
	}
	t.Cleanup(local.Close)
	if !local.Healthy() {
		t.Fatal("expected local node to be healthy after announcing")
	}

	peerCfg := config.NodeConfig{ID: "asr-b", Role: "stt", HeartbeatInterval: 50, HeartbeatTimeout: 500}
	peer, err := NewAnnouncer(context.Background(), peerCfg, connect(t, busCfg), nil, newLogger())
	if err != nil {
		t.Fatalf("new peer announcer: %v", err)
	}
	t.Cleanup(peer.Close)

	waitFor(t, "peer to learn about asr-a via heartbeat", func() bool {
		return len(peer.Query(func(n NodeInfo) bool { return n.ID == "asr-a" })) == 1
	})

	ready.Store(true)
	readyFilter := WithAttributeFilter(Transcribe, "ready", "true")
	waitFor(t, "re-announce after readiness change", func() bool {
		return len(peer.Query(readyFilter)) == 1
	})
	if got := local.Query(WithCapabilityFilter(Transcribe)); len(got) != 1 || got[0].ID != "asr-a" {
		t.Fatalf("unexpected local capability view %+v", got)
	}
}

func TestEvaluateHealthMarksStaleNodes(t *testing.T) {
	a := &Announcer{
		cfg:   config.NodeConfig{ID: "self", HeartbeatTimeout: 1000},
		nodes: make(map[string]*NodeInfo),
	}
	seen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a.updateNode("self", "stt", []Capability{{Name: Transcribe}}, seen)
	a.updateNode("peer", "stt", nil, seen)

	a.evaluateHealth(seen.Add(500 * time.Millisecond))
	if !a.Healthy() {
		t.Fatal("node within timeout should stay healthy")
	}
	a.evaluateHealth(seen.Add(2 * time.Second))
	if a.Healthy() {
		t.Fatal("node past timeout should be unhealthy")
	}
	nodes, caps := a.snapshotCounts()
	if nodes != 2 || caps != 1 {
		t.Fatalf("unexpected counts nodes=%d caps=%d", nodes, caps)
	}
}
