package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/loqalabs/loqa-asr/internal/bus"
	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Transcribe is the capability name advertised by speech-to-text nodes.
const Transcribe = "stt.transcribe"

type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type NodeInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

type announceMessage struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusFunc reports the capabilities this node currently offers.
type StatusFunc func() []Capability

// Announcer advertises the local node on the bus and tracks its peers.
// The local capability set is re-announced whenever it changes, e.g. when the
// engine finishes initializing.
type Announcer struct {
	cfg       config.NodeConfig
	log       *slog.Logger
	bus       *bus.Client
	status    StatusFunc
	mu        sync.RWMutex
	nodes     map[string]*NodeInfo
	announced []Capability
	heartbeat *time.Ticker
	cancel    context.CancelFunc
	subs      []*nats.Subscription
	wg        sync.WaitGroup
	meter     metric.Meter
}

func NewAnnouncer(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, status StatusFunc, log *slog.Logger) (*Announcer, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(ctx)
	a := &Announcer{
		cfg:    cfg,
		log:    log.With(slog.String("component", "capability-announcer")),
		bus:    busClient,
		status: status,
		nodes:  make(map[string]*NodeInfo),
		meter:  otel.Meter("github.com/loqalabs/loqa-asr/capability"),
		cancel: cancel,
	}

	if err := a.initMetrics(); err != nil {
		a.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := a.subscribe(); err != nil {
		a.cancel()
		return nil, err
	}

	if err := a.announce(); err != nil {
		a.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	a.heartbeat = time.NewTicker(time.Duration(cfg.HeartbeatInterval) * time.Millisecond)
	a.wg.Add(2)
	go a.runHeartbeat(ctx)
	go a.monitorHealth(ctx)

	return a, nil
}

func (a *Announcer) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.heartbeat != nil {
		a.heartbeat.Stop()
	}
	for _, sub := range a.subs {
		_ = sub.Drain()
	}
	a.wg.Wait()
}

func (a *Announcer) subscribe() error {
	conn := a.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, a.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	a.subs = append(a.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeatPrefix+".*", a.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	a.subs = append(a.subs, heartbeatSub)

	return nil
}

func (a *Announcer) runHeartbeat(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.heartbeat.C:
			if a.capabilitiesChanged() {
				if err := a.announce(); err != nil {
					a.log.Warn("failed to re-announce node", slog.String("error", err.Error()))
				}
			}
			if err := a.publishHeartbeat(); err != nil {
				a.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Announcer) monitorHealth(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.evaluateHealth(time.Now())
		}
	}
}

func (a *Announcer) currentCapabilities() []Capability {
	if a.status == nil {
		return nil
	}
	return a.status()
}

func (a *Announcer) capabilitiesChanged() bool {
	current := a.currentCapabilities()
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !slices.EqualFunc(current, a.announced, func(x, y Capability) bool {
		return x.Name == y.Name && x.Tier == y.Tier && maps.Equal(x.Attributes, y.Attributes)
	})
}

func (a *Announcer) announce() error {
	msg := announceMessage{
		NodeID:       a.cfg.ID,
		Role:         a.cfg.Role,
		Capabilities: a.currentCapabilities(),
		Timestamp:    time.Now().UTC(),
	}
	if err := a.bus.PublishJSON(protocol.SubjectNodeAnnounce, msg); err != nil {
		return err
	}
	a.mu.Lock()
	a.announced = msg.Capabilities
	a.mu.Unlock()
	a.updateNode(msg.NodeID, msg.Role, msg.Capabilities, msg.Timestamp)
	return nil
}

func (a *Announcer) publishHeartbeat() error {
	msg := heartbeatMessage{
		NodeID:    a.cfg.ID,
		Timestamp: time.Now().UTC(),
	}
	return a.bus.PublishJSON(protocol.SubjectNodeHeartbeatPrefix+"."+a.cfg.ID, msg)
}

func (a *Announcer) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		a.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	a.updateNode(announcement.NodeID, announcement.Role, announcement.Capabilities, announcement.Timestamp)
}

func (a *Announcer) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		a.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	a.updateNode(hb.NodeID, "", nil, hb.Timestamp)
}

func (a *Announcer) updateNode(nodeID, role string, capabilities []Capability, timestamp time.Time) {
	if nodeID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	node, ok := a.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		a.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	if capabilities != nil {
		node.Capabilities = capabilities
	}
	node.LastSeen = timestamp
	node.Healthy = true
}

func (a *Announcer) evaluateHealth(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	timeout := time.Duration(a.cfg.HeartbeatTimeout) * time.Millisecond
	for _, node := range a.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

func (a *Announcer) Healthy() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	node, ok := a.nodes[a.cfg.ID]
	if !ok {
		return false
	}
	return node.Healthy
}

func (a *Announcer) Query(filter func(NodeInfo) bool) []NodeInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var results []NodeInfo
	for _, node := range a.nodes {
		info := *node
		if filter == nil || filter(info) {
			results = append(results, info)
		}
	}
	return results
}

func (a *Announcer) initMetrics() error {
	if a.meter == nil {
		return nil
	}
	nodeGauge, err := a.meter.Int64ObservableGauge("loqa.capabilities.nodes", metric.WithDescription("Number of known nodes"))
	if err != nil {
		return err
	}
	capGauge, err := a.meter.Int64ObservableGauge("loqa.capabilities.total", metric.WithDescription("Total advertised capabilities"))
	if err != nil {
		return err
	}
	_, err = a.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		nodes, caps := a.snapshotCounts()
		obs.ObserveInt64(nodeGauge, nodes)
		obs.ObserveInt64(capGauge, caps)
		return nil
	}, nodeGauge, capGauge)
	return err
}

func (a *Announcer) snapshotCounts() (int64, int64) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var nodes int64
	var caps int64
	for _, node := range a.nodes {
		nodes++
		caps += int64(len(node.Capabilities))
	}
	return nodes, caps
}

func WithCapabilityFilter(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name == name {
				return true
			}
		}
		return false
	}
}

// WithAttributeFilter matches nodes advertising a capability attribute, e.g.
// ready=true on stt.transcribe.
func WithAttributeFilter(name, key, value string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name == name && c.Attributes[key] == value {
				return true
			}
		}
		return false
	}
}
