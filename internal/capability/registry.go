package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
)

// WorkerInfo is the registry's view of one narrator node.
type WorkerInfo struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Voices     []string  `json:"voices"`
	ModelMode  string    `json:"model_mode,omitempty"`
	Codec      string    `json:"codec,omitempty"`
	Container  string    `json:"container,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Capacity   int       `json:"capacity"`
	ActiveRuns int       `json:"active_runs"`
	LastSeen   time.Time `json:"last_seen"`
	Healthy    bool      `json:"healthy"`
}

// Advertisement is what the local node announces about itself.
type Advertisement struct {
	Voices     []string
	ModelMode  string
	Codec      string
	Container  string
	SampleRate int
	Capacity   int
}

type Registry struct {
	cfg       config.NodeConfig
	ad        Advertisement
	load      func() int
	log       *slog.Logger
	bus       *bus.Client
	mu        sync.RWMutex
	workers   map[string]*WorkerInfo
	heartbeat *time.Ticker
	cancel    context.CancelFunc
	subs      []*nats.Subscription
	meter     metric.Meter
}

// NewRegistry announces the local node, starts heartbeats and tracks
// peers. load reports the node's active run count and may be nil.
func NewRegistry(ctx context.Context, cfg config.NodeConfig, ad Advertisement, load func() int, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	if load == nil {
		load = func() int { return 0 }
	}
	r := &Registry{
		cfg:     cfg,
		ad:      ad,
		load:    load,
		log:     log.With(slog.String("component", "worker-registry")),
		bus:     busClient,
		workers: make(map[string]*WorkerInfo),
		meter:   otel.Meter("github.com/loqalabs/loqa-narrator/runtime"),
		cancel:  cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.heartbeat = time.NewTicker(time.Duration(cfg.HeartbeatInterval) * time.Millisecond)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}
	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth(time.Now())
		}
	}
}

func (r *Registry) announce() error {
	msg := protocol.WorkerAnnouncement{
		NodeID:     r.cfg.ID,
		Role:       r.cfg.Role,
		Voices:     r.ad.Voices,
		ModelMode:  r.ad.ModelMode,
		Codec:      r.ad.Codec,
		Container:  r.ad.Container,
		SampleRate: r.ad.SampleRate,
		Capacity:   r.ad.Capacity,
		Timestamp:  time.Now().UTC(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectNodeAnnounce, msg); err != nil {
		return err
	}
	r.applyAnnouncement(msg)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := protocol.WorkerHeartbeat{
		NodeID:     r.cfg.ID,
		ActiveRuns: r.load(),
		Timestamp:  time.Now().UTC(),
	}
	return r.bus.PublishJSON(protocol.HeartbeatSubject(r.cfg.ID), msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement protocol.WorkerAnnouncement
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	r.applyAnnouncement(announcement)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.WorkerHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.worker(hb.NodeID)
	w.ActiveRuns = hb.ActiveRuns
	w.LastSeen = hb.Timestamp
	w.Healthy = true
}

func (r *Registry) applyAnnouncement(a protocol.WorkerAnnouncement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.worker(a.NodeID)
	if a.Role != "" {
		w.Role = a.Role
	}
	if len(a.Voices) > 0 {
		w.Voices = append([]string(nil), a.Voices...)
	}
	w.ModelMode = a.ModelMode
	w.Codec = a.Codec
	w.Container = a.Container
	w.SampleRate = a.SampleRate
	w.Capacity = a.Capacity
	w.LastSeen = a.Timestamp
	w.Healthy = true
}

// worker returns the entry for id, creating it. Callers hold r.mu.
func (r *Registry) worker(id string) *WorkerInfo {
	w, ok := r.workers[id]
	if !ok {
		w = &WorkerInfo{ID: id}
		r.workers[id] = w
	}
	return w
}

func (r *Registry) evaluateHealth(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	for _, w := range r.workers {
		if now.Sub(w.LastSeen) > timeout {
			w.Healthy = false
		}
	}
}

func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[r.cfg.ID]
	return ok && w.Healthy
}

// Query returns matching workers sorted by id.
func (r *Registry) Query(filter func(WorkerInfo) bool) []WorkerInfo {
	r.mu.RLock()
	var results []WorkerInfo
	for _, w := range r.workers {
		snapshot := *w
		snapshot.Voices = append([]string(nil), w.Voices...)
		if filter == nil || filter(snapshot) {
			results = append(results, snapshot)
		}
	}
	r.mu.RUnlock()
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

func (r *Registry) initMetrics() error {
	workers, err := r.meter.Int64ObservableGauge("narrator.workers", metric.WithDescription("Known narrator workers by health"))
	if err != nil {
		return err
	}
	capacity, err := r.meter.Int64ObservableGauge("narrator.workers.capacity", metric.WithDescription("Concurrent runs the healthy workers accept"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		healthy, unhealthy, slots := r.snapshotCounts()
		obs.ObserveInt64(workers, healthy, metric.WithAttributes(attribute.Bool("healthy", true)))
		obs.ObserveInt64(workers, unhealthy, metric.WithAttributes(attribute.Bool("healthy", false)))
		obs.ObserveInt64(capacity, slots)
		return nil
	}, workers, capacity)
	return err
}

func (r *Registry) snapshotCounts() (healthy, unhealthy, slots int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.workers {
		if w.Healthy {
			healthy++
			slots += int64(w.Capacity)
		} else {
			unhealthy++
		}
	}
	return healthy, unhealthy, slots
}

// WithVoice matches workers offering voice.
func WithVoice(voice string) func(WorkerInfo) bool {
	return func(w WorkerInfo) bool {
		for _, v := range w.Voices {
			if v == voice {
				return true
			}
		}
		return false
	}
}

// HealthyOnly matches workers whose heartbeat is current.
func HealthyOnly(w WorkerInfo) bool { return w.Healthy }
