// Package service exposes the narration pipeline on the message bus.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/document"
	"github.com/loqalabs/loqa-narrator/internal/eventstore"
	"github.com/loqalabs/loqa-narrator/internal/pipeline"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
	"github.com/loqalabs/loqa-narrator/internal/voice"
)

// QueueGroup spreads requests across narrator nodes.
const QueueGroup = "narrator-workers"

// ErrBusy is reported when every run slot is taken.
var ErrBusy = errors.New("node busy: all run slots in use")

// Starter launches pipeline runs.
type Starter interface {
	Start(ctx context.Context, req pipeline.Request) *pipeline.Run
}

type Service struct {
	cfg    config.ServiceConfig
	nodeID string
	bus    *bus.Client
	ctrl   Starter
	store  *eventstore.Store
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sema   chan struct{}
	active atomic.Int32
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]*pipeline.Run
}

func NewService(parent context.Context, cfg config.ServiceConfig, nodeID string, busClient *bus.Client, ctrl Starter, store *eventstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	slots := cfg.MaxConcurrency
	if slots < 1 {
		slots = 1
	}
	return &Service{
		cfg:    cfg,
		nodeID: nodeID,
		bus:    busClient,
		ctrl:   ctrl,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
		sema:   make(chan struct{}, slots),
		logger: log.With(slog.String("component", "run-service")),
		runs:   make(map[string]*pipeline.Run),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectRunRequest, QueueGroup, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe run requests: %w", err)
	}
	s.sub = sub
	s.logger.Info("accepting narration requests", slog.String("subject", protocol.SubjectRunRequest), slog.Int("slots", cap(s.sema)))
	return nil
}

// Close stops accepting requests and asks active runs to stop at their
// next unit boundary, waiting for them to finish.
func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.mu.Lock()
	for _, run := range s.runs {
		run.Cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.cancel()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

// ActiveRuns is the number of runs in progress on this node.
func (s *Service) ActiveRuns() int { return int(s.active.Load()) }

// Lookup returns the in-progress run with id.
func (s *Service) Lookup(id string) (*pipeline.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	return run, ok
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.RunRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode run request", slogError(err))
		s.reply(msg, protocol.RunRejected{Error: "malformed request"})
		return
	}
	if err := validate(req); err != nil {
		s.reply(msg, protocol.RunRejected{Error: pipeline.Describe(err)})
		return
	}

	select {
	case s.sema <- struct{}{}:
	default:
		s.reply(msg, protocol.RunRejected{Error: ErrBusy.Error()})
		return
	}

	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	recorder := eventstore.NewRecorder(s.store, eventstore.Run{
		ID:     req.RunID,
		NodeID: s.nodeID,
		Source: req.Path,
		Voice:  req.Voice,
	}, s.logger)
	recorder.Begin(s.ctx)

	run := s.ctrl.Start(s.ctx, pipeline.Request{RunID: req.RunID, Path: req.Path, Voice: req.Voice})
	cancelSub, err := s.bus.Conn().Subscribe(protocol.RunCancelSubject(req.RunID), func(*nats.Msg) {
		s.logger.Info("cancellation requested", slog.String("run_id", req.RunID))
		run.Cancel()
	})
	if err != nil {
		s.logger.Warn("failed to subscribe for cancellation", slog.String("run_id", req.RunID), slogError(err))
	}

	s.mu.Lock()
	s.runs[req.RunID] = run
	s.mu.Unlock()
	s.active.Add(1)
	s.wg.Add(1)
	go s.follow(run, recorder, cancelSub)

	s.reply(msg, protocol.RunAccepted{RunID: req.RunID, NodeID: s.nodeID})
}

// follow relays a run's events to the bus and the store until it ends.
func (s *Service) follow(run *pipeline.Run, recorder *eventstore.Recorder, cancelSub *nats.Subscription) {
	defer s.wg.Done()
	defer func() { <-s.sema }()
	defer s.active.Add(-1)
	defer func() {
		s.mu.Lock()
		delete(s.runs, run.ID)
		s.mu.Unlock()
	}()
	if cancelSub != nil {
		defer func() { _ = cancelSub.Unsubscribe() }()
	}

	// Recording uses a detached context so history survives shutdown.
	ctx := context.WithoutCancel(s.ctx)
	subject := protocol.RunEventSubject(run.ID)
	for ev := range run.Events() {
		recorder.Observe(ctx, ev)
		if err := s.bus.PublishJSON(subject, toRunEvent(ev)); err != nil {
			s.logger.Warn("failed to publish run event", slog.String("run_id", run.ID), slogError(err))
		}
	}
	res, err := run.Wait()
	recorder.Finish(ctx, res, err)
}

func (s *Service) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to marshal reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slogError(err))
	}
}

func validate(req protocol.RunRequest) error {
	if _, ok := voice.Lookup(req.Voice); !ok {
		return &pipeline.UnknownVoiceError{Voice: req.Voice}
	}
	_, err := document.Validate(req.Path)
	return err
}

func toRunEvent(ev pipeline.Event) protocol.RunEvent {
	out := protocol.RunEvent{
		RunID:      ev.RunID,
		Kind:       string(ev.Kind),
		Completed:  ev.Completed,
		Total:      ev.Total,
		Percent:    ev.Percent,
		Artifact:   ev.Artifact,
		DurationMS: ev.Duration.Milliseconds(),
		Message:    ev.Message,
		Timestamp:  ev.Time.UTC(),
	}
	if ev.Kind != pipeline.EventProgress {
		out.State = ev.State.String()
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
