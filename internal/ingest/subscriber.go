package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/triggerflow-core/internal/automation"
	"github.com/nerrad567/triggerflow-core/internal/infrastructure/mqtt"
)

const (
	defaultWorkers  = 4
	queuePerWorker  = 16
	subscriptionQoS = 1
)

// Outcome labels reported to the Observer.
const (
	OutcomeAccepted  = "accepted"
	OutcomeInvalid   = "invalid"
	OutcomeDropped   = "dropped"
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeFailed    = "failed"
)

// Broker is the subset of *mqtt.Client used for ingestion.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Processor runs one trigger through the engine. *automation.Orchestrator
// satisfies it.
type Processor interface {
	Process(ctx context.Context, userID string, payload automation.TriggerPayload) automation.ProcessingResult
}

// Observer receives ingest telemetry. *metrics.Recorder satisfies it.
type Observer interface {
	MessageReceived(outcome string)
	InFlight(delta int)
}

// Logger is the logging interface used by the subscriber.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopObserver struct{}

func (noopObserver) MessageReceived(string) {}
func (noopObserver) InFlight(int)           {}

// Options configures a Subscriber.
type Options struct {
	// Broker and Processor are required.
	Broker    Broker
	Processor Processor

	// Topics selects the prefix; the zero value uses mqtt.DefaultTopicPrefix.
	Topics mqtt.Topics

	// Workers bounds concurrent Process calls (default 4).
	Workers int

	// QueueSize bounds accepted-but-unprocessed messages
	// (default 16 per worker). Messages beyond it are dropped.
	QueueSize int

	Observer Observer
	Logger   Logger
}

type job struct {
	userID  string
	payload automation.TriggerPayload
}

// Subscriber consumes trigger messages and processes them on a worker pool.
//
// Thread Safety: All methods are safe for concurrent use.
type Subscriber struct {
	broker    Broker
	processor Processor
	topics    mqtt.Topics
	workers   int
	observer  Observer
	logger    Logger

	mu      sync.RWMutex
	queue   chan job
	started bool
	stopped bool

	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewSubscriber creates a subscriber. Call Start to begin consuming.
func NewSubscriber(opts Options) (*Subscriber, error) {
	if opts.Broker == nil {
		return nil, errors.New("ingest: broker is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("ingest: processor is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := opts.QueueSize
	if size <= 0 {
		size = workers * queuePerWorker
	}
	observer := opts.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Subscriber{
		broker:    opts.Broker,
		processor: opts.Processor,
		topics:    opts.Topics,
		workers:   workers,
		observer:  observer,
		logger:    logger,
		queue:     make(chan job, size),
	}, nil
}

// Start launches the workers and subscribes to every trigger topic.
// Processing runs under a context derived from ctx; cancelling it aborts
// in-flight rule runs.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return errors.New("ingest: subscriber already started")
	}
	s.started = true
	s.ctx, s.ctxCancel = context.WithCancel(ctx)
	s.mu.Unlock()

	for range s.workers {
		s.wg.Add(1)
		go s.work()
	}

	topic := s.topics.AllTriggers()
	if err := s.broker.Subscribe(topic, subscriptionQoS, s.handleMessage); err != nil {
		s.Stop()
		return err
	}
	s.logger.Info("trigger ingest started", "topic", topic, "workers", s.workers, "queue", cap(s.queue))
	return nil
}

// Stop unsubscribes and waits for accepted messages to finish processing.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		wasStarted := s.started
		s.stopped = true
		close(s.queue)
		s.mu.Unlock()

		if !wasStarted {
			return
		}
		if err := s.broker.Unsubscribe(s.topics.AllTriggers()); err != nil {
			s.logger.Warn("trigger unsubscribe failed", "error", err)
		}
		s.wg.Wait()
		s.ctxCancel()
		s.logger.Info("trigger ingest stopped")
	})
}

// handleMessage runs on the MQTT callback goroutine and never blocks.
func (s *Subscriber) handleMessage(topic string, body []byte) error {
	userID, payload, err := Decode(s.topics, topic, body)
	if err != nil {
		s.observer.MessageReceived(OutcomeInvalid)
		s.logger.Warn("discarding trigger message", "topic", topic, "error", err)
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		s.observer.MessageReceived(OutcomeDropped)
		return nil
	}
	select {
	case s.queue <- job{userID: userID, payload: payload}:
		s.observer.MessageReceived(OutcomeAccepted)
		s.observer.InFlight(1)
	default:
		s.observer.MessageReceived(OutcomeDropped)
		s.logger.Warn("ingest queue full, dropping trigger",
			"user_id", userID,
			"trigger", payload.TriggerSlug,
			"queue", cap(s.queue))
	}
	return nil
}

func (s *Subscriber) work() {
	defer s.wg.Done()
	for j := range s.queue {
		s.process(j)
	}
}

func (s *Subscriber) process(j job) {
	defer s.observer.InFlight(-1)
	defer func() {
		if r := recover(); r != nil {
			s.observer.MessageReceived(OutcomeFailed)
			s.logger.Error("trigger processing panicked", "user_id", j.userID, "trigger", j.payload.TriggerSlug, "panic", r)
		}
	}()

	res := s.processor.Process(s.ctx, j.userID, j.payload)
	switch {
	case res.Error != "":
		s.observer.MessageReceived(OutcomeFailed)
		s.logger.Warn("trigger processing failed",
			"user_id", j.userID,
			"trigger", j.payload.TriggerSlug,
			"rule_id", res.RuleID,
			"error", res.Error)
	case res.Matched:
		s.observer.MessageReceived(OutcomeMatched)
		s.logger.Debug("trigger processed", "user_id", j.userID, "trigger", j.payload.TriggerSlug, "rule_id", res.RuleID)
	default:
		s.observer.MessageReceived(OutcomeUnmatched)
	}
}
