package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/napsa-zm/erm-platform/internal/aml"
	"github.com/napsa-zm/erm-platform/internal/config"
	"github.com/napsa-zm/erm-platform/pkg/metrics"
)

// AlertSink persists alerts raised by the engine.
type AlertSink interface {
	SaveAlert(ctx context.Context, alert *aml.TransactionAlert) error
}

// Publisher pushes alerts to the message bus. Optional.
type Publisher interface {
	PublishAlert(ctx context.Context, alert *aml.TransactionAlert) error
}

// Broadcaster fans alerts out to connected websocket clients. Optional.
type Broadcaster interface {
	BroadcastAlert(alert *aml.TransactionAlert)
}

// AlertPruner removes resolved alerts past their retention window.
// Detected on the sink by assertion; satisfied by the AML store.
type AlertPruner interface {
	DeleteResolvedAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventPublisher mirrors processed events to the message bus. Detected on
// the Publisher by assertion.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *Event) error
}

// evictor lets the janitor drop window state for customers with no recent
// activity. Windows otherwise only shrink on that customer's next event.
type evictor interface {
	evictBefore(now time.Time)
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Processed   uint64            `json:"processed"`
	Dropped     uint64            `json:"dropped"`
	Alerts      uint64            `json:"alerts"`
	ByEventType map[string]uint64 `json:"by_event_type"`
	ByScenario  map[string]uint64 `json:"by_scenario"`
	QueueDepth  int               `json:"queue_depth"`
	QueueSize   int               `json:"queue_size"`
	Workers     int               `json:"workers"`
	StartedAt   time.Time         `json:"started_at"`
	LastEventAt *time.Time        `json:"last_event_at,omitempty"`
}

// Engine is the complex-event-processing core: a bounded queue drained by a
// fixed worker pool running every registered processor per event. Ingest
// never blocks; events arriving on a full queue are dropped and counted.
type Engine struct {
	queue      chan *Event
	processors []Processor
	sink       AlertSink
	publisher  Publisher
	eventPub   EventPublisher
	broadcast  Broadcaster
	pruner     AlertPruner
	logger     *zap.Logger
	workers    int

	cleanupEvery time.Duration
	resolvedTTL  time.Duration

	mu      sync.Mutex
	stats   Stats
	history []*Event
	histMax int

	wg      sync.WaitGroup
	closing sync.RWMutex
	stopped chan struct{}
	once    sync.Once
}

// NewEngine builds an engine with the standard processor set wired from
// config. Publisher and broadcaster may be nil.
func NewEngine(cfg config.StreamConfig, sink AlertSink, publisher Publisher, broadcast Broadcaster, logger *zap.Logger) *Engine {
	e := &Engine{
		queue:        make(chan *Event, cfg.QueueSize),
		sink:         sink,
		publisher:    publisher,
		broadcast:    broadcast,
		logger:       logger,
		workers:      cfg.Workers,
		histMax:      cfg.HistorySize,
		cleanupEvery: cfg.CleanupInterval,
		resolvedTTL:  cfg.ResolvedAlertTTL,
		stopped:      make(chan struct{}),
		stats: Stats{
			ByEventType: make(map[string]uint64),
			ByScenario:  make(map[string]uint64),
			QueueSize:   cfg.QueueSize,
			Workers:     cfg.Workers,
		},
	}
	if e.histMax <= 0 {
		e.histMax = 1000
	}
	if e.cleanupEvery <= 0 {
		e.cleanupEvery = 5 * time.Minute
	}
	if e.resolvedTTL <= 0 {
		e.resolvedTTL = time.Hour
	}
	e.pruner, _ = sink.(AlertPruner)
	e.eventPub, _ = publisher.(EventPublisher)
	e.processors = []Processor{
		NewVelocityProcessor(cfg.VelocityThreshold, cfg.VelocityWindow),
		NewLargeAmountProcessor(cfg.LargeAmountThreshold),
		NewStructuringProcessor(cfg.StructuringThreshold, cfg.StructuringWindow),
		NewRiskScoreProcessor(cfg.HighRiskScore),
	}
	return e
}

// Register adds a custom processor. Must be called before Start.
func (e *Engine) Register(p Processor) {
	e.processors = append(e.processors, p)
}

// Start launches the worker pool.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.stats.StartedAt = time.Now().UTC()
	e.mu.Unlock()

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.wg.Add(1)
	go e.janitor(ctx)
	e.logger.Info("stream engine started",
		zap.Int("workers", e.workers),
		zap.Int("queue_size", cap(e.queue)),
		zap.Int("processors", len(e.processors)))
}

// Stop closes ingest, drains the queue and waits for the workers.
func (e *Engine) Stop() {
	e.once.Do(func() {
		close(e.stopped)
		e.closing.Lock()
		close(e.queue)
		e.closing.Unlock()
	})
	e.wg.Wait()
	e.logger.Info("stream engine stopped")
}

// IngestEvent enqueues an event without blocking. Returns false when the
// queue is full or the engine is stopping; the event is dropped.
func (e *Engine) IngestEvent(event *Event) bool {
	e.closing.RLock()
	defer e.closing.RUnlock()
	select {
	case <-e.stopped:
		return false
	default:
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case e.queue <- event:
		metrics.StreamQueueDepth.Set(float64(len(e.queue)))
		return true
	default:
		e.mu.Lock()
		e.stats.Dropped++
		e.mu.Unlock()
		metrics.StreamEventsDropped.Inc()
		e.logger.Warn("event queue full, dropping event",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", string(event.Type)))
		return false
	}
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	for event := range e.queue {
		e.process(ctx, event)
		metrics.StreamQueueDepth.Set(float64(len(e.queue)))
	}
}

// janitor periodically evicts idle window state and prunes resolved alerts
// past their retention.
func (e *Engine) janitor(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Cleanup(ctx)
		case <-e.stopped:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Cleanup runs one maintenance sweep.
func (e *Engine) Cleanup(ctx context.Context) {
	now := time.Now().UTC()
	for _, p := range e.processors {
		if ev, ok := p.(evictor); ok {
			ev.evictBefore(now)
		}
	}
	if e.pruner == nil {
		return
	}
	n, err := e.pruner.DeleteResolvedAlertsBefore(ctx, now.Add(-e.resolvedTTL))
	if err != nil {
		e.logger.Warn("failed to prune resolved alerts", zap.Error(err))
		return
	}
	if n > 0 {
		e.logger.Info("pruned resolved alerts", zap.Int64("count", n))
	}
}

func (e *Engine) process(ctx context.Context, event *Event) {
	now := time.Now().UTC()

	e.mu.Lock()
	e.stats.Processed++
	e.stats.ByEventType[string(event.Type)]++
	e.stats.LastEventAt = &now
	e.history = append(e.history, event)
	if len(e.history) > e.histMax {
		e.history = e.history[len(e.history)-e.histMax:]
	}
	e.mu.Unlock()
	metrics.StreamEventsProcessed.WithLabelValues(string(event.Type)).Inc()

	if e.eventPub != nil {
		if err := e.eventPub.PublishEvent(ctx, event); err != nil {
			e.logger.Warn("failed to publish event",
				zap.String("event_id", event.ID.String()), zap.Error(err))
		}
	}

	for _, p := range e.processors {
		alert, err := p.Process(ctx, event)
		if err != nil {
			e.logger.Error("processor failed",
				zap.String("processor", p.Name()),
				zap.String("event_id", event.ID.String()),
				zap.Error(err))
			continue
		}
		if alert == nil {
			continue
		}
		e.emit(ctx, alert)
	}
}

func (e *Engine) emit(ctx context.Context, alert *aml.TransactionAlert) {
	if err := e.sink.SaveAlert(ctx, alert); err != nil {
		e.logger.Error("failed to persist alert",
			zap.String("scenario", alert.Scenario), zap.Error(err))
		return
	}

	e.mu.Lock()
	e.stats.Alerts++
	e.stats.ByScenario[alert.Scenario]++
	e.mu.Unlock()
	metrics.StreamAlertsGenerated.WithLabelValues(alert.Scenario, string(alert.Severity)).Inc()

	e.logger.Info("alert generated",
		zap.String("alert_id", alert.ID.String()),
		zap.String("scenario", alert.Scenario),
		zap.String("severity", string(alert.Severity)))

	if e.publisher != nil {
		if err := e.publisher.PublishAlert(ctx, alert); err != nil {
			e.logger.Warn("failed to publish alert", zap.Error(err))
		}
	}
	if e.broadcast != nil {
		e.broadcast.BroadcastAlert(alert)
	}
}

// Stats returns a copy of the current counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.stats
	out.QueueDepth = len(e.queue)
	out.ByEventType = make(map[string]uint64, len(e.stats.ByEventType))
	for k, v := range e.stats.ByEventType {
		out.ByEventType[k] = v
	}
	out.ByScenario = make(map[string]uint64, len(e.stats.ByScenario))
	for k, v := range e.stats.ByScenario {
		out.ByScenario[k] = v
	}
	return out
}

// RecentEvents returns up to limit most recent events, newest last.
func (e *Engine) RecentEvents(limit int) []*Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]*Event, limit)
	copy(out, e.history[len(e.history)-limit:])
	return out
}
