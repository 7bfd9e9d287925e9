package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/napsa-zm/erm-platform/internal/aml"
	"github.com/napsa-zm/erm-platform/internal/config"
)

type memorySink struct {
	mu     sync.Mutex
	alerts []*aml.TransactionAlert
}

func (s *memorySink) SaveAlert(_ context.Context, alert *aml.TransactionAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		QueueSize:            100,
		Workers:              2,
		HistorySize:          50,
		VelocityThreshold:    15,
		VelocityWindow:       5 * time.Minute,
		LargeAmountThreshold: 50000,
		StructuringThreshold: 10000,
		StructuringWindow:    24 * time.Hour,
		HighRiskScore:        0.7,
	}
}

func TestEngineProcessesAndPersistsAlerts(t *testing.T) {
	sink := &memorySink{}
	engine := NewEngine(testStreamConfig(), sink, nil, nil, zap.NewNop())
	engine.Start(context.Background())

	txnID := uuid.New()
	customer := uuid.New()
	ok := engine.IngestEvent(&Event{
		Type:          EventTransaction,
		CustomerID:    customer,
		TransactionID: &txnID,
		Amount:        decimal.NewFromInt(75000),
	})
	require.True(t, ok)

	engine.Stop()

	require.Equal(t, 1, sink.count())
	assert.Equal(t, "large_amount", sink.alerts[0].Scenario)

	stats := engine.Stats()
	assert.EqualValues(t, 1, stats.Processed)
	assert.EqualValues(t, 1, stats.Alerts)
	assert.EqualValues(t, 1, stats.ByScenario["large_amount"])
}

func TestEngineDropsWhenQueueFull(t *testing.T) {
	cfg := testStreamConfig()
	cfg.QueueSize = 2
	cfg.Workers = 1
	sink := &memorySink{}
	engine := NewEngine(cfg, sink, nil, nil, zap.NewNop())
	// engine deliberately not started: the queue fills and stays full

	accepted, dropped := 0, 0
	for i := 0; i < 5; i++ {
		if engine.IngestEvent(&Event{Type: EventTransaction, CustomerID: uuid.New(), Amount: decimal.NewFromInt(10)}) {
			accepted++
		} else {
			dropped++
		}
	}
	assert.Equal(t, 2, accepted)
	assert.Equal(t, 3, dropped)
	assert.EqualValues(t, 3, engine.Stats().Dropped)

	engine.Start(context.Background())
	engine.Stop()
	assert.EqualValues(t, 2, engine.Stats().Processed)
}

func TestEngineRejectsIngestAfterStop(t *testing.T) {
	engine := NewEngine(testStreamConfig(), &memorySink{}, nil, nil, zap.NewNop())
	engine.Start(context.Background())
	engine.Stop()

	ok := engine.IngestEvent(&Event{Type: EventTransaction, CustomerID: uuid.New()})
	assert.False(t, ok)
}

func TestEngineRecentEvents(t *testing.T) {
	cfg := testStreamConfig()
	cfg.HistorySize = 3
	engine := NewEngine(cfg, &memorySink{}, nil, nil, zap.NewNop())
	engine.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.True(t, engine.IngestEvent(&Event{Type: EventKYCUpdate, CustomerID: uuid.New()}))
	}
	engine.Stop()

	events := engine.RecentEvents(0)
	assert.Len(t, events, 3, "history trimmed to configured size")

	one := engine.RecentEvents(1)
	assert.Len(t, one, 1)
}

type pruningSink struct {
	memorySink
	cutoffs []time.Time
}

func (s *pruningSink) DeleteResolvedAlertsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return 0, nil
}

func TestCleanupEvictsIdleWindowsAndPrunesAlerts(t *testing.T) {
	sink := &pruningSink{}
	engine := NewEngine(testStreamConfig(), sink, nil, nil, zap.NewNop())
	engine.Start(context.Background())

	require.True(t, engine.IngestEvent(&Event{
		Type:       EventTransaction,
		CustomerID: uuid.New(),
		Amount:     decimal.NewFromInt(10),
		Timestamp:  time.Now().UTC().Add(-25 * time.Hour),
	}))
	engine.Stop()

	velocity := engine.processors[0].(*VelocityProcessor)
	structuring := engine.processors[2].(*StructuringProcessor)
	assert.Len(t, velocity.windows, 1)
	assert.Len(t, structuring.windows, 1)

	engine.Cleanup(context.Background())
	assert.Empty(t, velocity.windows, "idle customer evicted")
	assert.Empty(t, structuring.windows, "idle customer evicted")

	// resolved alerts older than the retention window are pruned
	require.Len(t, sink.cutoffs, 1)
	assert.WithinDuration(t, time.Now().UTC().Add(-time.Hour), sink.cutoffs[0], time.Minute)
}

func TestEngineConcurrentIngest(t *testing.T) {
	sink := &memorySink{}
	engine := NewEngine(testStreamConfig(), sink, nil, nil, zap.NewNop())
	engine.Start(context.Background())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				engine.IngestEvent(&Event{
					Type:       EventTransaction,
					CustomerID: uuid.New(),
					Amount:     decimal.NewFromInt(100),
				})
			}
		}()
	}
	wg.Wait()
	engine.Stop()

	stats := engine.Stats()
	assert.EqualValues(t, 80, stats.Processed+stats.Dropped)
	assert.Equal(t, 0, sink.count(), "small distinct-customer txns raise no alerts")
}
