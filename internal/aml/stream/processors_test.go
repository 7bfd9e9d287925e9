package stream

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napsa-zm/erm-platform/internal/aml"
)

func txnEvent(customerID uuid.UUID, amount float64, at time.Time) *Event {
	txnID := uuid.New()
	return &Event{
		ID:            uuid.New(),
		Type:          EventTransaction,
		Timestamp:     at,
		CustomerID:    customerID,
		TransactionID: &txnID,
		Amount:        decimal.NewFromFloat(amount),
	}
}

func TestVelocityProcessorFiresAboveThreshold(t *testing.T) {
	p := NewVelocityProcessor(3, 5*time.Minute)
	ctx := context.Background()
	customer := uuid.New()
	now := time.Now().UTC()

	var alert *aml.TransactionAlert
	var err error
	for i := 0; i < 4; i++ {
		alert, err = p.Process(ctx, txnEvent(customer, 100, now.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		if i < 3 {
			assert.Nil(t, alert, "no alert at count %d", i+1)
		}
	}
	// 4th transaction is strictly more than threshold 3
	require.NotNil(t, alert)
	assert.Equal(t, "velocity", alert.Scenario)
	assert.Equal(t, aml.SeverityHigh, alert.Severity)
	assert.Equal(t, customer, *alert.CustomerID)
}

func TestVelocityProcessorSlidesWindow(t *testing.T) {
	p := NewVelocityProcessor(2, time.Minute)
	ctx := context.Background()
	customer := uuid.New()
	base := time.Now().UTC()

	for i := 0; i < 2; i++ {
		_, err := p.Process(ctx, txnEvent(customer, 100, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	// outside the window the old entries expire, count resets
	alert, err := p.Process(ctx, txnEvent(customer, 100, base.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestVelocityProcessorIsolatesCustomers(t *testing.T) {
	p := NewVelocityProcessor(1, time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := p.Process(ctx, txnEvent(uuid.New(), 100, now))
	require.NoError(t, err)
	alert, err := p.Process(ctx, txnEvent(uuid.New(), 100, now))
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestLargeAmountProcessor(t *testing.T) {
	p := NewLargeAmountProcessor(50000)
	ctx := context.Background()
	customer := uuid.New()
	now := time.Now().UTC()

	alert, err := p.Process(ctx, txnEvent(customer, 50000, now))
	require.NoError(t, err)
	assert.Nil(t, alert, "exactly the threshold does not fire")

	alert, err = p.Process(ctx, txnEvent(customer, 50000.01, now))
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "large_amount", alert.Scenario)
	assert.Equal(t, aml.SeverityMedium, alert.Severity)
}

func TestStructuringProcessorDetectsPattern(t *testing.T) {
	p := NewStructuringProcessor(10000, 24*time.Hour)
	ctx := context.Background()
	customer := uuid.New()
	now := time.Now().UTC()

	// three deposits just under the threshold: total 27000 > 15000,
	// all three above 8000
	amounts := []float64{9000, 9500, 8500}
	var alert *aml.TransactionAlert
	var err error
	for i, amt := range amounts {
		alert, err = p.Process(ctx, txnEvent(customer, amt, now.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	require.NotNil(t, alert)
	assert.Equal(t, "structuring", alert.Scenario)
	assert.Equal(t, aml.SeverityHigh, alert.Severity)
}

func TestStructuringProcessorIgnoresAboveThreshold(t *testing.T) {
	p := NewStructuringProcessor(10000, 24*time.Hour)
	ctx := context.Background()
	customer := uuid.New()
	now := time.Now().UTC()

	// above-threshold transactions never count toward the pattern
	for i := 0; i < 5; i++ {
		alert, err := p.Process(ctx, txnEvent(customer, 20000, now.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		assert.Nil(t, alert)
	}
}

func TestStructuringProcessorRequiresNearThresholdMajority(t *testing.T) {
	p := NewStructuringProcessor(10000, 24*time.Hour)
	ctx := context.Background()
	customer := uuid.New()
	now := time.Now().UTC()

	// total 16500 > 15000 but only 1 of 4 is above 8000 (25% < 60%)
	var alert *aml.TransactionAlert
	var err error
	for i, amt := range []float64{9000, 2500, 2500, 2500} {
		alert, err = p.Process(ctx, txnEvent(customer, amt, now.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	assert.Nil(t, alert)
}

func TestRiskScoreProcessorSeverities(t *testing.T) {
	p := NewRiskScoreProcessor(0.7)
	ctx := context.Background()

	alert, err := p.Process(ctx, &Event{Type: EventRiskScore, RiskScore: 0.7})
	require.NoError(t, err)
	assert.Nil(t, alert, "exactly the threshold does not fire")

	alert, err = p.Process(ctx, &Event{Type: EventRiskScore, RiskScore: 0.8, EntityType: "transaction", EntityID: "t1"})
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, aml.SeverityMedium, alert.Severity)

	alert, err = p.Process(ctx, &Event{Type: EventRiskScore, RiskScore: 0.95, EntityType: "transaction", EntityID: "t2"})
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, aml.SeverityHigh, alert.Severity)
}

func TestProcessorsIgnoreForeignEventTypes(t *testing.T) {
	ctx := context.Background()
	event := &Event{Type: EventKYCUpdate, CustomerID: uuid.New()}

	for _, p := range []Processor{
		NewVelocityProcessor(1, time.Minute),
		NewLargeAmountProcessor(1),
		NewStructuringProcessor(10000, time.Hour),
	} {
		alert, err := p.Process(ctx, event)
		require.NoError(t, err)
		assert.Nil(t, alert, p.Name())
	}
}
