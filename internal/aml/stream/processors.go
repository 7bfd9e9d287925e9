package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/napsa-zm/erm-platform/internal/aml"
)

// Processor evaluates one event and may raise an alert. Implementations own
// their sliding-window state and must be safe for concurrent use.
type Processor interface {
	Name() string
	Process(ctx context.Context, event *Event) (*aml.TransactionAlert, error)
}

// VelocityProcessor alerts when a customer exceeds a transaction count
// inside a sliding window.
type VelocityProcessor struct {
	mu        sync.Mutex
	windows   map[string][]time.Time
	threshold int
	window    time.Duration
}

// NewVelocityProcessor creates a velocity detector. Defaults: more than 15
// transactions in 5 minutes.
func NewVelocityProcessor(threshold int, window time.Duration) *VelocityProcessor {
	if threshold <= 0 {
		threshold = 15
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &VelocityProcessor{
		windows:   make(map[string][]time.Time),
		threshold: threshold,
		window:    window,
	}
}

func (p *VelocityProcessor) Name() string { return "velocity" }

func (p *VelocityProcessor) Process(ctx context.Context, event *Event) (*aml.TransactionAlert, error) {
	if event.Type != EventTransaction {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := event.CustomerID.String()
	cutoff := event.Timestamp.Add(-p.window)
	kept := p.windows[key][:0]
	for _, ts := range p.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, event.Timestamp)
	p.windows[key] = kept

	if len(kept) <= p.threshold {
		return nil, nil
	}

	details, _ := json.Marshal(map[string]any{
		"transaction_count": len(kept),
		"window_seconds":    int(p.window.Seconds()),
		"threshold":         p.threshold,
	})
	return &aml.TransactionAlert{
		CustomerID:    &event.CustomerID,
		TransactionID: event.TransactionID,
		Scenario:      p.Name(),
		Severity:      aml.SeverityHigh,
		Title:         "High transaction velocity detected",
		Description: fmt.Sprintf("customer %s has %d transactions in %s",
			event.CustomerID, len(kept), p.window),
		Details: string(details),
	}, nil
}

// evictBefore drops customers whose newest activity fell out of the window.
func (p *VelocityProcessor) evictBefore(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := now.Add(-p.window)
	for key, window := range p.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(p.windows, key)
		}
	}
}

// LargeAmountProcessor alerts on single transactions above a fixed amount.
type LargeAmountProcessor struct {
	threshold decimal.Decimal
}

// NewLargeAmountProcessor creates a large-amount detector. Default
// threshold is 50000.
func NewLargeAmountProcessor(threshold float64) *LargeAmountProcessor {
	if threshold <= 0 {
		threshold = 50000
	}
	return &LargeAmountProcessor{threshold: decimal.NewFromFloat(threshold)}
}

func (p *LargeAmountProcessor) Name() string { return "large_amount" }

func (p *LargeAmountProcessor) Process(ctx context.Context, event *Event) (*aml.TransactionAlert, error) {
	if event.Type != EventTransaction || !event.Amount.GreaterThan(p.threshold) {
		return nil, nil
	}

	details, _ := json.Marshal(map[string]any{
		"amount":    event.Amount.String(),
		"threshold": p.threshold.String(),
	})
	return &aml.TransactionAlert{
		CustomerID:    &event.CustomerID,
		TransactionID: event.TransactionID,
		Scenario:      p.Name(),
		Severity:      aml.SeverityMedium,
		Title:         "Large amount transaction",
		Description: fmt.Sprintf("transaction amount %s exceeds threshold %s",
			event.Amount, p.threshold),
		Details: string(details),
	}, nil
}

type amountAt struct {
	ts     time.Time
	amount decimal.Decimal
}

// StructuringProcessor detects deposits split just under the reporting
// threshold. Only sub-threshold transactions count toward the pattern.
type StructuringProcessor struct {
	mu        sync.Mutex
	windows   map[string][]amountAt
	threshold decimal.Decimal
	window    time.Duration
}

// NewStructuringProcessor creates a structuring detector. Defaults: 10000
// reporting threshold, 24 hour window.
func NewStructuringProcessor(threshold float64, window time.Duration) *StructuringProcessor {
	if threshold <= 0 {
		threshold = 10000
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &StructuringProcessor{
		windows:   make(map[string][]amountAt),
		threshold: decimal.NewFromFloat(threshold),
		window:    window,
	}
}

func (p *StructuringProcessor) Name() string { return "structuring" }

func (p *StructuringProcessor) Process(ctx context.Context, event *Event) (*aml.TransactionAlert, error) {
	if event.Type != EventTransaction {
		return nil, nil
	}
	// transactions at or above the reporting threshold are reported anyway
	if event.Amount.GreaterThanOrEqual(p.threshold) {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := event.CustomerID.String()
	cutoff := event.Timestamp.Add(-p.window)
	kept := p.windows[key][:0]
	for _, a := range p.windows[key] {
		if a.ts.After(cutoff) {
			kept = append(kept, a)
		}
	}
	kept = append(kept, amountAt{ts: event.Timestamp, amount: event.Amount})
	p.windows[key] = kept

	if len(kept) < 3 {
		return nil, nil
	}

	total := decimal.Zero
	nearThreshold := 0
	floor := p.threshold.Mul(decimal.NewFromFloat(0.8))
	for _, a := range kept {
		total = total.Add(a.amount)
		if a.amount.GreaterThanOrEqual(floor) {
			nearThreshold++
		}
	}
	if !total.GreaterThan(p.threshold.Mul(decimal.NewFromFloat(1.5))) {
		return nil, nil
	}
	if float64(nearThreshold)/float64(len(kept)) < 0.6 {
		return nil, nil
	}

	details, _ := json.Marshal(map[string]any{
		"transaction_count": len(kept),
		"total_amount":      total.String(),
		"near_threshold":    nearThreshold,
		"threshold":         p.threshold.String(),
	})
	return &aml.TransactionAlert{
		CustomerID:    &event.CustomerID,
		TransactionID: event.TransactionID,
		Scenario:      p.Name(),
		Severity:      aml.SeverityHigh,
		Title:         "Potential structuring pattern",
		Description: fmt.Sprintf("customer %s has %d sub-threshold transactions totaling %s in %s",
			event.CustomerID, len(kept), total, p.window),
		Details: string(details),
	}, nil
}

// evictBefore drops customers whose newest activity fell out of the window.
func (p *StructuringProcessor) evictBefore(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := now.Add(-p.window)
	for key, window := range p.windows {
		if len(window) == 0 || !window[len(window)-1].ts.After(cutoff) {
			delete(p.windows, key)
		}
	}
}

// RiskScoreProcessor alerts when a scored event crosses the model-risk
// threshold.
type RiskScoreProcessor struct {
	threshold float64
}

// NewRiskScoreProcessor creates a risk-score detector. Default threshold
// is 0.7; scores above 0.9 are raised as high severity.
func NewRiskScoreProcessor(threshold float64) *RiskScoreProcessor {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &RiskScoreProcessor{threshold: threshold}
}

func (p *RiskScoreProcessor) Name() string { return "risk_score" }

func (p *RiskScoreProcessor) Process(ctx context.Context, event *Event) (*aml.TransactionAlert, error) {
	if event.RiskScore <= p.threshold {
		return nil, nil
	}

	severity := aml.SeverityMedium
	if event.RiskScore > 0.9 {
		severity = aml.SeverityHigh
	}
	details, _ := json.Marshal(map[string]any{
		"risk_score": event.RiskScore,
		"threshold":  p.threshold,
	})
	alert := &aml.TransactionAlert{
		TransactionID: event.TransactionID,
		Scenario:      p.Name(),
		Severity:      severity,
		Score:         event.RiskScore,
		Title:         "High risk score detected",
		Description: fmt.Sprintf("risk score %.2f for %s %s exceeds threshold %.2f",
			event.RiskScore, event.EntityType, event.EntityID, p.threshold),
		Details: string(details),
	}
	if event.CustomerID != uuid.Nil {
		id := event.CustomerID
		alert.CustomerID = &id
	}
	return alert, nil
}
