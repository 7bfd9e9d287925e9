// Package fedlearn coordinates simulated federated-learning rounds for
// privacy-preserving fraud models. Participants contribute weight vectors
// that are averaged sample-weighted; no raw data leaves a participant.
// Local training is simulated, not executed.
package fedlearn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrNotEnoughPeers  = errors.New("not enough participants")
	ErrExperimentState = errors.New("experiment not in a runnable state")
)

// Status is the experiment lifecycle state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusTraining    Status = "training"
	StatusAggregating Status = "aggregating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Participant is a registered federation member.
type Participant struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DataSamples int       `json:"data_samples"`
	TrustScore  float64   `json:"trust_score"`
	LastSeen    time.Time `json:"last_seen"`
}

// Round is one completed training round.
type Round struct {
	Number       int       `json:"number"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	Participants []string  `json:"participants"`
	Convergence  float64   `json:"convergence"` // mean absolute weight delta
}

// Experiment is one federated model under training.
type Experiment struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	ModelType            string    `json:"model_type"` // fraud_detection, risk_scoring
	MinParticipants      int       `json:"min_participants"`
	MaxRounds            int       `json:"max_rounds"`
	ConvergenceThreshold float64   `json:"convergence_threshold"`
	PrivacyBudget        float64   `json:"privacy_budget"` // epsilon
	Status               Status    `json:"status"`
	CurrentRound         int       `json:"current_round"`
	Rounds               []Round   `json:"rounds"`
	CreatedAt            time.Time `json:"created_at"`

	weights []float64
}

// Coordinator holds experiments and participants in memory.
type Coordinator struct {
	mu           sync.RWMutex
	experiments  map[string]*Experiment
	participants map[string]*Participant
	rng          *rand.Rand
	logger       *zap.Logger
}

// NewCoordinator creates a coordinator. The seed makes simulated rounds
// reproducible.
func NewCoordinator(logger *zap.Logger, seed int64) *Coordinator {
	return &Coordinator{
		experiments:  make(map[string]*Experiment),
		participants: make(map[string]*Participant),
		rng:          rand.New(rand.NewSource(seed)),
		logger:       logger,
	}
}

// RegisterParticipant adds or refreshes a federation member.
func (c *Coordinator) RegisterParticipant(name string, dataSamples int) (*Participant, error) {
	if name == "" || dataSamples <= 0 {
		return nil, fmt.Errorf("%w: name and positive data_samples required", ErrValidation)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &Participant{
		ID:          uuid.New().String(),
		Name:        name,
		DataSamples: dataSamples,
		TrustScore:  1.0,
		LastSeen:    time.Now().UTC(),
	}
	c.participants[p.ID] = p
	return p, nil
}

// Participants lists registered members.
func (c *Coordinator) Participants() []Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, *p)
	}
	return out
}

// CreateExperiment registers a model to train. Defaults: 3 participants
// minimum, 10 rounds, convergence threshold 0.01, privacy budget 1.0.
func (c *Coordinator) CreateExperiment(name, modelType string, minParticipants, maxRounds int) (*Experiment, error) {
	if name == "" || modelType == "" {
		return nil, fmt.Errorf("%w: name and model_type required", ErrValidation)
	}
	if minParticipants <= 0 {
		minParticipants = 3
	}
	if maxRounds <= 0 {
		maxRounds = 10
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &Experiment{
		ID:                   "fl-" + uuid.New().String()[:8],
		Name:                 name,
		ModelType:            modelType,
		MinParticipants:      minParticipants,
		MaxRounds:            maxRounds,
		ConvergenceThreshold: 0.01,
		PrivacyBudget:        1.0,
		Status:               StatusIdle,
		CreatedAt:            time.Now().UTC(),
		weights:              make([]float64, 16),
	}
	c.experiments[e.ID] = e
	return e, nil
}

// GetExperiment returns one experiment.
func (c *Coordinator) GetExperiment(id string) (*Experiment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.experiments[id]
	if !ok {
		return nil, fmt.Errorf("experiment %s: %w", id, ErrNotFound)
	}
	cp := *e
	cp.Rounds = append([]Round(nil), e.Rounds...)
	return &cp, nil
}

// ListExperiments returns all experiments.
func (c *Coordinator) ListExperiments() []Experiment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Experiment, 0, len(c.experiments))
	for _, e := range c.experiments {
		cp := *e
		cp.Rounds = append([]Round(nil), e.Rounds...)
		out = append(out, cp)
	}
	return out
}

// RunRound executes one simulated training round: each participant
// produces a noisy local update around the global weights, updates are
// averaged weighted by sample count, and the mean absolute delta becomes
// the convergence score. The experiment completes when the score drops
// below the threshold or the round budget is exhausted.
func (c *Coordinator) RunRound(experimentID string) (*Round, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.experiments[experimentID]
	if !ok {
		return nil, fmt.Errorf("experiment %s: %w", experimentID, ErrNotFound)
	}
	if e.Status != StatusIdle && e.Status != StatusTraining {
		return nil, fmt.Errorf("%w: %s is %s", ErrExperimentState, experimentID, e.Status)
	}
	if len(c.participants) < e.MinParticipants {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughPeers, len(c.participants), e.MinParticipants)
	}
	if e.CurrentRound >= e.MaxRounds {
		e.Status = StatusCompleted
		return nil, fmt.Errorf("%w: round budget exhausted", ErrExperimentState)
	}

	e.Status = StatusTraining
	started := time.Now().UTC()

	// Simulated local updates shrink as rounds progress, mimicking
	// convergence of federated averaging.
	noiseScale := 0.5 / float64(e.CurrentRound+1)
	updates := make([][]float64, 0, len(c.participants))
	samples := make([]float64, 0, len(c.participants))
	ids := make([]string, 0, len(c.participants))
	for id, p := range c.participants {
		local := make([]float64, len(e.weights))
		copy(local, e.weights)
		for i := range local {
			local[i] += c.rng.NormFloat64() * noiseScale
		}
		updates = append(updates, local)
		samples = append(samples, float64(p.DataSamples))
		ids = append(ids, id)
		p.LastSeen = started
	}

	e.Status = StatusAggregating
	aggregated := federatedAverage(updates, samples)

	delta := make([]float64, len(e.weights))
	floats.SubTo(delta, aggregated, e.weights)
	convergence := meanAbs(delta)
	e.weights = aggregated

	e.CurrentRound++
	round := Round{
		Number:       e.CurrentRound,
		StartedAt:    started,
		CompletedAt:  time.Now().UTC(),
		Participants: ids,
		Convergence:  convergence,
	}
	e.Rounds = append(e.Rounds, round)

	if convergence < e.ConvergenceThreshold || e.CurrentRound >= e.MaxRounds {
		e.Status = StatusCompleted
	} else {
		e.Status = StatusTraining
	}
	c.logger.Info("federated round completed",
		zap.String("experiment", e.ID),
		zap.Int("round", round.Number),
		zap.Float64("convergence", convergence),
		zap.String("status", string(e.Status)))
	return &round, nil
}

// federatedAverage averages weight vectors weighted by sample counts.
func federatedAverage(updates [][]float64, samples []float64) []float64 {
	total := floats.Sum(samples)
	out := make([]float64, len(updates[0]))
	scaled := make([]float64, len(out))
	for i, u := range updates {
		copy(scaled, u)
		floats.Scale(samples[i]/total, scaled)
		floats.Add(out, scaled)
	}
	return out
}

func meanAbs(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += math.Abs(x)
	}
	return sum / float64(len(v))
}
