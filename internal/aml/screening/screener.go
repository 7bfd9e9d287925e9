package screening

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/napsa-zm/erm-platform/internal/aml"
	"github.com/napsa-zm/erm-platform/internal/config"
	"github.com/napsa-zm/erm-platform/pkg/metrics"
)

// weights for combining the name, date-of-birth and country signals
const (
	nameWeight    = 0.6
	dobWeight     = 0.2
	countryWeight = 0.2
)

// Hit is one watchlist entry scoring above the configured threshold.
type Hit struct {
	EntryID   uuid.UUID `json:"entry_id"`
	ListID    uint      `json:"list_id"`
	EntryName string    `json:"entry_name"`
	Program   string    `json:"program"`
	Score     float64   `json:"score"`
	NameMatch NameMatch `json:"name_match"`
}

// Result is the outcome of screening one subject.
type Result struct {
	Query      Query     `json:"query"`
	Hits       []Hit     `json:"hits"`
	Clear      bool      `json:"clear"`
	FromCache  bool      `json:"from_cache"`
	ScreenedAt time.Time `json:"screened_at"`
}

// Query identifies the subject being screened.
type Query struct {
	CustomerID  uuid.UUID  `json:"customer_id,omitempty"`
	FullName    string     `json:"full_name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Country     string     `json:"country,omitempty"`
}

// WatchlistSource supplies entries to screen against.
type WatchlistSource interface {
	ListWatchlist(ctx context.Context, listID uint) ([]aml.WatchlistEntry, error)
}

// AlertSink persists screening alerts.
type AlertSink interface {
	SaveAlert(ctx context.Context, alert *aml.TransactionAlert) error
}

// Screener runs watchlist screening with fuzzy name matching and a redis
// result cache keyed by the normalised query.
type Screener struct {
	matcher   *Matcher
	source    WatchlistSource
	sink      AlertSink
	cache     *redis.Client
	threshold float64
	cacheTTL  time.Duration
	logger    *zap.Logger
}

// NewScreener creates a screener. cache and sink may be nil.
func NewScreener(cfg config.ScreeningConfig, source WatchlistSource, sink AlertSink, cache *redis.Client, logger *zap.Logger) *Screener {
	threshold := cfg.MatchThreshold
	if threshold <= 0 {
		threshold = 0.85
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Screener{
		matcher:   NewMatcher(DefaultMatcherConfig()),
		source:    source,
		sink:      sink,
		cache:     cache,
		threshold: threshold,
		cacheTTL:  ttl,
		logger:    logger,
	}
}

// Screen evaluates the query against every watchlist entry. Hits above the
// threshold raise a screening alert.
func (s *Screener) Screen(ctx context.Context, q Query) (*Result, error) {
	if cached := s.fromCache(ctx, q); cached != nil {
		metrics.ScreeningChecks.WithLabelValues("cached").Inc()
		return cached, nil
	}

	entries, err := s.source.ListWatchlist(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load watchlist: %w", err)
	}

	result := &Result{Query: q, ScreenedAt: time.Now().UTC()}
	for _, entry := range entries {
		score, nameMatch := s.scoreEntry(q, entry)
		if score < s.threshold {
			continue
		}
		result.Hits = append(result.Hits, Hit{
			EntryID:   entry.ID,
			ListID:    entry.ListID,
			EntryName: entry.FullName,
			Program:   entry.Program,
			Score:     score,
			NameMatch: nameMatch,
		})
	}
	result.Clear = len(result.Hits) == 0

	if result.Clear {
		metrics.ScreeningChecks.WithLabelValues("clear").Inc()
	} else {
		metrics.ScreeningChecks.WithLabelValues("hit").Inc()
		s.raiseAlert(ctx, q, result)
	}
	s.toCache(ctx, q, result)
	return result, nil
}

// scoreEntry combines the name match with DOB and country corroboration.
// Missing corroborating fields fall back to the name evidence alone so a
// sparse watchlist entry cannot dilute a strong name hit.
func (s *Screener) scoreEntry(q Query, entry aml.WatchlistEntry) (float64, NameMatch) {
	var alternates []string
	if entry.AltNames != "" {
		alternates = splitAltNames(entry.AltNames)
	}
	nameMatch := s.matcher.Match(q.FullName, entry.FullName, alternates)

	score := nameMatch.Score * nameWeight
	remaining := dobWeight + countryWeight

	if q.DateOfBirth != nil && entry.DateOfBirth != nil {
		dob := 0.0
		if sameDate(*q.DateOfBirth, *entry.DateOfBirth) {
			dob = 1.0
		}
		score += dob * dobWeight
		remaining -= dobWeight
	}
	if q.Country != "" && entry.Country != "" {
		country := 0.0
		if strings.EqualFold(q.Country, entry.Country) {
			country = 1.0
		}
		score += country * countryWeight
		remaining -= countryWeight
	}
	// redistribute weight of absent fields onto the name signal
	score += nameMatch.Score * remaining
	return score, nameMatch
}

func (s *Screener) raiseAlert(ctx context.Context, q Query, result *Result) {
	if s.sink == nil {
		return
	}
	best := result.Hits[0]
	for _, h := range result.Hits[1:] {
		if h.Score > best.Score {
			best = h
		}
	}
	details, _ := json.Marshal(result.Hits)
	alert := &aml.TransactionAlert{
		Scenario: "screening_hit",
		Severity: aml.SeverityCritical,
		Score:    best.Score,
		Title:    "Sanctions screening hit",
		Description: fmt.Sprintf("%q matched watchlist entry %q with score %.2f",
			q.FullName, best.EntryName, best.Score),
		Details: string(details),
	}
	if q.CustomerID != uuid.Nil {
		id := q.CustomerID
		alert.CustomerID = &id
	}
	if err := s.sink.SaveAlert(ctx, alert); err != nil {
		s.logger.Error("failed to persist screening alert", zap.Error(err))
	}
}

func (s *Screener) cacheKey(q Query) string {
	key := Normalize(q.FullName) + "|" + q.Country
	if q.DateOfBirth != nil {
		key += "|" + q.DateOfBirth.Format("2006-01-02")
	}
	return "screening:" + key
}

func (s *Screener) fromCache(ctx context.Context, q Query) *Result {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, s.cacheKey(q)).Bytes()
	if err != nil {
		return nil
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil
	}
	result.FromCache = true
	return &result
}

func (s *Screener) toCache(ctx context.Context, q Query, result *Result) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(q), raw, s.cacheTTL).Err(); err != nil {
		s.logger.Debug("failed to cache screening result", zap.Error(err))
	}
}

func splitAltNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
