package screening

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// MatchType grades how a name matched.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchFuzzy    MatchType = "fuzzy"
	MatchPhonetic MatchType = "phonetic"
	MatchPartial  MatchType = "partial"
	MatchNone     MatchType = "no_match"
)

// MatcherConfig tunes the name matcher.
type MatcherConfig struct {
	FuzzyThreshold    float64
	PhoneticThreshold float64
	PartialThreshold  float64
	NGramSize         int
}

// DefaultMatcherConfig returns the production thresholds.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		FuzzyThreshold:    0.85,
		PhoneticThreshold: 0.80,
		PartialThreshold:  0.75,
		NGramSize:         3,
	}
}

// NameMatch is the outcome of matching a query name against a watchlist
// name and its alternates.
type NameMatch struct {
	Score      float64            `json:"score"`
	Type       MatchType          `json:"type"`
	Confidence float64            `json:"confidence"`
	Details    map[string]float64 `json:"details"`
}

// Matcher scores name similarity by combining Levenshtein, Jaro-Winkler,
// Soundex, trigram and token-set measures.
type Matcher struct {
	cfg MatcherConfig
}

// NewMatcher creates a matcher.
func NewMatcher(cfg MatcherConfig) *Matcher {
	if cfg.NGramSize <= 0 {
		cfg.NGramSize = 3
	}
	return &Matcher{cfg: cfg}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)

var nameAffixes = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sir": {},
	"jr": {}, "sr": {}, "ii": {}, "iii": {}, "iv": {},
}

// Normalize lowercases, strips punctuation and honorifics.
func Normalize(name string) string {
	name = strings.ToLower(name)
	name = nonAlnum.ReplaceAllString(name, "")
	tokens := strings.Fields(name)
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, affix := nameAffixes[tok]; !affix {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// Match scores query against target and its alternate names, keeping the
// best score.
func (m *Matcher) Match(query, target string, alternates []string) NameMatch {
	result := NameMatch{Details: make(map[string]float64)}
	q := Normalize(query)

	best := m.score(q, Normalize(target))
	result.Details["primary"] = best
	for _, alt := range alternates {
		s := m.score(q, Normalize(alt))
		result.Details[alt] = s
		if s > best {
			best = s
		}
	}
	result.Score = best

	switch {
	case best >= 1.0:
		result.Type = MatchExact
	case best >= m.cfg.FuzzyThreshold:
		result.Type = MatchFuzzy
	case best >= m.cfg.PhoneticThreshold:
		result.Type = MatchPhonetic
	case best >= m.cfg.PartialThreshold:
		result.Type = MatchPartial
	default:
		result.Type = MatchNone
	}
	result.Confidence = confidence(best, result.Type)
	return result
}

func confidence(score float64, typ MatchType) float64 {
	switch typ {
	case MatchExact:
		return math.Min(score+0.1, 1.0)
	case MatchFuzzy:
		return score
	case MatchPhonetic:
		return score * 0.9
	case MatchPartial:
		return score * 0.8
	default:
		return score * 0.7
	}
}

// score combines the individual similarity measures, weighting the stronger
// signals more heavily.
func (m *Matcher) score(a, b string) float64 {
	if a == b {
		return 1.0
	}
	scores := []float64{
		levenshteinSimilarity(a, b),
		jaroWinkler(a, b),
		soundexSimilarity(a, b),
		m.ngramSimilarity(a, b),
		tokenSimilarity(a, b),
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	var num, den float64
	for i, s := range scores {
		w := 1.0 / float64(i+1)
		num += s * w
		den += w
	}
	return num / den
}

func levenshteinSimilarity(a, b string) float64 {
	maxLen := math.Max(float64(len(a)), float64(len(b)))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein.ComputeDistance(a, b))/maxLen
}

func jaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0.0
	}

	window := max(la, lb)/2 - 1
	if window < 0 {
		window = 0
	}
	aMatched := make([]bool, la)
	bMatched := make([]bool, lb)

	matches := 0
	for i := 0; i < la; i++ {
		lo := max(0, i-window)
		hi := min(lb, i+window+1)
		for j := lo; j < hi; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < la; i++ {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	mf := float64(matches)
	jaro := (mf/float64(la) + mf/float64(lb) + (mf-float64(transpositions)/2)/mf) / 3.0

	prefix := 0
	for i := 0; i < min(min(la, lb), 4); i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return jaro + 0.1*float64(prefix)*(1.0-jaro)
}

var soundexCodes = map[byte]byte{
	'B': '1', 'F': '1', 'P': '1', 'V': '1',
	'C': '2', 'G': '2', 'J': '2', 'K': '2', 'Q': '2', 'S': '2', 'X': '2', 'Z': '2',
	'D': '3', 'T': '3',
	'L': '4',
	'M': '5', 'N': '5',
	'R': '6',
}

func soundexSimilarity(a, b string) float64 {
	if soundex(a) == soundex(b) {
		return 1.0
	}
	return 0.0
}

func soundex(s string) string {
	s = strings.ToUpper(s)
	if s == "" {
		return ""
	}
	out := []byte{s[0]}
	var prev byte
	for i := 1; i < len(s) && len(out) < 4; i++ {
		code, ok := soundexCodes[s[i]]
		if !ok {
			prev = 0
			continue
		}
		if code != prev {
			out = append(out, code)
			prev = code
		}
	}
	for len(out) < 4 {
		out = append(out, '0')
	}
	return string(out)
}

func (m *Matcher) ngramSimilarity(a, b string) float64 {
	ga := ngrams(a, m.cfg.NGramSize)
	gb := ngrams(b, m.cfg.NGramSize)
	return jaccard(ga, gb)
}

func ngrams(s string, n int) map[string]struct{} {
	out := make(map[string]struct{})
	if len(s) < n {
		if s != "" {
			out[s] = struct{}{}
		}
		return out
	}
	for i := 0; i+n <= len(s); i++ {
		out[s[i:i+n]] = struct{}{}
	}
	return out
}

func tokenSimilarity(a, b string) float64 {
	sa := make(map[string]struct{})
	for _, t := range strings.Fields(a) {
		sa[t] = struct{}{}
	}
	sb := make(map[string]struct{})
	for _, t := range strings.Fields(b) {
		sb[t] = struct{}{}
	}
	return jaccard(sa, sb)
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
