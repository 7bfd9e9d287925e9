// Package sentiment scores free text from risk descriptions, assessment
// findings and incident reports with a keyword lexicon. Scores are
// percentages summing to 100 plus a compound value in [-1, 1].
package sentiment

import (
	"strings"
	"unicode"

	"gonum.org/v1/gonum/stat"
)

var positiveWords = wordSet(
	"good", "excellent", "positive", "improved", "effective", "successful",
	"compliant", "controlled", "mitigated", "resolved", "stable", "strong",
	"adequate", "satisfactory", "acceptable", "manageable",
	"properly", "correctly", "appropriately", "timely",
	"proactive", "robust", "comprehensive", "thorough", "complete",
	"progress", "achievement", "success", "enhancement", "optimization",
)

var negativeWords = wordSet(
	"bad", "poor", "negative", "degraded", "ineffective", "failed",
	"uncontrolled", "critical", "severe",
	"inadequate", "unsatisfactory", "unacceptable", "concerning", "urgent",
	"delayed", "overdue", "missing", "incomplete", "insufficient",
	"vulnerable", "exposed", "breach", "violation", "incident", "issue",
	"problem", "deficiency", "weakness", "gap", "threat", "risk",
	"escalation", "deterioration", "decline", "failure", "error",
)

var neutralWords = wordSet(
	"review", "assess", "evaluate", "monitor", "track", "measure",
	"analyze", "investigate", "examine", "check", "verify", "validate",
	"update", "maintain", "continue", "ongoing", "regular", "standard",
	"normal", "routine", "scheduled", "planned", "expected", "average",
)

// amplifiers in front of a keyword scale its weight up, diminishers down.
var amplifiers = wordSet(
	"very", "extremely", "highly", "significantly", "substantially",
	"critically", "severely", "urgently", "immediately", "rapidly",
)

var diminishers = wordSet(
	"slightly", "somewhat", "partially", "moderately", "relatively",
	"fairly", "reasonably", "adequately", "sufficiently", "gradually",
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Scores holds the sentiment distribution for a piece of text.
type Scores struct {
	Positive float64 `json:"positive"` // percent
	Negative float64 `json:"negative"` // percent
	Neutral  float64 `json:"neutral"`  // percent
	Compound float64 `json:"compound"` // -1..1
}

// Analyzer scores text against the lexicon. It is stateless and safe for
// concurrent use.
type Analyzer struct{}

// NewAnalyzer creates an analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// tokenize lowercases and splits on anything that is not a letter, digit
// or underscore.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// Analyze scores one piece of text. Text with no lexicon hits is fully
// neutral.
func (a *Analyzer) Analyze(text string) Scores {
	words := tokenize(text)
	if len(words) == 0 {
		return Scores{Neutral: 100}
	}

	var pos, neg, neu float64
	for i, w := range words {
		weight := 1.0
		if i > 0 {
			if _, ok := amplifiers[words[i-1]]; ok {
				weight = 1.5
			} else if _, ok := diminishers[words[i-1]]; ok {
				weight = 0.7
			}
		}
		switch {
		case contains(positiveWords, w):
			pos += weight
		case contains(negativeWords, w):
			neg += weight
		case contains(neutralWords, w):
			neu += weight * 0.5
		}
	}

	total := pos + neg + neu
	if total == 0 {
		return Scores{Neutral: 100}
	}

	compound := (pos - neg) / float64(len(words))
	if compound > 1 {
		compound = 1
	}
	if compound < -1 {
		compound = -1
	}
	return Scores{
		Positive: pos / total * 100,
		Negative: neg / total * 100,
		Neutral:  neu / total * 100,
		Compound: compound,
	}
}

func contains(set map[string]struct{}, w string) bool {
	_, ok := set[w]
	return ok
}

// Aggregate averages per-document scores and renormalizes to 100%.
func Aggregate(all []Scores) Scores {
	if len(all) == 0 {
		return Scores{Neutral: 100}
	}
	pos := make([]float64, len(all))
	neg := make([]float64, len(all))
	neu := make([]float64, len(all))
	cmp := make([]float64, len(all))
	for i, s := range all {
		pos[i], neg[i], neu[i], cmp[i] = s.Positive, s.Negative, s.Neutral, s.Compound
	}
	out := Scores{
		Positive: stat.Mean(pos, nil),
		Negative: stat.Mean(neg, nil),
		Neutral:  stat.Mean(neu, nil),
		Compound: stat.Mean(cmp, nil),
	}
	if total := out.Positive + out.Negative + out.Neutral; total > 0 {
		out.Positive = out.Positive / total * 100
		out.Negative = out.Negative / total * 100
		out.Neutral = out.Neutral / total * 100
	} else {
		out.Neutral = 100
	}
	return out
}

// Overview combines scores from the three text sources, weighting risks
// and assessments over incidents.
type Overview struct {
	Overall     Scores   `json:"overall"`
	Risks       Scores   `json:"risks"`
	Assessments Scores   `json:"assessments"`
	Incidents   Scores   `json:"incidents"`
	Insights    []string `json:"insights"`
}

// Combine builds the weighted overview: risks 0.4, assessments 0.4,
// incidents 0.2.
func Combine(risks, assessments, incidents Scores) Overview {
	const (
		wRisk       = 0.4
		wAssessment = 0.4
		wIncident   = 0.2
	)
	overall := Scores{
		Positive: risks.Positive*wRisk + assessments.Positive*wAssessment + incidents.Positive*wIncident,
		Negative: risks.Negative*wRisk + assessments.Negative*wAssessment + incidents.Negative*wIncident,
		Neutral:  risks.Neutral*wRisk + assessments.Neutral*wAssessment + incidents.Neutral*wIncident,
		Compound: risks.Compound*wRisk + assessments.Compound*wAssessment + incidents.Compound*wIncident,
	}
	o := Overview{
		Overall:     overall,
		Risks:       risks,
		Assessments: assessments,
		Incidents:   incidents,
	}
	o.Insights = insights(o)
	return o
}

// insights derives up to three headline observations from the overview.
func insights(o Overview) []string {
	var out []string
	switch {
	case o.Overall.Positive > 70:
		out = append(out, "stakeholders express high confidence in risk management controls")
	case o.Overall.Positive > 50:
		out = append(out, "most risk assessments indicate effective control measures")
	case o.Overall.Positive < 30:
		out = append(out, "low positive sentiment, review risk communication and control effectiveness")
	}
	switch {
	case o.Overall.Negative > 40:
		out = append(out, "high negative sentiment, mitigation strategies need urgent attention")
	case o.Overall.Negative > 25:
		out = append(out, "moderate negative sentiment, monitor closely and address key concerns")
	case o.Overall.Negative < 15:
		out = append(out, "low negative sentiment, risk posture appears well controlled")
	}
	if o.Overall.Neutral > 50 {
		out = append(out, "high neutral sentiment suggests unclear risk communication")
	}
	if o.Incidents.Negative > o.Risks.Negative+20 {
		out = append(out, "incident reports read significantly more negative than risk assessments")
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}
