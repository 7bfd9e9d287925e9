package sentiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeEmptyTextIsNeutral(t *testing.T) {
	a := NewAnalyzer()
	s := a.Analyze("")
	assert.Equal(t, 100.0, s.Neutral)
	assert.Zero(t, s.Compound)
}

func TestAnalyzeNoLexiconHitsIsNeutral(t *testing.T) {
	a := NewAnalyzer()
	s := a.Analyze("the quarterly figures were filed on Tuesday")
	assert.Equal(t, 100.0, s.Neutral)
}

func TestAnalyzePositiveText(t *testing.T) {
	a := NewAnalyzer()
	s := a.Analyze("Controls are effective and the issue was resolved. Strong, stable progress.")
	assert.Greater(t, s.Positive, s.Negative)
	assert.Greater(t, s.Compound, 0.0)
}

func TestAnalyzeNegativeText(t *testing.T) {
	a := NewAnalyzer()
	s := a.Analyze("Severe breach, inadequate controls, urgent escalation of the incident.")
	assert.Greater(t, s.Negative, s.Positive)
	assert.Less(t, s.Compound, 0.0)
}

func TestAmplifierIncreasesWeight(t *testing.T) {
	a := NewAnalyzer()
	plain := a.Analyze("controls are inadequate but reporting is effective")
	amped := a.Analyze("controls are extremely inadequate but reporting is effective")
	assert.Greater(t, amped.Negative, plain.Negative)
}

func TestDiminisherDecreasesWeight(t *testing.T) {
	a := NewAnalyzer()
	plain := a.Analyze("controls are inadequate but reporting is effective")
	dimmed := a.Analyze("controls are somewhat inadequate but reporting is effective")
	assert.Less(t, dimmed.Negative, plain.Negative)
}

func TestScoresSumToHundred(t *testing.T) {
	a := NewAnalyzer()
	s := a.Analyze("review the effective controls after the incident and monitor progress")
	assert.InDelta(t, 100.0, s.Positive+s.Negative+s.Neutral, 0.001)
}

func TestAggregate(t *testing.T) {
	out := Aggregate([]Scores{
		{Positive: 80, Negative: 10, Neutral: 10},
		{Positive: 20, Negative: 60, Neutral: 20},
	})
	assert.InDelta(t, 50.0, out.Positive, 0.001)
	assert.InDelta(t, 35.0, out.Negative, 0.001)
	assert.InDelta(t, 100.0, out.Positive+out.Negative+out.Neutral, 0.001)

	empty := Aggregate(nil)
	assert.Equal(t, 100.0, empty.Neutral)
}

func TestCombineWeightsSources(t *testing.T) {
	risks := Scores{Positive: 50, Negative: 30, Neutral: 20}
	assessments := Scores{Positive: 70, Negative: 10, Neutral: 20}
	incidents := Scores{Positive: 20, Negative: 60, Neutral: 20}

	o := Combine(risks, assessments, incidents)
	// 50*0.4 + 70*0.4 + 20*0.2
	assert.InDelta(t, 52.0, o.Overall.Positive, 0.001)
	// 30*0.4 + 10*0.4 + 60*0.2
	assert.InDelta(t, 28.0, o.Overall.Negative, 0.001)
	assert.NotEmpty(t, o.Insights)
	assert.LessOrEqual(t, len(o.Insights), 3)
}

func TestInsightFlagsIncidentGap(t *testing.T) {
	risks := Scores{Positive: 60, Negative: 20, Neutral: 20}
	incidents := Scores{Positive: 10, Negative: 70, Neutral: 20}
	o := Combine(risks, risks, incidents)

	found := false
	for _, in := range o.Insights {
		if in == "incident reports read significantly more negative than risk assessments" {
			found = true
		}
	}
	assert.True(t, found)
}
