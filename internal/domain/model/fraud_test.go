package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		score    float64
		expected RiskLevel
	}{
		{"zero is safe", 0.0, RiskSafe},
		{"just below low boundary", 0.299, RiskSafe},
		{"low boundary", 0.30, RiskLow},
		{"mid low band", 0.45, RiskLow},
		{"medium boundary", 0.60, RiskMedium},
		{"mid medium band", 0.75, RiskMedium},
		{"high boundary", 0.80, RiskHigh},
		{"just below critical", 0.949, RiskHigh},
		{"critical boundary", 0.95, RiskCritical},
		{"full score", 1.0, RiskCritical},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, LevelFromScore(tc.score))
		})
	}
}

func TestAssessmentTriggered(t *testing.T) {
	t.Parallel()

	a := FraudAssessment{
		RiskScore: 0.6,
		Level:     RiskMedium,
		TriggeredRules: []RuleHit{
			{Rule: "rapid_succession", Contribution: 0.30},
			{Rule: "amount_anomaly", Contribution: 0.30},
		},
	}

	assert.True(t, a.Triggered("rapid_succession"))
	assert.True(t, a.Triggered("amount_anomaly"))
	assert.False(t, a.Triggered("duplicate_txid"))
}
