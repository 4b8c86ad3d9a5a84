package model

// RiskLevel is the five-tier bucket derived from a continuous fraud score.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (l RiskLevel) String() string {
	return string(l)
}

// Risk level boundaries. A score below the boundary maps to the tier above it.
const (
	riskLowBoundary      = 0.30
	riskMediumBoundary   = 0.60
	riskHighBoundary     = 0.80
	riskCriticalBoundary = 0.95
)

// LevelFromScore maps a clamped risk score in [0,1] onto a RiskLevel.
func LevelFromScore(score float64) RiskLevel {
	switch {
	case score < riskLowBoundary:
		return RiskSafe
	case score < riskMediumBoundary:
		return RiskLow
	case score < riskHighBoundary:
		return RiskMedium
	case score < riskCriticalBoundary:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// RuleHit records a single scoring rule that fired and its contribution to the
// total score.
type RuleHit struct {
	Rule         string
	Contribution float64
	Detail       string
}

// FraudAssessment is the scorer output for one record.
type FraudAssessment struct {
	RiskScore      float64
	Level          RiskLevel
	TriggeredRules []RuleHit
}

// Triggered reports whether the named rule fired in this assessment.
func (a FraudAssessment) Triggered(rule string) bool {
	for _, hit := range a.TriggeredRules {
		if hit.Rule == rule {
			return true
		}
	}
	return false
}
