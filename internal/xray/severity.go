package xray

// NoFinding is the class label meaning no radiographic abnormality.
const NoFinding = "NORMAL"

// SeverityTier buckets model confidence for a disease finding.
type SeverityTier string

const (
	SeverityNA       SeverityTier = "N/A"
	SeverityMild     SeverityTier = "Mild"
	SeverityModerate SeverityTier = "Moderate"
	SeveritySevere   SeverityTier = "Severe"
)

// RiskLevel is the aggregate clinical urgency bucket.
type RiskLevel string

const (
	RiskStable   RiskLevel = "Stable"
	RiskMild     RiskLevel = "Mild"
	RiskModerate RiskLevel = "Moderate"
	RiskSevere   RiskLevel = "Severe"
	RiskCritical RiskLevel = "Critical"
)

// RiskAssessment is recomputable at any time from stored prediction fields.
type RiskAssessment struct {
	Level RiskLevel `json:"level"`
	Score float64   `json:"score"`
}

// Severity maps a label and its confidence (a fraction in [0,1]) to a tier.
// Only disease findings get a severity; the no-finding class is always N/A.
func Severity(label string, confidence float64) SeverityTier {
	if label == NoFinding {
		return SeverityNA
	}
	switch {
	case confidence >= 0.85:
		return SeveritySevere
	case confidence >= 0.65:
		return SeverityModerate
	default:
		return SeverityMild
	}
}

// ClinicalRisk scores clinical urgency from a prediction plus an optional
// oxygen-saturation reading. confidencePct is on a 0-100 scale, matching the
// stored confidence_pct field so risk can be recomputed later from a report.
// A no-finding label is Stable unconditionally; SpO2 is ignored for it.
func ClinicalRisk(label string, confidencePct float64, severity SeverityTier, spo2 *float64) RiskAssessment {
	if label == NoFinding {
		return RiskAssessment{Level: RiskStable, Score: 0}
	}

	var score float64
	switch severity {
	case SeveritySevere:
		score = 40
	case SeverityModerate:
		score = 20
	default:
		score = 10
	}

	score += confidencePct * 0.4

	if spo2 != nil {
		switch {
		case *spo2 < 85:
			score += 50
		case *spo2 < 92:
			score += 30
		}
	}

	level := RiskMild
	switch {
	case score >= 80:
		level = RiskCritical
	case score >= 50:
		level = RiskSevere
	case score >= 30:
		level = RiskModerate
	}
	return RiskAssessment{Level: level, Score: score}
}
