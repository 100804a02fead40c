package xray

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeverityTiers(t *testing.T) {
	cases := []struct {
		label      string
		confidence float64
		want       SeverityTier
	}{
		{"NORMAL", 0.99, SeverityNA},
		{"NORMAL", 0.10, SeverityNA},
		{"PNEUMONIA", 0.90, SeveritySevere},
		{"PNEUMONIA", 0.85, SeveritySevere},
		{"PNEUMONIA", 0.70, SeverityModerate},
		{"PNEUMONIA", 0.65, SeverityModerate},
		{"PNEUMONIA", 0.50, SeverityMild},
		{"COVID19", 0.849, SeverityModerate},
		{"TUBERCULOSIS", 0.01, SeverityMild},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Severity(tc.label, tc.confidence), "%s %.3f", tc.label, tc.confidence)
	}
}

func TestSeverityMonotonicInConfidence(t *testing.T) {
	rank := map[SeverityTier]int{SeverityMild: 0, SeverityModerate: 1, SeveritySevere: 2}
	prev := SeverityMild
	for c := 0.0; c <= 1.0; c += 0.01 {
		cur := Severity("PNEUMONIA", c)
		require.GreaterOrEqual(t, rank[cur], rank[prev], "confidence %.2f", c)
		prev = cur
	}
}

func TestClinicalRiskStableForNoFinding(t *testing.T) {
	low := 70.0
	for _, spo2 := range []*float64{nil, &low} {
		got := ClinicalRisk("NORMAL", 99, SeverityNA, spo2)
		require.Equal(t, RiskStable, got.Level)
		require.Zero(t, got.Score)
	}
}

func TestClinicalRiskScenario(t *testing.T) {
	// Severe pneumonia at 90% confidence with SpO2 80: 40 + 36 + 50 = 126.
	spo2 := 80.0
	got := ClinicalRisk("PNEUMONIA", 90, SeveritySevere, &spo2)
	require.InDelta(t, 126, got.Score, 1e-9)
	require.Equal(t, RiskCritical, got.Level)
}

func TestClinicalRiskTierBoundariesInclusive(t *testing.T) {
	// Severe (40) + 100%*0.4 = exactly 80.
	got := ClinicalRisk("PNEUMONIA", 100, SeveritySevere, nil)
	require.InDelta(t, 80, got.Score, 1e-9)
	require.Equal(t, RiskCritical, got.Level)

	// Severe (40) + 25%*0.4 = exactly 50.
	got = ClinicalRisk("PNEUMONIA", 25, SeveritySevere, nil)
	require.InDelta(t, 50, got.Score, 1e-9)
	require.Equal(t, RiskSevere, got.Level)

	// Moderate (20) + 25%*0.4 = exactly 30.
	got = ClinicalRisk("PNEUMONIA", 25, SeverityModerate, nil)
	require.InDelta(t, 30, got.Score, 1e-9)
	require.Equal(t, RiskModerate, got.Level)

	// Mild (10) + 10%*0.4 = 14.
	got = ClinicalRisk("PNEUMONIA", 10, SeverityMild, nil)
	require.Equal(t, RiskMild, got.Level)
}

func TestClinicalRiskMonotonicInInputs(t *testing.T) {
	base := ClinicalRisk("PNEUMONIA", 50, SeverityMild, nil).Score

	require.GreaterOrEqual(t, ClinicalRisk("PNEUMONIA", 60, SeverityMild, nil).Score, base)
	require.GreaterOrEqual(t, ClinicalRisk("PNEUMONIA", 50, SeverityModerate, nil).Score, base)
	require.GreaterOrEqual(t, ClinicalRisk("PNEUMONIA", 50, SeveritySevere, nil).Score, base)

	ok, borderline, critical := 97.0, 91.0, 80.0
	withOK := ClinicalRisk("PNEUMONIA", 50, SeverityMild, &ok).Score
	withBorderline := ClinicalRisk("PNEUMONIA", 50, SeverityMild, &borderline).Score
	withCritical := ClinicalRisk("PNEUMONIA", 50, SeverityMild, &critical).Score
	require.Equal(t, base, withOK)
	require.Greater(t, withBorderline, withOK)
	require.Greater(t, withCritical, withBorderline)
}
