package xray

import (
	"math"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"lungai/internal/insights"
)

// Prediction is the immutable result of one classification call.
type Prediction struct {
	Label         string             `json:"prediction"`
	Confidence    float64            `json:"confidence"`
	ConfidencePct float64            `json:"confidence_pct"`
	Severity      SeverityTier       `json:"severity"`
	Probabilities map[string]float64 `json:"probabilities"`
	Vector        []float64          `json:"-"`
	Risk          RiskAssessment     `json:"risk"`
	Advice        *insights.Advice   `json:"medical_info,omitempty"`
	DemoMode      bool               `json:"demo_mode"`
}

// Service ties the loader, classifier, explainer and fallback together. It is
// safe for concurrent use; the host owns any queueing or timeouts since both
// entry points run to completion.
type Service struct {
	loader  *Loader
	classes []string
	log     zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewService builds the inference service. classes is the ordered label set
// the artifact was trained with; rng drives demo mode and may be seeded.
func NewService(loader *Loader, classes []string, rng *rand.Rand, log zerolog.Logger) *Service {
	return &Service{
		loader:  loader,
		classes: append([]string(nil), classes...),
		rng:     rng,
		log:     log.With().Str("component", "xray").Logger(),
	}
}

// Classes returns the ordered label set.
func (s *Service) Classes() []string { return append([]string(nil), s.classes...) }

// Available reports whether a real model backs this service.
func (s *Service) Available() bool { return s.loader.Available() }

// ClassifyImage runs the full prediction pipeline on one image file. With no
// model artifact present it returns a synthetic demo result without touching
// the file; otherwise a decode failure is fatal to the call.
func (s *Service) ClassifyImage(path string) (*Prediction, error) {
	m, ok := s.loader.Ensure()
	if !ok {
		s.rngMu.Lock()
		label, conf, vector := DemoPrediction(s.rng, s.classes)
		s.rngMu.Unlock()
		return s.buildPrediction(label, conf, vector, true), nil
	}

	t, err := Preprocess(path)
	if err != nil {
		return nil, err
	}
	label, conf, vector, err := Classify(t, m, s.classes)
	if err != nil {
		return nil, err
	}
	return s.buildPrediction(label, conf, vector, false), nil
}

// ExplainImage writes a Grad-CAM overlay for the image's predicted class to
// outPath. It returns the path and true on success; any internal failure
// degrades to ("", false) and never affects classification.
func (s *Service) ExplainImage(imagePath, outPath string) (string, bool) {
	m, ok := s.loader.Ensure()
	if !ok {
		return "", false
	}
	t, err := Preprocess(imagePath)
	if err != nil {
		s.log.Warn().Err(err).Str("image", imagePath).Msg("grad-cam preprocessing failed")
		return "", false
	}
	cam, err := saliencyMap(m, t)
	if err != nil {
		s.log.Warn().Err(err).Str("image", imagePath).Msg("grad-cam saliency failed")
		return "", false
	}
	if err := renderOverlay(imagePath, cam, outPath); err != nil {
		s.log.Warn().Err(err).Str("out", outPath).Msg("grad-cam overlay failed")
		return "", false
	}
	return outPath, true
}

func (s *Service) buildPrediction(label string, conf float64, vector []float64, demo bool) *Prediction {
	sev := Severity(label, conf)
	probs := make(map[string]float64, len(s.classes))
	for i, name := range s.classes {
		probs[name] = round4(vector[i])
	}
	return &Prediction{
		Label:         label,
		Confidence:    round4(conf),
		ConfidencePct: round2(conf * 100),
		Severity:      sev,
		Probabilities: probs,
		Vector:        vector,
		Risk:          ClinicalRisk(label, conf*100, sev, nil),
		Advice:        insights.For(label, string(sev)),
		DemoMode:      demo,
	}
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
func round2(v float64) float64 { return math.Round(v*1e2) / 1e2 }
