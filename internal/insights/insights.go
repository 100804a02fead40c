// Package insights carries the static clinical knowledge base attached to
// predictions: per-disease descriptions, diet guidance and model-insight
// text. It performs no I/O and no model access.
package insights

import "strings"

// Advice is the clinical text bundle for one finding.
type Advice struct {
	Description string `json:"description"`
	Diet        string `json:"diet"`
	Insight     string `json:"ai_insight"`
}

var knowledgeBase = map[string]Advice{
	"COVID19": {
		Description: "Viral respiratory infection caused by SARS-CoV-2. Radiographic evidence shows ground-glass opacities and peripheral lung involvement.",
		Diet:        "High-protein diet for tissue repair; anti-inflammatory foods; adequate hydration (2-3L/day); vitamin C and zinc rich foods.",
		Insight:     "Model detected characteristic peripheral opacities consistent with viral pneumonia patterns.",
	},
	"PNEUMONIA": {
		Description: "Acute inflammation of the lung parenchyma. X-rays show focal or multi-focal air-space consolidation and fluid accumulation.",
		Diet:        "Warm fluids; potassium-rich foods for respiratory muscle support; small, frequent, calorie-dense meals.",
		Insight:     "Analysis identified dense alveolar consolidation patterns in the lower pulmonary segments.",
	},
	"TUBERCULOSIS": {
		Description: "Infectious bacterial disease characterized by the growth of nodules (tubercules) in the tissues, especially the lungs.",
		Diet:        "High calorie, high protein intake; iron and vitamin B complex supplementation; avoid tobacco and alcohol.",
		Insight:     "Detection focused on upper-lobe infiltrates and potential cavitary lesions typical of TB.",
	},
	"NORMAL": {
		Description: "No significant radiographic abnormalities detected. Lung fields are clear, and cardiac silhouette is within normal limits.",
		Diet:        "Maintain a balanced diet, regular cardiovascular exercise, adequate sleep and annual health screenings.",
		Insight:     "Model confirmed clear pulmonary parenchyma and healthy airway distribution.",
	},
}

// For returns the advice entry for a label, with the description prefixed by
// the severity tier for non-normal findings. Unknown labels fall back to the
// normal entry.
func For(label, severity string) *Advice {
	entry, ok := knowledgeBase[strings.ToUpper(label)]
	if !ok {
		entry = knowledgeBase["NORMAL"]
	}
	if severity != "" && severity != "N/A" && strings.ToUpper(label) != "NORMAL" {
		entry.Description = "[" + severity + " CASE] " + entry.Description
	}
	return &entry
}
