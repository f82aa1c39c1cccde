package pipeline

import "github.com/sells-group/docpipe/internal/model"

// Thresholds holds the quality gate cutoffs.
type Thresholds struct {
	// OCRSufficient is the minimum confidence at which OCR text alone
	// is trusted and AI extraction is skipped.
	OCRSufficient float64
}

// DefaultThresholds returns the standard gate configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{OCRSufficient: 0.98}
}

// Decision is the gate's routing verdict for one document.
type Decision struct {
	Route      model.Route
	Confidence float64
	Thresholds Thresholds
}

// Gate routes a document by OCR confidence. Pure and deterministic:
// equal inputs always produce equal decisions.
func Gate(confidence float64, t Thresholds) Decision {
	route := model.RouteAIRequired
	if confidence >= t.OCRSufficient {
		route = model.RouteOCRSufficient
	}
	return Decision{
		Route:      route,
		Confidence: confidence,
		Thresholds: t,
	}
}
