// Package router maps a classification judgment to an automation tier.
//
// Routing is a pure function over (confidence, ambiguity) with fixed
// thresholds. It has no side effects and no dependencies; everything
// that acts on a route lives in the services.
package router

import "fmt"

// Route is the automation tier chosen for a classified fragment.
type Route string

const (
	// AutoIntegrate applies the oracle's proposed integration without
	// human involvement.
	AutoIntegrate Route = "auto_integrate"
	// NeedsConfirmation stages a single proposed change for a
	// lightweight accept/reject. No interpretation set is generated.
	NeedsConfirmation Route = "needs_confirmation"
	// NeedsDecision generates competing interpretations and waits for
	// a human decision.
	NeedsDecision Route = "needs_decision"
)

// Confidence thresholds. A judgment at or above AutoThreshold (and not
// ambiguous) integrates automatically; between ConfirmThreshold and
// AutoThreshold it needs confirmation; below ConfirmThreshold, or
// whenever the oracle flags ambiguity, it needs a full decision.
const (
	AutoThreshold    = 0.85
	ConfirmThreshold = 0.60
)

// ErrConfidenceOutOfRange reports a confidence outside [0,1]. This is
// a contract violation by the caller (the oracle client validates its
// responses); it is never clamped silently.
type ErrConfidenceOutOfRange struct {
	Confidence float64
}

func (e *ErrConfidenceOutOfRange) Error() string {
	return fmt.Sprintf("router: confidence %v outside [0,1]", e.Confidence)
}

// Resolve returns the route for a judgment. Ambiguity dominates:
// an ambiguous fragment never auto-integrates regardless of score.
func Resolve(confidence float64, isAmbiguous bool) (Route, error) {
	// Written with a negated conjunction so NaN also trips the guard.
	if !(confidence >= 0 && confidence <= 1) {
		return "", &ErrConfidenceOutOfRange{Confidence: confidence}
	}
	switch {
	case isAmbiguous:
		// A single staged change cannot represent competing readings,
		// so ambiguity also overrides the confirmation tier.
		return NeedsDecision, nil
	case confidence >= AutoThreshold:
		return AutoIntegrate, nil
	case confidence >= ConfirmThreshold:
		return NeedsConfirmation, nil
	default:
		return NeedsDecision, nil
	}
}
