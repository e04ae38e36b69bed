package models

// Alert codes emitted by the ML scorer, plus the synthetic degraded marker.
const (
	AlertPhoneDetected = "PHONE_DETECTED"
	AlertMultipleFaces = "MULTIPLE_FACES"
	AlertNoFace        = "NO_FACE"
	AlertEyesClosed    = "EYES_CLOSED"
	AlertLookingAway   = "LOOKING_AWAY"
	AlertGazeAway      = "GAZE_AWAY"
	AlertTabSwitch     = "TAB_SWITCH"
	AlertDegradedMode  = "DEGRADED_MODE"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Alert is a single detection attached to a scored frame.
type Alert struct {
	Code        string    `json:"code"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	BBox        []float64 `json:"bbox,omitempty"`
}

// IsHighSeverity reports whether the alert qualifies for escalation.
func (a Alert) IsHighSeverity() bool {
	return a.Severity == SeverityHigh
}
