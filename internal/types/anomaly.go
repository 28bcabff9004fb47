package types

import "slices"

// ErrorKind names a failure or recovered anomaly.
type ErrorKind string

const (
	KindMalformedIdentifier      ErrorKind = "MalformedIdentifier"
	KindAmbiguousContinuation    ErrorKind = "AmbiguousContinuation"
	KindDanglingReference        ErrorKind = "DanglingReference"
	KindResolutionCycle          ErrorKind = "ResolutionCycle"
	KindCorruptState             ErrorKind = "CorruptState"
	KindFingerprintMismatch      ErrorKind = "FingerprintMismatch"
	KindOutOfOrderPage           ErrorKind = "OutOfOrderPage"
	KindUnterminatedContinuation ErrorKind = "UnterminatedContinuation"
	KindOrphanContinuation       ErrorKind = "OrphanContinuation"
	KindDuplicateIdentifier      ErrorKind = "DuplicateIdentifier"
	KindPartMismatch             ErrorKind = "PartMismatch"
	KindRelabelledContinuation   ErrorKind = "RelabelledContinuation"
	KindDetectionFallback        ErrorKind = "DetectionFallback"
)

// Severity says what a reader of the output should do about an anomaly.
type Severity string

const (
	// SeverityWarning is informational; the unit is usable as is.
	SeverityWarning Severity = "warning"
	// SeverityReview means a human should check the unit.
	SeverityReview Severity = "review"
)

// Anomaly is a recovered problem attached to the unit it affected.
type Anomaly struct {
	Kind     ErrorKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Page     int       `json:"page,omitempty"`
	Related  []string  `json:"related,omitempty"`
}

func cloneAnomalies(in []Anomaly) []Anomaly {
	if in == nil {
		return nil
	}
	out := make([]Anomaly, len(in))
	for i, a := range in {
		a.Related = slices.Clone(a.Related)
		out[i] = a
	}
	return out
}
