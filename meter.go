package pitchiq

import "time"

// Meter observes gateway events for monitoring/logging.
type Meter interface {
	// OnAdmission is called after every quota decision.
	OnAdmission(event AdmissionEvent)

	// OnResult is called when a prediction finishes, successfully or not.
	OnResult(event ResultEvent)
}

// AdmissionEvent describes a quota decision.
type AdmissionEvent struct {
	UserID        string
	Allowed       bool
	VIP           bool
	Model         string
	EstimatedIn   int64
	ReservationID string
}

// ResultEvent describes the outcome of a prediction.
type ResultEvent struct {
	UserID   string
	Provider string
	Model    string
	VIP      bool
	Success  bool
	Duration time.Duration
	Usage    Usage
	// Kind is the PredictError kind on failure.
	Kind  error
	Error error
}
