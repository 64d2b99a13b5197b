package invoice

import "fmt"

type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepProcessing StepStatus = "PROCESSING"
	StepSent       StepStatus = "SENT"
	StepSkipped    StepStatus = "SKIPPED"
	StepCancelled  StepStatus = "CANCELLED"
	StepFailed     StepStatus = "FAILED"
)

var AllStepStatuses = []StepStatus{
	StepPending, StepProcessing, StepSent, StepSkipped, StepCancelled, StepFailed,
}

// OutstandingStepStatuses are cancelled when an invoice leaves the cadence.
var OutstandingStepStatuses = []StepStatus{StepPending, StepProcessing}

func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepProcessing, StepSent, StepSkipped, StepCancelled, StepFailed:
		return true
	}
	return false
}

func (s StepStatus) Final() bool {
	switch s {
	case StepSent, StepSkipped, StepCancelled, StepFailed:
		return true
	}
	return false
}

// CanAdvance allows PENDING->PROCESSING->{SENT|FAILED} and any pre-send
// status to SKIPPED or CANCELLED. Nothing leaves a final status.
func CanAdvance(from, to StepStatus) bool {
	switch from {
	case StepPending:
		switch to {
		case StepProcessing, StepSkipped, StepCancelled:
			return true
		}
	case StepProcessing:
		switch to {
		case StepSent, StepFailed, StepSkipped, StepCancelled:
			return true
		}
	case StepSent, StepSkipped, StepCancelled, StepFailed:
		return false
	}
	return false
}

// PredecessorsOf lists the statuses a step may be in right before moving
// to to. Repositories use it as the guard of conditional updates.
func PredecessorsOf(to StepStatus) []StepStatus {
	var out []StepStatus
	for _, from := range AllStepStatuses {
		if CanAdvance(from, to) {
			out = append(out, from)
		}
	}
	return out
}

func CheckAdvance(from, to StepStatus) error {
	if !CanAdvance(from, to) {
		return fmt.Errorf("reminder step cannot move from %s to %s", from, to)
	}
	return nil
}
