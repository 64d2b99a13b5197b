// Package invoice holds the invoice and reminder-step state machines.
// It does no I/O; repositories and services enforce what it decides.
package invoice

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusOverdue   Status = "overdue"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

var AllStatuses = []Status{
	StatusDraft, StatusScheduled, StatusSent, StatusOverdue, StatusPaid, StatusCancelled,
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown invoice status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusSent, StatusOverdue, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses accept no further events except the idempotent mark_paid on paid.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// InCadence reports whether reminders may still fire for an invoice in this status.
func (s Status) InCadence() bool {
	return s.Valid() && !s.Terminal()
}

type Event string

const (
	EventSchedule    Event = "schedule"
	EventSend        Event = "send"
	EventMarkOverdue Event = "mark_overdue"
	EventMarkPaid    Event = "mark_paid"
	EventCancel      Event = "cancel"
)

var ErrInvalidTransition = errors.New("invalid invoice transition")

type TransitionError struct {
	From  Status
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s an invoice that is %s", strings.ReplaceAll(string(e.Event), "_", " "), e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Result describes an applied transition. NoOp is set when the event was
// legal but changed nothing (mark_paid on an already paid invoice).
type Result struct {
	From Status
	To   Status
	NoOp bool
}

// Transition returns the status an invoice in from moves to on ev.
func Transition(from Status, ev Event) (Result, error) {
	res := Result{From: from, To: from}
	invalid := &TransitionError{From: from, Event: ev}

	if !from.Valid() {
		return res, invalid
	}

	switch ev {
	case EventSchedule:
		if from != StatusDraft {
			return res, invalid
		}
		res.To = StatusScheduled

	case EventSend:
		switch from {
		case StatusDraft, StatusScheduled, StatusSent:
			res.To = StatusSent
		case StatusOverdue:
			// resending an overdue invoice keeps it overdue
			res.To = StatusOverdue
		default:
			return res, invalid
		}

	case EventMarkOverdue:
		if from != StatusSent && from != StatusScheduled {
			return res, invalid
		}
		res.To = StatusOverdue

	case EventMarkPaid:
		switch from {
		case StatusPaid:
			res.NoOp = true
		case StatusCancelled:
			return res, invalid
		default:
			res.To = StatusPaid
		}

	case EventCancel:
		if from.Terminal() {
			return res, invalid
		}
		res.To = StatusCancelled

	default:
		return res, invalid
	}

	return res, nil
}

// SourcesOf lists the statuses ev moves to a different status. Bulk
// updates use it as their guard so the rule stays in Transition.
func SourcesOf(ev Event) []Status {
	var out []Status
	for _, from := range AllStatuses {
		if res, err := Transition(from, ev); err == nil && res.To != from {
			out = append(out, from)
		}
	}
	return out
}

// StopsReminders reports whether entering to must disable reminders and
// cancel outstanding steps.
func StopsReminders(to Status) bool {
	return to.Terminal()
}
