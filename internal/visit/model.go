package visit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusCurrent   Status = "current"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions is the closed transition table for visit statuses.
// Completed and Cancelled are terminal.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusQueued, StatusCurrent, StatusCompleted, StatusCancelled},
	StatusCurrent: {StatusCompleted, StatusCancelled},
}

// ParseStatus rejects anything outside the recognized status set.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusQueued, StatusCurrent, StatusCompleted, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, s)
}

// CanTransition reports whether from -> to is an allowed move.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition may leave the status.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

type LatenessReason string

const (
	ReasonOnTime    LatenessReason = "on_time"
	ReasonLateMinor LatenessReason = "late_minor"
	ReasonLateMajor LatenessReason = "late_major"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlotCapacity is one unit of bookable capacity for a provider, date and
// slot label. Remaining only ever moves down, one reservation at a time.
type SlotCapacity struct {
	ProviderID uuid.UUID
	Date       time.Time
	Slot       TimeOfDay
	Remaining  int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Visit is the appointment/queue record. TimeScheduled may diverge from
// OriginalTimeScheduled only through a check-in reschedule.
type Visit struct {
	RecordNo              int64
	AppointmentCode       string
	PatientID             uuid.UUID
	ProviderID            uuid.UUID
	DateScheduled         time.Time
	TimeScheduled         TimeOfDay
	OriginalTimeScheduled *TimeOfDay
	VisitType             string
	PurposeTitle          string
	ChiefComplaint        string
	Status                Status
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// LatenessReport is the outcome of one check-in decision.
type LatenessReport struct {
	MinutesLate  int
	Reason       LatenessReason
	OriginalTime TimeOfDay
	NewTime      TimeOfDay
}

// Rescheduled reports whether the policy moved the visit to a new slot.
func (r LatenessReport) Rescheduled() bool {
	return r.NewTime != r.OriginalTime
}

type EventLog struct {
	ID        int64
	EventType string
	RecordNo  *int64
	Payload   []byte
	CreatedAt time.Time
}
