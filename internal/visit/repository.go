package visit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound  = errors.New("patient not found")
	ErrProviderNotFound = errors.New("provider not found")
	ErrVisitNotFound    = errors.New("visit not found")

	// ErrSlotUnavailable means no capacity row was ever opened for the
	// slot; ErrSlotExhausted means the row exists with zero remaining.
	ErrSlotUnavailable = errors.New("slot not opened by provider")
	ErrSlotExhausted   = errors.New("slot capacity exhausted")

	// ErrDuplicateCode is the unique-index collision on
	// appointment_code; the booking service retries with a fresh code.
	ErrDuplicateCode = errors.New("appointment code already in use")

	// ErrConcurrencyConflict means a compare-and-set update lost to a
	// concurrent writer of the same visit row.
	ErrConcurrencyConflict = errors.New("visit was modified concurrently")

	ErrStoreUnavailable = errors.New("store unavailable")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)

	// Slot ledger
	GetSlotCapacity(ctx context.Context, providerID uuid.UUID, date time.Time, slot TimeOfDay) (*SlotCapacity, error)

	// CreateVisitWithReservation decrements the slot's remaining
	// capacity and inserts the visit row in a single transaction. The
	// decrement is conditional on remaining > 0; both changes commit or
	// roll back together.
	CreateVisitWithReservation(ctx context.Context, v Visit) (*Visit, error)

	GetVisitByCode(ctx context.Context, code string) (*Visit, error)
	GetVisitByRecordNo(ctx context.Context, recordNo int64) (*Visit, error)
	ListVisitsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Visit, error)

	// ListQueue returns same-day visits still in queued/current state,
	// ordered by their current slot label. providerID narrows to one
	// provider when non-nil.
	ListQueue(ctx context.Context, providerID *uuid.UUID, date time.Time) ([]Visit, error)

	// UpdateVisitSchedule applies a check-in reschedule, guarded by a
	// compare-and-set on the previously read slot label so concurrent
	// check-ins of the same code cannot both win.
	UpdateVisitSchedule(ctx context.Context, recordNo int64, expect, to TimeOfDay) (*Visit, error)

	// UpdateVisitStatus is a compare-and-set status transition.
	UpdateVisitStatus(ctx context.Context, recordNo int64, from, to Status) (*Visit, error)

	// No-show sweep
	FindStaleQueued(ctx context.Context, before time.Time) ([]Visit, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
