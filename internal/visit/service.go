package visit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduler/internal/notify"
	redisclient "github.com/clinicdesk/scheduler/internal/redis"
)

const (
	EventVisitBooked      = "VISIT_BOOKED"
	EventVisitCheckedIn   = "VISIT_CHECKED_IN"
	EventVisitRescheduled = "VISIT_RESCHEDULED"
	EventVisitStatusSet   = "VISIT_STATUS_SET"
	EventVisitNoShow      = "VISIT_NO_SHOW"
)

var (
	ErrValidation              = errors.New("invalid booking input")
	ErrMalformedSchedule       = errors.New("stored schedule label is malformed")
	ErrAppointmentExpired      = errors.New("appointment date has passed")
	ErrAppointmentNotYetDue    = errors.New("appointment date is in the future")
	ErrCodeGenerationExhausted = errors.New("could not generate a unique appointment code")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrCheckInBusy             = errors.New("visit is currently being checked in, please retry")
)

const (
	maxPurposeLen   = 100
	maxComplaintLen = 500
)

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	codes    CodeGenerator
	notifier notify.Notifier
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, codes CodeGenerator, notifier notify.Notifier) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		codes:    codes,
		notifier: notifier,
		now:      time.Now,
	}
}

// WithClock overrides the wall clock; tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type BookRequest struct {
	PatientID      uuid.UUID
	ProviderID     uuid.UUID
	Date           string
	TimeSlot       string
	VisitType      string
	PurposeTitle   string
	ChiefComplaint string
}

// Book reserves one unit of slot capacity and creates the visit in
// queued state. Reservation and visit insert commit together; if the
// insert fails the reservation rolls back with it. The confirmation
// notification goes out only after the commit and its failure is logged,
// never propagated.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Visit, error) {
	date, slot, err := validateBookRequest(req)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.repo.GetProviderByID(ctx, req.ProviderID); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	visitType := req.VisitType
	if visitType == "" {
		visitType = "consultation"
	}

	var created *Visit
	for attempt := 0; attempt < MaxCodeAttempts; attempt++ {
		code, err := s.codes.NewCode(s.now())
		if err != nil {
			return nil, fmt.Errorf("generate appointment code: %w", err)
		}

		created, err = s.repo.CreateVisitWithReservation(ctx, Visit{
			AppointmentCode: code,
			PatientID:       req.PatientID,
			ProviderID:      req.ProviderID,
			DateScheduled:   date,
			TimeScheduled:   slot,
			VisitType:       visitType,
			PurposeTitle:    req.PurposeTitle,
			ChiefComplaint:  req.ChiefComplaint,
			Status:          StatusQueued,
		})
		if err != nil {
			if errors.Is(err, ErrDuplicateCode) {
				continue
			}
			return nil, err
		}
		break
	}
	if created == nil {
		return nil, ErrCodeGenerationExhausted
	}

	s.logEvent(ctx, created.RecordNo, EventVisitBooked, map[string]any{
		"appointment_code": created.AppointmentCode,
		"provider_id":      created.ProviderID.String(),
		"date":             FormatDate(created.DateScheduled),
		"time_slot":        created.TimeScheduled.String(),
	})

	if err := s.notifier.NotifyBookingConfirmed(ctx, notify.BookingConfirmed{
		AppointmentCode: created.AppointmentCode,
		PatientID:       created.PatientID,
		ProviderID:      created.ProviderID,
		Date:            FormatDate(created.DateScheduled),
		TimeSlot:        created.TimeScheduled.String(),
	}); err != nil {
		log.Printf("booking confirmation dispatch failed for %s: %v", created.AppointmentCode, err)
	}

	return created, nil
}

func validateBookRequest(req BookRequest) (time.Time, TimeOfDay, error) {
	if req.PatientID == uuid.Nil {
		return time.Time{}, 0, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if req.ProviderID == uuid.Nil {
		return time.Time{}, 0, fmt.Errorf("%w: provider_id is required", ErrValidation)
	}
	if req.Date == "" {
		return time.Time{}, 0, fmt.Errorf("%w: date is required", ErrValidation)
	}
	if req.TimeSlot == "" {
		return time.Time{}, 0, fmt.Errorf("%w: time_slot is required", ErrValidation)
	}
	if len(req.PurposeTitle) > maxPurposeLen {
		return time.Time{}, 0, fmt.Errorf("%w: purpose_title exceeds %d characters", ErrValidation, maxPurposeLen)
	}
	if len(req.ChiefComplaint) > maxComplaintLen {
		return time.Time{}, 0, fmt.Errorf("%w: chief_complaint exceeds %d characters", ErrValidation, maxComplaintLen)
	}

	date, err := ParseDate(req.Date)
	if err != nil {
		return time.Time{}, 0, err
	}
	slot, err := ParseTimeOfDay(req.TimeSlot)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: time_slot %q", ErrValidation, req.TimeSlot)
	}

	return date, slot, nil
}

// CheckIn admits a visit into the day's queue, rescheduling it per the
// lateness policy. The decision is a pure function of the stored visit
// and the current minute, so a second scan in the same minute reproduces
// it. A per-code lock plus a compare-and-set on the slot label keep
// concurrent scans of one code from both rescheduling.
func (s *Service) CheckIn(ctx context.Context, appointmentCode string) (*Visit, *LatenessReport, error) {
	if appointmentCode == "" {
		return nil, nil, fmt.Errorf("%w: appointment_code is required", ErrValidation)
	}

	var (
		updated *Visit
		report  LatenessReport
	)

	err := s.locker.WithVisitLock(ctx, appointmentCode, func(lockCtx context.Context) error {
		v, err := s.repo.GetVisitByCode(lockCtx, appointmentCode)
		if err != nil {
			return err
		}

		if v.Status != StatusQueued {
			return fmt.Errorf("%w: cannot check in a %s visit", ErrInvalidStatusTransition, v.Status)
		}

		now := s.now()
		today := DateOnly(now)
		scheduled := DateOnly(v.DateScheduled)
		switch {
		case scheduled.Before(today):
			return ErrAppointmentExpired
		case scheduled.After(today):
			return ErrAppointmentNotYetDue
		}

		if !v.TimeScheduled.Valid() {
			return fmt.Errorf("%w: stored slot %d", ErrMalformedSchedule, int(v.TimeScheduled))
		}

		// Lateness is always measured from the originally booked slot so
		// repeated scans keep producing the same report.
		base := v.TimeScheduled
		if v.OriginalTimeScheduled != nil {
			base = *v.OriginalTimeScheduled
		}
		report = ApplyLatenessPolicy(base, FromClock(now))

		if report.NewTime != v.TimeScheduled {
			updated, err = s.repo.UpdateVisitSchedule(lockCtx, v.RecordNo, v.TimeScheduled, report.NewTime)
			if err != nil {
				return err
			}
			s.logEvent(lockCtx, updated.RecordNo, EventVisitRescheduled, map[string]any{
				"from":         v.TimeScheduled.String(),
				"to":           report.NewTime.String(),
				"minutes_late": report.MinutesLate,
				"reason":       string(report.Reason),
			})
		} else {
			updated, err = s.repo.UpdateVisitStatus(lockCtx, v.RecordNo, StatusQueued, StatusQueued)
			if err != nil {
				return err
			}
		}

		s.logEvent(lockCtx, updated.RecordNo, EventVisitCheckedIn, map[string]any{
			"minutes_late": report.MinutesLate,
			"reason":       string(report.Reason),
		})

		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, nil, ErrCheckInBusy
		}
		return nil, nil, err
	}

	return updated, &report, nil
}

// UpdateStatus applies an explicit status change requested by an
// external workflow (staff calling a patient in, consultation
// completion, cancellation). Unknown targets and moves out of terminal
// states are rejected before touching the store.
func (s *Service) UpdateStatus(ctx context.Context, appointmentCode string, target string) (*Visit, error) {
	to, err := ParseStatus(target)
	if err != nil {
		return nil, err
	}

	v, err := s.repo.GetVisitByCode(ctx, appointmentCode)
	if err != nil {
		return nil, err
	}

	if IsTerminal(v.Status) {
		return nil, fmt.Errorf("%w: visit is already %s", ErrInvalidStatusTransition, v.Status)
	}
	if !CanTransition(v.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, v.Status, to)
	}

	updated, err := s.repo.UpdateVisitStatus(ctx, v.RecordNo, v.Status, to)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.RecordNo, EventVisitStatusSet, map[string]any{
		"from": string(v.Status),
		"to":   string(to),
	})

	return updated, nil
}

// CompleteVisit is the consultation-completion hook.
func (s *Service) CompleteVisit(ctx context.Context, appointmentCode string) (*Visit, error) {
	return s.UpdateStatus(ctx, appointmentCode, string(StatusCompleted))
}

// CancelVisit transitions a visit to cancelled. Slot capacity is not
// restored: once reserved, a unit stays spent even if the visit never
// happens.
func (s *Service) CancelVisit(ctx context.Context, appointmentCode string) (*Visit, error) {
	return s.UpdateStatus(ctx, appointmentCode, string(StatusCancelled))
}

// ListQueue is the staff-display projection: same-day visits still
// queued or being served, ordered by their current slot label.
func (s *Service) ListQueue(ctx context.Context, providerID *uuid.UUID, date time.Time) ([]Visit, error) {
	if date.IsZero() {
		date = s.now()
	}
	return s.repo.ListQueue(ctx, providerID, DateOnly(date))
}

func (s *Service) GetVisitByCode(ctx context.Context, appointmentCode string) (*Visit, error) {
	return s.repo.GetVisitByCode(ctx, appointmentCode)
}

func (s *Service) ListVisitsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Visit, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	visits, err := s.repo.ListVisitsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list visits by patient: %w", err)
	}
	return visits, nil
}

// SweepNoShows cancels visits still queued after their scheduled day has
// passed; the date guard makes them impossible to check in. Run
// periodically by the noshow-worker.
func (s *Service) SweepNoShows(ctx context.Context) (int, error) {
	today := DateOnly(s.now())
	stale, err := s.repo.FindStaleQueued(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("find stale queued visits: %w", err)
	}

	swept := 0
	for _, v := range stale {
		if _, err := s.repo.UpdateVisitStatus(ctx, v.RecordNo, StatusQueued, StatusCancelled); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			log.Printf("failed to cancel no-show visit %d: %v", v.RecordNo, err)
			continue
		}
		swept++
		s.logEvent(ctx, v.RecordNo, EventVisitNoShow, map[string]any{
			"date_scheduled": FormatDate(v.DateScheduled),
		})
	}

	return swept, nil
}

func (s *Service) logEvent(ctx context.Context, recordNo int64, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	rec := recordNo

	ev := EventLog{
		EventType: eventType,
		RecordNo:  &rec,
		Payload:   data,
		CreatedAt: s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for visit %d: %v", eventType, recordNo, err)
	}
}
