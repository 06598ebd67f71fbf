package visit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// PgxPool is the subset of pgxpool.Pool the repository uses; pgxmock
// implements it in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgxPool = (*pgxpool.Pool)(nil)

type PgRepository struct {
	pool PgxPool
}

func NewPgRepository(pool PgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

// wrapStore keeps transient infrastructure failures distinguishable from
// domain errors so callers can decide to retry.
func wrapStore(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, wrapStore("scan patient", err)
	}

	p.Email = email
	return &p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var specialty *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&specialty,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, wrapStore("scan provider", err)
	}

	p.Specialty = specialty
	return &p, nil
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	var timeScheduled int
	var originalTime *int

	err := row.Scan(
		&v.RecordNo,
		&v.AppointmentCode,
		&v.PatientID,
		&v.ProviderID,
		&v.DateScheduled,
		&timeScheduled,
		&originalTime,
		&v.VisitType,
		&v.PurposeTitle,
		&v.ChiefComplaint,
		&v.Status,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVisitNotFound
		}
		return nil, wrapStore("scan visit", err)
	}

	v.TimeScheduled = TimeOfDay(timeScheduled)
	if originalTime != nil {
		orig := TimeOfDay(*originalTime)
		v.OriginalTimeScheduled = &orig
	}
	return &v, nil
}

const visitColumns = `record_no, appointment_code, patient_id, provider_id,
		       date_scheduled, time_scheduled, original_time_scheduled,
		       visit_type, purpose_title, chief_complaint, status,
		       created_at, updated_at`

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetSlotCapacity(ctx context.Context, providerID uuid.UUID, date time.Time, slot TimeOfDay) (*SlotCapacity, error) {
	var c SlotCapacity
	var slotMinutes int

	err := r.pool.QueryRow(ctx, `
		SELECT provider_id, slot_date, slot_minutes, remaining, created_at, updated_at
		FROM slot_capacity
		WHERE provider_id = $1 AND slot_date = $2 AND slot_minutes = $3
	`, providerID, date, int(slot)).Scan(
		&c.ProviderID,
		&c.Date,
		&slotMinutes,
		&c.Remaining,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotUnavailable
		}
		return nil, wrapStore("get slot capacity", err)
	}

	c.Slot = TimeOfDay(slotMinutes)
	return &c, nil
}

// CreateVisitWithReservation spends one unit of slot capacity and inserts
// the visit row inside a single transaction. The decrement is guarded by
// remaining > 0 and verified through the affected-row count, so two
// concurrent bookings can never both spend the last unit.
func (r *PgRepository) CreateVisitWithReservation(ctx context.Context, v Visit) (*Visit, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, wrapStore("begin booking tx", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE slot_capacity
		SET remaining = remaining - 1,
		    updated_at = now()
		WHERE provider_id = $1
		  AND slot_date = $2
		  AND slot_minutes = $3
		  AND remaining > 0
	`, v.ProviderID, v.DateScheduled, int(v.TimeScheduled))
	if err != nil {
		return nil, wrapStore("reserve slot", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM slot_capacity
				WHERE provider_id = $1 AND slot_date = $2 AND slot_minutes = $3
			)
		`, v.ProviderID, v.DateScheduled, int(v.TimeScheduled)).Scan(&exists)
		if err != nil {
			return nil, wrapStore("probe slot capacity", err)
		}
		if exists {
			return nil, ErrSlotExhausted
		}
		return nil, ErrSlotUnavailable
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO visits (appointment_code, patient_id, provider_id,
		                    date_scheduled, time_scheduled, visit_type,
		                    purpose_title, chief_complaint, status,
		                    created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+visitColumns+`
	`, v.AppointmentCode, v.PatientID, v.ProviderID, v.DateScheduled,
		int(v.TimeScheduled), v.VisitType, v.PurposeTitle, v.ChiefComplaint,
		string(v.Status))

	created, err := scanVisit(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateCode
		}
		return nil, wrapStore("insert visit", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapStore("commit booking tx", err)
	}

	return created, nil
}

func (r *PgRepository) GetVisitByCode(ctx context.Context, code string) (*Visit, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE appointment_code = $1
	`, code)
	return scanVisit(row)
}

func (r *PgRepository) GetVisitByRecordNo(ctx context.Context, recordNo int64) (*Visit, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE record_no = $1
	`, recordNo)
	return scanVisit(row)
}

func (r *PgRepository) ListVisitsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Visit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE patient_id = $1
		ORDER BY date_scheduled DESC, time_scheduled DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, wrapStore("list visits by patient", err)
	}
	defer rows.Close()

	return collectVisits(rows)
}

func (r *PgRepository) ListQueue(ctx context.Context, providerID *uuid.UUID, date time.Time) ([]Visit, error) {
	query := `
		SELECT ` + visitColumns + `
		FROM visits
		WHERE date_scheduled = $1
		  AND status IN ('queued', 'current')
	`
	args := []any{date}
	if providerID != nil {
		query += ` AND provider_id = $2`
		args = append(args, *providerID)
	}
	query += ` ORDER BY time_scheduled ASC, record_no ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStore("list queue", err)
	}
	defer rows.Close()

	return collectVisits(rows)
}

// UpdateVisitSchedule moves a queued visit to a new slot label. The
// WHERE clause re-checks the label read before the update, so the second
// of two concurrent check-ins fails with ErrConcurrencyConflict instead
// of overwriting the first. original_time_scheduled is preserved only
// the first time the visit moves.
func (r *PgRepository) UpdateVisitSchedule(ctx context.Context, recordNo int64, expect, to TimeOfDay) (*Visit, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE visits
		SET time_scheduled = $2,
		    original_time_scheduled = COALESCE(original_time_scheduled, time_scheduled),
		    status = 'queued',
		    updated_at = now()
		WHERE record_no = $1
		  AND time_scheduled = $3
		  AND status = 'queued'
		RETURNING `+visitColumns+`
	`, recordNo, int(to), int(expect))

	updated, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, ErrVisitNotFound) {
			return nil, ErrConcurrencyConflict
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) UpdateVisitStatus(ctx context.Context, recordNo int64, from, to Status) (*Visit, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE visits
		SET status = $2,
		    updated_at = now()
		WHERE record_no = $1
		  AND status = $3
		RETURNING `+visitColumns+`
	`, recordNo, string(to), string(from))

	updated, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, ErrVisitNotFound) {
			return nil, ErrConcurrencyConflict
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) FindStaleQueued(ctx context.Context, before time.Time) ([]Visit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE status = 'queued'
		  AND date_scheduled < $1
	`, before)
	if err != nil {
		return nil, wrapStore("find stale queued", err)
	}
	defer rows.Close()

	return collectVisits(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, record_no, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.RecordNo, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func collectVisits(rows pgx.Rows) ([]Visit, error) {
	var result []Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapStore("iterate visits", err)
	}

	return result, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
