package visit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var visitColumnNames = []string{
	"record_no", "appointment_code", "patient_id", "provider_id",
	"date_scheduled", "time_scheduled", "original_time_scheduled",
	"visit_type", "purpose_title", "chief_complaint", "status",
	"created_at", "updated_at",
}

func testVisit() Visit {
	return Visit{
		RecordNo:        42,
		AppointmentCode: "APT-20260901-K7MNP",
		PatientID:       uuid.New(),
		ProviderID:      uuid.New(),
		DateScheduled:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		TimeScheduled:   600,
		VisitType:       "consultation",
		PurposeTitle:    "annual check-up",
		Status:          StatusQueued,
		CreatedAt:       time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		UpdatedAt:       time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func visitRows(v Visit) *pgxmock.Rows {
	var orig *int
	if v.OriginalTimeScheduled != nil {
		o := int(*v.OriginalTimeScheduled)
		orig = &o
	}
	return pgxmock.NewRows(visitColumnNames).AddRow(
		v.RecordNo, v.AppointmentCode, v.PatientID, v.ProviderID,
		v.DateScheduled, int(v.TimeScheduled), orig,
		v.VisitType, v.PurposeTitle, v.ChiefComplaint, v.Status,
		v.CreatedAt, v.UpdatedAt,
	)
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func TestCreateVisitWithReservation(t *testing.T) {
	mock, repo := newMockRepo(t)
	v := testVisit()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slot_capacity").
		WithArgs(v.ProviderID, v.DateScheduled, int(v.TimeScheduled)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO visits").
		WithArgs(v.AppointmentCode, v.PatientID, v.ProviderID, v.DateScheduled,
			int(v.TimeScheduled), v.VisitType, v.PurposeTitle, v.ChiefComplaint,
			string(v.Status)).
		WillReturnRows(visitRows(v))
	mock.ExpectCommit()

	created, err := repo.CreateVisitWithReservation(context.Background(), v)
	require.NoError(t, err)

	assert.Equal(t, v.RecordNo, created.RecordNo)
	assert.Equal(t, v.AppointmentCode, created.AppointmentCode)
	assert.Equal(t, v.TimeScheduled, created.TimeScheduled)
	assert.Nil(t, created.OriginalTimeScheduled)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateVisitSlotExhausted(t *testing.T) {
	mock, repo := newMockRepo(t)
	v := testVisit()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slot_capacity").
		WithArgs(v.ProviderID, v.DateScheduled, int(v.TimeScheduled)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(v.ProviderID, v.DateScheduled, int(v.TimeScheduled)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.CreateVisitWithReservation(context.Background(), v)
	assert.ErrorIs(t, err, ErrSlotExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateVisitSlotUnavailable(t *testing.T) {
	mock, repo := newMockRepo(t)
	v := testVisit()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slot_capacity").
		WithArgs(v.ProviderID, v.DateScheduled, int(v.TimeScheduled)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(v.ProviderID, v.DateScheduled, int(v.TimeScheduled)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.CreateVisitWithReservation(context.Background(), v)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateVisitDuplicateCode(t *testing.T) {
	mock, repo := newMockRepo(t)
	v := testVisit()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slot_capacity").
		WithArgs(v.ProviderID, v.DateScheduled, int(v.TimeScheduled)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO visits").
		WithArgs(v.AppointmentCode, v.PatientID, v.ProviderID, v.DateScheduled,
			int(v.TimeScheduled), v.VisitType, v.PurposeTitle, v.ChiefComplaint,
			string(v.Status)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "visits_appointment_code_key"})
	mock.ExpectRollback()

	_, err := repo.CreateVisitWithReservation(context.Background(), v)
	assert.ErrorIs(t, err, ErrDuplicateCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateVisitInsertFailureRollsBack(t *testing.T) {
	mock, repo := newMockRepo(t)
	v := testVisit()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slot_capacity").
		WithArgs(v.ProviderID, v.DateScheduled, int(v.TimeScheduled)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO visits").
		WithArgs(v.AppointmentCode, v.PatientID, v.ProviderID, v.DateScheduled,
			int(v.TimeScheduled), v.VisitType, v.PurposeTitle, v.ChiefComplaint,
			string(v.Status)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.CreateVisitWithReservation(context.Background(), v)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateCode)

	// No commit expectation: the reservation must die with the tx.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetVisitByCodeNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM visits").
		WithArgs("APT-20260901-ZZZZZ").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetVisitByCode(context.Background(), "APT-20260901-ZZZZZ")
	assert.ErrorIs(t, err, ErrVisitNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSlotCapacity(t *testing.T) {
	mock, repo := newMockRepo(t)
	providerID := uuid.New()
	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM slot_capacity").
		WithArgs(providerID, date, 600).
		WillReturnRows(pgxmock.NewRows([]string{
			"provider_id", "slot_date", "slot_minutes", "remaining", "created_at", "updated_at",
		}).AddRow(providerID, date, 600, 3, date, date))

	c, err := repo.GetSlotCapacity(context.Background(), providerID, date, 600)
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(600), c.Slot)
	assert.Equal(t, 3, c.Remaining)

	mock.ExpectQuery("SELECT (.+) FROM slot_capacity").
		WithArgs(providerID, date, 720).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetSlotCapacity(context.Background(), providerID, date, 720)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateVisitSchedule(t *testing.T) {
	mock, repo := newMockRepo(t)

	moved := testVisit()
	orig := TimeOfDay(600)
	moved.TimeScheduled = 660
	moved.OriginalTimeScheduled = &orig

	mock.ExpectQuery("UPDATE visits").
		WithArgs(int64(42), 660, 600).
		WillReturnRows(visitRows(moved))

	updated, err := repo.UpdateVisitSchedule(context.Background(), 42, 600, 660)
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(660), updated.TimeScheduled)
	require.NotNil(t, updated.OriginalTimeScheduled)
	assert.Equal(t, TimeOfDay(600), *updated.OriginalTimeScheduled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateVisitScheduleConflict(t *testing.T) {
	mock, repo := newMockRepo(t)

	// Zero rows back means another check-in moved the visit first.
	mock.ExpectQuery("UPDATE visits").
		WithArgs(int64(42), 660, 600).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateVisitSchedule(context.Background(), 42, 600, 660)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateVisitStatusConflict(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("UPDATE visits").
		WithArgs(int64(42), "completed", "queued").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateVisitStatus(context.Background(), 42, StatusQueued, StatusCompleted)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListQueue(t *testing.T) {
	mock, repo := newMockRepo(t)
	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	providerID := uuid.New()

	first := testVisit()
	first.RecordNo = 1
	first.TimeScheduled = 540
	second := testVisit()
	second.RecordNo = 2
	second.TimeScheduled = 600
	second.Status = StatusCurrent

	rows := pgxmock.NewRows(visitColumnNames)
	for _, v := range []Visit{first, second} {
		rows.AddRow(
			v.RecordNo, v.AppointmentCode, v.PatientID, v.ProviderID,
			v.DateScheduled, int(v.TimeScheduled), (*int)(nil),
			v.VisitType, v.PurposeTitle, v.ChiefComplaint, v.Status,
			v.CreatedAt, v.UpdatedAt,
		)
	}

	mock.ExpectQuery("SELECT (.+) FROM visits").
		WithArgs(date, providerID).
		WillReturnRows(rows)

	queue, err := repo.ListQueue(context.Background(), &providerID, date)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, int64(1), queue[0].RecordNo)
	assert.Equal(t, int64(2), queue[1].RecordNo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListQueueAllProviders(t *testing.T) {
	mock, repo := newMockRepo(t)
	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM visits").
		WithArgs(date).
		WillReturnRows(pgxmock.NewRows(visitColumnNames))

	queue, err := repo.ListQueue(context.Background(), nil, date)
	require.NoError(t, err)
	assert.Empty(t, queue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEvent(t *testing.T) {
	mock, repo := newMockRepo(t)
	rec := int64(42)

	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs("VISIT_BOOKED", &rec, []byte(`{"k":"v"}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.InsertEvent(context.Background(), EventLog{
		EventType: "VISIT_BOOKED",
		RecordNo:  &rec,
		Payload:   []byte(`{"k":"v"}`),
		CreatedAt: time.Now(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindStaleQueued(t *testing.T) {
	mock, repo := newMockRepo(t)
	today := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	stale := testVisit()
	stale.DateScheduled = today.AddDate(0, 0, -2)

	mock.ExpectQuery("SELECT (.+) FROM visits").
		WithArgs(today).
		WillReturnRows(visitRows(stale))

	visits, err := repo.FindStaleQueued(context.Background(), today)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, stale.RecordNo, visits[0].RecordNo)
	assert.NoError(t, mock.ExpectationsWereMet())
}
