package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clinicdesk/scheduler/internal/visit"
)

// VisitService is what the handlers need from the core; *visit.Service
// satisfies it.
type VisitService interface {
	Book(ctx context.Context, req visit.BookRequest) (*visit.Visit, error)
	CheckIn(ctx context.Context, appointmentCode string) (*visit.Visit, *visit.LatenessReport, error)
	UpdateStatus(ctx context.Context, appointmentCode, target string) (*visit.Visit, error)
	CompleteVisit(ctx context.Context, appointmentCode string) (*visit.Visit, error)
	CancelVisit(ctx context.Context, appointmentCode string) (*visit.Visit, error)
	GetVisitByCode(ctx context.Context, appointmentCode string) (*visit.Visit, error)
	ListVisitsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]visit.Visit, error)
	ListQueue(ctx context.Context, providerID *uuid.UUID, date time.Time) ([]visit.Visit, error)
}

type RouterConfig struct {
	Service VisitService
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Booking and visit lookup
	r.Post("/visits", bookVisitHandler(cfg.Service))
	r.Get("/visits", listVisitsHandler(cfg.Service))
	r.Get("/visits/{code}", getVisitHandler(cfg.Service))

	// External collaborator status operations
	r.Post("/visits/{code}/status", updateStatusHandler(cfg.Service))
	r.Post("/visits/{code}/complete", completeVisitHandler(cfg.Service))
	r.Post("/visits/{code}/cancel", cancelVisitHandler(cfg.Service))

	// Reception kiosk and staff display
	r.Post("/checkin", checkInHandler(cfg.Service))
	r.Get("/queue", queueHandler(cfg.Service))

	return r
}
