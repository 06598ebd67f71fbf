package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicdesk/scheduler/internal/visit"
)

func bookVisitHandler(svc VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookVisitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		v, err := svc.Book(r.Context(), visit.BookRequest{
			PatientID:      patientID,
			ProviderID:     providerID,
			Date:           req.Date,
			TimeSlot:       req.TimeSlot,
			VisitType:      req.VisitType,
			PurposeTitle:   req.PurposeTitle,
			ChiefComplaint: req.ChiefComplaint,
		})
		if err != nil {
			handleBookError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toVisitResponse(v))
	}
}

func checkInHandler(svc VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CheckInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		v, report, err := svc.CheckIn(r.Context(), req.AppointmentCode)
		if err != nil {
			handleCheckInError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CheckInResponse{
			Visit:    toVisitResponse(v),
			Lateness: toLatenessResponse(report),
		})
	}
}

func getVisitHandler(svc VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")

		v, err := svc.GetVisitByCode(r.Context(), code)
		if err != nil {
			handleLookupError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toVisitResponse(v))
	}
}

func listVisitsHandler(svc VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)

		visits, err := svc.ListVisitsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleLookupError(w, err)
			return
		}

		out := make([]VisitResponse, 0, len(visits))
		for i := range visits {
			out = append(out, toVisitResponse(&visits[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func updateStatusHandler(svc VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		v, err := svc.UpdateStatus(r.Context(), code, req.Status)
		if err != nil {
			handleStatusError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toVisitResponse(v))
	}
}

func completeVisitHandler(svc VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.CompleteVisit(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			handleStatusError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toVisitResponse(v))
	}
}

func cancelVisitHandler(svc VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.CancelVisit(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			handleStatusError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toVisitResponse(v))
	}
}

func queueHandler(svc VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var providerID *uuid.UUID
		if raw := r.URL.Query().Get("provider_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
				return
			}
			providerID = &id
		}

		date := time.Time{}
		if raw := r.URL.Query().Get("date"); raw != "" {
			parsed, err := visit.ParseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			date = parsed
		}

		visits, err := svc.ListQueue(r.Context(), providerID, date)
		if err != nil {
			handleLookupError(w, err)
			return
		}

		out := make([]VisitResponse, 0, len(visits))
		for i := range visits {
			out = append(out, toVisitResponse(&visits[i]))
		}

		displayDate := date
		if displayDate.IsZero() {
			displayDate = time.Now()
		}

		writeJSON(w, http.StatusOK, QueueResponse{
			Date:   visit.FormatDate(displayDate),
			Count:  len(out),
			Visits: out,
		})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func handleBookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, visit.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, visit.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, visit.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, visit.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, visit.ErrSlotExhausted):
		writeError(w, http.StatusConflict, "slot_exhausted", err.Error())
	case errors.Is(err, visit.ErrCodeGenerationExhausted):
		writeError(w, http.StatusInternalServerError, "code_generation_exhausted", err.Error())
	case errors.Is(err, visit.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleCheckInError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, visit.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, visit.ErrVisitNotFound):
		writeError(w, http.StatusNotFound, "visit_not_found", err.Error())
	case errors.Is(err, visit.ErrAppointmentExpired):
		writeError(w, http.StatusConflict, "appointment_expired", err.Error())
	case errors.Is(err, visit.ErrAppointmentNotYetDue):
		writeError(w, http.StatusConflict, "appointment_not_yet_due", err.Error())
	case errors.Is(err, visit.ErrMalformedSchedule):
		writeError(w, http.StatusUnprocessableEntity, "malformed_schedule", err.Error())
	case errors.Is(err, visit.ErrCheckInBusy),
		errors.Is(err, visit.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "checkin_conflict", "visit is being checked in elsewhere, please retry shortly")
	case errors.Is(err, visit.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, visit.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleStatusError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, visit.ErrVisitNotFound):
		writeError(w, http.StatusNotFound, "visit_not_found", err.Error())
	case errors.Is(err, visit.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, visit.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "concurrency_conflict", err.Error())
	case errors.Is(err, visit.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, visit.ErrVisitNotFound):
		writeError(w, http.StatusNotFound, "visit_not_found", err.Error())
	case errors.Is(err, visit.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
