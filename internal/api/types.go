package api

import (
	"time"

	"github.com/clinicdesk/scheduler/internal/visit"
)

type BookVisitRequest struct {
	PatientID      string `json:"patient_id"`
	ProviderID     string `json:"provider_id"`
	Date           string `json:"date"`
	TimeSlot       string `json:"time_slot"`
	VisitType      string `json:"visit_type,omitempty"`
	PurposeTitle   string `json:"purpose_title,omitempty"`
	ChiefComplaint string `json:"chief_complaint,omitempty"`
}

type CheckInRequest struct {
	AppointmentCode string `json:"appointment_code"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type VisitResponse struct {
	RecordNo              int64     `json:"record_no"`
	AppointmentCode       string    `json:"appointment_code"`
	PatientID             string    `json:"patient_id"`
	ProviderID            string    `json:"provider_id"`
	Date                  string    `json:"date"`
	TimeScheduled         string    `json:"time_scheduled"`
	OriginalTimeScheduled string    `json:"original_time_scheduled,omitempty"`
	VisitType             string    `json:"visit_type"`
	PurposeTitle          string    `json:"purpose_title,omitempty"`
	ChiefComplaint        string    `json:"chief_complaint,omitempty"`
	Status                string    `json:"status"`
	CreatedAt             time.Time `json:"created_at"`
}

type LatenessReportResponse struct {
	MinutesLate  int    `json:"minutes_late"`
	Reason       string `json:"reason"`
	OriginalTime string `json:"original_time"`
	NewTime      string `json:"new_time"`
	Rescheduled  bool   `json:"rescheduled"`
}

type CheckInResponse struct {
	Visit    VisitResponse          `json:"visit"`
	Lateness LatenessReportResponse `json:"lateness"`
}

type QueueResponse struct {
	Date   string          `json:"date"`
	Count  int             `json:"count"`
	Visits []VisitResponse `json:"visits"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toVisitResponse(v *visit.Visit) VisitResponse {
	resp := VisitResponse{
		RecordNo:        v.RecordNo,
		AppointmentCode: v.AppointmentCode,
		PatientID:       v.PatientID.String(),
		ProviderID:      v.ProviderID.String(),
		Date:            visit.FormatDate(v.DateScheduled),
		TimeScheduled:   v.TimeScheduled.String(),
		VisitType:       v.VisitType,
		PurposeTitle:    v.PurposeTitle,
		ChiefComplaint:  v.ChiefComplaint,
		Status:          string(v.Status),
		CreatedAt:       v.CreatedAt,
	}
	if v.OriginalTimeScheduled != nil {
		resp.OriginalTimeScheduled = v.OriginalTimeScheduled.String()
	}
	return resp
}

func toLatenessResponse(r *visit.LatenessReport) LatenessReportResponse {
	return LatenessReportResponse{
		MinutesLate:  r.MinutesLate,
		Reason:       string(r.Reason),
		OriginalTime: r.OriginalTime.String(),
		NewTime:      r.NewTime.String(),
		Rescheduled:  r.Rescheduled(),
	}
}
