package models

import (
	"time"

	"github.com/google/uuid"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // visit.created, visit.completed, visit.deleted, visit.photos_uploaded
	BranchID  string                 `json:"branch_id"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Complaint is one presenting complaint captured at visit creation.
type Complaint struct {
	Complaint string `json:"complaint"`
	Duration  string `json:"duration,omitempty"` // e.g. "2 days", "1 week"
	Severity  string `json:"severity,omitempty"` // Mild, Moderate, Severe
	Notes     string `json:"notes,omitempty"`
}

type Diagnosis struct {
	Diagnosis string `json:"diagnosis"`
	ICD10Code string `json:"icd10Code,omitempty"`
	Type      string `json:"type,omitempty"` // Primary, Secondary, Differential
	Notes     string `json:"notes,omitempty"`
}

// Plan is the visit treatment-plan document. Every field is optional; a
// nil pointer means "not supplied" so the same type doubles as a
// merge-patch. Dermatology stays an open object to preserve custom nested
// structures used by the UI.
type Plan struct {
	Medications            *string                `json:"medications,omitempty"`
	Procedures             *string                `json:"procedures,omitempty"`
	LifestyleModifications *string                `json:"lifestyleModifications,omitempty"`
	Notes                  *string                `json:"notes,omitempty"`
	FinalNotes             *string                `json:"finalNotes,omitempty"`
	FollowUpInstructions   *string                `json:"followUpInstructions,omitempty"`
	Deleted                *bool                  `json:"deleted,omitempty"`
	DeletedAt              *string                `json:"deletedAt,omitempty"`
	Dermatology            map[string]interface{} `json:"dermatology,omitempty"`
}

type VisitStatus string

const (
	VisitStatusActive    VisitStatus = "ACTIVE"
	VisitStatusCompleted VisitStatus = "COMPLETED"
)

// Position is the photo framing slot an attachment was captured for.
type Position string

const (
	PositionFront        Position = "FRONT"
	PositionLeftProfile  Position = "LEFT_PROFILE"
	PositionRightProfile Position = "RIGHT_PROFILE"
	PositionBack         Position = "BACK"
	PositionCloseUp      Position = "CLOSE_UP"
	PositionOther        Position = "OTHER"
)

// NormalizePosition maps arbitrary input onto the known slots; anything
// unrecognized becomes OTHER.
func NormalizePosition(raw string) Position {
	switch Position(raw) {
	case PositionFront, PositionLeftProfile, PositionRightProfile, PositionBack, PositionCloseUp, PositionOther:
		return Position(raw)
	default:
		return PositionOther
	}
}

type PatientSummary struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Phone  string    `json:"phone,omitempty"`
	Gender string    `json:"gender,omitempty"`
}

type DoctorSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"`
}

type AppointmentSummary struct {
	ID     uuid.UUID `json:"id"`
	Date   time.Time `json:"date"`
	Slot   string    `json:"slot,omitempty"`
	Status string    `json:"status,omitempty"`
}

type Visit struct {
	ID            uuid.UUID              `json:"id"`
	PatientID     uuid.UUID              `json:"patient_id"`
	DoctorID      uuid.UUID              `json:"doctor_id"`
	AppointmentID *uuid.UUID             `json:"appointment_id,omitempty"`
	BranchID      string                 `json:"branch_id"`
	Vitals        map[string]interface{} `json:"vitals"`
	Complaints    []Complaint            `json:"complaints"`
	History       string                 `json:"history,omitempty"`
	Exam          map[string]interface{} `json:"exam"`
	Diagnosis     []Diagnosis            `json:"diagnosis"`
	Plan          *Plan                  `json:"plan"`
	Attachments   []string               `json:"attachments"`
	ScribeJSON    map[string]interface{} `json:"scribe_json"`
	Status        VisitStatus            `json:"status"`
	// Notes is derived from the plan document on reads; see the engine's
	// precedence rules.
	Notes       *string             `json:"notes"`
	FollowUp    *time.Time          `json:"follow_up,omitempty"`
	Patient     *PatientSummary     `json:"patient,omitempty"`
	Doctor      *DoctorSummary      `json:"doctor,omitempty"`
	Appointment *AppointmentSummary `json:"appointment,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

type CreateVisitRequest struct {
	PatientID     uuid.UUID              `json:"patient_id"`
	DoctorID      uuid.UUID              `json:"doctor_id"`
	AppointmentID *uuid.UUID             `json:"appointment_id,omitempty"`
	Vitals        map[string]interface{} `json:"vitals,omitempty"`
	Complaints    []Complaint            `json:"complaints"`
	History       string                 `json:"history,omitempty"`
	Examination   map[string]interface{} `json:"examination,omitempty"`
	Diagnosis     []Diagnosis            `json:"diagnosis,omitempty"`
	TreatmentPlan *Plan                  `json:"treatment_plan,omitempty"`
	Attachments   []string               `json:"attachments,omitempty"`
	ScribeJSON    map[string]interface{} `json:"scribe_json,omitempty"`
	Notes         *string                `json:"notes,omitempty"`
}

type UpdateVisitRequest struct {
	Vitals        map[string]interface{} `json:"vitals,omitempty"`
	Complaints    []Complaint            `json:"complaints,omitempty"`
	History       *string                `json:"history,omitempty"`
	Examination   map[string]interface{} `json:"examination,omitempty"`
	Diagnosis     []Diagnosis            `json:"diagnosis,omitempty"`
	TreatmentPlan *Plan                  `json:"treatment_plan,omitempty"`
	Attachments   []string               `json:"attachments,omitempty"`
	ScribeJSON    map[string]interface{} `json:"scribe_json,omitempty"`
	Notes         *string                `json:"notes,omitempty"`
}

type CompleteVisitRequest struct {
	FinalNotes           *string `json:"final_notes,omitempty"`
	FollowUpDate         *string `json:"follow_up_date,omitempty"` // ISO date or RFC 3339
	FollowUpInstructions *string `json:"follow_up_instructions,omitempty"`
}

type VisitQuery struct {
	PatientID     *uuid.UUID `json:"patient_id,omitempty"`
	DoctorID      *uuid.UUID `json:"doctor_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Date          string     `json:"date,omitempty"`
	StartDate     string     `json:"start_date,omitempty"`
	EndDate       string     `json:"end_date,omitempty"`
	Search        string     `json:"search,omitempty"`
	Diagnosis     string     `json:"diagnosis,omitempty"`
	ICD10Code     string     `json:"icd10_code,omitempty"`
	Page          int        `json:"page,omitempty"`
	Limit         int        `json:"limit,omitempty"`
	SortBy        string     `json:"sort_by,omitempty"`
	SortOrder     string     `json:"sort_order,omitempty"`
}

type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

type VisitList struct {
	Visits     []Visit    `json:"visits"`
	Pagination Pagination `json:"pagination"`
}

type PatientHistoryQuery struct {
	PatientID uuid.UUID `json:"patient_id"`
	StartDate string    `json:"start_date,omitempty"`
	EndDate   string    `json:"end_date,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

type PatientHistory struct {
	Patient PatientSummary `json:"patient"`
	Visits  []Visit        `json:"visits"`
}

type DoctorVisitsQuery struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date,omitempty"`
	StartDate string    `json:"start_date,omitempty"`
	EndDate   string    `json:"end_date,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

type DoctorVisits struct {
	Doctor DoctorSummary `json:"doctor"`
	Visits []Visit       `json:"visits"`
}

type VisitStatistics struct {
	TotalVisits             int64   `json:"total_visits"`
	VisitsWithPrescriptions int64   `json:"visits_with_prescriptions"`
	VisitsWithFollowUp      int64   `json:"visits_with_follow_up"`
	AverageVisitsPerDay     float64 `json:"average_visits_per_day"`
	Period                  Period  `json:"period"`
}

type Period struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// AttachmentView is what photo listings return regardless of which storage
// generation holds the bytes. Legacy filesystem entries carry no id, no
// upload timestamp, and no display order.
type AttachmentView struct {
	ID           *uuid.UUID `json:"id,omitempty"`
	URL          string     `json:"url"`
	ContentType  string     `json:"content_type,omitempty"`
	SizeBytes    int64      `json:"size_bytes,omitempty"`
	Position     Position   `json:"position,omitempty"`
	DisplayOrder *int       `json:"display_order,omitempty"`
	UploadedAt   *time.Time `json:"uploaded_at,omitempty"`
	Source       string     `json:"source"` // "db" or "legacy"
}

// AttachmentUpload carries one normalized image ready for persistence.
// Image re-encoding and EXIF stripping happen upstream of this type.
type AttachmentUpload struct {
	Filename     string   `json:"filename"`
	ContentType  string   `json:"content_type"`
	Data         []byte   `json:"-"`
	Position     Position `json:"position"`
	DisplayOrder int      `json:"display_order"`
}

// AttachmentBinary is the payload returned by the binary read endpoints.
type AttachmentBinary struct {
	Data        []byte
	ContentType string
}

type AuditLog struct {
	ID        int64                  `json:"id"`
	BranchID  string                 `json:"branch_id"`
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	Entity    string                 `json:"entity,omitempty"`
	EntityID  string                 `json:"entity_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
