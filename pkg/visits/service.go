package visits

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/arogya-health/clinic-platform/pkg/attachments"
	"github.com/arogya-health/clinic-platform/pkg/common/logger"
	"github.com/arogya-health/clinic-platform/pkg/common/models"
	"github.com/arogya-health/clinic-platform/pkg/observability/metrics"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EventVisitCreated        = "visit.created"
	EventVisitCompleted      = "visit.completed"
	EventVisitDeleted        = "visit.deleted"
	EventVisitPhotosUploaded = "visit.photos_uploaded"
)

// Store is the persistence surface the service needs. *Repository
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	FindPatient(ctx context.Context, id uuid.UUID, branchID string) (models.PatientSummary, error)
	FindDoctor(ctx context.Context, id uuid.UUID, branchID string) (models.DoctorSummary, error)
	FindAppointment(ctx context.Context, id uuid.UUID, branchID string, patientID, doctorID uuid.UUID) (models.AppointmentSummary, error)
	AppointmentHasVisit(ctx context.Context, appointmentID uuid.UUID) (bool, error)
	CreateVisit(ctx context.Context, visit *models.Visit) error
	GetVisit(ctx context.Context, id uuid.UUID, branchID string) (models.Visit, error)
	HydrateVisit(ctx context.Context, visit *models.Visit) error
	OwnersInBranch(ctx context.Context, patientID, doctorID uuid.UUID, branchID string) (bool, error)
	ListVisits(ctx context.Context, query models.VisitQuery, branchID string) ([]models.Visit, int64, error)
	UpdateVisit(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	CompleteVisit(ctx context.Context, id uuid.UUID, updates map[string]interface{}, appointmentID *uuid.UUID) error
	HasPrescription(ctx context.Context, visitID uuid.UUID) (bool, error)
	Statistics(ctx context.Context, branchID, startDate, endDate string) (models.VisitStatistics, error)
}

// AttachmentStore is the blob-generation photo store.
type AttachmentStore interface {
	CreateDraft(ctx context.Context, patientID uuid.UUID, dateStr string, upload models.AttachmentUpload) (attachments.Record, error)
	ListDrafts(ctx context.Context, patientID uuid.UUID, dateStr string) ([]attachments.Record, error)
	GetDraftBinary(ctx context.Context, patientID uuid.UUID, dateStr string, attachmentID uuid.UUID) (models.AttachmentBinary, error)
	CreateForVisit(ctx context.Context, visitID uuid.UUID, upload models.AttachmentUpload) (attachments.Record, error)
	ListForVisit(ctx context.Context, visitID uuid.UUID) ([]attachments.Record, error)
	GetVisitBinary(ctx context.Context, visitID uuid.UUID, attachmentID uuid.UUID) (models.AttachmentBinary, error)
}

// PathSanitizer filters legacy filesystem attachment paths.
type PathSanitizer interface {
	Sanitize(candidates []string) []string
}

// EventPublisher emits lifecycle events; publishing is best effort and
// never fails the request.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, branchID string, data map[string]interface{}) error
}

// StatsCache is a TTL cache for branch statistics.
type StatsCache interface {
	Get(ctx context.Context, key string) (models.VisitStatistics, bool)
	Set(ctx context.Context, key string, stats models.VisitStatistics)
}

// Limits bounds photo uploads per request.
type Limits struct {
	MaxFileBytes  int64
	MaxFilesPerOp int
}

type Service struct {
	store     Store
	photos    AttachmentStore
	sanitizer PathSanitizer
	events    EventPublisher
	cache     StatsCache
	limits    Limits
}

func NewService(store Store, photos AttachmentStore, sanitizer PathSanitizer, events EventPublisher, cache StatsCache, limits Limits) *Service {
	return &Service{
		store:     store,
		photos:    photos,
		sanitizer: sanitizer,
		events:    events,
		cache:     cache,
		limits:    limits,
	}
}

// Create records a new visit. Input validation runs before any lookup so
// a malformed request is reported as such even when the referenced
// patient does not exist.
func (s *Service) Create(ctx context.Context, branchID string, req models.CreateVisitRequest) (models.Visit, error) {
	if req.PatientID == uuid.Nil {
		return models.Visit{}, fmt.Errorf("patient_id is required: %w", ErrValidation)
	}
	if req.DoctorID == uuid.Nil {
		return models.Visit{}, fmt.Errorf("doctor_id is required: %w", ErrValidation)
	}
	if len(req.Complaints) == 0 {
		return models.Visit{}, fmt.Errorf("at least one complaint is required: %w", ErrValidation)
	}
	for _, c := range req.Complaints {
		if strings.TrimSpace(c.Complaint) == "" {
			return models.Visit{}, fmt.Errorf("complaint text must not be empty: %w", ErrValidation)
		}
	}

	patient, err := s.store.FindPatient(ctx, req.PatientID, branchID)
	if err != nil {
		return models.Visit{}, err
	}
	doctor, err := s.store.FindDoctor(ctx, req.DoctorID, branchID)
	if err != nil {
		return models.Visit{}, err
	}

	var appointment *models.AppointmentSummary
	if req.AppointmentID != nil {
		appt, err := s.store.FindAppointment(ctx, *req.AppointmentID, branchID, req.PatientID, req.DoctorID)
		if err != nil {
			return models.Visit{}, err
		}
		taken, err := s.store.AppointmentHasVisit(ctx, *req.AppointmentID)
		if err != nil {
			return models.Visit{}, err
		}
		if taken {
			return models.Visit{}, fmt.Errorf("appointment %s: %w", *req.AppointmentID, ErrConflict)
		}
		appointment = &appt
	}

	now := time.Now().UTC()
	plan := planOnCreate(req.TreatmentPlan, req.Notes)
	visit := models.Visit{
		ID:            uuid.New(),
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		AppointmentID: req.AppointmentID,
		BranchID:      branchID,
		Vitals:        req.Vitals,
		Complaints:    req.Complaints,
		History:       req.History,
		Exam:          req.Examination,
		Diagnosis:     req.Diagnosis,
		Plan:          plan,
		Attachments:   s.sanitizer.Sanitize(req.Attachments),
		ScribeJSON:    req.ScribeJSON,
		Status:        models.VisitStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if visit.Diagnosis == nil {
		visit.Diagnosis = []models.Diagnosis{}
	}

	if err := s.store.CreateVisit(ctx, &visit); err != nil {
		return models.Visit{}, err
	}

	visit.Notes = derivedNotes(visit.Plan)
	visit.Patient = &patient
	visit.Doctor = &doctor
	visit.Appointment = appointment

	metrics.IncVisitsCreated()
	s.publish(ctx, EventVisitCreated, branchID, map[string]interface{}{
		"visit_id":   visit.ID.String(),
		"patient_id": visit.PatientID.String(),
		"doctor_id":  visit.DoctorID.String(),
	})
	return visit, nil
}

func (s *Service) FindAll(ctx context.Context, branchID string, query models.VisitQuery) (models.VisitList, error) {
	query = clampVisitQuery(query)
	visits, total, err := s.store.ListVisits(ctx, query, branchID)
	if err != nil {
		return models.VisitList{}, err
	}

	return models.VisitList{
		Visits: visits,
		Pagination: models.Pagination{
			Total: total,
			Page:  query.Page,
			Limit: query.Limit,
			Pages: int(math.Ceil(float64(total) / float64(query.Limit))),
		},
	}, nil
}

func (s *Service) FindOne(ctx context.Context, branchID string, id uuid.UUID) (models.Visit, error) {
	visit, err := s.store.GetVisit(ctx, id, branchID)
	if err != nil {
		return models.Visit{}, err
	}
	if err := s.store.HydrateVisit(ctx, &visit); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

// Update merge-patches the visit. Absent fields are untouched; the plan
// document in particular accumulates fields from each writer.
func (s *Service) Update(ctx context.Context, branchID string, id uuid.UUID, req models.UpdateVisitRequest) (models.Visit, error) {
	if req.Complaints != nil && len(req.Complaints) == 0 {
		return models.Visit{}, fmt.Errorf("complaints must not be empty when supplied: %w", ErrValidation)
	}

	visit, err := s.assertVisitInBranch(ctx, id, branchID)
	if err != nil {
		return models.Visit{}, err
	}

	updates := map[string]interface{}{}
	if req.Vitals != nil {
		if updates["vitals"], err = jsonColumn(req.Vitals); err != nil {
			return models.Visit{}, err
		}
	}
	if req.Complaints != nil {
		if updates["complaints"], err = jsonColumn(req.Complaints); err != nil {
			return models.Visit{}, err
		}
	}
	if req.History != nil {
		if updates["history"], err = jsonColumn(*req.History); err != nil {
			return models.Visit{}, err
		}
	}
	if req.Examination != nil {
		if updates["exam"], err = jsonColumn(req.Examination); err != nil {
			return models.Visit{}, err
		}
	}
	if req.Diagnosis != nil {
		if updates["diagnosis"], err = jsonColumn(req.Diagnosis); err != nil {
			return models.Visit{}, err
		}
	}
	if req.ScribeJSON != nil {
		if updates["scribe_json"], err = jsonColumn(req.ScribeJSON); err != nil {
			return models.Visit{}, err
		}
	}
	if req.Attachments != nil {
		if updates["attachments"], err = jsonColumn(s.sanitizer.Sanitize(req.Attachments)); err != nil {
			return models.Visit{}, err
		}
	}
	if plan, changed := planOnUpdate(visit.Plan, req.TreatmentPlan, req.Notes); changed {
		if updates["plan"], err = jsonColumn(plan); err != nil {
			return models.Visit{}, err
		}
	}

	if err := s.store.UpdateVisit(ctx, id, updates); err != nil {
		return models.Visit{}, err
	}
	return s.FindOne(ctx, branchID, id)
}

// AddAttachments merges additional legacy filesystem paths into the
// visit's attachment list. Candidates run through the sanitizer against
// the combined list, so duplicates and invalid paths drop out silently.
func (s *Service) AddAttachments(ctx context.Context, branchID string, id uuid.UUID, paths []string) (models.Visit, error) {
	visit, err := s.assertVisitInBranch(ctx, id, branchID)
	if err != nil {
		return models.Visit{}, err
	}

	combined := append(append([]string{}, visit.Attachments...), paths...)
	merged, err := jsonColumn(s.sanitizer.Sanitize(combined))
	if err != nil {
		return models.Visit{}, err
	}
	if err := s.store.UpdateVisit(ctx, id, map[string]interface{}{"attachments": merged}); err != nil {
		return models.Visit{}, err
	}
	return s.FindOne(ctx, branchID, id)
}

// Complete finalizes the visit and flips the linked appointment to
// COMPLETED. The returned notes echo what the caller just wrote; see
// completionNotes for the precedence.
func (s *Service) Complete(ctx context.Context, branchID string, id uuid.UUID, req models.CompleteVisitRequest) (models.Visit, error) {
	visit, err := s.assertVisitInBranch(ctx, id, branchID)
	if err != nil {
		return models.Visit{}, err
	}

	var followUp *time.Time
	if req.FollowUpDate != nil && *req.FollowUpDate != "" {
		parsed, ok := parseDate(*req.FollowUpDate)
		if !ok {
			return models.Visit{}, fmt.Errorf("follow_up_date %q is not a valid date: %w", *req.FollowUpDate, ErrValidation)
		}
		followUp = &parsed
	}

	plan := planOnComplete(visit.Plan, req.FinalNotes, req.FollowUpInstructions)
	updates := map[string]interface{}{
		"status": string(models.VisitStatusCompleted),
	}
	// Completed rows stay mutable; a later complete without a date must
	// not erase an already scheduled follow-up.
	if followUp != nil {
		updates["follow_up"] = followUp
	}
	if updates["plan"], err = jsonColumn(plan); err != nil {
		return models.Visit{}, err
	}

	if err := s.store.CompleteVisit(ctx, id, updates, visit.AppointmentID); err != nil {
		return models.Visit{}, err
	}

	completed, err := s.FindOne(ctx, branchID, id)
	if err != nil {
		return models.Visit{}, err
	}
	completed.Notes = completionNotes(req.FinalNotes, completed.Plan)

	metrics.IncVisitsCompleted()
	s.publish(ctx, EventVisitCompleted, branchID, map[string]interface{}{
		"visit_id":   id.String(),
		"patient_id": completed.PatientID.String(),
		"doctor_id":  completed.DoctorID.String(),
	})
	return completed, nil
}

// Remove soft-deletes by stamping the plan document. The row stays in
// place and keeps appearing in reads; downstream consumers key off
// plan.deleted. A visit with an issued prescription cannot be removed.
func (s *Service) Remove(ctx context.Context, branchID string, id uuid.UUID) error {
	visit, err := s.assertVisitInBranch(ctx, id, branchID)
	if err != nil {
		return err
	}

	prescribed, err := s.store.HasPrescription(ctx, id)
	if err != nil {
		return err
	}
	if prescribed {
		return fmt.Errorf("visit has an issued prescription: %w", ErrValidation)
	}

	plan := planOnRemove(visit.Plan, time.Now())
	planJSON, err := jsonColumn(plan)
	if err != nil {
		return err
	}
	if err := s.store.UpdateVisit(ctx, id, map[string]interface{}{"plan": planJSON}); err != nil {
		return err
	}

	metrics.IncVisitsDeleted()
	s.publish(ctx, EventVisitDeleted, branchID, map[string]interface{}{
		"visit_id":   id.String(),
		"patient_id": visit.PatientID.String(),
	})
	return nil
}

func (s *Service) PatientHistory(ctx context.Context, branchID string, query models.PatientHistoryQuery) (models.PatientHistory, error) {
	patient, err := s.store.FindPatient(ctx, query.PatientID, branchID)
	if err != nil {
		return models.PatientHistory{}, err
	}

	limit := query.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	visits, _, err := s.store.ListVisits(ctx, models.VisitQuery{
		PatientID: &query.PatientID,
		StartDate: query.StartDate,
		EndDate:   query.EndDate,
		Limit:     limit,
	}, branchID)
	if err != nil {
		return models.PatientHistory{}, err
	}
	return models.PatientHistory{Patient: patient, Visits: visits}, nil
}

func (s *Service) DoctorVisits(ctx context.Context, branchID string, query models.DoctorVisitsQuery) (models.DoctorVisits, error) {
	doctor, err := s.store.FindDoctor(ctx, query.DoctorID, branchID)
	if err != nil {
		return models.DoctorVisits{}, err
	}

	limit := query.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	visits, _, err := s.store.ListVisits(ctx, models.VisitQuery{
		DoctorID:  &query.DoctorID,
		Date:      query.Date,
		StartDate: query.StartDate,
		EndDate:   query.EndDate,
		Limit:     limit,
	}, branchID)
	if err != nil {
		return models.DoctorVisits{}, err
	}
	return models.DoctorVisits{Doctor: doctor, Visits: visits}, nil
}

func (s *Service) Statistics(ctx context.Context, branchID, startDate, endDate string) (models.VisitStatistics, error) {
	key := fmt.Sprintf("visit-stats:%s:%s:%s", branchID, startDate, endDate)
	if s.cache != nil {
		if stats, ok := s.cache.Get(ctx, key); ok {
			return stats, nil
		}
	}

	stats, err := s.store.Statistics(ctx, branchID, startDate, endDate)
	if err != nil {
		return models.VisitStatistics{}, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, stats)
	}
	return stats, nil
}

// UploadVisitPhotos stores images as database blobs against a bound visit.
func (s *Service) UploadVisitPhotos(ctx context.Context, branchID string, visitID uuid.UUID, uploads []models.AttachmentUpload) ([]attachments.Record, error) {
	if err := s.checkUploads(uploads); err != nil {
		return nil, err
	}
	if _, err := s.assertVisitInBranch(ctx, visitID, branchID); err != nil {
		return nil, err
	}

	records := make([]attachments.Record, 0, len(uploads))
	for _, upload := range uploads {
		record, err := s.photos.CreateForVisit(ctx, visitID, upload)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	metrics.AddPhotosUploaded(len(records))
	s.publish(ctx, EventVisitPhotosUploaded, branchID, map[string]interface{}{
		"visit_id": visitID.String(),
		"count":    len(records),
	})
	return records, nil
}

// ListVisitPhotos merges both attachment generations into one ordered
// listing: database blobs plus whatever legacy filesystem paths on the
// visit row still pass sanitization.
func (s *Service) ListVisitPhotos(ctx context.Context, branchID string, visitID uuid.UUID) ([]models.AttachmentView, error) {
	visit, err := s.assertVisitInBranch(ctx, visitID, branchID)
	if err != nil {
		return nil, err
	}

	records, err := s.photos.ListForVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}

	views := make([]models.AttachmentView, 0, len(records)+len(visit.Attachments))
	for _, record := range records {
		views = append(views, recordView(record, fmt.Sprintf("/api/visits/%s/photos/%s", visitID, record.ID)))
	}
	for _, legacyPath := range s.sanitizer.Sanitize(visit.Attachments) {
		views = append(views, models.AttachmentView{
			URL:      legacyPath,
			Position: models.PositionOther,
			Source:   "legacy",
		})
	}
	return attachments.Order(views), nil
}

func (s *Service) GetVisitPhoto(ctx context.Context, branchID string, visitID, attachmentID uuid.UUID) (models.AttachmentBinary, error) {
	if _, err := s.assertVisitInBranch(ctx, visitID, branchID); err != nil {
		return models.AttachmentBinary{}, err
	}
	binary, err := s.photos.GetVisitBinary(ctx, visitID, attachmentID)
	if err != nil {
		if err == attachments.ErrNotFound {
			return models.AttachmentBinary{}, fmt.Errorf("photo %s: %w", attachmentID, ErrNotFound)
		}
		return models.AttachmentBinary{}, err
	}
	return binary, nil
}

// UploadDraftPhotos stores images for a patient/date bucket before any
// visit exists; a later visit for that day picks them up client-side.
func (s *Service) UploadDraftPhotos(ctx context.Context, branchID string, patientID uuid.UUID, dateStr string, uploads []models.AttachmentUpload) ([]attachments.Record, error) {
	if err := s.checkUploads(uploads); err != nil {
		return nil, err
	}
	if !validDateStr(dateStr) {
		return nil, fmt.Errorf("date %q must be YYYY-MM-DD: %w", dateStr, ErrValidation)
	}
	if _, err := s.store.FindPatient(ctx, patientID, branchID); err != nil {
		return nil, err
	}

	records := make([]attachments.Record, 0, len(uploads))
	for _, upload := range uploads {
		record, err := s.photos.CreateDraft(ctx, patientID, dateStr, upload)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *Service) ListDraftPhotos(ctx context.Context, branchID string, patientID uuid.UUID, dateStr string) ([]models.AttachmentView, error) {
	if !validDateStr(dateStr) {
		return nil, fmt.Errorf("date %q must be YYYY-MM-DD: %w", dateStr, ErrValidation)
	}
	if _, err := s.store.FindPatient(ctx, patientID, branchID); err != nil {
		return nil, err
	}

	records, err := s.photos.ListDrafts(ctx, patientID, dateStr)
	if err != nil {
		return nil, err
	}
	views := make([]models.AttachmentView, 0, len(records))
	for _, record := range records {
		views = append(views, recordView(record, fmt.Sprintf("/api/patients/%s/photos/draft/%s/%s", patientID, dateStr, record.ID)))
	}
	return attachments.Order(views), nil
}

func (s *Service) GetDraftPhoto(ctx context.Context, branchID string, patientID uuid.UUID, dateStr string, attachmentID uuid.UUID) (models.AttachmentBinary, error) {
	if _, err := s.store.FindPatient(ctx, patientID, branchID); err != nil {
		return models.AttachmentBinary{}, err
	}
	binary, err := s.photos.GetDraftBinary(ctx, patientID, dateStr, attachmentID)
	if err != nil {
		if err == attachments.ErrNotFound {
			return models.AttachmentBinary{}, fmt.Errorf("photo %s: %w", attachmentID, ErrNotFound)
		}
		return models.AttachmentBinary{}, err
	}
	return binary, nil
}

// assertVisitInBranch is the single branch gate for visit sub-resources.
// The visit row, its patient, and its doctor must all sit in the branch;
// any mismatch reads as NotFound so nothing leaks across branches.
func (s *Service) assertVisitInBranch(ctx context.Context, visitID uuid.UUID, branchID string) (models.Visit, error) {
	visit, err := s.store.GetVisit(ctx, visitID, branchID)
	if err != nil {
		return models.Visit{}, err
	}
	ok, err := s.store.OwnersInBranch(ctx, visit.PatientID, visit.DoctorID, branchID)
	if err != nil {
		return models.Visit{}, err
	}
	if !ok {
		return models.Visit{}, fmt.Errorf("visit %s: %w", visitID, ErrNotFound)
	}
	return visit, nil
}

func (s *Service) checkUploads(uploads []models.AttachmentUpload) error {
	if len(uploads) == 0 {
		return fmt.Errorf("no files supplied: %w", ErrValidation)
	}
	if s.limits.MaxFilesPerOp > 0 && len(uploads) > s.limits.MaxFilesPerOp {
		return fmt.Errorf("at most %d files per upload: %w", s.limits.MaxFilesPerOp, ErrValidation)
	}
	for _, upload := range uploads {
		if len(upload.Data) == 0 {
			return fmt.Errorf("file %q is empty: %w", upload.Filename, ErrValidation)
		}
		if s.limits.MaxFileBytes > 0 && int64(len(upload.Data)) > s.limits.MaxFileBytes {
			return fmt.Errorf("file %q exceeds %d bytes: %w", upload.Filename, s.limits.MaxFileBytes, ErrValidation)
		}
		// The declared Content-Type header is client-controlled; the
		// payload bytes are the authoritative signal.
		if !strings.HasPrefix(http.DetectContentType(upload.Data), "image/") {
			return fmt.Errorf("file %q is not an image: %w", upload.Filename, ErrValidation)
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType, branchID string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, eventType, branchID, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("Failed to publish visit event")
	}
}

func recordView(record attachments.Record, url string) models.AttachmentView {
	id := record.ID
	uploadedAt := record.CreatedAt
	view := models.AttachmentView{
		ID:          &id,
		URL:         url,
		ContentType: record.ContentType,
		SizeBytes:   record.SizeBytes,
		Position:    record.Position,
		UploadedAt:  &uploadedAt,
		Source:      "db",
	}
	// Zero means "no explicit order": the position rank decides instead.
	if record.DisplayOrder > 0 {
		order := record.DisplayOrder
		view.DisplayOrder = &order
	}
	return view
}

func jsonColumn(value interface{}) (datatypes.JSON, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding json column: %w", err)
	}
	return datatypes.JSON(data), nil
}

func validDateStr(dateStr string) bool {
	_, err := time.Parse("2006-01-02", dateStr)
	return err == nil
}
