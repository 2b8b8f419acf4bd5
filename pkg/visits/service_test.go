package visits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/arogya-health/clinic-platform/pkg/attachments"
	"github.com/arogya-health/clinic-platform/pkg/common/logger"
	"github.com/arogya-health/clinic-platform/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

func TestMain(m *testing.M) {
	logger.Init("test")
	os.Exit(m.Run())
}

type fakeStore struct {
	patients      map[string]models.PatientSummary
	doctors       map[string]models.DoctorSummary
	appointments  map[string]models.AppointmentSummary
	apptVisits    map[uuid.UUID]bool
	visits        map[uuid.UUID]*models.Visit
	prescriptions map[uuid.UUID]bool

	completedAppointments []uuid.UUID
	stats                 models.VisitStatistics
	statsCalls            int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		patients:      map[string]models.PatientSummary{},
		doctors:       map[string]models.DoctorSummary{},
		appointments:  map[string]models.AppointmentSummary{},
		apptVisits:    map[uuid.UUID]bool{},
		visits:        map[uuid.UUID]*models.Visit{},
		prescriptions: map[uuid.UUID]bool{},
	}
}

func scopedKey(branchID string, id uuid.UUID) string {
	return branchID + "|" + id.String()
}

func (f *fakeStore) addPatient(branchID string, id uuid.UUID, name string) {
	f.patients[scopedKey(branchID, id)] = models.PatientSummary{ID: id, Name: name}
}

func (f *fakeStore) addDoctor(branchID string, id uuid.UUID, name string) {
	f.doctors[scopedKey(branchID, id)] = models.DoctorSummary{ID: id, Name: name}
}

func (f *fakeStore) FindPatient(_ context.Context, id uuid.UUID, branchID string) (models.PatientSummary, error) {
	if p, ok := f.patients[scopedKey(branchID, id)]; ok {
		return p, nil
	}
	return models.PatientSummary{}, fmt.Errorf("patient %s: %w", id, ErrNotFound)
}

func (f *fakeStore) FindDoctor(_ context.Context, id uuid.UUID, branchID string) (models.DoctorSummary, error) {
	if d, ok := f.doctors[scopedKey(branchID, id)]; ok {
		return d, nil
	}
	return models.DoctorSummary{}, fmt.Errorf("doctor %s: %w", id, ErrNotFound)
}

func (f *fakeStore) FindAppointment(_ context.Context, id uuid.UUID, branchID string, _, _ uuid.UUID) (models.AppointmentSummary, error) {
	if a, ok := f.appointments[scopedKey(branchID, id)]; ok {
		return a, nil
	}
	return models.AppointmentSummary{}, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
}

func (f *fakeStore) AppointmentHasVisit(_ context.Context, appointmentID uuid.UUID) (bool, error) {
	return f.apptVisits[appointmentID], nil
}

func (f *fakeStore) CreateVisit(_ context.Context, visit *models.Visit) error {
	copied := *visit
	f.visits[visit.ID] = &copied
	if visit.AppointmentID != nil {
		f.apptVisits[*visit.AppointmentID] = true
	}
	return nil
}

func (f *fakeStore) GetVisit(_ context.Context, id uuid.UUID, branchID string) (models.Visit, error) {
	visit, ok := f.visits[id]
	if !ok || visit.BranchID != branchID {
		return models.Visit{}, fmt.Errorf("visit %s: %w", id, ErrNotFound)
	}
	out := *visit
	out.Notes = derivedNotes(out.Plan)
	return out, nil
}

func (f *fakeStore) HydrateVisit(context.Context, *models.Visit) error { return nil }

func (f *fakeStore) OwnersInBranch(_ context.Context, patientID, doctorID uuid.UUID, branchID string) (bool, error) {
	_, patientOK := f.patients[scopedKey(branchID, patientID)]
	_, doctorOK := f.doctors[scopedKey(branchID, doctorID)]
	return patientOK && doctorOK, nil
}

func (f *fakeStore) ListVisits(_ context.Context, query models.VisitQuery, branchID string) ([]models.Visit, int64, error) {
	var out []models.Visit
	for _, visit := range f.visits {
		if visit.BranchID != branchID {
			continue
		}
		if query.PatientID != nil && visit.PatientID != *query.PatientID {
			continue
		}
		if query.DoctorID != nil && visit.DoctorID != *query.DoctorID {
			continue
		}
		copied := *visit
		copied.Notes = derivedNotes(copied.Plan)
		out = append(out, copied)
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) UpdateVisit(_ context.Context, id uuid.UUID, updates map[string]interface{}) error {
	visit, ok := f.visits[id]
	if !ok {
		return fmt.Errorf("visit %s: %w", id, ErrNotFound)
	}
	applyUpdates(visit, updates)
	return nil
}

func (f *fakeStore) CompleteVisit(_ context.Context, id uuid.UUID, updates map[string]interface{}, appointmentID *uuid.UUID) error {
	visit, ok := f.visits[id]
	if !ok {
		return fmt.Errorf("visit %s: %w", id, ErrNotFound)
	}
	applyUpdates(visit, updates)
	if appointmentID != nil {
		f.completedAppointments = append(f.completedAppointments, *appointmentID)
	}
	return nil
}

func (f *fakeStore) HasPrescription(_ context.Context, visitID uuid.UUID) (bool, error) {
	return f.prescriptions[visitID], nil
}

func (f *fakeStore) Statistics(context.Context, string, string, string) (models.VisitStatistics, error) {
	f.statsCalls++
	return f.stats, nil
}

func applyUpdates(visit *models.Visit, updates map[string]interface{}) {
	if raw, ok := updates["plan"].(datatypes.JSON); ok {
		var plan models.Plan
		if json.Unmarshal(raw, &plan) == nil {
			visit.Plan = &plan
		}
	}
	if raw, ok := updates["complaints"].(datatypes.JSON); ok {
		_ = json.Unmarshal(raw, &visit.Complaints)
	}
	if raw, ok := updates["attachments"].(datatypes.JSON); ok {
		_ = json.Unmarshal(raw, &visit.Attachments)
	}
	if status, ok := updates["status"].(string); ok {
		visit.Status = models.VisitStatus(status)
	}
	if followUp, ok := updates["follow_up"].(*time.Time); ok {
		visit.FollowUp = followUp
	}
}

type fakePhotos struct {
	visitRecords map[uuid.UUID][]attachments.Record
	draftRecords map[string][]attachments.Record
}

func newFakePhotos() *fakePhotos {
	return &fakePhotos{
		visitRecords: map[uuid.UUID][]attachments.Record{},
		draftRecords: map[string][]attachments.Record{},
	}
}

func (f *fakePhotos) CreateDraft(_ context.Context, patientID uuid.UUID, dateStr string, upload models.AttachmentUpload) (attachments.Record, error) {
	record := recordFromUpload(upload)
	key := patientID.String() + "|" + dateStr
	f.draftRecords[key] = append(f.draftRecords[key], record)
	return record, nil
}

func (f *fakePhotos) ListDrafts(_ context.Context, patientID uuid.UUID, dateStr string) ([]attachments.Record, error) {
	return f.draftRecords[patientID.String()+"|"+dateStr], nil
}

func (f *fakePhotos) GetDraftBinary(context.Context, uuid.UUID, string, uuid.UUID) (models.AttachmentBinary, error) {
	return models.AttachmentBinary{}, attachments.ErrNotFound
}

func (f *fakePhotos) CreateForVisit(_ context.Context, visitID uuid.UUID, upload models.AttachmentUpload) (attachments.Record, error) {
	record := recordFromUpload(upload)
	f.visitRecords[visitID] = append(f.visitRecords[visitID], record)
	return record, nil
}

func (f *fakePhotos) ListForVisit(_ context.Context, visitID uuid.UUID) ([]attachments.Record, error) {
	return f.visitRecords[visitID], nil
}

func (f *fakePhotos) GetVisitBinary(context.Context, uuid.UUID, uuid.UUID) (models.AttachmentBinary, error) {
	return models.AttachmentBinary{}, attachments.ErrNotFound
}

// jpegBytes is a minimal payload http.DetectContentType sniffs as
// image/jpeg.
func jpegBytes() []byte {
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
}

func recordFromUpload(upload models.AttachmentUpload) attachments.Record {
	return attachments.Record{
		ID:           uuid.New(),
		Filename:     upload.Filename,
		ContentType:  upload.ContentType,
		SizeBytes:    int64(len(upload.Data)),
		Position:     upload.Position,
		DisplayOrder: upload.DisplayOrder,
		CreatedAt:    time.Now().UTC(),
	}
}

type fakeSanitizer struct {
	allowed map[string]bool
}

func (f *fakeSanitizer) Sanitize(candidates []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, candidate := range candidates {
		if f.allowed != nil && !f.allowed[candidate] {
			continue
		}
		if seen[candidate] {
			continue
		}
		seen[candidate] = true
		out = append(out, candidate)
	}
	return out
}

type fakePublisher struct {
	events []string
}

func (f *fakePublisher) PublishEvent(_ context.Context, eventType, _ string, _ map[string]interface{}) error {
	f.events = append(f.events, eventType)
	return nil
}

type fakeCache struct {
	entries map[string]models.VisitStatistics
}

func (f *fakeCache) Get(_ context.Context, key string) (models.VisitStatistics, bool) {
	stats, ok := f.entries[key]
	return stats, ok
}

func (f *fakeCache) Set(_ context.Context, key string, stats models.VisitStatistics) {
	f.entries[key] = stats
}

type fixture struct {
	store     *fakeStore
	photos    *fakePhotos
	publisher *fakePublisher
	cache     *fakeCache
	service   *Service

	branch  string
	patient uuid.UUID
	doctor  uuid.UUID
}

func newFixture() *fixture {
	store := newFakeStore()
	photos := newFakePhotos()
	publisher := &fakePublisher{}
	cache := &fakeCache{entries: map[string]models.VisitStatistics{}}

	f := &fixture{
		store:     store,
		photos:    photos,
		publisher: publisher,
		cache:     cache,
		branch:    "branch-1",
		patient:   uuid.New(),
		doctor:    uuid.New(),
	}
	store.addPatient(f.branch, f.patient, "Asha Rao")
	store.addDoctor(f.branch, f.doctor, "Dr. Mehta")

	f.service = NewService(store, photos, &fakeSanitizer{}, publisher, cache, Limits{
		MaxFileBytes:  1 << 20,
		MaxFilesPerOp: 3,
	})
	return f
}

func (f *fixture) createVisit(t *testing.T, req models.CreateVisitRequest) models.Visit {
	t.Helper()
	if req.PatientID == uuid.Nil {
		req.PatientID = f.patient
	}
	if req.DoctorID == uuid.Nil {
		req.DoctorID = f.doctor
	}
	if req.Complaints == nil {
		req.Complaints = []models.Complaint{{Complaint: "itching", Duration: "2 days"}}
	}
	visit, err := f.service.Create(context.Background(), f.branch, req)
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}
	return visit
}

func TestCreateValidatesBeforeLookup(t *testing.T) {
	f := newFixture()
	// Unknown patient AND missing complaints: validation must win.
	_, err := f.service.Create(context.Background(), f.branch, models.CreateVisitRequest{
		PatientID: uuid.New(),
		DoctorID:  f.doctor,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateUnknownPatientIsNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.service.Create(context.Background(), f.branch, models.CreateVisitRequest{
		PatientID:  uuid.New(),
		DoctorID:   f.doctor,
		Complaints: []models.Complaint{{Complaint: "rash"}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateConflictsOnSecondVisitForAppointment(t *testing.T) {
	f := newFixture()
	appointmentID := uuid.New()
	f.store.appointments[scopedKey(f.branch, appointmentID)] = models.AppointmentSummary{ID: appointmentID}

	f.createVisit(t, models.CreateVisitRequest{AppointmentID: &appointmentID})

	_, err := f.service.Create(context.Background(), f.branch, models.CreateVisitRequest{
		PatientID:     f.patient,
		DoctorID:      f.doctor,
		AppointmentID: &appointmentID,
		Complaints:    []models.Complaint{{Complaint: "follow up"}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateDerivesNotesAndPublishes(t *testing.T) {
	f := newFixture()
	visit := f.createVisit(t, models.CreateVisitRequest{
		Notes: strPtr("first impression"),
	})

	if visit.Notes == nil || *visit.Notes != "first impression" {
		t.Fatalf("expected derived notes, got %v", visit.Notes)
	}
	if visit.Status != models.VisitStatusActive {
		t.Fatalf("expected ACTIVE, got %s", visit.Status)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0] != EventVisitCreated {
		t.Fatalf("expected visit.created event, got %v", f.publisher.events)
	}
}

func TestCreateSanitizesLegacyAttachmentPaths(t *testing.T) {
	f := newFixture()
	f.service.sanitizer = &fakeSanitizer{allowed: map[string]bool{"/uploads/visits/a.jpg": true}}

	visit := f.createVisit(t, models.CreateVisitRequest{
		Attachments: []string{"/uploads/visits/a.jpg", "/etc/passwd"},
	})
	if len(visit.Attachments) != 1 || visit.Attachments[0] != "/uploads/visits/a.jpg" {
		t.Fatalf("unexpected attachments: %v", visit.Attachments)
	}
}

func TestUpdateRejectsSuppliedEmptyComplaints(t *testing.T) {
	f := newFixture()
	visit := f.createVisit(t, models.CreateVisitRequest{})

	_, err := f.service.Update(context.Background(), f.branch, visit.ID, models.UpdateVisitRequest{
		Complaints: []models.Complaint{},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateMergePatchesPlan(t *testing.T) {
	f := newFixture()
	visit := f.createVisit(t, models.CreateVisitRequest{
		TreatmentPlan: &models.Plan{Medications: strPtr("cetirizine")},
	})

	updated, err := f.service.Update(context.Background(), f.branch, visit.ID, models.UpdateVisitRequest{
		TreatmentPlan: &models.Plan{Procedures: strPtr("patch test")},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Plan == nil || updated.Plan.Medications == nil || *updated.Plan.Medications != "cetirizine" {
		t.Fatalf("medications lost in merge: %+v", updated.Plan)
	}
	if updated.Plan.Procedures == nil || *updated.Plan.Procedures != "patch test" {
		t.Fatalf("procedures not applied: %+v", updated.Plan)
	}
}

func TestCompleteEchoesFinalNotesAndCompletesAppointment(t *testing.T) {
	f := newFixture()
	appointmentID := uuid.New()
	f.store.appointments[scopedKey(f.branch, appointmentID)] = models.AppointmentSummary{ID: appointmentID}
	visit := f.createVisit(t, models.CreateVisitRequest{
		AppointmentID: &appointmentID,
		Notes:         strPtr("working notes"),
	})

	completed, err := f.service.Complete(context.Background(), f.branch, visit.ID, models.CompleteVisitRequest{
		FinalNotes:   strPtr("all clear"),
		FollowUpDate: strPtr("2026-09-15"),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != models.VisitStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", completed.Status)
	}
	if completed.Notes == nil || *completed.Notes != "all clear" {
		t.Fatalf("completion must echo the supplied final notes, got %v", completed.Notes)
	}
	if completed.Plan == nil || completed.Plan.Notes == nil || *completed.Plan.Notes != "working notes" {
		t.Fatalf("working notes must survive completion: %+v", completed.Plan)
	}
	if completed.FollowUp == nil {
		t.Fatal("expected follow up date set")
	}
	if len(f.store.completedAppointments) != 1 || f.store.completedAppointments[0] != appointmentID {
		t.Fatalf("appointment not completed: %v", f.store.completedAppointments)
	}
	if f.publisher.events[len(f.publisher.events)-1] != EventVisitCompleted {
		t.Fatalf("expected visit.completed event, got %v", f.publisher.events)
	}
}

func TestCompleteWithoutDatePreservesStoredFollowUp(t *testing.T) {
	f := newFixture()
	visit := f.createVisit(t, models.CreateVisitRequest{})

	first, err := f.service.Complete(context.Background(), f.branch, visit.ID, models.CompleteVisitRequest{
		FollowUpDate: strPtr("2026-09-15"),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if first.FollowUp == nil {
		t.Fatal("expected follow up set on first completion")
	}

	// Completed rows stay mutable; adding late final notes must not
	// erase the scheduled follow-up.
	second, err := f.service.Complete(context.Background(), f.branch, visit.ID, models.CompleteVisitRequest{
		FinalNotes: strPtr("late addendum"),
	})
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if second.FollowUp == nil || !second.FollowUp.Equal(*first.FollowUp) {
		t.Fatalf("follow up erased by dateless complete: got %v, want %v", second.FollowUp, first.FollowUp)
	}
}

func TestFindAllClampsPagination(t *testing.T) {
	f := newFixture()
	f.createVisit(t, models.CreateVisitRequest{})

	list, err := f.service.FindAll(context.Background(), f.branch, models.VisitQuery{Page: 0, Limit: 0})
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if list.Pagination.Page != 1 || list.Pagination.Limit != 20 {
		t.Fatalf("expected clamped page 1 limit 20, got %+v", list.Pagination)
	}
	if list.Pagination.Pages != 1 || list.Pagination.Total != 1 {
		t.Fatalf("unexpected totals: %+v", list.Pagination)
	}
}

func TestCompleteRejectsBadFollowUpDate(t *testing.T) {
	f := newFixture()
	visit := f.createVisit(t, models.CreateVisitRequest{})

	_, err := f.service.Complete(context.Background(), f.branch, visit.ID, models.CompleteVisitRequest{
		FollowUpDate: strPtr("next tuesday"),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRemoveBlockedByPrescription(t *testing.T) {
	f := newFixture()
	visit := f.createVisit(t, models.CreateVisitRequest{})
	f.store.prescriptions[visit.ID] = true

	err := f.service.Remove(context.Background(), f.branch, visit.ID)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRemoveSoftDeletesAndKeepsRowReadable(t *testing.T) {
	f := newFixture()
	visit := f.createVisit(t, models.CreateVisitRequest{Notes: strPtr("keep")})

	if err := f.service.Remove(context.Background(), f.branch, visit.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// Soft-deleted visits stay readable; consumers key off plan.deleted.
	got, err := f.service.FindOne(context.Background(), f.branch, visit.ID)
	if err != nil {
		t.Fatalf("expected deleted visit to remain readable: %v", err)
	}
	if got.Plan == nil || got.Plan.Deleted == nil || !*got.Plan.Deleted {
		t.Fatalf("expected deletion stamp, got %+v", got.Plan)
	}
	if got.Plan.DeletedAt == nil {
		t.Fatal("expected deletedAt stamp")
	}
	if f.publisher.events[len(f.publisher.events)-1] != EventVisitDeleted {
		t.Fatalf("expected visit.deleted event, got %v", f.publisher.events)
	}
}

func TestCrossBranchReadsAsNotFound(t *testing.T) {
	f := newFixture()
	visit := f.createVisit(t, models.CreateVisitRequest{})

	if _, err := f.service.FindOne(context.Background(), "branch-2", visit.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for other branch, got %v", err)
	}
	if _, err := f.service.Update(context.Background(), "branch-2", visit.ID, models.UpdateVisitRequest{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for cross-branch update, got %v", err)
	}
	if err := f.service.Remove(context.Background(), "branch-2", visit.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for cross-branch delete, got %v", err)
	}
}

func TestStatisticsServedFromCache(t *testing.T) {
	f := newFixture()
	f.store.stats = models.VisitStatistics{TotalVisits: 7}

	first, err := f.service.Statistics(context.Background(), f.branch, "2026-01-01", "2026-01-31")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	second, err := f.service.Statistics(context.Background(), f.branch, "2026-01-01", "2026-01-31")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if first.TotalVisits != 7 || second.TotalVisits != 7 {
		t.Fatalf("unexpected stats: %+v %+v", first, second)
	}
	if f.store.statsCalls != 1 {
		t.Fatalf("expected one store hit, got %d", f.store.statsCalls)
	}
}

func TestUploadVisitPhotosEnforcesLimits(t *testing.T) {
	f := newFixture()
	visit := f.createVisit(t, models.CreateVisitRequest{})

	image := models.AttachmentUpload{Filename: "a.jpg", ContentType: "image/jpeg", Data: jpegBytes()}
	tooMany := []models.AttachmentUpload{image, image, image, image}
	if _, err := f.service.UploadVisitPhotos(context.Background(), f.branch, visit.ID, tooMany); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for too many files, got %v", err)
	}

	notImage := []models.AttachmentUpload{{Filename: "a.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}}
	if _, err := f.service.UploadVisitPhotos(context.Background(), f.branch, visit.ID, notImage); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for non-image, got %v", err)
	}

	// A spoofed image/* header must not get text bytes past the sniffer.
	spoofed := []models.AttachmentUpload{{Filename: "a.jpg", ContentType: "image/jpeg", Data: []byte("plain text")}}
	if _, err := f.service.UploadVisitPhotos(context.Background(), f.branch, visit.ID, spoofed); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for spoofed content type, got %v", err)
	}

	records, err := f.service.UploadVisitPhotos(context.Background(), f.branch, visit.ID, []models.AttachmentUpload{image})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if f.publisher.events[len(f.publisher.events)-1] != EventVisitPhotosUploaded {
		t.Fatalf("expected photos event, got %v", f.publisher.events)
	}
}

func TestListVisitPhotosMergesBothGenerations(t *testing.T) {
	f := newFixture()
	f.service.sanitizer = &fakeSanitizer{allowed: map[string]bool{"/uploads/visits/legacy.jpg": true}}
	visit := f.createVisit(t, models.CreateVisitRequest{
		Attachments: []string{"/uploads/visits/legacy.jpg"},
	})

	_, err := f.service.UploadVisitPhotos(context.Background(), f.branch, visit.ID, []models.AttachmentUpload{
		{Filename: "front.jpg", ContentType: "image/jpeg", Data: jpegBytes(), Position: models.PositionFront},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	views, err := f.service.ListVisitPhotos(context.Background(), f.branch, visit.ID)
	if err != nil {
		t.Fatalf("list photos: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected both generations, got %d", len(views))
	}

	sources := map[string]bool{}
	for _, view := range views {
		sources[view.Source] = true
	}
	if !sources["db"] || !sources["legacy"] {
		t.Fatalf("expected db and legacy sources, got %+v", views)
	}
	// FRONT (rank 1) outranks the legacy OTHER entry (rank 99).
	if views[0].Position != models.PositionFront {
		t.Fatalf("expected FRONT first, got %+v", views[0])
	}
}

func TestAddAttachmentsMergesAndDeduplicates(t *testing.T) {
	f := newFixture()
	f.service.sanitizer = &fakeSanitizer{allowed: map[string]bool{
		"/uploads/visits/a.jpg": true,
		"/uploads/visits/b.jpg": true,
	}}
	visit := f.createVisit(t, models.CreateVisitRequest{
		Attachments: []string{"/uploads/visits/a.jpg"},
	})

	updated, err := f.service.AddAttachments(context.Background(), f.branch, visit.ID, []string{
		"/uploads/visits/b.jpg",
		"/uploads/visits/a.jpg",
		"/etc/passwd",
	})
	if err != nil {
		t.Fatalf("add attachments: %v", err)
	}
	want := []string{"/uploads/visits/a.jpg", "/uploads/visits/b.jpg"}
	if len(updated.Attachments) != 2 || updated.Attachments[0] != want[0] || updated.Attachments[1] != want[1] {
		t.Fatalf("got %v, want %v", updated.Attachments, want)
	}
}

func TestDraftPhotosRequireValidDate(t *testing.T) {
	f := newFixture()
	upload := []models.AttachmentUpload{{Filename: "a.jpg", ContentType: "image/jpeg", Data: jpegBytes()}}

	if _, err := f.service.UploadDraftPhotos(context.Background(), f.branch, f.patient, "14-03-2026", upload); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	records, err := f.service.UploadDraftPhotos(context.Background(), f.branch, f.patient, "2026-03-14", upload)
	if err != nil {
		t.Fatalf("upload draft: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}

	views, err := f.service.ListDraftPhotos(context.Background(), f.branch, f.patient, "2026-03-14")
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected one view, got %d", len(views))
	}
}
