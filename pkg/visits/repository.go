package visits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/arogya-health/clinic-platform/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	roleDoctor = "DOCTOR"

	appointmentInProgress = "IN_PROGRESS"
	appointmentCompleted  = "COMPLETED"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type visitModel struct {
	ID            uuid.UUID      `gorm:"primaryKey;column:id"`
	PatientID     uuid.UUID      `gorm:"column:patient_id;index"`
	DoctorID      uuid.UUID      `gorm:"column:doctor_id;index"`
	AppointmentID *uuid.UUID     `gorm:"column:appointment_id;uniqueIndex"`
	BranchID      string         `gorm:"column:branch_id;index"`
	Vitals        datatypes.JSON `gorm:"column:vitals"`
	Complaints    datatypes.JSON `gorm:"column:complaints"`
	History       datatypes.JSON `gorm:"column:history"`
	Exam          datatypes.JSON `gorm:"column:exam"`
	Diagnosis     datatypes.JSON `gorm:"column:diagnosis"`
	Plan          datatypes.JSON `gorm:"column:plan"`
	Attachments   datatypes.JSON `gorm:"column:attachments"`
	ScribeJSON    datatypes.JSON `gorm:"column:scribe_json"`
	Status        string         `gorm:"column:status"`
	FollowUp      *time.Time     `gorm:"column:follow_up"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (visitModel) TableName() string { return "visits" }

type patientModel struct {
	ID       uuid.UUID `gorm:"primaryKey;column:id"`
	BranchID string    `gorm:"column:branch_id;index"`
	Name     string    `gorm:"column:name"`
	Phone    string    `gorm:"column:phone"`
	Email    string    `gorm:"column:email"`
	Gender   string    `gorm:"column:gender"`
}

func (patientModel) TableName() string { return "patients" }

type userModel struct {
	ID        uuid.UUID `gorm:"primaryKey;column:id"`
	BranchID  string    `gorm:"column:branch_id;index"`
	FirstName string    `gorm:"column:first_name"`
	LastName  string    `gorm:"column:last_name"`
	Email     string    `gorm:"column:email"`
	Role      string    `gorm:"column:role"`
}

func (userModel) TableName() string { return "users" }

type appointmentModel struct {
	ID          uuid.UUID `gorm:"primaryKey;column:id"`
	BranchID    string    `gorm:"column:branch_id;index"`
	PatientID   uuid.UUID `gorm:"column:patient_id;index"`
	DoctorID    uuid.UUID `gorm:"column:doctor_id;index"`
	Date        time.Time `gorm:"column:date"`
	Slot        string    `gorm:"column:slot"`
	Status      string    `gorm:"column:status"`
	TokenNumber int       `gorm:"column:token_number"`
}

func (appointmentModel) TableName() string { return "appointments" }

type prescriptionModel struct {
	ID        uuid.UUID      `gorm:"primaryKey;column:id"`
	VisitID   uuid.UUID      `gorm:"column:visit_id;index"`
	Language  string         `gorm:"column:language"`
	Items     datatypes.JSON `gorm:"column:items"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (prescriptionModel) TableName() string { return "prescriptions" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&visitModel{},
		&patientModel{},
		&userModel{},
		&appointmentModel{},
		&prescriptionModel{},
	)
}

func (r *Repository) FindPatient(ctx context.Context, id uuid.UUID, branchID string) (models.PatientSummary, error) {
	var row patientModel
	err := r.db.WithContext(ctx).First(&row, "id = ? AND branch_id = ?", id, branchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PatientSummary{}, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.PatientSummary{}, err
	}
	return models.PatientSummary{ID: row.ID, Name: row.Name, Phone: row.Phone, Gender: row.Gender}, nil
}

func (r *Repository) FindDoctor(ctx context.Context, id uuid.UUID, branchID string) (models.DoctorSummary, error) {
	var row userModel
	err := r.db.WithContext(ctx).
		First(&row, "id = ? AND branch_id = ? AND role = ?", id, branchID, roleDoctor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DoctorSummary{}, fmt.Errorf("doctor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.DoctorSummary{}, err
	}
	return models.DoctorSummary{ID: row.ID, Name: doctorName(&row), Email: row.Email}, nil
}

func (r *Repository) FindAppointment(ctx context.Context, id uuid.UUID, branchID string, patientID, doctorID uuid.UUID) (models.AppointmentSummary, error) {
	var row appointmentModel
	err := r.db.WithContext(ctx).
		First(&row, "id = ? AND branch_id = ? AND patient_id = ? AND doctor_id = ?", id, branchID, patientID, doctorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AppointmentSummary{}, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.AppointmentSummary{}, err
	}
	return models.AppointmentSummary{ID: row.ID, Date: row.Date, Slot: row.Slot, Status: row.Status}, nil
}

func (r *Repository) AppointmentHasVisit(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&visitModel{}).
		Where("appointment_id = ?", appointmentID).Count(&count).Error
	return count > 0, err
}

// CreateVisit inserts the visit row and, when the visit is linked to an
// appointment, flips that appointment to IN_PROGRESS in the same
// transaction. A duplicate appointment link surfaces as ErrConflict via
// the unique index on appointment_id.
func (r *Repository) CreateVisit(ctx context.Context, visit *models.Visit) error {
	row, err := encodeVisit(visit)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		if visit.AppointmentID != nil {
			return tx.Model(&appointmentModel{}).
				Where("id = ?", *visit.AppointmentID).
				Update("status", appointmentInProgress).Error
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("appointment %s: %w", visit.AppointmentID, ErrConflict)
	}
	return err
}

func (r *Repository) GetVisit(ctx context.Context, id uuid.UUID, branchID string) (models.Visit, error) {
	var row visitModel
	err := r.db.WithContext(ctx).First(&row, "id = ? AND branch_id = ?", id, branchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Visit{}, fmt.Errorf("visit %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Visit{}, err
	}
	return decodeVisit(&row), nil
}

// OwnersInBranch reports whether both the visit's patient and its doctor
// belong to the given branch. Patient and doctor branches can in principle
// diverge, so both are checked.
func (r *Repository) OwnersInBranch(ctx context.Context, patientID, doctorID uuid.UUID, branchID string) (bool, error) {
	var patientCount, doctorCount int64
	if err := r.db.WithContext(ctx).Model(&patientModel{}).
		Where("id = ? AND branch_id = ?", patientID, branchID).Count(&patientCount).Error; err != nil {
		return false, err
	}
	if err := r.db.WithContext(ctx).Model(&userModel{}).
		Where("id = ? AND branch_id = ?", doctorID, branchID).Count(&doctorCount).Error; err != nil {
		return false, err
	}
	return patientCount > 0 && doctorCount > 0, nil
}

var sortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"followUp":  "follow_up",
}

// clampVisitQuery is the single place page and limit are normalized, so
// the pagination reported to callers always matches the query that ran.
func clampVisitQuery(query models.VisitQuery) models.VisitQuery {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit <= 0 || query.Limit > 200 {
		query.Limit = 20
	}
	return query
}

func (r *Repository) ListVisits(ctx context.Context, query models.VisitQuery, branchID string) ([]models.Visit, int64, error) {
	query = clampVisitQuery(query)

	db := r.db.WithContext(ctx).Model(&visitModel{}).Where("branch_id = ?", branchID)
	db = applyVisitFilters(db, query)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := sortColumns[query.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(query.SortOrder, "asc") {
		direction = "ASC"
	}

	var rows []visitModel
	err := db.Order(column + " " + direction).
		Offset((query.Page - 1) * query.Limit).
		Limit(query.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	visits := make([]models.Visit, 0, len(rows))
	for i := range rows {
		visits = append(visits, decodeVisit(&rows[i]))
	}
	if err := r.attachSummaries(ctx, visits); err != nil {
		return nil, 0, err
	}
	return visits, total, nil
}

func applyVisitFilters(db *gorm.DB, query models.VisitQuery) *gorm.DB {
	if query.PatientID != nil {
		db = db.Where("patient_id = ?", *query.PatientID)
	}
	if query.DoctorID != nil {
		db = db.Where("doctor_id = ?", *query.DoctorID)
	}
	if query.AppointmentID != nil {
		db = db.Where("appointment_id = ?", *query.AppointmentID)
	}

	if query.Date != "" {
		if start, end, ok := dayBounds(query.Date); ok {
			db = db.Where("created_at >= ? AND created_at <= ?", start, end)
		}
	} else {
		if start, ok := parseDate(query.StartDate); ok {
			db = db.Where("created_at >= ?", start)
		}
		if end, ok := parseDate(query.EndDate); ok {
			db = db.Where("created_at <= ?", end)
		}
	}

	if query.Search != "" {
		like := "%" + query.Search + "%"
		db = db.Where(
			"complaints::text ILIKE ? OR plan::text ILIKE ? OR patient_id IN (SELECT id FROM patients WHERE name ILIKE ?)",
			like, like, like,
		)
	}
	if query.Diagnosis != "" {
		db = db.Where("diagnosis::text ILIKE ?", "%"+query.Diagnosis+"%")
	}
	if query.ICD10Code != "" {
		db = db.Where("diagnosis::text ILIKE ?", "%"+query.ICD10Code+"%")
	}
	return db
}

// HydrateVisit fills in the patient, doctor, and appointment summaries on
// a single decoded visit.
func (r *Repository) HydrateVisit(ctx context.Context, visit *models.Visit) error {
	page := []models.Visit{*visit}
	if err := r.attachSummaries(ctx, page); err != nil {
		return err
	}
	*visit = page[0]
	return nil
}

// attachSummaries resolves patient, doctor, and appointment summaries for
// a page of visits with one query per relation.
func (r *Repository) attachSummaries(ctx context.Context, visits []models.Visit) error {
	if len(visits) == 0 {
		return nil
	}

	patientIDs := make([]uuid.UUID, 0, len(visits))
	doctorIDs := make([]uuid.UUID, 0, len(visits))
	appointmentIDs := make([]uuid.UUID, 0, len(visits))
	for i := range visits {
		patientIDs = append(patientIDs, visits[i].PatientID)
		doctorIDs = append(doctorIDs, visits[i].DoctorID)
		if visits[i].AppointmentID != nil {
			appointmentIDs = append(appointmentIDs, *visits[i].AppointmentID)
		}
	}

	var patients []patientModel
	if err := r.db.WithContext(ctx).Where("id IN ?", patientIDs).Find(&patients).Error; err != nil {
		return err
	}
	patientsByID := make(map[uuid.UUID]*patientModel, len(patients))
	for i := range patients {
		patientsByID[patients[i].ID] = &patients[i]
	}

	var doctors []userModel
	if err := r.db.WithContext(ctx).Where("id IN ?", doctorIDs).Find(&doctors).Error; err != nil {
		return err
	}
	doctorsByID := make(map[uuid.UUID]*userModel, len(doctors))
	for i := range doctors {
		doctorsByID[doctors[i].ID] = &doctors[i]
	}

	appointmentsByID := make(map[uuid.UUID]*appointmentModel)
	if len(appointmentIDs) > 0 {
		var appointments []appointmentModel
		if err := r.db.WithContext(ctx).Where("id IN ?", appointmentIDs).Find(&appointments).Error; err != nil {
			return err
		}
		for i := range appointments {
			appointmentsByID[appointments[i].ID] = &appointments[i]
		}
	}

	for i := range visits {
		if p, ok := patientsByID[visits[i].PatientID]; ok {
			visits[i].Patient = &models.PatientSummary{ID: p.ID, Name: p.Name, Phone: p.Phone, Gender: p.Gender}
		}
		if d, ok := doctorsByID[visits[i].DoctorID]; ok {
			visits[i].Doctor = &models.DoctorSummary{ID: d.ID, Name: doctorName(d), Email: d.Email}
		}
		if visits[i].AppointmentID != nil {
			if a, ok := appointmentsByID[*visits[i].AppointmentID]; ok {
				visits[i].Appointment = &models.AppointmentSummary{ID: a.ID, Date: a.Date, Slot: a.Slot, Status: a.Status}
			}
		}
	}
	return nil
}

func (r *Repository) UpdateVisit(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&visitModel{}).Where("id = ?", id).Updates(updates).Error
}

// CompleteVisit writes the completion columns and flips the linked
// appointment to COMPLETED inside one transaction.
func (r *Repository) CompleteVisit(ctx context.Context, id uuid.UUID, updates map[string]interface{}, appointmentID *uuid.UUID) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&visitModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if appointmentID != nil {
			return tx.Model(&appointmentModel{}).
				Where("id = ?", *appointmentID).
				Update("status", appointmentCompleted).Error
		}
		return nil
	})
}

func (r *Repository) HasPrescription(ctx context.Context, visitID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&prescriptionModel{}).
		Where("visit_id = ?", visitID).Count(&count).Error
	return count > 0, err
}

func (r *Repository) Statistics(ctx context.Context, branchID, startDate, endDate string) (models.VisitStatistics, error) {
	base := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&visitModel{}).Where("branch_id = ?", branchID)
		if start, ok := parseDate(startDate); ok {
			db = db.Where("created_at >= ?", start)
		}
		if end, ok := parseDate(endDate); ok {
			db = db.Where("created_at <= ?", end)
		}
		return db
	}

	stats := models.VisitStatistics{Period: models.Period{StartDate: startDate, EndDate: endDate}}

	if err := base().Count(&stats.TotalVisits).Error; err != nil {
		return models.VisitStatistics{}, err
	}
	if err := base().Where("id IN (SELECT visit_id FROM prescriptions)").Count(&stats.VisitsWithPrescriptions).Error; err != nil {
		return models.VisitStatistics{}, err
	}
	if err := base().Where("follow_up IS NOT NULL").Count(&stats.VisitsWithFollowUp).Error; err != nil {
		return models.VisitStatistics{}, err
	}

	var days int64
	if err := base().Select("COUNT(DISTINCT DATE(created_at))").Scan(&days).Error; err != nil {
		return models.VisitStatistics{}, err
	}
	if days > 0 {
		stats.AverageVisitsPerDay = math.Round(float64(stats.TotalVisits)/float64(days)*100) / 100
	}
	return stats, nil
}

func doctorName(row *userModel) string {
	return strings.TrimSpace(row.FirstName + " " + row.LastName)
}

func encodeVisit(visit *models.Visit) (*visitModel, error) {
	row := &visitModel{
		ID:            visit.ID,
		PatientID:     visit.PatientID,
		DoctorID:      visit.DoctorID,
		AppointmentID: visit.AppointmentID,
		BranchID:      visit.BranchID,
		Status:        string(visit.Status),
		FollowUp:      visit.FollowUp,
		CreatedAt:     visit.CreatedAt,
		UpdatedAt:     visit.UpdatedAt,
	}

	var err error
	if row.Vitals, err = encodeJSON(visit.Vitals); err != nil {
		return nil, err
	}
	if row.Complaints, err = encodeJSON(visit.Complaints); err != nil {
		return nil, err
	}
	if visit.History != "" {
		if row.History, err = encodeJSON(visit.History); err != nil {
			return nil, err
		}
	}
	if row.Exam, err = encodeJSON(visit.Exam); err != nil {
		return nil, err
	}
	if len(visit.Diagnosis) > 0 {
		if row.Diagnosis, err = encodeJSON(visit.Diagnosis); err != nil {
			return nil, err
		}
	}
	if visit.Plan != nil {
		if row.Plan, err = encodeJSON(visit.Plan); err != nil {
			return nil, err
		}
	}
	if len(visit.Attachments) > 0 {
		if row.Attachments, err = encodeJSON(visit.Attachments); err != nil {
			return nil, err
		}
	}
	if row.ScribeJSON, err = encodeJSON(visit.ScribeJSON); err != nil {
		return nil, err
	}
	return row, nil
}

func encodeJSON(value interface{}) (datatypes.JSON, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case map[string]interface{}:
		if len(v) == 0 {
			return nil, nil
		}
	case []models.Complaint:
		if len(v) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding json column: %w", err)
	}
	return datatypes.JSON(data), nil
}

// decodeVisit turns a stored row back into the API shape. Absent object
// columns decode to nil, absent array columns to empty slices; a corrupt
// plan document decodes to an empty plan rather than failing the read.
func decodeVisit(row *visitModel) models.Visit {
	visit := models.Visit{
		ID:            row.ID,
		PatientID:     row.PatientID,
		DoctorID:      row.DoctorID,
		AppointmentID: row.AppointmentID,
		BranchID:      row.BranchID,
		Complaints:    []models.Complaint{},
		Diagnosis:     []models.Diagnosis{},
		Attachments:   []string{},
		Status:        models.VisitStatus(row.Status),
		FollowUp:      row.FollowUp,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}

	if len(row.Vitals) > 0 {
		_ = json.Unmarshal(row.Vitals, &visit.Vitals)
	}
	if len(row.Complaints) > 0 {
		_ = json.Unmarshal(row.Complaints, &visit.Complaints)
	}
	if len(row.History) > 0 {
		_ = json.Unmarshal(row.History, &visit.History)
	}
	if len(row.Exam) > 0 {
		_ = json.Unmarshal(row.Exam, &visit.Exam)
	}
	if len(row.Diagnosis) > 0 {
		_ = json.Unmarshal(row.Diagnosis, &visit.Diagnosis)
	}
	if len(row.Plan) > 0 {
		var plan models.Plan
		if err := json.Unmarshal(row.Plan, &plan); err != nil {
			visit.Plan = &models.Plan{}
		} else {
			visit.Plan = &plan
		}
	}
	if len(row.Attachments) > 0 {
		_ = json.Unmarshal(row.Attachments, &visit.Attachments)
	}
	if len(row.ScribeJSON) > 0 {
		_ = json.Unmarshal(row.ScribeJSON, &visit.ScribeJSON)
	}

	visit.Notes = derivedNotes(visit.Plan)
	return visit
}

func parseDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), true
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}

func dayBounds(raw string) (time.Time, time.Time, bool) {
	day, ok := parseDate(raw)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Nanosecond)
	return start, end, true
}
