package attachments

import (
	"context"
	"errors"
	"time"

	"github.com/arogya-health/clinic-platform/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("attachment not found")

// Record is attachment metadata without the binary payload.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	Filename     string          `json:"filename"`
	ContentType  string          `json:"content_type"`
	SizeBytes    int64           `json:"size_bytes"`
	Position     models.Position `json:"position"`
	DisplayOrder int             `json:"display_order"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type draftAttachmentModel struct {
	ID           uuid.UUID `gorm:"primaryKey;column:id"`
	PatientID    uuid.UUID `gorm:"column:patient_id;index:idx_draft_scope"`
	DateStr      string    `gorm:"column:date_str;index:idx_draft_scope"`
	Filename     string    `gorm:"column:filename"`
	ContentType  string    `gorm:"column:content_type"`
	SizeBytes    int64     `gorm:"column:size_bytes"`
	Payload      []byte    `gorm:"column:payload"`
	Position     string    `gorm:"column:position"`
	DisplayOrder int       `gorm:"column:display_order"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (draftAttachmentModel) TableName() string { return "draft_attachments" }

type visitAttachmentModel struct {
	ID           uuid.UUID `gorm:"primaryKey;column:id"`
	VisitID      uuid.UUID `gorm:"column:visit_id;index"`
	Filename     string    `gorm:"column:filename"`
	ContentType  string    `gorm:"column:content_type"`
	SizeBytes    int64     `gorm:"column:size_bytes"`
	Payload      []byte    `gorm:"column:payload"`
	Position     string    `gorm:"column:position"`
	DisplayOrder int       `gorm:"column:display_order"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (visitAttachmentModel) TableName() string { return "visit_attachments" }

// metadataColumns keeps list queries from dragging image payloads through
// memory.
const metadataColumns = "id, filename, content_type, size_bytes, position, display_order, created_at"

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&draftAttachmentModel{},
		&visitAttachmentModel{},
	)
}

func (r *Repository) CreateDraft(ctx context.Context, patientID uuid.UUID, dateStr string, upload models.AttachmentUpload) (Record, error) {
	row := &draftAttachmentModel{
		ID:           uuid.New(),
		PatientID:    patientID,
		DateStr:      dateStr,
		Filename:     upload.Filename,
		ContentType:  upload.ContentType,
		SizeBytes:    int64(len(upload.Data)),
		Payload:      upload.Data,
		Position:     string(upload.Position),
		DisplayOrder: upload.DisplayOrder,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return Record{}, err
	}
	return draftRecord(row), nil
}

func (r *Repository) ListDrafts(ctx context.Context, patientID uuid.UUID, dateStr string) ([]Record, error) {
	var rows []draftAttachmentModel
	err := r.db.WithContext(ctx).
		Select(metadataColumns).
		Where("patient_id = ? AND date_str = ?", patientID, dateStr).
		Order("display_order, created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for i := range rows {
		records = append(records, draftRecord(&rows[i]))
	}
	return records, nil
}

func (r *Repository) GetDraftBinary(ctx context.Context, patientID uuid.UUID, dateStr string, attachmentID uuid.UUID) (models.AttachmentBinary, error) {
	var row draftAttachmentModel
	err := r.db.WithContext(ctx).
		First(&row, "id = ? AND patient_id = ? AND date_str = ?", attachmentID, patientID, dateStr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AttachmentBinary{}, ErrNotFound
	}
	if err != nil {
		return models.AttachmentBinary{}, err
	}
	return models.AttachmentBinary{Data: row.Payload, ContentType: row.ContentType}, nil
}

func (r *Repository) CreateForVisit(ctx context.Context, visitID uuid.UUID, upload models.AttachmentUpload) (Record, error) {
	row := &visitAttachmentModel{
		ID:           uuid.New(),
		VisitID:      visitID,
		Filename:     upload.Filename,
		ContentType:  upload.ContentType,
		SizeBytes:    int64(len(upload.Data)),
		Payload:      upload.Data,
		Position:     string(upload.Position),
		DisplayOrder: upload.DisplayOrder,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return Record{}, err
	}
	return visitRecord(row), nil
}

func (r *Repository) ListForVisit(ctx context.Context, visitID uuid.UUID) ([]Record, error) {
	var rows []visitAttachmentModel
	err := r.db.WithContext(ctx).
		Select(metadataColumns).
		Where("visit_id = ?", visitID).
		Order("display_order, created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for i := range rows {
		records = append(records, visitRecord(&rows[i]))
	}
	return records, nil
}

func (r *Repository) GetVisitBinary(ctx context.Context, visitID uuid.UUID, attachmentID uuid.UUID) (models.AttachmentBinary, error) {
	var row visitAttachmentModel
	err := r.db.WithContext(ctx).
		First(&row, "id = ? AND visit_id = ?", attachmentID, visitID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AttachmentBinary{}, ErrNotFound
	}
	if err != nil {
		return models.AttachmentBinary{}, err
	}
	return models.AttachmentBinary{Data: row.Payload, ContentType: row.ContentType}, nil
}

func draftRecord(row *draftAttachmentModel) Record {
	return Record{
		ID:           row.ID,
		Filename:     row.Filename,
		ContentType:  row.ContentType,
		SizeBytes:    row.SizeBytes,
		Position:     models.NormalizePosition(row.Position),
		DisplayOrder: row.DisplayOrder,
		CreatedAt:    row.CreatedAt,
	}
}

func visitRecord(row *visitAttachmentModel) Record {
	return Record{
		ID:           row.ID,
		Filename:     row.Filename,
		ContentType:  row.ContentType,
		SizeBytes:    row.SizeBytes,
		Position:     models.NormalizePosition(row.Position),
		DisplayOrder: row.DisplayOrder,
		CreatedAt:    row.CreatedAt,
	}
}
