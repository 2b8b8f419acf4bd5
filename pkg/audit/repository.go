package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arogya-health/clinic-platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type auditLogModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement;column:id"`
	BranchID  string         `gorm:"column:branch_id;index"`
	Actor     string         `gorm:"column:actor"`
	Action    string         `gorm:"column:action;index"`
	Entity    string         `gorm:"column:entity"`
	EntityID  string         `gorm:"column:entity_id;index"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (auditLogModel) TableName() string { return "clinical_audit_logs" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&auditLogModel{})
}

func (r *Repository) Record(ctx context.Context, entry models.AuditLog) error {
	row := &auditLogModel{
		BranchID:  entry.BranchID,
		Actor:     entry.Actor,
		Action:    entry.Action,
		Entity:    entry.Entity,
		EntityID:  entry.EntityID,
		CreatedAt: entry.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if entry.Payload != nil {
		data, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("encoding audit payload: %w", err)
		}
		row.Payload = datatypes.JSON(data)
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *Repository) List(ctx context.Context, branchID string, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []auditLogModel
	err := r.db.WithContext(ctx).
		Where("branch_id = ?", branchID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]models.AuditLog, 0, len(rows))
	for i := range rows {
		entry := models.AuditLog{
			ID:        rows[i].ID,
			BranchID:  rows[i].BranchID,
			Actor:     rows[i].Actor,
			Action:    rows[i].Action,
			Entity:    rows[i].Entity,
			EntityID:  rows[i].EntityID,
			CreatedAt: rows[i].CreatedAt,
		}
		if len(rows[i].Payload) > 0 {
			_ = json.Unmarshal(rows[i].Payload, &entry.Payload)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
