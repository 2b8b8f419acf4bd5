package audit

import (
	"context"

	"github.com/arogya-health/clinic-platform/pkg/common/logger"
	"github.com/arogya-health/clinic-platform/pkg/common/models"
	"github.com/arogya-health/clinic-platform/pkg/observability/metrics"
)

// Recorder turns visit lifecycle events into audit rows. It is wired as
// the Kafka consumer handler in the audit worker.
type Recorder struct {
	repo *Repository
}

func NewRecorder(repo *Repository) *Recorder {
	return &Recorder{repo: repo}
}

func (r *Recorder) Handle(ctx context.Context, event models.Event) error {
	entry := models.AuditLog{
		BranchID:  event.BranchID,
		Actor:     actorFrom(event),
		Action:    event.Type,
		Entity:    "visit",
		Payload:   event.Data,
		CreatedAt: event.Timestamp,
	}
	if visitID, ok := event.Data["visit_id"].(string); ok {
		entry.EntityID = visitID
	}

	if err := r.repo.Record(ctx, entry); err != nil {
		return err
	}
	metrics.IncAuditLogsRecorded()
	logger.Log.WithField("action", entry.Action).WithField("entity_id", entry.EntityID).Info("Recorded audit log")
	return nil
}

func actorFrom(event models.Event) string {
	if actor, ok := event.Metadata["actor"]; ok && actor != "" {
		return actor
	}
	return "system"
}
