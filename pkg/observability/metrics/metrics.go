package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	visitsCreated     atomic.Int64
	visitsCompleted   atomic.Int64
	visitsDeleted     atomic.Int64
	photosUploaded    atomic.Int64
	auditLogsRecorded atomic.Int64
)

func IncVisitsCreated()   { visitsCreated.Add(1) }
func IncVisitsCompleted() { visitsCompleted.Add(1) }
func IncVisitsDeleted()   { visitsDeleted.Add(1) }

func AddPhotosUploaded(n int) { photosUploaded.Add(int64(n)) }
func IncAuditLogsRecorded()   { auditLogsRecorded.Add(1) }

// WritePrometheus renders the counters in Prometheus text exposition
// format for the /metrics endpoint.
func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP clinic_visits_created_total Number of visits created since process start.\n")
	fmt.Fprintf(w, "# TYPE clinic_visits_created_total counter\n")
	fmt.Fprintf(w, "clinic_visits_created_total %d\n", visitsCreated.Load())

	fmt.Fprintf(w, "# HELP clinic_visits_completed_total Number of visits completed since process start.\n")
	fmt.Fprintf(w, "# TYPE clinic_visits_completed_total counter\n")
	fmt.Fprintf(w, "clinic_visits_completed_total %d\n", visitsCompleted.Load())

	fmt.Fprintf(w, "# HELP clinic_visits_deleted_total Number of visits soft-deleted since process start.\n")
	fmt.Fprintf(w, "# TYPE clinic_visits_deleted_total counter\n")
	fmt.Fprintf(w, "clinic_visits_deleted_total %d\n", visitsDeleted.Load())

	fmt.Fprintf(w, "# HELP clinic_visit_photos_uploaded_total Number of visit photos stored since process start.\n")
	fmt.Fprintf(w, "# TYPE clinic_visit_photos_uploaded_total counter\n")
	fmt.Fprintf(w, "clinic_visit_photos_uploaded_total %d\n", photosUploaded.Load())

	fmt.Fprintf(w, "# HELP clinic_audit_logs_recorded_total Number of audit rows written since process start.\n")
	fmt.Fprintf(w, "# TYPE clinic_audit_logs_recorded_total counter\n")
	fmt.Fprintf(w, "clinic_audit_logs_recorded_total %d\n", auditLogsRecorded.Load())
}

func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WritePrometheus(w)
	}
}
