package visits

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/arogya-health/clinic-platform/pkg/common/logger"
	"github.com/arogya-health/clinic-platform/pkg/common/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const branchHeader = "X-Branch-ID"

type Handler struct {
	service        *Service
	maxUploadBytes int64
}

func NewHandler(service *Service, maxUploadBytes int64) *Handler {
	return &Handler{service: service, maxUploadBytes: maxUploadBytes}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/visits", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/visits", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/visits/statistics", h.handleStatistics).Methods(http.MethodGet)
	r.HandleFunc("/visits/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/visits/{id}", h.handleUpdate).Methods(http.MethodPatch)
	r.HandleFunc("/visits/{id}", h.handleRemove).Methods(http.MethodDelete)
	r.HandleFunc("/visits/{id}/complete", h.handleComplete).Methods(http.MethodPost)
	r.HandleFunc("/visits/{id}/attachments", h.handleAddAttachments).Methods(http.MethodPost)
	r.HandleFunc("/visits/{id}/photos", h.handleUploadPhotos).Methods(http.MethodPost)
	r.HandleFunc("/visits/{id}/photos", h.handleListPhotos).Methods(http.MethodGet)
	r.HandleFunc("/visits/{id}/photos/{photoId}", h.handleGetPhoto).Methods(http.MethodGet)
	r.HandleFunc("/patients/{id}/history", h.handlePatientHistory).Methods(http.MethodGet)
	r.HandleFunc("/patients/{id}/photos/draft/{date}", h.handleUploadDraftPhotos).Methods(http.MethodPost)
	r.HandleFunc("/patients/{id}/photos/draft/{date}", h.handleListDraftPhotos).Methods(http.MethodGet)
	r.HandleFunc("/patients/{id}/photos/draft/{date}/{photoId}", h.handleGetDraftPhoto).Methods(http.MethodGet)
	r.HandleFunc("/doctors/{id}/visits", h.handleDoctorVisits).Methods(http.MethodGet)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	var req models.CreateVisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	visit, err := h.service.Create(r.Context(), branchID, req)
	if err != nil {
		h.writeError(w, err, "failed to create visit")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"visit": visit})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	query, err := parseVisitQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.service.FindAll(r.Context(), branchID, query)
	if err != nil {
		h.writeError(w, err, "failed to list visits")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid visit id", http.StatusBadRequest)
		return
	}
	visit, err := h.service.FindOne(r.Context(), branchID, id)
	if err != nil {
		h.writeError(w, err, "failed to get visit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"visit": visit})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid visit id", http.StatusBadRequest)
		return
	}
	var req models.UpdateVisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	visit, err := h.service.Update(r.Context(), branchID, id, req)
	if err != nil {
		h.writeError(w, err, "failed to update visit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"visit": visit})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid visit id", http.StatusBadRequest)
		return
	}
	var req models.CompleteVisitRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	visit, err := h.service.Complete(r.Context(), branchID, id, req)
	if err != nil {
		h.writeError(w, err, "failed to complete visit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"visit": visit})
}

func (h *Handler) handleAddAttachments(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid visit id", http.StatusBadRequest)
		return
	}
	var payload struct {
		Attachments []string `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	visit, err := h.service.AddAttachments(r.Context(), branchID, id, payload.Attachments)
	if err != nil {
		h.writeError(w, err, "failed to add attachments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"visit": visit})
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid visit id", http.StatusBadRequest)
		return
	}
	if err := h.service.Remove(r.Context(), branchID, id); err != nil {
		h.writeError(w, err, "failed to delete visit")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	stats, err := h.service.Statistics(r.Context(), branchID, r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date"))
	if err != nil {
		h.writeError(w, err, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"statistics": stats})
}

func (h *Handler) handlePatientHistory(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	patientID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	query := models.PatientHistoryQuery{
		PatientID: patientID,
		StartDate: r.URL.Query().Get("start_date"),
		EndDate:   r.URL.Query().Get("end_date"),
		Limit:     parseIntParam(r, "limit", 0),
	}
	history, err := h.service.PatientHistory(r.Context(), branchID, query)
	if err != nil {
		h.writeError(w, err, "failed to load patient history")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) handleDoctorVisits(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	doctorID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid doctor id", http.StatusBadRequest)
		return
	}
	query := models.DoctorVisitsQuery{
		DoctorID:  doctorID,
		Date:      r.URL.Query().Get("date"),
		StartDate: r.URL.Query().Get("start_date"),
		EndDate:   r.URL.Query().Get("end_date"),
		Limit:     parseIntParam(r, "limit", 0),
	}
	visits, err := h.service.DoctorVisits(r.Context(), branchID, query)
	if err != nil {
		h.writeError(w, err, "failed to load doctor visits")
		return
	}
	writeJSON(w, http.StatusOK, visits)
}

func (h *Handler) handleUploadPhotos(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	visitID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid visit id", http.StatusBadRequest)
		return
	}
	uploads, err := h.parseUploads(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, err := h.service.UploadVisitPhotos(r.Context(), branchID, visitID, uploads)
	if err != nil {
		h.writeError(w, err, "failed to upload photos")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"photos": records})
}

func (h *Handler) handleListPhotos(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	visitID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid visit id", http.StatusBadRequest)
		return
	}
	views, err := h.service.ListVisitPhotos(r.Context(), branchID, visitID)
	if err != nil {
		h.writeError(w, err, "failed to list photos")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"photos": views})
}

func (h *Handler) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	visitID, err := uuid.Parse(vars["id"])
	if err != nil {
		http.Error(w, "invalid visit id", http.StatusBadRequest)
		return
	}
	photoID, err := uuid.Parse(vars["photoId"])
	if err != nil {
		http.Error(w, "invalid photo id", http.StatusBadRequest)
		return
	}
	binary, err := h.service.GetVisitPhoto(r.Context(), branchID, visitID, photoID)
	if err != nil {
		h.writeError(w, err, "failed to read photo")
		return
	}
	writeBinary(w, binary)
}

func (h *Handler) handleUploadDraftPhotos(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	patientID, err := uuid.Parse(vars["id"])
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	uploads, err := h.parseUploads(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, err := h.service.UploadDraftPhotos(r.Context(), branchID, patientID, vars["date"], uploads)
	if err != nil {
		h.writeError(w, err, "failed to upload draft photos")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"photos": records})
}

func (h *Handler) handleListDraftPhotos(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	patientID, err := uuid.Parse(vars["id"])
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	views, err := h.service.ListDraftPhotos(r.Context(), branchID, patientID, vars["date"])
	if err != nil {
		h.writeError(w, err, "failed to list draft photos")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"photos": views})
}

func (h *Handler) handleGetDraftPhoto(w http.ResponseWriter, r *http.Request) {
	branchID, ok := requireBranch(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	patientID, err := uuid.Parse(vars["id"])
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	photoID, err := uuid.Parse(vars["photoId"])
	if err != nil {
		http.Error(w, "invalid photo id", http.StatusBadRequest)
		return
	}
	binary, err := h.service.GetDraftPhoto(r.Context(), branchID, patientID, vars["date"], photoID)
	if err != nil {
		h.writeError(w, err, "failed to read draft photo")
		return
	}
	writeBinary(w, binary)
}

// parseUploads reads multipart files from the "photos" field. Optional
// parallel "position" and "display_order" fields apply per file by index.
func (h *Handler) parseUploads(w http.ResponseWriter, r *http.Request) ([]models.AttachmentUpload, error) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, errors.New("invalid multipart payload")
	}
	files := r.MultipartForm.File["photos"]
	positions := r.MultipartForm.Value["position"]
	orders := r.MultipartForm.Value["display_order"]

	uploads := make([]models.AttachmentUpload, 0, len(files))
	for i, header := range files {
		file, err := header.Open()
		if err != nil {
			return nil, errors.New("unreadable file in payload")
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, errors.New("unreadable file in payload")
		}

		upload := models.AttachmentUpload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
			Position:    models.PositionOther,
		}
		if i < len(positions) {
			upload.Position = models.NormalizePosition(positions[i])
		}
		if i < len(orders) {
			if order, err := strconv.Atoi(orders[i]); err == nil {
				upload.DisplayOrder = order
			}
		}
		uploads = append(uploads, upload)
	}
	return uploads, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "record not found", http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		http.Error(w, "a visit already exists for this appointment", http.StatusConflict)
	default:
		logger.Log.WithError(err).Error(fallback)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

func requireBranch(w http.ResponseWriter, r *http.Request) (string, bool) {
	branchID := r.Header.Get(branchHeader)
	if branchID == "" {
		http.Error(w, "X-Branch-ID header is required", http.StatusBadRequest)
		return "", false
	}
	return branchID, true
}

func parseVisitQuery(r *http.Request) (models.VisitQuery, error) {
	q := r.URL.Query()
	query := models.VisitQuery{
		Date:      q.Get("date"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Search:    q.Get("search"),
		Diagnosis: q.Get("diagnosis"),
		ICD10Code: q.Get("icd10_code"),
		Page:      parseIntParam(r, "page", 1),
		Limit:     parseIntParam(r, "limit", 20),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	for param, target := range map[string]**uuid.UUID{
		"patient_id":     &query.PatientID,
		"doctor_id":      &query.DoctorID,
		"appointment_id": &query.AppointmentID,
	} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return models.VisitQuery{}, errors.New("invalid " + param)
		}
		*target = &id
	}
	return query, nil
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBinary(w http.ResponseWriter, binary models.AttachmentBinary) {
	contentType := binary.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(binary.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(binary.Data)
}
