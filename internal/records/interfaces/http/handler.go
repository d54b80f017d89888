package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"adms-gateway/internal/audit"
	"adms-gateway/internal/auth"
	recordsapp "adms-gateway/internal/records/application"
	records "adms-gateway/internal/records/domain"
	"adms-gateway/internal/records/interfaces"
)

const exportLimit = 10000

// Handler provides record query, clear and export endpoints.
type Handler struct {
	service     *recordsapp.Service
	auditLogger audit.Logger
	logger      *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *recordsapp.Service, auditLogger audit.Logger, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("records handler: nil service")
	}
	if logger == nil {
		return nil, errors.New("records handler: nil logger")
	}
	return &Handler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// Register mounts the record endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/records/summary", h.handleSummary)
	mux.HandleFunc("/api/v1/records/", h.handleKind)
	mux.HandleFunc("/api/v1/exports/attendance.xlsx", h.handleExportXLSX)
	mux.HandleFunc("/api/v1/exports/attendance.pdf", h.handleExportPDF)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

func (h *Handler) handleKind(w http.ResponseWriter, r *http.Request) {
	kind := strings.TrimPrefix(r.URL.Path, "/api/v1/records/")
	if kind == "" || strings.Contains(kind, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !records.ValidKind(kind) {
		http.Error(w, "unknown record kind", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r, kind)
	case http.MethodDelete:
		h.handleClear(w, r, kind)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, kind string) {
	sn := r.URL.Query().Get("sn")
	limit := queryInt(r, "limit", 100)

	var (
		payload any
		err     error
	)
	switch kind {
	case records.KindAttendance:
		payload, err = h.service.ListAttendance(r.Context(), sn, limit)
	case records.KindUser:
		payload, err = h.service.ListUsers(r.Context(), sn, limit)
	default:
		http.Error(w, "listing not supported for "+kind, http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request, kind string) {
	removed, err := h.service.Clear(r.Context(), kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"removed": removed})

	if h.auditLogger != nil {
		meta, _ := json.Marshal(map[string]any{"kind": kind, "removed": removed})
		_ = h.auditLogger.Log(r.Context(), audit.Entry{
			Actor:     auth.SubjectFromContext(r.Context()),
			Role:      string(auth.RoleFromContext(r.Context())),
			Action:    "records.clear",
			Metadata:  meta,
			IP:        audit.ClientIP(r),
			UserAgent: r.UserAgent(),
		})
	}
}

func (h *Handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	recs, sn, ok := h.exportRows(w, r)
	if !ok {
		return
	}
	data, err := interfaces.BuildAttendanceXLSX(sn, recs, time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="attendance.xlsx"`)
	_, _ = w.Write(data)
}

func (h *Handler) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	recs, sn, ok := h.exportRows(w, r)
	if !ok {
		return
	}
	data, err := interfaces.BuildAttendancePDF(sn, recs, time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="attendance.pdf"`)
	_, _ = w.Write(data)
}

func (h *Handler) exportRows(w http.ResponseWriter, r *http.Request) ([]records.Attendance, string, bool) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, "", false
	}
	sn := r.URL.Query().Get("sn")
	recs, err := h.service.ListAttendance(r.Context(), sn, queryInt(r, "limit", exportLimit))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, "", false
	}
	return recs, sn, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
