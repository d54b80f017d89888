package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"adms-gateway/internal/observability/metrics"
	pushapp "adms-gateway/internal/push/application"
)

// RecordIngestor persists parsed device uploads.
type RecordIngestor interface {
	IngestAttendance(ctx context.Context, serialNumber, body string) (int, error)
	IngestOperlog(ctx context.Context, serialNumber, body string) (int, error)
}

// Handler exposes the device-facing protocol endpoints. Responses are
// plain text: the terminals parse bodies byte for byte and reject
// anything decorated.
type Handler struct {
	service *pushapp.Service
	records RecordIngestor
	logger  *log.Logger
}

// NewHandler constructs the device-facing handler. records may be nil
// when upload persistence is disabled.
func NewHandler(service *pushapp.Service, records RecordIngestor, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("push handler: nil service")
	}
	if logger == nil {
		return nil, errors.New("push handler: nil logger")
	}
	return &Handler{service: service, records: records, logger: logger}, nil
}

// Register mounts the protocol endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/iclock/getrequest", h.handleGetRequest)
	mux.HandleFunc("/iclock/devicecmd", h.handleDeviceCmd)
	mux.HandleFunc("/iclock/cdata", h.handleCData)
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()
	sn := r.URL.Query().Get("SN")
	info := r.URL.Query().Get("INFO")

	body, err := h.service.HandleHeartbeat(r.Context(), sn, info)
	if err != nil {
		metrics.ObserveHeartbeat(metrics.ResultError, time.Since(started))
		if errors.Is(err, pushapp.ErrMissingSerial) {
			http.Error(w, "SN required", http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveHeartbeat(metrics.ResultSuccess, time.Since(started))
	writeText(w, body)
}

func (h *Handler) handleDeviceCmd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sn := r.URL.Query().Get("SN")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("push http: sn=%s devicecmd body read: %v", sn, err)
	}
	defer r.Body.Close()

	writeText(w, h.service.HandleDeviceReply(r.Context(), sn, string(body)))
}

func (h *Handler) handleCData(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		// Initial options handshake; nothing to store.
		writeText(w, "OK")
	case http.MethodPost:
		h.handleUpload(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	sn := r.URL.Query().Get("SN")
	table := r.URL.Query().Get("table")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("push http: sn=%s cdata body read: %v", sn, err)
		writeText(w, "OK:0")
		return
	}
	defer r.Body.Close()

	if h.records == nil {
		writeText(w, "OK:0")
		return
	}

	var n int
	switch table {
	case "ATTLOG":
		n, err = h.records.IngestAttendance(r.Context(), sn, string(body))
		if err == nil {
			metrics.AddRecordsUpserted("attendance", n)
		}
	case "OPERLOG":
		n, err = h.records.IngestOperlog(r.Context(), sn, string(body))
		if err == nil {
			metrics.AddRecordsUpserted("operlog", n)
		}
	default:
		h.logger.Printf("push http: sn=%s ignoring upload table=%q", sn, table)
	}
	if err != nil {
		h.logger.Printf("push http: sn=%s store upload table=%s: %v", sn, table, err)
	}
	writeText(w, fmt.Sprintf("OK:%d", n))
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, body)
}
