package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"adms-gateway/internal/audit"
	"adms-gateway/internal/auth"
	commandsapp "adms-gateway/internal/commands/application"
	commands "adms-gateway/internal/commands/domain"
)

// Handler provides command HTTP endpoints.
type Handler struct {
	service     *commandsapp.Service
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *commandsapp.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("commands handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// Register mounts the command endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/commands", h.handleCommands)
	mux.HandleFunc("/api/v1/commands/cleanup", h.handleCleanup)
	mux.HandleFunc("/api/v1/commands/presets", h.handlePresets)
}

type enqueueRequest struct {
	SerialNumber string `json:"serial_number"`
	Text         string `json:"text"`
	Name         string `json:"name"`
}

type commandView struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Status     string `json:"status"`
	QueuedAt   string `json:"queued_at"`
	SentAt     string `json:"sent_at,omitempty"`
	AckAt      string `json:"ack_at,omitempty"`
	ReturnCode *int   `json:"return_code,omitempty"`
}

func (h *Handler) handleCommands(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	text := req.Text
	if text == "" && req.Name != "" {
		preset, ok := commands.Named(req.Name)
		if !ok {
			http.Error(w, "unknown command name", http.StatusBadRequest)
			return
		}
		text = preset
	}

	cmd, err := h.service.Enqueue(r.Context(), req.SerialNumber, text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(viewOf(cmd))

	h.logAudit(r, "command.enqueue", req.SerialNumber, map[string]any{
		"command_id": cmd.ID,
		"text":       cmd.Text,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sn := r.URL.Query().Get("sn")
	if sn == "" {
		http.Error(w, "sn required", http.StatusBadRequest)
		return
	}
	list, counts, err := h.service.List(sn)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	views := make([]commandView, 0, len(list))
	for _, cmd := range list {
		views = append(views, viewOf(cmd))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"serial_number": sn,
		"counts":        counts,
		"commands":      views,
	})
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sn := r.URL.Query().Get("sn")
	removed, err := h.service.Cleanup(sn)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"removed": removed})

	h.logAudit(r, "command.cleanup", sn, map[string]any{"removed": removed})
}

func (h *Handler) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"presets": commands.PresetNames()})
}

func (h *Handler) logAudit(r *http.Request, action, sn string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	metaJSON, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:     auth.SubjectFromContext(r.Context()),
		Role:      string(auth.RoleFromContext(r.Context())),
		Action:    action,
		DeviceSN:  sn,
		Metadata:  metaJSON,
		IP:        audit.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, commandsapp.ErrUnknownDevice):
		http.Error(w, "unknown device", http.StatusNotFound)
	case errors.Is(err, commandsapp.ErrEmptyText):
		http.Error(w, "text required", http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func viewOf(cmd commands.Command) commandView {
	view := commandView{
		ID:         cmd.ID,
		Text:       cmd.Text,
		Status:     cmd.Status,
		QueuedAt:   cmd.QueuedAt.Format(time.RFC3339),
		ReturnCode: cmd.ReturnCode,
	}
	if !cmd.SentAt.IsZero() {
		view.SentAt = cmd.SentAt.Format(time.RFC3339)
	}
	if !cmd.AckAt.IsZero() {
		view.AckAt = cmd.AckAt.Format(time.RFC3339)
	}
	return view
}
