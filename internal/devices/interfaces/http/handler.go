package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"adms-gateway/internal/audit"
	"adms-gateway/internal/auth"
	commands "adms-gateway/internal/commands/domain"
	devicesapp "adms-gateway/internal/devices/application"
	devices "adms-gateway/internal/devices/domain"
)

// Handler provides fleet HTTP endpoints.
type Handler struct {
	registry    *devicesapp.Registry
	arbiter     *devicesapp.Arbiter
	auditLogger audit.Logger
	logger      *log.Logger
}

// NewHandler constructs a handler. The arbiter may be nil when direct
// links are disabled; direct actions then queue or fail accordingly.
func NewHandler(registry *devicesapp.Registry, arbiter *devicesapp.Arbiter, auditLogger audit.Logger, logger *log.Logger) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("devices handler: nil registry")
	}
	if logger == nil {
		return nil, errors.New("devices handler: nil logger")
	}
	return &Handler{registry: registry, arbiter: arbiter, auditLogger: auditLogger, logger: logger}, nil
}

// Register mounts the fleet endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/devices", h.handleList)
	mux.HandleFunc("/api/v1/devices/", h.handleDevice)
}

type deviceView struct {
	SerialNumber   string         `json:"serial_number"`
	ConnectionMode string         `json:"connection_mode"`
	Address        string         `json:"address,omitempty"`
	Port           int            `json:"port,omitempty"`
	LastSeen       string         `json:"last_seen,omitempty"`
	PendingCount   int            `json:"pending_count"`
	CommandCounts  map[string]int `json:"command_counts"`
	Info           *infoView      `json:"info,omitempty"`
}

type infoView struct {
	FirmwareVersion  string `json:"firmware_version"`
	UserCount        int    `json:"user_count"`
	FingerprintCount int    `json:"fingerprint_count"`
	AttendanceCount  int    `json:"attendance_count"`
	IPAddress        string `json:"ip_address"`
	Functions        string `json:"functions"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := h.registry.List()
	views := make([]deviceView, 0, len(list))
	for _, device := range list {
		views = append(views, viewOf(device))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func (h *Handler) handleDevice(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	parts := strings.Split(path, "/")
	if len(parts) < 1 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	device := h.registry.Get(parts[0])
	if device == nil {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(viewOf(device))
		return
	}
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.handleAction(w, r, device, parts[1])
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, device *devices.Device, action string) {
	switch action {
	case "stats":
		h.handleStats(w, r, device)
		return
	case "users":
		h.handleUsers(w, r, device)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var (
		queued bool
		err    error
	)
	switch action {
	case "connect":
		err = h.connect(r.Context(), device)
	case "restart":
		queued, err = h.restart(r.Context(), device)
	case "poweroff":
		queued, err = h.poweroff(r.Context(), device)
	case "synctime":
		queued, err = h.synctime(r.Context(), device)
	case "pull":
		queued, err = h.pull(w, r, device)
		if err != nil && errors.Is(err, errBadActionRequest) {
			return
		}
	case "voice":
		err = h.voice(w, r, device)
		if err != nil && errors.Is(err, errBadActionRequest) {
			return
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		if errors.Is(err, devicesapp.ErrNoDirectRoute) {
			http.Error(w, "no direct route to device", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"serial_number":   device.SerialNumber,
		"queued":          queued,
		"connection_mode": device.ConnectionMode(),
	})
	h.logAudit(r, "device."+action, device.SerialNumber, queued)
}

func (h *Handler) connect(ctx context.Context, device *devices.Device) error {
	if h.arbiter == nil {
		return devicesapp.ErrNoDirectRoute
	}
	return h.arbiter.MaybePromote(ctx, device, true)
}

func (h *Handler) restart(ctx context.Context, device *devices.Device) (bool, error) {
	if h.arbiter == nil {
		device.Queue().Enqueue(commands.Reboot)
		return true, nil
	}
	return h.arbiter.Restart(ctx, device)
}

func (h *Handler) poweroff(ctx context.Context, device *devices.Device) (bool, error) {
	if h.arbiter == nil {
		device.Queue().Enqueue(commands.Shutdown)
		return true, nil
	}
	return h.arbiter.PowerOff(ctx, device)
}

func (h *Handler) synctime(ctx context.Context, device *devices.Device) (bool, error) {
	if h.arbiter == nil {
		return false, devicesapp.ErrNoDirectRoute
	}
	return h.arbiter.SyncTime(ctx, device, time.Now())
}

// errBadActionRequest marks requests already answered with a 4xx by the
// action itself.
var errBadActionRequest = errors.New("devices handler: bad action request")

func (h *Handler) voice(w http.ResponseWriter, r *http.Request, device *devices.Device) error {
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return errBadActionRequest
	}
	if h.arbiter == nil {
		return devicesapp.ErrNoDirectRoute
	}
	return h.arbiter.PlayVoice(r.Context(), device, req.Index)
}

// pull queues an attendance upload request, optionally bounded to a window.
// The terminal answers over the regular cdata upload path.
func (h *Handler) pull(w http.ResponseWriter, r *http.Request, device *devices.Device) (bool, error) {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false, errBadActionRequest
	}
	if (req.From == "") != (req.To == "") {
		http.Error(w, "from and to must be given together", http.StatusBadRequest)
		return false, errBadActionRequest
	}
	if req.From == "" {
		device.Queue().Enqueue(commands.QueryAttLog)
	} else {
		device.Queue().Enqueue(commands.QueryAttLogRange(req.From, req.To))
	}
	return true, nil
}

// handleUsers pushes user records to the terminal: POST upserts, DELETE
// removes by PIN. Both ride the command queue, there is no direct-link
// equivalent.
func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request, device *devices.Device) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			PIN       string `json:"pin"`
			Name      string `json:"name"`
			Privilege int    `json:"privilege"`
			Card      int    `json:"card"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.PIN == "" {
			http.Error(w, "pin required", http.StatusBadRequest)
			return
		}
		device.Queue().Enqueue(commands.UpdateUserInfo(req.PIN, req.Name, req.Privilege, req.Card))
		h.respondQueued(w, device)
		h.logAudit(r, "device.user_update", device.SerialNumber, true)
	case http.MethodDelete:
		pin := r.URL.Query().Get("pin")
		if pin == "" {
			http.Error(w, "pin required", http.StatusBadRequest)
			return
		}
		device.Queue().Enqueue(commands.DeleteUser(pin))
		h.respondQueued(w, device)
		h.logAudit(r, "device.user_delete", device.SerialNumber, true)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) respondQueued(w http.ResponseWriter, device *devices.Device) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"serial_number":   device.SerialNumber,
		"queued":          true,
		"connection_mode": device.ConnectionMode(),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request, device *devices.Device) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.arbiter == nil {
		http.Error(w, "no direct route to device", http.StatusConflict)
		return
	}
	sizes, err := h.arbiter.Stats(r.Context(), device)
	if err != nil {
		if errors.Is(err, devicesapp.ErrNoDirectRoute) {
			http.Error(w, "no direct route to device", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sizes)
}

func (h *Handler) logAudit(r *http.Request, action, sn string, queued bool) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{"queued": queued})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:     auth.SubjectFromContext(r.Context()),
		Role:      string(auth.RoleFromContext(r.Context())),
		Action:    action,
		DeviceSN:  sn,
		Metadata:  meta,
		IP:        audit.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
}

func viewOf(device *devices.Device) deviceView {
	view := deviceView{
		SerialNumber:   device.SerialNumber,
		ConnectionMode: device.ConnectionMode(),
		Address:        device.Addr(),
		Port:           device.Port(),
		PendingCount:   device.Queue().PendingCount(),
		CommandCounts:  device.Queue().CountByStatus(),
	}
	if seen := device.LastSeen(); !seen.IsZero() {
		view.LastSeen = seen.Format(time.RFC3339)
	}
	if info := device.Info(); info != nil {
		view.Info = &infoView{
			FirmwareVersion:  info.FirmwareVersion,
			UserCount:        info.UserCount,
			FingerprintCount: info.FingerprintCount,
			AttendanceCount:  info.AttendanceCount,
			IPAddress:        info.IPAddress,
			Functions:        info.Functions.Raw,
		}
	}
	return view
}
