package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	commands "adms-gateway/internal/commands/domain"
	devicesapp "adms-gateway/internal/devices/application"
	devices "adms-gateway/internal/devices/domain"
	"adms-gateway/internal/discovery"
)

// RecordCounter reports stored record counts per kind.
type RecordCounter interface {
	Summary(ctx context.Context) (map[string]int, error)
}

// StatsHandler serves fleet-wide statistics.
type StatsHandler struct {
	registry *devicesapp.Registry
	records  RecordCounter
}

// NewStatsHandler constructs a StatsHandler. records may be nil when
// upload persistence is disabled.
func NewStatsHandler(registry *devicesapp.Registry, records RecordCounter) *StatsHandler {
	return &StatsHandler{registry: registry, records: records}
}

type fleetStats struct {
	Devices       int            `json:"devices"`
	ByMode        map[string]int `json:"by_mode"`
	CommandCounts map[string]int `json:"command_counts"`
	Records       map[string]int `json:"records,omitempty"`
}

// ServeHTTP handles GET /api/v1/stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.registry == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	stats := fleetStats{
		ByMode: map[string]int{
			devices.ModePushOnly:      0,
			devices.ModePushAndDirect: 0,
		},
		CommandCounts: map[string]int{
			commands.StatusPending: 0,
			commands.StatusSent:    0,
			commands.StatusAcked:   0,
			commands.StatusFailed:  0,
		},
	}
	for _, device := range h.registry.List() {
		stats.Devices++
		stats.ByMode[device.ConnectionMode()]++
		for status, count := range device.Queue().CountByStatus() {
			stats.CommandCounts[status] += count
		}
	}
	if h.records != nil {
		summary, err := h.records.Summary(r.Context())
		if err == nil {
			stats.Records = summary
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// ScanHandler triggers a discovery sweep.
type ScanHandler struct {
	scanner *discovery.Scanner
	logger  *log.Logger
}

// NewScanHandler constructs a ScanHandler.
func NewScanHandler(scanner *discovery.Scanner, logger *log.Logger) (*ScanHandler, error) {
	if scanner == nil {
		return nil, errors.New("scan handler: nil scanner")
	}
	if logger == nil {
		return nil, errors.New("scan handler: nil logger")
	}
	return &ScanHandler{scanner: scanner, logger: logger}, nil
}

// ServeHTTP handles POST /api/v1/discovery/scan.
func (h *ScanHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	found, err := h.scanner.Scan(r.Context())
	if err != nil {
		h.logger.Printf("api: discovery scan: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"found":   found,
		"devices": h.scanner.Snapshot(),
	})
}

// HealthHandler answers liveness probes.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}
