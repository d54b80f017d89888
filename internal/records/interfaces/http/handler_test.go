package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	recordsapp "adms-gateway/internal/records/application"
	records "adms-gateway/internal/records/domain"
)

type memStore struct {
	attendance []records.Attendance
	users      []records.User
	cleared    []string
}

func (s *memStore) UpsertAttendance(_ context.Context, recs []records.Attendance) (int, error) {
	s.attendance = append(s.attendance, recs...)
	return len(recs), nil
}

func (s *memStore) UpsertUsers(_ context.Context, recs []records.User) (int, error) {
	s.users = append(s.users, recs...)
	return len(recs), nil
}

func (s *memStore) UpsertOperations(_ context.Context, recs []records.Operation) (int, error) {
	return len(recs), nil
}

func (s *memStore) UpsertFingerprints(_ context.Context, recs []records.Fingerprint) (int, error) {
	return len(recs), nil
}

func (s *memStore) UpsertFaces(_ context.Context, recs []records.Face) (int, error) {
	return len(recs), nil
}

func (s *memStore) Summary(context.Context) (map[string]int, error) {
	return map[string]int{
		records.KindAttendance: len(s.attendance),
		records.KindUser:       len(s.users),
	}, nil
}

func (s *memStore) ListAttendance(_ context.Context, sn string, limit int) ([]records.Attendance, error) {
	var out []records.Attendance
	for _, rec := range s.attendance {
		if sn == "" || rec.SerialNumber == sn {
			out = append(out, rec)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) ListUsers(_ context.Context, sn string, limit int) ([]records.User, error) {
	return s.users, nil
}

func (s *memStore) Clear(_ context.Context, kind string) (int64, error) {
	s.cleared = append(s.cleared, kind)
	n := int64(len(s.attendance))
	if kind == records.KindAttendance {
		s.attendance = nil
	}
	return n, nil
}

func newRecordsServer(t *testing.T) (*httptest.Server, *memStore) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	store := &memStore{}
	service, err := recordsapp.NewService(store, logger)
	if err != nil {
		t.Fatalf("records service: %v", err)
	}
	handler, err := NewHandler(service, nil, logger)
	if err != nil {
		t.Fatalf("records handler: %v", err)
	}
	mux := http.NewServeMux()
	handler.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, store
}

func TestSummaryEndpoint(t *testing.T) {
	server, store := newRecordsServer(t)
	store.attendance = []records.Attendance{{PIN: "1", SerialNumber: "A"}}

	resp, err := http.Get(server.URL + "/api/v1/records/summary")
	if err != nil {
		t.Fatalf("GET summary: %v", err)
	}
	defer resp.Body.Close()
	var summary map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary[records.KindAttendance] != 1 {
		t.Fatalf("summary = %v", summary)
	}
}

func TestListAttendanceFiltersBySerial(t *testing.T) {
	server, store := newRecordsServer(t)
	store.attendance = []records.Attendance{
		{PIN: "1", SerialNumber: "A"},
		{PIN: "2", SerialNumber: "B"},
	}

	resp, err := http.Get(server.URL + "/api/v1/records/attendance?sn=B")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var out []records.Attendance
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].PIN != "2" {
		t.Fatalf("out = %+v", out)
	}
}

func TestUnknownKind404(t *testing.T) {
	server, _ := newRecordsServer(t)

	resp, err := http.Get(server.URL + "/api/v1/records/payroll")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestClearKind(t *testing.T) {
	server, store := newRecordsServer(t)
	store.attendance = []records.Attendance{{PIN: "1", SerialNumber: "A"}}

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/records/attendance", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(store.cleared) != 1 || store.cleared[0] != records.KindAttendance {
		t.Fatalf("cleared = %v", store.cleared)
	}
}

func TestExportXLSX(t *testing.T) {
	server, store := newRecordsServer(t)
	store.attendance = []records.Attendance{{PIN: "1", Timestamp: "2025-10-27 09:00:01", SerialNumber: "A"}}

	resp, err := http.Get(server.URL + "/api/v1/exports/attendance.xlsx")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// XLSX files are zip archives.
	if !bytes.HasPrefix(body, []byte("PK")) {
		t.Fatalf("body does not look like a zip archive: %q", body[:4])
	}
}

func TestExportPDF(t *testing.T) {
	server, store := newRecordsServer(t)
	store.attendance = []records.Attendance{{PIN: "1", Timestamp: "2025-10-27 09:00:01", SerialNumber: "A"}}

	resp, err := http.Get(server.URL + "/api/v1/exports/attendance.pdf")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasPrefix(body, []byte("%PDF")) {
		t.Fatalf("body does not look like a PDF: %q", body[:4])
	}
}
