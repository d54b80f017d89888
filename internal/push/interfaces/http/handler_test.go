package http

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	commands "adms-gateway/internal/commands/domain"
	devicesapp "adms-gateway/internal/devices/application"
	"adms-gateway/internal/eventing"
	pushapp "adms-gateway/internal/push/application"
)

type stubIngestor struct {
	attendance []string
	operlog    []string
	sn         string
}

func (s *stubIngestor) IngestAttendance(_ context.Context, sn, body string) (int, error) {
	s.sn = sn
	lines := strings.Split(strings.TrimSpace(body), "\n")
	s.attendance = append(s.attendance, lines...)
	return len(lines), nil
}

func (s *stubIngestor) IngestOperlog(_ context.Context, sn, body string) (int, error) {
	s.sn = sn
	lines := strings.Split(strings.TrimSpace(body), "\n")
	s.operlog = append(s.operlog, lines...)
	return len(lines), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *devicesapp.Registry, *stubIngestor) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	registry := devicesapp.NewRegistry()
	service, err := pushapp.NewService(registry, nil, eventing.NewBus(), logger, pushapp.WithLogPullInterval(0))
	if err != nil {
		t.Fatalf("push service: %v", err)
	}
	ingestor := &stubIngestor{}
	handler, err := NewHandler(service, ingestor, logger)
	if err != nil {
		t.Fatalf("push handler: %v", err)
	}
	mux := http.NewServeMux()
	handler.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, registry, ingestor
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "text/plain", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(out)
}

func TestGetRequestMissingSerial(t *testing.T) {
	server, registry, _ := newTestServer(t)

	code, _ := get(t, server.URL+"/iclock/getrequest")
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if registry.Count() != 0 {
		t.Fatal("device registered despite missing SN")
	}
}

func TestPollDeliverAckCycle(t *testing.T) {
	server, registry, _ := newTestServer(t)

	// First contact registers the device in push-only mode.
	code, body := get(t, server.URL+"/iclock/getrequest?SN=ABC123")
	if code != http.StatusOK || body != "OK" {
		t.Fatalf("first poll = %d %q", code, body)
	}
	device := registry.Get("ABC123")
	if device == nil {
		t.Fatal("device not registered")
	}

	device.Queue().Enqueue(commands.Unlock)

	code, body = get(t, server.URL+"/iclock/getrequest?SN=ABC123")
	if code != http.StatusOK || body != "C:1:AC_UNLOCK\n" {
		t.Fatalf("poll with pending command = %d %q", code, body)
	}

	// Redelivery does not happen while the command is in flight.
	_, body = get(t, server.URL+"/iclock/getrequest?SN=ABC123")
	if body != "OK" {
		t.Fatalf("re-poll = %q, want OK", body)
	}

	code, body = post(t, server.URL+"/iclock/devicecmd?SN=ABC123", "ID=1&Return=0&CMD=DATA")
	if code != http.StatusOK || body != "OK" {
		t.Fatalf("devicecmd = %d %q", code, body)
	}
	all := device.Queue().All()
	if len(all) != 1 || all[0].Status != commands.StatusAcked {
		t.Fatalf("command state = %+v", all)
	}
}

func TestDeviceCmdAlwaysOK(t *testing.T) {
	server, _, _ := newTestServer(t)

	code, body := post(t, server.URL+"/iclock/devicecmd?SN=GHOST", "garbage")
	if code != http.StatusOK || body != "OK" {
		t.Fatalf("devicecmd = %d %q, want 200 OK", code, body)
	}
}

func TestCDataAttendanceUpload(t *testing.T) {
	server, _, ingestor := newTestServer(t)

	upload := "1001\t2025-10-27 09:00:01\t1\t0\t0\n1002\t2025-10-27 09:05:00\t1\t0\t0\n"
	code, body := post(t, server.URL+"/iclock/cdata?SN=ABC123&table=ATTLOG", upload)
	if code != http.StatusOK || body != "OK:2" {
		t.Fatalf("cdata = %d %q, want 200 OK:2", code, body)
	}
	if ingestor.sn != "ABC123" || len(ingestor.attendance) != 2 {
		t.Fatalf("ingestor saw sn=%q lines=%d", ingestor.sn, len(ingestor.attendance))
	}
}

func TestCDataOperlogUpload(t *testing.T) {
	server, _, ingestor := newTestServer(t)

	code, body := post(t, server.URL+"/iclock/cdata?SN=ABC123&table=OPERLOG", "OPLOG 4\t1001\t2025-10-27 09:00:01")
	if code != http.StatusOK || body != "OK:1" {
		t.Fatalf("cdata = %d %q, want 200 OK:1", code, body)
	}
	if len(ingestor.operlog) != 1 {
		t.Fatalf("operlog lines = %d", len(ingestor.operlog))
	}
}

func TestCDataHandshakeAndUnknownTable(t *testing.T) {
	server, _, _ := newTestServer(t)

	code, body := get(t, server.URL+"/iclock/cdata?SN=ABC123&options=all")
	if code != http.StatusOK || body != "OK" {
		t.Fatalf("handshake = %d %q", code, body)
	}

	code, body = post(t, server.URL+"/iclock/cdata?SN=ABC123&table=BIODATA", "whatever")
	if code != http.StatusOK || body != "OK:0" {
		t.Fatalf("unknown table = %d %q", code, body)
	}
}

func TestGetRequestMethodNotAllowed(t *testing.T) {
	server, _, _ := newTestServer(t)

	code, _ := post(t, server.URL+"/iclock/getrequest?SN=ABC123", "")
	if code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", code)
	}
}
