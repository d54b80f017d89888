package http

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	commands "adms-gateway/internal/commands/domain"
	devicesapp "adms-gateway/internal/devices/application"
	devices "adms-gateway/internal/devices/domain"
	"adms-gateway/internal/directlink"
)

type stubSession struct {
	restarts int
	voices   []int
	fail     bool
}

func (s *stubSession) Restart(context.Context) error {
	if s.fail {
		return io.ErrUnexpectedEOF
	}
	s.restarts++
	return nil
}

func (s *stubSession) PowerOff(context.Context) error { return nil }

func (s *stubSession) TestVoice(_ context.Context, index int) error {
	if s.fail {
		return io.ErrUnexpectedEOF
	}
	s.voices = append(s.voices, index)
	return nil
}

func (s *stubSession) SetTime(context.Context, time.Time) error { return nil }

func (s *stubSession) GetTime(context.Context) (time.Time, error) { return time.Time{}, nil }

func (s *stubSession) FreeSizes(context.Context) (directlink.Sizes, error) {
	return directlink.Sizes{Users: 7, Records: 99}, nil
}

func (s *stubSession) ReadOption(context.Context, string) (string, error) { return "", nil }

func (s *stubSession) Close() error { return nil }

type stubDialer struct {
	session *stubSession
	err     error
}

func (d *stubDialer) Dial(context.Context, string, int, int) (directlink.Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

type allKnown struct{}

func (allKnown) KnownIP(string) bool { return true }

func newFleetServer(t *testing.T, dialer directlink.Dialer) (*httptest.Server, *devicesapp.Registry) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	registry := devicesapp.NewRegistry()

	var arbiter *devicesapp.Arbiter
	if dialer != nil {
		var err error
		arbiter, err = devicesapp.NewArbiter(dialer, allKnown{}, time.Second, logger)
		if err != nil {
			t.Fatalf("arbiter: %v", err)
		}
	}
	handler, err := NewHandler(registry, arbiter, nil, logger)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	mux := http.NewServeMux()
	handler.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, registry
}

func seedDevice(registry *devicesapp.Registry, sn string) *devices.Device {
	device, _ := registry.LookupOrCreate(sn)
	device.SetAddr("192.168.1.50", devices.DefaultPort)
	return device
}

func TestListAndDetail(t *testing.T) {
	server, registry := newFleetServer(t, nil)
	device := seedDevice(registry, "ABC123")
	device.TouchSeen(time.Now())
	device.Queue().Enqueue(commands.Unlock)

	resp, err := http.Get(server.URL + "/api/v1/devices")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	defer resp.Body.Close()
	var list []struct {
		SerialNumber   string `json:"serial_number"`
		ConnectionMode string `json:"connection_mode"`
		PendingCount   int    `json:"pending_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].SerialNumber != "ABC123" {
		t.Fatalf("list = %+v", list)
	}
	if list[0].ConnectionMode != devices.ModePushOnly || list[0].PendingCount != 1 {
		t.Fatalf("list[0] = %+v", list[0])
	}

	resp, err = http.Get(server.URL + "/api/v1/devices/ABC123")
	if err != nil {
		t.Fatalf("GET detail: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail status = %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/v1/devices/GHOST")
	if err != nil {
		t.Fatalf("GET unknown: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown device status = %d", resp.StatusCode)
	}
}

func TestConnectPromotesDevice(t *testing.T) {
	session := &stubSession{}
	server, registry := newFleetServer(t, &stubDialer{session: session})
	device := seedDevice(registry, "ABC123")

	resp, err := http.Post(server.URL+"/api/v1/devices/ABC123/connect", "application/json", nil)
	if err != nil {
		t.Fatalf("POST connect: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect status = %d", resp.StatusCode)
	}
	if device.ConnectionMode() != devices.ModePushAndDirect {
		t.Fatalf("mode = %q after connect", device.ConnectionMode())
	}
}

func TestRestartDirect(t *testing.T) {
	session := &stubSession{}
	server, registry := newFleetServer(t, &stubDialer{session: session})
	seedDevice(registry, "ABC123")

	resp, err := http.Post(server.URL+"/api/v1/devices/ABC123/restart", "application/json", nil)
	if err != nil {
		t.Fatalf("POST restart: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Queued bool `json:"queued"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Queued {
		t.Fatal("restart fell back to queue despite live session")
	}
	if session.restarts != 1 {
		t.Fatalf("restarts = %d", session.restarts)
	}
}

func TestRestartFallsBackToQueue(t *testing.T) {
	server, registry := newFleetServer(t, &stubDialer{err: io.ErrUnexpectedEOF})
	device := seedDevice(registry, "ABC123")

	resp, err := http.Post(server.URL+"/api/v1/devices/ABC123/restart", "application/json", nil)
	if err != nil {
		t.Fatalf("POST restart: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Queued         bool   `json:"queued"`
		ConnectionMode string `json:"connection_mode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Queued {
		t.Fatal("restart not queued with unreachable device")
	}
	if out.ConnectionMode != devices.ModePushOnly {
		t.Fatalf("mode = %q", out.ConnectionMode)
	}
	if device.Queue().PendingCount() != 1 {
		t.Fatalf("pending = %d", device.Queue().PendingCount())
	}
}

func TestStatsRequiresDirectRoute(t *testing.T) {
	server, registry := newFleetServer(t, nil)
	seedDevice(registry, "ABC123")

	resp, err := http.Get(server.URL + "/api/v1/devices/ABC123/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stats status = %d, want 409", resp.StatusCode)
	}
}

func TestStatsReadsSizes(t *testing.T) {
	session := &stubSession{}
	server, registry := newFleetServer(t, &stubDialer{session: session})
	seedDevice(registry, "ABC123")

	resp, err := http.Get(server.URL + "/api/v1/devices/ABC123/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	var sizes directlink.Sizes
	if err := json.NewDecoder(resp.Body).Decode(&sizes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sizes.Users != 7 || sizes.Records != 99 {
		t.Fatalf("sizes = %+v", sizes)
	}
}

func TestVoiceBadJSON(t *testing.T) {
	session := &stubSession{}
	server, registry := newFleetServer(t, &stubDialer{session: session})
	seedDevice(registry, "ABC123")

	resp, err := http.Post(server.URL+"/api/v1/devices/ABC123/voice", "application/json", strings.NewReader("not json"))
	if err != nil {
		t.Fatalf("POST voice: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("voice status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(server.URL+"/api/v1/devices/ABC123/voice", "application/json", strings.NewReader(`{"index":3}`))
	if err != nil {
		t.Fatalf("POST voice: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("voice status = %d", resp.StatusCode)
	}
	if len(session.voices) != 1 || session.voices[0] != 3 {
		t.Fatalf("voices = %v", session.voices)
	}
}

func TestPullQueuesBoundedQuery(t *testing.T) {
	server, registry := newFleetServer(t, nil)
	device := seedDevice(registry, "ABC123")

	resp, err := http.Post(server.URL+"/api/v1/devices/ABC123/pull", "application/json",
		strings.NewReader(`{"from":"2025-10-01 00:00:00","to":"2025-10-31 23:59:59"}`))
	if err != nil {
		t.Fatalf("POST pull: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pull status = %d", resp.StatusCode)
	}
	pending := device.Queue().DrainPending()
	want := commands.QueryAttLogRange("2025-10-01 00:00:00", "2025-10-31 23:59:59")
	if len(pending) != 1 || pending[0].Text != want {
		t.Fatalf("pending = %+v, want %q", pending, want)
	}
}

func TestPullWithoutWindowQueuesFullQuery(t *testing.T) {
	server, registry := newFleetServer(t, nil)
	device := seedDevice(registry, "ABC123")

	resp, err := http.Post(server.URL+"/api/v1/devices/ABC123/pull", "application/json", nil)
	if err != nil {
		t.Fatalf("POST pull: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pull status = %d", resp.StatusCode)
	}
	pending := device.Queue().DrainPending()
	if len(pending) != 1 || pending[0].Text != commands.QueryAttLog {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestPullHalfWindowRejected(t *testing.T) {
	server, registry := newFleetServer(t, nil)
	device := seedDevice(registry, "ABC123")

	resp, err := http.Post(server.URL+"/api/v1/devices/ABC123/pull", "application/json",
		strings.NewReader(`{"from":"2025-10-01 00:00:00"}`))
	if err != nil {
		t.Fatalf("POST pull: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("pull status = %d, want 400", resp.StatusCode)
	}
	if device.Queue().PendingCount() != 0 {
		t.Fatalf("half window must not queue")
	}
}

func TestUserUpdateAndDelete(t *testing.T) {
	server, registry := newFleetServer(t, nil)
	device := seedDevice(registry, "ABC123")

	resp, err := http.Post(server.URL+"/api/v1/devices/ABC123/users", "application/json",
		strings.NewReader(`{"pin":"1001","name":"carol","privilege":0,"card":12345}`))
	if err != nil {
		t.Fatalf("POST users: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("users status = %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/devices/ABC123/users?pin=1001", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE users: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	pending := device.Queue().DrainPending()
	if len(pending) != 2 {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].Text != commands.UpdateUserInfo("1001", "carol", 0, 12345) {
		t.Fatalf("update text = %q", pending[0].Text)
	}
	if pending[1].Text != commands.DeleteUser("1001") {
		t.Fatalf("delete text = %q", pending[1].Text)
	}
}

func TestUserUpdateRequiresPIN(t *testing.T) {
	server, registry := newFleetServer(t, nil)
	device := seedDevice(registry, "ABC123")

	resp, err := http.Post(server.URL+"/api/v1/devices/ABC123/users", "application/json",
		strings.NewReader(`{"name":"carol"}`))
	if err != nil {
		t.Fatalf("POST users: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("users status = %d, want 400", resp.StatusCode)
	}
	if device.Queue().PendingCount() != 0 {
		t.Fatalf("missing pin must not queue")
	}
}
