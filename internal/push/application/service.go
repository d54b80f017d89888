package application

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	commandsevents "adms-gateway/internal/commands/application/events"
	commands "adms-gateway/internal/commands/domain"
	devicesapp "adms-gateway/internal/devices/application"
	devices "adms-gateway/internal/devices/domain"
	"adms-gateway/internal/eventing"
	"adms-gateway/internal/observability/metrics"
)

// ErrMissingSerial rejects heartbeats that do not identify a device.
var ErrMissingSerial = errors.New("push: missing serial number")

const (
	defaultLogPullInterval = 5 * time.Minute
	defaultPromoteTimeout  = 5 * time.Second
)

// Service implements the poll/ack protocol: each device heartbeat drains
// that device's pending commands, and devicecmd replies acknowledge them.
type Service struct {
	registry *devicesapp.Registry
	arbiter  *devicesapp.Arbiter
	bus      *eventing.Bus
	logger   *log.Logger

	logPullInterval time.Duration
	promoteTimeout  time.Duration
	commandTimeout  time.Duration
	now             func() time.Time

	mu          sync.Mutex
	lastLogPull map[string]time.Time
	promoting   map[string]struct{}
}

// Option adjusts service construction.
type Option func(*Service)

// WithLogPullInterval sets the per-device attendance pull window. Zero
// disables scheduled pulls.
func WithLogPullInterval(d time.Duration) Option {
	return func(s *Service) { s.logPullInterval = d }
}

// WithCommandTimeout enables the sweep that fails commands stuck in the
// sent state longer than d. Zero leaves sent commands waiting forever.
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Service) { s.commandTimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs the protocol service. The arbiter may be nil when
// direct links are disabled.
func NewService(registry *devicesapp.Registry, arbiter *devicesapp.Arbiter, bus *eventing.Bus, logger *log.Logger, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, errors.New("push service: nil registry")
	}
	if logger == nil {
		return nil, errors.New("push service: nil logger")
	}
	s := &Service{
		registry:        registry,
		arbiter:         arbiter,
		bus:             bus,
		logger:          logger,
		logPullInterval: defaultLogPullInterval,
		promoteTimeout:  defaultPromoteTimeout,
		now:             time.Now,
		lastLogPull:     make(map[string]time.Time),
		promoting:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	// Queue SentAt stamps must come from the same source as the sweep cutoff.
	registry.SetClock(s.now)
	return s, nil
}

// HandleHeartbeat processes one getrequest poll and returns the response
// body: formatted command lines when work is pending, the bare ack token
// otherwise. A heartbeat from an unknown serial registers the device
// before anything else happens.
func (s *Service) HandleHeartbeat(ctx context.Context, serialNumber, infoToken string) (string, error) {
	if serialNumber == "" {
		return "", ErrMissingSerial
	}
	device, created := s.registry.LookupOrCreate(serialNumber)
	if created {
		s.logger.Printf("push: registered device sn=%s", serialNumber)
	}
	now := s.now().UTC()
	device.TouchSeen(now)

	if infoToken != "" {
		info, err := devices.ParseInfo(infoToken)
		if err != nil {
			s.logger.Printf("push: sn=%s ignoring malformed INFO: %v", serialNumber, err)
		} else {
			device.SetInfo(info)
			s.triggerPromotion(device)
		}
	}

	if s.shouldPullLogs(serialNumber, now) {
		cmd := device.Queue().Enqueue(commands.QueryAttLog)
		metrics.IncCommandQueued()
		s.publish(ctx, commandsevents.CommandQueued{
			EventID:      eventing.NewEventID(),
			SerialNumber: serialNumber,
			CommandID:    cmd.ID,
			Text:         cmd.Text,
			QueuedAt:     cmd.QueuedAt,
		})
	}

	drained := device.Queue().DrainPending()
	if len(drained) == 0 {
		return commands.AckToken, nil
	}

	ids := make([]string, 0, len(drained))
	for _, cmd := range drained {
		ids = append(ids, cmd.ID)
	}
	s.logger.Printf("push: sn=%s delivering %d command(s)", serialNumber, len(drained))
	s.publish(ctx, commandsevents.CommandDelivered{
		EventID:      eventing.NewEventID(),
		SerialNumber: serialNumber,
		CommandIDs:   ids,
		DeliveredAt:  now,
	})
	return commands.FormatLines(drained), nil
}

// HandleDeviceReply processes one devicecmd body and always returns the
// ack token: the terminals retry forever on anything else, and a reply
// that references unknown state carries no recoverable information.
func (s *Service) HandleDeviceReply(ctx context.Context, serialNumber, body string) string {
	if serialNumber == "" {
		s.logger.Print("push: devicecmd without serial number, dropping")
		return commands.AckToken
	}
	device := s.registry.Get(serialNumber)
	if device == nil {
		s.logger.Printf("push: devicecmd from unknown device sn=%s, dropping", serialNumber)
		return commands.AckToken
	}
	now := s.now().UTC()
	device.TouchSeen(now)

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, code, cmdText, err := parseReplyRecord(line)
		if err != nil {
			s.logger.Printf("push: sn=%s discarding reply record: %v", serialNumber, err)
			continue
		}
		if !commands.ValidWireID(id) {
			s.logger.Printf("push: sn=%s discarding reply with invalid id %q", serialNumber, id)
			continue
		}
		if !device.Queue().Acknowledge(id, code) {
			s.logger.Printf("push: sn=%s rejecting ack for id=%s (unknown or not in sent state)", serialNumber, id)
			continue
		}
		class := ClassifyReturnCode(code)
		s.logger.Printf("push: sn=%s acked id=%s cmd=%q return=%d class=%s", serialNumber, id, cmdText, code, class)
		metrics.IncCommandResult(commands.StatusAcked)
		s.observeAckLatency(device, id)
		s.publish(ctx, commandsevents.CommandAcked{
			EventID:      eventing.NewEventID(),
			SerialNumber: serialNumber,
			CommandID:    id,
			ReturnCode:   code,
			AckedAt:      now,
		})
	}
	return commands.AckToken
}

// SweepTimeouts fails commands stuck in the sent state beyond the
// configured timeout and returns how many were failed. A zero timeout
// disables the sweep.
func (s *Service) SweepTimeouts(ctx context.Context) int {
	if s.commandTimeout <= 0 {
		return 0
	}
	cutoff := s.now().UTC().Add(-s.commandTimeout)
	failed := 0
	for _, device := range s.registry.List() {
		for _, id := range device.Queue().SentBefore(cutoff) {
			if !device.Queue().MarkFailed(id) {
				continue
			}
			failed++
			s.logger.Printf("push: sn=%s command id=%s timed out, marked failed", device.SerialNumber, id)
			metrics.IncCommandResult(commands.StatusFailed)
			s.publish(ctx, commandsevents.CommandFailed{
				EventID:      eventing.NewEventID(),
				SerialNumber: device.SerialNumber,
				CommandID:    id,
				Reason:       "delivery timeout",
				FailedAt:     s.now().UTC(),
			})
		}
	}
	return failed
}

// UpdateDeviceGauges refreshes the per-mode device gauges.
func (s *Service) UpdateDeviceGauges() {
	counts := map[string]int{
		devices.ModePushOnly:      0,
		devices.ModePushAndDirect: 0,
	}
	for _, device := range s.registry.List() {
		counts[device.ConnectionMode()]++
	}
	for mode, count := range counts {
		metrics.SetDevices(mode, count)
	}
}

func (s *Service) shouldPullLogs(serialNumber string, now time.Time) bool {
	if s.logPullInterval <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastLogPull[serialNumber]
	if ok && now.Sub(last) < s.logPullInterval {
		return false
	}
	s.lastLogPull[serialNumber] = now
	return true
}

// triggerPromotion attempts a direct-link upgrade off the heartbeat path.
// At most one attempt per device runs at a time.
func (s *Service) triggerPromotion(device *devices.Device) {
	if s.arbiter == nil || device.ConnectionMode() != devices.ModePushOnly {
		return
	}
	s.mu.Lock()
	if _, busy := s.promoting[device.SerialNumber]; busy {
		s.mu.Unlock()
		return
	}
	s.promoting[device.SerialNumber] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.promoting, device.SerialNumber)
			s.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), s.promoteTimeout)
		defer cancel()
		if err := s.arbiter.MaybePromote(ctx, device, false); err != nil {
			s.logger.Printf("push: sn=%s direct-link promotion skipped: %v", device.SerialNumber, err)
		}
	}()
}

func (s *Service) observeAckLatency(device *devices.Device, id string) {
	for _, cmd := range device.Queue().All() {
		if cmd.ID == id && !cmd.SentAt.IsZero() && !cmd.AckAt.IsZero() {
			metrics.ObserveAckLatency(cmd.AckAt.Sub(cmd.SentAt))
			return
		}
	}
}

func (s *Service) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Printf("push: publish %T: %v", event, err)
	}
}

// parseReplyRecord parses one "ID=..&Return=..&CMD=.." record. ID and
// Return are required; CMD is informational.
func parseReplyRecord(line string) (id string, code int, cmdText string, err error) {
	var haveID, haveReturn bool
	for _, kv := range strings.Split(line, "&") {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		switch key {
		case "ID":
			id = strings.TrimSpace(value)
			haveID = true
		case "Return":
			code, err = strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return "", 0, "", errors.New("push: malformed Return in record: " + truncate(line))
			}
			haveReturn = true
		case "CMD":
			cmdText = value
		}
	}
	if !haveID || !haveReturn {
		return "", 0, "", errors.New("push: record missing ID or Return: " + truncate(line))
	}
	return id, code, cmdText, nil
}

func truncate(s string) string {
	const max = 64
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
