package application

import (
	"context"
	"errors"
	"log"
	"strings"

	"adms-gateway/internal/commands/application/events"
	commands "adms-gateway/internal/commands/domain"
	devicesapp "adms-gateway/internal/devices/application"
	"adms-gateway/internal/eventing"
	"adms-gateway/internal/observability/metrics"
)

// ErrUnknownDevice rejects operations against serials that never checked in.
var ErrUnknownDevice = errors.New("commands: unknown device")

// ErrEmptyText rejects commands with no instruction payload.
var ErrEmptyText = errors.New("commands: empty command text")

const defaultKeepAcked = 100

// Service is the operator-facing side of the command queues: it enqueues
// instructions for devices to collect on their next poll.
type Service struct {
	registry  *devicesapp.Registry
	bus       *eventing.Bus
	logger    *log.Logger
	keepAcked int
}

// NewService constructs the command service. keepAcked bounds how many
// acknowledged commands Cleanup retains per device; zero or negative
// applies the default.
func NewService(registry *devicesapp.Registry, bus *eventing.Bus, logger *log.Logger, keepAcked int) (*Service, error) {
	if registry == nil {
		return nil, errors.New("commands service: nil registry")
	}
	if logger == nil {
		return nil, errors.New("commands service: nil logger")
	}
	if keepAcked <= 0 {
		keepAcked = defaultKeepAcked
	}
	return &Service{registry: registry, bus: bus, logger: logger, keepAcked: keepAcked}, nil
}

// Enqueue queues one instruction for a known device and returns the
// queued command. The device receives it on its next poll.
func (s *Service) Enqueue(ctx context.Context, serialNumber, text string) (commands.Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return commands.Command{}, ErrEmptyText
	}
	device := s.registry.Get(serialNumber)
	if device == nil {
		return commands.Command{}, ErrUnknownDevice
	}
	cmd := device.Queue().Enqueue(text)
	metrics.IncCommandQueued()
	s.logger.Printf("commands: sn=%s queued id=%s text=%q", serialNumber, cmd.ID, cmd.Text)
	if s.bus != nil {
		if err := s.bus.Publish(ctx, events.CommandQueued{
			EventID:      eventing.NewEventID(),
			SerialNumber: serialNumber,
			CommandID:    cmd.ID,
			Text:         cmd.Text,
			QueuedAt:     cmd.QueuedAt,
		}); err != nil {
			s.logger.Printf("commands: publish queued event: %v", err)
		}
	}
	return cmd, nil
}

// List returns every tracked command for a device plus per-status counts.
func (s *Service) List(serialNumber string) ([]commands.Command, map[string]int, error) {
	device := s.registry.Get(serialNumber)
	if device == nil {
		return nil, nil, ErrUnknownDevice
	}
	return device.Queue().All(), device.Queue().CountByStatus(), nil
}

// Cleanup evicts old acknowledged commands. With an empty serial it runs
// across the whole fleet. Returns the number of commands removed.
func (s *Service) Cleanup(serialNumber string) (int, error) {
	if serialNumber != "" {
		device := s.registry.Get(serialNumber)
		if device == nil {
			return 0, ErrUnknownDevice
		}
		removed := device.Queue().Cleanup(s.keepAcked)
		s.logger.Printf("commands: sn=%s cleanup removed %d", serialNumber, removed)
		return removed, nil
	}
	total := 0
	for _, device := range s.registry.List() {
		total += device.Queue().Cleanup(s.keepAcked)
	}
	s.logger.Printf("commands: fleet cleanup removed %d", total)
	return total, nil
}
