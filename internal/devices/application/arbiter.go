package application

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	commands "adms-gateway/internal/commands/domain"
	devices "adms-gateway/internal/devices/domain"
	"adms-gateway/internal/directlink"
)

// ErrNoDirectRoute is surfaced by synchronous reads that have no queued
// equivalent when no direct session can be established.
var ErrNoDirectRoute = errors.New("devices: no direct route to device")

// AddressIndex answers whether a reachable device is known at an address.
// The subnet discovery scanner implements it.
type AddressIndex interface {
	KnownIP(addr string) bool
}

// Arbiter owns the push_only <-> push_and_direct transitions and the direct
// operations that ride on a live session. Anything that fails while opening
// or using a direct session demotes the device back to push_only; operations
// with a queued equivalent then fall back to the command queue instead of
// failing the caller.
type Arbiter struct {
	dialer    directlink.Dialer
	addresses AddressIndex
	timeout   time.Duration
	logger    *log.Logger

	mu       sync.Mutex
	sessions map[string]directlink.Session
}

// NewArbiter constructs an arbiter.
func NewArbiter(dialer directlink.Dialer, addresses AddressIndex, timeout time.Duration, logger *log.Logger) (*Arbiter, error) {
	if dialer == nil {
		return nil, errors.New("devices: nil dialer")
	}
	if logger == nil {
		return nil, errors.New("devices: nil logger")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Arbiter{
		dialer:    dialer,
		addresses: addresses,
		timeout:   timeout,
		logger:    logger,
		sessions:  make(map[string]directlink.Session),
	}, nil
}

// MaybePromote attempts the push_and_direct transition when discovery knows
// the device's reported address. Already being in the desired mode is a
// no-op unless force is set, which tears the session down and redials.
func (a *Arbiter) MaybePromote(ctx context.Context, device *devices.Device, force bool) error {
	if device == nil {
		return errors.New("devices: nil device")
	}
	addr := device.Addr()
	if addr == "" {
		return errors.New("devices: device address unknown")
	}
	if a.addresses != nil && !a.addresses.KnownIP(addr) && !force {
		return nil
	}
	if device.ConnectionMode() == devices.ModePushAndDirect && !force {
		return nil
	}
	if force {
		a.dropSession(device.SerialNumber)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	session, err := a.dialer.Dial(ctx, addr, device.Port(), device.CommKey())
	if err != nil {
		a.Demote(device)
		return err
	}

	a.mu.Lock()
	if old, ok := a.sessions[device.SerialNumber]; ok {
		_ = old.Close()
	}
	a.sessions[device.SerialNumber] = session
	a.mu.Unlock()

	device.SetConnectionMode(devices.ModePushAndDirect)
	a.logger.Printf("device %s promoted to %s via %s", device.SerialNumber, devices.ModePushAndDirect, addr)
	return nil
}

// Demote forces the device back to push_only and discards any session.
func (a *Arbiter) Demote(device *devices.Device) {
	if device == nil {
		return
	}
	a.dropSession(device.SerialNumber)
	if device.ConnectionMode() != devices.ModePushOnly {
		device.SetConnectionMode(devices.ModePushOnly)
		a.logger.Printf("device %s demoted to %s", device.SerialNumber, devices.ModePushOnly)
	}
}

// Restart reboots the device. Falls back to queueing REBOOT when no direct
// session works; the returned flag reports whether the queue path was taken.
func (a *Arbiter) Restart(ctx context.Context, device *devices.Device) (queued bool, err error) {
	return a.directOrQueue(ctx, device, commands.Reboot, func(ctx context.Context, s directlink.Session) error {
		return s.Restart(ctx)
	})
}

// PowerOff shuts the device down, falling back to a queued SHUTDOWN.
func (a *Arbiter) PowerOff(ctx context.Context, device *devices.Device) (queued bool, err error) {
	return a.directOrQueue(ctx, device, commands.Shutdown, func(ctx context.Context, s directlink.Session) error {
		return s.PowerOff(ctx)
	})
}

// SyncTime pushes the server clock to the device, falling back to a queued
// option write.
func (a *Arbiter) SyncTime(ctx context.Context, device *devices.Device, now time.Time) (queued bool, err error) {
	fallback := commands.SetOption("DateTime", strconv.FormatInt(now.Unix(), 10))
	return a.directOrQueue(ctx, device, fallback, func(ctx context.Context, s directlink.Session) error {
		return s.SetTime(ctx, now)
	})
}

// PlayVoice plays a voice prompt. There is no queued equivalent, so a
// connectivity failure is surfaced to the caller.
func (a *Arbiter) PlayVoice(ctx context.Context, device *devices.Device, index int) error {
	session, err := a.ensureSession(ctx, device)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := session.TestVoice(ctx, index); err != nil {
		a.Demote(device)
		return err
	}
	return nil
}

// Stats retrieves the device's capacity/usage snapshot. Synchronous read: no
// queued equivalent, connectivity errors are surfaced.
func (a *Arbiter) Stats(ctx context.Context, device *devices.Device) (directlink.Sizes, error) {
	session, err := a.ensureSession(ctx, device)
	if err != nil {
		return directlink.Sizes{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	sizes, err := session.FreeSizes(ctx)
	if err != nil {
		a.Demote(device)
		return directlink.Sizes{}, err
	}
	return sizes, nil
}

// HasSession reports whether a live direct session is held for the serial.
func (a *Arbiter) HasSession(serialNumber string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[serialNumber]
	return ok
}

func (a *Arbiter) directOrQueue(ctx context.Context, device *devices.Device, fallbackText string, op func(context.Context, directlink.Session) error) (bool, error) {
	if device == nil {
		return false, errors.New("devices: nil device")
	}
	session, err := a.ensureSession(ctx, device)
	if err != nil {
		a.logger.Printf("device %s has no direct route, queueing fallback: %v", device.SerialNumber, err)
		device.Queue().Enqueue(fallbackText)
		return true, nil
	}
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	err = op(opCtx, session)
	cancel()
	if err == nil {
		return false, nil
	}
	a.logger.Printf("device %s direct op failed, falling back to queue: %v", device.SerialNumber, err)
	a.Demote(device)
	device.Queue().Enqueue(fallbackText)
	return true, nil
}

func (a *Arbiter) ensureSession(ctx context.Context, device *devices.Device) (directlink.Session, error) {
	if device == nil {
		return nil, errors.New("devices: nil device")
	}
	if session := a.currentSession(device.SerialNumber); session != nil {
		return session, nil
	}
	if device.Addr() == "" {
		return nil, ErrNoDirectRoute
	}
	if err := a.MaybePromote(ctx, device, true); err != nil {
		return nil, errors.Join(ErrNoDirectRoute, err)
	}
	session := a.currentSession(device.SerialNumber)
	if session == nil {
		return nil, ErrNoDirectRoute
	}
	return session, nil
}

func (a *Arbiter) currentSession(serialNumber string) directlink.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[serialNumber]
}

func (a *Arbiter) dropSession(serialNumber string) {
	a.mu.Lock()
	session, ok := a.sessions[serialNumber]
	if ok {
		delete(a.sessions, serialNumber)
	}
	a.mu.Unlock()
	if ok {
		_ = session.Close()
	}
}
