package devices

import (
	"sync"
	"time"

	commands "adms-gateway/internal/commands/domain"
)

const (
	// ModePushOnly delivers everything through the poll-driven queue.
	ModePushOnly = "push_only"
	// ModePushAndDirect additionally holds an outbound socket session for
	// synchronous operations.
	ModePushAndDirect = "push_and_direct"
)

// DefaultPort is the terminal's native socket port.
const DefaultPort = 4370

// Device represents one physical terminal, keyed by the serial number the
// terminal reports about itself. Metadata is guarded by a per-device mutex so
// unrelated devices never serialize on each other; the queue carries its own
// lock.
type Device struct {
	SerialNumber string

	mu             sync.Mutex
	addr           string
	port           int
	commKey        int
	connectionMode string
	lastSeen       time.Time
	info           *Info

	queue *commands.Queue
}

// NewDevice creates a device in push-only mode with an empty queue.
func NewDevice(serialNumber string) *Device {
	return &Device{
		SerialNumber:   serialNumber,
		port:           DefaultPort,
		connectionMode: ModePushOnly,
		queue:          commands.NewQueue(),
	}
}

// Queue returns the device's command queue.
func (d *Device) Queue() *commands.Queue {
	return d.queue
}

// TouchSeen records a heartbeat at the given instant.
func (d *Device) TouchSeen(at time.Time) {
	d.mu.Lock()
	d.lastSeen = at
	d.mu.Unlock()
}

// LastSeen returns the most recent heartbeat time.
func (d *Device) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

// SetInfo stores the latest self-reported capability snapshot and adopts the
// reported IP as the device's network address.
func (d *Device) SetInfo(info Info) {
	d.mu.Lock()
	d.info = &info
	if info.IPAddress != "" {
		d.addr = info.IPAddress
	}
	d.mu.Unlock()
}

// Info returns the last reported snapshot, or nil before the first report.
func (d *Device) Info() *Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.info == nil {
		return nil
	}
	copied := *d.info
	return &copied
}

// Addr returns the device's known network address, empty if unknown.
func (d *Device) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// SetAddr overrides the network address and port.
func (d *Device) SetAddr(addr string, port int) {
	d.mu.Lock()
	d.addr = addr
	if port > 0 {
		d.port = port
	}
	d.mu.Unlock()
}

// Port returns the device's socket port.
func (d *Device) Port() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port
}

// CommKey returns the shared secret for direct sessions.
func (d *Device) CommKey() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commKey
}

// SetCommKey sets the shared secret for direct sessions.
func (d *Device) SetCommKey(key int) {
	d.mu.Lock()
	d.commKey = key
	d.mu.Unlock()
}

// ConnectionMode returns the current mode.
func (d *Device) ConnectionMode() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectionMode
}

// SetConnectionMode transitions between push_only and push_and_direct.
func (d *Device) SetConnectionMode(mode string) {
	d.mu.Lock()
	d.connectionMode = mode
	d.mu.Unlock()
}
