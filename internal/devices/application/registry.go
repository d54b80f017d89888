package application

import (
	"sort"
	"sync"
	"time"

	devices "adms-gateway/internal/devices/domain"
)

// Registry is the process-wide device lookup keyed by serial number. Devices
// are created lazily on first contact and live for the process lifetime; the
// registry lock guards only the map, never a device's own state.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*devices.Device
	clock   func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*devices.Device)}
}

// LookupOrCreate returns the device for a serial number, creating it in
// push-only mode on first contact. Creation is atomic with respect to
// concurrent first contacts for the same serial.
func (r *Registry) LookupOrCreate(serialNumber string) (*devices.Device, bool) {
	r.mu.RLock()
	device, ok := r.devices[serialNumber]
	r.mu.RUnlock()
	if ok {
		return device, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if device, ok := r.devices[serialNumber]; ok {
		return device, false
	}
	device = devices.NewDevice(serialNumber)
	if r.clock != nil {
		device.Queue().SetClock(r.clock)
	}
	r.devices[serialNumber] = device
	return device, true
}

// SetClock installs a timestamp source on every device queue, existing and
// future. Queue timestamps and any cutoff computed from the same source then
// stay comparable.
func (r *Registry) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = now
	for _, device := range r.devices {
		device.Queue().SetClock(now)
	}
}

// Get returns a registered device or nil.
func (r *Registry) Get(serialNumber string) *devices.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[serialNumber]
}

// List returns all devices ordered by serial number.
func (r *Registry) List() []*devices.Device {
	r.mu.RLock()
	out := make([]*devices.Device, 0, len(r.devices))
	for _, device := range r.devices {
		out = append(out, device)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
