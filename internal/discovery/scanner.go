package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"adms-gateway/internal/directlink"
)

// serialOption is the device option holding the unit's serial number.
const serialOption = "~SerialNumber"

// Scanner probes configured subnets for terminals speaking the native
// socket protocol and keeps an address book of what it found. The
// address book also gates direct-link promotion: a device is only dialed
// at an address the scanner has actually seen answer.
type Scanner struct {
	cfg    Config
	dialer directlink.Dialer
	logger *log.Logger

	mu       sync.RWMutex
	bySerial map[string]string
	byIP     map[string]string
}

// NewScanner constructs a scanner. Static config entries are trusted
// without probing.
func NewScanner(cfg Config, dialer directlink.Dialer, logger *log.Logger) (*Scanner, error) {
	if dialer == nil {
		return nil, errors.New("discovery: nil dialer")
	}
	if logger == nil {
		return nil, errors.New("discovery: nil logger")
	}
	s := &Scanner{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger,
		bySerial: make(map[string]string),
		byIP:     make(map[string]string),
	}
	for serial, ip := range cfg.Static {
		s.record(serial, ip)
	}
	return s, nil
}

// Scan probes every host in the configured subnets and returns how many
// devices answered. Hosts that do not answer are skipped silently; the
// scan only fails on configuration errors.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	var hosts []string
	for _, subnet := range s.cfg.Subnets {
		expanded, err := expandCIDR(subnet)
		if err != nil {
			return 0, fmt.Errorf("discovery: subnet %q: %w", subnet, err)
		}
		hosts = append(hosts, expanded...)
	}
	if len(hosts) == 0 {
		return 0, nil
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	var found sync.Map

	workers := s.cfg.Concurrency
	if workers > len(hosts) {
		workers = len(hosts)
	}
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range jobs {
				if serial, ok := s.probe(ctx, host); ok {
					found.Store(serial, host)
				}
			}
		}()
	}
	for _, host := range hosts {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return s.collect(&found), ctx.Err()
		case jobs <- host:
		}
	}
	close(jobs)
	wg.Wait()
	return s.collect(&found), nil
}

func (s *Scanner) collect(found *sync.Map) int {
	n := 0
	found.Range(func(key, value any) bool {
		s.record(key.(string), value.(string))
		n++
		return true
	})
	return n
}

func (s *Scanner) probe(ctx context.Context, host string) (string, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	session, err := s.dialer.Dial(probeCtx, host, s.cfg.Port, 0)
	if err != nil {
		return "", false
	}
	defer session.Close()

	serial, err := session.ReadOption(probeCtx, serialOption)
	if err != nil || serial == "" {
		s.logger.Printf("discovery: %s answered but no serial: %v", host, err)
		return "", false
	}
	s.logger.Printf("discovery: found sn=%s at %s", serial, host)
	return serial, true
}

func (s *Scanner) record(serial, ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.bySerial[serial]; ok && old != ip {
		delete(s.byIP, old)
	}
	s.bySerial[serial] = ip
	s.byIP[ip] = serial
}

// KnownIP reports whether a device has been seen at addr.
func (s *Scanner) KnownIP(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byIP[addr]
	return ok
}

// AddrOf returns the last known address for a serial, or "".
func (s *Scanner) AddrOf(serial string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bySerial[serial]
}

// SerialAt returns the serial last seen at addr, or "".
func (s *Scanner) SerialAt(addr string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byIP[addr]
}

// Snapshot returns a copy of the serial to address book.
func (s *Scanner) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.bySerial))
	for serial, ip := range s.bySerial {
		out[serial] = ip
	}
	return out
}

// expandCIDR lists the host addresses of an IPv4 subnet, excluding the
// network and broadcast addresses for prefixes shorter than /31.
func expandCIDR(cidr string) ([]string, error) {
	ip, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	ip = ip.To4()
	if ip == nil {
		return nil, errors.New("not an IPv4 subnet")
	}

	ones, bits := network.Mask.Size()
	total := 1 << (bits - ones)
	var hosts []string
	base := network.IP.To4()
	for i := 0; i < total; i++ {
		if total > 2 && (i == 0 || i == total-1) {
			continue
		}
		addr := make(net.IP, 4)
		copy(addr, base)
		for j, shift := 3, i; j >= 0 && shift > 0; j-- {
			addr[j] += byte(shift & 0xff)
			shift >>= 8
		}
		hosts = append(hosts, addr.String())
	}
	return hosts, nil
}
