// Package supervisor serves the process registry over the control protocol
// and hands out ports to supervised workers.
package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/loykin/symbiont/internal/config"
)

// Default port range for supervised services.
const (
	DefaultPortLow  = 8000
	DefaultPortHigh = 8999
)

// Setting keys.
const (
	PortRangeKey      = "service_port_range"
	SupervisorPortKey = "supervisor_port"
	HostKey           = "host"
	HistoryKey        = "history"
	ProclistKey       = "proclist"
	DiscoveryFileKey  = "discovery_file"
	ReapIntervalKey   = "reap_interval"
	PortHoldKey       = "port_hold"
)

// DefaultPortHold is how long a port handed out by allocate_port stays
// reserved for a register call.
const DefaultPortHold = 30 * time.Second

var ErrInvalidPortRange = errors.New("invalid service port range")

// PortRange is an inclusive port interval.
type PortRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// Contains reports whether port lies inside the range.
func (r PortRange) Contains(port int) bool { return port >= r.Low && port <= r.High }

// Manager answers port policy questions from configuration. Service
// settings take precedence over the application config.
type Manager struct {
	global *config.Config
	local  config.ServiceConfig
	rng    PortRange
}

// NewManager validates the configured range.
func NewManager(global *config.Config, local config.ServiceConfig) (*Manager, error) {
	m := &Manager{global: global, local: local, rng: PortRange{Low: DefaultPortLow, High: DefaultPortHigh}}
	if raw, ok := m.lookup(PortRangeKey); ok {
		vals, err := cast.ToIntSliceE(raw)
		if err != nil || len(vals) != 2 {
			return nil, fmt.Errorf("%w: %q must be a [low, high] pair, got %v", ErrInvalidPortRange, PortRangeKey, raw)
		}
		r := PortRange{Low: vals[0], High: vals[1]}
		if r.Low <= 0 || r.High > 65535 || r.Low > r.High {
			return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidPortRange, r.Low, r.High)
		}
		m.rng = r
	}
	return m, nil
}

func (m *Manager) lookup(key string) (any, bool) {
	if v, ok := m.local.Get(key); ok && v != nil {
		return v, true
	}
	if m.global != nil && m.global.Has(key) {
		return m.global.Get(key, nil), true
	}
	return nil, false
}

// PortRange returns the configured range or 8000-8999.
func (m *Manager) PortRange() PortRange { return m.rng }

// SupervisorPort returns the configured supervisor port, or the low end of
// the range when unset or zero.
func (m *Manager) SupervisorPort() int {
	if raw, ok := m.lookup(SupervisorPortKey); ok {
		if p, err := cast.ToIntE(raw); err == nil && p > 0 {
			return p
		}
	}
	return m.rng.Low
}

// NextFreePort returns the lowest port in range that is neither taken nor
// the supervisor's own port.
func (m *Manager) NextFreePort(taken map[int]bool) (int, bool) {
	self := m.SupervisorPort()
	for p := m.rng.Low; p <= m.rng.High; p++ {
		if p == self || taken[p] {
			continue
		}
		return p, true
	}
	return 0, false
}
