package supervisor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/symbiont/internal/config"
)

func svcConfig(settings map[string]any) config.ServiceConfig {
	all := map[string]any{"name": "supervisor", "interface": Locator}
	for k, v := range settings {
		all[k] = v
	}
	return config.ServiceConfig{Name: "supervisor", Interface: Locator, Settings: all}
}

func TestPortRangeDefault(t *testing.T) {
	m, err := NewManager(nil, svcConfig(nil))
	require.NoError(t, err)
	assert.Equal(t, PortRange{Low: 8000, High: 8999}, m.PortRange())
	assert.Equal(t, 8000, m.SupervisorPort())
}

func TestPortRangeFromServiceSettings(t *testing.T) {
	m, err := NewManager(nil, svcConfig(map[string]any{PortRangeKey: []any{float64(9000), float64(9100)}}))
	require.NoError(t, err)
	assert.Equal(t, PortRange{Low: 9000, High: 9100}, m.PortRange())
	assert.Equal(t, 9000, m.SupervisorPort())
}

func TestPortRangeFromGlobalConfig(t *testing.T) {
	global, err := config.LoadReader(strings.NewReader(`{"service_port_range":[7000,7010],"supervisor_port":7005}`), "json")
	require.NoError(t, err)
	m, err := NewManager(global, svcConfig(nil))
	require.NoError(t, err)
	assert.Equal(t, PortRange{Low: 7000, High: 7010}, m.PortRange())
	assert.Equal(t, 7005, m.SupervisorPort())
}

func TestSupervisorPortOverride(t *testing.T) {
	m, err := NewManager(nil, svcConfig(map[string]any{SupervisorPortKey: 8500}))
	require.NoError(t, err)
	assert.Equal(t, 8500, m.SupervisorPort())

	// zero means unset
	m, err = NewManager(nil, svcConfig(map[string]any{SupervisorPortKey: 0}))
	require.NoError(t, err)
	assert.Equal(t, 8000, m.SupervisorPort())
}

func TestInvalidPortRange(t *testing.T) {
	for _, raw := range []any{[]any{9000}, []any{9100, 9000}, "nope", []any{0, 10}, []any{1, 70000}} {
		_, err := NewManager(nil, svcConfig(map[string]any{PortRangeKey: raw}))
		assert.ErrorIs(t, err, ErrInvalidPortRange, "range %v", raw)
	}
}

func TestNextFreePort(t *testing.T) {
	m, err := NewManager(nil, svcConfig(map[string]any{PortRangeKey: []any{100, 103}, SupervisorPortKey: 100}))
	require.NoError(t, err)

	p, ok := m.NextFreePort(nil)
	require.True(t, ok)
	assert.Equal(t, 101, p, "supervisor port is never handed out")

	p, ok = m.NextFreePort(map[int]bool{101: true})
	require.True(t, ok)
	assert.Equal(t, 102, p)

	_, ok = m.NextFreePort(map[int]bool{101: true, 102: true, 103: true})
	assert.False(t, ok)
}
