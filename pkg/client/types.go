package client

import "context"

// Supervisor action names.
const (
	ActionPing         = "ping"
	ActionList         = "list"
	ActionRegister     = "register"
	ActionSetStatus    = "set_status"
	ActionDelete       = "delete"
	ActionAllocatePort = "allocate_port"
	ActionVersion      = "version"
	ActionReap         = "reap"
)

// ProcessInfo is a registry row as returned by the supervisor.
type ProcessInfo struct {
	Service string `json:"service"`
	PID     int    `json:"pid"`
	Port    int    `json:"port"`
	Status  string `json:"status"`
}

// ListRequest filters the registry by status; empty means all.
type ListRequest struct {
	Status string `json:"status,omitempty"`
}

// RegisterRequest adds a worker to the registry. Status defaults to STARTING.
// Port is optional; set it to claim a port returned by AllocatePort.
type RegisterRequest struct {
	Service string `json:"service"`
	PID     int    `json:"pid"`
	Status  string `json:"status,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// SetStatusRequest changes the status of the worker with PID.
type SetStatusRequest struct {
	PID    int    `json:"pid"`
	Status string `json:"status"`
}

// PIDRequest identifies one worker.
type PIDRequest struct {
	PID int `json:"pid"`
}

// PortResponse carries an allocated port.
type PortResponse struct {
	Port int `json:"port"`
}

// VersionInfo describes the supervisor's registry.
type VersionInfo struct {
	Schema  int    `json:"schema"`
	Dialect string `json:"dialect"`
	Low     int    `json:"port_low"`
	High    int    `json:"port_high"`
}

func (c *Client) Ping(ctx context.Context) (string, error) {
	return Call[string](ctx, c, ActionPing, struct{}{})
}

func (c *Client) List(ctx context.Context, status string) ([]ProcessInfo, error) {
	return Call[[]ProcessInfo](ctx, c, ActionList, ListRequest{Status: status})
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (ProcessInfo, error) {
	return Call[ProcessInfo](ctx, c, ActionRegister, req)
}

func (c *Client) SetStatus(ctx context.Context, pid int, status string) (ProcessInfo, error) {
	return Call[ProcessInfo](ctx, c, ActionSetStatus, SetStatusRequest{PID: pid, Status: status})
}

func (c *Client) Delete(ctx context.Context, pid int) (ProcessInfo, error) {
	return Call[ProcessInfo](ctx, c, ActionDelete, PIDRequest{PID: pid})
}

func (c *Client) AllocatePort(ctx context.Context) (int, error) {
	r, err := Call[PortResponse](ctx, c, ActionAllocatePort, struct{}{})
	return r.Port, err
}

func (c *Client) Version(ctx context.Context) (VersionInfo, error) {
	return Call[VersionInfo](ctx, c, ActionVersion, struct{}{})
}

// Reap asks the supervisor to mark workers whose process has exited as
// STOPPED and returns them.
func (c *Client) Reap(ctx context.Context) ([]ProcessInfo, error) {
	return Call[[]ProcessInfo](ctx, c, ActionReap, struct{}{})
}
