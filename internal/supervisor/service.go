package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/loykin/symbiont/internal/config"
	"github.com/loykin/symbiont/internal/control"
	"github.com/loykin/symbiont/internal/detector"
	"github.com/loykin/symbiont/internal/history"
	"github.com/loykin/symbiont/internal/history/factory"
	"github.com/loykin/symbiont/internal/logger"
	"github.com/loykin/symbiont/internal/options"
	"github.com/loykin/symbiont/internal/scope"
	"github.com/loykin/symbiont/internal/service"
	"github.com/loykin/symbiont/internal/store"
	"github.com/loykin/symbiont/pkg/client"
)

// Locator is the interface string that selects the supervisor in config.
const Locator = "symbiont/ext/processes:SupervisorService"

var ErrNoFreePort = errors.New("no free port in range")

func init() {
	service.Register(Locator, New)
}

// Service is the supervisor: it owns the registry and serves it over the
// control protocol.
type Service struct {
	cfg      config.ServiceConfig
	manager  *Manager
	log      *logger.Logger
	store    *store.Store
	ownStore bool
	recorder *history.Recorder

	host      string
	port      int
	discovery string
	reapEvery time.Duration

	// detect builds the liveness check for a registered pid
	detect func(pid int) detector.Detector
	// process start times recorded at registration, keyed by pid
	starts sync.Map

	// serialises port allocation with the insert that claims it
	allocMu sync.Mutex
	// ports handed out by allocate_port, with their expiry; guarded by allocMu
	held    map[int]time.Time
	holdFor time.Duration

	closeOnce sync.Once
	closeErr  error
}

// New builds the supervisor from the scope: its descriptor and logger, the
// application config and options when present, and a shared *store.Store
// if one was provided.
func New(s *scope.Scope) (service.Interface, error) {
	cfg, err := scope.Require[config.ServiceConfig](s)
	if err != nil {
		return nil, err
	}
	log, ok := scope.Get[*logger.Logger](s)
	if !ok {
		log = logger.Discard()
	}
	global, _ := scope.Get[*config.Config](s)
	opts, _ := scope.Get[*options.Options](s)

	mgr, err := scope.Provide[*Manager](s, func(*scope.Scope) (*Manager, error) {
		return NewManager(global, cfg)
	})
	if err != nil {
		return nil, err
	}

	reapEvery, err := cast.ToDurationE(cfg.String(ReapIntervalKey, "0s"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ReapIntervalKey, err)
	}

	holdFor, err := cast.ToDurationE(cfg.String(PortHoldKey, DefaultPortHold.String()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", PortHoldKey, err)
	}

	svc := &Service{
		cfg:       cfg,
		manager:   mgr,
		log:       log,
		host:      cfg.String(HostKey, "127.0.0.1"),
		port:      mgr.SupervisorPort(),
		discovery: discoveryPath(cfg, opts),
		reapEvery: reapEvery,
		holdFor:   holdFor,
		held:      make(map[int]time.Time),
		recorder:  history.NewRecorder(log.Logger),
	}
	svc.detect = svc.pidDetector

	if st, ok := scope.Get[*store.Store](s); ok {
		svc.store = st
	} else {
		st, err := store.NewFromDSN(context.Background(), registryDSN(cfg, opts))
		if err != nil {
			return nil, fmt.Errorf("open process registry: %w", err)
		}
		svc.store, svc.ownStore = st, true
	}

	for _, dsn := range cfg.StringSlice(HistoryKey) {
		sink, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = svc.close()
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		svc.recorder.Add(sink)
	}
	if svc.recorder.Len() > 0 {
		svc.store.OnChange(svc.recorder.Hook())
	}
	return svc, nil
}

func registryDSN(cfg config.ServiceConfig, opts *options.Options) string {
	if dsn := cfg.String(ProclistKey, ""); dsn != "" {
		return dsn
	}
	dir, _ := os.Getwd()
	if opts == nil {
		return store.Location("", dir, "")
	}
	return store.Location(opts.Get(options.ProclistDSNKey, ""), opts.Path(), opts.Get(options.ProclistFileNameKey, ""))
}

func discoveryPath(cfg config.ServiceConfig, opts *options.Options) string {
	if p := cfg.String(DiscoveryFileKey, ""); p != "" {
		return p
	}
	dir, _ := os.Getwd()
	if opts != nil {
		dir = opts.Path()
	}
	return filepath.Join(dir, DiscoveryFileName)
}

// Port is the configured listening port.
func (s *Service) Port() int { return s.port }

// Manager exposes the port policy.
func (s *Service) Manager() *Manager { return s.manager }

// Store is the process registry the supervisor serves.
func (s *Service) Store() *store.Store { return s.store }

// DiscoveryPath is where the running supervisor advertises itself.
func (s *Service) DiscoveryPath() string { return s.discovery }

// Start listens on host:port and serves until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		_ = s.close()
		return fmt.Errorf("supervisor listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the control server on ln. The discovery file exists while it
// runs.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer func() { _ = s.close() }()
	srv := control.NewServer(ln.Addr().String(), s.log.Logger)
	s.registerActions(srv)

	tcp, _ := ln.Addr().(*net.TCPAddr)
	d := Discovery{Host: s.host, PID: os.Getpid(), StartedAt: time.Now().UTC()}
	if tcp != nil {
		d.Port = tcp.Port
	}
	if err := WriteDiscovery(s.discovery, d); err != nil {
		s.log.Warn("could not write discovery file", "path", s.discovery, "error", err)
	} else {
		defer func() { _ = os.Remove(s.discovery) }()
	}
	rng := s.manager.PortRange()
	s.log.Info("supervisor ready", "addr", ln.Addr().String(), "port_low", rng.Low, "port_high", rng.High, "registry", s.store.Dialect())

	var reaper sync.WaitGroup
	if s.reapEvery > 0 {
		reaper.Add(1)
		go func() {
			defer reaper.Done()
			s.reapLoop(ctx)
		}()
	}
	err := srv.Serve(ctx, ln)
	reaper.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// close is idempotent; Store keeps returning the closed store afterwards.
func (s *Service) close() error {
	s.closeOnce.Do(func() {
		errs := []error{s.recorder.Close()}
		if s.ownStore && s.store != nil {
			errs = append(errs, s.store.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Service) registerActions(srv *control.Server) {
	srv.AddAction(client.ActionPing, func(context.Context, json.RawMessage) (any, error) {
		return "pong", nil
	})
	srv.AddAction(client.ActionList, s.handleList)
	srv.AddAction(client.ActionRegister, s.handleRegister)
	srv.AddAction(client.ActionSetStatus, s.handleSetStatus)
	srv.AddAction(client.ActionDelete, s.handleDelete)
	srv.AddAction(client.ActionAllocatePort, s.handleAllocatePort)
	srv.AddAction(client.ActionVersion, s.handleVersion)
	srv.AddAction(client.ActionReap, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.Reap(ctx)
	})
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}

func (s *Service) handleList(ctx context.Context, payload json.RawMessage) (any, error) {
	var req client.ListRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	st, err := store.ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	procs, err := s.store.GetProcesses(ctx, st)
	if err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.Snapshot())
	}
	return out, nil
}

func (s *Service) handleRegister(ctx context.Context, payload json.RawMessage) (any, error) {
	var req client.RegisterRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Service == "" || req.PID <= 0 {
		return nil, errors.New("register requires service and a positive pid")
	}
	st := store.StatusStarting
	if req.Status != "" {
		parsed, err := store.ParseStatus(req.Status)
		if err != nil {
			return nil, err
		}
		st = parsed
	}
	s.allocMu.Lock()
	defer s.allocMu.Unlock()
	port := req.Port
	if port != 0 {
		if err := s.claimPort(ctx, port); err != nil {
			return nil, err
		}
	} else {
		var err error
		if port, err = s.freePort(ctx); err != nil {
			return nil, err
		}
	}
	p, err := s.store.AddProcess(ctx, req.Service, req.PID, port, st)
	if err != nil {
		return nil, err
	}
	delete(s.held, port)
	s.starts.Store(req.PID, detector.StartTime(ctx, req.PID))
	s.log.Info("process registered", "service", req.Service, "pid", req.PID, "port", port, "status", st.String())
	return p.Snapshot(), nil
}

func (s *Service) handleSetStatus(ctx context.Context, payload json.RawMessage) (any, error) {
	var req client.SetStatusRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	st, err := store.ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProcess(ctx, req.PID)
	if err != nil {
		return nil, err
	}
	if err := p.SetStatus(ctx, st); err != nil {
		return nil, err
	}
	return p.Snapshot(), nil
}

func (s *Service) handleDelete(ctx context.Context, payload json.RawMessage) (any, error) {
	var req client.PIDRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	p, err := s.store.GetProcess(ctx, req.PID)
	if err != nil {
		return nil, err
	}
	if err := p.Delete(ctx); err != nil {
		return nil, err
	}
	s.starts.Delete(p.PID())
	s.log.Info("process removed", "service", p.Service(), "pid", p.PID())
	return p.Snapshot(), nil
}

// handleAllocatePort hands out a free port and holds it for holdFor so that
// consecutive calls return different ports. A register call naming the port
// claims it.
func (s *Service) handleAllocatePort(ctx context.Context, _ json.RawMessage) (any, error) {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()
	port, err := s.freePort(ctx)
	if err != nil {
		return nil, err
	}
	if s.holdFor > 0 {
		s.held[port] = time.Now().Add(s.holdFor)
	}
	return client.PortResponse{Port: port}, nil
}

// claimPort checks that an explicitly requested port may be registered: it
// must be in range, not the supervisor's, and not held by a registry row.
// A port held by allocate_port is allowed. Caller holds allocMu.
func (s *Service) claimPort(ctx context.Context, port int) error {
	rng := s.manager.PortRange()
	if port < rng.Low || port > rng.High || port == s.manager.SupervisorPort() {
		return fmt.Errorf("port %d is not allocatable in %d-%d", port, rng.Low, rng.High)
	}
	taken, err := s.store.Ports(ctx)
	if err != nil {
		return err
	}
	if taken[port] {
		return fmt.Errorf("port %d is already registered", port)
	}
	return nil
}

func (s *Service) handleVersion(ctx context.Context, _ json.RawMessage) (any, error) {
	v, err := s.store.Version(ctx)
	if err != nil {
		return nil, err
	}
	rng := s.manager.PortRange()
	return client.VersionInfo{Schema: v, Dialect: s.store.Dialect(), Low: rng.Low, High: rng.High}, nil
}

// freePort must be called with allocMu held.
func (s *Service) freePort(ctx context.Context) (int, error) {
	taken, err := s.store.Ports(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for p, until := range s.held {
		if now.After(until) {
			delete(s.held, p)
			continue
		}
		taken[p] = true
	}
	port, ok := s.manager.NextFreePort(taken)
	if !ok {
		rng := s.manager.PortRange()
		return 0, fmt.Errorf("%w %d-%d", ErrNoFreePort, rng.Low, rng.High)
	}
	return port, nil
}
