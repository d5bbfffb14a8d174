// Package usbip serves emulated USB devices to USB/IP clients over TCP.
package usbip

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/ehrlich-b/go-usbip/internal/logging"
	"github.com/ehrlich-b/go-usbip/internal/monitor"
	"github.com/ehrlich-b/go-usbip/internal/server"
	"github.com/ehrlich-b/go-usbip/internal/vhci"
	"github.com/ehrlich-b/go-usbip/usb"
)

// Logger receives lifecycle messages
type Logger interface {
	Printf(format string, args ...any)
}

// Status is a snapshot of exported devices and connected clients
type Status = server.Status

// Options contains additional options for server creation
type Options struct {
	// Logger for lifecycle messages (if nil, none are printed)
	Logger Logger

	// Observer for metrics collection (if nil, the built-in Metrics are used)
	Observer Observer
}

// ServerState represents the lifecycle state of a server
type ServerState string

const (
	// ServerStateListening indicates the server accepts and serves clients
	ServerStateListening ServerState = "listening"
	// ServerStateDegraded indicates the listener failed; connected clients are still served
	ServerStateDegraded ServerState = "degraded"
	// ServerStateClosed indicates the server has been closed
	ServerStateClosed ServerState = "closed"
)

// Server owns the virtual host controller, the protocol server and the
// optional monitor. All methods are safe for concurrent use; the poll
// loop and device registration are serialized.
type Server struct {
	cfg Config

	mu     sync.Mutex
	srv    *server.Server
	closed bool

	mon     *monitor.Monitor
	monAddr string

	metrics   *Metrics
	log       *logging.Logger
	lifecycle Logger
}

// DeviceInfo identifies a registered device
type DeviceInfo struct {
	BusID  string `json:"busid"`
	Path   string `json:"path"`
	BusNum uint32 `json:"busnum"`
	DevNum uint32 `json:"devnum"`
}

// New creates the controller, opens the listening socket and, when
// MonitorAddr is set, starts the HTTP monitor.
//
// Example:
//
//	srv, err := usbip.New(usbip.DefaultConfig(), nil)
//	if err != nil { ... }
//	srv.AddDevice(desc, backend.NewLoopback(desc))
//	err = srv.Serve(ctx)
func New(cfg Config, options *Options) (*Server, error) {
	if options == nil {
		options = &Options{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = options.Observer
	}

	ctrl, err := vhci.New(vhci.Options{
		MaxDevices:     cfg.MaxDevices,
		MaxPendingURBs: cfg.MaxPendingURBs,
		Logger:         log,
	})
	if err != nil {
		return nil, WrapError("NEW_CONTROLLER", err)
	}

	srv, err := server.New(server.Config{
		BindAddr:            cfg.BindAddr,
		Port:                cfg.Port,
		Backlog:             cfg.Backlog,
		MaxClients:          cfg.MaxClients,
		MaxTransferSize:     cfg.MaxTransferSize,
		InboundBufferSize:   cfg.InboundBufferSize,
		OutboundBufferSize:  cfg.OutboundBufferSize,
		CompletionQueueSize: cfg.CompletionQueueSize,
		TransferArenaSize:   cfg.TransferArenaSize,
		Controller:          ctrl,
		Logger:              log,
		Observer:            observer,
	})
	if err != nil {
		return nil, WrapError("LISTEN", err)
	}

	s := &Server{
		cfg:       cfg,
		srv:       srv,
		metrics:   metrics,
		log:       log,
		lifecycle: options.Logger,
	}

	if cfg.MonitorAddr != "" {
		s.mon = monitor.New(srv, func() any { return s.metrics.Snapshot() }, log)
		addr, err := s.mon.Start(cfg.MonitorAddr)
		if err != nil {
			srv.Close()
			return nil, WrapError("MONITOR", err)
		}
		s.monAddr = addr
	}

	s.printf("USB/IP server listening on port %d", srv.Port())
	return s, nil
}

func newLogger(cfg Config) (*logging.Logger, error) {
	if cfg.LogLevel == "" && cfg.LogFormat == "" {
		return logging.Default(), nil
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, NewError("CONFIG", ErrCodeInvalidArgument, err.Error())
	}
	format := cfg.LogFormat
	if format != "json" {
		format = "text"
	}
	return logging.NewLogger(&logging.Config{
		Level:  level,
		Format: format,
		Output: os.Stderr,
	}), nil
}

func (s *Server) printf(format string, args ...any) {
	if s.lifecycle != nil {
		s.lifecycle.Printf(format, args...)
	}
}

// AddDevice exports a device. h services its non-control endpoints and
// may be nil for a control-only device.
func (s *Server) AddDevice(desc *usb.Device, h usb.TransferHandler) (DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return DeviceInfo{}, NewError("ADD_DEVICE", ErrCodeInvalidArgument, "server closed")
	}
	dev, err := s.srv.Register(desc, h)
	if err != nil {
		return DeviceInfo{}, WrapError("ADD_DEVICE", err)
	}

	s.printf("Device exported: %s (%04x:%04x)", dev.BusID, desc.VendorID, desc.ProductID)
	return DeviceInfo{BusID: dev.BusID, Path: dev.Path, BusNum: dev.BusNum, DevNum: dev.DevNum}, nil
}

// RemoveDevice unexports a device. Pending URBs complete with -ENODEV.
func (s *Server) RemoveDevice(busID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.srv.Remove(busID); err != nil {
		e := WrapError("REMOVE_DEVICE", err)
		e.BusID = busID
		return e
	}
	return nil
}

// HandleOnce runs one non-blocking pass of the poll loop. A listener
// failure is reported once as ErrCodeListenerFatal; the server keeps
// serving connected clients afterwards.
func (s *Server) HandleOnce() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewError("HANDLE_ONCE", ErrCodeInvalidArgument, "server closed")
	}
	if err := s.srv.HandleOnce(); err != nil {
		return WrapError("HANDLE_ONCE", err)
	}
	return nil
}

// Serve runs HandleOnce every PollInterval until ctx is done or the
// server is closed. Listener failures are logged and serving continues.
func (s *Server) Serve(ctx context.Context) error {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.HandleOnce(); err != nil {
			if !IsCode(err, ErrCodeListenerFatal) {
				if s.State() == ServerStateClosed {
					return nil
				}
				return err
			}
			s.log.WithError(err).Error("listener lost, serving existing clients only")
			s.printf("Listener failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Port returns the bound TCP port
func (s *Server) Port() int {
	return s.srv.Port()
}

// MonitorAddr returns the monitor's bound address, or "" when disabled
func (s *Server) MonitorAddr() string {
	return s.monAddr
}

// State returns the current lifecycle state
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return ServerStateClosed
	case !s.srv.Listening():
		return ServerStateDegraded
	default:
		return ServerStateListening
	}
}

// Status returns the latest published snapshot
func (s *Server) Status() Status {
	return s.srv.Status()
}

// Metrics returns the built-in metrics. They stay at zero when a custom
// Observer was supplied.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of server metrics
func (s *Server) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// Close disconnects every client, releases imported devices and closes
// the listener and the monitor. It is safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.srv.Close()
	s.mu.Unlock()

	if s.mon != nil {
		if merr := s.mon.Close(); merr != nil {
			err = errors.Join(err, merr)
		}
	}
	s.metrics.Stop()

	if err != nil {
		return WrapError("CLOSE", err)
	}
	s.printf("USB/IP server stopped")
	return nil
}
