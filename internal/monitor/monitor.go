// Package monitor serves a read-only HTTP view of a running server: the
// exported devices, the connected clients and the metrics counters.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ehrlich-b/go-usbip/internal/logging"
	"github.com/ehrlich-b/go-usbip/internal/server"
)

// StatusSource provides the snapshot served by the monitor. It is called
// from HTTP goroutines.
type StatusSource interface {
	Status() server.Status
}

// MetricsFunc returns a JSON-encodable metrics snapshot.
type MetricsFunc func() any

// Monitor is the HTTP status server.
type Monitor struct {
	status  StatusSource
	metrics MetricsFunc
	router  *mux.Router
	log     *logging.Logger

	httpServer *http.Server
	listener   net.Listener
}

// New builds the router. metrics may be nil.
func New(status StatusSource, metrics MetricsFunc, log *logging.Logger) *Monitor {
	if log == nil {
		log = logging.Default()
	}
	m := &Monitor{
		status:  status,
		metrics: metrics,
		log:     log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/devices", m.listDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{busid}", m.deviceDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/clients", m.listClients).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics", m.reportMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/status", m.fullStatus).Methods(http.MethodGet)
	m.router = r

	return m
}

// Handler returns the router, for mounting or testing.
func (m *Monitor) Handler() http.Handler { return m.router }

// Start listens on addr and serves in the background. It returns the
// bound address, which differs from addr when addr asks for port 0.
func (m *Monitor) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	m.listener = ln
	m.httpServer = &http.Server{
		Handler:           m.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.WithError(err).Error("monitor stopped")
		}
	}()

	m.log.Info("monitor listening", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}

// Close shuts the HTTP server down.
func (m *Monitor) Close() error {
	if m.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := m.httpServer.Shutdown(ctx)
	m.httpServer = nil
	return err
}

func (m *Monitor) listDevices(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, http.StatusOK, m.status.Status().Devices)
}

func (m *Monitor) deviceDetails(w http.ResponseWriter, r *http.Request) {
	busID := mux.Vars(r)["busid"]
	dev, ok := m.status.Status().Device(busID)
	if !ok {
		m.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such device: " + busID})
		return
	}
	m.writeJSON(w, http.StatusOK, dev)
}

func (m *Monitor) listClients(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, http.StatusOK, m.status.Status().Clients)
}

func (m *Monitor) reportMetrics(w http.ResponseWriter, _ *http.Request) {
	if m.metrics == nil {
		m.writeJSON(w, http.StatusNotFound, map[string]string{"error": "metrics disabled"})
		return
	}
	m.writeJSON(w, http.StatusOK, m.metrics())
}

func (m *Monitor) fullStatus(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, http.StatusOK, m.status.Status())
}

func (m *Monitor) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.log.WithError(err).Warn("monitor response failed")
	}
}
