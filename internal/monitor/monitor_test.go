package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-usbip/internal/logging"
	"github.com/ehrlich-b/go-usbip/internal/server"
)

type fixedStatus server.Status

func (f fixedStatus) Status() server.Status { return server.Status(f) }

func testStatus() fixedStatus {
	return fixedStatus{
		Listening: true,
		Port:      3240,
		Devices: []server.DeviceStatus{
			{BusID: "1-1", Path: "/dev/bus/usb/001/001", BusNum: 1, DevNum: 1, VendorID: "1234", ProductID: "5678", Imported: true, Owner: "abc"},
			{BusID: "1-2", Path: "/dev/bus/usb/001/002", BusNum: 1, DevNum: 2},
		},
		Clients: []server.ClientStatus{
			{Session: "abc", RemoteAddr: "127.0.0.1:5000", State: "imported", BusID: "1-1"},
		},
	}
}

func get(t *testing.T, h http.Handler, path string) (int, []byte) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, body
}

func TestRoutes(t *testing.T) {
	metrics := func() any { return map[string]uint64{"submit_ops": 7} }
	m := New(testStatus(), metrics, logging.Nop())

	tests := []struct {
		name string
		path string
		code int
		want string
	}{
		{"devices", "/api/devices", http.StatusOK, `"busid":"1-2"`},
		{"device", "/api/devices/1-1", http.StatusOK, `"owner":"abc"`},
		{"unknown device", "/api/devices/9-9", http.StatusNotFound, `no such device: 9-9`},
		{"clients", "/api/clients", http.StatusOK, `"state":"imported"`},
		{"metrics", "/api/metrics", http.StatusOK, `"submit_ops":7`},
		{"status", "/api/status", http.StatusOK, `"port":3240`},
		{"unknown route", "/api/nothing", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, m.Handler(), tt.path)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, string(body), tt.want)
		})
	}
}

func TestDeviceDecode(t *testing.T) {
	m := New(testStatus(), nil, logging.Nop())

	code, body := get(t, m.Handler(), "/api/devices")
	require.Equal(t, http.StatusOK, code)

	var devices []server.DeviceStatus
	require.NoError(t, json.Unmarshal(body, &devices))
	require.Len(t, devices, 2)
	assert.Equal(t, "1-1", devices[0].BusID)
	assert.True(t, devices[0].Imported)
	assert.False(t, devices[1].Imported)
}

func TestMetricsDisabled(t *testing.T) {
	m := New(testStatus(), nil, logging.Nop())
	code, _ := get(t, m.Handler(), "/api/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStartAndClose(t *testing.T) {
	m := New(testStatus(), nil, logging.Nop())
	addr, err := m.Start("127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/clients", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	require.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}
