// Command usbip-vdev exports an emulated vendor-specific loopback device
// over USB/IP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	usbip "github.com/ehrlich-b/go-usbip"
	"github.com/ehrlich-b/go-usbip/backend"
	"github.com/ehrlich-b/go-usbip/internal/logging"
)

type flags struct {
	envFile     string
	port        int
	bind        string
	monitor     string
	maxClients  int
	vendorID    string
	productID   string
	bufferSize  int
	verbose     bool
	jsonLogging bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "usbip-vdev",
		Short: "Export an emulated USB loopback device over USB/IP.",
		Long: `usbip-vdev serves a vendor-specific USB device to USB/IP clients. ` +
			`Data written to bulk OUT endpoint 1 is echoed back on bulk IN endpoint 1.` + "\n\n" +
			`Attach it from a Linux host with:` + "\n" +
			`  usbip list -r <host>` + "\n" +
			`  usbip attach -r <host> -b <busid>`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.envFile, "env", ".env", "environment file with USBIP_* settings")
	fl.IntVarP(&f.port, "port", "p", usbip.DefaultPort, "TCP port to listen on")
	fl.StringVar(&f.bind, "bind", "", "address to bind (default all interfaces)")
	fl.StringVar(&f.monitor, "monitor", "", "address for the HTTP status API, e.g. 127.0.0.1:8080")
	fl.IntVar(&f.maxClients, "max-clients", usbip.DefaultMaxClients, "maximum concurrent clients")
	fl.StringVar(&f.vendorID, "vid", "1209", "USB vendor id (hex)")
	fl.StringVar(&f.productID, "pid", "0001", "USB product id (hex)")
	fl.IntVar(&f.bufferSize, "loopback-buffer", 4096, "bytes buffered per loopback endpoint")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	fl.BoolVar(&f.jsonLogging, "json", false, "JSON log output")

	return cmd
}

func run(cmd *cobra.Command, f flags) error {
	cfg, err := usbip.LoadConfig(f.envFile)
	if err != nil {
		return err
	}

	// flags win over the environment only when given
	fl := cmd.Flags()
	if fl.Changed("port") {
		cfg.Port = f.port
	}
	if fl.Changed("bind") {
		cfg.BindAddr = f.bind
	}
	if fl.Changed("monitor") {
		cfg.MonitorAddr = f.monitor
	}
	if fl.Changed("max-clients") {
		cfg.MaxClients = f.maxClients
	}
	if f.verbose {
		cfg.LogLevel = "debug"
	}
	if f.jsonLogging {
		cfg.LogFormat = "json"
	}

	vid, err := parseID(f.vendorID)
	if err != nil {
		return fmt.Errorf("--vid: %w", err)
	}
	pid, err := parseID(f.productID)
	if err != nil {
		return fmt.Errorf("--pid: %w", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(&logging.Config{Level: level, Format: cfg.LogFormat, Output: os.Stderr})
	logging.SetDefault(logger)
	atexit.Register(func() { logger.Close() })

	srv, err := usbip.New(cfg, nil)
	if err != nil {
		logger.Error("failed to start server", "error", err)
		return err
	}
	atexit.Register(func() {
		if err := srv.Close(); err != nil {
			logger.Error("error closing server", "error", err)
		}
	})

	loop := backend.NewLoopback(f.bufferSize)
	info, err := srv.AddDevice(backend.LoopbackDevice(vid, pid), loop)
	if err != nil {
		logger.Error("failed to export device", "error", err)
		return err
	}

	fmt.Printf("Device exported: %s (%04x:%04x)\n", info.BusID, vid, pid)
	fmt.Printf("Listening on port %d\n", srv.Port())
	if addr := srv.MonitorAddr(); addr != "" {
		fmt.Printf("Status API: http://%s/api/status\n", addr)
	}
	fmt.Printf("\nAttach with:\n")
	fmt.Printf("  sudo usbip attach -r <this-host> -b %s\n", info.BusID)
	fmt.Printf("\nPress Ctrl+C to stop...\n")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		logger.Error("serve failed", "error", err)
		return err
	}

	st := loop.Stats()
	logger.Info("shutting down", "writes", st.Writes, "reads", st.Reads, "canceled", st.Canceled)
	return nil
}

func parseID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
