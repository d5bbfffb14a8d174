package usbip

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ehrlich-b/go-usbip/internal/constants"
)

// Config holds server settings. Zero values are replaced with defaults by
// New, except TransferArenaSize where zero selects pooled heap buffers.
type Config struct {
	Port         int
	BindAddr     string // "" listens on all interfaces
	Backlog      int
	PollInterval time.Duration

	MaxClients          int
	MaxTransferSize     int
	InboundBufferSize   int // 0 sizes it to the largest frame
	OutboundBufferSize  int
	CompletionQueueSize int
	TransferArenaSize   int

	MaxDevices     int
	MaxPendingURBs int

	MonitorAddr string // "" disables the HTTP monitor

	LogLevel  string
	LogFormat string
}

// DefaultConfig returns the default server configuration
func DefaultConfig() Config {
	return Config{
		Port:                constants.DefaultPort,
		Backlog:             constants.DefaultBacklog,
		PollInterval:        constants.DefaultPollInterval,
		MaxClients:          constants.DefaultMaxClients,
		MaxTransferSize:     constants.DefaultMaxTransferSize,
		OutboundBufferSize:  constants.DefaultOutboundBufferSize,
		CompletionQueueSize: constants.DefaultCompletionQueueSize,
		TransferArenaSize:   constants.DefaultTransferArenaSize,
		MaxDevices:          constants.DefaultMaxDevices,
		MaxPendingURBs:      constants.DefaultMaxPendingURBs,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// LoadConfig reads the given .env files (".env" when none are named;
// missing files are skipped) into the environment and overlays USBIP_*
// variables on DefaultConfig. Variables already set in the environment
// win over file contents.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, WrapError("LOAD_CONFIG", fmt.Errorf("%s: %w", f, err))
		}
	}

	cfg := DefaultConfig()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"USBIP_PORT", &c.Port},
		{"USBIP_BACKLOG", &c.Backlog},
		{"USBIP_MAX_CLIENTS", &c.MaxClients},
		{"USBIP_MAX_TRANSFER_SIZE", &c.MaxTransferSize},
		{"USBIP_INBOUND_BUFFER_SIZE", &c.InboundBufferSize},
		{"USBIP_OUTBOUND_BUFFER_SIZE", &c.OutboundBufferSize},
		{"USBIP_COMPLETION_QUEUE_SIZE", &c.CompletionQueueSize},
		{"USBIP_TRANSFER_ARENA_SIZE", &c.TransferArenaSize},
		{"USBIP_MAX_DEVICES", &c.MaxDevices},
		{"USBIP_MAX_PENDING_URBS", &c.MaxPendingURBs},
	}
	for _, v := range ints {
		s, ok := lookup(v.key)
		if !ok || s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return NewError("LOAD_CONFIG", ErrCodeInvalidArgument, fmt.Sprintf("%s=%q is not a non-negative integer", v.key, s))
		}
		*v.dst = n
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"USBIP_BIND_ADDR", &c.BindAddr},
		{"USBIP_MONITOR_ADDR", &c.MonitorAddr},
		{"USBIP_LOG_LEVEL", &c.LogLevel},
		{"USBIP_LOG_FORMAT", &c.LogFormat},
	}
	for _, v := range strs {
		if s, ok := lookup(v.key); ok {
			*v.dst = s
		}
	}

	if s, ok := lookup("USBIP_POLL_INTERVAL"); ok && s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return NewError("LOAD_CONFIG", ErrCodeInvalidArgument, fmt.Sprintf("USBIP_POLL_INTERVAL=%q is not a duration", s))
		}
		c.PollInterval = d
	}
	return nil
}

// Validate checks ranges that New cannot repair
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 0xffff {
		return NewError("CONFIG", ErrCodeInvalidArgument, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.PollInterval < 0 {
		return NewError("CONFIG", ErrCodeInvalidArgument, "negative poll interval")
	}
	for name, v := range map[string]int{
		"backlog":               c.Backlog,
		"max clients":           c.MaxClients,
		"max transfer size":     c.MaxTransferSize,
		"inbound buffer size":   c.InboundBufferSize,
		"outbound buffer size":  c.OutboundBufferSize,
		"completion queue size": c.CompletionQueueSize,
		"transfer arena size":   c.TransferArenaSize,
		"max devices":           c.MaxDevices,
		"max pending urbs":      c.MaxPendingURBs,
	} {
		if v < 0 {
			return NewError("CONFIG", ErrCodeInvalidArgument, fmt.Sprintf("negative %s", name))
		}
	}
	return nil
}
