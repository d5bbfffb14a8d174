package constants

import "time"

// Network defaults
const (
	// DefaultPort is the IANA-assigned USB/IP port
	DefaultPort = 3240

	// DefaultBacklog is the listen backlog
	DefaultBacklog = 1

	// KeepaliveInterval is TCP_KEEPINTVL in seconds
	KeepaliveInterval = 10

	// KeepaliveCount is TCP_KEEPCNT
	KeepaliveCount = 10
)

// Server sizing defaults
const (
	// DefaultMaxClients bounds concurrently connected clients
	DefaultMaxClients = 16

	// DefaultMaxTransferSize is the largest transfer_buffer_length accepted (64KB)
	DefaultMaxTransferSize = 64 * 1024

	// MaxISOPackets bounds number_of_packets in a single submit
	MaxISOPackets = 1024

	// DefaultOutboundBufferSize is the per-client outbound stream ring size
	DefaultOutboundBufferSize = 128 * 1024

	// DefaultCompletionQueueSize is the per-client completion message ring size
	DefaultCompletionQueueSize = 256 * 1024

	// DefaultTransferArenaSize is the shared transfer buffer heap (1MB).
	// Zero selects the pooled general-heap strategy.
	DefaultTransferArenaSize = 1 << 20

	// DefaultMaxDevices bounds the vHCI device list
	DefaultMaxDevices = 32

	// DefaultMaxPendingURBs bounds pending non-control URBs per device
	DefaultMaxPendingURBs = 64
)

// Timing constants
const (
	// DefaultPollInterval is the pause between HandleOnce passes in Serve
	DefaultPollInterval = time.Millisecond
)

// BusNum is the single virtual bus number
const BusNum = 1
