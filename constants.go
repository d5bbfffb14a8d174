package usbip

import "github.com/ehrlich-b/go-usbip/internal/constants"

// Re-export constants for public API
const (
	DefaultPort                = constants.DefaultPort
	DefaultBacklog             = constants.DefaultBacklog
	DefaultMaxClients          = constants.DefaultMaxClients
	DefaultMaxTransferSize     = constants.DefaultMaxTransferSize
	DefaultOutboundBufferSize  = constants.DefaultOutboundBufferSize
	DefaultCompletionQueueSize = constants.DefaultCompletionQueueSize
	DefaultTransferArenaSize   = constants.DefaultTransferArenaSize
	DefaultMaxDevices          = constants.DefaultMaxDevices
	DefaultMaxPendingURBs      = constants.DefaultMaxPendingURBs
	DefaultPollInterval        = constants.DefaultPollInterval
	MaxISOPackets              = constants.MaxISOPackets
)
