package constants

// Storage keys shared by the background and page contexts
const (
	KeyForwardQueue      = "forwardQueue"
	KeyProcessedCAs      = "processedCAs"
	KeyForwardInProgress = "forwardInProgress"
	KeyWatchedChats      = "watchedChats"
	KeyMaxMessageAge     = "maxMessageAge"
)

// Age thresholds
const (
	DefaultMaxMessageAgeMinutes = 10
	ScanMessageMaxAgeSec        = 3 * 60 * 60
	ForwardRequestMaxAgeSec     = 1800
	LedgerRetentionHours        = 72
	DefaultLedgerPruneMinutes   = 60
)

// Chat scanner timing
const (
	DefaultScanCycleDelaySec        = 15
	DefaultOpenChatAttempts         = 20
	DefaultOpenChatPollMs           = 300
	DefaultMarkerSettleMs           = 300
	DefaultScrollSettleMs           = 800
	DefaultMaxScrollPasses          = 50
	DefaultSidebarPollMs            = 500
	DefaultRecentMonitorSec         = 25
	DefaultSeenMessageIDsPerChat    = 2000
	DefaultForwardWaitForScanSec    = 45
	DefaultForwardWaitPollMs        = 250
	DefaultQueueCARequestTimeoutSec = 300
)

// Forwarder timing
const (
	DefaultChatLoadTimeoutMs        = 5000
	DefaultChatLoadPollMs           = 200
	DefaultSendSettleMs             = 1000
	DefaultForwardRequestTimeoutSec = 120
)

// Background context timing
const (
	DefaultQueueResumePollSec = 45
	DefaultPageCallTimeoutMs  = 10000
	DefaultBreakerMaxFailures = 5
	DefaultBreakerCooldownSec = 60
)

// Server defaults
const (
	DefaultServerPort            = 8765
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 15
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 200
	DefaultMaxBackoffMs          = 5000
)

// Storage defaults
const (
	DefaultStorageBackend = "sqlite"
	DefaultDatabasePath   = "carelay.db"
	DefaultRedisKeyPrefix = "carelay:"
	EncryptionSalt        = "carelay-store-v1"
	EncryptionKeySize     = 32
	EncryptionIterations  = 100000
	EncryptionNonceSize   = 12
)

// Validation limits
const (
	MaxChatTitleLength  = 128
	MaxWatchedChats     = 200
	MaxMessageAgeMinMax = 24 * 60
)
