package models

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	Storage   StorageConfig   `json:"storage" mapstructure:"storage"`
	Page      PageConfig      `json:"page" mapstructure:"page"`
	Scanner   ScannerConfig   `json:"scanner" mapstructure:"scanner"`
	Forwarder ForwarderConfig `json:"forwarder" mapstructure:"forwarder"`
	Queue     QueueConfig     `json:"queue" mapstructure:"queue"`
	Ledger    LedgerConfig    `json:"ledger" mapstructure:"ledger"`
	Retry     RetryConfig     `json:"retry" mapstructure:"retry"`
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing"`
	Features  map[string]bool `json:"features" mapstructure:"features"`
	LogLevel  string          `json:"log_level" mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string `json:"host" mapstructure:"host"`
	Port            int    `json:"port" mapstructure:"port"`
	ReadTimeoutSec  int    `json:"readTimeoutSec" mapstructure:"readTimeoutSec"`
	WriteTimeoutSec int    `json:"writeTimeoutSec" mapstructure:"writeTimeoutSec"`
	IdleTimeoutSec  int    `json:"idleTimeoutSec" mapstructure:"idleTimeoutSec"`

	// AllowedOrigins restricts which origins may open the page bridge socket.
	// Empty means same-host only.
	AllowedOrigins []string `json:"allowedOrigins" mapstructure:"allowedOrigins"`

	// APIToken, when set, is required on /api and /ws routes.
	APIToken string `json:"-" mapstructure:"apiToken"`
}

// StorageConfig selects and configures the key-value store backend
type StorageConfig struct {
	Backend          string `json:"backend" mapstructure:"backend"` // sqlite, redis, memory
	Path             string `json:"path" mapstructure:"path"`
	RedisURL         string `json:"redisUrl" mapstructure:"redisUrl"`
	RedisPassword    string `json:"redisPassword" mapstructure:"redisPassword"`
	KeyPrefix        string `json:"keyPrefix" mapstructure:"keyPrefix"`
	EncryptionSecret string `json:"-" mapstructure:"encryptionSecret"`
}

// PageConfig configures the page adapter bridge
type PageConfig struct {
	CallTimeoutMs      int `json:"callTimeoutMs" mapstructure:"callTimeoutMs"`
	BreakerMaxFailures int `json:"breakerMaxFailures" mapstructure:"breakerMaxFailures"`
	BreakerCooldownSec int `json:"breakerCooldownSec" mapstructure:"breakerCooldownSec"`
}

// ScannerConfig configures the chat scanner and recent-message monitor
type ScannerConfig struct {
	CycleDelaySec          int `json:"cycleDelaySec" mapstructure:"cycleDelaySec"`
	OpenChatAttempts       int `json:"openChatAttempts" mapstructure:"openChatAttempts"`
	OpenChatPollMs         int `json:"openChatPollMs" mapstructure:"openChatPollMs"`
	MarkerSettleMs         int `json:"markerSettleMs" mapstructure:"markerSettleMs"`
	ScrollSettleMs         int `json:"scrollSettleMs" mapstructure:"scrollSettleMs"`
	MaxScrollPasses        int `json:"maxScrollPasses" mapstructure:"maxScrollPasses"`
	MessageMaxAgeSec       int `json:"messageMaxAgeSec" mapstructure:"messageMaxAgeSec"`
	SidebarPollMs          int `json:"sidebarPollMs" mapstructure:"sidebarPollMs"`
	RecentMonitorSec       int `json:"recentMonitorSec" mapstructure:"recentMonitorSec"`
	SeenMessageIDsPerChat  int `json:"seenMessageIdsPerChat" mapstructure:"seenMessageIdsPerChat"`
	QueueRequestTimeoutSec int `json:"queueRequestTimeoutSec" mapstructure:"queueRequestTimeoutSec"`
}

// ForwarderConfig configures where and how detected addresses are relayed
type ForwarderConfig struct {
	Destinations      []string `json:"destinations" mapstructure:"destinations"`
	MaxRequestAgeSec  int      `json:"maxRequestAgeSec" mapstructure:"maxRequestAgeSec"`
	ChatLoadTimeoutMs int      `json:"chatLoadTimeoutMs" mapstructure:"chatLoadTimeoutMs"`
	ChatLoadPollMs    int      `json:"chatLoadPollMs" mapstructure:"chatLoadPollMs"`
	SendSettleMs      int      `json:"sendSettleMs" mapstructure:"sendSettleMs"`
	OmitEmptyTicker   *bool    `json:"omitEmptyTicker" mapstructure:"omitEmptyTicker"`
	MinSendIntervalMs int      `json:"minSendIntervalMs" mapstructure:"minSendIntervalMs"`
	RequestTimeoutSec int      `json:"requestTimeoutSec" mapstructure:"requestTimeoutSec"`
	WaitForScanSec    int      `json:"waitForScanSec" mapstructure:"waitForScanSec"`
}

// QueueConfig configures the forward queue
type QueueConfig struct {
	ResumePollSec int `json:"resumePollSec" mapstructure:"resumePollSec"`
}

// LedgerConfig configures the processed-address ledger
type LedgerConfig struct {
	RetentionHours   int `json:"retentionHours" mapstructure:"retentionHours"`
	PruneIntervalMin int `json:"pruneIntervalMin" mapstructure:"pruneIntervalMin"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs" mapstructure:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs" mapstructure:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts" mapstructure:"maxAttempts"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	ServiceName    string  `json:"service_name" mapstructure:"service_name"`
	ServiceVersion string  `json:"service_version" mapstructure:"service_version"`
	Environment    string  `json:"environment" mapstructure:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" mapstructure:"sample_rate"`
	Enabled        bool    `json:"enabled" mapstructure:"enabled"`
	UseStdout      bool    `json:"use_stdout" mapstructure:"use_stdout"`
}

// OmitsEmptyTicker reports whether the forward template drops an empty ticker line.
func (f ForwarderConfig) OmitsEmptyTicker() bool {
	return f.OmitEmptyTicker == nil || *f.OmitEmptyTicker
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
