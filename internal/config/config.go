package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"carelay/internal/constants"
	"carelay/internal/models"
	"carelay/internal/security"
	"carelay/internal/validation"

	"github.com/spf13/viper"
)

const envPrefix = "CARELAY"

var (
	ErrMissingDBPath       = models.ConfigError{Message: "missing database path"}
	ErrMissingRedisURL     = models.ConfigError{Message: "missing redis url"}
	ErrNoDestinations      = models.ConfigError{Message: "forwarder.destinations must contain at least one chat title"}
	ErrInvalidStoreBackend = models.ConfigError{Message: "storage.backend must be one of sqlite, redis, memory"}
)

// LoadConfig reads path (or ./config.json when path is empty and it exists),
// applies CARELAY_* environment overrides and fills defaults.
func LoadConfig(path string) (*models.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var config models.Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", constants.DefaultServerPort)
	v.SetDefault("server.readTimeoutSec", constants.DefaultServerReadTimeoutSec)
	v.SetDefault("server.writeTimeoutSec", constants.DefaultServerWriteTimeoutSec)
	v.SetDefault("server.idleTimeoutSec", constants.DefaultServerIdleTimeoutSec)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.apiToken", "")

	v.SetDefault("storage.backend", constants.DefaultStorageBackend)
	v.SetDefault("storage.path", constants.DefaultDatabasePath)
	v.SetDefault("storage.redisUrl", "")
	v.SetDefault("storage.redisPassword", "")
	v.SetDefault("storage.keyPrefix", constants.DefaultRedisKeyPrefix)
	v.SetDefault("storage.encryptionSecret", "")

	v.SetDefault("page.callTimeoutMs", constants.DefaultPageCallTimeoutMs)
	v.SetDefault("page.breakerMaxFailures", constants.DefaultBreakerMaxFailures)
	v.SetDefault("page.breakerCooldownSec", constants.DefaultBreakerCooldownSec)

	v.SetDefault("scanner.cycleDelaySec", constants.DefaultScanCycleDelaySec)
	v.SetDefault("scanner.openChatAttempts", constants.DefaultOpenChatAttempts)
	v.SetDefault("scanner.openChatPollMs", constants.DefaultOpenChatPollMs)
	v.SetDefault("scanner.markerSettleMs", constants.DefaultMarkerSettleMs)
	v.SetDefault("scanner.scrollSettleMs", constants.DefaultScrollSettleMs)
	v.SetDefault("scanner.maxScrollPasses", constants.DefaultMaxScrollPasses)
	v.SetDefault("scanner.messageMaxAgeSec", constants.ScanMessageMaxAgeSec)
	v.SetDefault("scanner.sidebarPollMs", constants.DefaultSidebarPollMs)
	v.SetDefault("scanner.recentMonitorSec", constants.DefaultRecentMonitorSec)
	v.SetDefault("scanner.seenMessageIdsPerChat", constants.DefaultSeenMessageIDsPerChat)
	v.SetDefault("scanner.queueRequestTimeoutSec", constants.DefaultQueueCARequestTimeoutSec)

	v.SetDefault("forwarder.destinations", []string{})
	v.SetDefault("forwarder.maxRequestAgeSec", constants.ForwardRequestMaxAgeSec)
	v.SetDefault("forwarder.chatLoadTimeoutMs", constants.DefaultChatLoadTimeoutMs)
	v.SetDefault("forwarder.chatLoadPollMs", constants.DefaultChatLoadPollMs)
	v.SetDefault("forwarder.sendSettleMs", constants.DefaultSendSettleMs)
	v.SetDefault("forwarder.minSendIntervalMs", 0)
	v.SetDefault("forwarder.requestTimeoutSec", constants.DefaultForwardRequestTimeoutSec)
	v.SetDefault("forwarder.waitForScanSec", constants.DefaultForwardWaitForScanSec)

	v.SetDefault("queue.resumePollSec", constants.DefaultQueueResumePollSec)

	v.SetDefault("ledger.retentionHours", constants.LedgerRetentionHours)
	v.SetDefault("ledger.pruneIntervalMin", constants.DefaultLedgerPruneMinutes)

	v.SetDefault("retry.initialBackoffMs", constants.DefaultRetryBackoffMs)
	v.SetDefault("retry.maxBackoffMs", constants.DefaultMaxBackoffMs)
	v.SetDefault("retry.maxAttempts", constants.DefaultDatabaseRetryAttempts)

	v.SetDefault("tracing.service_name", "carelay")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.use_stdout", false)
}

func applyEnvironmentOverrides(c *models.Config) {
	// Secrets should come from the environment, not the config file
	if secret := os.Getenv("CARELAY_ENCRYPTION_SECRET"); secret != "" {
		c.Storage.EncryptionSecret = secret
	}
	if token := os.Getenv("CARELAY_API_TOKEN"); token != "" {
		c.Server.APIToken = token
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Storage.RedisURL = url
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Storage.Path = path
	}
}

func validate(c *models.Config) error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			return ErrMissingDBPath
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return ErrMissingRedisURL
		}
	case "memory":
	default:
		return ErrInvalidStoreBackend
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port %d", c.Server.Port)}
	}

	seen := make(map[string]bool, len(c.Forwarder.Destinations))
	for i, d := range c.Forwarder.Destinations {
		if err := validation.ValidateChatTitle(d); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid destination %d: %v", i, err)}
		}
		if seen[d] {
			return models.ConfigError{Message: fmt.Sprintf("duplicate destination: %s", d)}
		}
		seen[d] = true
	}

	if c.Scanner.MaxScrollPasses <= 0 {
		c.Scanner.MaxScrollPasses = constants.DefaultMaxScrollPasses
	}
	if c.Scanner.CycleDelaySec <= 0 {
		c.Scanner.CycleDelaySec = constants.DefaultScanCycleDelaySec
	}
	if c.Forwarder.MaxRequestAgeSec <= 0 {
		c.Forwarder.MaxRequestAgeSec = constants.ForwardRequestMaxAgeSec
	}
	if c.Ledger.RetentionHours <= 0 {
		c.Ledger.RetentionHours = constants.LedgerRetentionHours
	}
	if c.Page.CallTimeoutMs <= 0 {
		c.Page.CallTimeoutMs = constants.DefaultPageCallTimeoutMs
	}
	return nil
}

// RequireDestinations is checked by commands that forward.
func RequireDestinations(c *models.Config) error {
	if len(c.Forwarder.Destinations) == 0 {
		return ErrNoDestinations
	}
	return nil
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("CARELAY_ENV") == "production"
	if !isProduction {
		return nil
	}

	if c.Storage.Backend == "sqlite" && len(c.Storage.EncryptionSecret) < 32 {
		return models.ConfigError{Message: "storage encryption secret of at least 32 characters is required in production (set CARELAY_ENCRYPTION_SECRET)"}
	}
	if len(c.Server.APIToken) < 16 {
		return models.ConfigError{Message: "API token of at least 16 characters is required in production (set CARELAY_API_TOKEN)"}
	}
	if c.LogLevel == "debug" {
		return models.ConfigError{Message: "debug logging should not be used in production"}
	}
	return nil
}
