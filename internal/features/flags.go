// Package features holds runtime feature flags. Flags default from
// DefaultFlags, then config, then CARELAY_FEATURE_<NAME> environment variables.
package features

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// FlagMessageIDDedup skips messages whose id was already handled in the same chat.
	FlagMessageIDDedup = "message_id_dedup"
	// FlagRecentMessageMonitor watches the open chat between scan cycles.
	FlagRecentMessageMonitor = "recent_message_monitor"
	// FlagQueueResumePolling retries a non-empty forward queue on an interval.
	FlagQueueResumePolling = "queue_resume_polling"
	// FlagForwardAudit records every forward attempt when the sqlite backend is active.
	FlagForwardAudit = "forward_audit"
)

// Flag represents a feature flag with metadata
type Flag struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FlagDefinition contains metadata about a flag
type FlagDefinition struct {
	Name         string
	Description  string
	DefaultValue bool
}

var DefaultFlags = []FlagDefinition{
	{FlagMessageIDDedup, "Skip messages already handled by id within a chat", false},
	{FlagRecentMessageMonitor, "Process new messages in the open watched chat between scans", true},
	{FlagQueueResumePolling, "Periodically resume draining a non-empty forward queue", true},
	{FlagForwardAudit, "Record forward outcomes in the audit table", true},
}

// FlagManager manages feature flags with thread-safe operations
type FlagManager struct {
	flags map[string]*Flag
	mu    sync.RWMutex
}

// NewFlagManager returns a manager populated with DefaultFlags.
func NewFlagManager() *FlagManager {
	fm := &FlagManager{flags: make(map[string]*Flag)}
	now := time.Now()
	for _, def := range DefaultFlags {
		fm.flags[def.Name] = &Flag{
			Name:        def.Name,
			Enabled:     def.DefaultValue,
			Description: def.Description,
			UpdatedAt:   now,
		}
	}
	return fm
}

func (fm *FlagManager) IsEnabled(flagName string) bool {
	if fm == nil {
		return false
	}
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	flag, exists := fm.flags[flagName]
	return exists && flag.Enabled
}

// Set changes a known flag.
func (fm *FlagManager) Set(flagName string, enabled bool) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	flag, exists := fm.flags[flagName]
	if !exists {
		return ErrFlagNotFound{Name: flagName}
	}
	flag.Enabled = enabled
	flag.UpdatedAt = time.Now()
	return nil
}

// LoadFromConfig applies the config file's features map. Unknown names are
// reported together after every known flag has been applied.
func (fm *FlagManager) LoadFromConfig(flags map[string]bool) error {
	var unknown []string
	for name, enabled := range flags {
		if err := fm.Set(name, enabled); err != nil {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown feature flags: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// LoadFromEnvironment applies CARELAY_FEATURE_<FLAG_NAME>=true|false overrides.
func (fm *FlagManager) LoadFromEnvironment() {
	const envPrefix = "CARELAY_FEATURE_"

	for _, def := range DefaultFlags {
		raw := os.Getenv(envPrefix + strings.ToUpper(def.Name))
		if raw == "" {
			continue
		}
		if enabled, err := strconv.ParseBool(raw); err == nil {
			_ = fm.Set(def.Name, enabled)
		}
	}
}

// ListFlags returns copies of all flags sorted by name.
func (fm *FlagManager) ListFlags() []Flag {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	out := make([]Flag, 0, len(fm.flags))
	for _, f := range fm.flags {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type ErrFlagNotFound struct {
	Name string
}

func (e ErrFlagNotFound) Error() string {
	return "feature flag not found: " + e.Name
}
