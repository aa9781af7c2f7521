package models

// RuntimeSettings is the page context's cached view of user preferences.
type RuntimeSettings struct {
	WatchedChats  []string `json:"watchedChats"`
	MaxMessageAge int64    `json:"maxMessageAge"` // seconds
}

// SettingsUpdate is the popup write payload. MaxMessageAgeMinutes mirrors
// the stored unit.
type SettingsUpdate struct {
	WatchedChats         []string `json:"watchedChats"`
	MaxMessageAgeMinutes *int     `json:"maxMessageAgeMinutes,omitempty"`
}
