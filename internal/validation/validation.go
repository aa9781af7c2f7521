package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"carelay/internal/constants"
	"carelay/internal/errors"
	"carelay/internal/models"
)

// maxAddressLength covers 0x-prefixed EVM addresses and base58 keys.
const maxAddressLength = 64

// ValidateChatTitle checks a single chat title as typed by the user.
func ValidateChatTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.NewValidationError("chat_title", title, "chat title cannot be empty")
	}
	if title != strings.TrimSpace(title) {
		return errors.NewValidationError("chat_title", title, "chat title has leading or trailing whitespace")
	}
	if utf8.RuneCountInString(title) > constants.MaxChatTitleLength {
		return errors.NewValidationError("chat_title", title,
			fmt.Sprintf("chat title too long (max %d characters)", constants.MaxChatTitleLength))
	}
	for _, r := range title {
		if unicode.IsControl(r) {
			return errors.NewValidationError("chat_title", title, "chat title contains control characters")
		}
	}
	return nil
}

// NormalizeWatchedChats trims every title and validates the list.
// Duplicates after trimming are rejected.
func NormalizeWatchedChats(titles []string) ([]string, error) {
	if len(titles) > constants.MaxWatchedChats {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("too many watched chats (max %d)", constants.MaxWatchedChats))
	}

	out := make([]string, 0, len(titles))
	seen := make(map[string]struct{}, len(titles))
	for _, raw := range titles {
		title := strings.TrimSpace(raw)
		if err := ValidateChatTitle(title); err != nil {
			return nil, err
		}
		if _, dup := seen[title]; dup {
			return nil, errors.NewValidationError("watched_chats", title, "duplicate chat title")
		}
		seen[title] = struct{}{}
		out = append(out, title)
	}
	return out, nil
}

// ValidateMaxMessageAgeMinutes bounds the stored maxMessageAge setting.
func ValidateMaxMessageAgeMinutes(minutes int) error {
	if minutes < 1 || minutes > constants.MaxMessageAgeMinMax {
		return errors.NewValidationError("max_message_age", fmt.Sprint(minutes),
			fmt.Sprintf("max message age must be between 1 and %d minutes", constants.MaxMessageAgeMinMax))
	}
	return nil
}

// ValidateSettingsUpdate returns a normalized copy of u.
func ValidateSettingsUpdate(u models.SettingsUpdate) (models.SettingsUpdate, error) {
	chats, err := NormalizeWatchedChats(u.WatchedChats)
	if err != nil {
		return models.SettingsUpdate{}, err
	}
	if u.MaxMessageAgeMinutes != nil {
		if err := ValidateMaxMessageAgeMinutes(*u.MaxMessageAgeMinutes); err != nil {
			return models.SettingsUpdate{}, err
		}
	}
	return models.SettingsUpdate{WatchedChats: chats, MaxMessageAgeMinutes: u.MaxMessageAgeMinutes}, nil
}

// ValidateForwardRequest checks a request arriving over the bus.
func ValidateForwardRequest(req models.ForwardRequest) error {
	if req.CA == "" {
		return errors.NewValidationError("ca", req.CA, "contract address cannot be empty")
	}
	if len(req.CA) > maxAddressLength {
		return errors.NewValidationError("ca", req.CA, "contract address too long")
	}
	if utf8.RuneCountInString(req.ChatTitle) > constants.MaxChatTitleLength {
		return errors.NewValidationError("chat_title", req.ChatTitle, "chat title too long")
	}
	return nil
}
