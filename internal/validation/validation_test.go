package validation

import (
	"strings"
	"testing"

	"carelay/internal/errors"
	"carelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateChatTitle(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		wantErr string
	}{
		{name: "plain", title: "Alpha Calls"},
		{name: "emoji", title: "🚀 Degens"},
		{name: "empty", title: "", wantErr: "cannot be empty"},
		{name: "blank", title: "   ", wantErr: "cannot be empty"},
		{name: "padded", title: " Alpha", wantErr: "whitespace"},
		{name: "too long", title: strings.Repeat("a", 129), wantErr: "too long"},
		{name: "control char", title: "Al\tpha", wantErr: "control"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChatTitle(tt.title)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
		})
	}
}

func TestNormalizeWatchedChats(t *testing.T) {
	got, err := NormalizeWatchedChats([]string{" Alpha ", "Beta"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Beta"}, got)

	_, err = NormalizeWatchedChats([]string{"Alpha", "Alpha "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	_, err = NormalizeWatchedChats([]string{"Alpha", ""})
	assert.Error(t, err)

	got, err = NormalizeWatchedChats(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = NormalizeWatchedChats(make([]string, 201))
	assert.Error(t, err)
}

func TestValidateSettingsUpdate(t *testing.T) {
	fifteen := 15
	got, err := ValidateSettingsUpdate(models.SettingsUpdate{
		WatchedChats:         []string{"Alpha "},
		MaxMessageAgeMinutes: &fifteen,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha"}, got.WatchedChats)
	assert.Equal(t, 15, *got.MaxMessageAgeMinutes)

	zero := 0
	_, err = ValidateSettingsUpdate(models.SettingsUpdate{MaxMessageAgeMinutes: &zero})
	assert.Error(t, err)

	tooLarge := 24*60 + 1
	_, err = ValidateSettingsUpdate(models.SettingsUpdate{MaxMessageAgeMinutes: &tooLarge})
	assert.Error(t, err)
}

func TestValidateForwardRequest(t *testing.T) {
	assert.NoError(t, ValidateForwardRequest(models.ForwardRequest{CA: "0x52908400098527886E0F7030069857D2E4169EE7", ChatTitle: "Alpha"}))
	assert.Error(t, ValidateForwardRequest(models.ForwardRequest{}))
	assert.Error(t, ValidateForwardRequest(models.ForwardRequest{CA: strings.Repeat("1", 65)}))
	assert.Error(t, ValidateForwardRequest(models.ForwardRequest{CA: "x", ChatTitle: strings.Repeat("t", 129)}))
}
