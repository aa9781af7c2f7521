package privacy

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// textPreviewRunes is how much of a message body survives masking.
const textPreviewRunes = 12

// MaskMessageText keeps a short prefix of a chat message and its length.
// Example: "check $FOO and 4Nd1...pump now" -> "check $FOO a…(38 chars)"
func MaskMessageText(text string) string {
	if text == "" {
		return ""
	}
	n := utf8.RuneCountInString(text)
	if n <= textPreviewRunes {
		return strings.Repeat("*", n)
	}
	runes := []rune(text)
	return fmt.Sprintf("%s…(%d chars)", string(runes[:textPreviewRunes]), n)
}

// MaskMessageID masks a web client message id while keeping its shape.
// Example: "false_1234567890@c.us_3EB0A1B2C3D4" -> "false_******7890@c.us_********C3D4"
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}

	parts := strings.SplitN(messageID, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + maskJID(parts[1]) + "_" + maskString(parts[2], 4)
	}

	return maskString(messageID, 8)
}

func maskJID(jid string) string {
	user, domain, found := strings.Cut(jid, "@")
	if !found {
		return maskString(jid, 4)
	}
	return maskString(user, 4) + "@" + domain
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= keepLast {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-keepLast) + string(runes[len(runes)-keepLast:])
}
