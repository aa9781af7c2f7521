package models

// RawMessage is what the page adapter reads off a rendered message element.
// TimestampRaw is kept as text because the host page exposes it as an attribute.
type RawMessage struct {
	ID           string `json:"id"`
	TimestampRaw string `json:"timestamp"`
	Text         string `json:"text"`
}

// ExtractedMessage is a validated message tied to the chat it was read from.
type ExtractedMessage struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
	ChatTitle string `json:"chatTitle"`
}
