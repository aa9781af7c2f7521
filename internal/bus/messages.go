package bus

import "carelay/internal/models"

// QueueCAResult is the background's answer to QUEUE_CA.
type QueueCAResult struct {
	Duplicate bool `json:"duplicate"`
	Queued    bool `json:"queued"`
}

// ForwardInProgressData is the SET_FORWARD_IN_PROGRESS payload.
type ForwardInProgressData struct {
	InProgress bool `json:"inProgress"`
}

// PageStatusResult is the page context's answer to PAGE_STATUS.
type PageStatusResult struct {
	Available bool   `json:"available"`
	Connected bool   `json:"connected"`
	Breaker   string `json:"breaker"`
}

// ForwardCAData is the FORWARD_CA payload.
type ForwardCAData = models.ForwardRequest

// ForwardCAResult is the page context's answer to FORWARD_CA. Forward
// failures are reported here rather than as a bus error so the background
// can still account for the attempt.
type ForwardCAResult struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}
