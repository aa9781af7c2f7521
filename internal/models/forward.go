package models

// Chain identifies the address family a contract address belongs to.
type Chain string

const (
	ChainSOL Chain = "SOL"
	ChainEVM Chain = "EVM"
)

// ForwardRequest is a detected contract address waiting to be relayed.
// The forward queue persists these verbatim, so the JSON shape is part of
// the storage contract.
type ForwardRequest struct {
	ID        string `json:"id,omitempty"`
	CA        string `json:"ca"`
	Ticker    string `json:"ticker"`
	ChatTitle string `json:"chatTitle"`
	Timestamp int64  `json:"timestamp"`
	Chain     Chain  `json:"chain,omitempty"`
}

// ProcessedCAEntry records when an address was first and last seen.
// Timestamps are ISO-8601 strings.
type ProcessedCAEntry struct {
	Ticker    string `json:"ticker"`
	FirstSeen string `json:"firstSeen"`
	LastSeen  string `json:"lastSeen"`
}

// ProcessedCAs is the ledger map keyed by contract address.
type ProcessedCAs map[string]ProcessedCAEntry
