// Package extractor turns raw message elements into structured messages and
// classifies message text into contract-address candidates. Nothing here
// performs I/O.
package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"carelay/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// 0x followed by 40 hex digits, or base58 without 0, O, I, l. The base58
	// run is anchored only at its end, so an address glued to a prefix still
	// matches and a longer run yields its last 32-44 characters.
	addressPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b|[1-9A-HJ-NP-Za-km-z]{32,44}\b`)
	tickerPattern  = regexp.MustCompile(`\$[A-Za-z][A-Za-z0-9]{0,19}\b`)
)

// Candidate is a classified message: a contract address with its optional ticker.
type Candidate struct {
	CA     string
	Ticker string
	Chain  models.Chain
}

// ExtractMessage validates a raw element read off the page. It returns nil
// when the id, timestamp or text is missing or the timestamp is not a
// positive unix-seconds value.
func ExtractMessage(raw *models.RawMessage, chatTitle string) *models.ExtractedMessage {
	if raw == nil || raw.ID == "" || strings.TrimSpace(raw.Text) == "" {
		return nil
	}
	ts, ok := parseTimestamp(raw.TimestampRaw)
	if !ok {
		return nil
	}
	return &models.ExtractedMessage{
		ID:        raw.ID,
		Timestamp: ts,
		Text:      raw.Text,
		ChatTitle: chatTitle,
	}
}

// parseTimestamp accepts unix seconds, unix milliseconds or RFC3339.
func parseTimestamp(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n <= 0 {
			return 0, false
		}
		// anything past year 2286 in seconds is a millisecond value
		if n > 9_999_999_999 {
			n /= 1000
		}
		return n, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Unix(), true
	}
	return 0, false
}

// Classify finds the first address and the first ticker in text. ok is false
// when no address is present; a missing ticker is not an error.
func Classify(text string) (Candidate, bool) {
	ca := addressPattern.FindString(text)
	if ca == "" {
		return Candidate{}, false
	}
	return Candidate{
		CA:     ca,
		Ticker: tickerPattern.FindString(text),
		Chain:  ChainOf(ca),
	}, true
}

// ChainOf tags an address by family.
func ChainOf(ca string) models.Chain {
	if common.IsHexAddress(ca) && strings.HasPrefix(ca, "0x") {
		return models.ChainEVM
	}
	return models.ChainSOL
}

// IsStale reports whether a unix-seconds timestamp is more than maxAge before now.
func IsStale(ts int64, now time.Time, maxAge time.Duration) bool {
	return now.Unix()-ts > int64(maxAge/time.Second)
}
