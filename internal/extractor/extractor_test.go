package extractor

import (
	"testing"
	"time"

	"carelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_FirstMatchOfEach(t *testing.T) {
	c, ok := Classify("check $FOO and 4Nd1mKZPvzCRvTh5GaMJtr5yDkM8LzMqp9qwPVMepump now")
	require.True(t, ok)
	assert.Equal(t, "4Nd1mKZPvzCRvTh5GaMJtr5yDkM8LzMqp9qwPVMepump", c.CA)
	assert.Equal(t, "$FOO", c.Ticker)
	assert.Equal(t, models.ChainSOL, c.Chain)
}

func TestClassify_OnlyFirstAddressAndTicker(t *testing.T) {
	text := "$AAA 0x52908400098527886E0F7030069857D2E4169EE7 then $BBB 4Nd1mKZPvzCRvTh5GaMJtr5yDkM8LzMqp9qwPVMepump"
	c, ok := Classify(text)
	require.True(t, ok)
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", c.CA)
	assert.Equal(t, "$AAA", c.Ticker)
	assert.Equal(t, models.ChainEVM, c.Chain)
}

func TestClassify_NoAddress(t *testing.T) {
	tests := []string{
		"",
		"gm frens $FOO is pumping",
		"too short 4Nd1mKZPvzCRvTh5GaMJ",
		"has excluded chars 0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl",
		"0x1234 is not long enough",
	}
	for _, text := range tests {
		_, ok := Classify(text)
		assert.False(t, ok, text)
	}
}

func TestClassify_AddressAnchoredAtEnd(t *testing.T) {
	const ca = "4Nd1mKZPvzCRvTh5GaMJtr5yDkM8LzMqp9qwPVMepump"

	tests := []struct {
		name string
		text string
	}{
		{"glued to a word", "ca_" + ca + " is live"},
		{"longer base58 run keeps the tail", "abcdef" + ca},
		{"followed by punctuation", "(" + ca + ")."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := Classify(tt.text)
			require.True(t, ok)
			assert.Equal(t, ca, c.CA)
			assert.Equal(t, models.ChainSOL, c.Chain)
		})
	}

	_, ok := Classify(ca + "_x")
	assert.False(t, ok, "an address must end at a word boundary")
}

func TestClassify_EmptyTickerIsValid(t *testing.T) {
	c, ok := Classify("4Nd1mKZPvzCRvTh5GaMJtr5yDkM8LzMqp9qwPVMepump")
	require.True(t, ok)
	assert.Equal(t, "", c.Ticker)
}

func TestClassify_TickerRules(t *testing.T) {
	addr := " 4Nd1mKZPvzCRvTh5GaMJtr5yDkM8LzMqp9qwPVMepump"

	c, _ := Classify("$1ABC" + addr)
	assert.Equal(t, "", c.Ticker, "ticker must start with a letter")

	c, _ = Classify("$a1b2" + addr)
	assert.Equal(t, "$a1b2", c.Ticker)
}

func TestExtractMessage(t *testing.T) {
	raw := &models.RawMessage{ID: "m1", TimestampRaw: "1700000000", Text: "hello"}
	msg := ExtractMessage(raw, "Alpha")
	require.NotNil(t, msg)
	assert.Equal(t, int64(1700000000), msg.Timestamp)
	assert.Equal(t, "Alpha", msg.ChatTitle)

	ms := ExtractMessage(&models.RawMessage{ID: "m2", TimestampRaw: "1700000000123", Text: "x"}, "Alpha")
	require.NotNil(t, ms)
	assert.Equal(t, int64(1700000000), ms.Timestamp)

	iso := ExtractMessage(&models.RawMessage{ID: "m3", TimestampRaw: "2023-11-14T22:13:20Z", Text: "x"}, "Alpha")
	require.NotNil(t, iso)
	assert.Equal(t, int64(1700000000), iso.Timestamp)
}

func TestExtractMessage_MissingFields(t *testing.T) {
	assert.Nil(t, ExtractMessage(nil, "Alpha"))
	assert.Nil(t, ExtractMessage(&models.RawMessage{TimestampRaw: "1", Text: "x"}, "Alpha"))
	assert.Nil(t, ExtractMessage(&models.RawMessage{ID: "m", Text: "x"}, "Alpha"))
	assert.Nil(t, ExtractMessage(&models.RawMessage{ID: "m", TimestampRaw: "1", Text: "  "}, "Alpha"))
	assert.Nil(t, ExtractMessage(&models.RawMessage{ID: "m", TimestampRaw: "yesterday", Text: "x"}, "Alpha"))
	assert.Nil(t, ExtractMessage(&models.RawMessage{ID: "m", TimestampRaw: "-5", Text: "x"}, "Alpha"))
}

func TestIsStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.False(t, IsStale(now.Unix()-1800, now, 1800*time.Second))
	assert.True(t, IsStale(now.Unix()-1801, now, 1800*time.Second))
	assert.False(t, IsStale(now.Unix(), now, 3*time.Hour))
}
