package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleMessageCachesMids(t *testing.T) {
	f := NewWSFeed("ws://unused", zap.NewNop())

	f.handleMessage([]byte(`{
		"channel": "allMids",
		"data": {"mids": {"BTC": "43250.5", "ETH": "2310.25", "BAD": "abc", "NEG": "-5"}}
	}`))

	price, at, ok := f.Mid("BTC-PERP")
	require.True(t, ok)
	assert.InDelta(t, 43250.5, price, 1e-9)
	assert.False(t, at.IsZero())

	// Нормализация: запрос без суффикса попадает в тот же ключ
	price, _, ok = f.Mid("eth")
	require.True(t, ok)
	assert.InDelta(t, 2310.25, price, 1e-9)

	// Мусорные и неположительные значения не кэшируются
	_, _, ok = f.Mid("BAD-PERP")
	assert.False(t, ok)
	_, _, ok = f.Mid("NEG-PERP")
	assert.False(t, ok)
}

func TestHandleMessageUpdatesExistingMid(t *testing.T) {
	f := NewWSFeed("ws://unused", zap.NewNop())

	f.handleMessage([]byte(`{"channel":"allMids","data":{"mids":{"BTC":"100"}}}`))
	f.handleMessage([]byte(`{"channel":"allMids","data":{"mids":{"BTC":"105.5"}}}`))

	price, _, ok := f.Mid("BTC-PERP")
	require.True(t, ok)
	assert.InDelta(t, 105.5, price, 1e-9)
}

func TestHandleMessageIgnoresOtherChannels(t *testing.T) {
	f := NewWSFeed("ws://unused", zap.NewNop())

	f.handleMessage([]byte(`{"channel":"trades","data":{"mids":{"BTC":"100"}}}`))

	_, _, ok := f.Mid("BTC-PERP")
	assert.False(t, ok)
}

func TestHandleMessageIgnoresGarbage(t *testing.T) {
	f := NewWSFeed("ws://unused", zap.NewNop())

	f.handleMessage([]byte(`not json at all`))
	f.handleMessage([]byte(``))
	f.handleMessage([]byte(`{"channel":"allMids","data":{}}`))

	_, _, ok := f.Mid("BTC-PERP")
	assert.False(t, ok)
}

func TestMidUnknownSymbol(t *testing.T) {
	f := NewWSFeed("ws://unused", zap.NewNop())

	price, at, ok := f.Mid("DOGE-PERP")
	assert.False(t, ok)
	assert.Zero(t, price)
	assert.True(t, at.IsZero())
}
