package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
)

func krakenConventions() Conventions {
	return Conventions{
		Separator:       "",
		BaseFirst:       true,
		Case:            CaseUpper,
		InverseMappings: map[string]string{"XBT": "BTC"},
	}
}

func TestMapper_Normalize(t *testing.T) {
	m := NewMapper()

	t.Run("splits and uppercases", func(t *testing.T) {
		canon, err := m.Normalize("btc/usd", Conventions{Separator: "/", BaseFirst: true})
		require.NoError(t, err)
		assert.Equal(t, "BTC/USD", canon)
	})

	t.Run("applies inverse mapping", func(t *testing.T) {
		canon, err := m.Normalize("XBT/USD", Conventions{Separator: "/", BaseFirst: true, InverseMappings: map[string]string{"XBT": "BTC"}})
		require.NoError(t, err)
		assert.Equal(t, "BTC/USD", canon)
	})

	t.Run("rejects single token", func(t *testing.T) {
		_, err := m.Normalize("BTCUSD", Conventions{Separator: "/", BaseFirst: true})
		assert.ErrorIs(t, err, domain.ErrInvalidSymbol)
	})

	t.Run("rejects short tokens", func(t *testing.T) {
		_, err := m.Normalize("B/USD", Conventions{Separator: "/", BaseFirst: true})
		assert.ErrorIs(t, err, domain.ErrInvalidSymbol)
	})
}

func TestMapper_ToExchange(t *testing.T) {
	m := NewMapper()

	t.Run("honors special mapping", func(t *testing.T) {
		conv := Conventions{Separator: "-", BaseFirst: true, SpecialMappings: map[string]string{"BTC/USD": "XBTUSD"}}
		ex, err := m.ToExchange("BTC/USD", conv)
		require.NoError(t, err)
		assert.Equal(t, "XBTUSD", ex)
	})

	t.Run("rejects malformed canonical", func(t *testing.T) {
		_, err := m.ToExchange("BTCUSD", Conventions{})
		assert.ErrorIs(t, err, domain.ErrInvalidSymbol)
	})
}

// Property test: toExchange(normalize(s), c) followed by normalize(.)
// with the same conventions returns a canonical form equal to normalize(s).
func TestSymbolRoundtrip(t *testing.T) {
	m := NewMapper()
	conv := Conventions{Separator: "/", BaseFirst: true, Case: CaseUpper}

	inputs := []string{"btc/usd", "eth/eur", "sol/usdt"}
	for _, raw := range inputs {
		canon, err := m.Normalize(raw, conv)
		require.NoError(t, err)

		exSym, err := m.ToExchange(canon, conv)
		require.NoError(t, err)

		roundtripped, err := m.Normalize(exSym, conv)
		require.NoError(t, err)

		assert.Equal(t, canon, roundtripped)
	}
}

func TestValidateForCategory(t *testing.T) {
	assert.True(t, ValidateForCategory("BTC/USD", domain.CategoryCrypto))
	assert.True(t, ValidateForCategory("ETH/USDT", domain.CategoryCrypto))
	assert.False(t, ValidateForCategory("EUR/BTC", domain.CategoryForex))
	assert.True(t, ValidateForCategory("EUR/USD", domain.CategoryForex))
	assert.True(t, ValidateForCategory("XAU/USD", domain.CategoryCommodity))
	assert.False(t, ValidateForCategory("BTC/USD", domain.CategoryCommodity))
}
