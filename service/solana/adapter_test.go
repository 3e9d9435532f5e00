package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEndpoints(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "single", raw: "https://api.mainnet-beta.solana.com", want: []string{"https://api.mainnet-beta.solana.com"}},
		{
			name: "blanks and whitespace dropped",
			raw:  " https://mainnet.helius-rpc.com/?api-key=k, ,https://api.mainnet-beta.solana.com,",
			want: []string{"https://mainnet.helius-rpc.com/?api-key=k", "https://api.mainnet-beta.solana.com"},
		},
		{name: "only separators", raw: " , ,", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitEndpoints(tt.raw))
		})
	}
}

func TestSelectRandomEndpoint(t *testing.T) {
	t.Run("no endpoints", func(t *testing.T) {
		_, err := SelectRandomEndpoint(SplitEndpoints(" , "))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no RPC endpoints configured")
	})

	t.Run("single endpoint is always chosen", func(t *testing.T) {
		selected, err := SelectRandomEndpoint([]string{"https://api.devnet.solana.com"})
		require.NoError(t, err)
		assert.Equal(t, "https://api.devnet.solana.com", selected)
	})

	t.Run("choices come from the configured list", func(t *testing.T) {
		endpoints := SplitEndpoints("https://a.rpcpool.com,https://b.quiknode.pro,https://c.helius-rpc.com")
		seen := make(map[string]bool)
		for range 60 {
			selected, err := SelectRandomEndpoint(endpoints)
			require.NoError(t, err)
			require.Contains(t, endpoints, selected)
			seen[selected] = true
		}
		// 60 draws from 3 endpoints all landing on one is vanishingly unlikely.
		assert.GreaterOrEqual(t, len(seen), 2)
	})
}
