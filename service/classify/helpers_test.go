package classify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "A1iceWa11etAddressXXXXXXXXXXXXXXXXXXXXXXXXX"
	bob   = "BobWa11etAddressXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	carol = "Caro1Wa11etAddressXXXXXXXXXXXXXXXXXXXXXXXXX"
	usdc  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	nft   = "DRiP2Pn2K6fuMLKQmt5rZWyHiUZ6WK3GChEySUpHSS4x"
)

// wantAction is an Action with its amount written as a decimal string, so
// expectations do not depend on the internal representation of decimal values.
type wantAction struct {
	Type     ActionType
	From     string
	To       string
	Sent     string
	Received string
	Amount   string
}

func assertActions(t *testing.T, want []wantAction, got []Action) {
	t.Helper()
	require.Len(t, got, len(want), "actions: %+v", got)
	for i := range want {
		w, g := want[i], got[i]
		assert.Equal(t, w.Type, g.ActionType, "action %d type", i)
		assert.Equal(t, w.From, g.From, "action %d from", i)
		assert.Equal(t, w.To, g.To, "action %d to", i)
		assert.Equal(t, w.Sent, g.Sent, "action %d sent", i)
		assert.Equal(t, w.Received, g.Received, "action %d received", i)
		assertDecimal(t, w.Amount, g.Amount, "action %d amount", i)
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got),
		append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// changeOf returns the amount recorded for account and mint, failing when absent.
func changeOf(t *testing.T, ledger []LedgerEntry, account, mint string) decimal.Decimal {
	t.Helper()
	for _, e := range ledger {
		if e.Account != account {
			continue
		}
		for _, c := range e.Changes {
			if c.Mint == mint {
				return c.Amount
			}
		}
	}
	require.Failf(t, "missing ledger change", "account=%s mint=%s ledger=%+v", account, mint, ledger)
	return decimal.Zero
}

func loadFixture(t *testing.T, name string) *RawTransaction {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	var raw RawTransaction
	require.NoError(t, json.Unmarshal(data, &raw))
	return &raw
}

func testEnv() env {
	return env{labels: DefaultLabels(), opts: DefaultOptions()}
}

func newTestClassifier() *Classifier {
	return NewClassifier(DefaultLabels(), DefaultOptions(), nil, nil)
}
