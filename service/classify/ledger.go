package classify

import (
	"github.com/shopspring/decimal"
)

// ledger accumulates balance changes keyed by (account, mint) while preserving the
// order in which accounts and mints were first seen.
type ledger struct {
	entries []LedgerEntry
	index   map[string]int
}

func newLedger() *ledger {
	return &ledger{index: make(map[string]int)}
}

// add upserts amount into the (account, mint) change. Existing changes are summed.
func (l *ledger) add(account, mint string, amount decimal.Decimal) {
	i, ok := l.index[account]
	if !ok {
		l.entries = append(l.entries, LedgerEntry{Account: account})
		i = len(l.entries) - 1
		l.index[account] = i
	}
	entry := &l.entries[i]
	for j := range entry.Changes {
		if entry.Changes[j].Mint == mint {
			entry.Changes[j].Amount = entry.Changes[j].Amount.Add(amount)
			return
		}
	}
	entry.Changes = append(entry.Changes, LedgerChange{Mint: mint, Amount: amount})
}

// label sets the display label of an existing entry. Labels never create entries.
func (l *ledger) label(account, name string) {
	if i, ok := l.index[account]; ok {
		l.entries[i].Label = name
	}
}

func (l *ledger) result() []LedgerEntry {
	if l.entries == nil {
		return []LedgerEntry{}
	}
	return l.entries
}

// BuildLedger reduces per-account balance deltas into a per-account, per-asset ledger.
//
// A record's native delta is attributed to the owner of its first token balance change
// when it has any, otherwise to the record's own account. A token change that repeats
// the native change this record just wrote to the same account with the same amount is
// skipped. Labels are attached to the entry of the record's own account when both
// exist. Entries keep first-seen order.
func BuildLedger(records []AccountData, labels *Labels, opts Options) []LedgerEntry {
	opts = opts.withDefaults()
	l := newLedger()

	for _, rec := range records {
		var (
			nativeWritten bool
			nativeAccount string
			nativeAmount  decimal.Decimal
		)

		if rec.NativeBalanceChange != 0 {
			nativeAccount = rec.Account
			if len(rec.TokenBalanceChanges) > 0 {
				nativeAccount = rec.TokenBalanceChanges[0].UserAccount
			}
			nativeAmount = opts.ToNative(rec.NativeBalanceChange)
			l.add(nativeAccount, opts.NativeMint, nativeAmount)
			nativeWritten = true
		}

		for _, change := range rec.TokenBalanceChanges {
			amount, ok := tokenChangeAmount(change.RawTokenAmount)
			if !ok {
				continue
			}
			if nativeWritten && change.UserAccount == nativeAccount && amount.Equal(nativeAmount) {
				continue
			}
			l.add(change.UserAccount, change.Mint, amount)
		}

		if name := labels.Lookup(rec.Account); name != "" {
			l.label(rec.Account, name)
		}
	}

	return l.result()
}

// tokenChangeAmount converts a raw base-unit amount into UI units. Unparseable amounts
// are reported as not ok and contribute nothing.
func tokenChangeAmount(raw RawTokenAmount) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(raw.TokenAmount)
	if err != nil {
		return decimal.Zero, false
	}
	if raw.Decimals != 0 {
		amount = amount.Shift(-int32(raw.Decimals))
	}
	return amount, true
}
