package classify

import "github.com/shopspring/decimal"

// env carries the read-only collaborators every parser needs.
type env struct {
	labels *Labels
	opts   Options
}

// parserFunc turns one raw transaction into its canonical form. A returned error, or a
// panic, makes the dispatcher substitute the unknown parser's output.
type parserFunc func(e env, raw *RawTransaction, viewer string) (Transaction, error)

// base copies the top-level fields of raw into an empty canonical transaction.
func (e env) base(raw *RawTransaction) Transaction {
	return Transaction{
		Type:      raw.Type,
		Fee:       e.opts.ToNative(raw.Fee),
		Signature: raw.Signature,
		Timestamp: raw.Timestamp,
		Source:    raw.Source,
		Actions:   []Action{},
		Accounts:  []LedgerEntry{},
	}
}

func (e env) ledger(raw *RawTransaction) []LedgerEntry {
	return BuildLedger(raw.AccountData, e.labels, e.opts)
}

// noTransferEvidence reports a transaction that carries neither transfer set. Such
// transactions classify to an empty result rather than a guess.
func noTransferEvidence(raw *RawTransaction) bool {
	return raw.TokenTransfers == nil && raw.NativeTransfers == nil
}

func firstTokenSender(raw *RawTransaction) string {
	if len(raw.TokenTransfers) == 0 {
		return ""
	}
	return raw.TokenTransfers[0].FromUserAccount
}

func firstNativeSender(raw *RawTransaction) string {
	if len(raw.NativeTransfers) == 0 {
		return ""
	}
	return raw.NativeTransfers[0].FromUserAccount
}

// parseTransfer handles plain transfers and executed multisig transactions.
func parseTransfer(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	tx := e.base(raw)
	if noTransferEvidence(raw) {
		return tx, nil
	}

	tx.PrimaryUser = firstTokenSender(raw)
	tx.Actions = append(tx.Actions, ExtractTokenTransfers(raw.TokenTransfers, viewer)...)
	tx.Actions = append(tx.Actions, ExtractNativeTransfers(raw.NativeTransfers, viewer, e.opts)...)
	tx.Accounts = e.ledger(raw)
	return tx, nil
}

// hadeswapSource settles swaps partly in native SOL, so its native transfers are part
// of the swap.
const hadeswapSource = "HADESWAP"

func parseSwap(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	tx := e.base(raw)
	if noTransferEvidence(raw) {
		return tx, nil
	}

	tx.PrimaryUser = firstTokenSender(raw)
	tx.Actions = append(tx.Actions, ExtractTokenTransfers(raw.TokenTransfers, viewer)...)
	if raw.Source == hadeswapSource {
		tx.Actions = append(tx.Actions, ExtractNativeTransfers(raw.NativeTransfers, viewer, e.opts)...)
	}
	tx.Accounts = e.ledger(raw)
	return tx, nil
}

// parseTokenMint attributes the mint to whoever paid for it in native SOL.
func parseTokenMint(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	tx := e.base(raw)
	if noTransferEvidence(raw) {
		return tx, nil
	}

	tx.PrimaryUser = firstNativeSender(raw)
	tx.Actions = append(tx.Actions, ExtractTokenTransfers(raw.TokenTransfers, viewer)...)
	tx.Actions = append(tx.Actions, ExtractNativeTransfers(raw.NativeTransfers, viewer, e.opts)...)
	tx.Accounts = e.ledger(raw)
	return tx, nil
}

// parseBurn treats every token transfer without a recipient as the burn leg, typed by
// the declared transaction type. Other legs are viewer-relative; with a viewer, legs
// that do not involve the viewer are omitted.
func parseBurn(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	tx := e.base(raw)
	if noTransferEvidence(raw) {
		return tx, nil
	}

	tx.PrimaryUser = firstTokenSender(raw)
	for _, t := range raw.TokenTransfers {
		from, to := t.FromUserAccount, t.ToUserAccount
		switch {
		case to == "":
			tx.Actions = append(tx.Actions, Action{
				ActionType: ActionType(raw.Type),
				From:       from,
				Sent:       t.Mint,
				Amount:     t.TokenAmount,
			})
		case viewer == "":
			tx.Actions = append(tx.Actions, movement(ActionTransfer, from, to, t.Mint, t.TokenAmount))
		case from == viewer:
			tx.Actions = append(tx.Actions, movement(ActionSent, from, to, t.Mint, t.TokenAmount))
		case to == viewer:
			tx.Actions = append(tx.Actions, movement(ActionReceived, from, to, t.Mint, t.TokenAmount))
		}
	}
	tx.Actions = append(tx.Actions, ExtractNativeTransfers(raw.NativeTransfers, viewer, e.opts)...)
	tx.Accounts = e.ledger(raw)
	return tx, nil
}

// xNFT install instructions carry six accounts; uninstall instructions carry three.
const (
	xnftInstallAccounts   = 6
	xnftUninstallAccounts = 3
)

// parseUnknown is the generic fallback: token and native transfers relative to the
// viewer plus the ledger. xNFT program calls are recognised and reported without
// actions.
func parseUnknown(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	tx := e.base(raw)
	if noTransferEvidence(raw) {
		return tx, nil
	}

	tx.PrimaryUser = firstTokenSender(raw)
	if tx.PrimaryUser == "" {
		tx.PrimaryUser = firstNativeSender(raw)
	}
	tx.Accounts = e.ledger(raw)

	if len(raw.Instructions) > 0 && raw.Instructions[0].ProgramID == XNFTProgram {
		tx.Type = TypeXNFTInstall
		if len(raw.Instructions[0].Accounts) == xnftUninstallAccounts {
			tx.Type = TypeXNFTUninstall
		}
		return tx, nil
	}

	tx.Actions = append(tx.Actions, ExtractTokenTransfers(raw.TokenTransfers, viewer)...)
	tx.Actions = append(tx.Actions, ExtractNativeTransfers(raw.NativeTransfers, viewer, e.opts)...)
	return tx, nil
}

// one is the amount of a single non-fungible asset.
var one = decimal.NewFromInt(1)
