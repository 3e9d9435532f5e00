package solana

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"slices"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/brojonat/xray/service/classify"
)

// Memo program IDs
var (
	// MemoProgramIDSPL is the SPL Memo program (most common)
	MemoProgramIDSPL = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

const (
	sourceUnknown       = "UNKNOWN"
	sourceSystemProgram = "SYSTEM_PROGRAM"
)

// signatureToRaw builds a metadata-only transaction from a signature listing.
// It carries no transfer evidence, so it classifies to an empty action list.
func signatureToRaw(sig *rpc.TransactionSignature) *classify.RawTransaction {
	raw := &classify.RawTransaction{
		Signature: sig.Signature.String(),
		Slot:      sig.Slot,
		Type:      classify.TypeUnknown,
		Source:    sourceUnknown,
	}
	if sig.BlockTime != nil {
		raw.Timestamp = int64(*sig.BlockTime)
	}
	if sig.Err != nil {
		raw.TransactionError = &classify.TransactionError{Error: fmt.Sprintf("%v", sig.Err)}
	}
	return raw
}

// toRawTransaction enriches an RPC transaction into the classifier's input form.
// Balance deltas become native and token transfers, instructions get program ids
// resolved and a decoded body for the instruction kinds type inference needs.
func toRawTransaction(signature string, result *rpc.GetTransactionResult) (*classify.RawTransaction, error) {
	if result == nil || result.Transaction == nil {
		return nil, fmt.Errorf("empty transaction result")
	}
	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	meta := result.Meta
	keys := accountKeys(tx, meta)

	raw := &classify.RawTransaction{
		Signature: signature,
		Slot:      result.Slot,
		Type:      classify.TypeUnknown,
		Source:    sourceUnknown,
	}
	if result.BlockTime != nil {
		raw.Timestamp = int64(*result.BlockTime)
	}
	if len(keys) > 0 {
		raw.FeePayer = keys[0].String()
	}

	inner := make(map[int][]classify.Instruction)
	if meta != nil {
		for _, set := range meta.InnerInstructions {
			for _, ix := range set.Instructions {
				inner[int(set.Index)] = append(inner[int(set.Index)], decodeInstruction(ix.ProgramIDIndex, ix.Accounts, ix.Data, keys))
			}
		}
	}
	for i, ix := range tx.Message.Instructions {
		decoded := decodeInstruction(ix.ProgramIDIndex, ix.Accounts, ix.Data, keys)
		decoded.InnerInstructions = inner[i]
		raw.Instructions = append(raw.Instructions, decoded)
	}

	if meta != nil {
		raw.Fee = int64(meta.Fee)
		if meta.Err != nil {
			raw.TransactionError = &classify.TransactionError{Error: fmt.Sprintf("%v", meta.Err)}
		}
		tokens := tokenDeltas(keys, meta)
		raw.AccountData = accountData(keys, meta, tokens)
		raw.NativeTransfers = nativeTransfers(keys, meta)
		raw.TokenTransfers = tokenTransfers(tokens)
		raw.Meta = tokenMeta(meta)
	}

	raw.Type = declaredType(classify.InferCustomType(raw))
	if raw.Type == classify.TypeTransfer && onlySystemProgram(raw.Instructions) {
		raw.Source = sourceSystemProgram
	}
	return raw, nil
}

// accountKeys returns static keys followed by addresses loaded from lookup tables,
// the order instruction indexes refer to.
func accountKeys(tx *solana.Transaction, meta *rpc.TransactionMeta) []solana.PublicKey {
	keys := slices.Clone([]solana.PublicKey(tx.Message.AccountKeys))
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}
	return keys
}

func keyAt(keys []solana.PublicKey, idx uint16) string {
	if int(idx) >= len(keys) {
		return ""
	}
	return keys[idx].String()
}

func declaredType(ct classify.CustomType) classify.TransactionType {
	switch ct {
	case classify.CustomTransfer, classify.CustomTokenTransfer, classify.CustomNFTTransfer, classify.CustomTokenAirdrop:
		return classify.TypeTransfer
	case classify.CustomSwap:
		return classify.TypeSwap
	default:
		return classify.TypeUnknown
	}
}

func onlySystemProgram(ixs []classify.Instruction) bool {
	for _, ix := range ixs {
		if ix.ProgramID != classify.SystemProgram {
			return false
		}
	}
	return len(ixs) > 0
}

func decodeInstruction(programIdx uint16, accounts []uint16, data []byte, keys []solana.PublicKey) classify.Instruction {
	ix := classify.Instruction{
		ProgramID: keyAt(keys, programIdx),
		Accounts:  make([]string, 0, len(accounts)),
		Data:      base58.Encode(data),
	}
	for _, a := range accounts {
		ix.Accounts = append(ix.Accounts, keyAt(keys, a))
	}

	var body any
	switch ix.ProgramID {
	case classify.SystemProgram:
		body = parseSystemTransfer(data, ix.Accounts)
	case classify.TokenProgram, classify.Token2022:
		body = parseTokenTransfer(data, ix.Accounts)
	case MemoProgramIDSPL.String(), MemoProgramIDLegacy.String():
		if memo := parseMemo(data); memo != "" {
			body = parsedBody{Type: "memo", Info: map[string]string{"memo": memo}}
		}
	}
	if body != nil {
		if encoded, err := json.Marshal(body); err == nil {
			ix.Parsed = encoded
		}
	}
	return ix
}

type parsedBody struct {
	Type string `json:"type"`
	Info any    `json:"info"`
}

// parseSystemTransfer decodes a System Program Transfer instruction.
func parseSystemTransfer(data []byte, accounts []string) any {
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)
	if len(data) < 12 || len(accounts) < 2 {
		return nil
	}
	if binary.LittleEndian.Uint32(data[0:4]) != SystemProgramTransferInstruction {
		return nil
	}
	return parsedBody{Type: "transfer", Info: map[string]any{
		"source":      accounts[0],
		"destination": accounts[1],
		"lamports":    binary.LittleEndian.Uint64(data[4:12]),
	}}
}

// parseTokenTransfer decodes SPL Token Transfer and TransferChecked instructions.
func parseTokenTransfer(data []byte, accounts []string) any {
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case TokenProgramTransferInstruction:
		// [0] = type, [1..9] = amount (u64)
		// accounts: [source, destination, authority]
		if len(data) < 9 || len(accounts) < 3 {
			return nil
		}
		return parsedBody{Type: "transfer", Info: map[string]any{
			"source":      accounts[0],
			"destination": accounts[1],
			"authority":   accounts[2],
			"amount":      fmt.Sprintf("%d", binary.LittleEndian.Uint64(data[1:9])),
		}}

	case TokenProgramTransferCheckedInstruction:
		// [0] = type, [1..9] = amount (u64), [9] = decimals (u8)
		// accounts: [source, mint, destination, authority, ...]
		if len(data) < 10 || len(accounts) < 4 {
			return nil
		}
		amount := binary.LittleEndian.Uint64(data[1:9])
		decimals := int32(data[9])
		uiAmount, _ := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals).Float64()
		return parsedBody{Type: "transferChecked", Info: map[string]any{
			"source":      accounts[0],
			"mint":        accounts[1],
			"destination": accounts[2],
			"authority":   accounts[3],
			"tokenAmount": map[string]any{
				"amount":   fmt.Sprintf("%d", amount),
				"decimals": decimals,
				"uiAmount": uiAmount,
			},
		}}
	}
	return nil
}

// parseMemo extracts the memo text from a Memo Program instruction.
func parseMemo(data []byte) string {
	// Some memos are base64 encoded, others are plain text
	memo := string(data)
	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil && isValidUTF8(decoded) {
		return string(decoded)
	}
	return memo
}

// isValidUTF8 checks if bytes are valid UTF-8
func isValidUTF8(b []byte) bool {
	// Simple heuristic: check if there are any null bytes
	for _, c := range b {
		if c == 0 {
			return false
		}
	}
	return true
}

// tokenDelta is the change of one token account between pre and post balances.
type tokenDelta struct {
	index    int
	account  string
	owner    string
	mint     string
	decimals int
	amount   decimal.Decimal // base units
}

type tokenSnapshot struct {
	owner    string
	mint     string
	decimals int
	amount   decimal.Decimal
}

func snapshotTokens(balances []rpc.TokenBalance) map[int]tokenSnapshot {
	out := make(map[int]tokenSnapshot, len(balances))
	for _, b := range balances {
		s := tokenSnapshot{mint: b.Mint.String()}
		if b.Owner != nil {
			s.owner = b.Owner.String()
		}
		if b.UiTokenAmount != nil {
			s.decimals = int(b.UiTokenAmount.Decimals)
			if amt, err := decimal.NewFromString(b.UiTokenAmount.Amount); err == nil {
				s.amount = amt
			}
		}
		out[int(b.AccountIndex)] = s
	}
	return out
}

// tokenDeltas returns the non-zero token account changes ordered by account index.
func tokenDeltas(keys []solana.PublicKey, meta *rpc.TransactionMeta) []tokenDelta {
	pre := snapshotTokens(meta.PreTokenBalances)
	post := snapshotTokens(meta.PostTokenBalances)

	indexes := make([]int, 0, len(post))
	for idx := range post {
		indexes = append(indexes, idx)
	}
	for idx := range pre {
		if _, ok := post[idx]; !ok {
			indexes = append(indexes, idx)
		}
	}
	slices.Sort(indexes)

	var out []tokenDelta
	for _, idx := range indexes {
		before, after := pre[idx], post[idx]
		ref := after
		if ref.mint == "" {
			ref = before
		}
		change := after.amount.Sub(before.amount)
		if change.IsZero() {
			continue
		}
		out = append(out, tokenDelta{
			index:    idx,
			account:  keyAt(keys, uint16(idx)),
			owner:    ref.owner,
			mint:     ref.mint,
			decimals: ref.decimals,
			amount:   change,
		})
	}
	return out
}

func accountData(keys []solana.PublicKey, meta *rpc.TransactionMeta, tokens []tokenDelta) []classify.AccountData {
	out := make([]classify.AccountData, 0, len(keys))
	for i, key := range keys {
		entry := classify.AccountData{
			Account:             key.String(),
			TokenBalanceChanges: []classify.TokenBalanceChange{},
		}
		if i < len(meta.PreBalances) && i < len(meta.PostBalances) {
			entry.NativeBalanceChange = int64(meta.PostBalances[i]) - int64(meta.PreBalances[i])
		}
		for _, t := range tokens {
			if t.index != i {
				continue
			}
			entry.TokenBalanceChanges = append(entry.TokenBalanceChanges, classify.TokenBalanceChange{
				UserAccount:  t.owner,
				TokenAccount: t.account,
				Mint:         t.mint,
				RawTokenAmount: classify.RawTokenAmount{
					TokenAmount: t.amount.String(),
					Decimals:    t.decimals,
				},
			})
		}
		out = append(out, entry)
	}
	return out
}

type leg struct {
	account  string
	token    string
	amount   decimal.Decimal
	decimals int
}

// pair matches outflows to inflows greedily in order. Both slices hold positive
// amounts; the total moved is the smaller of the two sums.
func pair(senders, receivers []leg, emit func(from, to leg, amount decimal.Decimal)) {
	i, j := 0, 0
	for i < len(senders) && j < len(receivers) {
		amount := decimal.Min(senders[i].amount, receivers[j].amount)
		emit(senders[i], receivers[j], amount)
		senders[i].amount = senders[i].amount.Sub(amount)
		receivers[j].amount = receivers[j].amount.Sub(amount)
		if senders[i].amount.IsZero() {
			i++
		}
		if receivers[j].amount.IsZero() {
			j++
		}
	}
}

// nativeTransfers pairs lamport decreases with increases. The fee is taken out of
// the payer's change first so it does not appear as a transfer.
func nativeTransfers(keys []solana.PublicKey, meta *rpc.TransactionMeta) []classify.NativeTransfer {
	var senders, receivers []leg
	for i, key := range keys {
		if i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			break
		}
		change := int64(meta.PostBalances[i]) - int64(meta.PreBalances[i])
		if i == 0 {
			change += int64(meta.Fee)
		}
		switch {
		case change < 0:
			senders = append(senders, leg{account: key.String(), amount: decimal.NewFromInt(-change)})
		case change > 0:
			receivers = append(receivers, leg{account: key.String(), amount: decimal.NewFromInt(change)})
		}
	}

	out := []classify.NativeTransfer{}
	pair(senders, receivers, func(from, to leg, amount decimal.Decimal) {
		out = append(out, classify.NativeTransfer{
			FromUserAccount: from.account,
			ToUserAccount:   to.account,
			Amount:          amount.IntPart(),
		})
	})
	return out
}

// tokenTransfers pairs token decreases with increases of the same mint, in order
// of first appearance of each mint.
func tokenTransfers(deltas []tokenDelta) []classify.TokenTransfer {
	var mints []string
	senders := make(map[string][]leg)
	receivers := make(map[string][]leg)
	owners := make(map[string]string)

	for _, d := range deltas {
		if _, seen := senders[d.mint]; !seen {
			if _, seen := receivers[d.mint]; !seen {
				mints = append(mints, d.mint)
			}
		}
		owners[d.account] = d.owner
		l := leg{account: d.account, token: d.mint, decimals: d.decimals}
		if d.amount.IsNegative() {
			l.amount = d.amount.Neg()
			senders[d.mint] = append(senders[d.mint], l)
		} else {
			l.amount = d.amount
			receivers[d.mint] = append(receivers[d.mint], l)
		}
	}

	out := []classify.TokenTransfer{}
	for _, mint := range mints {
		pair(senders[mint], receivers[mint], func(from, to leg, amount decimal.Decimal) {
			out = append(out, classify.TokenTransfer{
				FromUserAccount:  owners[from.account],
				ToUserAccount:    owners[to.account],
				FromTokenAccount: from.account,
				ToTokenAccount:   to.account,
				Mint:             mint,
				TokenAmount:      amount.Shift(-int32(to.decimals)),
			})
		})
	}
	return out
}

func tokenMeta(meta *rpc.TransactionMeta) *classify.TransactionMeta {
	convert := func(balances []rpc.TokenBalance) []classify.TokenBalance {
		out := make([]classify.TokenBalance, 0, len(balances))
		for _, b := range balances {
			tb := classify.TokenBalance{AccountIndex: int(b.AccountIndex), Mint: b.Mint.String()}
			if b.Owner != nil {
				tb.Owner = b.Owner.String()
			}
			out = append(out, tb)
		}
		return out
	}
	return &classify.TransactionMeta{
		PreTokenBalances:  convert(meta.PreTokenBalances),
		PostTokenBalances: convert(meta.PostTokenBalances),
	}
}
