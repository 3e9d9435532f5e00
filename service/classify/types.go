package classify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// TransactionType is the declared classification tag of a transaction. Parsers are
// registered against these tags; unregistered tags fall back to UNKNOWN handling.
type TransactionType string

const (
	TypeUnknown               TransactionType = "UNKNOWN"
	TypeTransfer              TransactionType = "TRANSFER"
	TypeSwap                  TransactionType = "SWAP"
	TypeTokenMint             TransactionType = "TOKEN_MINT"
	TypeBurn                  TransactionType = "BURN"
	TypeBurnNFT               TransactionType = "BURN_NFT"
	TypeExecuteTransaction    TransactionType = "EXECUTE_TRANSACTION"
	TypeNFTSale               TransactionType = "NFT_SALE"
	TypeNFTBuy                TransactionType = "NFT_BUY"
	TypeNFTSell               TransactionType = "NFT_SELL"
	TypeNFTListing            TransactionType = "NFT_LISTING"
	TypeNFTCancelListing      TransactionType = "NFT_CANCEL_LISTING"
	TypeNFTBid                TransactionType = "NFT_BID"
	TypeNFTBidCancelled       TransactionType = "NFT_BID_CANCELLED"
	TypeNFTGlobalBid          TransactionType = "NFT_GLOBAL_BID"
	TypeNFTMint               TransactionType = "NFT_MINT"
	TypeCompressedNFTMint     TransactionType = "COMPRESSED_NFT_MINT"
	TypeCompressedNFTTransfer TransactionType = "COMPRESSED_NFT_TRANSFER"
	TypeCompressedNFTBurn     TransactionType = "COMPRESSED_NFT_BURN"
	TypeBorrowFox             TransactionType = "BORROW_FOX"
	TypeLoanFox               TransactionType = "LOAN_FOX"
	TypeXNFTInstall           TransactionType = "XNFT_INSTALL"
	TypeXNFTUninstall         TransactionType = "XNFT_UNINSTALL"
)

// ActionType is the kind of a normalized action.
type ActionType string

const (
	ActionSent             ActionType = "SENT"
	ActionReceived         ActionType = "RECEIVED"
	ActionTransfer         ActionType = "TRANSFER"
	ActionTransferSent     ActionType = "TRANSFER_SENT"
	ActionTransferReceived ActionType = "TRANSFER_RECEIVED"
	ActionSwap             ActionType = "SWAP"
	ActionSwapSent         ActionType = "SWAP_SENT"
	ActionSwapReceived     ActionType = "SWAP_RECEIVED"
	ActionUnknown          ActionType = "UNKNOWN"
	ActionAirdrop          ActionType = "AIRDROP"
	ActionBurn             ActionType = "BURN"
	ActionBurnNFT          ActionType = "BURN_NFT"
	ActionFreeze           ActionType = "FREEZE"
	ActionTokenMint        ActionType = "TOKEN_MINT"
	ActionNFTSale          ActionType = "NFT_SALE"
	ActionNFTBuy           ActionType = "NFT_BUY"
	ActionNFTSell          ActionType = "NFT_SELL"
	ActionNFTListing       ActionType = "NFT_LISTING"
	ActionNFTCancelListing ActionType = "NFT_CANCEL_LISTING"
	ActionNFTBid           ActionType = "NFT_BID"
	ActionNFTBidCancelled  ActionType = "NFT_BID_CANCELLED"
	ActionNFTGlobalBid     ActionType = "NFT_GLOBAL_BID"
	ActionNFTMint          ActionType = "NFT_MINT"
	ActionBorrowFox        ActionType = "BORROW_FOX"
	ActionLoanFox          ActionType = "LOAN_FOX"
	ActionExecute          ActionType = "EXECUTE_TRANSACTION"
	ActionXNFTInstall      ActionType = "XNFT_INSTALL"
	ActionXNFTUninstall    ActionType = "XNFT_UNINSTALL"
	ActionCNFTMint         ActionType = "COMPRESSED_NFT_MINT"
	ActionCNFTTransfer     ActionType = "COMPRESSED_NFT_TRANSFER"
	ActionCNFTBurn         ActionType = "COMPRESSED_NFT_BURN"
	ActionCNFTMetadata     ActionType = "COMPRESSED_NFT_UPDATE_METADATA"
)

// Lending, staking and marketplace tags that chain enrichment emits but that have no
// dedicated parser. They are classified through the unknown path.
const (
	ActionLoan         ActionType = "LOAN"
	ActionRepayLoan    ActionType = "REPAY_LOAN"
	ActionOfferLoan    ActionType = "OFFER_LOAN"
	ActionRescindLoan  ActionType = "RESCIND_LOAN"
	ActionClaimNFT     ActionType = "CLAIM_NFT"
	ActionStakeSOL     ActionType = "STAKE_SOL"
	ActionUnstakeSOL   ActionType = "UNSTAKE_SOL"
	ActionStakeToken   ActionType = "STAKE_TOKEN"
	ActionUnstakeToken ActionType = "UNSTAKE_TOKEN"
	ActionAddLiquidity ActionType = "ADD_LIQUIDITY"
	ActionWithdraw     ActionType = "WITHDRAW_LIQUIDITY"
	ActionCloseAccount ActionType = "CLOSE_ACCOUNT"
	ActionCreateStore  ActionType = "CREATE_STORE"
)

// CustomActionLabels are display names for action types whose tag does not read
// well on its own.
var CustomActionLabels = map[ActionType]string{
	ActionAirdrop:       "Airdropped",
	ActionBurn:          "Burned",
	ActionBurnNFT:       "Burned NFT",
	ActionCNFTBurn:      "Burned NFT",
	ActionFreeze:        "Frozen",
	ActionXNFTInstall:   "xNFT Install",
	ActionXNFTUninstall: "xNFT Uninstall",
}

// Label returns the display name for the action type.
func (t ActionType) Label() string {
	if l, ok := CustomActionLabels[t]; ok {
		return l
	}
	return string(t)
}

// RawTransaction is a chain-enriched transaction as produced by an enrichment
// provider. Nil slices and nil pointers mean "no evidence", never an error.
type RawTransaction struct {
	Signature        string            `json:"signature"`
	Timestamp        int64             `json:"timestamp"`
	Slot             uint64            `json:"slot,omitempty"`
	Fee              int64             `json:"fee"`
	FeePayer         string            `json:"feePayer,omitempty"`
	Type             TransactionType   `json:"type"`
	Source           string            `json:"source"`
	Description      string            `json:"description,omitempty"`
	NativeTransfers  []NativeTransfer  `json:"nativeTransfers"`
	TokenTransfers   []TokenTransfer   `json:"tokenTransfers"`
	AccountData      []AccountData     `json:"accountData"`
	Instructions     []Instruction     `json:"instructions,omitempty"`
	Events           Events            `json:"events"`
	TransactionError *TransactionError `json:"transactionError,omitempty"`
	Meta             *TransactionMeta  `json:"meta,omitempty"`
}

// NativeTransfer moves lamports between two wallets.
type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"`
}

// TokenTransfer moves an SPL token between two wallets. TokenAmount is already in
// UI units (decimals applied).
type TokenTransfer struct {
	FromUserAccount  string          `json:"fromUserAccount"`
	ToUserAccount    string          `json:"toUserAccount"`
	FromTokenAccount string          `json:"fromTokenAccount,omitempty"`
	ToTokenAccount   string          `json:"toTokenAccount,omitempty"`
	Mint             string          `json:"mint"`
	TokenAmount      decimal.Decimal `json:"tokenAmount"`
	TokenStandard    string          `json:"tokenStandard,omitempty"`
}

// AccountData is the per-account balance delta record.
type AccountData struct {
	Account             string               `json:"account"`
	NativeBalanceChange int64                `json:"nativeBalanceChange"`
	TokenBalanceChanges []TokenBalanceChange `json:"tokenBalanceChanges"`
}

// TokenBalanceChange is a token delta on one token account owned by UserAccount.
type TokenBalanceChange struct {
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	Mint           string         `json:"mint"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

// RawTokenAmount is an integer token amount in base units, as a string, plus the
// mint's decimals.
type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int    `json:"decimals"`
}

// Instruction is a top-level or inner instruction. Parsed carries the provider's
// decoded instruction body when one is available (an object with "type" and
// "info"); it is kept raw because providers disagree on its shape.
type Instruction struct {
	ProgramID         string          `json:"programId"`
	Accounts          []string        `json:"accounts"`
	Data              string          `json:"data,omitempty"`
	Parsed            json.RawMessage `json:"parsed,omitempty"`
	InnerInstructions []Instruction   `json:"innerInstructions,omitempty"`
}

// ParsedInstruction is the decoded form of Instruction.Parsed.
type ParsedInstruction struct {
	Type string          `json:"type"`
	Info json.RawMessage `json:"info"`
}

// ParsedBody decodes Parsed. It returns false when the instruction has no decoded
// body or the body is not an object.
func (i Instruction) ParsedBody() (ParsedInstruction, bool) {
	var p ParsedInstruction
	if len(i.Parsed) == 0 || i.Parsed[0] != '{' {
		return p, false
	}
	if err := json.Unmarshal(i.Parsed, &p); err != nil {
		return p, false
	}
	return p, true
}

// Events groups the protocol events attached by the enrichment provider.
type Events struct {
	NFT        *NFTEvent        `json:"nft,omitempty"`
	Compressed CompressedEvents `json:"compressed,omitempty"`
}

// NFTEvent describes a marketplace or mint event. Amount is in lamports.
type NFTEvent struct {
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"`
	Source      string   `json:"source"`
	Amount      int64    `json:"amount"`
	Fee         int64    `json:"fee,omitempty"`
	FeePayer    string   `json:"feePayer,omitempty"`
	Signature   string   `json:"signature"`
	Slot        uint64   `json:"slot,omitempty"`
	Timestamp   int64    `json:"timestamp"`
	SaleType    string   `json:"saleType,omitempty"`
	Buyer       string   `json:"buyer"`
	Seller      string   `json:"seller"`
	Staker      string   `json:"staker,omitempty"`
	NFTs        []NFTRef `json:"nfts"`
}

// NFTRef identifies one NFT touched by an event.
type NFTRef struct {
	Mint          string `json:"mint"`
	TokenStandard string `json:"tokenStandard,omitempty"`
}

// FirstMint returns the mint of the first NFT in the event, or "".
func (e *NFTEvent) FirstMint() string {
	if e == nil || len(e.NFTs) == 0 {
		return ""
	}
	return e.NFTs[0].Mint
}

// CompressedEvent describes a state change of a compressed NFT leaf.
type CompressedEvent struct {
	Type                  string `json:"type"`
	TreeID                string `json:"treeId,omitempty"`
	AssetID               string `json:"assetId"`
	LeafIndex             int64  `json:"leafIndex,omitempty"`
	InstructionIndex      int    `json:"instructionIndex,omitempty"`
	InnerInstructionIndex int    `json:"innerInstructionIndex,omitempty"`
	NewLeafOwner          string `json:"newLeafOwner"`
	OldLeafOwner          string `json:"oldLeafOwner"`
}

// CompressedEvents is always a slice in Go. Providers emit either a single object or
// an array; both decode here.
type CompressedEvents []CompressedEvent

// UnmarshalJSON accepts null, a single event object or an array of events.
func (c *CompressedEvents) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	switch data[0] {
	case '[':
		var events []CompressedEvent
		if err := json.Unmarshal(data, &events); err != nil {
			return fmt.Errorf("decode compressed events: %w", err)
		}
		*c = events
	case '{':
		var event CompressedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("decode compressed event: %w", err)
		}
		*c = CompressedEvents{event}
	default:
		return fmt.Errorf("decode compressed events: unexpected token %q", data[0])
	}
	return nil
}

// TransactionError carries the on-chain failure, if any.
type TransactionError struct {
	Error string `json:"error"`
}

// TransactionMeta holds RPC-level balance snapshots used by custom type inference.
type TransactionMeta struct {
	PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance `json:"postTokenBalances"`
}

// TokenBalance is a token account snapshot keyed by its index in the account keys.
type TokenBalance struct {
	AccountIndex int    `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner,omitempty"`
}

// Action is one normalized value movement. Exactly one of Sent or Received is set for
// directional actions; an empty string means "no party" or "no asset".
type Action struct {
	ActionType ActionType      `json:"action_type"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Sent       string          `json:"sent,omitempty"`
	Received   string          `json:"received,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
}

// LedgerChange is the net change of one asset on one account.
type LedgerChange struct {
	Mint   string          `json:"mint"`
	Amount decimal.Decimal `json:"amount"`
}

// LedgerEntry is the net change per asset on one account, plus its display label.
type LedgerEntry struct {
	Account string         `json:"account"`
	Changes []LedgerChange `json:"changes"`
	Label   string         `json:"label,omitempty"`
}

// Transaction is the canonical, classified form of a raw transaction.
type Transaction struct {
	Type        TransactionType `json:"type"`
	CustomType  CustomType      `json:"custom_type,omitempty"`
	PrimaryUser string          `json:"primary_user"`
	Fee         decimal.Decimal `json:"fee"`
	Signature   string          `json:"signature"`
	Timestamp   int64           `json:"timestamp"`
	Source      string          `json:"source"`
	Actions     []Action        `json:"actions"`
	Accounts    []LedgerEntry   `json:"accounts"`
}
