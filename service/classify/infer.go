package classify

import "encoding/json"

// CustomType is a classification inferred from instructions alone, independent of the
// declared type. It is informative and never changes which parser runs.
type CustomType string

const (
	CustomUnknown       CustomType = "UNKNOWN"
	CustomTransfer      CustomType = "TRANSFER"
	CustomTokenTransfer CustomType = "TOKEN_TRANSFER"
	CustomNFTTransfer   CustomType = "NFT_TRANSFER"
	CustomSwap          CustomType = "SWAP"
	CustomTokenAirdrop  CustomType = "TOKEN_AIRDROP"
)

// ActionType maps an inferred type to the action type used to display it.
func (c CustomType) ActionType() ActionType {
	switch c {
	case CustomTransfer, CustomTokenTransfer:
		return ActionTransfer
	case CustomNFTTransfer:
		return ActionCNFTTransfer
	case CustomSwap:
		return ActionSwap
	case CustomTokenAirdrop:
		return ActionAirdrop
	default:
		return ActionUnknown
	}
}

// InferCustomType classifies raw by its top-level instructions. Checks run in order:
// token airdrop, single system transfer, NFT transfer, swap.
func InferCustomType(raw *RawTransaction) CustomType {
	ix := raw.Instructions
	switch {
	case isTokenAirdrop(raw):
		return CustomTokenAirdrop
	case len(ix) == 1 && ix[0].ProgramID == SystemProgram && parsedType(ix[0]) == "transfer":
		return CustomTransfer
	case hasNFTTransferChecked(ix):
		return CustomNFTTransfer
	case len(ix) > 2 && hasProgram(ix, SwapProgram):
		return CustomSwap
	default:
		return CustomUnknown
	}
}

func parsedType(ix Instruction) string {
	p, ok := ix.ParsedBody()
	if !ok {
		return ""
	}
	return p.Type
}

func hasProgram(ixs []Instruction, programID string) bool {
	for _, ix := range ixs {
		if ix.ProgramID == programID {
			return true
		}
	}
	return false
}

// isTokenAirdrop: an associated token account is created and tokens are transferred
// into an account that did not exist before the transaction.
func isTokenAirdrop(raw *RawTransaction) bool {
	if !hasProgram(raw.Instructions, ATAProgram) {
		return false
	}

	hasTransfer := false
	for _, ix := range raw.Instructions {
		if ix.ProgramID == TokenProgram && parsedType(ix) == "transfer" {
			hasTransfer = true
			break
		}
	}
	if !hasTransfer || raw.Meta == nil {
		return false
	}

	pre := make(map[int]struct{}, len(raw.Meta.PreTokenBalances))
	for _, b := range raw.Meta.PreTokenBalances {
		pre[b.AccountIndex] = struct{}{}
	}
	for _, b := range raw.Meta.PostTokenBalances {
		if _, existed := pre[b.AccountIndex]; !existed {
			return true
		}
	}
	return false
}

type transferCheckedInfo struct {
	TokenAmount *struct {
		UIAmount *float64 `json:"uiAmount"`
	} `json:"tokenAmount"`
}

// hasNFTTransferChecked finds a transferChecked of exactly one whole token.
func hasNFTTransferChecked(ixs []Instruction) bool {
	for _, ix := range ixs {
		if ix.ProgramID != TokenProgram {
			continue
		}
		p, ok := ix.ParsedBody()
		if !ok || p.Type != "transferChecked" {
			continue
		}
		var info transferCheckedInfo
		if err := json.Unmarshal(p.Info, &info); err != nil {
			continue
		}
		if info.TokenAmount != nil && info.TokenAmount.UIAmount != nil && *info.TokenAmount.UIAmount == 1 {
			return true
		}
	}
	return false
}
