package classify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProgramInfo describes a well-known address.
type ProgramInfo struct {
	Name     string `yaml:"name" json:"name"`
	Category string `yaml:"category" json:"category"`
}

// Labels maps well-known addresses to display names. A Labels value is never
// modified after construction and is safe to share between goroutines.
type Labels struct {
	byAddress map[string]ProgramInfo
}

// Lookup returns the display name for address, or "" when it is not known.
func (l *Labels) Lookup(address string) string {
	if l == nil {
		return ""
	}
	return l.byAddress[address].Name
}

// Info returns the full program info for address.
func (l *Labels) Info(address string) (ProgramInfo, bool) {
	if l == nil {
		return ProgramInfo{}, false
	}
	info, ok := l.byAddress[address]
	return info, ok
}

// Len returns the number of labelled addresses.
func (l *Labels) Len() int {
	if l == nil {
		return 0
	}
	return len(l.byAddress)
}

// All returns a copy of the table.
func (l *Labels) All() map[string]ProgramInfo {
	out := make(map[string]ProgramInfo, l.Len())
	if l == nil {
		return out
	}
	for k, v := range l.byAddress {
		out[k] = v
	}
	return out
}

// NewLabels builds a table from entries. The map is copied.
func NewLabels(entries map[string]ProgramInfo) *Labels {
	byAddress := make(map[string]ProgramInfo, len(entries))
	for k, v := range entries {
		byAddress[k] = v
	}
	return &Labels{byAddress: byAddress}
}

// DefaultLabels returns the built-in table of system programs, sysvars, token
// programs, oracles and common DeFi programs.
func DefaultLabels() *Labels {
	return NewLabels(builtinLabels)
}

type labelFile struct {
	Labels []struct {
		Address  string `yaml:"address"`
		Name     string `yaml:"name"`
		Category string `yaml:"category"`
	} `yaml:"labels"`
}

// LoadLabels reads a YAML label file and merges it over the built-in table. Entries in
// the file win over built-in entries for the same address.
//
//	labels:
//	  - address: 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
//	    name: SERUM DEX
//	    category: DEFI
func LoadLabels(path string) (*Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels file: %w", err)
	}
	return ParseLabels(data)
}

// ParseLabels parses YAML label data and merges it over the built-in table.
func ParseLabels(data []byte) (*Labels, error) {
	var f labelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse labels file: %w", err)
	}

	merged := make(map[string]ProgramInfo, len(builtinLabels)+len(f.Labels))
	for k, v := range builtinLabels {
		merged[k] = v
	}
	for i, entry := range f.Labels {
		if entry.Address == "" {
			return nil, fmt.Errorf("labels[%d]: address is required", i)
		}
		if entry.Name == "" {
			return nil, fmt.Errorf("labels[%d] (%s): name is required", i, entry.Address)
		}
		merged[entry.Address] = ProgramInfo{Name: entry.Name, Category: entry.Category}
	}
	return &Labels{byAddress: merged}, nil
}

// Well-known program addresses used by parsers and type inference.
const (
	SystemProgram     = "11111111111111111111111111111111"
	TokenProgram      = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022         = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	ATAProgram        = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	SwapProgram       = "SwaPpA9LAaLfeLi3a68M4DjnLqgtticKg6CnyNwgAC8"
	XNFTProgram       = "xnft5aaToUM4UFETUQfj7NUDUBdvYHTVhNFThEYTm55"
	NiftyAssetProgram = "AssetGtQBTSgm5s91d1RAQod5JmaZiJDxqsgtqrZud73"
)

var builtinLabels = map[string]ProgramInfo{
	"BPFLoaderUpgradeab1e11111111111111111111111":  {Name: "BPF Loader Upgradeable", Category: "SYSTEM"},
	"MoveLdr111111111111111111111111111111111111":  {Name: "Move Loader", Category: "SYSTEM"},
	"NativeLoader1111111111111111111111111111111":  {Name: "Native Loader", Category: "SYSTEM"},
	"1nc1nerator11111111111111111111111111111111":  {Name: "Incinerator", Category: "SYSTEM"},
	"Sysvar1111111111111111111111111111111111111":  {Name: "SYSVAR", Category: "SYSTEM"},
	"Sysvar1nstructions1111111111111111111111111":  {Name: "Sysvar: Instructions", Category: "SYSTEM"},
	"SysvarEpochSchedu1e111111111111111111111111":  {Name: "Sysvar: Epoch Schedule", Category: "SYSTEM"},
	"SysvarFees111111111111111111111111111111111":  {Name: "Sysvar: Fees", Category: "SYSTEM"},
	"SysvarRecentB1ockHashes11111111111111111111":  {Name: "Sysvar: Recent Blockhashes", Category: "SYSTEM"},
	"SysvarS1otHashes111111111111111111111111111":  {Name: "Sysvar: Slot Hashes", Category: "SYSTEM"},
	"SysvarS1otHistory11111111111111111111111111":  {Name: "Sysvar: Slot History", Category: "SYSTEM"},
	"SysvarC1ock11111111111111111111111111111111":  {Name: "Sysvar: Clock", Category: "SYSTEM"},
	"SysvarRent111111111111111111111111111111111":  {Name: "Sysvar: Rent", Category: "SYSTEM"},
	"SysvarStakeHistory1111111111111111111111111":  {Name: "Sysvar: Stake History", Category: "SYSTEM"},
	"SysvarEpochRewards1111111111111111111111111":  {Name: "Sysvar: Epoch Rewards", Category: "SYSTEM"},
	"Stake11111111111111111111111111111111111111":  {Name: "Stake Program", Category: "SYSTEM"},
	"Vote111111111111111111111111111111111111111":  {Name: "Vote Program", Category: "SYSTEM"},
	"KeccakSecp256k11111111111111111111111111111":  {Name: "Secp256k1 Program", Category: "SYSTEM"},
	"Ed25519SigVerify111111111111111111111111111":  {Name: "Ed25519 Program", Category: "SYSTEM"},
	TokenProgram:                                   {Name: "Token Program", Category: "UTILITY"},
	Token2022:                                      {Name: "Token-2022 Program", Category: "UTILITY"},
	ATAProgram:                                     {Name: "Associated Token Account Program", Category: "UTILITY"},
	"metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s":  {Name: "Token Metadata", Category: "NFT"},
	"p1exdMJcjVao65QdewkaZRUnU6VPSXhus9n2GzWfh98":  {Name: "Metaplex", Category: "NFT"},
	"vau1zxA2LbssAUEF7Gpw91zMM1LvXrvpzJtmZ58rPsn":  {Name: "Token Vault", Category: "NFT"},
	"cmtDvXumGCrqC1Age74AVPhSRVXJMd8PJS91L8KbNCK":  {Name: "Account Compression", Category: "SYSTEM"},
	"namesLPneVptA9Z5rqUDD9tMTWEJwofgaYwp8cawRkX":  {Name: "Name Service", Category: "UTILITY"},
	"auctxRXPeJoc4817jDhf4HbjnhEcr1cCXenosMhK5R8":  {Name: "NFT Auction", Category: "NFT"},
	SwapProgram:                                    {Name: "SWAP", Category: "SYSTEM"},
	"AddressLookupTab1e1111111111111111111111111":  {Name: "ADDRESS LOOKUP TABLE", Category: "SYSTEM"},
	"ComputeBudget111111111111111111111111111111":  {Name: "COMPUTE BUDGET", Category: "SYSTEM"},
	"Config1111111111111111111111111111111111111":  {Name: "CONFIG", Category: "SYSTEM"},
	"Feat1YXHhH6t1juaWF74WLcfv4XoNocjXA6sPWHNgAse": {Name: "FEATURE PROPOSAL", Category: "SYSTEM"},
	"Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo":  {Name: "MEMO", Category: "SYSTEM"},
	"MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr":  {Name: "MEMO 2", Category: "SYSTEM"},
	"SPoo1Ku8WFXoNDMHPsrGSTSG1Y47rzgn41SLUNakuHy":  {Name: "STAKE POOL", Category: "SYSTEM"},
	SystemProgram:                                  {Name: "SYSTEM PROGRAM", Category: "SYSTEM"},
	"rec5EKMGg6MxZYaMdyBfgwp4d5rB9T1VQH5pJv5LtFJ":  {Name: "PYTH MAINNET PROGRAM", Category: "ORACLE"},
	"pythWSnswVUd12oZpeFP8e9CVaEqJg25g1Vtc2biRsT":  {Name: "PYTH MAINNET PRICE FEED", Category: "ORACLE"},
	"SBondMDrcV3K4kxZR1HNVT7osZxAHVHgYXL5Ze1oMUv":  {Name: "SWITCHBOARD MAINNET PROGRAM", Category: "ORACLE"},
	"br1xwubggTiEZ6b7iNZUwfA3psygFfaXGfZ1heaN9AW":  {Name: "BRIDGE PROGRAM", Category: "BRIDGE"},
	"DcZMKcjz34CcXF1vx7CkfARZdmEja2Kcwvspu1Zw6Zmn": {Name: "SHARP TRADE", Category: "DEFI"},
	"4UsSbJQZJTfZDFrgvcPBRCSg5BbcQE6dobnriCafzj12": {Name: "LIFINITY", Category: "DEFI"},
	"iNvTyprs4TX8m6UeUEkeqDFjAL9zRCRWcexK9Sd4WEU":  {Name: "INVARIANT LP", Category: "DEFI"},
	"ELexZoFHkSHYiAxw1jtY3se8RVPEjsL4HGqD4mfkMreZ": {Name: "SHARP TRADE INITIATE PARTNER", Category: "DEFI"},
	"PARrVs6F5egaNuz8g6pKJyU4ze3eX5xGZCFb3GLiVvu":  {Name: "HEDGEHOG", Category: "DEFI"},
	NiftyAssetProgram:                              {Name: "Nifty Asset", Category: "NFT"},
	XNFTProgram:                                    {Name: "xNFT", Category: "NFT"},
}
