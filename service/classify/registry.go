package classify

import "slices"

// registry maps declared types to their parsers. It is fixed at compile time; types
// that are not listed are handled by parseUnknown.
var registry = map[TransactionType]parserFunc{
	TypeBorrowFox:             parseBorrowFox,
	TypeBurn:                  parseBurn,
	TypeBurnNFT:               parseBurn,
	TypeCompressedNFTBurn:     parseCompressedNFTBurn,
	TypeCompressedNFTMint:     parseCompressedNFTMint,
	TypeCompressedNFTTransfer: parseCompressedNFTTransfer,
	TypeExecuteTransaction:    parseTransfer,
	TypeLoanFox:               parseLoanFox,
	TypeNFTBid:                parseNFTBid,
	TypeNFTBidCancelled:       parseNFTCancelBid,
	TypeNFTCancelListing:      parseNFTCancelListing,
	TypeNFTGlobalBid:          parseNFTGlobalBid,
	TypeNFTListing:            parseNFTListing,
	TypeNFTMint:               parseNFTMint,
	TypeNFTSale:               parseNFTSale,
	TypeSwap:                  parseSwap,
	TypeTokenMint:             parseTokenMint,
	TypeTransfer:              parseTransfer,
	TypeUnknown:               parseUnknown,
}

// lookupParser returns the parser for t and whether t has a dedicated parser.
func lookupParser(t TransactionType) (parserFunc, bool) {
	p, ok := registry[t]
	if !ok {
		return parseUnknown, false
	}
	return p, true
}

// SupportedTypes lists every declared type with a dedicated parser.
func SupportedTypes() []TransactionType {
	types := make([]TransactionType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
