package classify

import "github.com/shopspring/decimal"

const (
	// NativeMint is the identifier used for the native asset in actions and ledgers.
	NativeMint = "So11111111111111111111111111111111111111112"

	// LamportsPerSOL is the number of base units in one native unit.
	LamportsPerSOL = 1_000_000_000

	// DefaultRentThreshold is the largest lamport transfer treated as account-rent
	// noise on mainnet. Transfers at or below it are dropped from actions.
	DefaultRentThreshold = 4_120_320
)

// Options tune the chain-specific constants used during classification.
type Options struct {
	// BaseUnitsPerNative converts lamports to native units. Zero means LamportsPerSOL.
	BaseUnitsPerNative int64
	// RentThreshold in lamports. Negative disables rent filtering; zero means
	// DefaultRentThreshold.
	RentThreshold int64
	// NativeMint overrides the native asset identifier. Empty means NativeMint.
	NativeMint string
}

// DefaultOptions returns mainnet defaults.
func DefaultOptions() Options {
	return Options{
		BaseUnitsPerNative: LamportsPerSOL,
		RentThreshold:      DefaultRentThreshold,
		NativeMint:         NativeMint,
	}
}

func (o Options) withDefaults() Options {
	if o.BaseUnitsPerNative <= 0 {
		o.BaseUnitsPerNative = LamportsPerSOL
	}
	if o.RentThreshold == 0 {
		o.RentThreshold = DefaultRentThreshold
	}
	if o.NativeMint == "" {
		o.NativeMint = NativeMint
	}
	return o
}

// ToNative converts a lamport amount to native units without rounding.
func (o Options) ToNative(lamports int64) decimal.Decimal {
	o = o.withDefaults()
	return decimal.NewFromInt(lamports).Div(decimal.NewFromInt(o.BaseUnitsPerNative))
}

// IsRentTransfer reports whether a lamport amount is rent-exemption noise.
func (o Options) IsRentTransfer(lamports int64) bool {
	o = o.withDefaults()
	if o.RentThreshold < 0 {
		return false
	}
	return lamports <= o.RentThreshold
}
