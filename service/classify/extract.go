package classify

import "github.com/shopspring/decimal"

// perspective returns the viewer-relative action type for a movement from -> to.
// With no viewer, or a viewer that is on neither side, the movement is a neutral
// TRANSFER.
func perspective(from, to, viewer string) ActionType {
	switch {
	case viewer == "":
		return ActionTransfer
	case from == viewer:
		return ActionSent
	case to == viewer:
		return ActionReceived
	default:
		return ActionTransfer
	}
}

// movement builds a directional action. Incoming movements carry the asset in
// Received, every other kind carries it in Sent.
func movement(actionType ActionType, from, to, asset string, amount decimal.Decimal) Action {
	a := Action{ActionType: actionType, From: from, To: to, Amount: amount}
	if actionType == ActionReceived {
		a.Received = asset
	} else {
		a.Sent = asset
	}
	return a
}

// ExtractTokenTransfers turns token transfers into actions relative to viewer.
func ExtractTokenTransfers(transfers []TokenTransfer, viewer string) []Action {
	actions := make([]Action, 0, len(transfers))
	for _, t := range transfers {
		kind := perspective(t.FromUserAccount, t.ToUserAccount, viewer)
		actions = append(actions, movement(kind, t.FromUserAccount, t.ToUserAccount, t.Mint, t.TokenAmount))
	}
	return actions
}

// ExtractNativeTransfers turns native transfers into actions relative to viewer,
// dropping rent-sized transfers.
func ExtractNativeTransfers(transfers []NativeTransfer, viewer string, opts Options) []Action {
	opts = opts.withDefaults()
	actions := make([]Action, 0, len(transfers))
	for _, t := range transfers {
		if opts.IsRentTransfer(t.Amount) {
			continue
		}
		kind := perspective(t.FromUserAccount, t.ToUserAccount, viewer)
		actions = append(actions, movement(kind, t.FromUserAccount, t.ToUserAccount, opts.NativeMint, opts.ToNative(t.Amount)))
	}
	return actions
}
