package classify

// Compressed NFTs live as Merkle-tree leaves, so their events describe leaf owner
// transitions instead of token balances. All three parsers take the fee, signature,
// timestamp and source from the outer transaction and attribute it to the fee payer.

func (e env) compressedTransaction(raw *RawTransaction, actions []Action) Transaction {
	tx := e.base(raw)
	tx.PrimaryUser = raw.FeePayer
	tx.Actions = actions
	tx.Accounts = e.ledger(raw)
	return tx
}

// parseCompressedNFTMint reports each minted leaf. The new owner sees an airdrop;
// anyone else, including no viewer, sees a neutral transfer to the new owner.
func parseCompressedNFTMint(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	actions := make([]Action, 0, len(raw.Events.Compressed))
	for _, ev := range raw.Events.Compressed {
		if viewer != "" && viewer == ev.NewLeafOwner {
			actions = append(actions, Action{ActionType: ActionAirdrop, To: ev.NewLeafOwner, Received: ev.AssetID, Amount: one})
			continue
		}
		actions = append(actions, Action{ActionType: ActionTransfer, To: ev.NewLeafOwner, Sent: ev.AssetID, Amount: one})
	}
	return e.compressedTransaction(raw, actions), nil
}

// parseCompressedNFTTransfer reports each leaf owner change relative to the viewer.
func parseCompressedNFTTransfer(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	actions := make([]Action, 0, len(raw.Events.Compressed))
	for _, ev := range raw.Events.Compressed {
		a := Action{From: ev.OldLeafOwner, To: ev.NewLeafOwner, Amount: one}
		switch {
		case viewer != "" && viewer == ev.OldLeafOwner:
			a.ActionType = ActionTransferSent
			a.Sent = ev.AssetID
		case viewer != "" && viewer == ev.NewLeafOwner:
			a.ActionType = ActionTransferReceived
			a.Received = ev.AssetID
		default:
			a.ActionType = ActionTransfer
			a.Sent = ev.AssetID
		}
		actions = append(actions, a)
	}
	return e.compressedTransaction(raw, actions), nil
}

// parseCompressedNFTBurn types each leaf event by its own tag because one burn
// instruction can also emit mint and transfer events for other leaves.
func parseCompressedNFTBurn(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	actions := make([]Action, 0, len(raw.Events.Compressed))
	for _, ev := range raw.Events.Compressed {
		switch TransactionType(ev.Type) {
		case TypeCompressedNFTBurn:
			actions = append(actions, Action{ActionType: ActionBurnNFT, From: ev.OldLeafOwner, Sent: ev.AssetID, Amount: one})
		case TypeCompressedNFTMint:
			actions = append(actions, Action{ActionType: ActionCNFTMint, To: ev.NewLeafOwner, Sent: ev.AssetID, Amount: one})
		default:
			actions = append(actions, Action{ActionType: ActionCNFTTransfer, From: ev.OldLeafOwner, To: ev.NewLeafOwner, Sent: ev.AssetID, Amount: one})
		}
	}
	return e.compressedTransaction(raw, actions), nil
}
