package classify

// Marketplace sources whose mints are priced by the native transfers rather than the
// event amount.
const splMintSource = "SOLANA_PROGRAM_LIBRARY"

// nftTransaction builds the canonical form of an event-driven NFT transaction.
// Signature, source and timestamp come from the event, which may describe a batch
// of underlying transactions; the fee is the outer transaction's.
func (e env) nftTransaction(raw *RawTransaction, event *NFTEvent, txType TransactionType, primaryUser string, actions []Action) Transaction {
	return Transaction{
		Type:        txType,
		PrimaryUser: primaryUser,
		Fee:         e.opts.ToNative(raw.Fee),
		Signature:   event.Signature,
		Timestamp:   event.Timestamp,
		Source:      event.Source,
		Actions:     actions,
		Accounts:    e.ledger(raw),
	}
}

func parseNFTSale(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	event := raw.Events.NFT
	if event == nil {
		return e.base(raw), nil
	}

	price := e.opts.ToNative(event.Amount)
	mint := event.FirstMint()
	sol := e.opts.withDefaults().NativeMint

	switch {
	case viewer != "" && viewer == event.Buyer:
		return e.nftTransaction(raw, event, TypeNFTBuy, event.Buyer, []Action{
			{ActionType: ActionSent, From: event.Buyer, To: event.Seller, Sent: sol, Amount: price},
			{ActionType: ActionReceived, From: event.Seller, To: event.Buyer, Received: mint, Amount: one},
		}), nil
	case viewer != "" && viewer == event.Seller:
		return e.nftTransaction(raw, event, TypeNFTSell, event.Seller, []Action{
			{ActionType: ActionSent, From: event.Seller, To: event.Buyer, Sent: mint, Amount: one},
			{ActionType: ActionReceived, From: event.Buyer, To: event.Seller, Received: sol, Amount: price},
		}), nil
	default:
		return e.nftTransaction(raw, event, raw.Type, event.Seller, []Action{
			{ActionType: ActionTransfer, From: event.Buyer, To: event.Seller, Sent: sol, Amount: price},
			{ActionType: ActionTransfer, From: event.Seller, To: event.Buyer, Received: mint, Amount: one},
		}), nil
	}
}

// Listings and their cancellations move the NFT out of the seller's hands at the
// listed price.
func parseNFTListing(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	return e.sellerSideEvent(raw, ActionNFTListing)
}

func parseNFTCancelListing(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	return e.sellerSideEvent(raw, ActionNFTCancelListing)
}

func (e env) sellerSideEvent(raw *RawTransaction, actionType ActionType) (Transaction, error) {
	event := raw.Events.NFT
	if event == nil {
		return e.base(raw), nil
	}
	return e.nftTransaction(raw, event, raw.Type, event.Seller, []Action{{
		ActionType: actionType,
		From:       event.Seller,
		Sent:       event.FirstMint(),
		Amount:     e.opts.ToNative(event.Amount),
	}}), nil
}

// Bids and their cancellations are addressed to the bidder. The seller stays the
// primary user because the NFT is theirs.
func parseNFTBid(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	return e.bidEvent(raw, ActionNFTBid)
}

func parseNFTCancelBid(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	return e.bidEvent(raw, ActionNFTBidCancelled)
}

func (e env) bidEvent(raw *RawTransaction, actionType ActionType) (Transaction, error) {
	event := raw.Events.NFT
	if event == nil {
		return e.base(raw), nil
	}
	return e.nftTransaction(raw, event, raw.Type, event.Seller, []Action{{
		ActionType: actionType,
		To:         event.Buyer,
		Sent:       event.FirstMint(),
		Amount:     e.opts.ToNative(event.Amount),
	}}), nil
}

// parseNFTGlobalBid is a collection-wide bid: SOL committed by the buyer with no
// specific NFT or counterparty.
func parseNFTGlobalBid(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	event := raw.Events.NFT
	if event == nil {
		return e.base(raw), nil
	}
	return e.nftTransaction(raw, event, raw.Type, event.Buyer, []Action{{
		ActionType: ActionNFTGlobalBid,
		From:       event.Buyer,
		Sent:       e.opts.withDefaults().NativeMint,
		Amount:     e.opts.ToNative(event.Amount),
	}}), nil
}

// parseNFTMint reports the mint price paid by the buyer and the NFT they received.
// A viewer other than the buyer sees the NFT arrive as an airdrop.
func parseNFTMint(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	event := raw.Events.NFT
	if event == nil || raw.NativeTransfers == nil {
		return e.base(raw), nil
	}

	price := e.opts.ToNative(event.Amount)
	if raw.Source == splMintSource {
		var lamports int64
		for _, t := range raw.NativeTransfers {
			lamports += t.Amount
		}
		price = e.opts.ToNative(lamports)
	}
	mint := event.FirstMint()
	sol := e.opts.withDefaults().NativeMint

	var actions []Action
	switch {
	case viewer == "":
		actions = []Action{
			{ActionType: ActionTransfer, From: event.Buyer, Sent: sol, Amount: price},
			{ActionType: ActionTransfer, To: event.Buyer, Received: mint, Amount: one},
		}
	case viewer != event.Buyer:
		actions = []Action{
			{ActionType: ActionAirdrop, To: event.Buyer, Received: mint, Amount: one},
		}
	default:
		actions = []Action{
			{ActionType: ActionSent, From: event.Buyer, Sent: sol, Amount: price},
			{ActionType: ActionReceived, To: event.Buyer, Received: mint, Amount: one},
		}
	}
	return e.nftTransaction(raw, event, raw.Type, event.Buyer, actions), nil
}
