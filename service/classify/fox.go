package classify

import "github.com/shopspring/decimal"

// Famous Fox Federation lending transactions have a fixed leg layout. The positions
// below are the contract; transactions with extra legs in between are not guarded.
const (
	borrowFoxTransferLeg = 0
	borrowFoxBurnLeg     = 1

	loanFoxBorrowerIndex = 0
	loanFoxFrozenIndex   = 8
)

// parseBorrowFox reads token transfer 0 as the FOXY transfer and token transfer 1 as
// the FOXY burn. Further transfers are ignored.
func parseBorrowFox(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	tx := e.base(raw)
	if raw.TokenTransfers == nil {
		return tx, nil
	}

	tx.PrimaryUser = firstTokenSender(raw)
	for i, t := range raw.TokenTransfers {
		switch i {
		case borrowFoxTransferLeg:
			switch {
			case viewer == "":
				tx.Actions = append(tx.Actions, movement(ActionTransfer, t.FromUserAccount, t.ToUserAccount, t.Mint, t.TokenAmount))
			case t.FromUserAccount == viewer:
				tx.Actions = append(tx.Actions, movement(ActionTransferSent, t.FromUserAccount, t.ToUserAccount, t.Mint, t.TokenAmount))
			default:
				tx.Actions = append(tx.Actions, Action{
					ActionType: ActionTransferReceived,
					From:       t.FromUserAccount,
					To:         t.ToUserAccount,
					Received:   t.Mint,
					Amount:     t.TokenAmount,
				})
			}
		case borrowFoxBurnLeg:
			tx.Actions = append(tx.Actions, movement(ActionBurn, t.FromUserAccount, t.ToUserAccount, t.Mint, t.TokenAmount))
		}
	}
	tx.Accounts = e.ledger(raw)
	return tx, nil
}

// parseLoanFox reports the NFT account frozen as loan collateral. The borrower is the
// first account, the frozen account the ninth.
func parseLoanFox(e env, raw *RawTransaction, viewer string) (Transaction, error) {
	tx := e.base(raw)
	if raw.AccountData == nil {
		return tx, nil
	}

	if len(raw.AccountData) > loanFoxBorrowerIndex {
		tx.PrimaryUser = raw.AccountData[loanFoxBorrowerIndex].Account
	}
	var frozen string
	if len(raw.AccountData) > loanFoxFrozenIndex {
		frozen = raw.AccountData[loanFoxFrozenIndex].Account
	}
	tx.Actions = append(tx.Actions, Action{
		ActionType: ActionFreeze,
		From:       tx.PrimaryUser,
		Sent:       frozen,
		Amount:     decimal.Zero,
	})
	tx.Accounts = e.ledger(raw)
	return tx, nil
}
