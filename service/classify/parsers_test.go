package classify

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransfer_Fixture(t *testing.T) {
	raw := loadFixture(t, "transfer.json")
	sender := "Hn7eWLs4xGMvC9mCVqXHY6Ck6aFHxUWG6e1BJ8fZ4k3a"
	receiver := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	tx, err := parseTransfer(testEnv(), raw, "")
	require.NoError(t, err)

	assert.Equal(t, TypeTransfer, tx.Type)
	assert.Equal(t, sender, tx.PrimaryUser)
	assert.Equal(t, raw.Signature, tx.Signature)
	assert.Equal(t, raw.Timestamp, tx.Timestamp)
	assert.Equal(t, "SYSTEM_PROGRAM", tx.Source)
	assertDecimal(t, "0.000005", tx.Fee)

	// The 2039280 lamport rent payment is dropped.
	assertActions(t, []wantAction{
		{Type: ActionTransfer, From: sender, To: receiver, Sent: usdc, Amount: "12.5"},
		{Type: ActionTransfer, From: sender, To: receiver, Sent: NativeMint, Amount: "0.25"},
	}, tx.Actions)

	require.Len(t, tx.Accounts, 2)
	assertDecimal(t, "-0.25204428", changeOf(t, tx.Accounts, sender, NativeMint))
	assertDecimal(t, "-12.5", changeOf(t, tx.Accounts, sender, usdc))
	assertDecimal(t, "0.25203928", changeOf(t, tx.Accounts, receiver, NativeMint))
	assertDecimal(t, "12.5", changeOf(t, tx.Accounts, receiver, usdc))
}

func TestParseTransfer_ReceiverPerspective(t *testing.T) {
	raw := loadFixture(t, "transfer.json")
	sender := "Hn7eWLs4xGMvC9mCVqXHY6Ck6aFHxUWG6e1BJ8fZ4k3a"
	receiver := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	tx, err := parseTransfer(testEnv(), raw, receiver)
	require.NoError(t, err)

	assertActions(t, []wantAction{
		{Type: ActionReceived, From: sender, To: receiver, Received: usdc, Amount: "12.5"},
		{Type: ActionReceived, From: sender, To: receiver, Received: NativeMint, Amount: "0.25"},
	}, tx.Actions)
}

func TestParsers_NoTransferEvidence(t *testing.T) {
	parsers := map[string]parserFunc{
		"transfer":   parseTransfer,
		"swap":       parseSwap,
		"token mint": parseTokenMint,
		"burn":       parseBurn,
		"unknown":    parseUnknown,
	}

	for name, p := range parsers {
		t.Run(name, func(t *testing.T) {
			raw := &RawTransaction{
				Signature:   "sig",
				Timestamp:   1700000000,
				Fee:         5000,
				Type:        TypeTransfer,
				Source:      "SYSTEM_PROGRAM",
				AccountData: []AccountData{{Account: alice, NativeBalanceChange: -5000}},
			}

			tx, err := p(testEnv(), raw, alice)
			require.NoError(t, err)

			assert.Equal(t, TypeTransfer, tx.Type)
			assert.Equal(t, "sig", tx.Signature)
			assert.Equal(t, int64(1700000000), tx.Timestamp)
			assert.Equal(t, "SYSTEM_PROGRAM", tx.Source)
			assertDecimal(t, "0.000005", tx.Fee)
			assert.Empty(t, tx.PrimaryUser)
			assert.NotNil(t, tx.Actions)
			assert.Empty(t, tx.Actions)
			assert.NotNil(t, tx.Accounts)
			assert.Empty(t, tx.Accounts)
		})
	}
}

func TestParseSwap_Sources(t *testing.T) {
	raw := &RawTransaction{
		Type:   TypeSwap,
		Source: "JUPITER",
		TokenTransfers: []TokenTransfer{
			{FromUserAccount: alice, ToUserAccount: "pool", Mint: usdc, TokenAmount: decimal.RequireFromString("100")},
		},
		NativeTransfers: []NativeTransfer{
			{FromUserAccount: "pool", ToUserAccount: alice, Amount: 700_000_000},
		},
	}

	tx, err := parseSwap(testEnv(), raw, alice)
	require.NoError(t, err)
	assert.Equal(t, alice, tx.PrimaryUser)
	assertActions(t, []wantAction{
		{Type: ActionSent, From: alice, To: "pool", Sent: usdc, Amount: "100"},
	}, tx.Actions)

	raw.Source = "HADESWAP"
	tx, err = parseSwap(testEnv(), raw, alice)
	require.NoError(t, err)
	assertActions(t, []wantAction{
		{Type: ActionSent, From: alice, To: "pool", Sent: usdc, Amount: "100"},
		{Type: ActionReceived, From: "pool", To: alice, Received: NativeMint, Amount: "0.7"},
	}, tx.Actions)
}

func TestParseTokenMint_PrimaryUserIsPayer(t *testing.T) {
	raw := &RawTransaction{
		Type: TypeTokenMint,
		TokenTransfers: []TokenTransfer{
			{FromUserAccount: "", ToUserAccount: bob, Mint: usdc, TokenAmount: decimal.RequireFromString("1000")},
		},
		NativeTransfers: []NativeTransfer{
			{FromUserAccount: bob, ToUserAccount: "mintAuthority", Amount: 10_000_000},
		},
	}

	tx, err := parseTokenMint(testEnv(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, bob, tx.PrimaryUser)
	assertActions(t, []wantAction{
		{Type: ActionTransfer, From: "", To: bob, Sent: usdc, Amount: "1000"},
		{Type: ActionTransfer, From: bob, To: "mintAuthority", Sent: NativeMint, Amount: "0.01"},
	}, tx.Actions)
}

func TestParseBurn(t *testing.T) {
	raw := &RawTransaction{
		Type: TypeBurnNFT,
		TokenTransfers: []TokenTransfer{
			{FromUserAccount: alice, ToUserAccount: "", Mint: nft, TokenAmount: decimal.NewFromInt(1)},
			{FromUserAccount: alice, ToUserAccount: bob, Mint: usdc, TokenAmount: decimal.NewFromInt(2)},
			{FromUserAccount: carol, ToUserAccount: bob, Mint: usdc, TokenAmount: decimal.NewFromInt(3)},
		},
		NativeTransfers: []NativeTransfer{
			{FromUserAccount: "metadataAccount", ToUserAccount: alice, Amount: 5_616_720},
		},
	}

	t.Run("no viewer", func(t *testing.T) {
		tx, err := parseBurn(testEnv(), raw, "")
		require.NoError(t, err)
		assert.Equal(t, alice, tx.PrimaryUser)
		assertActions(t, []wantAction{
			{Type: ActionBurnNFT, From: alice, Sent: nft, Amount: "1"},
			{Type: ActionTransfer, From: alice, To: bob, Sent: usdc, Amount: "2"},
			{Type: ActionTransfer, From: carol, To: bob, Sent: usdc, Amount: "3"},
			{Type: ActionTransfer, From: "metadataAccount", To: alice, Sent: NativeMint, Amount: "0.00561672"},
		}, tx.Actions)
	})

	t.Run("viewer drops uninvolved legs", func(t *testing.T) {
		tx, err := parseBurn(testEnv(), raw, alice)
		require.NoError(t, err)
		assertActions(t, []wantAction{
			{Type: ActionBurnNFT, From: alice, Sent: nft, Amount: "1"},
			{Type: ActionSent, From: alice, To: bob, Sent: usdc, Amount: "2"},
			{Type: ActionReceived, From: "metadataAccount", To: alice, Received: NativeMint, Amount: "0.00561672"},
		}, tx.Actions)
	})

	t.Run("burn leg typed by declared type", func(t *testing.T) {
		fungible := *raw
		fungible.Type = TypeBurn
		tx, err := parseBurn(testEnv(), &fungible, bob)
		require.NoError(t, err)
		assertActions(t, []wantAction{
			{Type: ActionBurn, From: alice, Sent: nft, Amount: "1"},
			{Type: ActionReceived, From: alice, To: bob, Received: usdc, Amount: "2"},
			{Type: ActionReceived, From: carol, To: bob, Received: usdc, Amount: "3"},
			{Type: ActionTransfer, From: "metadataAccount", To: alice, Sent: NativeMint, Amount: "0.00561672"},
		}, tx.Actions)
	})
}

func TestParseUnknown(t *testing.T) {
	t.Run("token sender first", func(t *testing.T) {
		raw := &RawTransaction{
			Type:            TypeUnknown,
			TokenTransfers:  []TokenTransfer{{FromUserAccount: alice, ToUserAccount: bob, Mint: usdc, TokenAmount: decimal.NewFromInt(1)}},
			NativeTransfers: []NativeTransfer{{FromUserAccount: carol, ToUserAccount: bob, Amount: 10_000_000}},
		}
		tx, err := parseUnknown(testEnv(), raw, "")
		require.NoError(t, err)
		assert.Equal(t, alice, tx.PrimaryUser)
		assert.Len(t, tx.Actions, 2)
	})

	t.Run("falls back to native sender", func(t *testing.T) {
		raw := &RawTransaction{
			Type:            TypeUnknown,
			TokenTransfers:  []TokenTransfer{},
			NativeTransfers: []NativeTransfer{{FromUserAccount: carol, ToUserAccount: bob, Amount: 10_000_000}},
		}
		tx, err := parseUnknown(testEnv(), raw, "")
		require.NoError(t, err)
		assert.Equal(t, carol, tx.PrimaryUser)
	})
}

func TestParseUnknown_XNFT(t *testing.T) {
	tests := []struct {
		name     string
		accounts int
		want     TransactionType
	}{
		{name: "install", accounts: 6, want: TypeXNFTInstall},
		{name: "uninstall", accounts: 3, want: TypeXNFTUninstall},
		{name: "other layouts default to install", accounts: 4, want: TypeXNFTInstall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := &RawTransaction{
				Type:            TypeUnknown,
				TokenTransfers:  []TokenTransfer{},
				NativeTransfers: []NativeTransfer{{FromUserAccount: alice, ToUserAccount: "xnftAccount", Amount: 50_000_000}},
				AccountData:     []AccountData{{Account: alice, NativeBalanceChange: -50_000_000}},
				Instructions: []Instruction{{
					ProgramID: XNFTProgram,
					Accounts:  make([]string, tt.accounts),
				}},
			}

			tx, err := parseUnknown(testEnv(), raw, alice)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tx.Type)
			assert.Empty(t, tx.Actions)
			assert.Len(t, tx.Accounts, 1)
			assert.Equal(t, alice, tx.PrimaryUser)
		})
	}
}

func TestParseBorrowFox(t *testing.T) {
	foxy := "FoXyMu5xwXre7zEoSvzViRk3nGawHUp9kUh97y2NDhcq"
	raw := &RawTransaction{
		Type: TypeBorrowFox,
		TokenTransfers: []TokenTransfer{
			{FromUserAccount: "vault", ToUserAccount: alice, Mint: foxy, TokenAmount: decimal.NewFromInt(100)},
			{FromUserAccount: alice, ToUserAccount: "", Mint: foxy, TokenAmount: decimal.NewFromInt(5)},
			{FromUserAccount: alice, ToUserAccount: bob, Mint: foxy, TokenAmount: decimal.NewFromInt(7)},
		},
	}

	t.Run("no viewer", func(t *testing.T) {
		tx, err := parseBorrowFox(testEnv(), raw, "")
		require.NoError(t, err)
		assert.Equal(t, "vault", tx.PrimaryUser)
		assertActions(t, []wantAction{
			{Type: ActionTransfer, From: "vault", To: alice, Sent: foxy, Amount: "100"},
			{Type: ActionBurn, From: alice, Sent: foxy, Amount: "5"},
		}, tx.Actions)
	})

	t.Run("receiver", func(t *testing.T) {
		tx, err := parseBorrowFox(testEnv(), raw, alice)
		require.NoError(t, err)
		assertActions(t, []wantAction{
			{Type: ActionTransferReceived, From: "vault", To: alice, Received: foxy, Amount: "100"},
			{Type: ActionBurn, From: alice, Sent: foxy, Amount: "5"},
		}, tx.Actions)
	})

	t.Run("sender", func(t *testing.T) {
		tx, err := parseBorrowFox(testEnv(), raw, "vault")
		require.NoError(t, err)
		assert.Equal(t, ActionTransferSent, tx.Actions[0].ActionType)
		assert.Equal(t, foxy, tx.Actions[0].Sent)
	})

	t.Run("nil token transfers", func(t *testing.T) {
		tx, err := parseBorrowFox(testEnv(), &RawTransaction{Type: TypeBorrowFox}, alice)
		require.NoError(t, err)
		assert.Empty(t, tx.Actions)
		assert.Empty(t, tx.PrimaryUser)
	})
}

func TestParseLoanFox(t *testing.T) {
	records := make([]AccountData, 9)
	for i := range records {
		records[i] = AccountData{Account: string(rune('a' + i))}
	}
	records[0] = AccountData{Account: alice, NativeBalanceChange: -5000}
	records[8] = AccountData{Account: "frozenNftAccount"}

	tx, err := parseLoanFox(testEnv(), &RawTransaction{Type: TypeLoanFox, AccountData: records}, "")
	require.NoError(t, err)
	assert.Equal(t, alice, tx.PrimaryUser)
	assertActions(t, []wantAction{
		{Type: ActionFreeze, From: alice, Sent: "frozenNftAccount", Amount: "0"},
	}, tx.Actions)
	assert.Len(t, tx.Accounts, 1)

	short, err := parseLoanFox(testEnv(), &RawTransaction{Type: TypeLoanFox, AccountData: records[:2]}, "")
	require.NoError(t, err)
	assertActions(t, []wantAction{{Type: ActionFreeze, From: alice, Amount: "0"}}, short.Actions)

	empty, err := parseLoanFox(testEnv(), &RawTransaction{Type: TypeLoanFox}, "")
	require.NoError(t, err)
	assert.Empty(t, empty.Actions)
}
