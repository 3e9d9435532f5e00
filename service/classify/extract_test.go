package classify

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestExtractNativeTransfers_RentFilter(t *testing.T) {
	actions := ExtractNativeTransfers([]NativeTransfer{
		{FromUserAccount: alice, ToUserAccount: bob, Amount: 4_120_320},
		{FromUserAccount: alice, ToUserAccount: bob, Amount: 4_120_321},
	}, "", DefaultOptions())

	assertActions(t, []wantAction{
		{Type: ActionTransfer, From: alice, To: bob, Sent: NativeMint, Amount: "0.004120321"},
	}, actions)
}

func TestExtractNativeTransfers_ConfigurableThreshold(t *testing.T) {
	transfers := []NativeTransfer{{FromUserAccount: alice, ToUserAccount: bob, Amount: 2_000_000}}

	assert.Empty(t, ExtractNativeTransfers(transfers, "", DefaultOptions()))
	assert.Len(t, ExtractNativeTransfers(transfers, "", Options{RentThreshold: 1_000_000}), 1)
	assert.Len(t, ExtractNativeTransfers(transfers, "", Options{RentThreshold: -1}), 1)
}

func TestExtractNativeTransfers_Perspective(t *testing.T) {
	transfers := []NativeTransfer{{FromUserAccount: alice, ToUserAccount: bob, Amount: 1_000_000_000}}

	tests := []struct {
		name   string
		viewer string
		want   wantAction
	}{
		{name: "no viewer", viewer: "", want: wantAction{Type: ActionTransfer, From: alice, To: bob, Sent: NativeMint, Amount: "1"}},
		{name: "sender", viewer: alice, want: wantAction{Type: ActionSent, From: alice, To: bob, Sent: NativeMint, Amount: "1"}},
		{name: "receiver", viewer: bob, want: wantAction{Type: ActionReceived, From: alice, To: bob, Received: NativeMint, Amount: "1"}},
		{name: "uninvolved", viewer: carol, want: wantAction{Type: ActionTransfer, From: alice, To: bob, Sent: NativeMint, Amount: "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertActions(t, []wantAction{tt.want}, ExtractNativeTransfers(transfers, tt.viewer, DefaultOptions()))
		})
	}
}

func TestExtractTokenTransfers_Perspective(t *testing.T) {
	transfers := []TokenTransfer{{
		FromUserAccount: alice,
		ToUserAccount:   bob,
		Mint:            usdc,
		TokenAmount:     decimal.RequireFromString("5"),
	}}

	tests := []struct {
		name   string
		viewer string
		want   wantAction
	}{
		{name: "no viewer", viewer: "", want: wantAction{Type: ActionTransfer, From: alice, To: bob, Sent: usdc, Amount: "5"}},
		{name: "sender", viewer: alice, want: wantAction{Type: ActionSent, From: alice, To: bob, Sent: usdc, Amount: "5"}},
		{name: "receiver", viewer: bob, want: wantAction{Type: ActionReceived, From: alice, To: bob, Received: usdc, Amount: "5"}},
		{name: "uninvolved", viewer: carol, want: wantAction{Type: ActionTransfer, From: alice, To: bob, Sent: usdc, Amount: "5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertActions(t, []wantAction{tt.want}, ExtractTokenTransfers(transfers, tt.viewer))
		})
	}
}

func TestExtractTokenTransfers_Empty(t *testing.T) {
	assert.Empty(t, ExtractTokenTransfers(nil, alice))
	assert.Empty(t, ExtractNativeTransfers(nil, alice, DefaultOptions()))
}

func TestOptions_ToNative(t *testing.T) {
	assertDecimal(t, "0.000005", DefaultOptions().ToNative(5000))
	assertDecimal(t, "1", Options{}.ToNative(1_000_000_000))
	assertDecimal(t, "0.5", Options{BaseUnitsPerNative: 10}.ToNative(5))
}
