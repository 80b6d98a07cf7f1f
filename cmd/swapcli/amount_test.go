package main

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTokenAmountAcceptsSatoshis(t *testing.T) {
	amount, err := normalizeTokenAmount("50000")
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50_000), amount)
}

func TestNormalizeTokenAmountAcceptsDecimalBTC(t *testing.T) {
	amount, err := normalizeTokenAmount("0.0005")
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50_000), amount)
}

func TestNormalizeTokenAmountRejectsGarbage(t *testing.T) {
	_, err := normalizeTokenAmount("not-an-amount")
	require.Error(t, err)

	_, err = normalizeTokenAmount("")
	require.Error(t, err)
}

func TestFormatTokenAmountRoundTripsThroughNormalize(t *testing.T) {
	for _, amount := range []btcutil.Amount{
		0, 1, 546, 50_000, 100_000_000, 2_100_000_000_000_000,
	} {
		formatted := formatTokenAmount(amount)

		parsed, err := normalizeTokenAmount(formatted)
		require.NoError(t, err)
		require.Equal(t, amount, parsed,
			"round trip through %q changed the amount", formatted)
	}
}
