package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// formatTokenAmount renders a satoshi amount the way swapcli's operator
// wants to read one back: a fixed 8-decimal BTC string rather than a bare
// integer, matching btcutil.Amount's own String() precision.
func formatTokenAmount(amount btcutil.Amount) string {
	return strconv.FormatFloat(amount.ToBTC(), 'f', 8, 64)
}

// normalizeTokenAmount parses an onchain_amount argument, accepting either
// a raw satoshi integer or a decimal BTC string (as formatTokenAmount
// produces), so an operator can paste back a value swapcli itself printed.
func normalizeTokenAmount(s string) (btcutil.Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	if !strings.Contains(s, ".") {
		sats, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing satoshi amount: %w", err)
		}

		return btcutil.Amount(sats), nil
	}

	btc, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing btc amount: %w", err)
	}

	return btcutil.NewAmount(btc)
}
